package crypto

import "github.com/btcsuite/btclog"

// log is the package-level logger, disabled until UseLogger is called by
// the process wiring this module into an application.
var log btclog.Logger

func init() {
	DisableLog()
}

// DisableLog disables all library log output.
func DisableLog() {
	log = btclog.Disabled
}

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger btclog.Logger) {
	log = logger
}
