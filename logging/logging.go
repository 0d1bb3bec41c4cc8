// Package logging wires up the per-package btclog.Logger subsystems
// (crypto, channel, statemgr, routing, bridge, peer) against a single
// rotating-file-plus-stdout backend.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"

	"github.com/flashchain/paychan/bridge"
	"github.com/flashchain/paychan/channel"
	"github.com/flashchain/paychan/crypto"
	"github.com/flashchain/paychan/peer"
	"github.com/flashchain/paychan/routing"
	"github.com/flashchain/paychan/statemgr"
)

// maxRollFiles caps how many rotated log files are kept around before the
// oldest is deleted.
const maxRollFiles = 10

// Backend owns the rotating log file and the btclog.Backend built on top
// of it; Close must be called at shutdown to flush and release the file.
type Backend struct {
	backend *btclog.Backend
	rotator *rotator.Rotator
}

type logWriter struct {
	rotator *rotator.Rotator
}

func (w logWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	return w.rotator.Write(p)
}

// New opens (creating if absent) a rotating log file at
// filepath.Join(logDir, logFilename) and builds a Backend writing to both
// stdout and that file.
func New(logDir, logFilename string) (*Backend, error) {
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		return nil, fmt.Errorf("logging: create log directory %s: %w", logDir, err)
	}
	r, err := rotator.New(filepath.Join(logDir, logFilename), 10*1024, false, maxRollFiles)
	if err != nil {
		return nil, fmt.Errorf("logging: init log rotator: %w", err)
	}
	backend := btclog.NewBackend(logWriter{rotator: r})
	return &Backend{backend: backend, rotator: r}, nil
}

// Close flushes and releases the underlying log file.
func (b *Backend) Close() error {
	return b.rotator.Close()
}

// Logger returns (creating if necessary) the btclog.Logger for tag.
func (b *Backend) Logger(tag string) btclog.Logger {
	return b.backend.Logger(tag)
}

// UseSubsystems installs this Backend's loggers into every component
// package (crypto, channel, statemgr, routing, bridge, peer) at their
// respective subsystem tags, and sets every one to level.
func (b *Backend) UseSubsystems(level btclog.Level) {
	cryptoLog := b.Logger("CRYP")
	cryptoLog.SetLevel(level)
	crypto.UseLogger(cryptoLog)

	channelLog := b.Logger("CHAN")
	channelLog.SetLevel(level)
	channel.UseLogger(channelLog)

	statemgrLog := b.Logger("STMG")
	statemgrLog.SetLevel(level)
	statemgr.UseLogger(statemgrLog)

	routingLog := b.Logger("ROUT")
	routingLog.SetLevel(level)
	routing.UseLogger(routingLog)

	bridgeLog := b.Logger("BRDG")
	bridgeLog.SetLevel(level)
	bridge.UseLogger(bridgeLog)

	peerLog := b.Logger("PEER")
	peerLog.SetLevel(level)
	peer.UseLogger(peerLog)
}

// SetLogLevels parses a bare level name (e.g. "debug", "info") and applies
// it to every known subsystem, the way a --debuglevel flag would pass one
// down from a CLI front-end; an unrecognized level reports an error rather
// than silently no-op'ing.
func (b *Backend) SetLogLevels(spec string) error {
	level, ok := btclog.LevelFromString(spec)
	if ok {
		b.UseSubsystems(level)
		return nil
	}
	return fmt.Errorf("logging: %q is not a recognized log level", spec)
}

var _ io.Writer = logWriter{}
