// Package chantypes holds the identifiers and enums shared across the
// channel network components (crypto, channel, storage, statemgr, routing,
// bridge, peer). Keeping them in one leaf package lets every component
// reference a channel, HTLC, or payment by id instead of holding a pointer
// into another component's state, which is how the cross-component cycles
// described for this network are broken.
package chantypes

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Hash is a 32-byte fingerprint: a state hash, payment hash, channel id, or
// HTLC id. All such values are Keccak-256 digests (see package crypto); the
// underlying array type is reused from chainhash purely for its
// String/CloneBytes ergonomics.
type Hash = chainhash.Hash

// ZeroHash is the all-zero Hash value.
var ZeroHash Hash

// Address is a 20-byte account identifier, the low 20 bytes of
// Keccak-256(uncompressed pubkey).
type Address [20]byte

// String renders the address as 0x-prefixed hex.
func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// Bytes returns a copy of the address as a byte slice.
func (a Address) Bytes() []byte {
	b := make([]byte, len(a))
	copy(b, a[:])
	return b
}

// MarshalText implements encoding.TextMarshaler, letting Address be used
// directly as a JSON object key or string value.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	s := strings.TrimPrefix(string(text), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("chantypes: invalid address hex %q: %w", text, err)
	}
	decoded, err := AddressFromBytes(b)
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

// IsZero reports whether the address is the all-zero value.
func (a Address) IsZero() bool {
	return a == Address{}
}

// AddressFromBytes builds an Address from a byte slice, which must be
// exactly 20 bytes long.
func AddressFromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != len(a) {
		return a, fmt.Errorf("chantypes: address must be %d bytes, got %d", len(a), len(b))
	}
	copy(a[:], b)
	return a, nil
}

// ChannelStatus is the lifecycle state of a Channel.
type ChannelStatus uint8

const (
	ChannelInitializing ChannelStatus = iota
	ChannelActive
	ChannelClosing
	ChannelDisputed
	ChannelClosed
)

func (s ChannelStatus) String() string {
	switch s {
	case ChannelInitializing:
		return "initializing"
	case ChannelActive:
		return "active"
	case ChannelClosing:
		return "closing"
	case ChannelDisputed:
		return "disputed"
	case ChannelClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// HTLCStatus is the lifecycle state of a hash-time-locked contract.
type HTLCStatus uint8

const (
	HTLCPending HTLCStatus = iota
	HTLCFulfilled
	HTLCFailed
	HTLCExpired
)

func (s HTLCStatus) String() string {
	switch s {
	case HTLCPending:
		return "pending"
	case HTLCFulfilled:
		return "fulfilled"
	case HTLCFailed:
		return "failed"
	case HTLCExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// PaymentStatus is the lifecycle state of a multi-hop payment.
type PaymentStatus uint8

const (
	PaymentPending PaymentStatus = iota
	PaymentInFlight
	PaymentSuccess
	PaymentFailed
	PaymentTimedOut
)

func (s PaymentStatus) String() string {
	switch s {
	case PaymentPending:
		return "pending"
	case PaymentInFlight:
		return "in_flight"
	case PaymentSuccess:
		return "success"
	case PaymentFailed:
		return "failed"
	case PaymentTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// PeerStatus is the lifecycle state of a network peer.
type PeerStatus uint8

const (
	PeerHandshaking PeerStatus = iota
	PeerConnected
	PeerDisconnected
	PeerBanned
	PeerTimeout
)

func (s PeerStatus) String() string {
	switch s {
	case PeerHandshaking:
		return "handshaking"
	case PeerConnected:
		return "connected"
	case PeerDisconnected:
		return "disconnected"
	case PeerBanned:
		return "banned"
	case PeerTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// TxStatus is the lifecycle state of a bridge-submitted on-chain
// transaction.
type TxStatus uint8

const (
	TxPending TxStatus = iota
	TxConfirmed
	TxFailed
)

func (s TxStatus) String() string {
	switch s {
	case TxPending:
		return "pending"
	case TxConfirmed:
		return "confirmed"
	case TxFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrorKind classifies failures so callers can decide whether to retry,
// surface, or quarantine without type-switching on concrete error values.
type ErrorKind uint8

const (
	KindValidation ErrorKind = iota
	KindStateConflict
	KindCrypto
	KindPersistence
	KindNetwork
	KindTimeout
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindStateConflict:
		return "state_conflict"
	case KindCrypto:
		return "crypto"
	case KindPersistence:
		return "persistence"
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// KindedError pairs an ErrorKind with an underlying error, letting callers
// branch on Kind() while errors.Is/errors.Unwrap keep working on Err.
type KindedError struct {
	Kind ErrorKind
	Err  error
}

func (e *KindedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *KindedError) Unwrap() error { return e.Err }

// NewError wraps err with a classification.
func NewError(kind ErrorKind, err error) *KindedError {
	return &KindedError{Kind: kind, Err: err}
}

// NewErrorf builds a KindedError from a format string, in the manner of
// fmt.Errorf.
func NewErrorf(kind ErrorKind, format string, args ...interface{}) *KindedError {
	return &KindedError{Kind: kind, Err: fmt.Errorf(format, args...)}
}
