// Package crypto provides the cryptographic primitives shared by every
// channel-network component: Keccak-256 hashing, secp256k1 ECDSA
// sign/verify, address derivation, canonical state encoding, and
// multi-participant signature-set verification.
//
// secp256k1 (github.com/btcsuite/btcd/btcec/v2) and Keccak-256
// (golang.org/x/crypto/sha3) are used throughout, matching the wire format
// the rest of the network signs over.
package crypto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	ecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"golang.org/x/crypto/sha3"

	"github.com/flashchain/paychan/chantypes"
)

// domainSeparator is prepended to every message before hashing and signing,
// so a signature produced for this network can never be replayed against a
// different signing domain. Fixed per spec: keccak256("flashchain-channel-v1").
var domainSeparator = Hash([]byte("flashchain-channel-v1"))

// Hash returns the Keccak-256 digest of data.
func Hash(data []byte) chantypes.Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	var out chantypes.Hash
	h.Sum(out[:0])
	return out
}

// domainHash hashes msg with the network's domain separator prepended, the
// message actually signed and verified everywhere in this package.
func domainHash(msg []byte) chantypes.Hash {
	buf := make([]byte, 0, len(domainSeparator)+len(msg))
	buf = append(buf, domainSeparator[:]...)
	buf = append(buf, msg...)
	return Hash(buf)
}

// DeriveAddress computes the 20-byte account address for an uncompressed
// secp256k1 public key: the low 20 bytes of Keccak-256 of the 64-byte
// X||Y encoding (the 0x04 prefix byte is not hashed).
func DeriveAddress(pub *btcec.PublicKey) chantypes.Address {
	uncompressed := pub.SerializeUncompressed() // 0x04 || X(32) || Y(32)
	digest := Hash(uncompressed[1:])
	var addr chantypes.Address
	copy(addr[:], digest[len(digest)-len(addr):])
	return addr
}

// Sign signs msg (after domain separation) with priv, returning a DER
// encoded ECDSA signature.
func Sign(priv *btcec.PrivateKey, msg []byte) []byte {
	h := domainHash(msg)
	sig := ecdsa.Sign(priv, h[:])
	return sig.Serialize()
}

// Verify checks that sig is a valid domain-separated ECDSA signature over
// msg by the holder of pub, and that pub derives to addr. Returns false
// (never an error) on any malformed input, per the fail-closed contract
// signature verification must have everywhere it gates a state transition.
func Verify(addr chantypes.Address, pub *btcec.PublicKey, msg, sig []byte) bool {
	if pub == nil {
		return false
	}
	if DeriveAddress(pub) != addr {
		return false
	}
	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	h := domainHash(msg)
	return parsed.Verify(h[:], pub)
}

// Signatures is a per-participant signature set gathered over one message
// (normally a new_state_hash), keyed by signer address.
type Signatures map[chantypes.Address][]byte

// ErrMissingSignature is returned by AggregateSignatures when a required
// participant has not signed.
var ErrMissingSignature = errors.New("crypto: missing signature for required participant")

// ErrInvalidSignature is returned by AggregateSignatures when a supplied
// signature fails to verify.
var ErrInvalidSignature = errors.New("crypto: signature verification failed")

// AggregateSignatures validates that every address in required has a valid
// signature in sigs over msg, given each participant's public key in
// pubkeys. It fails closed: any missing or invalid signature aborts the
// whole set: a missing or invalid signature from any required participant
// rejects the set rather than tolerating a partial quorum.
func AggregateSignatures(sigs Signatures, pubkeys map[chantypes.Address]*btcec.PublicKey, required []chantypes.Address, msg []byte) error {
	for _, addr := range required {
		sig, ok := sigs[addr]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingSignature, addr)
		}
		pub, ok := pubkeys[addr]
		if !ok {
			return fmt.Errorf("%w: no public key on file for %s", ErrMissingSignature, addr)
		}
		if !Verify(addr, pub, msg, sig) {
			return fmt.Errorf("%w: signer %s", ErrInvalidSignature, addr)
		}
	}
	return nil
}

// EncodedBalance is one participant's balance entry as it appears in the
// canonical state encoding.
type EncodedBalance struct {
	Addr   chantypes.Address
	Free   *big.Int
	Locked *big.Int
}

// EncodedHTLC is one HTLC entry as it appears in the canonical state
// encoding.
type EncodedHTLC struct {
	ID        chantypes.Hash
	Amount    *big.Int
	HashLock  chantypes.Hash
	Timeout   uint64
	Sender    chantypes.Address
	Receiver  chantypes.Address
	StatusNum uint8
}

// EncodeState produces the bit-exact canonical byte encoding of a channel
// state:
//
//	seq(u64 BE) ‖
//	for each (addr, balance) sorted ascending by addr:
//	    addr(20) ‖ free_u256_be(32) ‖ locked_u256_be(32)
//	for each htlc sorted ascending by id:
//	    id(32) ‖ amount_u256_be(32) ‖ hash_lock(32) ‖ timeout_u64_be(8) ‖
//	    sender(20) ‖ receiver(20) ‖ status_u8
func EncodeState(sequence uint64, balances []EncodedBalance, htlcs []EncodedHTLC) []byte {
	sortedBalances := make([]EncodedBalance, len(balances))
	copy(sortedBalances, balances)
	sort.Slice(sortedBalances, func(i, j int) bool {
		return addrLess(sortedBalances[i].Addr, sortedBalances[j].Addr)
	})

	sortedHTLCs := make([]EncodedHTLC, len(htlcs))
	copy(sortedHTLCs, htlcs)
	sort.Slice(sortedHTLCs, func(i, j int) bool {
		return hashLess(sortedHTLCs[i].ID, sortedHTLCs[j].ID)
	})

	buf := make([]byte, 0, 8+len(sortedBalances)*(20+32+32)+len(sortedHTLCs)*(32+32+32+8+20+20+1))

	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], sequence)
	buf = append(buf, seqBytes[:]...)

	for _, b := range sortedBalances {
		buf = append(buf, b.Addr[:]...)
		buf = append(buf, u256BE(b.Free)...)
		buf = append(buf, u256BE(b.Locked)...)
	}

	for _, h := range sortedHTLCs {
		buf = append(buf, h.ID[:]...)
		buf = append(buf, u256BE(h.Amount)...)
		buf = append(buf, h.HashLock[:]...)
		var timeoutBytes [8]byte
		binary.BigEndian.PutUint64(timeoutBytes[:], h.Timeout)
		buf = append(buf, timeoutBytes[:]...)
		buf = append(buf, h.Sender[:]...)
		buf = append(buf, h.Receiver[:]...)
		buf = append(buf, h.StatusNum)
	}

	return buf
}

// StateHash hashes the canonical encoding of a state.
func StateHash(sequence uint64, balances []EncodedBalance, htlcs []EncodedHTLC) chantypes.Hash {
	return Hash(EncodeState(sequence, balances, htlcs))
}

// ChannelID derives a channel id from its sorted participant set, shard id,
// and capacity: keccak256(sorted_participants ‖ shard_id ‖ capacity).
func ChannelID(participants []chantypes.Address, shardID uint32, capacity *big.Int) chantypes.Hash {
	sorted := make([]chantypes.Address, len(participants))
	copy(sorted, participants)
	sort.Slice(sorted, func(i, j int) bool { return addrLess(sorted[i], sorted[j]) })

	buf := make([]byte, 0, len(sorted)*20+4+32)
	for _, a := range sorted {
		buf = append(buf, a[:]...)
	}
	var shardBytes [4]byte
	binary.BigEndian.PutUint32(shardBytes[:], shardID)
	buf = append(buf, shardBytes[:]...)
	buf = append(buf, u256BE(capacity)...)
	return Hash(buf)
}

// HTLCID derives an HTLC id deterministically:
// keccak256(sender ‖ receiver ‖ amount_be ‖ hash_lock).
func HTLCID(sender, receiver chantypes.Address, amount *big.Int, hashLock chantypes.Hash) chantypes.Hash {
	buf := make([]byte, 0, 20+20+32+32)
	buf = append(buf, sender[:]...)
	buf = append(buf, receiver[:]...)
	buf = append(buf, u256BE(amount)...)
	buf = append(buf, hashLock[:]...)
	return Hash(buf)
}

// VerifyPreimage reports whether keccak256(preimage) == hashLock.
func VerifyPreimage(hashLock chantypes.Hash, preimage []byte) bool {
	return Hash(preimage) == hashLock
}

func addrLess(a, b chantypes.Address) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func hashLess(a, b chantypes.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// u256BE encodes v as a 32-byte big-endian unsigned integer. A nil v
// encodes as zero.
func u256BE(v *big.Int) []byte {
	out := make([]byte, 32)
	if v == nil {
		return out
	}
	b := v.Bytes()
	if len(b) > 32 {
		b = b[len(b)-32:]
	}
	copy(out[32-len(b):], b)
	return out
}
