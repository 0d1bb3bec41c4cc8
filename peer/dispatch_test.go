package peer

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/flashchain/paychan/chantypes"
	"github.com/flashchain/paychan/crypto"
	"github.com/flashchain/paychan/wire"
)

type fakeKeys struct {
	keys map[chantypes.Address]*btcec.PublicKey
}

func (f *fakeKeys) PublicKey(addr chantypes.Address) (*btcec.PublicKey, bool) {
	k, ok := f.keys[addr]
	return k, ok
}

func newSignedMessage(t *testing.T, priv *btcec.PrivateKey, sender chantypes.Address, kind wire.Kind, payload []byte) *wire.NetworkMessage {
	t.Helper()
	msg := &wire.NetworkMessage{Kind: kind, Sender: sender, Payload: payload}
	msg.Signature = crypto.Sign(priv, wire.SignedBody(msg))
	return msg
}

func TestDispatchRoutesVerifiedMessage(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	sender := crypto.DeriveAddress(priv.PubKey())

	keys := &fakeKeys{keys: map[chantypes.Address]*btcec.PublicKey{sender: priv.PubKey()}}

	var got []byte
	d := NewDispatcher(keys, Handlers{
		OnHeartbeat: func(s chantypes.Address, payload []byte) error {
			require.Equal(t, sender, s)
			got = payload
			return nil
		},
	})

	m := New(1, 0b1)
	msg := newSignedMessage(t, priv, sender, wire.KindHeartbeat, []byte("ping"))

	require.NoError(t, d.Dispatch(m, msg, time.Now()))
	require.Equal(t, []byte("ping"), got)
}

func TestDispatchRejectsBadSignature(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	sender := crypto.DeriveAddress(priv.PubKey())
	keys := &fakeKeys{keys: map[chantypes.Address]*btcec.PublicKey{sender: priv.PubKey()}}

	d := NewDispatcher(keys, Handlers{OnHeartbeat: func(chantypes.Address, []byte) error { return nil }})
	m := New(1, 0b1)

	msg := &wire.NetworkMessage{Kind: wire.KindHeartbeat, Sender: sender, Payload: []byte("ping"), Signature: []byte{1, 2, 3}}
	err = d.Dispatch(m, msg, time.Now())
	require.ErrorIs(t, err, ErrUnverified)
}

func TestDispatchRejectsBannedSender(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	sender := crypto.DeriveAddress(priv.PubKey())
	keys := &fakeKeys{keys: map[chantypes.Address]*btcec.PublicKey{sender: priv.PubKey()}}

	d := NewDispatcher(keys, Handlers{})
	m := New(1, 0b1)
	now := time.Now()
	m.Ban(sender, "spam", time.Hour, now)

	msg := newSignedMessage(t, priv, sender, wire.KindHeartbeat, []byte("ping"))
	err = d.Dispatch(m, msg, now.Add(time.Minute))
	require.ErrorIs(t, err, ErrBanned)
}

func TestDispatchRejectsMissingHandler(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	sender := crypto.DeriveAddress(priv.PubKey())
	keys := &fakeKeys{keys: map[chantypes.Address]*btcec.PublicKey{sender: priv.PubKey()}}

	d := NewDispatcher(keys, Handlers{})
	m := New(1, 0b1)

	msg := newSignedMessage(t, priv, sender, wire.KindChannelOpen, []byte("open"))
	err = d.Dispatch(m, msg, time.Now())
	require.ErrorIs(t, err, ErrNoHandler)
}
