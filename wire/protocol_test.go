package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flashchain/paychan/chantypes"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var chanID chantypes.Hash
	chanID[0] = 0xAB
	var sender chantypes.Address
	sender[0] = 0x01

	msg := &NetworkMessage{
		Kind:      KindChannelUpdate,
		ChannelID: chanID,
		Sender:    sender,
		Payload:   []byte("state-update-payload"),
		Signature: []byte{0xde, 0xad, 0xbe, 0xef},
	}

	encoded, err := Encode(msg)
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, msg.Kind, decoded.Kind)
	require.Equal(t, msg.ChannelID, decoded.ChannelID)
	require.Equal(t, msg.Sender, decoded.Sender)
	require.Equal(t, msg.Payload, decoded.Payload)
	require.Equal(t, msg.Signature, decoded.Signature)
}

func TestDecodeRejectsTruncatedPayload(t *testing.T) {
	msg := &NetworkMessage{Kind: KindHeartbeat, Payload: []byte("hi")}
	encoded, err := Encode(msg)
	require.NoError(t, err)

	_, err = Decode(encoded[:len(encoded)-5])
	require.Error(t, err)
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	msg := &NetworkMessage{Kind: KindHeartbeat, Payload: make([]byte, MaxPayloadSize+1)}
	_, err := Encode(msg)
	require.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	msg := &NetworkMessage{Kind: KindChannelOpen, Payload: []byte("open")}

	require.NoError(t, WriteFrame(&buf, msg))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, msg.Kind, got.Kind)
	require.Equal(t, msg.Payload, got.Payload)
}

func TestSignedBodyExcludesSignature(t *testing.T) {
	msg := &NetworkMessage{Kind: KindHeartbeat, Payload: []byte("x")}
	body := SignedBody(msg)

	msg.Signature = []byte{1, 2, 3}
	bodyAfterSig := SignedBody(msg)

	require.Equal(t, body, bodyAfterSig, "signature must never be part of the signed body")
}

func TestKindString(t *testing.T) {
	require.Equal(t, "channel_open", KindChannelOpen.String())
	require.Equal(t, "heartbeat", KindHeartbeat.String())
	require.Equal(t, "unknown", Kind(99).String())
}
