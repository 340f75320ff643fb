package wire_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/leighmacdonald/gbans-sub003/pkg/wire"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := wire.New(wire.OpJoinQueue, wire.JoinQueuePayload{Servers: []int{1, 2}})
	require.NoError(t, err)

	data, err := env.Encode()
	require.NoError(t, err)

	decoded, err := wire.Decode(data)
	require.NoError(t, err)
	require.Equal(t, wire.OpJoinQueue, decoded.Op)

	var payload wire.JoinQueuePayload
	require.NoError(t, decoded.DecodePayload(&payload))
	require.Equal(t, []int{1, 2}, payload.Servers)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	_, err := wire.Decode([]byte(`{"op":`))
	require.Error(t, err)
}

func TestUnknownOpIsNotKnown(t *testing.T) {
	require.False(t, wire.Op("Teleport").Known())
	require.False(t, wire.Op("").Known())
	require.True(t, wire.OpChatStatusChange.Known())
}

func TestDecodePayloadEmptyIsNoop(t *testing.T) {
	env := wire.Envelope{Op: wire.OpBye}

	var payload wire.JoinQueuePayload
	require.NoError(t, env.DecodePayload(&payload))
	require.Nil(t, payload.Servers)
}

// The notification form of ChatStatusChange must not leak a target field.
func TestChatStatusChangeOmitsEmptyTarget(t *testing.T) {
	env := wire.MustNew(wire.OpChatStatusChange, wire.ChatStatusChangePayload{
		Status: wire.StatusReadonly,
		Reason: "spam",
	})

	var generic map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(env.Payload, &generic))
	require.NotContains(t, generic, "steam_id")
	require.Contains(t, generic, "status")
}

func TestByeCarriesNoPayload(t *testing.T) {
	env := wire.MustNew(wire.OpBye, nil)
	data, err := env.Encode()
	require.NoError(t, err)
	require.JSONEq(t, `{"op":"Bye"}`, string(data))
}
