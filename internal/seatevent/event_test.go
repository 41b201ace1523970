package seatevent

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeHeld(t *testing.T) {
	exp := time.Date(2026, 4, 2, 19, 30, 0, 0, time.UTC)
	raw, err := json.Marshal(SeatHeld{ScreeningID: 42, SeatID: 1, SessionID: "a", ExpiresAt: exp})
	require.NoError(t, err)
	assert.JSONEq(t, `{"screeningId":42,"seatId":1,"sessionId":"a","expiresAt":"2026-04-02T19:30:00Z"}`, string(raw))

	ev, err := Decode(7, TypeHeld, raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), ev.ID)
	held, ok := ev.Data.(SeatHeld)
	require.True(t, ok)
	assert.True(t, exp.Equal(held.ExpiresAt))
}

func TestDecodeUnknownTypeKeepsRaw(t *testing.T) {
	ev, err := Decode(1, "seat:teleported", []byte(`{"x":1}`))
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`{"x":1}`), ev.Data)
}

func TestDecodeBadPayload(t *testing.T) {
	_, err := Decode(1, TypeBooked, []byte(`{"seatIds":"nope"}`))
	assert.Error(t, err)
}
