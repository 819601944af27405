package pgnotify

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vedran77/nebula/internal/realtime"
)

func TestDecodeInsert(t *testing.T) {
	payload := `{"table":"messages","type":"INSERT",
		"record":{"id":"0b9f6f4e-1f7c-4d55-9a37-2d3f7f6f0c11","conversation_id":"c1"},
		"old_record":null,"commit_timestamp":"2026-03-01T12:00:00.123456+00:00"}`

	c, err := Decode([]byte(payload))
	require.NoError(t, err)
	require.Equal(t, "messages", c.Table)
	require.Equal(t, realtime.EventInsert, c.Type)
	require.Nil(t, c.OldRecord)

	id, err := c.RowID()
	require.NoError(t, err)
	require.Equal(t, "0b9f6f4e-1f7c-4d55-9a37-2d3f7f6f0c11", id)

	f := realtime.Filter{Table: "messages", Event: realtime.EventInsert, Column: "conversation_id", Value: "c1"}
	require.True(t, f.Matches(c))
}

func TestDecodeDelete(t *testing.T) {
	payload := `{"table":"messages","type":"DELETE","record":null,
		"old_record":{"id":"a"},"commit_timestamp":"2026-03-01T12:00:00Z"}`

	c, err := Decode([]byte(payload))
	require.NoError(t, err)
	require.Nil(t, c.Record)

	id, err := c.RowID()
	require.NoError(t, err)
	require.Equal(t, "a", id)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte(`{"type":"INSERT"}`))
	require.Error(t, err)

	_, err = Decode([]byte(`not json`))
	require.Error(t, err)
}
