package logging

import (
	"bytes"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel("Error"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("verbose"))
}

func TestComponent_TagsEntries(t *testing.T) {
	var buf bytes.Buffer
	root := NewWithWriter(&buf, "info")

	arrears := Component(root, "arrears")
	arrears.Info().Str(MEMBER, "m-1").Msg("suspended")
	arrears.Debug().Msg("filtered out")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "arrears", entry[COMPONENT])
	assert.Equal(t, "m-1", entry[MEMBER])
	assert.Equal(t, "suspended", entry["message"])
	assert.Contains(t, entry, "time")
}
