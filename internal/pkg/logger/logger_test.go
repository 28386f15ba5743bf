package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLine(t *testing.T, fn func()) map[string]string {
	t.Helper()
	var buf bytes.Buffer
	prev := SetOutput(&buf)
	t.Cleanup(func() { SetOutput(prev) })

	fn()

	var entry map[string]string
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	return entry
}

func TestInfo_StructuredFields(t *testing.T) {
	entry := captureLine(t, func() {
		Info("step dispatched", "execution_id", "e-1", "attempt", 2, "err", errors.New("boom"))
	})
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "step dispatched", entry["msg"])
	assert.Equal(t, "e-1", entry["execution_id"])
	assert.Equal(t, "2", entry["attempt"])
	assert.Equal(t, "boom", entry["err"])
}

func TestRedaction(t *testing.T) {
	entry := captureLine(t, func() {
		Warn("send failed", "email", "john.doe@example.com", "phone", "+1 (555) 123-4567",
			"detail", "bounce from jane@example.org")
	})
	assert.Equal(t, "jo***@example.com", entry["email"])
	assert.Equal(t, "***4567", entry["phone"])
	assert.Equal(t, "bounce from ja***@example.org", entry["detail"])
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	prev := SetOutput(&buf)
	defer SetOutput(prev)
	SetLevel(WARN)
	defer SetLevel(INFO)

	Info("hidden")
	Debug("hidden")
	assert.Zero(t, buf.Len())

	Error("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel(" WARNING "))
	assert.Equal(t, ERROR, ParseLevel("error"))
	assert.Equal(t, INFO, ParseLevel("verbose"))
}

func TestRedactEmailAndPhone(t *testing.T) {
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-email"))
	assert.Equal(t, "***", RedactPhone("123"))
	assert.Equal(t, "***0000", RedactPhone("555-000-0000"))
}
