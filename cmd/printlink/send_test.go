package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPayload(t *testing.T) {
	t.Cleanup(resetSendFlags)

	t.Run("raw argument", func(t *testing.T) {
		resetSendFlags()
		payload, err := buildPayload(`  {"type":"status"} `, nil)
		require.NoError(t, err)
		assert.Equal(t, `{"type":"status"}`, string(payload), "payload MUST be trimmed")
	})

	t.Run("typed command", func(t *testing.T) {
		resetSendFlags()
		sendType, sendData = "wifi", `{"ssid":"lab"}`
		payload, err := buildPayload("", nil)
		require.NoError(t, err)

		var doc map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(payload, &doc))
		assert.JSONEq(t, `"wifi"`, string(doc["type"]))
		assert.JSONEq(t, `{"ssid":"lab"}`, string(doc["data"]))
	})

	t.Run("typed command rejects non-object data", func(t *testing.T) {
		resetSendFlags()
		sendType, sendData = "wifi", `[1,2]`
		_, err := buildPayload("", nil)
		assert.Error(t, err, "array data MUST be rejected")
	})

	t.Run("file", func(t *testing.T) {
		resetSendFlags()
		sendFile = filepath.Join(t.TempDir(), "job.json")
		require.NoError(t, os.WriteFile(sendFile, []byte("{\"type\":\"print\"}\n"), 0o600))
		payload, err := buildPayload("", nil)
		require.NoError(t, err)
		assert.Equal(t, `{"type":"print"}`, string(payload))
	})

	t.Run("stdin", func(t *testing.T) {
		resetSendFlags()
		sendFile = "-"
		payload, err := buildPayload("", strings.NewReader(`{"type":"print"}`))
		require.NoError(t, err)
		assert.Equal(t, `{"type":"print"}`, string(payload))
	})

	t.Run("invalid JSON", func(t *testing.T) {
		resetSendFlags()
		_, err := buildPayload(`{"type":`, nil)
		assert.ErrorContains(t, err, "not valid JSON")
	})

	t.Run("exactly one source", func(t *testing.T) {
		resetSendFlags()
		_, err := buildPayload("", nil)
		assert.Error(t, err, "no source MUST be rejected")

		sendType = "status"
		_, err = buildPayload(`{}`, nil)
		assert.Error(t, err, "two sources MUST be rejected")
	})

	t.Run("data without type", func(t *testing.T) {
		resetSendFlags()
		sendData = `{}`
		_, err := buildPayload(`{}`, nil)
		assert.ErrorContains(t, err, "--data requires --type")
	})
}

func TestPinnedSet(t *testing.T) {
	t.Cleanup(resetSendFlags)

	resetSendFlags()
	_, pinned, err := pinnedSet()
	require.NoError(t, err)
	assert.False(t, pinned, "no flags MUST mean no pin")

	sendService = "f000aa00-0451-4000-b000-000000000000"
	_, _, err = pinnedSet()
	assert.Error(t, err, "service without request MUST be rejected")

	sendRequest = "f000aa01-0451-4000-b000-000000000000"
	set, pinned, err := pinnedSet()
	require.NoError(t, err)
	assert.True(t, pinned)
	assert.Equal(t, sendRequest, set.RequestCharUUID)
	assert.Empty(t, set.ResponseCharUUID, "response MUST default later, during validation")
}
