package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func TestLog(t *testing.T) {
	t.Run("writes a tagged security entry", func(t *testing.T) {
		buf := captureLog(t)

		Log(context.Background(), Event{
			Type:        EventBanIssued,
			PersistedID: "pid-1",
			Details:     map[string]interface{}{"magnitude": uint8(2), "source": "client"},
		})

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "security", entry["audit"])
		assert.Equal(t, "ban_issued", entry["event_type"])
		assert.Equal(t, "pid-1", entry["persisted_id"])
		assert.Equal(t, float64(2), entry["magnitude"])
		assert.Equal(t, "client", entry["source"])
		assert.NotContains(t, entry, "token")
	})

	t.Run("tags the remote host", func(t *testing.T) {
		buf := captureLog(t)

		LogFromAddr(context.Background(), &net.TCPAddr{IP: net.IPv4(198, 51, 100, 4), Port: 4000}, Event{Type: EventIdentityClash})

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "198.51.100.4", entry["ip"])
	})
}

func TestHostOf(t *testing.T) {
	assert.Equal(t, "", HostOf(nil))
	assert.Equal(t, "10.0.0.1", HostOf(&net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 53}))
}
