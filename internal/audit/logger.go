package audit

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventLogonRejected    EventType = "logon_rejected"
	EventIdentityClash    EventType = "identity_clash"
	EventBanIssued        EventType = "ban_issued"
	EventBanEnforced      EventType = "ban_enforced"
	EventBanCleared       EventType = "ban_cleared"
	EventBlockRecorded    EventType = "block_recorded"
	EventRateLimitExceed  EventType = "rate_limit_exceeded"
	EventInactiveTimeout  EventType = "inactive_timeout"
	EventReceiptRejected  EventType = "receipt_rejected"
	EventProtocolViolated EventType = "protocol_violation"
)

type Event struct {
	Type        EventType
	PersistedID string
	Token       string
	IP          string
	Details     map[string]interface{}
}

func Log(ctx context.Context, event Event) {
	logger := log.With().
		Str("audit", "security").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.PersistedID != "" {
		logger = logger.With().Str("persisted_id", event.PersistedID).Logger()
	}
	if event.Token != "" {
		logger = logger.With().Str("token", event.Token).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("security audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case uint8:
		return e.Uint8(key, v)
	case uint32:
		return e.Uint32(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}

// LogFromAddr tags the event with the host part of a remote address.
func LogFromAddr(ctx context.Context, addr net.Addr, event Event) {
	event.IP = HostOf(addr)
	Log(ctx, event)
}

// HostOf strips the port from addr.
func HostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
