package matchmaking

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hologram-chat/rendezvous-server/internal/clock"
	apperrors "github.com/hologram-chat/rendezvous-server/internal/errors"
	"github.com/hologram-chat/rendezvous-server/internal/model"
	"github.com/hologram-chat/rendezvous-server/internal/protocol"
	"github.com/hologram-chat/rendezvous-server/internal/transport"
)

// ConnectionStatus tracks the transports of a session.
type ConnectionStatus int32

const (
	StatusWaitingLogon ConnectionStatus = iota + 1
	StatusWaitingDatagram
	StatusConnected
	StatusNotConnected
)

func (c ConnectionStatus) String() string {
	switch c {
	case StatusWaitingLogon:
		return "waiting_logon"
	case StatusWaitingDatagram:
		return "waiting_datagram"
	case StatusConnected:
		return "connected"
	case StatusNotConnected:
		return "not_connected"
	default:
		return "unknown"
	}
}

// State is where a session is in the matching lifecycle.
type State int

const (
	StateMatching State = iota + 1
	StateAcceptingMatch
	StateMatched
	StateRatingMatch
)

func (s State) String() string {
	switch s {
	case StateMatching:
		return "matching"
	case StateAcceptingMatch:
		return "accepting_match"
	case StateMatched:
		return "matched"
	case StateRatingMatch:
		return "rating_match"
	default:
		return "unknown"
	}
}

// deadline wraps a timer so that callbacks can tell whether they are
// still the current one.
type deadline struct {
	timer *clock.Timer
}

func (d *deadline) stop() {
	if d != nil {
		d.timer.Stop()
	}
}

// Session is one client: a stream, later a datagram endpoint, and its
// matching state. Fields below the house comment are guarded by the
// house lock.
type Session struct {
	house  *House
	stream transport.Stream

	status   atomic.Int32
	lastPing atomic.Int64

	dgramMu sync.Mutex
	dgram   transport.Datagram

	// relay is the partner media is forwarded to. It is written under the
	// house lock once both sides accepted and read without it.
	relay atomic.Pointer[Session]

	// Written once during logon, before the session is visible to others.
	token   string
	profile model.Profile

	// house
	state           State
	reputation      int
	approved        bool
	acceptDeadline  *deadline
	acceptStarted   time.Time
	acceptTimeouts  int
	ratingDeadline  *deadline
	ratingPartner   string
	ratingPartnerID string
	recentSkips     []string
	lastQuery       time.Time
	searching       bool
	notification    string
	skipCount       int
	banCount        int
	matcher         *clock.Timer
	inactivity      *clock.Timer
}

// NewSession wraps a freshly accepted stream.
func NewSession(h *House, stream transport.Stream) *Session {
	s := &Session{
		house:      h,
		stream:     stream,
		state:      StateMatching,
		reputation: h.settings.ReputationMax,
	}
	s.status.Store(int32(StatusWaitingLogon))
	return s
}

func (s *Session) Token() string {
	return s.token
}

// SetToken is called by the registrar while it reserves the token.
func (s *Session) SetToken(token string) {
	s.token = token
}

func (s *Session) Profile() *model.Profile {
	return &s.profile
}

func (s *Session) Status() ConnectionStatus {
	return ConnectionStatus(s.status.Load())
}

func (s *Session) RemoteAddr() string {
	if addr := s.stream.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// State returns the protocol state. It takes the house lock.
func (s *Session) State() State {
	s.house.mu.Lock()
	defer s.house.mu.Unlock()
	return s.state
}

// Reputation returns the in-memory reputation. It takes the house lock.
func (s *Session) Reputation() int {
	s.house.mu.Lock()
	defer s.house.mu.Unlock()
	return s.reputation
}

func (s *Session) Send(payload []byte) bool {
	return s.stream.Send(payload)
}

// Close drops the stream. The governor notices through its reader and
// pauses the session.
func (s *Session) Close() {
	prev := ConnectionStatus(s.status.Swap(int32(StatusNotConnected)))
	if prev == StatusConnected {
		s.house.metrics.SessionDisconnected()
	}
	s.stream.Close()
}

// Reject tells the client why it is being dropped, then closes.
func (s *Session) Reject(rej *apperrors.Rejection) {
	log.Info().
		Str("addr", s.RemoteAddr()).
		Str("token", s.token).
		Str("code", rej.Code.String()).
		Err(rej.Unwrap()).
		Msg("rejecting session")
	s.Send(protocol.RejectLogon(rej))
	s.Close()
}

func (s *Session) AttachDatagram(d transport.Datagram) {
	s.dgramMu.Lock()
	s.dgram = d
	s.dgramMu.Unlock()
}

func (s *Session) Datagram() transport.Datagram {
	s.dgramMu.Lock()
	defer s.dgramMu.Unlock()
	return s.dgram
}

// MarkConnected moves a session that was waiting for its datagram
// endpoint to connected. The caller must have queued ACCEPT_DATAGRAM.
func (s *Session) MarkConnected() bool {
	if !s.status.CompareAndSwap(int32(StatusWaitingDatagram), int32(StatusConnected)) {
		return false
	}
	s.touch()
	s.house.metrics.SessionConnected()
	return true
}

func (s *Session) touch() {
	s.lastPing.Store(s.house.clock.Now().UnixNano())
}

func (s *Session) lastSeen() time.Time {
	return time.Unix(0, s.lastPing.Load())
}

// HandleFrame processes one stream frame.
func (s *Session) HandleFrame(payload []byte) {
	switch s.Status() {
	case StatusWaitingLogon:
		s.handleLogon(payload)
	case StatusWaitingDatagram:
		log.Debug().Str("addr", s.RemoteAddr()).Msg("dropping frame received before datagram handshake")
	case StatusConnected:
		s.onFriendlyPacket(payload)
	}
}

func (s *Session) transitionLocked(from, to State) bool {
	if s.state != from {
		log.Debug().
			Str("token", s.token).
			Str("state", s.state.String()).
			Str("expected", from.String()).
			Str("target", to.String()).
			Msg("state transition lost")
		return false
	}
	s.state = to
	return true
}

// isPlaceholderLocked reports whether the session stays published while
// offline so that a push notification can call it back.
func (s *Session) isPlaceholderLocked() bool {
	return s.Status() == StatusNotConnected && s.notification != ""
}

func (s *Session) skippedLocked(persistedID string) bool {
	for _, id := range s.recentSkips {
		if id == persistedID {
			return true
		}
	}
	return false
}

func (s *Session) rememberSkipLocked(persistedID string, limit int) {
	if limit <= 0 {
		return
	}
	s.recentSkips = append(s.recentSkips, persistedID)
	if over := len(s.recentSkips) - limit; over > 0 {
		s.recentSkips = append(s.recentSkips[:0], s.recentSkips[over:]...)
	}
}

// consumeMetaStateLocked takes over everything old accumulated so that a
// reconnect is invisible to matching.
func (s *Session) consumeMetaStateLocked(old *Session) {
	s.reputation = old.reputation
	s.state = old.state
	s.approved = old.approved
	s.acceptDeadline, old.acceptDeadline = old.acceptDeadline, nil
	s.acceptStarted = old.acceptStarted
	s.acceptTimeouts = old.acceptTimeouts
	s.ratingDeadline, old.ratingDeadline = old.ratingDeadline, nil
	s.ratingPartner = old.ratingPartner
	s.ratingPartnerID = old.ratingPartnerID
	s.recentSkips = append([]string(nil), old.recentSkips...)
	s.lastQuery = old.lastQuery
	if s.notification == "" {
		s.notification = old.notification
	}
	s.skipCount = old.skipCount
	s.banCount = old.banCount
}
