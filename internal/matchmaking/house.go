// Package matchmaking pairs connected sessions and runs them through
// accepting, talking and rating each other.
//
// Every mutable piece of matching state, on the House and on its
// sessions, is guarded by House.mu. Public House methods take the lock
// once and delegate to helpers suffixed Locked. Timer callbacks take the
// lock and then check that their deadline is still the current one, so
// a callback racing with Stop is harmless.
//
// Nothing blocking runs under House.mu. Store, ledger and history calls
// are submitted to the worker pool and their results are applied under
// the lock after checking that the session is still where it was.
package matchmaking

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hologram-chat/rendezvous-server/internal/clock"
	"github.com/hologram-chat/rendezvous-server/internal/metrics"
	"github.com/hologram-chat/rendezvous-server/internal/model"
	"github.com/hologram-chat/rendezvous-server/internal/protocol"
)

// Dependencies are the collaborators of a House. Metrics may be nil and
// Clock defaults to the real clock.
type Dependencies struct {
	Store      WaitingStore
	Ledger     Ledger
	Blocks     BlockList
	Skips      SkipHistory
	Identities IdentityClaims
	Receipts   ReceiptVerifier
	Push       PushNotifier
	Pool       Executor
	Metrics    *metrics.Metrics
	Clock      clock.Clock
}

type House struct {
	mu sync.Mutex

	settings   Settings
	clock      clock.Clock
	store      WaitingStore
	ledger     Ledger
	blocks     BlockList
	skips      SkipHistory
	identities IdentityClaims
	receipts   ReceiptVerifier
	push       PushNotifier
	pool       Executor
	metrics    *metrics.Metrics
	registrar  Registrar
	intn       func(n int) int

	// members holds the current session of every token that completed
	// its datagram handshake.
	members map[string]*Session
	// rooms maps a token to its partner. Both directions are always present.
	rooms               map[string]*Session
	waitingByKey        map[string]*Session
	waitingKeyBySession map[*Session]string
	waitingLocks        keyLocks
}

func NewHouse(settings Settings, deps Dependencies) *House {
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &House{
		settings:            settings,
		clock:               clk,
		store:               deps.Store,
		ledger:              deps.Ledger,
		blocks:              deps.Blocks,
		skips:               deps.Skips,
		identities:          deps.Identities,
		receipts:            deps.Receipts,
		push:                deps.Push,
		pool:                deps.Pool,
		metrics:             deps.Metrics,
		intn:                rand.Intn,
		members:             make(map[string]*Session),
		rooms:               make(map[string]*Session),
		waitingByKey:        make(map[string]*Session),
		waitingKeyBySession: make(map[*Session]string),
	}
}

// SetRegistrar wires the token owner. It must be called before the first
// logon is handled.
func (h *House) SetRegistrar(r Registrar) {
	h.registrar = r
}

func (h *House) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), h.settings.StoreTimeout)
}

// Join admits a session whose datagram handshake just completed. A
// session coming back to an existing room picks up where it left off.
func (h *House) Join(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.members[s.token] = s
	s.touch()
	h.armInactivityLocked(s)
	h.armMatcherLocked(s)

	partner, paired := h.rooms[s.token]
	if !paired {
		if s.state == StateMatching {
			s.lastQuery = time.Time{}
			h.attemptTakeRoomLocked(s)
		}
		return
	}

	if h.rooms[partner.token] != s {
		h.rooms[partner.token] = s
	}
	switch s.state {
	case StateAcceptingMatch:
		h.adviseMatchDetailsLocked(s, partner, true)
	case StateMatched:
		h.adviseNatLocked(s, partner)
	default:
		log.Warn().
			Str("token", s.token).
			Str("state", s.state.String()).
			Msg("rejoined a room in an unexpected state, releasing it")
		h.releaseRoomLocked(s, protocol.SkippedDisconnect())
		h.returnToMatchingLocked(s)
	}
}

// Transfer hands the matching state of old over to fresh, the new
// session for the same token.
func (h *House) Transfer(old, fresh *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeFromWaitingLocked(old)
	h.stopTimersLocked(old)
	old.relay.Store(nil)
	fresh.consumeMetaStateLocked(old)
	h.members[fresh.token] = fresh
	h.metrics.Reconnect()

	log.Info().
		Str("token", fresh.token).
		Str("state", fresh.state.String()).
		Msg("session reconnected")
}

// PauseRoom is called when the stream of s dropped. The partner is told
// to hold on: s may come back before its token expires.
func (h *House) PauseRoom(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopTimersLocked(s)
	if !(s.isPlaceholderLocked() && s.state == StateMatching) {
		h.removeFromWaitingLocked(s)
	}

	s.relay.Store(nil)
	partner, ok := h.rooms[s.token]
	if ok && h.rooms[partner.token] == s {
		partner.relay.CompareAndSwap(s, nil)
		partner.Send(protocol.NatAbort())
		partner.Send(protocol.TempDisconnect())
	}
}

// Forget removes s for good once its token expired.
func (h *House) Forget(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeFromWaitingLocked(s)
	h.stopTimersLocked(s)
	if h.members[s.token] != s {
		return
	}

	h.releaseRoomLocked(s, protocol.PermDisconnect())
	h.cancelAcceptLocked(s)
	if s.ratingDeadline != nil {
		s.ratingDeadline.stop()
		s.ratingDeadline = nil
		h.applyRatingLocked(s, h.settings.DefaultRating, "departed")
	}
	delete(h.members, s.token)
	if s.ratingPartner != "" {
		h.finishRatingLocked(s)
	}

	log.Info().Str("token", s.token).Msg("session forgotten")
}

// Retire forgets s at once because its client left for good. The token
// is given up without a grace period so nobody can reconnect into it.
func (h *House) Retire(s *Session) {
	if h.registrar != nil {
		h.registrar.RetireToken(s)
	}
	h.Forget(s)
}

func (h *House) Skip(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.skipLocked(s)
}

func (h *House) SetNotification(s *Session, payload string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s.notification = payload
	log.Debug().Str("token", s.token).Msg("offline notification registered")
}

// HasNotification reports whether s asked to be called back while offline.
func (h *House) HasNotification(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return s.notification != ""
}

// AttemptTakeRoom starts a matching round for s unless one is already
// running or the last one was too recent. It reports whether it started.
func (h *House) AttemptTakeRoom(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attemptTakeRoomLocked(s)
}

// Partner returns the session s is paired with.
func (h *House) Partner(s *Session) *Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[s.token]
}

// RelayDatagram forwards a media datagram from s to its partner. The
// relay link only exists while both sides are matched, so nothing is
// relayed before both accepted. It runs without the house lock.
func (h *House) RelayDatagram(s *Session, payload []byte) {
	if s.Status() != StatusConnected {
		return
	}
	partner := s.relay.Load()
	if partner == nil || partner.Status() != StatusConnected {
		return
	}
	if d := partner.Datagram(); d != nil {
		if err := d.Send(payload); err != nil {
			log.Debug().Err(err).Str("token", partner.token).Msg("datagram relay failed")
		}
	}
}

// ReadviseNat repeats the endpoint introduction, for when the datagram
// endpoint of s changed.
func (h *House) ReadviseNat(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	partner, ok := h.rooms[s.token]
	if ok && s.state == StateMatched {
		h.adviseNatLocked(s, partner)
	}
}

func (h *House) Stats() model.HouseStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := model.HouseStats{
		Members: len(h.members),
		Rooms:   len(h.rooms) / 2,
		Waiting: len(h.waitingByKey),
	}
	for _, s := range h.members {
		switch s.state {
		case StateRatingMatch:
			stats.Rating++
		case StateMatching:
			stats.Matching++
		}
	}
	return stats
}

func (h *House) stopTimersLocked(s *Session) {
	s.matcher.Stop()
	s.matcher = nil
	s.inactivity.Stop()
	s.inactivity = nil
}

// armMatcherLocked re-queries the waiting store periodically while s is
// unpaired.
func (h *House) armMatcherLocked(s *Session) {
	s.matcher.Stop()
	s.matcher = h.clock.AfterFunc(h.settings.MatchQueryInterval, func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		if h.members[s.token] != s || s.Status() != StatusConnected {
			s.matcher = nil
			return
		}
		h.attemptTakeRoomLocked(s)
		h.armMatcherLocked(s)
	})
}

func (h *House) armInactivityLocked(s *Session) {
	s.inactivity.Stop()
	s.inactivity = h.clock.AfterFunc(h.settings.Inactivity, func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		if s.Status() != StatusConnected {
			s.inactivity = nil
			return
		}
		if h.clock.Now().Sub(s.lastSeen()) >= h.settings.Inactivity {
			log.Warn().
				Str("token", s.token).
				Time("lastPing", s.lastSeen()).
				Msg("no ping within inactivity window, closing connection")
			s.inactivity = nil
			s.Close()
			return
		}
		h.armInactivityLocked(s)
	})
}
