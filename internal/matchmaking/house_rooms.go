package matchmaking

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hologram-chat/rendezvous-server/internal/config"
	"github.com/hologram-chat/rendezvous-server/internal/model"
	"github.com/hologram-chat/rendezvous-server/internal/protocol"
)

// attemptTakeRoomLocked starts a matching round for s on the worker
// pool. At most one round per session runs at a time and rounds are
// throttled to one per MatchQueryInterval.
func (h *House) attemptTakeRoomLocked(s *Session) bool {
	if s.Status() != StatusConnected || s.searching || !h.availableLocked(s) {
		return false
	}

	now := h.clock.Now()
	if !s.lastQuery.IsZero() && now.Sub(s.lastQuery) < h.settings.MatchQueryInterval {
		return false
	}
	s.lastQuery = now

	if s.reputation <= 0 {
		h.auditLocked(s)
		return false
	}

	rec := model.WaitingRecordFor(h.settings.ServerName, &s.profile)
	acceptable := s.profile.AcceptableGenders()

	s.searching = true
	if !h.pool.Submit(func(ctx context.Context) { h.searchRoom(ctx, s, rec, acceptable) }) {
		s.searching = false
		log.Warn().Str("token", s.token).Msg("worker pool saturated, matching round postponed")
		return false
	}
	return true
}

// searchRoom runs one matching round for s without the house lock. When
// nobody suitable is found s is published as waiting.
func (h *House) searchRoom(ctx context.Context, s *Session, rec model.WaitingRecord, acceptable []model.Gender) {
	defer func() {
		h.mu.Lock()
		s.searching = false
		h.mu.Unlock()
	}()

	for attempt := 0; attempt < config.MaxInconsistencyRetries; attempt++ {
		keys, err := h.store.FindMatch(ctx, rec, acceptable, h.settings.CandidatePool)
		if err != nil {
			log.Error().Err(err).Str("token", s.token).Msg("waiting store query failed, closing session")
			s.Close()
			return
		}
		if len(keys) == 0 {
			h.publishWaiting(ctx, s)
			return
		}

		h.mu.Lock()
		if !h.availableLocked(s) || s.Status() != StatusConnected {
			h.mu.Unlock()
			return
		}
		key := keys[h.intn(len(keys))]
		candidate, known := h.waitingByKey[key]
		compatible := known && h.compatibleLocked(s, candidate)
		h.mu.Unlock()

		if !known {
			log.Warn().Str("key", key).Str("token", s.token).Msg("waiting record has no session, purging")
			h.metrics.Inconsistency()
			h.purgeWaiting(ctx, key)
			continue
		}

		if compatible && h.historyAllows(ctx, s.profile.PersistedID, candidate.profile.PersistedID) {
			if h.takeRoomIfAvailable(s, candidate, key) {
				return
			}
		}
		h.publishWaiting(ctx, s)
		return
	}

	log.Warn().Str("token", s.token).Msg("too many stale waiting records, giving up this round")
	h.publishWaiting(ctx, s)
}

// takeRoomIfAvailable pairs s with candidate unless either moved on while
// the history was consulted.
func (h *House) takeRoomIfAvailable(s, candidate *Session, key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.waitingByKey[key] != candidate || s.Status() != StatusConnected {
		return false
	}
	if !h.availableLocked(s) || !h.compatibleLocked(s, candidate) {
		return false
	}
	h.takeRoomLocked(s, candidate)
	return true
}

// ShouldMatch evaluates the pairing predicate for two sessions. The
// history lookups run after the house lock is released.
func (h *House) ShouldMatch(a, b *Session) bool {
	h.mu.Lock()
	compatible := h.compatibleLocked(a, b)
	h.mu.Unlock()
	if !compatible {
		return false
	}

	ctx, cancel := h.storeContext()
	defer cancel()
	return h.historyAllows(ctx, a.profile.PersistedID, b.profile.PersistedID)
}

// compatibleLocked is the in-memory half of the pairing predicate. It is
// symmetric: it holds for (a, b) exactly when it holds for (b, a).
func (h *House) compatibleLocked(a, b *Session) bool {
	if a == b || a.token == b.token || a.profile.PersistedID == b.profile.PersistedID {
		return false
	}
	if a.reputation <= 0 || b.reputation <= 0 {
		return false
	}
	for _, s := range []*Session{a, b} {
		if s.state != StateMatching || s.ratingDeadline != nil {
			return false
		}
		if _, paired := h.rooms[s.token]; paired {
			return false
		}
		if s.Status() != StatusConnected && !s.isPlaceholderLocked() {
			return false
		}
	}
	if !a.profile.Wants(b.profile.Gender) || !b.profile.Wants(a.profile.Gender) {
		return false
	}
	return !a.skippedLocked(b.profile.PersistedID) && !b.skippedLocked(a.profile.PersistedID)
}

// historyAllows consults the skip history and the block list. An
// unreachable skip history is ignored; an unreachable block list refuses.
func (h *House) historyAllows(ctx context.Context, a, b string) bool {
	skipped, err := h.skips.Skipped(ctx, a, b)
	if err != nil {
		log.Warn().Err(err).Msg("skip history unavailable, ignoring it")
	} else if skipped {
		return false
	}

	ok, err := h.blocks.CanMatch(ctx, a, b)
	if err != nil {
		log.Error().Err(err).Msg("block lookup failed, refusing match")
		return false
	}
	return ok
}

func (h *House) takeRoomLocked(a, b *Session) {
	h.removeFromWaitingLocked(a)
	h.removeFromWaitingLocked(b)

	h.rooms[a.token] = b
	h.rooms[b.token] = a
	for _, s := range []*Session{a, b} {
		s.state = StateAcceptingMatch
		s.approved = false
		h.armAcceptLocked(s)
	}

	h.adviseMatchDetailsLocked(a, b, false)
	h.metrics.Match()
	h.metrics.SetRooms(len(h.rooms) / 2)

	log.Info().
		Str("token", a.token).
		Str("partner", b.token).
		Bool("partnerOnline", b.Status() == StatusConnected).
		Msg("match found")
}

// releaseRoomLocked splits s from its partner and returns the partner, or
// nil when s was not paired. Both sides go to rating when the
// conversation had started; otherwise the partner goes straight back to
// matching. Returning s itself to matching is up to the caller.
func (h *House) releaseRoomLocked(s *Session, notice []byte) *Session {
	partner, ok := h.rooms[s.token]
	if !ok {
		return nil
	}
	delete(h.rooms, s.token)
	delete(h.rooms, partner.token)
	s.relay.Store(nil)
	partner.relay.Store(nil)
	h.metrics.SetRooms(len(h.rooms) / 2)

	partner.Send(protocol.NatAbort())
	if s.Status() == StatusConnected {
		s.Send(protocol.NatAbort())
	}
	if notice != nil {
		partner.Send(notice)
	}

	h.cancelAcceptLocked(s)
	h.cancelAcceptLocked(partner)

	started := s.state == StateMatched || partner.state == StateMatched
	if started || h.settings.RateUnstartedConversations {
		h.startRatingLocked(s, partner)
		h.startRatingLocked(partner, s)
	} else {
		s.state = StateMatching
		partner.state = StateMatching
		h.returnToMatchingLocked(partner)
	}

	log.Info().
		Str("token", s.token).
		Str("partner", partner.token).
		Bool("started", started).
		Msg("room released")
	return partner
}

// skipLocked releases the room of s on its own request (or on its accept
// timeout). It is a no-op when s has no partner.
func (h *House) skipLocked(s *Session) bool {
	partner := h.releaseRoomLocked(s, protocol.SkippedDisconnect())
	if partner == nil {
		log.Debug().Str("token", s.token).Msg("skip without partner ignored")
		return false
	}

	s.skipCount++
	s.rememberSkipLocked(partner.profile.PersistedID, h.settings.RecentSkips)
	h.metrics.Skip()

	token, skipper, skipped := s.token, s.profile.PersistedID, partner.profile.PersistedID
	submitted := h.pool.Submit(func(ctx context.Context) {
		if err := h.skips.RecordSkip(ctx, skipper, skipped); err != nil {
			log.Warn().Err(err).Str("token", token).Msg("failed to record skip")
		}
	})
	if !submitted {
		log.Warn().Str("token", s.token).Msg("worker pool saturated, skip kept in memory only")
	}

	h.returnToMatchingLocked(s)
	return true
}

// returnToMatchingLocked puts s back into circulation if it is matching.
func (h *House) returnToMatchingLocked(s *Session) {
	if s.state != StateMatching || h.members[s.token] != s {
		return
	}
	switch {
	case s.Status() == StatusConnected:
		s.lastQuery = time.Time{}
		h.attemptTakeRoomLocked(s)
	case s.isPlaceholderLocked():
		h.publishWaitingLocked(s)
	}
}

// OnAcceptConversation records that s accepted its pending match. Once
// both sides accepted they are introduced to each other's datagram
// endpoint.
func (h *House) OnAcceptConversation(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	wasApproved := s.approved
	s.approved = true
	if s.state != StateAcceptingMatch {
		return
	}
	partner, ok := h.rooms[s.token]
	if !ok || partner.state != StateAcceptingMatch {
		return
	}

	if !partner.approved {
		if !wasApproved && partner.isPlaceholderLocked() {
			h.notifyOfflineLocked(partner, s)
		}
		return
	}

	if !s.transitionLocked(StateAcceptingMatch, StateMatched) {
		return
	}
	if !partner.transitionLocked(StateAcceptingMatch, StateMatched) {
		s.state = StateAcceptingMatch
		return
	}
	for _, x := range []*Session{s, partner} {
		h.cancelAcceptLocked(x)
		x.acceptTimeouts = 0
	}

	h.adviseNatLocked(s, partner)
	h.metrics.Conversation()
	log.Info().Str("token", s.token).Str("partner", partner.token).Msg("conversation started")
}

func (h *House) armAcceptLocked(s *Session) {
	h.cancelAcceptLocked(s)

	token := s.token
	d := &deadline{}
	d.timer = h.clock.AfterFunc(h.settings.AcceptExpiry, func() {
		h.onAcceptExpired(token, d)
	})
	s.acceptDeadline = d
	s.acceptStarted = h.clock.Now()
}

func (h *House) cancelAcceptLocked(s *Session) {
	if s.acceptDeadline != nil {
		s.acceptDeadline.stop()
		s.acceptDeadline = nil
	}
}

// onAcceptExpired treats a session that did not accept in time as having
// skipped. A connected session that keeps letting matches expire is
// disconnected.
func (h *House) onAcceptExpired(token string, d *deadline) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.members[token]
	if s == nil || s.acceptDeadline != d {
		return
	}
	s.acceptDeadline = nil
	if s.approved || s.state != StateAcceptingMatch {
		return
	}

	placeholder := s.isPlaceholderLocked()
	if !placeholder {
		s.acceptTimeouts++
	}
	log.Info().
		Str("token", s.token).
		Int("timeouts", s.acceptTimeouts).
		Bool("placeholder", placeholder).
		Msg("match not accepted in time")

	if !placeholder && s.Status() == StatusConnected && s.acceptTimeouts > h.settings.MaxAcceptTimeouts {
		h.releaseRoomLocked(s, protocol.SkippedDisconnect())
		h.auditInactiveLocked(s)
		return
	}
	h.skipLocked(s)
}

// adviseMatchDetailsLocked sends each side the details of the other.
func (h *House) adviseMatchDetailsLocked(a, b *Session, reconnecting bool) {
	km := DistanceKm(a.profile.Latitude, a.profile.Longitude, b.profile.Latitude, b.profile.Longitude)
	a.Send(protocol.MatchInfo(h.matchDetailsLocked(b, a, km, reconnecting)))
	b.Send(protocol.MatchInfo(h.matchDetailsLocked(a, b, km, reconnecting)))
}

// matchDetailsLocked describes about to viewer.
func (h *House) matchDetailsLocked(about, viewer *Session, km uint32, reconnecting bool) protocol.MatchDetails {
	remaining := h.settings.AcceptExpiry - h.clock.Now().Sub(viewer.acceptStarted)
	if remaining < 0 {
		remaining = 0
	}
	return protocol.MatchDetails{
		ShortName:             about.profile.ShortName,
		Age:                   about.profile.Age,
		DistanceKm:            km,
		RatingWindowSeconds:   uint32(h.settings.RatingExpiry.Seconds()),
		ReputationMax:         uint32(h.settings.ReputationMax),
		AcceptDeadlineSeconds: uint32(math.Ceil(remaining.Seconds())),
		Reputation:            uint32(about.reputation),
		CardText:              about.profile.CardText,
		Picture:               about.profile.Picture,
		PictureOrientation:    about.profile.PictureOrientation,
		Reconnecting:          reconnecting,
		PartnerOnline:         about.Status() == StatusConnected,
	}
}

// adviseNatLocked introduces the datagram endpoints of a and b to each
// other.
func (h *House) adviseNatLocked(a, b *Session) {
	a.relay.Store(b)
	b.relay.Store(a)

	ad, bd := a.Datagram(), b.Datagram()
	if ad == nil || bd == nil {
		log.Warn().Str("token", a.token).Str("partner", b.token).Msg("cannot introduce endpoints, datagram missing")
		return
	}

	toA, err := protocol.NatAddress(bd.Addr())
	if err != nil {
		log.Error().Err(err).Str("token", b.token).Msg("cannot encode partner endpoint")
		return
	}
	toB, err := protocol.NatAddress(ad.Addr())
	if err != nil {
		log.Error().Err(err).Str("token", a.token).Msg("cannot encode partner endpoint")
		return
	}
	a.Send(toA)
	b.Send(toB)
}
