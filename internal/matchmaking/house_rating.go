package matchmaking

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/hologram-chat/rendezvous-server/internal/audit"
	apperrors "github.com/hologram-chat/rendezvous-server/internal/errors"
	"github.com/hologram-chat/rendezvous-server/internal/model"
)

// SetRatingOfOtherClient applies the rating s gave its last partner. It
// is ignored unless s owes a rating.
func (h *House) SetRatingOfOtherClient(s *Session, rating model.Rating) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s.ratingDeadline == nil {
		log.Debug().Str("token", s.token).Msg("rating without pending rating window ignored")
		return
	}
	s.ratingDeadline.stop()
	s.ratingDeadline = nil

	h.applyRatingLocked(s, rating, "client")
	h.finishRatingLocked(s)
}

// startRatingLocked opens the rating window of s for partner.
func (h *House) startRatingLocked(s, partner *Session) {
	s.ratingDeadline.stop()
	s.state = StateRatingMatch
	s.ratingPartner = partner.token
	s.ratingPartnerID = partner.profile.PersistedID

	token := s.token
	d := &deadline{}
	d.timer = h.clock.AfterFunc(h.settings.RatingExpiry, func() {
		h.onRatingExpired(token, d)
	})
	s.ratingDeadline = d
}

func (h *House) onRatingExpired(token string, d *deadline) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.members[token]
	if s == nil || s.ratingDeadline != d {
		return
	}
	s.ratingDeadline = nil

	log.Debug().Str("token", token).Str("rating", h.settings.DefaultRating.String()).Msg("rating window expired, applying default")
	h.applyRatingLocked(s, h.settings.DefaultRating, "timeout")
	h.finishRatingLocked(s)
}

// applyRatingLocked applies the effect of rater's rating on its last
// partner to the in-memory reputation at once and queues the ledger
// writes.
func (h *House) applyRatingLocked(rater *Session, rating model.Rating, source string) {
	targetID := rater.ratingPartnerID
	if targetID == "" {
		return
	}
	targetToken := rater.ratingPartner
	target := h.members[targetToken]

	var task func(ctx context.Context)
	switch rating {
	case model.RatingBad:
		if target != nil && target.reputation > 0 {
			target.reputation--
		}
		raterID, block := rater.profile.PersistedID, source == "client"
		task = func(ctx context.Context) {
			h.recordBadRating(ctx, raterID, targetToken, targetID, block)
		}
	case model.RatingGood:
		if target != nil && target.reputation < h.settings.ReputationMax {
			target.reputation++
		}
		task = func(ctx context.Context) {
			if err := h.ledger.Increment(ctx, targetID); err != nil {
				log.Error().Err(err).Str("persistedId", targetID).Msg("failed to increment reputation")
			}
		}
	}

	h.metrics.Rating(rating.String(), source)
	log.Info().
		Str("token", rater.token).
		Str("partner", targetToken).
		Str("rating", rating.String()).
		Str("source", source).
		Msg("rating applied")

	if task != nil && !h.pool.Submit(task) {
		log.Error().
			Str("persistedId", targetID).
			Str("rating", rating.String()).
			Msg("worker pool saturated, rating not recorded in the ledger")
	}
}

// recordBadRating deducts reputation from targetID and, for a rating the
// client chose, blocks the pair. A deduction that bans is counted on the
// target if it is still here.
func (h *House) recordBadRating(ctx context.Context, raterID, targetToken, targetID string, block bool) {
	banned, err := h.ledger.Deduct(ctx, targetID)
	if err != nil {
		log.Error().Err(err).Str("persistedId", targetID).Msg("failed to deduct reputation")
	}
	if banned {
		h.metrics.Ban()
		audit.Log(ctx, audit.Event{
			Type:        audit.EventBanIssued,
			PersistedID: targetID,
			Details:     map[string]interface{}{"ratedBy": raterID},
		})

		h.mu.Lock()
		if target := h.members[targetToken]; target != nil && target.profile.PersistedID == targetID {
			target.banCount++
		}
		h.mu.Unlock()
	}

	if !block {
		return
	}
	if err := h.blocks.RecordBlock(ctx, raterID, targetID); err != nil {
		log.Error().Err(err).Str("persistedId", targetID).Msg("failed to record block")
		return
	}
	audit.Log(ctx, audit.Event{
		Type:        audit.EventBlockRecorded,
		PersistedID: raterID,
		Details:     map[string]interface{}{"blocked": targetID},
	})
}

// finishRatingLocked runs once s no longer owes a rating. Both sides go
// back to matching when the partner is done too.
func (h *House) finishRatingLocked(s *Session) {
	partner := h.members[s.ratingPartner]
	if partner != nil && partner.ratingPartner == s.token && partner.ratingDeadline != nil {
		return
	}

	h.leaveRatingLocked(s)
	if partner != nil && partner.state == StateRatingMatch && partner.ratingPartner == s.token {
		h.leaveRatingLocked(partner)
	}
}

func (h *House) leaveRatingLocked(s *Session) {
	s.ratingPartner = ""
	s.ratingPartnerID = ""
	if s.transitionLocked(StateRatingMatch, StateMatching) {
		h.returnToMatchingLocked(s)
	}
}

// auditLocked asks the ledger whether s, whose reputation reached zero,
// is banned. The answer is applied under the lock once it arrives.
func (h *House) auditLocked(s *Session) {
	persistedID := s.profile.PersistedID
	submitted := h.pool.Submit(func(ctx context.Context) {
		ban, err := h.ledger.GetBan(ctx, persistedID)
		reputation := 0
		if err == nil {
			reputation, err = h.ledger.GetReputation(ctx, persistedID)
		}
		h.applyAudit(s, ban, reputation, err)
	})
	if !submitted {
		log.Warn().Str("token", s.token).Msg("worker pool saturated, ban audit postponed")
	}
}

func (h *House) applyAudit(s *Session, ban *model.BanStatus, reputation int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Str("token", s.token).Msg("ban audit failed")
		return
	}
	if h.members[s.token] != s {
		return
	}

	if ban == nil {
		s.reputation = clampReputation(reputation, h.settings.ReputationMax)
		log.Debug().Str("token", s.token).Int("reputation", s.reputation).Msg("ban audit cleared session")
		return
	}

	s.banCount++
	h.metrics.Ban()
	audit.LogFromAddr(context.Background(), s.stream.RemoteAddr(), audit.Event{
		Type:        audit.EventBanEnforced,
		PersistedID: s.profile.PersistedID,
		Token:       s.token,
		Details:     map[string]interface{}{"magnitude": ban.Magnitude},
	})
	h.releaseRoomLocked(s, nil)
	s.Reject(apperrors.Banned(ban.Magnitude, uint32(math.Ceil(ban.Remaining.Seconds()))))
}

// auditInactiveLocked disconnects a session that let too many matches
// expire.
func (h *House) auditInactiveLocked(s *Session) {
	audit.LogFromAddr(context.Background(), s.stream.RemoteAddr(), audit.Event{
		Type:        audit.EventInactiveTimeout,
		PersistedID: s.profile.PersistedID,
		Token:       s.token,
		Details:     map[string]interface{}{"timeouts": s.acceptTimeouts},
	})
	s.Reject(apperrors.InactiveTimeout())
}

// notifyOfflineLocked pushes a call-back request to an offline
// placeholder that was accepted by requester.
func (h *House) notifyOfflineLocked(placeholder, requester *Session) {
	deviceToken := placeholder.notification
	alert := fmt.Sprintf("%s wants to talk to you", requester.profile.ShortName)
	token := placeholder.token

	submitted := h.pool.Submit(func(ctx context.Context) {
		if err := h.push.Notify(ctx, deviceToken, alert); err != nil {
			log.Error().Err(err).Str("token", token).Msg("offline notification failed")
			return
		}
		log.Debug().Str("token", token).Msg("offline notification sent")
	})
	if !submitted {
		log.Error().Str("token", token).Msg("worker pool saturated, offline notification dropped")
	}
}
