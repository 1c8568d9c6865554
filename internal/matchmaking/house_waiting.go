package matchmaking

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/hologram-chat/rendezvous-server/internal/model"
)

const waitingLockStripes = 64

// keyLocks serialises the store writes for one waiting key, so that a
// removal never overtakes a publish of the same key.
type keyLocks [waitingLockStripes]sync.Mutex

func (k *keyLocks) lock(key string) func() {
	sum := fnv.New32a()
	_, _ = sum.Write([]byte(key))
	m := &k[sum.Sum32()%waitingLockStripes]
	m.Lock()
	return m.Unlock
}

// availableLocked reports whether s may be paired or published right now.
func (h *House) availableLocked(s *Session) bool {
	if h.members[s.token] != s || s.state != StateMatching || s.ratingDeadline != nil {
		return false
	}
	if _, paired := h.rooms[s.token]; paired {
		return false
	}
	return s.Status() == StatusConnected || s.isPlaceholderLocked()
}

// publishWaitingLocked queues the publication of s in the waiting store.
func (h *House) publishWaitingLocked(s *Session) {
	if _, ok := h.waitingKeyBySession[s]; ok {
		return
	}
	if !h.pool.Submit(func(ctx context.Context) { h.publishWaiting(ctx, s) }) {
		log.Warn().Str("token", s.token).Msg("worker pool saturated, waiting record not published")
	}
}

// publishWaiting writes the waiting record of s. The session only
// becomes visible to matching if it is still available once the write
// landed; otherwise the record is taken back.
func (h *House) publishWaiting(ctx context.Context, s *Session) {
	key := s.profile.UniqueID
	unlock := h.waitingLocks.lock(key)
	defer unlock()

	h.mu.Lock()
	if _, ok := h.waitingKeyBySession[s]; ok || !h.availableLocked(s) {
		h.mu.Unlock()
		return
	}
	rec := model.WaitingRecordFor(h.settings.ServerName, &s.profile)
	h.mu.Unlock()

	if err := h.store.PushWaiting(ctx, rec); err != nil {
		log.Error().Err(err).Str("token", s.token).Msg("failed to publish waiting record")
		return
	}

	h.mu.Lock()
	available := h.availableLocked(s)
	if available {
		h.waitingByKey[key] = s
		h.waitingKeyBySession[s] = key
		h.metrics.SetWaiting(len(h.waitingByKey))
	}
	h.mu.Unlock()

	if !available {
		if err := h.store.RemoveWaiting(ctx, key); err != nil {
			log.Error().Err(err).Str("key", key).Msg("failed to take back waiting record")
		}
	}
}

// removeFromWaitingLocked hides s from matching and queues the deletion
// of its record.
func (h *House) removeFromWaitingLocked(s *Session) {
	key, ok := h.waitingKeyBySession[s]
	if !ok {
		return
	}
	delete(h.waitingKeyBySession, s)
	delete(h.waitingByKey, key)
	h.metrics.SetWaiting(len(h.waitingByKey))

	if !h.pool.Submit(func(ctx context.Context) { h.purgeWaiting(ctx, key) }) {
		log.Warn().Str("key", key).Msg("worker pool saturated, waiting record left for a later purge")
	}
}

// purgeWaiting deletes the record of key unless it was published again
// in the meantime.
func (h *House) purgeWaiting(ctx context.Context, key string) {
	unlock := h.waitingLocks.lock(key)
	defer unlock()

	h.mu.Lock()
	_, republished := h.waitingByKey[key]
	h.mu.Unlock()
	if republished {
		return
	}

	if err := h.store.RemoveWaiting(ctx, key); err != nil {
		log.Error().Err(err).Str("key", key).Msg("failed to remove waiting record")
	}
}
