// Package handshake joins the datagram side of a client to the stream
// session that was handed a token at logon.
package handshake

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hologram-chat/rendezvous-server/internal/transport"
)

// Waiter is the session type waiting for its datagram endpoint.
type Waiter interface {
	comparable
	AttachDatagram(d transport.Datagram)
}

// Linker maps pending tokens to their waiting sessions. It holds no lock
// of its own: every call happens under the governor's mapping lock.
type Linker[T Waiter] struct {
	pending  map[string]T
	generate func() string
}

// NewLinker creates a linker. A nil generate uses random UUIDs.
func NewLinker[T Waiter](generate func() string) *Linker[T] {
	if generate == nil {
		generate = uuid.NewString
	}
	return &Linker[T]{
		pending:  make(map[string]T),
		generate: generate,
	}
}

// RegisterInterest records w as the owner of token. It fails when the
// token is already pending.
func (l *Linker[T]) RegisterInterest(token string, w T) bool {
	if _, exists := l.pending[token]; exists {
		return false
	}
	l.pending[token] = w
	return true
}

// RegisterInterestGenerated registers w under a fresh token and returns it.
// When provided is set (a reconnect), w takes over that token from any
// earlier pending owner.
func (l *Linker[T]) RegisterInterestGenerated(w T, provided string) string {
	if provided != "" {
		if _, exists := l.pending[provided]; exists {
			log.Debug().Str("token", provided).Msg("reconnect supersedes pending token owner")
		}
		l.pending[provided] = w
		return provided
	}

	for {
		token := l.generate()
		if l.RegisterInterest(token, w) {
			return token
		}
		log.Warn().Str("token", token).Msg("generated token collided, retrying")
	}
}

// RegisterCompletion binds d to the session waiting on token and removes
// the pending entry. Unknown tokens are ignored: datagrams are unordered
// and duplicate or late announcements are expected.
func (l *Linker[T]) RegisterCompletion(token string, d transport.Datagram) (T, bool) {
	w, ok := l.pending[token]
	if !ok {
		var zero T
		return zero, false
	}
	delete(l.pending, token)
	w.AttachDatagram(d)
	return w, true
}

// RegisterPrematureCompletion drops token if w still owns it.
func (l *Linker[T]) RegisterPrematureCompletion(token string, w T) {
	if owner, ok := l.pending[token]; ok && owner == w {
		delete(l.pending, token)
	}
}

// Pending returns the session waiting on token, if any.
func (l *Linker[T]) Pending(token string) (T, bool) {
	w, ok := l.pending[token]
	return w, ok
}

func (l *Linker[T]) Len() int {
	return len(l.pending)
}
