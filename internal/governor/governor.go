// Package governor owns the sockets. It reads frames off every stream,
// joins datagram endpoints to their sessions by token and keeps a token
// alive for a while after its stream dropped so that the client can
// reconnect into the same room.
package governor

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hologram-chat/rendezvous-server/internal/audit"
	"github.com/hologram-chat/rendezvous-server/internal/clock"
	"github.com/hologram-chat/rendezvous-server/internal/config"
	"github.com/hologram-chat/rendezvous-server/internal/handshake"
	"github.com/hologram-chat/rendezvous-server/internal/matchmaking"
	"github.com/hologram-chat/rendezvous-server/internal/metrics"
	"github.com/hologram-chat/rendezvous-server/internal/model"
	"github.com/hologram-chat/rendezvous-server/internal/protocol"
	"github.com/hologram-chat/rendezvous-server/internal/transport"
)

// FrameConn is a stream that can also be read from.
type FrameConn interface {
	transport.Stream
	ReadFrame() ([]byte, error)
}

// LogonLimiter throttles new connections per remote host.
type LogonLimiter interface {
	CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Time)
}

type Options struct {
	TokenCleanup   time.Duration
	OfflineCleanup time.Duration
	LogonLimit     int
	Limiter        LogonLimiter
	Metrics        *metrics.Metrics
	Clock          clock.Clock
}

// OptionsFromConfig fills the timing and limit options from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		TokenCleanup:   cfg.TokenCleanupDelay(),
		OfflineCleanup: cfg.OfflineNotificationDelay(),
		LogonLimit:     cfg.LogonRateLimitPerMin,
	}
}

type cleanupEntry struct {
	session *matchmaking.Session
	timer   *clock.Timer
}

type Governor struct {
	mu sync.Mutex

	house  *matchmaking.House
	opts   Options
	clock  clock.Clock
	linker *handshake.Linker[*matchmaking.Session]

	byStreamAddr   map[string]*matchmaking.Session
	byToken        map[string]*matchmaking.Session
	byDatagramAddr map[string]*matchmaking.Session
	cleanup        map[string]*cleanupEntry

	closed     bool
	listeners  []net.Listener
	packetConn net.PacketConn
	wg         sync.WaitGroup
}

// New creates a governor and registers it as the token owner of house.
func New(house *matchmaking.House, opts Options) *Governor {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	g := &Governor{
		house:          house,
		opts:           opts,
		clock:          clk,
		linker:         handshake.NewLinker[*matchmaking.Session](nil),
		byStreamAddr:   make(map[string]*matchmaking.Session),
		byToken:        make(map[string]*matchmaking.Session),
		byDatagramAddr: make(map[string]*matchmaking.Session),
		cleanup:        make(map[string]*cleanupEntry),
	}
	house.SetRegistrar(g)
	return g
}

// TokenLive reports whether token still belongs to a session, connected
// or waiting to reconnect.
func (g *Governor) TokenLive(token string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tokenLiveLocked(token)
}

func (g *Governor) tokenLiveLocked(token string) bool {
	if _, ok := g.byToken[token]; ok {
		return true
	}
	_, ok := g.linker.Pending(token)
	return ok
}

// ReserveToken registers s under a fresh token or under reconnectToken.
// The reconnect token is checked under the same lock that registers it,
// so a token expiring in between cannot come back as a new session.
func (g *Governor) ReserveToken(s *matchmaking.Session, reconnectToken string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return false
	}
	if reconnectToken != "" && !g.tokenLiveLocked(reconnectToken) {
		log.Debug().Str("token", reconnectToken).Msg("reconnect token expired before it was reserved")
		return false
	}
	s.SetToken(g.linker.RegisterInterestGenerated(s, reconnectToken))
	return true
}

// RetireToken drops the token of s at once, for a client that left for
// good.
func (g *Governor) RetireToken(s *matchmaking.Session) {
	g.mu.Lock()
	defer g.mu.Unlock()

	token := s.Token()
	if entry := g.cleanup[token]; entry != nil && entry.session == s {
		entry.timer.Stop()
		delete(g.cleanup, token)
	}
	if g.byToken[token] != s {
		return
	}
	delete(g.byToken, token)
	log.Info().Str("token", token).Msg("token retired")
}

// Serve accepts stream connections until ln is closed.
func (g *Governor) Serve(ln net.Listener) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return net.ErrClosed
	}
	g.listeners = append(g.listeners, ln)
	g.mu.Unlock()

	log.Info().Str("addr", ln.Addr().String()).Msg("accepting stream connections")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				log.Warn().Err(err).Msg("temporary accept error")
				continue
			}
			return err
		}

		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			g.ServeStream(transport.NewConn(conn, config.StreamSendQueueLen))
		}()
	}
}

// ServeStream runs the reader loop of one stream until it closes.
func (g *Governor) ServeStream(c FrameConn) {
	if !g.allowLogon(c.RemoteAddr()) {
		c.Close()
		return
	}

	s := matchmaking.NewSession(g.house, c)
	addr := s.RemoteAddr()

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		c.Close()
		return
	}
	g.byStreamAddr[addr] = s
	g.mu.Unlock()

	log.Debug().Str("addr", addr).Msg("stream connected")
	for {
		payload, err := c.ReadFrame()
		if err != nil {
			log.Debug().Err(err).Str("addr", addr).Str("token", s.Token()).Msg("stream closed")
			break
		}
		s.HandleFrame(payload)
	}

	s.Close()
	g.streamClosed(s)
}

func (g *Governor) allowLogon(addr net.Addr) bool {
	if g.opts.Limiter == nil || g.opts.LogonLimit <= 0 {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.StoreQueryTimeout)
	defer cancel()

	host := audit.HostOf(addr)
	allowed, resetAt := g.opts.Limiter.CheckLimit(ctx, "logon:"+host, g.opts.LogonLimit, config.LogonRateWindow)
	if !allowed {
		g.opts.Metrics.Logon("rate_limited")
		audit.Log(ctx, audit.Event{
			Type:    audit.EventRateLimitExceed,
			IP:      host,
			Details: map[string]interface{}{"reset_at": resetAt.Unix()},
		})
	}
	return allowed
}

// streamClosed forgets the stream of s and starts the grace period of
// its token.
func (g *Governor) streamClosed(s *matchmaking.Session) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.byStreamAddr[s.RemoteAddr()] == s {
		delete(g.byStreamAddr, s.RemoteAddr())
	}
	if d := s.Datagram(); d != nil {
		key := d.Addr().String()
		if g.byDatagramAddr[key] == s {
			delete(g.byDatagramAddr, key)
		}
	}

	token := s.Token()
	if token == "" {
		return
	}
	g.linker.RegisterPrematureCompletion(token, s)
	if g.byToken[token] == s && !g.closed {
		g.scheduleCleanupLocked(token, s)
	}
	g.house.PauseRoom(s)
}

func (g *Governor) scheduleCleanupLocked(token string, s *matchmaking.Session) {
	if prev := g.cleanup[token]; prev != nil {
		prev.timer.Stop()
	}

	delay := g.opts.TokenCleanup
	if g.house.HasNotification(s) {
		delay = g.opts.OfflineCleanup
	}

	entry := &cleanupEntry{session: s}
	entry.timer = g.clock.AfterFunc(delay, func() {
		g.expireToken(token, entry)
	})
	g.cleanup[token] = entry
	log.Debug().Str("token", token).Dur("delay", delay).Msg("token cleanup scheduled")
}

func (g *Governor) expireToken(token string, entry *cleanupEntry) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cleanup[token] != entry {
		return
	}
	delete(g.cleanup, token)

	if g.byToken[token] != entry.session {
		return
	}
	delete(g.byToken, token)
	g.house.Forget(entry.session)
	log.Info().Str("token", token).Msg("token expired")
}

// ServeDatagrams reads the shared UDP socket until it is closed.
func (g *Governor) ServeDatagrams(conn *net.UDPConn) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return net.ErrClosed
	}
	g.packetConn = conn
	g.mu.Unlock()

	log.Info().Str("addr", conn.LocalAddr().String()).Msg("accepting datagrams")
	buf := make([]byte, config.MaxDatagramSize)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Warn().Err(err).Msg("datagram read failed")
			continue
		}
		payload := append([]byte(nil), buf[:n]...)
		g.HandleDatagram(payload, addr, conn)
	}
}

// HandleDatagram relays media from connected sessions and otherwise
// treats the datagram as a token announcement.
func (g *Governor) HandleDatagram(payload []byte, addr *net.UDPAddr, writer transport.PacketWriter) {
	key := addr.String()

	g.mu.Lock()
	s, known := g.byDatagramAddr[key]
	g.mu.Unlock()
	if known && s.Status() == matchmaking.StatusConnected {
		s.HandleDatagram(payload)
		return
	}

	token, err := protocol.ParseAnnouncement(payload)
	if err != nil {
		g.opts.Metrics.DatagramDropped()
		log.Debug().Err(err).Str("addr", key).Msg("dropping datagram from unknown endpoint")
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	endpoint := transport.NewEndpoint(writer, addr)
	s, ok := g.linker.RegisterCompletion(token, endpoint)
	if !ok {
		g.rebindLocked(token, key, endpoint)
		return
	}

	if old := g.byToken[token]; old != nil && old != s {
		g.house.Transfer(old, s)
		if d := old.Datagram(); d != nil && g.byDatagramAddr[d.Addr().String()] == old {
			delete(g.byDatagramAddr, d.Addr().String())
		}
		old.Close()
	}
	if entry := g.cleanup[token]; entry != nil {
		entry.timer.Stop()
		delete(g.cleanup, token)
	}

	g.byToken[token] = s
	g.byDatagramAddr[key] = s

	s.Send(protocol.AcceptDatagram())
	if !s.MarkConnected() {
		log.Warn().Str("token", token).Str("status", s.Status().String()).Msg("datagram handshake for a session that is not waiting")
		return
	}
	g.house.Join(s)

	log.Info().Str("token", token).Str("addr", key).Msg("datagram endpoint joined")
}

// rebindLocked handles an announcement for a token that is already
// connected, which happens when a NAT mapping changes mid-session.
func (g *Governor) rebindLocked(token, key string, endpoint *transport.Endpoint) {
	s := g.byToken[token]
	if s == nil || s.Status() != matchmaking.StatusConnected {
		g.opts.Metrics.DatagramDropped()
		log.Debug().Str("token", token).Msg("announcement for unknown token ignored")
		return
	}
	if prev := s.Datagram(); prev != nil {
		if prev.Addr().String() == key {
			return
		}
		if g.byDatagramAddr[prev.Addr().String()] == s {
			delete(g.byDatagramAddr, prev.Addr().String())
		}
	}

	s.AttachDatagram(endpoint)
	g.byDatagramAddr[key] = s
	g.house.ReadviseNat(s)
	log.Info().Str("token", token).Str("addr", key).Msg("datagram endpoint rebound")
}

func (g *Governor) Stats() model.GovernorStats {
	g.mu.Lock()
	defer g.mu.Unlock()

	return model.GovernorStats{
		Streams:        len(g.byStreamAddr),
		Tokens:         len(g.byToken),
		Datagrams:      len(g.byDatagramAddr),
		PendingCleanup: len(g.cleanup),
		PendingLinks:   g.linker.Len(),
	}
}

// Shutdown closes the sockets and every stream, then waits for the
// reader goroutines until ctx expires.
func (g *Governor) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	for _, ln := range g.listeners {
		_ = ln.Close()
	}
	if g.packetConn != nil {
		_ = g.packetConn.Close()
	}
	for token, entry := range g.cleanup {
		entry.timer.Stop()
		delete(g.cleanup, token)
	}
	sessions := make([]*matchmaking.Session, 0, len(g.byStreamAddr))
	for _, s := range g.byStreamAddr {
		sessions = append(sessions, s)
	}
	g.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Int("sessions", len(sessions)).Msg("governor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
