package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hologram-chat/rendezvous-server/internal/clock"
	"github.com/hologram-chat/rendezvous-server/internal/model"
	"github.com/hologram-chat/rendezvous-server/internal/protocol"
	"github.com/hologram-chat/rendezvous-server/internal/transport"
	"github.com/hologram-chat/rendezvous-server/internal/wire"
	"github.com/hologram-chat/rendezvous-server/internal/worker"
)

type fakeStream struct {
	mu     sync.Mutex
	sent   [][]byte
	closed bool
	addr   net.Addr
}

func newFakeStream(port int) *fakeStream {
	return &fakeStream{addr: &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: port}}
}

func (f *fakeStream) Send(payload []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.sent = append(f.sent, append([]byte(nil), payload...))
	return true
}

func (f *fakeStream) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeStream) RemoteAddr() net.Addr {
	return f.addr
}

func (f *fakeStream) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeStream) ops() []protocol.ServerOp {
	f.mu.Lock()
	defer f.mu.Unlock()
	ops := make([]protocol.ServerOp, 0, len(f.sent))
	for _, frame := range f.sent {
		ops = append(ops, protocol.ServerOp(frame[0]))
	}
	return ops
}

// lastOf returns the most recent frame with the given opcode.
func (f *fakeStream) lastOf(op protocol.ServerOp) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if protocol.ServerOp(f.sent[i][0]) == op {
			return f.sent[i]
		}
	}
	return nil
}

func (f *fakeStream) count(op protocol.ServerOp) int {
	n := 0
	for _, o := range f.ops() {
		if o == op {
			n++
		}
	}
	return n
}

func (f *fakeStream) reset() {
	f.mu.Lock()
	f.sent = nil
	f.mu.Unlock()
}

type fakeDatagram struct {
	mu   sync.Mutex
	addr *net.UDPAddr
	sent [][]byte
}

func (f *fakeDatagram) Addr() *net.UDPAddr {
	return f.addr
}

func (f *fakeDatagram) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeDatagram) received() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent
}

type fakeStore struct {
	mu      sync.Mutex
	records map[string]model.WaitingRecord
	order   []string
	stale   []string
	removed []string
	queries int
	failAll bool

	// gate, when set, holds FindMatch until it is closed. entered is
	// signalled once the query is waiting on it.
	gate    chan struct{}
	entered chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]model.WaitingRecord)}
}

// hold makes the next store queries wait until the returned func is
// called.
func (f *fakeStore) hold() func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	f.entered = make(chan struct{}, 1)
	return func() { close(f.gate) }
}

func (f *fakeStore) FindMatch(_ context.Context, rec model.WaitingRecord, _ []model.Gender, limit int) ([]string, error) {
	f.mu.Lock()
	gate, entered := f.gate, f.entered
	f.mu.Unlock()
	if gate != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.failAll {
		return nil, errors.New("connection refused")
	}
	if len(f.stale) > 0 {
		key := f.stale[0]
		f.stale = f.stale[1:]
		return []string{key}, nil
	}
	var keys []string
	for _, id := range f.order {
		if id != rec.ID && len(keys) < limit {
			keys = append(keys, id)
		}
	}
	return keys, nil
}

func (f *fakeStore) PushWaiting(_ context.Context, rec model.WaitingRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[rec.ID]; !ok {
		f.order = append(f.order, rec.ID)
	}
	f.records[rec.ID] = rec
	return nil
}

func (f *fakeStore) RemoveWaiting(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	delete(f.records, id)
	for i, k := range f.order {
		if k == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeStore) waiting() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

type fakeLedger struct {
	mu          sync.Mutex
	reputation  map[string]int
	bans        map[string]*model.BanStatus
	deducted    []string
	incremented []string
	cleared     []string
	banOnDeduct bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		reputation: make(map[string]int),
		bans:       make(map[string]*model.BanStatus),
	}
}

func (f *fakeLedger) GetReputation(_ context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.reputation[id]; ok {
		return v, nil
	}
	return 5, nil
}

func (f *fakeLedger) Deduct(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deducted = append(f.deducted, id)
	return f.banOnDeduct, nil
}

func (f *fakeLedger) Increment(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incremented = append(f.incremented, id)
	return nil
}

func (f *fakeLedger) GetBan(_ context.Context, id string) (*model.BanStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bans[id], nil
}

func (f *fakeLedger) Clear(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, id)
	delete(f.bans, id)
	delete(f.reputation, id)
	return nil
}

type fakeBlocks struct {
	mu      sync.Mutex
	blocked map[[2]string]bool
}

func newFakeBlocks() *fakeBlocks {
	return &fakeBlocks{blocked: make(map[[2]string]bool)}
}

func (f *fakeBlocks) CanMatch(_ context.Context, a, b string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.blocked[[2]string{a, b}] && !f.blocked[[2]string{b, a}], nil
}

func (f *fakeBlocks) RecordBlock(_ context.Context, blocker, blocked string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocked[[2]string{blocker, blocked}] = true
	return nil
}

type fakeSkips struct {
	mu      sync.Mutex
	records [][2]string
}

func (f *fakeSkips) RecordSkip(_ context.Context, skipper, skipped string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, [2]string{skipper, skipped})
	return nil
}

func (f *fakeSkips) Skipped(_ context.Context, a, b string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if (r[0] == a && r[1] == b) || (r[0] == b && r[1] == a) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeSkips) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type fakeIdentities struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (f *fakeIdentities) Claim(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	isNew := !f.seen[id]
	f.seen[id] = true
	return isNew, nil
}

type mockReceipts struct {
	mock.Mock
}

func (m *mockReceipts) Verify(ctx context.Context, receipt []byte) error {
	args := m.Called(ctx, receipt)
	return args.Error(0)
}

type mockPush struct {
	mock.Mock
}

func (m *mockPush) Notify(ctx context.Context, deviceToken string, alert string) error {
	args := m.Called(ctx, deviceToken, alert)
	return args.Error(0)
}

// queuedExecutor holds background tasks until the test runs them, so
// that callbacks taking the house lock never run under it.
type queuedExecutor struct {
	mu        sync.Mutex
	tasks     []func(ctx context.Context)
	saturated bool
}

func (q *queuedExecutor) Submit(task func(ctx context.Context)) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.saturated {
		return false
	}
	q.tasks = append(q.tasks, task)
	return true
}

func (q *queuedExecutor) Do(ctx context.Context, task func(ctx context.Context) error) error {
	q.mu.Lock()
	saturated := q.saturated
	q.mu.Unlock()
	if saturated {
		return worker.ErrSaturated
	}
	return task(ctx)
}

func (q *queuedExecutor) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *queuedExecutor) runAll() {
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.mu.Unlock()
	for _, task := range tasks {
		task(context.Background())
	}
}

type fakeRegistrar struct {
	mu      sync.Mutex
	live    map[string]bool
	retired []string
	next    int

	// expiring tokens are still live when checked but gone by the time
	// they are reserved.
	expiring map[string]bool
}

func (f *fakeRegistrar) TokenLive(token string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live[token]
}

func (f *fakeRegistrar) ReserveToken(s *Session, reconnect string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.live == nil {
		f.live = make(map[string]bool)
	}
	if reconnect != "" && f.expiring[reconnect] {
		delete(f.live, reconnect)
	}
	if reconnect != "" && !f.live[reconnect] {
		return false
	}
	token := reconnect
	if token == "" {
		f.next++
		token = fmt.Sprintf("token-%d", f.next)
	}
	f.live[token] = true
	s.SetToken(token)
	return true
}

func (f *fakeRegistrar) RetireToken(s *Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.live, s.Token())
	f.retired = append(f.retired, s.Token())
}

type harness struct {
	t          *testing.T
	house      *House
	clock      *clock.FakeClock
	store      *fakeStore
	ledger     *fakeLedger
	blocks     *fakeBlocks
	skips      *fakeSkips
	identities *fakeIdentities
	receipts   *mockReceipts
	push       *mockPush
	pool       *queuedExecutor
	registrar  *fakeRegistrar
	nextPort   int
}

func testSettings() Settings {
	return Settings{
		ServerName:         "test",
		MinProtocolVersion: 3,
		AcceptExpiry:       15 * time.Second,
		RatingExpiry:       40 * time.Second,
		Inactivity:         time.Hour,
		MatchQueryInterval: 2 * time.Second,
		DefaultRating:      model.RatingGood,
		MaxAcceptTimeouts:  3,
		ReputationMax:      5,
		RecentSkips:        5,
		CandidatePool:      20,
		StoreTimeout:       time.Second,
	}
}

func newHarness(t *testing.T, mutate ...func(*Settings)) *harness {
	settings := testSettings()
	for _, m := range mutate {
		m(&settings)
	}

	h := &harness{
		t:          t,
		clock:      clock.Fake(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)),
		store:      newFakeStore(),
		ledger:     newFakeLedger(),
		blocks:     newFakeBlocks(),
		skips:      &fakeSkips{},
		identities: &fakeIdentities{},
		receipts:   &mockReceipts{},
		push:       &mockPush{},
		pool:       &queuedExecutor{},
		registrar:  &fakeRegistrar{},
		nextPort:   40000,
	}
	h.house = NewHouse(settings, Dependencies{
		Store:      h.store,
		Ledger:     h.ledger,
		Blocks:     h.blocks,
		Skips:      h.skips,
		Identities: h.identities,
		Receipts:   h.receipts,
		Push:       h.push,
		Pool:       h.pool,
		Clock:      h.clock,
	})
	h.house.SetRegistrar(h.registrar)
	h.house.intn = func(int) int { return 0 }
	return h
}

type client struct {
	session *Session
	stream  *fakeStream
	dgram   *fakeDatagram
}

// newClient builds a session that already passed logon and the datagram
// handshake, without joining the house.
func (h *harness) newClient(name string, gender, wanted model.Gender) *client {
	h.nextPort++
	stream := newFakeStream(h.nextPort)
	dgram := &fakeDatagram{addr: &net.UDPAddr{IP: net.IPv4(192, 168, 1, byte(h.nextPort%250)), Port: h.nextPort}}

	s := NewSession(h.house, stream)
	s.SetToken("token-" + name)
	s.profile = model.Profile{
		UniqueID:     "key-" + name,
		PersistedID:  "pid-" + name,
		ShortName:    name,
		Age:          30,
		Gender:       gender,
		GenderWanted: wanted,
		Latitude:     51.5,
		Longitude:    -0.1,
	}
	s.status.Store(int32(StatusWaitingDatagram))
	s.AttachDatagram(dgram)
	require.True(h.t, s.MarkConnected())
	return &client{session: s, stream: stream, dgram: dgram}
}

// settle runs background tasks until none are left, including the ones
// queued by earlier tasks.
func (h *harness) settle() {
	for h.pool.pending() > 0 {
		h.pool.runAll()
	}
}

// joinSession hands s to the house and waits for its matching round.
func (h *harness) joinSession(s *Session) {
	h.house.Join(s)
	h.settle()
}

// join connects a new client and hands it to the house.
func (h *harness) join(name string) *client {
	c := h.newClient(name, model.GenderMale, model.GenderAny)
	h.joinSession(c.session)
	return c
}

// pair joins two clients, which the house matches in its first round.
func (h *harness) pair(a, b string) (*client, *client) {
	ca := h.join(a)
	cb := h.join(b)
	require.Same(h.t, cb.session, h.house.Partner(ca.session))
	return ca, cb
}

// converse pairs two clients and has both accept.
func (h *harness) converse(a, b string) (*client, *client) {
	ca, cb := h.pair(a, b)
	h.house.OnAcceptConversation(ca.session)
	h.house.OnAcceptConversation(cb.session)
	require.Equal(h.t, StateMatched, ca.session.State())
	return ca, cb
}

func rejectCode(t *testing.T, frame []byte) uint8 {
	t.Helper()
	require.NotNil(t, frame)
	r := wire.NewReader(frame)
	_, err := r.Uint8()
	require.NoError(t, err)
	code, err := r.Uint8()
	require.NoError(t, err)
	return code
}

var _ transport.Stream = (*fakeStream)(nil)
var _ transport.Datagram = (*fakeDatagram)(nil)
