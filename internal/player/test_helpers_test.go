package player

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

func testTrack(id, source string) *Track {
	return &Track{
		ID:       id,
		Title:    "Track " + id,
		URL:      "https://example.test/" + id,
		Duration: 3 * time.Minute,
		Source:   source,
		RequestedBy: Requester{
			ID:   snowflake.ID(123),
			Name: "tester",
		},
	}
}

func nopStream() io.ReadCloser {
	return io.NopCloser(strings.NewReader("audio"))
}

// countingStream records how often it was closed.
type countingStream struct {
	mu     sync.Mutex
	closes int
}

func (s *countingStream) Read(_ []byte) (int, error) { return 0, io.EOF }

func (s *countingStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *countingStream) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// --- fake clock ---

type fakeTimer struct {
	clk     *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clk.mu.Lock()
	defer t.clk.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

type fakeWaiter struct {
	at time.Time
	ch chan time.Time
}

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*fakeWaiter
	timers  []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := &fakeWaiter{at: c.now.Add(d), ch: make(chan time.Time, 1)}
	c.waiters = append(c.waiters, w)
	return w.ch
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clk: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward and fires everything that came due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now

	var remaining []*fakeWaiter
	for _, w := range c.waiters {
		if !w.at.After(now) {
			w.ch <- now
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining

	var due []*fakeTimer
	var pending []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.at.After(now) {
			t.fired = true
			due = append(due, t)
		} else if !t.stopped {
			pending = append(pending, t)
		}
	}
	c.timers = pending
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

// --- mock audio engine ---

type mockEngine struct {
	mu        sync.Mutex
	state     EngineState
	resource  *Resource
	played    []*Track
	observers []func(prev, next EngineState)

	// autoFinish transitions back to idle after the given real duration.
	autoFinish time.Duration

	pauses  int
	resumes int
}

func newMockEngine() *mockEngine {
	return &mockEngine{}
}

func (e *mockEngine) transition(next EngineState) {
	e.mu.Lock()
	prev := e.state
	e.state = next
	observers := make([]func(EngineState, EngineState), len(e.observers))
	copy(observers, e.observers)
	e.mu.Unlock()

	for _, fn := range observers {
		fn(prev, next)
	}
}

func (e *mockEngine) Play(res *Resource) {
	e.mu.Lock()
	e.resource = res
	e.played = append(e.played, res.Track)
	auto := e.autoFinish
	e.mu.Unlock()

	e.transition(EnginePlaying)
	if auto > 0 {
		time.AfterFunc(auto, e.Stop)
	}
}

func (e *mockEngine) Pause() bool {
	e.mu.Lock()
	playing := e.state == EnginePlaying || e.state == EngineBuffering
	if playing {
		e.pauses++
	}
	e.mu.Unlock()
	if !playing {
		return false
	}
	e.transition(EnginePaused)
	return true
}

func (e *mockEngine) Resume() bool {
	e.mu.Lock()
	paused := e.state == EnginePaused
	if paused {
		e.resumes++
	}
	e.mu.Unlock()
	if !paused {
		return false
	}
	e.transition(EnginePlaying)
	return true
}

func (e *mockEngine) Stop() {
	e.mu.Lock()
	idle := e.state == EngineIdle
	e.mu.Unlock()
	if idle {
		return
	}
	e.transition(EngineIdle)
}

func (e *mockEngine) State() EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *mockEngine) OnStateChange(fn func(prev, next EngineState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, fn)
}

func (e *mockEngine) currentResource() *Resource {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resource
}

func (e *mockEngine) playedTracks() []*Track {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Track, len(e.played))
	copy(out, e.played)
	return out
}

// --- mock voice connection ---

type mockConn struct {
	mu         sync.Mutex
	openErr    error
	opened     bool
	closed     bool
	subscribed []AudioEngine
	onClosed   func(error)
}

func (c *mockConn) Open(_ context.Context, _ snowflake.ID, _, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openErr != nil {
		return c.openErr
	}
	c.opened = true
	return nil
}

func (c *mockConn) Subscribe(e AudioEngine) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = append(c.subscribed, e)
}

func (c *mockConn) Close(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *mockConn) OnClosed(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClosed = fn
}

func (c *mockConn) subscriptions() []AudioEngine {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]AudioEngine, len(c.subscribed))
	copy(out, c.subscribed)
	return out
}

// --- stub plugins ---

var errStubStream = errors.New("stub stream failure")

// stubPlugin implements only the required SourcePlugin surface.
type stubPlugin struct {
	name     string
	handles  func(string) bool
	searchFn func(ctx context.Context, query string, requestedBy Requester) (*SearchResult, error)
	streamFn func(ctx context.Context, t *Track) (*StreamInfo, error)
}

func (p *stubPlugin) Name() string    { return p.name }
func (p *stubPlugin) Version() string { return "0.0.0-test" }

func (p *stubPlugin) CanHandle(query string) bool {
	if p.handles == nil {
		return true
	}
	return p.handles(query)
}

func (p *stubPlugin) Search(ctx context.Context, query string, requestedBy Requester) (*SearchResult, error) {
	if p.searchFn != nil {
		return p.searchFn(ctx, query, requestedBy)
	}
	t := testTrack(p.name+"-"+query, p.name)
	t.RequestedBy = requestedBy
	return &SearchResult{Tracks: []*Track{t}}, nil
}

func (p *stubPlugin) GetStream(ctx context.Context, t *Track) (*StreamInfo, error) {
	if p.streamFn != nil {
		return p.streamFn(ctx, t)
	}
	return &StreamInfo{Stream: nopStream(), Type: StreamTypeArbitrary}, nil
}

// blockingPlugin blocks every call until the context expires.
type blockingPlugin struct {
	stubPlugin
}

func newBlockingPlugin(name string) *blockingPlugin {
	p := &blockingPlugin{stubPlugin: stubPlugin{name: name}}
	p.searchFn = func(ctx context.Context, _ string, _ Requester) (*SearchResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	p.streamFn = func(ctx context.Context, _ *Track) (*StreamInfo, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return p
}

// fallbackPlugin adds the optional GetFallback capability.
type fallbackPlugin struct {
	stubPlugin
	fallbackFn func(ctx context.Context, t *Track) (*StreamInfo, error)
	calls      int
}

func (p *fallbackPlugin) GetFallback(ctx context.Context, t *Track) (*StreamInfo, error) {
	p.calls++
	if p.fallbackFn != nil {
		return p.fallbackFn(ctx, t)
	}
	return &StreamInfo{Stream: nopStream(), Type: StreamTypeArbitrary}, nil
}

// validatingPlugin adds the optional Validate capability.
type validatingPlugin struct {
	stubPlugin
	validateFn    func(string) bool
	validateCalls int
}

func (p *validatingPlugin) Validate(url string) bool {
	p.validateCalls++
	if p.validateFn == nil {
		return false
	}
	return p.validateFn(url)
}

// relatedPlugin adds the optional related-tracks capability.
type relatedPlugin struct {
	stubPlugin
	relatedFn func(ctx context.Context, urlOrID string, opts RelatedOptions) ([]*Track, error)
}

func (p *relatedPlugin) GetRelatedTracks(ctx context.Context, urlOrID string, opts RelatedOptions) ([]*Track, error) {
	if p.relatedFn != nil {
		return p.relatedFn(ctx, urlOrID, opts)
	}
	return nil, nil
}

// --- stub extensions ---

type stubExtension struct {
	name   string
	active bool
}

func (e *stubExtension) Name() string          { return e.name }
func (e *stubExtension) Version() string       { return "0.0.0-test" }
func (e *stubExtension) Active(_ *Player) bool { return e.active }

type beforePlayExtension struct {
	stubExtension
	fn func(p *Player, req *PlayRequest)
}

func (e *beforePlayExtension) BeforePlay(p *Player, req *PlayRequest) {
	if e.fn != nil {
		e.fn(p, req)
	}
}

type afterPlayExtension struct {
	stubExtension
	fn func(p *Player, payload AfterPlayPayload)
}

func (e *afterPlayExtension) AfterPlay(p *Player, payload AfterPlayPayload) {
	if e.fn != nil {
		e.fn(p, payload)
	}
}

type searchProviderExtension struct {
	stubExtension
	fn func(ctx context.Context, p *Player, query string, requestedBy Requester) ([]*Track, error)
}

func (e *searchProviderExtension) ProvideSearch(ctx context.Context, p *Player, query string, requestedBy Requester) ([]*Track, error) {
	if e.fn != nil {
		return e.fn(ctx, p, query, requestedBy)
	}
	return nil, nil
}

type streamProviderExtension struct {
	stubExtension
	fn func(ctx context.Context, p *Player, t *Track) (*ProvidedStream, error)
}

func (e *streamProviderExtension) ProvideStream(ctx context.Context, p *Player, t *Track) (*ProvidedStream, error) {
	if e.fn != nil {
		return e.fn(ctx, p, t)
	}
	return nil, nil
}

type lifecycleExtension struct {
	stubExtension
	registered int
	destroyed  int
}

func (e *lifecycleExtension) OnRegister(_ *Player) error {
	e.registered++
	return nil
}

func (e *lifecycleExtension) OnDestroy(_ *Player) error {
	e.destroyed++
	return nil
}

// --- event recording ---

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{ch: make(chan Event, 64)}
}

func (r *eventRecorder) handler(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	select {
	case r.ch <- e:
	default:
	}
}

func (r *eventRecorder) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// wait blocks until an event of the given type arrives or the timeout hits.
func (r *eventRecorder) wait(t EventType, timeout time.Duration) (Event, bool) {
	deadline := time.After(timeout)
	for {
		select {
		case e := <-r.ch:
			if e.Type == t {
				return e, true
			}
		case <-deadline:
			return Event{}, false
		}
	}
}

// --- player under test ---

type testEnv struct {
	player *Player
	conn   *mockConn
	clock  Clock
	events *eventRecorder

	mu      sync.Mutex
	engines []*mockEngine
}

// newTestEnv builds a player with mock collaborators. A nil clock means the
// real one.
func newTestEnv(opts Options, clock Clock) *testEnv {
	env := &testEnv{
		conn:   &mockConn{},
		clock:  clock,
		events: newEventRecorder(),
	}
	deps := Deps{
		Engines: func() AudioEngine {
			e := newMockEngine()
			env.mu.Lock()
			env.engines = append(env.engines, e)
			env.mu.Unlock()
			return e
		},
		Connections: func(_ snowflake.ID) VoiceConnection { return env.conn },
		Clock:       clock,
	}
	env.player = New(snowflake.ID(42), opts, deps)
	env.player.OnAny(env.events.handler)
	return env
}

func (env *testEnv) primary() *mockEngine {
	return env.engineAt(0)
}

func (env *testEnv) engineAt(i int) *mockEngine {
	env.mu.Lock()
	defer env.mu.Unlock()
	if i >= len(env.engines) {
		return nil
	}
	return env.engines[i]
}

func (env *testEnv) engineCount() int {
	env.mu.Lock()
	defer env.mu.Unlock()
	return len(env.engines)
}

// waitEngine polls until the engine reaches the wanted state or the timeout
// elapses, reporting success.
func waitEngine(e *mockEngine, want EngineState, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if e.State() == want {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return e.State() == want
}

// waitTTSEngine polls until the player has a secondary engine.
func (env *testEnv) waitTTSEngine(timeout time.Duration) *mockEngine {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if e := env.engineAt(1); e != nil {
			return e
		}
		time.Sleep(5 * time.Millisecond)
	}
	return env.engineAt(1)
}
