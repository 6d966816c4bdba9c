package player

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

func TestPlayStartsFirstTrack(t *testing.T) {
	env := newTestEnv(Options{}, nil)
	env.player.Plugins().Register(&stubPlugin{name: "stub"})

	if err := env.player.Play(context.Background(), "song", Requester{Name: "tester"}); err != nil {
		t.Fatalf("play failed: %v", err)
	}

	played := env.primary().playedTracks()
	if len(played) != 1 || played[0].Source != "stub" {
		t.Fatalf("expected one stub track playing, got %v", played)
	}
	if env.player.State() != StatePlaying || !env.player.IsPlaying() {
		t.Fatalf("expected playing state, got %v", env.player.State())
	}
	if events := env.events.ofType(EventQueueAdd); len(events) != 1 {
		t.Fatalf("expected one queueAdd, got %d", len(events))
	}
	if events := env.events.ofType(EventTrackStart); len(events) != 1 {
		t.Fatalf("expected one trackStart, got %d", len(events))
	}
}

func TestPlayEnqueuesWhileBusy(t *testing.T) {
	env := newTestEnv(Options{}, nil)
	env.player.Plugins().Register(&stubPlugin{name: "stub"})

	ctx := context.Background()
	if err := env.player.Play(ctx, "first", Requester{}); err != nil {
		t.Fatalf("first play failed: %v", err)
	}
	if err := env.player.Play(ctx, "second", Requester{}); err != nil {
		t.Fatalf("second play failed: %v", err)
	}

	if got := len(env.primary().playedTracks()); got != 1 {
		t.Fatalf("second track must wait its turn, engine saw %d", got)
	}
	if env.player.Queue().Len() != 1 {
		t.Fatalf("expected 1 queued track, got %d", env.player.Queue().Len())
	}

	env.primary().Stop() // first track finishes

	played := env.primary().playedTracks()
	if len(played) != 2 {
		t.Fatalf("expected the queue to advance, engine saw %d tracks", len(played))
	}
	if events := env.events.ofType(EventTrackEnd); len(events) != 1 {
		t.Fatalf("expected one trackEnd, got %d", len(events))
	}
}

func TestPlayWhilePausedKeepsCurrentTrack(t *testing.T) {
	env := newTestEnv(Options{}, nil)
	env.player.Plugins().Register(&stubPlugin{name: "stub"})

	ctx := context.Background()
	if err := env.player.Play(ctx, "first", Requester{}); err != nil {
		t.Fatalf("first play failed: %v", err)
	}
	if !env.player.Pause() {
		t.Fatalf("pause must succeed while playing")
	}
	if err := env.player.Play(ctx, "second", Requester{}); err != nil {
		t.Fatalf("second play failed: %v", err)
	}

	if got := len(env.primary().playedTracks()); got != 1 {
		t.Fatalf("enqueue while paused must not start a new track, engine saw %d", got)
	}
	if !env.player.IsPaused() {
		t.Fatalf("player must stay paused")
	}
	cur := env.player.Current()
	if cur == nil || cur.ID != "stub-first" {
		t.Fatalf("paused track must stay current, got %v", cur)
	}
	if got := len(env.player.Upcoming()); got != 1 {
		t.Fatalf("expected the new track queued behind the paused one, got %d", got)
	}

	env.player.Resume()
	env.primary().Stop() // paused track finishes, queue advances

	played := env.primary().playedTracks()
	if len(played) != 2 || played[1].ID != "stub-second" {
		t.Fatalf("expected the queued track to play after the paused one, got %v", played)
	}
}

func TestPlayRestartsAfterQueueEnd(t *testing.T) {
	env := newTestEnv(Options{}, nil)
	env.player.Plugins().Register(&stubPlugin{name: "stub"})

	ctx := context.Background()
	_ = env.player.Play(ctx, "first", Requester{})
	env.primary().Stop() // queue drains

	if err := env.player.Play(ctx, "second", Requester{}); err != nil {
		t.Fatalf("play after queue end failed: %v", err)
	}
	if got := len(env.primary().playedTracks()); got != 2 {
		t.Fatalf("play after queue end must start immediately, engine saw %d tracks", got)
	}
}

func TestPlaySearchTimeoutFallsThroughToNextPlugin(t *testing.T) {
	env := newTestEnv(Options{ExtractorTimeout: 50 * time.Millisecond}, nil)
	env.player.Plugins().Register(newBlockingPlugin("slow"))
	env.player.Plugins().Register(&stubPlugin{name: "fast"})

	start := time.Now()
	err := env.player.Play(context.Background(), "song", Requester{})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("play must succeed via the second plugin: %v", err)
	}
	if elapsed > 2*50*time.Millisecond+30*time.Millisecond {
		t.Fatalf("resolution took %v, exceeding twice the extractor timeout", elapsed)
	}
	played := env.primary().playedTracks()
	if len(played) != 1 || played[0].Source != "fast" {
		t.Fatalf("expected the fast plugin's track, got %v", played)
	}
}

func TestPlayNoPluginMatches(t *testing.T) {
	env := newTestEnv(Options{}, nil)
	env.player.Plugins().Register(&stubPlugin{name: "picky", handles: func(string) bool { return false }})

	err := env.player.Play(context.Background(), "song", Requester{})
	if !errors.Is(err, ErrNoPlugin) {
		t.Fatalf("expected ErrNoPlugin, got %v", err)
	}
	if events := env.events.ofType(EventPlayerError); len(events) != 1 {
		t.Fatalf("expected one playerError, got %d", len(events))
	}
}

func TestPlayTracksEmitsListEvent(t *testing.T) {
	env := newTestEnv(Options{}, nil)
	env.player.Plugins().Register(&stubPlugin{name: "stub"})

	tracks := []*Track{testTrack("a", "stub"), testTrack("b", "stub"), testTrack("c", "stub")}
	if err := env.player.PlayTracks(context.Background(), tracks); err != nil {
		t.Fatalf("playTracks failed: %v", err)
	}

	if events := env.events.ofType(EventQueueAddList); len(events) != 1 || len(events[0].Tracks) != 3 {
		t.Fatalf("expected one queueAddList with 3 tracks, got %v", events)
	}
	if env.player.Queue().Len() != 2 {
		t.Fatalf("expected 2 tracks waiting behind the current one, got %d", env.player.Queue().Len())
	}
}

func TestStopClearsQueueAndEmitsQueueEnd(t *testing.T) {
	env := newTestEnv(Options{}, nil)
	env.player.Plugins().Register(&stubPlugin{name: "stub"})

	ctx := context.Background()
	_ = env.player.Play(ctx, "first", Requester{})
	_ = env.player.Play(ctx, "second", Requester{})

	env.player.Stop()

	if !env.player.Queue().IsEmpty() {
		t.Fatalf("stop must clear the queue")
	}
	if events := env.events.ofType(EventPlayerStop); len(events) != 1 {
		t.Fatalf("expected one playerStop, got %d", len(events))
	}
	if events := env.events.ofType(EventQueueEnd); len(events) != 1 {
		t.Fatalf("expected one queueEnd, got %d", len(events))
	}
	if len(env.primary().playedTracks()) != 1 {
		t.Fatalf("nothing new may start after stop")
	}
}

func TestSkipDoesNotReplayLoopedTrack(t *testing.T) {
	env := newTestEnv(Options{}, nil)
	env.player.Plugins().Register(&stubPlugin{name: "stub"})
	env.player.Queue().SetLoop(LoopModeTrack)

	if err := env.player.Play(context.Background(), "song", Requester{}); err != nil {
		t.Fatalf("play failed: %v", err)
	}

	env.player.Skip()

	if got := len(env.primary().playedTracks()); got != 1 {
		t.Fatalf("skipped track must not replay in track-loop mode, engine saw %d starts", got)
	}
	if events := env.events.ofType(EventQueueEnd); len(events) != 1 {
		t.Fatalf("expected queueEnd after skipping the only track, got %d", len(events))
	}
}

func TestTrackLoopReplaysOnNaturalEnd(t *testing.T) {
	env := newTestEnv(Options{}, nil)
	env.player.Plugins().Register(&stubPlugin{name: "stub"})
	env.player.Queue().SetLoop(LoopModeTrack)

	if err := env.player.Play(context.Background(), "song", Requester{}); err != nil {
		t.Fatalf("play failed: %v", err)
	}

	env.primary().Stop() // natural end, loop replays

	played := env.primary().playedTracks()
	if len(played) != 2 || played[0] != played[1] {
		t.Fatalf("expected the same track twice, got %v", played)
	}
}

func TestPauseResume(t *testing.T) {
	env := newTestEnv(Options{}, nil)
	env.player.Plugins().Register(&stubPlugin{name: "stub"})
	_ = env.player.Play(context.Background(), "song", Requester{})

	if !env.player.Pause() {
		t.Fatalf("pause must succeed while playing")
	}
	if !env.player.IsPaused() || env.player.State() != StatePaused {
		t.Fatalf("expected paused state")
	}
	if env.player.Pause() {
		t.Fatalf("pausing twice must report false")
	}

	if !env.player.Resume() {
		t.Fatalf("resume must succeed while paused")
	}
	if !env.player.IsPlaying() {
		t.Fatalf("expected playing after resume")
	}
	if env.player.Resume() {
		t.Fatalf("resuming twice must report false")
	}

	if got := len(env.events.ofType(EventPlayerPause)); got != 1 {
		t.Fatalf("expected one playerPause, got %d", got)
	}
	if got := len(env.events.ofType(EventPlayerResume)); got != 1 {
		t.Fatalf("expected one playerResume, got %d", got)
	}
}

func TestSetVolumeBounds(t *testing.T) {
	tests := []struct {
		volume int
		want   bool
	}{
		{-1, false},
		{0, true},
		{100, true},
		{200, true},
		{201, false},
	}
	for _, tt := range tests {
		env := newTestEnv(Options{}, nil)
		if got := env.player.SetVolume(tt.volume); got != tt.want {
			t.Errorf("SetVolume(%d) = %v, want %v", tt.volume, got, tt.want)
		}
		if tt.want && env.player.Volume() != tt.volume {
			t.Errorf("volume not applied: got %d, want %d", env.player.Volume(), tt.volume)
		}
		if !tt.want && env.player.Volume() != DefaultVolume {
			t.Errorf("rejected volume must leave the value unchanged, got %d", env.player.Volume())
		}
	}
}

func TestSetVolumeFadesLiveResource(t *testing.T) {
	clk := newFakeClock()
	env := newTestEnv(Options{}, clk)
	env.player.Plugins().Register(&stubPlugin{name: "stub"})
	_ = env.player.Play(context.Background(), "song", Requester{})

	res := env.primary().currentResource()
	if res == nil {
		t.Fatalf("expected a live resource")
	}
	if res.Volume() != DefaultVolume {
		t.Fatalf("expected initial volume %d, got %d", DefaultVolume, res.Volume())
	}

	if !env.player.SetVolume(200) {
		t.Fatalf("SetVolume rejected a valid value")
	}

	deadline := time.Now().Add(2 * time.Second)
	for res.Volume() != 200 && time.Now().Before(deadline) {
		clk.Advance(volumeFadeTick)
		time.Sleep(2 * time.Millisecond)
	}
	if res.Volume() != 200 {
		t.Fatalf("fade never reached the target, stuck at %d", res.Volume())
	}
	if events := env.events.ofType(EventVolumeChange); len(events) != 1 || events[0].Volume != 200 {
		t.Fatalf("expected one volumeChange(200), got %v", events)
	}
}

func TestStreamFallbackChain(t *testing.T) {
	env := newTestEnv(Options{ExtractorTimeout: time.Second}, nil)
	primary := &stubPlugin{
		name:     "primary",
		streamFn: func(context.Context, *Track) (*StreamInfo, error) { return nil, errStubStream },
	}
	rescue := &fallbackPlugin{stubPlugin: stubPlugin{name: "rescue", handles: func(string) bool { return false }}}
	env.player.Plugins().Register(primary)
	env.player.Plugins().Register(rescue)

	if err := env.player.Play(context.Background(), "song", Requester{}); err != nil {
		t.Fatalf("play must succeed through the fallback chain: %v", err)
	}
	if rescue.calls == 0 {
		t.Fatalf("fallback provider was never consulted")
	}
	if got := len(env.primary().playedTracks()); got != 1 {
		t.Fatalf("expected the track to start from the fallback stream, got %d starts", got)
	}
}

func TestPlayNextGivesUpAfterBoundedFailures(t *testing.T) {
	env := newTestEnv(Options{ExtractorTimeout: time.Second}, nil)
	broken := &stubPlugin{
		name:     "broken",
		streamFn: func(context.Context, *Track) (*StreamInfo, error) { return nil, errStubStream },
	}
	env.player.Plugins().Register(broken)

	tracks := make([]*Track, maxAdvanceAttempts+2)
	for i := range tracks {
		tracks[i] = testTrack(string(rune('a'+i)), "broken")
	}
	if err := env.player.PlayTracks(context.Background(), tracks); err != nil {
		t.Fatalf("playTracks failed: %v", err)
	}

	// One error per failed track plus the final give-up.
	if got := len(env.events.ofType(EventPlayerError)); got != maxAdvanceAttempts+1 {
		t.Fatalf("expected %d playerError events, got %d", maxAdvanceAttempts+1, got)
	}
	if got := len(env.events.ofType(EventQueueEnd)); got != 1 {
		t.Fatalf("expected one queueEnd after giving up, got %d", got)
	}
	if remaining := env.player.Queue().Len(); remaining != 2 {
		t.Fatalf("expected 2 untried tracks left, got %d", remaining)
	}
	if len(env.primary().playedTracks()) != 0 {
		t.Fatalf("nothing should have reached the engine")
	}
}

func TestAutoplayContinuesWithLookahead(t *testing.T) {
	env := newTestEnv(Options{ExtractorTimeout: time.Second}, nil)

	related := testTrack("related", "source")
	var relatedHistory []string
	var mu sync.Mutex
	plugin := &relatedPlugin{
		stubPlugin: stubPlugin{name: "source"},
		relatedFn: func(_ context.Context, _ string, opts RelatedOptions) ([]*Track, error) {
			mu.Lock()
			relatedHistory = append([]string(nil), opts.History...)
			mu.Unlock()
			return []*Track{related}, nil
		},
	}
	env.player.Plugins().Register(plugin)
	env.player.Queue().SetAutoPlay(true)

	if err := env.player.Play(context.Background(), "song", Requester{}); err != nil {
		t.Fatalf("play failed: %v", err)
	}

	// The lookahead runs in the background.
	if _, ok := env.events.wait(EventWillPlay, 2*time.Second); !ok {
		t.Fatalf("willPlay never fired")
	}
	if env.player.Queue().WillNext() != related {
		t.Fatalf("expected the lookahead cached on the queue")
	}
	mu.Lock()
	if len(relatedHistory) == 0 {
		mu.Unlock()
		t.Fatalf("related lookup must receive the playback history")
	}
	mu.Unlock()

	env.primary().Stop() // current track ends, autoplay takes over

	played := env.primary().playedTracks()
	if len(played) != 2 || played[1] != related {
		t.Fatalf("expected the related track to autoplay, got %v", played)
	}
}

func TestQueueEndWithoutAutoplay(t *testing.T) {
	env := newTestEnv(Options{}, nil)
	env.player.Plugins().Register(&stubPlugin{name: "stub"})

	_ = env.player.Play(context.Background(), "song", Requester{})
	env.primary().Stop()

	if got := len(env.events.ofType(EventQueueEnd)); got != 1 {
		t.Fatalf("expected one queueEnd, got %d", got)
	}
	if env.player.IsPlaying() {
		t.Fatalf("player must be idle after the queue drains")
	}
}

func TestPreviousReplaysHistoryAndRequeuesInterrupted(t *testing.T) {
	env := newTestEnv(Options{}, nil)
	env.player.Plugins().Register(&stubPlugin{name: "stub"})

	ctx := context.Background()
	_ = env.player.Play(ctx, "first", Requester{})
	_ = env.player.Play(ctx, "second", Requester{})
	env.primary().Stop() // first finishes, second starts

	first := env.primary().playedTracks()[0]
	second := env.primary().playedTracks()[1]

	if err := env.player.Previous(); err != nil {
		t.Fatalf("previous failed: %v", err)
	}

	played := env.primary().playedTracks()
	if played[len(played)-1] != first {
		t.Fatalf("expected the history track to replay, got %v", played[len(played)-1])
	}
	upcoming := env.player.Queue().Upcoming()
	if len(upcoming) == 0 || upcoming[0] != second {
		t.Fatalf("interrupted track must be requeued at the front, got %v", upcoming)
	}
}

func TestPreviousClosesInterruptedStream(t *testing.T) {
	env := newTestEnv(Options{}, nil)

	var mu sync.Mutex
	streams := map[string]*countingStream{}
	env.player.Plugins().Register(&stubPlugin{
		name: "stub",
		streamFn: func(_ context.Context, tr *Track) (*StreamInfo, error) {
			s := &countingStream{}
			mu.Lock()
			streams[tr.ID] = s
			mu.Unlock()
			return &StreamInfo{Stream: s, Type: StreamTypeArbitrary}, nil
		},
	})

	ctx := context.Background()
	_ = env.player.Play(ctx, "first", Requester{})
	_ = env.player.Play(ctx, "second", Requester{})
	env.primary().Stop() // first finishes, second starts

	if err := env.player.Previous(); err != nil {
		t.Fatalf("previous failed: %v", err)
	}

	mu.Lock()
	second := streams["stub-second"]
	mu.Unlock()
	if second == nil {
		t.Fatalf("no stream was resolved for the interrupted track")
	}
	if got := second.closeCount(); got != 1 {
		t.Fatalf("interrupted track's stream must be closed, close count %d", got)
	}

	ends := env.events.ofType(EventTrackEnd)
	if len(ends) != 2 || ends[1].Track.ID != "stub-second" {
		t.Fatalf("expected trackEnd for the interrupted track, got %v", ends)
	}
}

func TestPreviousWithoutHistory(t *testing.T) {
	env := newTestEnv(Options{}, nil)
	if err := env.player.Previous(); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("expected ErrNoHistory, got %v", err)
	}
}

func TestConnectSubscribesPrimaryEngine(t *testing.T) {
	env := newTestEnv(Options{}, nil)

	if err := env.player.Connect(context.Background(), snowflake.ID(777)); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	subs := env.conn.subscriptions()
	if len(subs) != 1 || subs[0] != AudioEngine(env.primary()) {
		t.Fatalf("expected the primary engine subscribed, got %v", subs)
	}

	if err := env.player.Disconnect(context.Background()); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}
	if !env.conn.closed {
		t.Fatalf("disconnect must close the connection")
	}
}

func TestConnectionDropDestroysPlayer(t *testing.T) {
	env := newTestEnv(Options{}, nil)
	if err := env.player.Connect(context.Background(), snowflake.ID(777)); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	env.conn.onClosed(errors.New("voice websocket lost"))

	if env.player.State() != StateDestroyed {
		t.Fatalf("expected destroyed player, got %v", env.player.State())
	}
	if got := len(env.events.ofType(EventConnectionError)); got != 1 {
		t.Fatalf("expected one connectionError, got %d", got)
	}
	if got := len(env.events.ofType(EventPlayerDestroy)); got != 1 {
		t.Fatalf("expected one playerDestroy, got %d", got)
	}
}

func TestLeaveOnEndTimer(t *testing.T) {
	clk := newFakeClock()
	env := newTestEnv(Options{LeaveOnEnd: true, LeaveTimeout: time.Minute}, clk)
	env.player.Plugins().Register(&stubPlugin{name: "stub"})

	_ = env.player.Play(context.Background(), "song", Requester{})
	env.primary().Stop() // queue drains, timer armed

	clk.Advance(time.Minute + time.Second)

	if env.player.State() != StateDestroyed {
		t.Fatalf("expected the idle timer to destroy the player")
	}
}

func TestLeaveTimerCancelledByNewActivity(t *testing.T) {
	clk := newFakeClock()
	env := newTestEnv(Options{LeaveOnEnd: true, LeaveTimeout: time.Minute}, clk)
	env.player.Plugins().Register(&stubPlugin{name: "stub"})

	ctx := context.Background()
	_ = env.player.Play(ctx, "song", Requester{})
	env.primary().Stop()

	clk.Advance(30 * time.Second)
	_ = env.player.Play(ctx, "another", Requester{})
	clk.Advance(2 * time.Minute)

	if env.player.State() == StateDestroyed {
		t.Fatalf("new activity must cancel the idle timer")
	}
}

func TestEmptyChannelArmsLeaveTimer(t *testing.T) {
	clk := newFakeClock()
	env := newTestEnv(Options{LeaveOnEmpty: true, LeaveTimeout: time.Minute}, clk)
	env.player.Plugins().Register(&stubPlugin{name: "stub"})

	// Mid-playback: an empty channel still disconnects.
	_ = env.player.Play(context.Background(), "song", Requester{})

	env.player.NotifyChannelEmpty()
	clk.Advance(time.Minute + time.Second)

	if env.player.State() != StateDestroyed {
		t.Fatalf("expected the empty-channel timer to destroy the player")
	}
}

func TestEmptyChannelTimerDisarmedWhenListenersReturn(t *testing.T) {
	clk := newFakeClock()
	env := newTestEnv(Options{LeaveOnEmpty: true, LeaveTimeout: time.Minute}, clk)

	env.player.NotifyChannelEmpty()
	clk.Advance(30 * time.Second)
	env.player.NotifyChannelOccupied()
	clk.Advance(2 * time.Minute)

	if env.player.State() == StateDestroyed {
		t.Fatalf("returning listeners must disarm the timer")
	}
}

func TestEmptyChannelIgnoredWhenDisabled(t *testing.T) {
	clk := newFakeClock()
	env := newTestEnv(Options{LeaveTimeout: time.Minute}, clk)

	env.player.NotifyChannelEmpty()
	clk.Advance(2 * time.Minute)

	if env.player.State() == StateDestroyed {
		t.Fatalf("empty-channel reports must be inert when the option is off")
	}
}

func TestDestroyTearsEverythingDown(t *testing.T) {
	env := newTestEnv(Options{}, nil)
	env.player.Plugins().Register(&stubPlugin{name: "stub"})

	ctx := context.Background()
	if err := env.player.Connect(ctx, snowflake.ID(777)); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	_ = env.player.Play(ctx, "first", Requester{})
	_ = env.player.Play(ctx, "second", Requester{})

	if err := env.player.Destroy(ctx); err != nil {
		t.Fatalf("destroy failed: %v", err)
	}

	if env.player.State() != StateDestroyed {
		t.Fatalf("expected destroyed state")
	}
	if !env.player.Queue().IsEmpty() {
		t.Fatalf("destroy must clear the queue")
	}
	if len(env.player.Plugins().GetAll()) != 0 {
		t.Fatalf("destroy must unregister plugins")
	}
	if !env.conn.closed {
		t.Fatalf("destroy must close the voice connection")
	}
	if got := len(env.events.ofType(EventPlayerDestroy)); got != 1 {
		t.Fatalf("expected one playerDestroy, got %d", got)
	}

	if err := env.player.Play(ctx, "late", Requester{}); !errors.Is(err, ErrPlayerDestroyed) {
		t.Fatalf("play after destroy must fail with ErrPlayerDestroyed, got %v", err)
	}
}
