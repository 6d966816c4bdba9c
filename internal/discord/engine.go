package discord

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/sglre6355/groovebot/internal/player"
)

const (
	sampleRate    = 48000
	channels      = 2
	frameSize     = 960 // 20ms at 48kHz
	frameDuration = 20 * time.Millisecond
)

// frameSource yields encoded Opus packets, one per 20ms frame.
type frameSource interface {
	NextFrame() ([]byte, error)
}

// frameSink is where an engine delivers its frames. The voice connection
// attaches itself here when the engine is subscribed.
type frameSink interface {
	sendFrame(frame []byte) error
	speaking(on bool)
}

// playbackSession is one Play invocation. A newer session invalidates the
// previous one's transitions.
type playbackSession struct {
	cancel context.CancelFunc
}

// Engine plays resources over a Discord voice connection: Ogg/Opus streams
// are packetized and passed through untouched, everything else goes through
// ffmpeg and a local Opus encoder with per-frame volume.
type Engine struct {
	mu        sync.Mutex
	state     player.EngineState
	observers []func(prev, next player.EngineState)
	session   *playbackSession
	sink      frameSink

	pauseMu sync.Mutex
	pauseCh chan struct{} // closed while running
}

// NewEngine creates an idle engine.
func NewEngine() *Engine {
	e := &Engine{pauseCh: make(chan struct{})}
	close(e.pauseCh)
	return e
}

// NewEngineFactory returns the factory wiring engines into a player.
func NewEngineFactory() player.EngineFactory {
	return func() player.AudioEngine {
		return NewEngine()
	}
}

// Play starts playback of the resource, replacing any active session.
func (e *Engine) Play(res *player.Resource) {
	ctx, cancel := context.WithCancel(context.Background())
	sess := &playbackSession{cancel: cancel}

	e.mu.Lock()
	if e.session != nil {
		e.session.cancel()
	}
	e.session = sess
	e.mu.Unlock()

	e.resumeGate()
	e.transition(player.EngineBuffering)
	go e.run(ctx, sess, res)
}

func (e *Engine) run(ctx context.Context, sess *playbackSession, res *player.Resource) {
	src, cleanup, err := e.openSource(ctx, res)
	if err != nil {
		slog.Warn("failed to open audio source", "track", res.Track.Title, "error", err)
		e.finish(sess)
		return
	}
	if cleanup != nil {
		defer cleanup()
	}

	if sink := e.currentSink(); sink != nil {
		sink.speaking(true)
		defer sink.speaking(false)
	}

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	started := false

	for {
		if err := e.waitResume(ctx); err != nil {
			return
		}

		frame, err := src.NextFrame()
		if err != nil {
			if err != io.EOF {
				slog.Debug("audio source ended with error", "track", res.Track.Title, "error", err)
			}
			e.finish(sess)
			return
		}

		if !started {
			started = true
			e.transitionIf(sess, player.EnginePlaying)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if sink := e.currentSink(); sink != nil {
			if err := sink.sendFrame(frame); err != nil {
				e.finish(sess)
				return
			}
		}
	}
}

func (e *Engine) openSource(ctx context.Context, res *player.Resource) (frameSource, func(), error) {
	switch res.Type {
	case player.StreamTypeOggOpus:
		return newOggOpusSource(res.Stream), nil, nil
	default:
		// webm/opus and arbitrary containers are demuxed by ffmpeg; the
		// PCM path is also what makes live volume possible.
		pcm, cleanup, err := startFFmpeg(ctx, res.Stream)
		if err != nil {
			return nil, nil, err
		}
		src, err := newPCMOpusSource(pcm, res)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		return src, cleanup, nil
	}
}

// Pause reports whether the engine transitioned to paused.
func (e *Engine) Pause() bool {
	e.mu.Lock()
	playing := e.state == player.EnginePlaying || e.state == player.EngineBuffering
	e.mu.Unlock()
	if !playing {
		return false
	}

	e.pauseMu.Lock()
	select {
	case <-e.pauseCh:
		e.pauseCh = make(chan struct{})
	default:
	}
	e.pauseMu.Unlock()

	e.transition(player.EnginePaused)
	return true
}

// Resume reports whether the engine transitioned back to playing.
func (e *Engine) Resume() bool {
	e.mu.Lock()
	paused := e.state == player.EnginePaused || e.state == player.EngineAutoPaused
	e.mu.Unlock()
	if !paused {
		return false
	}

	e.resumeGate()
	e.transition(player.EnginePlaying)
	return true
}

func (e *Engine) resumeGate() {
	e.pauseMu.Lock()
	select {
	case <-e.pauseCh:
	default:
		close(e.pauseCh)
	}
	e.pauseMu.Unlock()
}

// waitResume blocks while the pause gate is shut.
func (e *Engine) waitResume(ctx context.Context) error {
	e.pauseMu.Lock()
	gate := e.pauseCh
	e.pauseMu.Unlock()
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels the active session and returns the engine to idle.
func (e *Engine) Stop() {
	e.mu.Lock()
	sess := e.session
	e.session = nil
	e.mu.Unlock()

	if sess != nil {
		sess.cancel()
	}
	e.resumeGate()
	e.transition(player.EngineIdle)
}

// State returns the engine state.
func (e *Engine) State() player.EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// OnStateChange registers a transition observer.
func (e *Engine) OnStateChange(fn func(prev, next player.EngineState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, fn)
}

func (e *Engine) transition(next player.EngineState) {
	e.mu.Lock()
	prev := e.state
	if prev == next {
		e.mu.Unlock()
		return
	}
	e.state = next
	observers := make([]func(player.EngineState, player.EngineState), len(e.observers))
	copy(observers, e.observers)
	e.mu.Unlock()

	for _, fn := range observers {
		fn(prev, next)
	}
}

// transitionIf applies a transition only if the session is still current.
func (e *Engine) transitionIf(sess *playbackSession, next player.EngineState) {
	e.mu.Lock()
	current := e.session == sess
	e.mu.Unlock()
	if current {
		e.transition(next)
	}
}

// finish marks the natural end of a session.
func (e *Engine) finish(sess *playbackSession) {
	e.mu.Lock()
	if e.session == sess {
		e.session = nil
	} else {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	e.transition(player.EngineIdle)
}

// setSink attaches or detaches the frame destination.
func (e *Engine) setSink(s frameSink) {
	e.mu.Lock()
	e.sink = s
	e.mu.Unlock()
}

func (e *Engine) currentSink() frameSink {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sink
}
