package player

import (
	"context"
	"time"
)

// ttsPollInterval is the cadence at which the TTS drain inspects engine
// state while waiting for an announcement to start or finish.
const ttsPollInterval = 50 * time.Millisecond

// ttsFinishBuffer pads a track's declared duration when bounding playback.
const ttsFinishBuffer = 2 * time.Second

// enqueueTTS adds a spoken announcement to the interrupt queue and starts
// the single-flight drain if it is not already running.
func (p *Player) enqueueTTS(t *Track) {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.ttsQueue = append(p.ttsQueue, t)
	start := !p.ttsActive
	if start {
		p.ttsActive = true
	}
	p.mu.Unlock()

	if start {
		go p.drainTTS()
	}
}

// drainTTS processes the interrupt queue strictly one item at a time.
func (p *Player) drainTTS() {
	for {
		p.mu.Lock()
		if p.destroyed || len(p.ttsQueue) == 0 {
			p.ttsActive = false
			p.mu.Unlock()
			return
		}
		next := p.ttsQueue[0]
		p.ttsQueue = p.ttsQueue[1:]
		p.mu.Unlock()

		p.playTTS(next)
	}
}

// playTTS plays one announcement on the secondary engine: pause the primary
// if it is audible, swap the connection's subscription to the TTS engine,
// play bounded by the configured maximum, then swap back and resume.
func (p *Player) playTTS(t *Track) {
	provided, err := p.resolveStream(context.Background(), t)
	if err != nil {
		p.emit(Event{Type: EventPlayerError, Track: t, Err: err})
		return
	}
	if provided.Info == nil {
		p.debugf("tts track %q produced no local stream, dropping", t.Title)
		return
	}

	engine := p.acquireTTSEngine()
	if engine == nil {
		p.debugf("tts engine creation disabled, dropping %q", t.Title)
		if provided.Info.Stream != nil {
			_ = provided.Info.Stream.Close()
		}
		return
	}

	res := NewResource(t, provided.Info, p.opts.TTS.Volume)

	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()

	primaryState := p.engine.State()
	wasAudible := primaryState == EnginePlaying || primaryState == EngineBuffering
	if wasAudible {
		p.engine.Pause()
	}
	if conn != nil {
		conn.Subscribe(engine)
	}

	p.emit(Event{Type: EventTTSStart, Track: t})
	engine.Play(res)

	// Completion is bounded by the smaller of the configured maximum and
	// the declared duration plus a small buffer, so playback cannot hang.
	limit := p.opts.TTS.MaxDuration
	if t.Duration > 0 {
		if bounded := t.Duration + ttsFinishBuffer; bounded < limit {
			limit = bounded
		}
	}
	if p.waitEngineState(engine, func(s EngineState) bool { return s != EngineIdle }, ttsFinishBuffer) {
		if !p.waitEngineState(engine, func(s EngineState) bool { return s == EngineIdle }, limit) {
			engine.Stop()
		}
	}

	if res.Stream != nil {
		_ = res.Stream.Close()
	}

	if conn != nil {
		conn.Subscribe(p.engine)
	}
	if wasAudible {
		p.engine.Resume()
	}
	p.emit(Event{Type: EventTTSEnd, Track: t})
}

// acquireTTSEngine lazily creates the secondary engine dedicated to TTS.
func (p *Player) acquireTTSEngine() AudioEngine {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ttsEngine == nil {
		if !p.opts.TTS.CreatePlayer {
			return nil
		}
		p.ttsEngine = p.engines()
	}
	return p.ttsEngine
}

// waitEngineState polls the engine until the predicate holds or the timeout
// elapses, reporting whether the predicate was satisfied.
func (p *Player) waitEngineState(e AudioEngine, pred func(EngineState) bool, timeout time.Duration) bool {
	deadline := p.clock.Now().Add(timeout)
	for {
		if pred(e.State()) {
			return true
		}
		if !p.clock.Now().Before(deadline) {
			return false
		}
		<-p.clock.After(ttsPollInterval)
	}
}
