package player

import "math/rand"

// HistoryCap bounds the queue history; the oldest entry is evicted first.
const HistoryCap = 200

// Queue is the ordered track sequence owned by a single Player. It is not
// safe for concurrent use on its own; the owning Player serializes access.
type Queue struct {
	upcoming []*Track
	current  *Track
	history  []*Track
	willNext *Track
	related  []*Track
	loopMode LoopMode
	autoPlay bool
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Add appends a track to the end of the queue.
func (q *Queue) Add(t *Track) {
	q.upcoming = append(q.upcoming, t)
}

// AddMultiple appends tracks to the end of the queue.
func (q *Queue) AddMultiple(tracks []*Track) {
	q.upcoming = append(q.upcoming, tracks...)
}

// Insert places a track at the given index in the upcoming list. Index 0
// means play-next; out-of-range indexes clamp to the nearest end.
func (q *Queue) Insert(t *Track, index int) {
	if index < 0 {
		index = 0
	}
	if index >= len(q.upcoming) {
		q.upcoming = append(q.upcoming, t)
		return
	}
	q.upcoming = append(q.upcoming[:index], append([]*Track{t}, q.upcoming[index:]...)...)
}

// InsertMultiple places tracks at the given index, preserving their order.
func (q *Queue) InsertMultiple(tracks []*Track, index int) {
	for i, t := range tracks {
		q.Insert(t, index+i)
	}
}

// Remove removes and returns the track at the given index, or nil if the
// index is out of range.
func (q *Queue) Remove(index int) *Track {
	if index < 0 || index >= len(q.upcoming) {
		return nil
	}
	t := q.upcoming[index]
	q.upcoming = append(q.upcoming[:index], q.upcoming[index+1:]...)
	return t
}

// Next advances the queue and returns the new current track, or nil if the
// queue is exhausted.
//
// With LoopModeTrack and ignoreLoop false the current track is returned again
// without touching history. Otherwise the finished track moves to history and
// the head of upcoming becomes current. With LoopModeQueue an exhausted
// upcoming list is refilled from history in its original order.
func (q *Queue) Next(ignoreLoop bool) *Track {
	if q.loopMode == LoopModeTrack && !ignoreLoop && q.current != nil {
		return q.current
	}

	if q.current != nil {
		q.pushHistory(q.current)
		q.current = nil
	}

	if len(q.upcoming) == 0 && q.loopMode == LoopModeQueue && len(q.history) > 0 {
		q.upcoming = q.history
		q.history = nil
	}

	if len(q.upcoming) == 0 {
		return nil
	}

	q.current = q.upcoming[0]
	q.upcoming = q.upcoming[1:]
	return q.current
}

// Previous pops the most recent history entry and makes it current, returning
// it. The caller is responsible for re-inserting the interrupted track at the
// front of the queue if it should play again.
func (q *Queue) Previous() *Track {
	if len(q.history) == 0 {
		return nil
	}
	t := q.history[len(q.history)-1]
	q.history = q.history[:len(q.history)-1]
	q.current = t
	return t
}

func (q *Queue) pushHistory(t *Track) {
	q.history = append(q.history, t)
	if len(q.history) > HistoryCap {
		q.history = q.history[len(q.history)-HistoryCap:]
	}
}

// Clear drops all upcoming tracks, the current track, and the lookahead.
func (q *Queue) Clear() {
	q.upcoming = nil
	q.current = nil
	q.willNext = nil
}

// Shuffle randomizes the order of the upcoming tracks only.
func (q *Queue) Shuffle() {
	rand.Shuffle(len(q.upcoming), func(i, j int) {
		q.upcoming[i], q.upcoming[j] = q.upcoming[j], q.upcoming[i]
	})
}

// Current returns the active track, or nil.
func (q *Queue) Current() *Track {
	return q.current
}

// Upcoming returns a copy of the upcoming track list.
func (q *Queue) Upcoming() []*Track {
	out := make([]*Track, len(q.upcoming))
	copy(out, q.upcoming)
	return out
}

// History returns a copy of the history list, oldest first.
func (q *Queue) History() []*Track {
	out := make([]*Track, len(q.history))
	copy(out, q.history)
	return out
}

// Len returns the number of upcoming tracks.
func (q *Queue) Len() int {
	return len(q.upcoming)
}

// IsEmpty reports whether there are no upcoming tracks.
func (q *Queue) IsEmpty() bool {
	return len(q.upcoming) == 0
}

// Loop returns the current loop mode.
func (q *Queue) Loop() LoopMode {
	return q.loopMode
}

// SetLoop sets the loop mode.
func (q *Queue) SetLoop(mode LoopMode) {
	q.loopMode = mode
}

// AutoPlay reports whether autoplay continuation is enabled.
func (q *Queue) AutoPlay() bool {
	return q.autoPlay
}

// SetAutoPlay toggles autoplay continuation.
func (q *Queue) SetAutoPlay(v bool) {
	q.autoPlay = v
}

// WillNext returns the cached autoplay candidate, or nil.
func (q *Queue) WillNext() *Track {
	return q.willNext
}

// SetWillNext caches a single autoplay candidate, replacing any previous one.
func (q *Queue) SetWillNext(t *Track) {
	q.willNext = t
}

// Related returns the last computed related-tracks set.
func (q *Queue) Related() []*Track {
	return q.related
}

// SetRelated stores the last computed related-tracks set.
func (q *Queue) SetRelated(tracks []*Track) {
	q.related = tracks
}
