// Package speech contains the utterance controller and the playback queue:
// the pieces that turn segmented chunks into strictly ordered audio output.
package speech

import (
	"sync"

	"github.com/google/uuid"
)

// AudioHandle is one playable clip together with its release callback. The
// handle owns whatever resource backs the audio; Release frees it exactly
// once no matter how many paths reach it.
type AudioHandle struct {
	MessageID uuid.UUID
	Seq       int
	WAV       []byte
	Format    string

	releaseMu sync.Mutex
	release   func()
}

// NewAudioHandle builds a handle. release may be nil when the audio needs no
// explicit reclamation.
func NewAudioHandle(messageID uuid.UUID, seq int, wav []byte, format string, release func()) *AudioHandle {
	return &AudioHandle{MessageID: messageID, Seq: seq, WAV: wav, Format: format, release: release}
}

// Release frees the underlying resource. Safe to call more than once; only
// the first call has effect.
func (h *AudioHandle) Release() {
	h.releaseMu.Lock()
	fn := h.release
	h.release = nil
	h.releaseMu.Unlock()
	if fn != nil {
		fn()
	}
}

// Sink is the audio output device. Play must eventually invoke done exactly
// once with the playback outcome, unless Stop is called first, in which case
// the pending done may be dropped. The queue tolerates both.
type Sink interface {
	Play(h *AudioHandle, done func(error))
	Stop()
}

// PlaybackQueue owns a single Sink and plays enqueued handles back to back
// in submission order. A playback error counts as completion so one bad
// clip never stalls the queue.
type PlaybackQueue struct {
	mu      sync.Mutex
	sink    Sink
	pending []*AudioHandle
	current *AudioHandle
	gen     int
}

func NewPlaybackQueue(sink Sink) *PlaybackQueue {
	return &PlaybackQueue{sink: sink}
}

// Enqueue appends a handle; if nothing is playing it starts immediately.
func (q *PlaybackQueue) Enqueue(h *AudioHandle) {
	q.mu.Lock()
	q.pending = append(q.pending, h)
	start := q.current == nil
	q.mu.Unlock()
	if start {
		q.advance()
	}
}

// Stop halts playback, releases the current and every pending handle, and
// resets to idle. Completion callbacks from the superseded generation become
// no-ops.
func (q *PlaybackQueue) Stop() {
	q.mu.Lock()
	q.gen++
	current := q.current
	pending := q.pending
	q.current = nil
	q.pending = nil
	q.mu.Unlock()

	q.sink.Stop()
	if current != nil {
		current.Release()
	}
	for _, h := range pending {
		h.Release()
	}
}

// Playing reports whether a handle is currently at the sink.
func (q *PlaybackQueue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current != nil
}

// PendingCount returns the number of handles waiting behind the current one.
func (q *PlaybackQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *PlaybackQueue) advance() {
	q.mu.Lock()
	if q.current != nil || len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}
	h := q.pending[0]
	q.pending = q.pending[1:]
	q.current = h
	gen := q.gen
	q.mu.Unlock()

	q.sink.Play(h, func(error) {
		q.finished(gen, h)
	})
}

// finished handles a sink completion, natural or errored. Stale callbacks
// from before a Stop are ignored; Stop already released their handles.
func (q *PlaybackQueue) finished(gen int, h *AudioHandle) {
	q.mu.Lock()
	if gen != q.gen || q.current != h {
		q.mu.Unlock()
		return
	}
	q.current = nil
	q.mu.Unlock()

	h.Release()
	q.advance()
}
