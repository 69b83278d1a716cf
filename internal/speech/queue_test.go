package speech

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
)

// fakeSink records playback and lets tests drive completion by hand.
type fakeSink struct {
	mu     sync.Mutex
	played []*AudioHandle
	dones  []func(error)
	stops  int
	auto   bool
}

func (s *fakeSink) Play(h *AudioHandle, done func(error)) {
	s.mu.Lock()
	s.played = append(s.played, h)
	if !s.auto {
		s.dones = append(s.dones, done)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	done(nil)
}

func (s *fakeSink) Stop() {
	s.mu.Lock()
	s.stops++
	s.mu.Unlock()
}

func (s *fakeSink) playedSeqs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.played))
	for i, h := range s.played {
		out[i] = h.Seq
	}
	return out
}

func (s *fakeSink) completeNext(err error) {
	s.mu.Lock()
	done := s.dones[0]
	s.dones = s.dones[1:]
	s.mu.Unlock()
	done(err)
}

func handleWithRelease(seq int, released *int) *AudioHandle {
	return NewAudioHandle(uuid.New(), seq, []byte{0}, "wav", func() { *released++ })
}

func TestQueuePlaysInEnqueueOrder(t *testing.T) {
	sink := &fakeSink{}
	q := NewPlaybackQueue(sink)

	var released [3]int
	for i := 0; i < 3; i++ {
		q.Enqueue(handleWithRelease(i, &released[i]))
	}
	if !q.Playing() || q.PendingCount() != 2 {
		t.Fatalf("playing=%v pending=%d, want playing with 2 pending", q.Playing(), q.PendingCount())
	}

	sink.completeNext(nil)
	sink.completeNext(nil)
	sink.completeNext(nil)

	if got := sink.playedSeqs(); len(got) != 3 || got[0] != 0 || got[1] != 1 || got[2] != 2 {
		t.Fatalf("playback order = %v, want [0 1 2]", got)
	}
	for i, n := range released {
		if n != 1 {
			t.Fatalf("handle %d released %d times, want exactly once", i, n)
		}
	}
	if q.Playing() || q.PendingCount() != 0 {
		t.Fatal("queue should be idle after draining")
	}
}

func TestQueueAdvancesPastPlaybackError(t *testing.T) {
	sink := &fakeSink{}
	q := NewPlaybackQueue(sink)

	var r0, r1 int
	q.Enqueue(handleWithRelease(0, &r0))
	q.Enqueue(handleWithRelease(1, &r1))

	sink.completeNext(errors.New("decode failed"))
	if got := sink.playedSeqs(); len(got) != 2 {
		t.Fatalf("errored handle must not stall the queue, played %v", got)
	}
	sink.completeNext(nil)

	if r0 != 1 || r1 != 1 {
		t.Fatalf("releases = %d,%d, want 1,1", r0, r1)
	}
}

func TestQueueStopReleasesEverything(t *testing.T) {
	sink := &fakeSink{}
	q := NewPlaybackQueue(sink)

	var released [3]int
	for i := 0; i < 3; i++ {
		q.Enqueue(handleWithRelease(i, &released[i]))
	}

	q.Stop()

	if sink.stops != 1 {
		t.Fatalf("sink stops = %d, want 1", sink.stops)
	}
	if q.Playing() || q.PendingCount() != 0 {
		t.Fatalf("queue not idle after Stop: playing=%v pending=%d", q.Playing(), q.PendingCount())
	}
	for i, n := range released {
		if n != 1 {
			t.Fatalf("handle %d released %d times, want exactly once", i, n)
		}
	}

	// A late completion callback from the stopped generation is a no-op.
	sink.completeNext(nil)
	for i, n := range released {
		if n != 1 {
			t.Fatalf("stale completion re-released handle %d (%d times)", i, n)
		}
	}
}

func TestQueueResumesAfterStop(t *testing.T) {
	sink := &fakeSink{auto: true}
	q := NewPlaybackQueue(sink)

	q.Stop()

	var released int
	q.Enqueue(handleWithRelease(7, &released))
	if released != 1 {
		t.Fatal("handle enqueued after Stop should still play and release")
	}
}

func TestHandleReleaseIsIdempotent(t *testing.T) {
	n := 0
	h := NewAudioHandle(uuid.New(), 0, nil, "wav", func() { n++ })
	h.Release()
	h.Release()
	if n != 1 {
		t.Fatalf("release ran %d times, want 1", n)
	}

	// nil release func is fine too
	NewAudioHandle(uuid.New(), 1, nil, "wav", nil).Release()
}
