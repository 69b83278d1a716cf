package synth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/lectorlabs/lector/internal/audio"
)

// MockSynthesizer is an in-memory Synthesizer for tests and offline runs.
// Each call yields a short silent WAV clip. Delay, per-call gating, and
// forced failures are configurable so tests can exercise ordering,
// cancellation, and error paths.
type MockSynthesizer struct {
	// Delay is waited before resolving, respecting context cancellation.
	Delay time.Duration
	// FailOn forces an error for any request whose text contains it.
	FailOn string
	// Err is the error returned when FailOn matches. Defaults to a 500.
	Err error
	// Gate, when non-nil, is called with the request before resolving.
	// Tests use it to control completion order across concurrent calls.
	Gate func(ctx context.Context, req Request) error

	// ClipDuration is the length of the generated clip. Defaults to 40ms.
	ClipDuration time.Duration

	mu    sync.Mutex
	calls []Request
}

func (m *MockSynthesizer) Synthesize(ctx context.Context, req Request) (*Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if m.Delay > 0 {
		t := time.NewTimer(m.Delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.Gate != nil {
		if err := m.Gate(ctx, req); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.FailOn != "" && strings.Contains(req.Text, m.FailOn) {
		if m.Err != nil {
			return nil, m.Err
		}
		return nil, &HTTPError{Status: 500, Detail: "mock failure"}
	}

	dur := m.ClipDuration
	if dur <= 0 {
		dur = 40 * time.Millisecond
	}
	pcm := audio.Silence(dur, audio.DefaultSampleRate)
	wav, err := audio.EncodeWAVPCM16LE(pcm, audio.DefaultSampleRate)
	if err != nil {
		return nil, err
	}
	return &Result{
		Audio:      wav,
		Format:     "wav",
		SampleRate: audio.DefaultSampleRate,
	}, nil
}

// Calls returns a copy of every request seen so far, in arrival order.
func (m *MockSynthesizer) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}
