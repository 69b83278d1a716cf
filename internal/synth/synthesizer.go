// Package synth provides the speech synthesis client. Synthesis is an
// abstract contract: text in, encoded audio out, cancellable via context.
// The production implementation talks to an OpenAI-compatible
// /v1/audio/speech endpoint; tests use the mock.
package synth

import (
	"context"
	"fmt"
)

// Request describes one synthesis call.
type Request struct {
	Text  string
	Voice string
	// Speed is a playback-rate multiplier. Zero means server default.
	Speed float64
}

// Result carries the encoded audio for one chunk.
type Result struct {
	Audio      []byte
	Format     string
	SampleRate int
}

// Synthesizer converts one chunk of text into audio. Implementations must
// honor context cancellation by abandoning in-flight work.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (*Result, error)
}

// HTTPError reports a non-2xx response from the synthesis service.
type HTTPError struct {
	Status int
	Detail string
}

func (e *HTTPError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("synthesis service returned status %d", e.Status)
	}
	return fmt.Sprintf("synthesis service returned status %d: %s", e.Status, e.Detail)
}
