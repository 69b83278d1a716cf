package synth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPClientSynthesize(t *testing.T) {
	var got speechRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "audio/wav")
		w.Write([]byte("RIFFfakewavpayload"))
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPClientOptions{BaseURL: srv.URL + "/v1", Model: "kokoro", Timeout: 5 * time.Second})
	res, err := c.Synthesize(context.Background(), Request{Text: "hello there", Voice: "af_sky", Speed: 1.1})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(res.Audio) == 0 || res.Format != "wav" {
		t.Fatalf("unexpected result %+v", res)
	}
	if got.Model != "kokoro" || got.Input != "hello there" || got.Voice != "af_sky" || got.ResponseFormat != "wav" {
		t.Fatalf("unexpected request payload %+v", got)
	}
}

func TestHTTPClientSurfacesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPClientOptions{BaseURL: srv.URL + "/v1", Model: "kokoro"})
	_, err := c.Synthesize(context.Background(), Request{Text: "x"})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.Status != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", httpErr.Status)
	}
}

func TestHTTPClientHonorsCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := NewHTTPClient(HTTPClientOptions{BaseURL: srv.URL + "/v1", Model: "kokoro"})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if _, err := c.Synthesize(ctx, Request{Text: "never finishes"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestMockSynthesizerProducesWAV(t *testing.T) {
	m := &MockSynthesizer{}
	res, err := m.Synthesize(context.Background(), Request{Text: "quick check"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(res.Audio) == 0 || res.Format != "wav" {
		t.Fatalf("unexpected result %+v", res)
	}
	if calls := m.Calls(); len(calls) != 1 || calls[0].Text != "quick check" {
		t.Fatalf("unexpected recorded calls %+v", m.Calls())
	}
}

func TestMockSynthesizerFailOn(t *testing.T) {
	m := &MockSynthesizer{FailOn: "boom"}
	if _, err := m.Synthesize(context.Background(), Request{Text: "well boom then"}); err == nil {
		t.Fatal("expected forced failure")
	}
}
