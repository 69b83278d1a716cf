package audio

import (
	"testing"
	"time"
)

func TestEncodeAndDuration(t *testing.T) {
	pcm := Silence(500*time.Millisecond, 24000)
	wav, err := EncodeWAVPCM16LE(pcm, 24000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE error = %v", err)
	}

	d, err := Duration(wav)
	if err != nil {
		t.Fatalf("Duration error = %v", err)
	}
	if d < 490*time.Millisecond || d > 510*time.Millisecond {
		t.Fatalf("Duration = %v, want ~500ms", d)
	}
}

func TestDurationRejectsGarbage(t *testing.T) {
	if _, err := Duration([]byte("definitely not a riff stream, nope")); err == nil {
		t.Fatalf("Duration(garbage) error = nil, want error")
	}
}

func TestSilenceLength(t *testing.T) {
	pcm := Silence(time.Second, 16000)
	if len(pcm) != 32000 {
		t.Fatalf("Silence length = %d, want 32000", len(pcm))
	}
}
