// Package segment turns an incremental assistant text stream into speakable
// chunks without waiting for the full response. A Segmenter buffers raw
// deltas, filters fenced code regions down to a short spoken placeholder,
// and cuts the remaining prose at sentence boundaries subject to
// configurable length thresholds.
package segment

import (
	"strings"
	"unicode/utf8"
)

const fenceMarker = "```"

// CodePlaceholder is spoken in place of a fenced code region. The code
// itself is never synthesized.
const CodePlaceholder = "\nCheck the code below.\n"

// sentence boundaries where a chunk may end. The ellipsis is the only
// multi-byte entry.
const boundaryChars = "\n.!?…;:"

// Config holds chunking thresholds. The zero value means "use defaults".
type Config struct {
	// MinChunkChars is the minimum emitted chunk length once the first
	// chunk is out.
	MinChunkChars int
	// MaxChunkChars bounds the boundary-search window and forces a cut on
	// boundary-free text.
	MaxChunkChars int
	// FirstChunkMinChars is the minimum length of the very first chunk.
	// Larger than MinChunkChars so playback does not open with a stub.
	FirstChunkMinChars int
}

// DefaultConfig matches the thresholds the synthesis backend was tuned with.
func DefaultConfig() Config {
	return Config{
		MinChunkChars:      20,
		MaxChunkChars:      240,
		FirstChunkMinChars: 60,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinChunkChars <= 0 {
		c.MinChunkChars = d.MinChunkChars
	}
	if c.MaxChunkChars <= 0 {
		c.MaxChunkChars = d.MaxChunkChars
	}
	if c.FirstChunkMinChars <= 0 {
		c.FirstChunkMinChars = d.FirstChunkMinChars
	}
	return c
}

// Segmenter is a stateful text-to-chunks transducer. It performs no I/O and
// is not safe for concurrent use; the owning utterance serializes access.
type Segmenter struct {
	cfg Config

	rawBuf   string
	proseBuf string
	inCode   bool

	firstChunkEmitted bool
}

func New(cfg Config) *Segmenter {
	return &Segmenter{cfg: cfg.withDefaults()}
}

// Feed appends a delta and returns zero or more chunks ready for synthesis.
func (s *Segmenter) Feed(delta string) []string {
	if delta == "" {
		return nil
	}
	s.rawBuf += delta

	for {
		idx := strings.Index(s.rawBuf, fenceMarker)
		if idx < 0 {
			break
		}
		before := s.rawBuf[:idx]
		s.rawBuf = s.rawBuf[idx+len(fenceMarker):]
		if s.inCode {
			// `before` is fenced code. Drop it; the closing fence anchors
			// the spoken placeholder.
			s.proseBuf += CodePlaceholder
		} else {
			s.proseBuf += before
		}
		s.inCode = !s.inCode
	}

	// Hold back a trailing partial fence so a marker split across deltas is
	// still detected on the next feed. Three or more backticks would have
	// been consumed above, so at most two remain.
	keep := trailingBackticks(s.rawBuf)
	cut := len(s.rawBuf) - keep
	if !s.inCode {
		s.proseBuf += s.rawBuf[:cut]
	}
	s.rawBuf = s.rawBuf[cut:]

	return s.drain(false)
}

// FlushForFastStart emits a single undersized chunk before any natural
// boundary has produced one, trading prosody for first-audio latency. It is
// a no-op once the first chunk is out or while too little prose is buffered.
func (s *Segmenter) FlushForFastStart() []string {
	if s.firstChunkEmitted {
		return nil
	}
	if len(strings.TrimSpace(s.proseBuf)) < s.cfg.FirstChunkMinChars {
		return nil
	}

	cut := len(s.proseBuf)
	if cut > s.cfg.MaxChunkChars {
		cut = runeAlign(s.proseBuf, s.cfg.MaxChunkChars)
	}
	chunk := strings.TrimSpace(s.proseBuf[:cut])
	s.proseBuf = s.proseBuf[cut:]
	if chunk == "" {
		return nil
	}
	s.firstChunkEmitted = true
	return []string{chunk}
}

// FlushAll drains every remaining chunk regardless of length thresholds and
// leaves the segmenter empty. An unterminated trailing code fence is dropped:
// with no closing fence there is nothing to anchor its placeholder to.
func (s *Segmenter) FlushAll() []string {
	if !s.inCode {
		s.proseBuf += s.rawBuf
	}
	s.rawBuf = ""
	out := s.drain(true)
	s.proseBuf = ""
	return out
}

// Empty reports whether all internal buffers have been drained.
func (s *Segmenter) Empty() bool {
	return s.rawBuf == "" && s.proseBuf == ""
}

// FirstChunkEmitted reports whether any chunk has been produced yet.
func (s *Segmenter) FirstChunkEmitted() bool {
	return s.firstChunkEmitted
}

func (s *Segmenter) drain(force bool) []string {
	var out []string
	for len(s.proseBuf) > 0 {
		window := s.proseBuf
		if len(window) > s.cfg.MaxChunkChars {
			window = window[:runeAlign(s.proseBuf, s.cfg.MaxChunkChars)]
		}

		cut := -1
		if idx := strings.LastIndexAny(window, boundaryChars); idx >= 0 {
			_, size := utf8.DecodeRuneInString(window[idx:])
			cut = idx + size
		}
		if cut < 0 {
			switch {
			case len(s.proseBuf) >= s.cfg.MaxChunkChars:
				cut = runeAlign(s.proseBuf, s.cfg.MaxChunkChars)
			case force:
				cut = len(s.proseBuf)
			default:
				return out
			}
		}

		chunk := s.proseBuf[:cut]
		s.proseBuf = s.proseBuf[cut:]

		trimmed := strings.TrimSpace(chunk)
		if trimmed == "" {
			continue
		}

		threshold := s.cfg.MinChunkChars
		if !s.firstChunkEmitted {
			threshold = s.cfg.FirstChunkMinChars
		}
		if !force && len(trimmed) < threshold {
			// Too short to speak naturally: push it back and wait for more.
			s.proseBuf = chunk + s.proseBuf
			return out
		}

		out = append(out, trimmed)
		s.firstChunkEmitted = true
	}
	return out
}

func trailingBackticks(s string) int {
	n := 0
	for n < len(s) && n < len(fenceMarker)-1 && s[len(s)-1-n] == '`' {
		n++
	}
	return n
}

// runeAlign backs a byte offset off a multi-byte rune so slicing never
// splits UTF-8 sequences.
func runeAlign(s string, idx int) int {
	if idx >= len(s) {
		return len(s)
	}
	for idx > 0 && !utf8.RuneStart(s[idx]) {
		idx--
	}
	return idx
}
