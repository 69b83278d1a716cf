package segment

import (
	"strings"
	"testing"
)

func TestFeedHoldsShortTextThenCutsAtBoundary(t *testing.T) {
	s := New(Config{})

	if got := s.Feed("fifteen chars.."); len(got) != 0 {
		t.Fatalf("expected no chunk for short delta, got %v", got)
	}
	got := s.Feed("and now fifty more characters arrive with an end. trailing")
	if len(got) != 1 {
		t.Fatalf("expected exactly one chunk, got %v", got)
	}
	if !strings.HasSuffix(got[0], ".") {
		t.Fatalf("chunk should end at the period, got %q", got[0])
	}
	if strings.Contains(got[0], "trailing") {
		t.Fatalf("text after the boundary leaked into the chunk: %q", got[0])
	}
}

func TestCodeFenceReplacedByPlaceholder(t *testing.T) {
	s := New(Config{})

	code := strings.Repeat("x := secretCode()\n", 30)
	var chunks []string
	chunks = append(chunks, s.Feed("Here is the function you asked about, fully worked out.\n")...)
	chunks = append(chunks, s.Feed("```go\n"+code+"```")...)
	chunks = append(chunks, s.Feed(" That covers it, let me know if anything is unclear.")...)
	chunks = append(chunks, s.FlushAll()...)

	all := strings.Join(chunks, " ")
	if strings.Contains(all, "secretCode") {
		t.Fatalf("fenced content must never be emitted, got %q", all)
	}
	want := strings.TrimSpace(CodePlaceholder)
	if n := strings.Count(all, want); n != 1 {
		t.Fatalf("expected placeholder exactly once, found %d in %q", n, all)
	}
}

func TestFenceSplitAcrossDeltas(t *testing.T) {
	s := New(Config{})

	s.Feed("Some prose before the block. ``")
	s.Feed("`\nhidden()\n``")
	s.Feed("` after.")
	chunks := s.FlushAll()

	all := strings.Join(chunks, " ")
	if strings.Contains(all, "hidden") {
		t.Fatalf("split fence was not detected, got %q", all)
	}
	if !strings.Contains(all, strings.TrimSpace(CodePlaceholder)) {
		t.Fatalf("expected placeholder for split-fence block, got %q", all)
	}
}

func TestForceCutWithoutBoundary(t *testing.T) {
	s := New(Config{})

	chunks := s.Feed(strings.Repeat("a", 300))
	if len(chunks) != 1 {
		t.Fatalf("expected one forced chunk, got %d", len(chunks))
	}
	if len(chunks[0]) != DefaultConfig().MaxChunkChars {
		t.Fatalf("forced chunk length = %d, want %d", len(chunks[0]), DefaultConfig().MaxChunkChars)
	}
}

func TestFlushForFastStart(t *testing.T) {
	s := New(Config{})

	buffered := strings.Repeat("word ", 14) // 70 chars, no boundary
	if got := s.Feed(buffered); len(got) != 0 {
		t.Fatalf("expected no natural chunk, got %v", got)
	}
	got := s.FlushForFastStart()
	if len(got) != 1 {
		t.Fatalf("expected one fast-start chunk, got %v", got)
	}
	if !s.FirstChunkEmitted() {
		t.Fatal("fast start should mark the first chunk as emitted")
	}
	if again := s.FlushForFastStart(); len(again) != 0 {
		t.Fatalf("fast start must only act once, got %v", again)
	}

	// Subsequent drains use the smaller threshold.
	next := s.Feed("short but complete now.")
	if len(next) != 1 {
		t.Fatalf("expected post-fast-start chunk at the small threshold, got %v", next)
	}
}

func TestFastStartNeedsEnoughProse(t *testing.T) {
	s := New(Config{})
	s.Feed("not enough text yet")
	if got := s.FlushForFastStart(); len(got) != 0 {
		t.Fatalf("fast start below the first-chunk minimum must be a no-op, got %v", got)
	}
}

func TestFlushAllEmptiesBuffers(t *testing.T) {
	s := New(Config{})
	s.Feed("a few words")
	s.Feed(" and some more, still below any boundary threshold")
	chunks := s.FlushAll()
	if len(chunks) == 0 {
		t.Fatal("expected the final flush to emit buffered prose")
	}
	if !s.Empty() {
		t.Fatal("buffers must be empty after FlushAll")
	}
}

func TestUnterminatedFenceDroppedAtFlush(t *testing.T) {
	s := New(Config{})
	s.Feed("Prose first. ```\nunfinished code that never closes")
	chunks := s.FlushAll()

	all := strings.Join(chunks, " ")
	if strings.Contains(all, "unfinished") {
		t.Fatalf("unterminated fenced text must be dropped, got %q", all)
	}
	if strings.Contains(all, strings.TrimSpace(CodePlaceholder)) {
		t.Fatalf("no placeholder without a closing fence, got %q", all)
	}
	if !s.Empty() {
		t.Fatal("buffers must be empty after FlushAll")
	}
}

func TestEmitsAreSubsequenceOfProse(t *testing.T) {
	s := New(Config{})

	deltas := []string{
		"The first point is about latency. ",
		"The second point, which matters more, is about ordering! ",
		"Finally a question remains: does the queue ever stall? ",
		"No, it does not.",
	}
	var chunks []string
	for _, d := range deltas {
		chunks = append(chunks, s.Feed(d)...)
	}
	chunks = append(chunks, s.FlushAll()...)

	collapse := func(in string) string {
		return strings.Join(strings.Fields(in), " ")
	}
	if got, want := collapse(strings.Join(chunks, " ")), collapse(strings.Join(deltas, "")); got != want {
		t.Fatalf("reassembled chunks diverge from input\n got: %q\nwant: %q", got, want)
	}
}

func TestMinimumLengthThresholds(t *testing.T) {
	s := New(Config{MinChunkChars: 20, MaxChunkChars: 240, FirstChunkMinChars: 60})

	// A complete sentence below the first-chunk minimum is held back.
	if got := s.Feed("Too short to open with."); len(got) != 0 {
		t.Fatalf("under-threshold first chunk must be held, got %v", got)
	}
	got := s.Feed(" But with a full follow-up sentence it clears the opening bar easily.")
	if len(got) == 0 {
		t.Fatal("expected a chunk once the first-chunk minimum is met")
	}
	for _, c := range got {
		if len(c) < 20 {
			t.Fatalf("emitted chunk below the minimum threshold: %q", c)
		}
	}
}

func TestEmptyDeltaIsNoOp(t *testing.T) {
	s := New(Config{})
	if got := s.Feed(""); got != nil {
		t.Fatalf("empty delta should produce nothing, got %v", got)
	}
	if !s.Empty() {
		t.Fatal("segmenter should remain empty")
	}
}
