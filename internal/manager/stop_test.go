package manager

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestLongestStop(t *testing.T) {
	if got := longestStop(stopDelimiters); got != len("<|start_header_id|>") {
		t.Fatalf("expected the longest delimiter length, got %d", got)
	}
	if got := longestStop(nil); got != 0 {
		t.Fatalf("expected 0 for no delimiters, got %d", got)
	}
}

func TestFindStopEarliest(t *testing.T) {
	buf := []byte("x<|user|>y<|end|>")
	idx, n := findStop(buf, 0, stopDelimiters)
	if idx != 1 || n != len("<|user|>") {
		t.Fatalf("expected the earliest match at 1, got (%d, %d)", idx, n)
	}

	idx, n = findStop(buf, 2, stopDelimiters)
	if idx != 10 || n != len("<|end|>") {
		t.Fatalf("expected the later match at 10, got (%d, %d)", idx, n)
	}

	if idx, _ := findStop([]byte("plain text"), 0, stopDelimiters); idx != -1 {
		t.Fatalf("expected no match, got %d", idx)
	}
}

func TestSafeSplitReserve(t *testing.T) {
	emit, withheld := safeSplit([]byte("hello world"), 5)
	if string(emit) != "hello " || string(withheld) != "world" {
		t.Fatalf("unexpected split: %q / %q", emit, withheld)
	}

	emit, withheld = safeSplit([]byte("hi"), 5)
	if emit != nil || string(withheld) != "hi" {
		t.Fatalf("short input must stay withheld, got %q / %q", emit, withheld)
	}
}

func TestSafeSplitRuneBoundary(t *testing.T) {
	// "héllo": the reserve cut would land inside the two-byte é.
	buf := []byte("h\xc3\xa9llo")
	emit, withheld := safeSplit(buf, 4)
	if string(emit) != "h" {
		t.Fatalf("cut must back off to a rune boundary, got %q", emit)
	}
	if string(withheld) != "\xc3\xa9llo" {
		t.Fatalf("trimmed bytes must stay withheld, got %q", withheld)
	}
	if string(emit)+string(withheld) != string(buf) {
		t.Fatal("split must not lose bytes")
	}
}

func TestSafeSplitIncompleteTrailingRune(t *testing.T) {
	// The euro sign truncated after two of its three bytes.
	buf := []byte("a\xe2\x82")
	emit, withheld := safeSplit(buf, 0)
	if string(emit) != "a" {
		t.Fatalf("incomplete tail must not be emitted, got %q", emit)
	}
	if string(withheld) != "\xe2\x82" {
		t.Fatalf("unexpected withheld tail %q", withheld)
	}

	// A complete multi-byte tail is emitted whole.
	emit, withheld = safeSplit([]byte("a\xe2\x82\xac"), 0)
	if string(emit) != "a\xe2\x82\xac" || len(withheld) != 0 {
		t.Fatalf("complete tail must be emitted, got %q / %q", emit, withheld)
	}
}

func TestChunkerWithholdsDelimiterPrefix(t *testing.T) {
	c := newStreamChunker(stopDelimiters)

	chunk, stopped := c.push("hi")
	if chunk != "" || stopped {
		t.Fatalf("short output must stay withheld, got %q", chunk)
	}

	// A long plain piece pushes earlier bytes past the reserve.
	chunk, stopped = c.push(strings.Repeat("a", 30))
	if stopped {
		t.Fatal("no delimiter was produced")
	}
	want := "hi" + strings.Repeat("a", 30-c.reserve)
	if chunk != want {
		t.Fatalf("expected %q emitted, got %q", want, chunk)
	}
}

func TestChunkerStopAcrossPieces(t *testing.T) {
	c := newStreamChunker(stopDelimiters)

	c.push("answer")
	if chunk, stopped := c.push("<|im_"); stopped || chunk != "" {
		t.Fatalf("partial delimiter must stay withheld, got %q", chunk)
	}
	chunk, stopped := c.push("end|>junk")
	if !stopped {
		t.Fatal("expected the delimiter confirmed")
	}
	if chunk != "answer" {
		t.Fatalf("expected %q released, got %q", "answer", chunk)
	}
	if c.text() != "answer" {
		t.Fatalf("delimiter and trailing bytes must be dropped, got %q", c.text())
	}
	if got := c.finish(); got != "" {
		t.Fatalf("nothing is pending after a stop, got %q", got)
	}
}

func TestChunkerStopInsideSinglePiece(t *testing.T) {
	c := newStreamChunker(stopDelimiters)
	chunk, stopped := c.push("hello<|im_end|>world")
	if !stopped || chunk != "hello" {
		t.Fatalf("expected (%q, true), got (%q, %v)", "hello", chunk, stopped)
	}
}

func TestChunkerFinishFlushesWithheld(t *testing.T) {
	c := newStreamChunker(stopDelimiters)
	c.push("short")
	if got := c.finish(); got != "short" {
		t.Fatalf("finish must flush withheld bytes, got %q", got)
	}
	if got := c.finish(); got != "" {
		t.Fatalf("second finish must be empty, got %q", got)
	}
	if c.text() != "short" {
		t.Fatalf("unexpected accumulated text %q", c.text())
	}
}

func TestChunkerFinishFlushesIncompleteRune(t *testing.T) {
	// End of generation with a dangling partial rune: flushed verbatim.
	c := newStreamChunker(stopDelimiters)
	c.push("a\xe2\x82")
	if got := c.finish(); got != "a\xe2\x82" {
		t.Fatalf("finish flushes verbatim, got %q", got)
	}
}

func TestChunkerNeverSplitsRunes(t *testing.T) {
	c := newStreamChunker(stopDelimiters)
	text := strings.Repeat("héllo wörld ", 8)
	var emitted []string
	for _, r := range text {
		if chunk, stopped := c.push(string(r)); stopped {
			t.Fatal("no delimiter in input")
		} else if chunk != "" {
			emitted = append(emitted, chunk)
		}
	}
	emitted = append(emitted, c.finish())
	for _, chunk := range emitted {
		if !utf8.ValidString(chunk) {
			t.Fatalf("chunk %q is not valid UTF-8", chunk)
		}
	}
	if strings.Join(emitted, "") != text {
		t.Fatalf("chunks must reassemble the input, got %q", strings.Join(emitted, ""))
	}
}
