package manager

import (
	"strings"
	"unicode/utf8"
)

// stopDelimiters are the chat-turn markers of the common template families.
// Any of them appearing in generated text ends the model's turn; the marker
// itself is never part of the output.
var stopDelimiters = []string{
	"<|im_end|>", "<|im_start|>", // ChatML
	"<|eot_id|>", "<|start_header_id|>", // Llama 3
	"<end_of_turn>", "<start_of_turn>", // Gemma
	"<|end|>", "<|user|>", "<|assistant|>", // Phi
}

// longestStop returns the maximum delimiter length in bytes.
func longestStop(stops []string) int {
	n := 0
	for _, s := range stops {
		if len(s) > n {
			n = len(s)
		}
	}
	return n
}

// findStop locates the earliest delimiter occurrence at or after from.
// Returns the absolute byte index and the delimiter length, or (-1, 0).
func findStop(buf []byte, from int, stops []string) (int, int) {
	if from < 0 {
		from = 0
	}
	s := string(buf[from:])
	best, bestLen := -1, 0
	for _, stop := range stops {
		if i := strings.Index(s, stop); i >= 0 && (best < 0 || i < best) {
			best, bestLen = i, len(stop)
		}
	}
	if best < 0 {
		return -1, 0
	}
	return from + best, bestLen
}

// safeSplit splits buf into an emittable prefix and a withheld suffix: the
// trailing reserve bytes stay withheld, and the cut is then moved back to
// the last complete UTF-8 rune boundary so emit never splits a character.
// Trimmed bytes are not discarded; they stay at the head of withheld.
func safeSplit(buf []byte, reserve int) (emit, withheld []byte) {
	if reserve < 0 {
		reserve = 0
	}
	cut := len(buf) - reserve
	if cut <= 0 {
		return nil, buf
	}
	cut = runeBoundary(buf, cut)
	return buf[:cut], buf[cut:]
}

// runeBoundary moves cut back until buf[:cut] ends on a complete rune.
func runeBoundary(buf []byte, cut int) int {
	for cut > 0 && cut < len(buf) && buf[cut]&0xC0 == 0x80 {
		cut--
	}
	if cut == len(buf) {
		// The tail itself may be an incomplete sequence.
		start := cut
		for start > 0 && buf[start-1]&0xC0 == 0x80 {
			start--
		}
		if start > 0 {
			start--
		}
		if !utf8.FullRune(buf[start:cut]) {
			return start
		}
	}
	return cut
}

// streamChunker accumulates generated pieces and decides, per piece, how
// much is safe to show: never a split multi-byte character, never bytes that
// could still turn out to be the head of a stop delimiter.
type streamChunker struct {
	stops   []string
	reserve int
	buf     []byte
	emitted int
	stopped bool
}

func newStreamChunker(stops []string) *streamChunker {
	return &streamChunker{stops: stops, reserve: longestStop(stops)}
}

// push appends a newly generated piece and returns the chunk (possibly
// empty) that became safe to emit, plus whether a stop delimiter was
// confirmed. On a confirmed stop the delimiter and everything after it are
// discarded and all text before it is released.
func (c *streamChunker) push(piece string) (string, bool) {
	if c.stopped {
		return "", true
	}
	c.buf = append(c.buf, piece...)

	// Emitted bytes are already proven delimiter-free: nothing is emitted
	// while it is still within reserve bytes of the tail, and reserve covers
	// the longest delimiter. A match can only start in the withheld region.
	if idx, _ := findStop(c.buf, c.emitted, c.stops); idx >= 0 {
		chunk := string(c.buf[c.emitted:idx])
		c.buf = c.buf[:idx]
		c.emitted = idx
		c.stopped = true
		return chunk, true
	}

	emit, _ := safeSplit(c.buf, c.reserve)
	if len(emit) <= c.emitted {
		return "", false
	}
	chunk := string(emit[c.emitted:])
	c.emitted = len(emit)
	return chunk, false
}

// finish flushes the withheld suffix verbatim at end of generation. After a
// confirmed stop there is nothing pending.
func (c *streamChunker) finish() string {
	if c.stopped || c.emitted >= len(c.buf) {
		return ""
	}
	chunk := string(c.buf[c.emitted:])
	c.emitted = len(c.buf)
	return chunk
}

// text returns the full accumulated output, stop delimiter excluded.
func (c *streamChunker) text() string {
	return string(c.buf)
}
