package manager

import (
	"fmt"

	"lorad/internal/engine"
)

// dataset is a read-only sequence of overlapping token windows. Window
// length is ctxLen+1 so each window yields ctxLen (input, next-token) pairs.
type dataset struct {
	tokens    []engine.Token
	windowLen int
	stride    int
}

// buildDataset windows a token corpus at a fixed stride. A corpus shorter
// than one window plus one stride is cyclically repeated first, so any >=2
// token corpus windows cleanly.
func buildDataset(tokens []engine.Token, ctxLen int) *dataset {
	stride := ctxLen / 2
	if stride < 1 {
		stride = 1
	}
	minTokens := ctxLen + 1 + stride

	if len(tokens) < minTokens {
		// Copy then append: growing a slice onto itself while reading it
		// would duplicate the already-appended tail.
		original := append([]engine.Token(nil), tokens...)
		for len(tokens) < minTokens {
			tokens = append(tokens, original...)
		}
	}
	return &dataset{tokens: tokens, windowLen: ctxLen + 1, stride: stride}
}

// count returns the number of windows.
func (d *dataset) count() int {
	if len(d.tokens) < d.windowLen {
		return 0
	}
	return (len(d.tokens)-d.windowLen)/d.stride + 1
}

// windows materializes the window views. The backing array is shared; the
// dataset is never mutated after construction.
func (d *dataset) windows() [][]engine.Token {
	n := d.count()
	out := make([][]engine.Token, n)
	for i := 0; i < n; i++ {
		start := i * d.stride
		out[i] = d.tokens[start : start+d.windowLen]
	}
	return out
}

// SetTrainingData tokenizes text (with a beginning-of-sequence marker) and
// replaces the current dataset wholesale with its windowed form.
func (m *Manager) SetTrainingData(text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx == nil {
		return "", ErrNotInitialized("context not initialized")
	}

	m.bridge.Logf("Training text: %d chars", len(text))
	tokens, err := m.ctx.Tokenize(text, true)
	if err != nil {
		return "", ErrNativeFailure("tokenize", err)
	}
	m.bridge.Logf("Tokenized: %d tokens", len(tokens))

	if len(tokens) < 2 {
		return "", ErrInvalidInput("training text too short")
	}

	originalCount := len(tokens)
	ds := buildDataset(tokens, m.ctx.CtxLen())
	if len(ds.tokens) > originalCount {
		m.bridge.Logf("Padded tokens: %d -> %d (min needed: %d)",
			originalCount, len(ds.tokens), m.ctx.CtxLen()+1+ds.stride)
	}
	m.ds = ds

	n := ds.count()
	m.bridge.Logf("Dataset: %d data points, stride=%d, ctx=%d", n, ds.stride, m.ctx.CtxLen())
	m.publisher.Publish(Event{Name: "dataset_set", Fields: map[string]any{
		"tokens": originalCount, "windows": n, "stride": ds.stride,
	}})
	return fmt.Sprintf("Data: %d tokens -> %d data points", originalCount, n), nil
}
