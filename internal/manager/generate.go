package manager

import (
	"lorad/internal/engine"
)

// samplerParams maps a temperature to the sampling chain: deterministic
// arg-max at or below zero, otherwise top-k -> top-p -> temperature ->
// seeded weighted draw.
func samplerParams(temperature float32) engine.SamplerParams {
	if temperature <= 0 {
		return engine.SamplerParams{Greedy: true}
	}
	return engine.SamplerParams{
		TopK:        40,
		TopP:        0.9,
		MinKeep:     1,
		Temperature: temperature,
		Seed:        0,
	}
}

// Generate runs a blocking generation and returns the full output with any
// chat-turn delimiter stripped. On a decode failure partial output is
// discarded and the error returned.
func (m *Manager) Generate(prompt string, maxTokens int, temperature float32) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runGenerationLocked(prompt, maxTokens, temperature, nil)
}

// GenerateStreaming runs a generation whose results are delivered solely
// through the registered stream observer: zero or more OnToken chunks, then
// exactly one of OnComplete or OnError. On a decode failure, bytes already
// proven safe are flushed before OnError fires.
func (m *Manager) GenerateStreaming(prompt string, maxTokens int, temperature float32) {
	m.mu.Lock()
	_, err := m.runGenerationLocked(prompt, maxTokens, temperature, m.bridge.Token)
	m.mu.Unlock()

	if err != nil {
		m.bridge.Error("ERROR: " + err.Error())
		return
	}
	m.bridge.Complete()
}

// runGenerationLocked is the shared generation loop. When onChunk is nil the
// call is blocking-only; otherwise every safe chunk is forwarded as it is
// proven emittable.
func (m *Manager) runGenerationLocked(prompt string, maxTokens int, temperature float32, onChunk func(string)) (string, error) {
	if m.model == nil || m.ctx == nil {
		return "", ErrNotInitialized("model not loaded")
	}

	m.bridge.Logf("Generating: prompt=%d chars, max_tokens=%d, temp=%.2f",
		len(prompt), maxTokens, temperature)

	// Fresh generation: no state from a previous call may leak in.
	m.ctx.ClearKV()

	tokens, err := m.ctx.Tokenize(prompt, true)
	if err != nil {
		return "", ErrNativeFailure("tokenize", err)
	}
	m.bridge.Logf("Prompt tokens: %d", len(tokens))
	if len(tokens) == 0 {
		return "", ErrInvalidInput("empty prompt after tokenization")
	}
	if len(tokens) >= m.ctx.CtxLen() {
		return "", ErrInvalidInput("prompt too long for context")
	}

	smpl, err := m.ctx.NewSampler(samplerParams(temperature))
	if err != nil {
		return "", ErrNativeFailure("create sampler", err)
	}
	defer smpl.Free()

	if err := m.prefillLocked(tokens); err != nil {
		return "", err
	}
	m.bridge.Logf("Prefill done (%d tokens)", len(tokens))

	maxGen := maxTokens
	if maxGen <= 0 {
		maxGen = defaultMaxTokens
	}

	chunker := newStreamChunker(stopDelimiters)
	emit := func(chunk string) {
		if chunk != "" && onChunk != nil {
			onChunk(chunk)
		}
	}

	pos := len(tokens)
	generated := 0
	for i := 0; i < maxGen; i++ {
		tok := smpl.Sample()
		if m.ctx.IsEOG(tok) {
			m.bridge.Logf("EOG at token %d", i+1)
			break
		}

		chunk, stopped := chunker.push(m.ctx.Piece(tok))
		emit(chunk)
		if stopped {
			m.bridge.Logf("Stop sequence at token %d", i+1)
			break
		}

		if err := m.ctx.Decode([]engine.Token{tok}, pos, true); err != nil {
			m.bridge.Logf("Decode failed at token %d", i+1)
			// Streaming flushes what is already safe; blocking discards.
			emit(chunker.finish())
			return "", ErrNativeFailure("decode", err)
		}
		pos++
		generated++
	}

	emit(chunker.finish())
	m.bridge.Logf("Generated %d tokens", generated)
	m.publisher.Publish(Event{Name: "generate_done", Fields: map[string]any{
		"prompt_tokens": len(tokens), "generated": generated,
	}})
	return chunker.text(), nil
}

// prefillLocked submits prompt tokens in batch-sized chunks, requesting
// output probabilities only for the final token. This bounds peak memory and
// lets prompts approach the context limit.
func (m *Manager) prefillLocked(tokens []engine.Token) error {
	batch := m.ctx.BatchSize()
	if batch <= 0 {
		batch = len(tokens)
	}
	for idx := 0; idx < len(tokens); idx += batch {
		end := idx + batch
		if end > len(tokens) {
			end = len(tokens)
		}
		last := end == len(tokens)
		if err := m.ctx.Decode(tokens[idx:end], idx, last); err != nil {
			return ErrNativeFailure("decode prompt", err)
		}
	}
	return nil
}
