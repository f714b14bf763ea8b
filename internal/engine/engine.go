// Package engine defines the boundary to the native tensor-computation
// runtime. The orchestration layer consumes these interfaces as opaque
// primitives: load a model, build a context, decode a batch, sample a token,
// run one optimization epoch. The math behind them is not this module's
// concern.
//
// Implementations:
//
//   - llamacpp.go (build tag 'llama'): in-process llama.cpp via cgo.
//   - llamacpp_stub.go (default): fail-fast stub keeping default builds CGO-free.
//   - enginetest: deterministic in-memory engine for tests.
package engine

import "time"

// Token is a vocabulary index in the loaded model's tokenizer.
type Token int32

// ModelParams configures model loading.
type ModelParams struct {
	// GPULayers is the number of layers offloaded to an accelerator.
	GPULayers int
	// UseMmap maps the file instead of reading it into RAM. Training and
	// mobile-style deployments load fully into RAM.
	UseMmap bool
}

// ContextParams sizes an execution context bound to a loaded model.
type ContextParams struct {
	CtxLen  int
	Batch   int
	UBatch  int
	Threads int
	// F32KV forces full-precision key/value cache (required for training).
	F32KV bool
	// FlashAttn enables the fused attention path (must be off for training).
	FlashAttn bool
}

// SamplerParams configures a sampling chain. Greedy ignores the other fields.
type SamplerParams struct {
	Greedy      bool
	TopK        int
	TopP        float32
	MinKeep     int
	Temperature float32
	Seed        uint32
}

// OptimizerParams configures the AdamW optimizer over the attached adapter's
// tensors; base model weights stay frozen.
type OptimizerParams struct {
	// LearningRate returns the effective rate for a given zero-based epoch.
	// The schedule itself lives in the caller.
	LearningRate func(epoch int) float32
	WeightDecay  float32
}

// Progress reports one optimization batch.
type Progress struct {
	// Train distinguishes the training phase from the eval phase.
	Train    bool
	Batch    int
	BatchMax int
	Loss     float64
	Elapsed  time.Duration
}

// ProgressFunc receives per-batch progress during TrainEpoch. It may be
// invoked from engine worker threads.
type ProgressFunc func(Progress)

// Engine is the process-wide native backend.
type Engine interface {
	// Init loads backend libraries from libraryDir and initializes the
	// runtime. Must be called before LoadModel.
	Init(libraryDir string) error
	// SetLogSink routes native log lines to fn. May be called from any
	// thread by the runtime.
	SetLogSink(fn func(line string))
	// LoadModel reads quantized weights plus tokenizer from path.
	LoadModel(path string, p ModelParams) (Model, error)
	// Free releases the backend. All models must be freed first.
	Free()
}

// Model is a loaded set of weights plus vocabulary.
type Model interface {
	Desc() string
	SizeBytes() int64
	NewContext(p ContextParams) (Context, error)
	// NewAdapter creates a fresh zero-initialized low-rank adapter.
	NewAdapter(rank int, scale float32, skipLayers int) (Adapter, error)
	// LoadAdapter reads a saved adapter container compatible with this model.
	LoadAdapter(path string) (Adapter, error)
	Free()
}

// Adapter is a set of low-rank tensors. It is inert until attached to a
// context.
type Adapter interface {
	// Save writes the adapter's trainable tensors plus metadata to path.
	Save(path string) error
	Free()
}

// Context is the execution state bound to one model. It is not safe for
// concurrent use; callers serialize decode/sample/train calls.
type Context interface {
	CtxLen() int
	BatchSize() int

	// Tokenize splits text with the model's tokenizer, optionally prefixing
	// the beginning-of-sequence marker.
	Tokenize(text string, addBOS bool) ([]Token, error)
	// Piece renders one token as text.
	Piece(t Token) string
	// IsEOG reports whether t is a model-defined end-of-generation marker.
	IsEOG(t Token) bool

	// ClearKV resets the key/value cache.
	ClearKV()
	// Decode feeds tokens starting at position pos. When logitsForLast is
	// set, output probabilities are requested only for the final token.
	Decode(tokens []Token, pos int, logitsForLast bool) error
	NewSampler(p SamplerParams) (Sampler, error)

	// Attach applies an adapter at the given scale. At most one adapter may
	// be attached; callers enforce that.
	Attach(a Adapter, scale float32) error
	// Detach removes a previously attached adapter. No-op if not attached.
	Detach(a Adapter)

	// InitOptimizer prepares the optimizer graph; only adapter tensors are
	// trainable.
	InitOptimizer(p OptimizerParams) error
	// TrainEpoch runs one epoch over windows: [0,split) trains, [split,len)
	// evaluates. evalLoss is meaningful only when split < len(windows).
	TrainEpoch(epoch int, windows [][]Token, split int, progress ProgressFunc) (trainLoss, evalLoss float64, err error)

	Free()
}

// Sampler draws the next token from the context's current logits.
type Sampler interface {
	Sample() Token
	Free()
}
