// Package enginetest provides a deterministic in-memory engine so the
// orchestration layer can be exercised without native libraries. Tokenization
// is one token per rune; generation replays a scripted sequence of pieces.
package enginetest

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"lorad/internal/engine"
)

const (
	tokBOS engine.Token = 1
	tokEOG engine.Token = 2
	// Rune tokens start here; scripted pieces above pieceBase.
	runeBase  engine.Token = 100
	pieceBase engine.Token = 1 << 20
)

// adapterMagic is the header of the fake saved-adapter container.
const adapterMagic = "FAKELORA1\n"

// Fake implements engine.Engine deterministically.
type Fake struct {
	mu sync.Mutex

	Initialized bool
	LibraryDir  string
	logSink     func(string)

	// Script is the sequence of pieces a generation emits, in order. When
	// exhausted the sampler yields the end-of-generation token.
	Script []string

	// Failure injection.
	FailLoad    bool
	FailContext bool
	FailAttach  bool
	// FailDecodeAt fails the Nth Decode call since the last ClearKV
	// (1-based); 0 disables.
	FailDecodeAt int

	// LiveModels counts models loaded and not yet freed.
	LiveModels int

	pieces map[string]engine.Token
	texts  map[engine.Token]string
}

// New constructs a Fake with an empty script.
func New() *Fake {
	return &Fake{
		pieces: make(map[string]engine.Token),
		texts:  make(map[engine.Token]string),
	}
}

func (f *Fake) Init(libraryDir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Initialized = true
	f.LibraryDir = libraryDir
	return nil
}

func (f *Fake) SetLogSink(fn func(line string)) {
	f.mu.Lock()
	f.logSink = fn
	f.mu.Unlock()
}

// EmitLog pushes a line through the installed sink, as the native runtime
// would from one of its worker threads.
func (f *Fake) EmitLog(line string) {
	f.mu.Lock()
	sink := f.logSink
	f.mu.Unlock()
	if sink != nil {
		sink(line)
	}
}

func (f *Fake) LoadModel(path string, p engine.ModelParams) (engine.Model, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.Initialized {
		return nil, errors.New("backend not initialized")
	}
	if f.FailLoad {
		return nil, fmt.Errorf("failed to load model: %s", path)
	}
	f.LiveModels++
	return &Model{fake: f, Path: path, Params: p}, nil
}

func (f *Fake) Free() {
	f.mu.Lock()
	f.Initialized = false
	f.mu.Unlock()
}

// intern maps a piece string to a stable token id.
func (f *Fake) intern(piece string) engine.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.pieces[piece]; ok {
		return t
	}
	t := pieceBase + engine.Token(len(f.pieces))
	f.pieces[piece] = t
	f.texts[t] = piece
	return t
}

// Model is a fake loaded model.
type Model struct {
	fake   *Fake
	Path   string
	Params engine.ModelParams
	Freed  bool
}

func (m *Model) Desc() string    { return "fake 1B F16" }
func (m *Model) SizeBytes() int64 { return 1 << 30 }

func (m *Model) NewContext(p engine.ContextParams) (engine.Context, error) {
	if m.fake.FailContext {
		return nil, errors.New("failed to create context")
	}
	return &Context{fake: m.fake, model: m, Params: p}, nil
}

func (m *Model) NewAdapter(rank int, scale float32, skipLayers int) (engine.Adapter, error) {
	if rank <= 0 {
		return nil, errors.New("failed to create adapter")
	}
	return &Adapter{Rank: rank, Scale: scale, SkipLayers: skipLayers}, nil
}

func (m *Model) LoadAdapter(path string) (engine.Adapter, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load adapter: %s", path)
	}
	s := string(b)
	if !strings.HasPrefix(s, adapterMagic) {
		return nil, fmt.Errorf("failed to load adapter: %s", path)
	}
	a := &Adapter{FromPath: path, Scale: 1.0}
	fmt.Sscanf(strings.TrimPrefix(s, adapterMagic), "rank=%d scale=%f skip=%d",
		&a.Rank, &a.Scale, &a.SkipLayers)
	return a, nil
}

func (m *Model) Free() {
	if m.Freed {
		return
	}
	m.Freed = true
	m.fake.mu.Lock()
	m.fake.LiveModels--
	m.fake.mu.Unlock()
}

// Adapter is a fake low-rank adapter.
type Adapter struct {
	Rank       int
	Scale      float32
	SkipLayers int
	FromPath   string
	Trained    int // epochs of optimization applied
	Freed      bool
}

func (a *Adapter) Save(path string) error {
	body := fmt.Sprintf("%srank=%d scale=%g skip=%d\n", adapterMagic, a.Rank, a.Scale, a.SkipLayers)
	return os.WriteFile(path, []byte(body), 0o644)
}

func (a *Adapter) Free() { a.Freed = true }

// Context is a fake execution context.
type Context struct {
	fake   *Fake
	model  *Model
	Params engine.ContextParams
	Freed  bool

	// Attached is the currently applied adapter, nil when none.
	Attached *Adapter

	// Decode bookkeeping since the last ClearKV.
	DecodeCalls  int
	DecodedSizes []int
	Pos          int
	KVCleared    int

	// Optimizer state.
	OptParams engine.OptimizerParams
	OptReady  bool
	// LastEpochLR records the rate the schedule produced for the last epoch.
	LastEpochLR float32
	LastEpoch   int
}

func (c *Context) CtxLen() int    { return c.Params.CtxLen }
func (c *Context) BatchSize() int { return c.Params.Batch }

func (c *Context) Tokenize(text string, addBOS bool) ([]engine.Token, error) {
	var out []engine.Token
	if addBOS {
		out = append(out, tokBOS)
	}
	for _, r := range text {
		out = append(out, runeBase+engine.Token(r))
	}
	return out, nil
}

func (c *Context) Piece(t engine.Token) string {
	switch {
	case t == tokBOS || t == tokEOG:
		return ""
	case t >= pieceBase:
		c.fake.mu.Lock()
		defer c.fake.mu.Unlock()
		return c.fake.texts[t]
	case t >= runeBase:
		return string(rune(t - runeBase))
	}
	return ""
}

func (c *Context) IsEOG(t engine.Token) bool { return t == tokEOG }

func (c *Context) ClearKV() {
	c.KVCleared++
	c.DecodeCalls = 0
	c.DecodedSizes = nil
	c.Pos = 0
}

func (c *Context) Decode(tokens []engine.Token, pos int, logitsForLast bool) error {
	c.DecodeCalls++
	c.DecodedSizes = append(c.DecodedSizes, len(tokens))
	if c.fake.FailDecodeAt > 0 && c.DecodeCalls == c.fake.FailDecodeAt {
		return errors.New("decode failed")
	}
	c.Pos = pos + len(tokens)
	return nil
}

func (c *Context) NewSampler(p engine.SamplerParams) (engine.Sampler, error) {
	// Intern the script up front so Piece can render sampled tokens.
	s := &Sampler{ctx: c, Params: p}
	for _, piece := range c.fake.Script {
		s.script = append(s.script, c.fake.intern(piece))
	}
	return s, nil
}

func (c *Context) Attach(a engine.Adapter, scale float32) error {
	if c.fake.FailAttach {
		return errors.New("adapter attach failed")
	}
	c.Attached = a.(*Adapter)
	c.Attached.Scale = scale
	return nil
}

func (c *Context) Detach(a engine.Adapter) {
	if c.Attached == a {
		c.Attached = nil
	}
}

func (c *Context) InitOptimizer(p engine.OptimizerParams) error {
	if c.Attached == nil {
		return errors.New("no trainable tensors")
	}
	c.OptParams = p
	c.OptReady = true
	return nil
}

func (c *Context) TrainEpoch(epoch int, windows [][]engine.Token, split int, progress engine.ProgressFunc) (float64, float64, error) {
	if !c.OptReady {
		return 0, 0, errors.New("optimizer not initialized")
	}
	if len(windows) == 0 {
		return 0, 0, errors.New("empty dataset")
	}
	c.LastEpoch = epoch
	if c.OptParams.LearningRate != nil {
		c.LastEpochLR = c.OptParams.LearningRate(epoch)
	}
	if c.Attached != nil {
		c.Attached.Trained++
	}
	// Loss decays deterministically with the epoch index.
	trainLoss := 2.0 / float64(epoch+1)
	evalLoss := trainLoss + 0.1
	start := time.Now()
	if progress != nil {
		for i := 0; i < split; i++ {
			progress(engine.Progress{Train: true, Batch: i, BatchMax: split,
				Loss: trainLoss, Elapsed: time.Since(start)})
		}
		for i := 0; i < len(windows)-split; i++ {
			progress(engine.Progress{Train: false, Batch: i, BatchMax: len(windows) - split,
				Loss: evalLoss, Elapsed: time.Since(start)})
		}
	}
	if split >= len(windows) {
		evalLoss = 0
	}
	return trainLoss, evalLoss, nil
}

func (c *Context) Free() { c.Freed = true }

// Sampler replays the fake's script, then end-of-generation.
type Sampler struct {
	ctx    *Context
	Params engine.SamplerParams
	script []engine.Token
	next   int
	Freed  bool
}

func (s *Sampler) Sample() engine.Token {
	if s.next >= len(s.script) {
		return tokEOG
	}
	t := s.script[s.next]
	s.next++
	return t
}

func (s *Sampler) Free() { s.Freed = true }
