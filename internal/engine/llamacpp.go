//go:build llama

package engine

// In-process llama.cpp engine.
//
// cgo link directives:
//   - rpath of $ORIGIN so the runtime loader finds libllama.so and
//     libggml*.so next to the built Go binary (./bin).
//   - -L${SRCDIR}/../../bin so the linker finds libllama.so at link time
//     when building the 'llama' variant. No environment variables required.

/*
#cgo CFLAGS: -I${SRCDIR}/../../third_party/llama.cpp/include -I${SRCDIR}/../../third_party/llama.cpp/ggml/include
#cgo LDFLAGS: -Wl,-rpath,'$ORIGIN' -L${SRCDIR}/../../bin -lllama -lggml -lm -lstdc++

#include <stdlib.h>
#include <string.h>
#include "llama.h"
#include "ggml-backend.h"
#include "ggml-opt.h"

extern void loradLogLine(char *line);
extern void loradOptProgress(int train, long long ibatch, long long ibatch_max,
                             double loss, double elapsed_s);
extern float loradOptLR(void);
extern float loradOptWD(void);

// Optimizer hyperparameters are re-read every epoch so the Go-side schedule
// drives the learning rate.
static struct ggml_opt_optimizer_params lorad_opt_pars(void *ud) {
	(void) ud;
	struct ggml_opt_optimizer_params p = ggml_opt_get_default_optimizer_params(NULL);
	p.adamw.alpha = loradOptLR();
	p.adamw.wd    = loradOptWD();
	return p;
}

static void lorad_opt_init(struct llama_context *ctx, struct llama_model *mdl) {
	struct llama_opt_params op;
	memset(&op, 0, sizeof(op));
	op.n_ctx_train    = 0;
	op.param_filter   = llama_opt_param_filter_lora;
	op.param_filter_ud = NULL;
	op.get_opt_pars   = lorad_opt_pars;
	op.get_opt_pars_ud = NULL;
	op.optimizer_type = GGML_OPT_OPTIMIZER_TYPE_ADAMW;
	llama_opt_init(ctx, mdl, op);
}

static void lorad_log_cb(enum ggml_log_level level, const char *text, void *ud) {
	(void) level; (void) ud;
	if (!text || text[0] == '\0') return;
	loradLogLine((char *) text);
}

static void lorad_install_log_cb(void) {
	llama_log_set(lorad_log_cb, NULL);
}

static void lorad_progress_cb(bool train, ggml_opt_context_t opt_ctx,
                              ggml_opt_dataset_t dataset, ggml_opt_result_t result,
                              int64_t ibatch, int64_t ibatch_max, int64_t t_start_us) {
	(void) opt_ctx; (void) dataset;
	double loss = 0.0;
	ggml_opt_result_loss(result, &loss, NULL);
	double elapsed_s = (double) (ggml_time_us() - t_start_us) / 1e6;
	loradOptProgress(train ? 1 : 0, (long long) ibatch, (long long) ibatch_max,
	                 loss, elapsed_s);
}

// Fills a prepared batch with tokens at sequential positions; logits are
// requested only for the final token when logits_last is set.
static int lorad_decode_tokens(struct llama_context *ctx, const llama_token *toks,
                               int n, int pos0, int logits_last) {
	struct llama_batch batch = llama_batch_init(n, 0, 1);
	batch.n_tokens = n;
	for (int i = 0; i < n; i++) {
		batch.token[i]     = toks[i];
		batch.pos[i]       = pos0 + i;
		batch.n_seq_id[i]  = 1;
		batch.seq_id[i][0] = 0;
		batch.logits[i]    = logits_last ? (i + 1 == n) : 0;
	}
	int rc = llama_decode(ctx, batch);
	llama_batch_free(batch);
	return rc;
}

// Runs one optimization epoch over a dataset rebuilt from flat windows.
// windows is n_windows rows of window_len tokens; rows [0,split) train and
// rows [split,n_windows) evaluate.
static int lorad_opt_epoch(struct llama_context *ctx, const llama_token *windows,
                           long long n_windows, long long window_len, long long split,
                           double *train_loss, double *eval_loss) {
	ggml_opt_dataset_t ds = ggml_opt_dataset_init(GGML_TYPE_I32, GGML_TYPE_I32,
	                                              window_len - 1, 1, n_windows, 1);
	llama_token *data   = (llama_token *) ggml_opt_dataset_data(ds)->data;
	llama_token *labels = (llama_token *) ggml_opt_dataset_labels(ds)->data;
	for (long long w = 0; w < n_windows; w++) {
		const llama_token *row = windows + w * window_len;
		memcpy(data + w * (window_len - 1), row, (window_len - 1) * sizeof(llama_token));
		memcpy(labels + w * (window_len - 1), row + 1, (window_len - 1) * sizeof(llama_token));
	}

	ggml_opt_result_t rt = ggml_opt_result_init();
	ggml_opt_result_t re = split < n_windows ? ggml_opt_result_init() : NULL;

	llama_opt_epoch(ctx, ds, rt, re, split, lorad_progress_cb,
	                re ? lorad_progress_cb : NULL);

	ggml_opt_result_loss(rt, train_loss, NULL);
	if (re) {
		ggml_opt_result_loss(re, eval_loss, NULL);
	} else {
		*eval_loss = 0.0;
	}

	ggml_opt_result_free(rt);
	if (re) ggml_opt_result_free(re);
	ggml_opt_dataset_free(ds);
	return 0;
}
*/
import "C"

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"
)

// Single engine instance per process: the native log and progress callbacks
// are global on the llama.cpp side.
var (
	llMu       sync.Mutex
	llLogSink  func(string)
	llProgress ProgressFunc
	llLRFn     func(int) float32
	llWD       float32
	llEpoch    int
)

type llEngine struct {
	initialized bool
}

// New returns the in-process llama.cpp engine.
func New() (Engine, error) {
	return &llEngine{}, nil
}

func (e *llEngine) Init(libraryDir string) error {
	C.lorad_install_log_cb()
	if libraryDir != "" {
		cdir := C.CString(libraryDir)
		defer C.free(unsafe.Pointer(cdir))
		C.ggml_backend_load_all_from_path(cdir)
	} else {
		C.ggml_backend_load_all()
	}
	C.llama_backend_init()
	e.initialized = true
	return nil
}

func (e *llEngine) SetLogSink(fn func(line string)) {
	llMu.Lock()
	llLogSink = fn
	llMu.Unlock()
}

func (e *llEngine) LoadModel(path string, p ModelParams) (Model, error) {
	if !e.initialized {
		return nil, errors.New("backend not initialized")
	}
	mp := C.llama_model_default_params()
	mp.use_mmap = C.bool(p.UseMmap)
	if p.GPULayers > 0 {
		mp.n_gpu_layers = C.int32_t(p.GPULayers)
	}
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))
	m := C.llama_model_load_from_file(cpath, mp)
	if m == nil {
		return nil, fmt.Errorf("failed to load model: %s", path)
	}
	return &llModel{ptr: m}, nil
}

func (e *llEngine) Free() {
	if e.initialized {
		C.llama_backend_free()
		e.initialized = false
	}
}

type llModel struct {
	ptr *C.struct_llama_model
}

func (m *llModel) Desc() string {
	var buf [256]C.char
	C.llama_model_desc(m.ptr, &buf[0], C.size_t(len(buf)))
	return C.GoString(&buf[0])
}

func (m *llModel) SizeBytes() int64 {
	return int64(C.llama_model_size(m.ptr))
}

func (m *llModel) NewContext(p ContextParams) (Context, error) {
	cp := C.llama_context_default_params()
	cp.n_ctx = C.uint32_t(p.CtxLen)
	cp.n_batch = C.uint32_t(p.Batch)
	cp.n_ubatch = C.uint32_t(p.UBatch)
	cp.n_threads = C.int32_t(p.Threads)
	cp.n_threads_batch = C.int32_t(p.Threads)
	if p.F32KV {
		cp.type_k = C.GGML_TYPE_F32
		cp.type_v = C.GGML_TYPE_F32
	}
	if !p.FlashAttn {
		cp.flash_attn_type = C.llama_flash_attn_type(0)
	}
	ctx := C.llama_init_from_model(m.ptr, cp)
	if ctx == nil {
		return nil, errors.New("failed to create context")
	}
	return &llContext{ptr: ctx, model: m}, nil
}

func (m *llModel) NewAdapter(rank int, scale float32, skipLayers int) (Adapter, error) {
	a := C.llama_adapter_lora_create(m.ptr, C.int32_t(rank), C.float(scale), nil, C.int32_t(skipLayers))
	if a == nil {
		return nil, errors.New("failed to create adapter")
	}
	return &llAdapter{ptr: a}, nil
}

func (m *llModel) LoadAdapter(path string) (Adapter, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))
	a := C.llama_adapter_lora_init(m.ptr, cpath)
	if a == nil {
		return nil, fmt.Errorf("failed to load adapter: %s", path)
	}
	return &llAdapter{ptr: a}, nil
}

func (m *llModel) Free() {
	if m.ptr != nil {
		C.llama_model_free(m.ptr)
		m.ptr = nil
	}
}

type llAdapter struct {
	ptr *C.struct_llama_adapter_lora
}

func (a *llAdapter) Save(path string) error {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))
	if rc := C.llama_lora_save_adapter(a.ptr, cpath); rc != 0 {
		return fmt.Errorf("adapter save failed (rc=%d)", int(rc))
	}
	return nil
}

func (a *llAdapter) Free() {
	if a.ptr != nil {
		C.llama_adapter_lora_free(a.ptr)
		a.ptr = nil
	}
}

type llContext struct {
	ptr   *C.struct_llama_context
	model *llModel
}

func (c *llContext) CtxLen() int    { return int(C.llama_n_ctx(c.ptr)) }
func (c *llContext) BatchSize() int { return int(C.llama_n_batch(c.ptr)) }

func (c *llContext) vocab() *C.struct_llama_vocab {
	return C.llama_model_get_vocab(c.model.ptr)
}

func (c *llContext) Tokenize(text string, addBOS bool) ([]Token, error) {
	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))
	// Worst case one token per byte plus the BOS marker.
	maxToks := len(text) + 8
	buf := make([]C.llama_token, maxToks)
	n := C.llama_tokenize(c.vocab(), ctext, C.int32_t(len(text)),
		&buf[0], C.int32_t(maxToks), C.bool(addBOS), C.bool(true))
	if n < 0 {
		return nil, errors.New("tokenization failed")
	}
	out := make([]Token, int(n))
	for i := range out {
		out[i] = Token(buf[i])
	}
	return out, nil
}

func (c *llContext) Piece(t Token) string {
	var buf [256]C.char
	n := C.llama_token_to_piece(c.vocab(), C.llama_token(t), &buf[0], C.int32_t(len(buf)), 0, C.bool(true))
	if n <= 0 {
		return ""
	}
	return C.GoStringN(&buf[0], n)
}

func (c *llContext) IsEOG(t Token) bool {
	return bool(C.llama_vocab_is_eog(c.vocab(), C.llama_token(t)))
}

func (c *llContext) ClearKV() {
	C.llama_memory_clear(C.llama_get_memory(c.ptr), C.bool(true))
}

func (c *llContext) Decode(tokens []Token, pos int, logitsForLast bool) error {
	if len(tokens) == 0 {
		return nil
	}
	toks := make([]C.llama_token, len(tokens))
	for i, t := range tokens {
		toks[i] = C.llama_token(t)
	}
	last := C.int(0)
	if logitsForLast {
		last = 1
	}
	if rc := C.lorad_decode_tokens(c.ptr, &toks[0], C.int(len(toks)), C.int(pos), last); rc != 0 {
		return fmt.Errorf("decode failed (rc=%d)", int(rc))
	}
	return nil
}

func (c *llContext) NewSampler(p SamplerParams) (Sampler, error) {
	sp := C.llama_sampler_chain_default_params()
	chain := C.llama_sampler_chain_init(sp)
	if chain == nil {
		return nil, errors.New("failed to create sampler chain")
	}
	if p.Greedy {
		C.llama_sampler_chain_add(chain, C.llama_sampler_init_greedy())
	} else {
		C.llama_sampler_chain_add(chain, C.llama_sampler_init_top_k(C.int32_t(p.TopK)))
		C.llama_sampler_chain_add(chain, C.llama_sampler_init_top_p(C.float(p.TopP), C.size_t(p.MinKeep)))
		C.llama_sampler_chain_add(chain, C.llama_sampler_init_temp(C.float(p.Temperature)))
		C.llama_sampler_chain_add(chain, C.llama_sampler_init_dist(C.uint32_t(p.Seed)))
	}
	return &llSampler{ptr: chain, ctx: c}, nil
}

func (c *llContext) Attach(a Adapter, scale float32) error {
	la := a.(*llAdapter)
	if rc := C.llama_set_adapter_lora(c.ptr, la.ptr, C.float(scale)); rc != 0 {
		return fmt.Errorf("adapter attach failed (rc=%d)", int(rc))
	}
	return nil
}

func (c *llContext) Detach(a Adapter) {
	la := a.(*llAdapter)
	C.llama_rm_adapter_lora(c.ptr, la.ptr)
}

func (c *llContext) InitOptimizer(p OptimizerParams) error {
	llMu.Lock()
	llLRFn = p.LearningRate
	llWD = p.WeightDecay
	llMu.Unlock()
	C.lorad_opt_init(c.ptr, c.model.ptr)
	return nil
}

func (c *llContext) TrainEpoch(epoch int, windows [][]Token, split int, progress ProgressFunc) (float64, float64, error) {
	if len(windows) == 0 {
		return 0, 0, errors.New("empty dataset")
	}
	winLen := len(windows[0])
	flat := make([]C.llama_token, 0, len(windows)*winLen)
	for _, w := range windows {
		for _, t := range w {
			flat = append(flat, C.llama_token(t))
		}
	}
	llMu.Lock()
	llProgress = progress
	llEpoch = epoch
	llMu.Unlock()
	var trainLoss, evalLoss C.double
	rc := C.lorad_opt_epoch(c.ptr, &flat[0], C.longlong(len(windows)), C.longlong(winLen),
		C.longlong(split), &trainLoss, &evalLoss)
	llMu.Lock()
	llProgress = nil
	llMu.Unlock()
	if rc != 0 {
		return 0, 0, fmt.Errorf("train epoch failed (rc=%d)", int(rc))
	}
	return float64(trainLoss), float64(evalLoss), nil
}

func (c *llContext) Free() {
	if c.ptr != nil {
		C.llama_free(c.ptr)
		c.ptr = nil
	}
}

type llSampler struct {
	ptr *C.struct_llama_sampler
	ctx *llContext
}

func (s *llSampler) Sample() Token {
	return Token(C.llama_sampler_sample(s.ptr, s.ctx.ptr, C.int32_t(-1)))
}

func (s *llSampler) Free() {
	if s.ptr != nil {
		C.llama_sampler_free(s.ptr)
		s.ptr = nil
	}
}
