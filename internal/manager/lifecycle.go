package manager

import (
	"fmt"
	"time"

	"lorad/internal/engine"
)

// InitBackend loads native backend libraries from libraryDir and initializes
// the runtime. Must precede LoadModel.
func (m *Manager) InitBackend(libraryDir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bridge.Logf("Initializing backend...")
	if libraryDir != "" {
		m.bridge.Logf("Loading backends from: %s", libraryDir)
	}
	m.eng.SetLogSink(func(line string) {
		m.bridge.Logf("[engine] %s", line)
	})
	if err := m.eng.Init(libraryDir); err != nil {
		return ErrNativeFailure("init backend", err)
	}
	m.backendReady = true
	m.startTime = time.Now()
	m.bridge.Logf("Backend initialized (CPU)")
	return nil
}

// LoadModel loads quantized weights from path and builds an execution
// context sized for the selected profile. Any previously held context and
// model are released first; a context-creation failure rolls the fresh model
// back so no half-initialized handle survives.
func (m *Manager) LoadModel(path string, opts LoadOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.backendReady {
		return "", ErrNotInitialized("backend not initialized")
	}

	m.releaseModelLocked()

	profile := ProfileInference
	if opts.Training {
		profile = ProfileTraining
	}
	reqThreads := opts.Threads
	if reqThreads <= 0 {
		reqThreads = m.cfg.Threads
	}
	threads := resolveThreads(reqThreads)
	gpuLayers := opts.GPULayers
	if gpuLayers == 0 {
		gpuLayers = m.cfg.GPULayers
	}
	ctxLen := opts.CtxLen
	if ctxLen <= 0 {
		if opts.Training {
			ctxLen = m.cfg.TrainingCtxLen
		} else {
			ctxLen = m.cfg.InferenceCtxLen
		}
	}

	m.bridge.Logf("Loading model: %s", path)
	m.bridge.Logf("use_mmap=false (full RAM load)")
	mdl, err := m.eng.LoadModel(path, engine.ModelParams{
		GPULayers: gpuLayers,
		UseMmap:   false,
	})
	if err != nil {
		return "", ErrNativeFailure("load model", err)
	}

	cp := engine.ContextParams{
		CtxLen:  ctxLen,
		Threads: threads,
	}
	if opts.Training {
		// Training needs the full-precision KV cache and a batch covering
		// the whole window; the fused attention path has no backward pass.
		cp.Batch = ctxLen
		cp.UBatch = ctxLen
		cp.F32KV = true
		cp.FlashAttn = false
		m.bridge.Logf("Context size: %d, F32 KV cache, flash_attn=off", ctxLen)
	} else {
		cp.Batch = m.cfg.BatchSize
		cp.UBatch = m.cfg.UBatchSize
		m.bridge.Logf("Context size: %d", ctxLen)
	}
	m.bridge.Logf("Using %d threads", threads)

	ctx, err := mdl.NewContext(cp)
	if err != nil {
		mdl.Free()
		return "", ErrNativeFailure("create context", err)
	}

	m.model = mdl
	m.ctx = ctx
	m.modelPath = path
	m.modelDesc = mdl.Desc()
	m.profile = profile

	sizeGB := float64(mdl.SizeBytes()) / (1024 * 1024 * 1024)
	m.bridge.Logf("Model: %s (%.2f GB)", m.modelDesc, sizeGB)
	m.publisher.Publish(Event{Name: "model_load", Fields: map[string]any{
		"path": path, "profile": string(profile), "ctx_len": ctxLen, "threads": threads,
	}})

	desc := fmt.Sprintf("Model loaded: %s (%.2f GB)\nThreads: %d | Context: %d",
		m.modelDesc, sizeGB, threads, ctxLen)
	return desc, nil
}

// Shutdown frees adapter, context, model, and backend in that order and
// clears callback registrations. Must not race an in-flight generation or
// training call.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.bridge.Logf("Cleaning up...")
	m.releaseModelLocked()
	if m.backendReady {
		m.eng.Free()
		m.backendReady = false
	}
	m.mu.Unlock()

	m.bridge.Clear()
	m.publisher.Publish(Event{Name: "shutdown"})
}

// releaseModelLocked frees adapter -> context -> model and drops derived
// state (dataset, optimizer) that was bound to the old context.
func (m *Manager) releaseModelLocked() {
	m.detachAdapterLocked()
	if m.ctx != nil {
		m.ctx.Free()
		m.ctx = nil
	}
	if m.model != nil {
		m.model.Free()
		m.model = nil
	}
	m.modelPath = ""
	m.modelDesc = ""
	m.profile = ""
	m.ds = nil
	m.train = nil
}
