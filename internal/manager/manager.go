package manager

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/mem"

	"lorad/internal/engine"
	"lorad/pkg/types"
)

// Profile selects how the execution context is sized at model load.
type Profile string

const (
	// ProfileInference: mixed-precision KV cache, batched prefill.
	ProfileInference Profile = "inference"
	// ProfileTraining: F32 KV cache, flash attention off, batch = ctx.
	ProfileTraining Profile = "training"
)

// LoadOptions tunes a model load. Zero values resolve to profile defaults.
type LoadOptions struct {
	Threads   int
	CtxLen    int
	GPULayers int
	Training  bool
}

// Manager owns the singleton engine handles (model, context, adapter), the
// training dataset and optimizer state, and the callback bridge. One Manager
// per process is typical, but tests construct independent ones.
type Manager struct {
	mu        sync.Mutex
	cfg       ManagerConfig
	eng       engine.Engine
	log       zerolog.Logger
	publisher EventPublisher
	bridge    *Bridge

	backendReady bool
	model        engine.Model
	ctx          engine.Context
	adapter      engine.Adapter
	modelPath    string
	modelDesc    string
	profile      Profile

	ds    *dataset
	train *TrainingState

	startTime time.Time
}

// Bridge returns the callback bridge for observer registration.
func (m *Manager) Bridge() *Bridge { return m.bridge }

// HasModel reports whether a model and its context are live.
func (m *Manager) HasModel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.model != nil && m.ctx != nil
}

// HasAdapter reports whether an adapter is attached to the context.
func (m *Manager) HasAdapter() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adapter != nil
}

// Status returns a read-only projection of the manager state.
func (m *Manager) Status() types.StatusResponse {
	m.mu.Lock()
	st := types.StatusResponse{
		BackendInitialized: m.backendReady,
		ModelLoaded:        m.model != nil && m.ctx != nil,
		ModelPath:          m.modelPath,
		ModelDesc:          m.modelDesc,
		AdapterAttached:    m.adapter != nil,
		Profile:            string(m.profile),
		ServerTimeUnix:     time.Now().Unix(),
	}
	if m.ctx != nil {
		st.CtxLen = m.ctx.CtxLen()
	}
	if m.ds != nil {
		st.DatasetWindows = m.ds.count()
	}
	if !m.startTime.IsZero() {
		st.UptimeSeconds = int64(time.Since(m.startTime).Seconds())
	}
	m.mu.Unlock()

	if vm, err := mem.VirtualMemory(); err == nil {
		st.AvailableMemMB = vm.Available / (1024 * 1024)
	}
	return st
}
