package manager

import (
	"github.com/rs/zerolog"

	"lorad/internal/engine"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultCtxInference = 2048
	defaultCtxTraining  = 512
	defaultBatch        = 512
	defaultUBatch       = 256
	defaultMaxTokens    = 128
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	// Engine is the native backend; required.
	Engine engine.Engine
	// Logger is the secondary log sink; zerolog.Nop() when unset.
	Logger zerolog.Logger
	// Publisher receives lifecycle events; a no-op publisher when unset.
	Publisher EventPublisher
	// Context-length defaults per profile (0 = package default).
	InferenceCtxLen int
	TrainingCtxLen  int
	// Prefill batch sizing for the inference profile (0 = package default).
	BatchSize  int
	UBatchSize int
	// Defaults applied when LoadOptions leave them unset.
	Threads   int
	GPULayers int
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	if cfg.InferenceCtxLen <= 0 {
		cfg.InferenceCtxLen = defaultCtxInference
	}
	if cfg.TrainingCtxLen <= 0 {
		cfg.TrainingCtxLen = defaultCtxTraining
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatch
	}
	if cfg.UBatchSize <= 0 {
		cfg.UBatchSize = defaultUBatch
	}
	m := &Manager{
		cfg:       cfg,
		eng:       cfg.Engine,
		log:       cfg.Logger,
		publisher: cfg.Publisher,
		bridge:    NewBridge(cfg.Logger),
	}
	if m.publisher == nil {
		m.publisher = noopPublisher{}
	}
	return m
}

// New constructs a Manager with default tunables.
func New(eng engine.Engine, log zerolog.Logger) *Manager {
	return NewWithConfig(ManagerConfig{Engine: eng, Logger: log})
}
