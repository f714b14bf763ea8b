package manager

import (
	"fmt"
	"math"
	"time"

	"lorad/internal/engine"
)

// TrainingState is the optimizer's mutable schedule. Initialized by
// InitTraining and advanced once per TrainEpoch call.
type TrainingState struct {
	// Epoch is the index of the most recent TrainEpoch call.
	Epoch int
	// LR0 is the base learning rate; LRMin is fixed at 0.1*LR0.
	LR0   float32
	LRMin float32
	// Epochs is the planned run length; DecayEpochs the cosine horizon
	// (<=0 means Epochs).
	Epochs      int
	DecayEpochs int
	WeightDecay float32
}

// LearningRate returns the cosine-decayed rate for a zero-based epoch index.
func (s *TrainingState) LearningRate(epoch int) float32 {
	horizon := s.DecayEpochs
	if horizon <= 0 {
		horizon = s.Epochs
	}
	if horizon <= 0 || epoch <= 0 {
		return s.LR0
	}
	if epoch >= horizon {
		return s.LRMin
	}
	t := float64(epoch) / float64(horizon)
	return s.LRMin + (s.LR0-s.LRMin)*float32(0.5*(1+math.Cos(math.Pi*t)))
}

// EpochResult reports one epoch of optimization.
type EpochResult struct {
	Epoch       int
	TrainLoss   float64
	EvalLoss    float64
	EvalSkipped bool
	Elapsed     time.Duration
}

// Describe renders the result the way the operation surface reports it.
func (r EpochResult) Describe() string {
	s := fmt.Sprintf("Epoch %d | Train loss: %.4f", r.Epoch+1, r.TrainLoss)
	if !r.EvalSkipped {
		s += fmt.Sprintf(" | Eval loss: %.4f", r.EvalLoss)
	}
	s += fmt.Sprintf(" | Time: %ds", int(r.Elapsed.Seconds()))
	return s
}

// splitDataset returns the train-window count and whether an eval split
// exists. With two or more windows at least one is always held out.
func splitDataset(total int) (train int, hasEval bool) {
	if total < 2 {
		return total, false
	}
	n := int(math.Round(0.95 * float64(total)))
	return clampInt(n, 1, total-1), true
}

// InitTraining configures the AdamW optimizer over the adapter's tensors;
// base model weights stay frozen.
func (m *Manager) InitTraining(learningRate float32, epochs int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.model == nil || m.ctx == nil || m.adapter == nil {
		return "", ErrNotInitialized("model, context, or adapter not ready")
	}

	m.bridge.Logf("Initializing AdamW optimizer (lr=%.6f, epochs=%d)...", learningRate, epochs)
	st := &TrainingState{
		LR0:         learningRate,
		LRMin:       learningRate * 0.1,
		Epochs:      epochs,
		DecayEpochs: -1,
	}
	err := m.ctx.InitOptimizer(engine.OptimizerParams{
		LearningRate: st.LearningRate,
		WeightDecay:  st.WeightDecay,
	})
	if err != nil {
		return "", ErrNativeFailure("init optimizer", err)
	}
	m.train = st

	m.bridge.Logf("Optimizer ready. Training only LoRA A/B tensors (base model frozen).")
	m.publisher.Publish(Event{Name: "training_init", Fields: map[string]any{
		"lr": learningRate, "epochs": epochs,
	}})
	return fmt.Sprintf("Optimizer: AdamW | LR: %.6f", learningRate), nil
}

// TrainEpoch runs one optimization epoch over the dataset's train/eval
// split, reporting per-batch progress through the callback bridge.
//
// The epoch index drives the learning-rate schedule; callers must pass
// strictly increasing indices. Out-of-order indices are not rejected, they
// just produce the rate for whatever index was given.
func (m *Manager) TrainEpoch(epochIndex int) (EpochResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx == nil || m.ds == nil || m.train == nil {
		return EpochResult{}, ErrNotInitialized("training not initialized")
	}

	m.train.Epoch = epochIndex
	total := m.ds.count()
	split, hasEval := splitDataset(total)

	m.bridge.Logf("=== EPOCH %d START ===", epochIndex+1)
	m.bridge.Logf("Total data points: %d", total)
	m.bridge.Logf("Train split: %d data points", split)
	if hasEval {
		m.bridge.Logf("Eval split: %d data points", total-split)
	} else {
		m.bridge.Logf("Eval split: 0 data points (skipped)")
	}
	m.bridge.Logf("Learning rate: %.6f", m.train.LearningRate(epochIndex))

	start := time.Now()
	progress := func(p engine.Progress) {
		phase := "TRAIN"
		if !p.Train {
			phase = "EVAL"
		}
		elapsed := p.Elapsed.Seconds()
		rate := float64(p.Batch+1) / math.Max(elapsed, 1e-9)
		m.bridge.Logf("[%s] batch %d/%d | loss: %.4f | %.2f batch/s | %.1fs elapsed",
			phase, p.Batch+1, p.BatchMax, p.Loss, rate, elapsed)
	}

	trainLoss, evalLoss, err := m.ctx.TrainEpoch(epochIndex, m.ds.windows(), split, progress)
	if err != nil {
		return EpochResult{}, ErrNativeFailure("train epoch", err)
	}
	res := EpochResult{
		Epoch:       epochIndex,
		TrainLoss:   trainLoss,
		EvalLoss:    evalLoss,
		EvalSkipped: !hasEval,
		Elapsed:     time.Since(start),
	}

	m.bridge.Logf("=== EPOCH %d COMPLETE ===", epochIndex+1)
	m.bridge.Logf("  Train loss: %.4f", res.TrainLoss)
	if hasEval {
		m.bridge.Logf("  Eval loss:  %.4f", res.EvalLoss)
	} else {
		m.bridge.Logf("  Eval loss:  (skipped - not enough data)")
	}
	m.bridge.Logf("  Time:       %.1fs", res.Elapsed.Seconds())

	m.publisher.Publish(Event{Name: "train_epoch", Fields: map[string]any{
		"model_path":   m.modelPath,
		"epoch":        res.Epoch,
		"train_loss":   res.TrainLoss,
		"eval_loss":    res.EvalLoss,
		"eval_skipped": res.EvalSkipped,
		"elapsed_s":    res.Elapsed.Seconds(),
	}})
	return res, nil
}
