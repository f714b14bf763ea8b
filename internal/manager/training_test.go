package manager

import (
	"math"
	"strings"
	"testing"
	"time"
)

func TestLearningRateSchedule(t *testing.T) {
	st := &TrainingState{LR0: 0.001, LRMin: 0.0001, Epochs: 10}

	if got := st.LearningRate(0); got != 0.001 {
		t.Fatalf("epoch 0: expected base rate, got %g", got)
	}
	if got := st.LearningRate(10); got != 0.0001 {
		t.Fatalf("epoch 10: expected floor rate, got %g", got)
	}
	mid := float64(st.LearningRate(5))
	if math.Abs(mid-0.00055) > 1e-6 {
		t.Fatalf("epoch 5: expected midpoint ~0.00055, got %g", mid)
	}

	prev := st.LearningRate(0)
	for e := 1; e <= 10; e++ {
		lr := st.LearningRate(e)
		if lr > prev {
			t.Fatalf("rate increased at epoch %d: %g > %g", e, lr, prev)
		}
		prev = lr
	}
}

func TestLearningRateBeyondHorizon(t *testing.T) {
	st := &TrainingState{LR0: 0.001, LRMin: 0.0001, Epochs: 3}
	if got := st.LearningRate(50); got != 0.0001 {
		t.Fatalf("expected floor rate past the horizon, got %g", got)
	}
}

func TestSplitDataset(t *testing.T) {
	cases := []struct {
		total   int
		train   int
		hasEval bool
	}{
		{0, 0, false},
		{1, 1, false},
		{2, 1, true},
		{20, 19, true},
		{100, 95, true},
	}
	for _, c := range cases {
		train, hasEval := splitDataset(c.total)
		if train != c.train || hasEval != c.hasEval {
			t.Fatalf("split(%d): expected (%d, %v), got (%d, %v)",
				c.total, c.train, c.hasEval, train, hasEval)
		}
	}
}

func TestInitTrainingRequiresAdapter(t *testing.T) {
	f := newFake()
	m, _ := newTestManager(t, f)
	mustLoad(t, m, LoadOptions{Training: true, CtxLen: 8})

	_, err := m.InitTraining(0.001, 3)
	if !IsNotInitialized(err) {
		t.Fatalf("expected not-initialized error, got %v", err)
	}
}

func TestTrainEpochNotInitialized(t *testing.T) {
	f := newFake()
	m, _ := newTestManager(t, f)
	mustLoad(t, m, LoadOptions{Training: true, CtxLen: 8})

	_, err := m.TrainEpoch(0)
	if !IsNotInitialized(err) {
		t.Fatalf("expected not-initialized error, got %v", err)
	}
}

func TestTrainEpoch(t *testing.T) {
	f := newFake()
	m, pub := newTestManager(t, f)
	mustLoad(t, m, LoadOptions{Training: true, CtxLen: 8})
	if _, err := m.CreateAdapter(8, 16.0, 0); err != nil {
		t.Fatalf("CreateAdapter failed: %v", err)
	}
	if _, err := m.SetTrainingData("abcdefghijklmnop"); err != nil {
		t.Fatalf("SetTrainingData failed: %v", err)
	}
	desc, err := m.InitTraining(0.001, 3)
	if err != nil {
		t.Fatalf("InitTraining failed: %v", err)
	}
	if desc != "Optimizer: AdamW | LR: 0.001000" {
		t.Fatalf("unexpected description: %q", desc)
	}

	res, err := m.TrainEpoch(0)
	if err != nil {
		t.Fatalf("TrainEpoch failed: %v", err)
	}
	if res.Epoch != 0 || res.TrainLoss != 2.0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	// 3 windows split 2/1, so eval ran.
	if res.EvalSkipped {
		t.Fatal("eval must run with a held-out window")
	}
	if math.Abs(res.EvalLoss-2.1) > 1e-9 {
		t.Fatalf("expected eval loss 2.1, got %g", res.EvalLoss)
	}

	ctx := fakeCtx(t, m)
	if ctx.LastEpoch != 0 {
		t.Fatalf("expected epoch 0 forwarded, got %d", ctx.LastEpoch)
	}
	if ctx.LastEpochLR != 0.001 {
		t.Fatalf("epoch 0 must train at the base rate, got %g", ctx.LastEpochLR)
	}
	if ctx.Attached.Trained != 1 {
		t.Fatalf("expected one epoch applied to the adapter, got %d", ctx.Attached.Trained)
	}
	if !hasEvent(pub, "train_epoch") {
		t.Fatal("expected a train_epoch event")
	}
}

func TestTrainEpochScheduleAdvances(t *testing.T) {
	f := newFake()
	m, _ := newTestManager(t, f)
	mustLoad(t, m, LoadOptions{Training: true, CtxLen: 8})
	if _, err := m.CreateAdapter(8, 16.0, 0); err != nil {
		t.Fatalf("CreateAdapter failed: %v", err)
	}
	if _, err := m.SetTrainingData("abcdefghijklmnop"); err != nil {
		t.Fatalf("SetTrainingData failed: %v", err)
	}
	if _, err := m.InitTraining(0.001, 4); err != nil {
		t.Fatalf("InitTraining failed: %v", err)
	}

	ctx := fakeCtx(t, m)
	var rates []float32
	for e := 0; e < 4; e++ {
		if _, err := m.TrainEpoch(e); err != nil {
			t.Fatalf("TrainEpoch(%d) failed: %v", e, err)
		}
		rates = append(rates, ctx.LastEpochLR)
	}
	for i := 1; i < len(rates); i++ {
		if rates[i] >= rates[i-1] {
			t.Fatalf("rate must decay across epochs: %v", rates)
		}
	}
	if ctx.Attached.Trained != 4 {
		t.Fatalf("expected 4 epochs applied, got %d", ctx.Attached.Trained)
	}
}

func TestTrainEpochSingleWindowSkipsEval(t *testing.T) {
	f := newFake()
	m, _ := newTestManager(t, f)
	mustLoad(t, m, LoadOptions{Training: true, CtxLen: 8})
	if _, err := m.CreateAdapter(8, 16.0, 0); err != nil {
		t.Fatalf("CreateAdapter failed: %v", err)
	}
	if _, err := m.SetTrainingData("abcdefghijklmnop"); err != nil {
		t.Fatalf("SetTrainingData failed: %v", err)
	}
	if _, err := m.InitTraining(0.001, 1); err != nil {
		t.Fatalf("InitTraining failed: %v", err)
	}

	// Windowing pads any corpus to at least two windows, so force a
	// single-window dataset directly.
	m.mu.Lock()
	m.ds = &dataset{tokens: seqTokens(9), windowLen: 9, stride: 4}
	m.mu.Unlock()

	res, err := m.TrainEpoch(0)
	if err != nil {
		t.Fatalf("TrainEpoch failed: %v", err)
	}
	if !res.EvalSkipped {
		t.Fatal("eval must be skipped with a single window")
	}
	if !strings.Contains(res.Describe(), "Train loss:") ||
		strings.Contains(res.Describe(), "Eval loss:") {
		t.Fatalf("unexpected description: %q", res.Describe())
	}
}

func TestTrainEpochProgressForwarded(t *testing.T) {
	f := newFake()
	m, _ := newTestManager(t, f)
	mustLoad(t, m, LoadOptions{Training: true, CtxLen: 8})
	if _, err := m.CreateAdapter(8, 16.0, 0); err != nil {
		t.Fatalf("CreateAdapter failed: %v", err)
	}
	if _, err := m.SetTrainingData("abcdefghijklmnop"); err != nil {
		t.Fatalf("SetTrainingData failed: %v", err)
	}
	if _, err := m.InitTraining(0.001, 1); err != nil {
		t.Fatalf("InitTraining failed: %v", err)
	}

	obs := &logCollector{}
	m.Bridge().SetLogObserver(obs)
	if _, err := m.TrainEpoch(0); err != nil {
		t.Fatalf("TrainEpoch failed: %v", err)
	}

	var train, eval int
	for _, line := range obs.lines {
		if strings.HasPrefix(line, "[TRAIN] batch ") {
			train++
		}
		if strings.HasPrefix(line, "[EVAL] batch ") {
			eval++
		}
	}
	if train != 2 || eval != 1 {
		t.Fatalf("expected 2 train and 1 eval progress lines, got %d/%d", train, eval)
	}
}

func TestEpochResultDescribe(t *testing.T) {
	r := EpochResult{Epoch: 2, TrainLoss: 1.2345, EvalLoss: 1.5, Elapsed: 42 * time.Second}
	want := "Epoch 3 | Train loss: 1.2345 | Eval loss: 1.5000 | Time: 42s"
	if got := r.Describe(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}

	r.EvalSkipped = true
	want = "Epoch 3 | Train loss: 1.2345 | Time: 42s"
	if got := r.Describe(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
