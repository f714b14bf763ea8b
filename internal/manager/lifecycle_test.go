package manager

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoadModelRequiresBackend(t *testing.T) {
	f := newFake()
	m := NewWithConfig(ManagerConfig{Engine: f, Logger: zerolog.Nop()})

	_, err := m.LoadModel("/models/fake.gguf", LoadOptions{})
	if !IsNotInitialized(err) {
		t.Fatalf("expected not-initialized error, got %v", err)
	}
}

func TestLoadModelInferenceDefaults(t *testing.T) {
	f := newFake()
	m, _ := newTestManager(t, f)
	mustLoad(t, m, LoadOptions{})

	ctx := fakeCtx(t, m)
	if ctx.Params.CtxLen != 2048 {
		t.Fatalf("expected ctx len 2048, got %d", ctx.Params.CtxLen)
	}
	if ctx.Params.Batch != 512 || ctx.Params.UBatch != 256 {
		t.Fatalf("expected batch 512/256, got %d/%d", ctx.Params.Batch, ctx.Params.UBatch)
	}
	if ctx.Params.F32KV || ctx.Params.FlashAttn {
		t.Fatalf("inference profile must not force F32 KV or flash attention")
	}
}

func TestLoadModelTrainingProfile(t *testing.T) {
	f := newFake()
	m, _ := newTestManager(t, f)

	desc, err := m.LoadModel("/models/fake.gguf", LoadOptions{Training: true})
	if err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}
	if !strings.HasPrefix(desc, "Model loaded: fake 1B F16 (1.00 GB)") {
		t.Fatalf("unexpected description: %q", desc)
	}

	ctx := fakeCtx(t, m)
	if ctx.Params.CtxLen != 512 {
		t.Fatalf("expected training ctx len 512, got %d", ctx.Params.CtxLen)
	}
	if ctx.Params.Batch != 512 || ctx.Params.UBatch != 512 {
		t.Fatalf("training batch sizes must equal ctx len, got %d/%d",
			ctx.Params.Batch, ctx.Params.UBatch)
	}
	if !ctx.Params.F32KV {
		t.Fatal("training profile must use the F32 KV cache")
	}
	if ctx.Params.FlashAttn {
		t.Fatal("training profile must disable flash attention")
	}
}

func TestLoadModelExplicitOptions(t *testing.T) {
	f := newFake()
	m, _ := newTestManager(t, f)
	mustLoad(t, m, LoadOptions{Threads: 3, CtxLen: 1024})

	ctx := fakeCtx(t, m)
	if ctx.Params.CtxLen != 1024 {
		t.Fatalf("expected ctx len 1024, got %d", ctx.Params.CtxLen)
	}
	if ctx.Params.Threads != 3 {
		t.Fatalf("expected 3 threads, got %d", ctx.Params.Threads)
	}
}

func TestReloadReleasesPreviousModel(t *testing.T) {
	f := newFake()
	m, _ := newTestManager(t, f)
	mustLoad(t, m, LoadOptions{})
	first := fakeCtx(t, m)
	mustLoad(t, m, LoadOptions{Training: true})

	if f.LiveModels != 1 {
		t.Fatalf("expected exactly one live model after reload, got %d", f.LiveModels)
	}
	if !first.Freed {
		t.Fatal("previous context must be freed on reload")
	}
}

func TestLoadModelRollsBackOnContextFailure(t *testing.T) {
	f := newFake()
	f.FailContext = true
	m, _ := newTestManager(t, f)

	_, err := m.LoadModel("/models/fake.gguf", LoadOptions{})
	if !IsNativeFailure(err) {
		t.Fatalf("expected native failure, got %v", err)
	}
	if f.LiveModels != 0 {
		t.Fatalf("model must be freed when context creation fails, %d still live", f.LiveModels)
	}
	if m.HasModel() {
		t.Fatal("manager must not report a model after rollback")
	}
}

func TestShutdownReleasesEverything(t *testing.T) {
	f := newFake()
	m, pub := newTestManager(t, f)
	mustLoad(t, m, LoadOptions{Training: true})
	if _, err := m.CreateAdapter(8, 16.0, 0); err != nil {
		t.Fatalf("CreateAdapter failed: %v", err)
	}
	ctx := fakeCtx(t, m)
	adapter := ctx.Attached

	obs := &streamCollector{}
	m.Bridge().SetStreamObserver(obs)
	m.Shutdown()

	if !adapter.Freed || !ctx.Freed {
		t.Fatal("adapter and context must be freed on shutdown")
	}
	if f.LiveModels != 0 {
		t.Fatalf("expected no live models, got %d", f.LiveModels)
	}
	if f.Initialized {
		t.Fatal("backend must be freed on shutdown")
	}
	if !hasEvent(pub, "shutdown") {
		t.Fatal("expected a shutdown event")
	}

	// Registrations are dropped; later dispatches must be silent no-ops.
	m.Bridge().Token("late")
	if len(obs.chunks) != 0 {
		t.Fatalf("observer must not receive chunks after shutdown, got %v", obs.chunks)
	}
}

func TestStatus(t *testing.T) {
	f := newFake()
	m, _ := newTestManager(t, f)
	mustLoad(t, m, LoadOptions{Training: true})

	st := m.Status()
	if !st.BackendInitialized || !st.ModelLoaded {
		t.Fatalf("unexpected status: %+v", st)
	}
	if st.ModelPath != "/models/fake.gguf" {
		t.Fatalf("unexpected model path %q", st.ModelPath)
	}
	if st.Profile != string(ProfileTraining) {
		t.Fatalf("expected training profile, got %q", st.Profile)
	}
	if st.CtxLen != 512 {
		t.Fatalf("expected ctx len 512, got %d", st.CtxLen)
	}
	if st.AdapterAttached {
		t.Fatal("no adapter was attached")
	}
}
