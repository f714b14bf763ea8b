package manager

import (
	"testing"

	"github.com/rs/zerolog"

	"lorad/internal/engine/enginetest"
)

func newFake(script ...string) *enginetest.Fake {
	f := enginetest.New()
	f.Script = script
	return f
}

func newTestManager(t *testing.T, f *enginetest.Fake) (*Manager, *MemoryPublisher) {
	t.Helper()
	pub := NewMemoryPublisher()
	m := NewWithConfig(ManagerConfig{Engine: f, Logger: zerolog.Nop(), Publisher: pub})
	if err := m.InitBackend(""); err != nil {
		t.Fatalf("InitBackend failed: %v", err)
	}
	return m, pub
}

func mustLoad(t *testing.T, m *Manager, opts LoadOptions) {
	t.Helper()
	if _, err := m.LoadModel("/models/fake.gguf", opts); err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}
}

func fakeCtx(t *testing.T, m *Manager) *enginetest.Context {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx == nil {
		t.Fatal("no live context")
	}
	return m.ctx.(*enginetest.Context)
}

type logCollector struct {
	lines []string
}

func (c *logCollector) OnLog(line string) { c.lines = append(c.lines, line) }

type streamCollector struct {
	chunks   []string
	complete bool
	errMsg   string
}

func (c *streamCollector) OnToken(text string)    { c.chunks = append(c.chunks, text) }
func (c *streamCollector) OnComplete()            { c.complete = true }
func (c *streamCollector) OnError(message string) { c.errMsg = message }

func hasEvent(pub *MemoryPublisher, name string) bool {
	for _, n := range pub.Names() {
		if n == name {
			return true
		}
	}
	return false
}
