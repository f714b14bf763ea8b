package manager

import "fmt"

// adapterScale is the strength at which an adapter is applied to the
// context. Training always applies at full strength.
const adapterScale = 1.0

// CreateAdapter creates a fresh zero-initialized LoRA adapter and attaches
// it to the live context, replacing any previous adapter. Rolls back to "no
// adapter" if the new one cannot be attached.
func (m *Manager) CreateAdapter(rank int, scale float32, skipLayers int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.model == nil || m.ctx == nil {
		return "", ErrNotInitialized("model not loaded")
	}

	m.bridge.Logf("Creating LoRA adapter (rank=%d, scale=%.1f, skip_layers=%d)...",
		rank, scale, skipLayers)
	m.detachAdapterLocked()

	a, err := m.model.NewAdapter(rank, scale, skipLayers)
	if err != nil {
		return "", ErrNativeFailure("create adapter", err)
	}
	if err := m.ctx.Attach(a, adapterScale); err != nil {
		a.Free()
		return "", ErrNativeFailure("apply adapter", err)
	}
	m.adapter = a

	m.bridge.Logf("LoRA adapter applied to context")
	m.publisher.Publish(Event{Name: "adapter_create", Fields: map[string]any{
		"rank": rank, "scale": scale, "skip_layers": skipLayers,
	}})
	return fmt.Sprintf("LoRA adapter created (rank=%d, scale=%.1f, skip=%d)",
		rank, scale, skipLayers), nil
}

// LoadAdapter reads a saved adapter container and attaches it, replacing any
// previous adapter.
func (m *Manager) LoadAdapter(path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.model == nil || m.ctx == nil {
		return "", ErrNotInitialized("model not loaded")
	}

	m.detachAdapterLocked()
	m.bridge.Logf("Loading LoRA adapter from: %s", path)

	a, err := m.model.LoadAdapter(path)
	if err != nil {
		return "", ErrNativeFailure("load adapter", err)
	}
	if err := m.ctx.Attach(a, adapterScale); err != nil {
		a.Free()
		return "", ErrNativeFailure("apply adapter", err)
	}
	m.adapter = a

	m.bridge.Logf("LoRA adapter loaded and applied")
	m.publisher.Publish(Event{Name: "adapter_load", Fields: map[string]any{"path": path}})
	return "LoRA loaded from: " + path, nil
}

// RemoveAdapter detaches and frees the current adapter. Idempotent; a no-op
// when no adapter (or no context) exists.
func (m *Manager) RemoveAdapter() {
	m.mu.Lock()
	had := m.adapter != nil
	m.detachAdapterLocked()
	m.mu.Unlock()
	if had {
		m.bridge.Logf("LoRA adapter removed")
		m.publisher.Publish(Event{Name: "adapter_removed"})
	}
}

// SaveAdapter writes the adapter's trainable tensors plus metadata to path.
func (m *Manager) SaveAdapter(path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.adapter == nil {
		return "", ErrNotInitialized("no adapter to save")
	}
	m.bridge.Logf("Saving LoRA adapter to: %s", path)
	if err := m.adapter.Save(path); err != nil {
		return "", ErrNativeFailure("save adapter", err)
	}
	m.bridge.Logf("Adapter saved successfully")
	m.publisher.Publish(Event{Name: "adapter_save", Fields: map[string]any{"path": path}})
	return "Saved: " + path, nil
}

// detachAdapterLocked detaches then frees the current adapter, if any.
// Detach is skipped when the context is already gone.
func (m *Manager) detachAdapterLocked() {
	if m.adapter == nil {
		return
	}
	if m.ctx != nil {
		m.ctx.Detach(m.adapter)
	}
	m.adapter.Free()
	m.adapter = nil
}
