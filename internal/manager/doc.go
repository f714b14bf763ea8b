// Package manager is the orchestration core between the public API surface
// and the native tensor engine: it owns the loaded model, its execution
// context and the attached LoRA adapter, windows training text into datasets,
// drives epoch optimization, and runs blocking or streaming text generation.
// It is structured into small files by concern:
//
//   - manager.go: core Manager type, constructor, simple getters, status.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - errors.go: error types and helpers (IsNotInitialized, IsInvalidInput, IsNativeFailure).
//   - callbacks.go: the thread-safe bridge dispatching log lines and stream events.
//   - events.go / eventpub_memory.go: lifecycle event publishing.
//   - lifecycle.go: backend init, model/context load with rollback, shutdown.
//   - adapter.go: create/load/remove/save of the LoRA adapter.
//   - dataset.go: tokenization and fixed-stride windowing of training text.
//   - training.go: optimizer setup, learning-rate schedule, epoch loop.
//   - generate.go: prompt prefill, sampling loop, blocking and streaming output.
//   - stop.go: chat-turn stop delimiters and UTF-8-safe stream chunking.
//   - helpers.go: small utilities (thread resolution, clamping).
//
// Calls that touch engine handles (LoadModel, Generate, TrainEpoch, ...) are
// long-running and blocking; invoke them from a worker goroutine, one at a
// time. The Manager serializes them internally, but the callback bridge is
// the only part designed for concurrent use from arbitrary threads.
package manager
