package types

// LoadModelRequest is the payload for POST /v1/model/load.
type LoadModelRequest struct {
	// Catalog id of the model to load. Exactly one of Model or Path is required.
	// example: tinyllama-q4.gguf
	Model string `json:"model,omitempty" example:"tinyllama-q4.gguf"`
	// Absolute path to a model file, bypassing the catalog.
	Path string `json:"path,omitempty"`
	// Worker threads for the engine; 0 resolves to max(2, cores-2).
	// example: 4
	Threads int `json:"threads,omitempty" example:"4"`
	// Context length in tokens; 0 resolves to the profile default.
	// example: 512
	CtxLen int `json:"ctx_len,omitempty" example:"512"`
	// Number of layers offloaded to an accelerator; 0 keeps everything on CPU.
	GPULayers int `json:"gpu_layers,omitempty"`
	// Build a training-profile context (F32 KV cache, batch = ctx) instead of
	// the inference profile.
	// example: true
	Training bool `json:"training,omitempty" example:"true"`
}

// CreateAdapterRequest is the payload for POST /v1/adapter/create.
type CreateAdapterRequest struct {
	// LoRA rank (dimension of the low-rank factors).
	// example: 4
	Rank int `json:"rank" example:"4"`
	// Adapter scale (alpha).
	// example: 8.0
	Scale float32 `json:"scale" example:"8.0"`
	// Number of leading layers left without adapter tensors.
	// example: 0
	SkipLayers int `json:"skip_layers,omitempty" example:"0"`
}

// AdapterPathRequest carries an adapter file path (load/save).
type AdapterPathRequest struct {
	// Absolute path of the adapter file.
	// example: /home/user/adapters/my-style.lora.gguf
	Path string `json:"path" example:"/home/user/adapters/my-style.lora.gguf"`
}

// TrainingDataRequest is the payload for POST /v1/train/data.
type TrainingDataRequest struct {
	// Raw training text; tokenized and windowed server-side.
	Text string `json:"text"`
}

// InitTrainingRequest is the payload for POST /v1/train/init.
type InitTrainingRequest struct {
	// Base learning rate (lr0). Minimum rate is fixed at 0.1*lr0.
	// example: 0.0001
	LearningRate float32 `json:"learning_rate" example:"0.0001"`
	// Planned number of epochs; also the cosine decay horizon.
	// example: 3
	Epochs int `json:"epochs" example:"3"`
}

// TrainEpochRequest is the payload for POST /v1/train/epoch.
type TrainEpochRequest struct {
	// Zero-based epoch index. Callers must pass strictly increasing indices
	// for a consistent learning-rate schedule.
	// example: 0
	Epoch int `json:"epoch" example:"0"`
}

// TrainEpochResponse reports one epoch of optimization.
type TrainEpochResponse struct {
	// Zero-based epoch index that was run.
	Epoch int `json:"epoch"`
	// Mean training loss over the train split.
	TrainLoss float64 `json:"train_loss"`
	// Mean eval loss; only meaningful when EvalSkipped is false.
	EvalLoss float64 `json:"eval_loss,omitempty"`
	// True when the dataset had a single window and evaluation was skipped.
	EvalSkipped bool `json:"eval_skipped,omitempty"`
	// Wall-clock epoch duration in seconds.
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	// Human-readable summary, e.g. "Epoch 1 | Train loss: 2.0134 | ...".
	Description string `json:"description"`
}

// GenerateRequest is the payload for POST /v1/generate.
type GenerateRequest struct {
	// Prompt text; must tokenize to at least one token.
	// example: Write a haiku about the ocean.
	Prompt string `json:"prompt" example:"Write a haiku about the ocean."`
	// Maximum number of new tokens; <=0 means 128.
	// example: 128
	MaxTokens int `json:"max_tokens,omitempty" example:"128"`
	// Sampling temperature; <=0 selects deterministic greedy decoding.
	// example: 0.7
	Temperature float32 `json:"temperature,omitempty" example:"0.7"`
	// If true, stream NDJSON token lines instead of a single JSON body.
	// example: true
	Stream bool `json:"stream,omitempty" example:"true"`
}

// GenerateResponse is the non-streaming generation result.
type GenerateResponse struct {
	// Generated text with chat-turn delimiters stripped.
	Text string `json:"text"`
}

// DescriptionResponse wraps a human-readable outcome line for lifecycle ops.
type DescriptionResponse struct {
	// example: LoRA adapter created (rank=4, scale=8.0, skip=0)
	Description string `json:"description"`
}

// ModelsResponse wraps the list of catalog models returned by GET /v1/models.
type ModelsResponse struct {
	Models []Model `json:"models"`
}

// AdaptersResponse wraps the adapter files returned by GET /v1/adapters.
type AdaptersResponse struct {
	Adapters []AdapterFile `json:"adapters"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// True when the native backend has been initialized.
	BackendInitialized bool `json:"backend_initialized"`
	// True when a model and its context are live.
	ModelLoaded bool `json:"model_loaded"`
	// Path of the loaded model, when any.
	ModelPath string `json:"model_path,omitempty"`
	// Description of the loaded model, when any.
	ModelDesc string `json:"model_desc,omitempty"`
	// True when an adapter is attached to the context.
	AdapterAttached bool `json:"adapter_attached"`
	// "training" or "inference"; empty when no model is loaded.
	Profile string `json:"profile,omitempty"`
	// Context length of the live context in tokens.
	CtxLen int `json:"ctx_len,omitempty"`
	// Window count of the current training dataset (0 = none set).
	DatasetWindows int `json:"dataset_windows,omitempty"`
	// Available system memory in MB (0 when probing failed).
	AvailableMemMB uint64 `json:"available_mem_mb,omitempty"`
	// Uptime of the server in seconds.
	UptimeSeconds int64 `json:"uptime_seconds"`
	// Server time in unix seconds.
	ServerTimeUnix int64 `json:"server_time_unix"`
}

// EpochRecord is one persisted training-history row.
type EpochRecord struct {
	// example: /home/user/models/TinyLlama.Q4_K_M.gguf
	ModelPath string `json:"model_path"`
	// Zero-based epoch index.
	Epoch int `json:"epoch"`
	// Mean training loss.
	TrainLoss float64 `json:"train_loss"`
	// Mean eval loss; meaningless when EvalSkipped.
	EvalLoss float64 `json:"eval_loss"`
	// True when evaluation was skipped for this epoch.
	EvalSkipped bool `json:"eval_skipped"`
	// Epoch duration in seconds.
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	// Record time in unix seconds.
	CreatedUnix int64 `json:"created_unix"`
}

// HistoryResponse wraps persisted epochs returned by GET /v1/train/history.
type HistoryResponse struct {
	Epochs []EpochRecord `json:"epochs"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message, prefixed "ERROR: " for parity with the native surface.
	// example: ERROR: Backend not initialized
	Error string `json:"error" example:"ERROR: Backend not initialized"`
	// HTTP status code.
	// example: 409
	Code int `json:"code" example:"409"`
}
