package types

// Model represents a discoverable base model file on disk.
type Model struct {
	// Stable identifier for the model.
	// example: tinyllama-q4.gguf
	ID string `json:"id" example:"tinyllama-q4.gguf"`
	// Human-friendly name.
	// example: tinyllama-q4.gguf
	Name string `json:"name" example:"tinyllama-q4.gguf"`
	// Absolute path to the model file on disk.
	// example: /home/user/models/TinyLlama.Q4_K_M.gguf
	Path string `json:"path" example:"/home/user/models/TinyLlama.Q4_K_M.gguf"`
	// Quantization level or variant string.
	// example: Q4_K_M
	Quant string `json:"quant,omitempty" example:"Q4_K_M"`
}

// AdapterFile represents a saved LoRA adapter container on disk.
type AdapterFile struct {
	// Identifier (the filename).
	// example: my-style.lora.gguf
	ID string `json:"id" example:"my-style.lora.gguf"`
	// Absolute path to the adapter file.
	// example: /home/user/adapters/my-style.lora.gguf
	Path string `json:"path" example:"/home/user/adapters/my-style.lora.gguf"`
	// File size in bytes.
	// example: 4194304
	SizeBytes int64 `json:"size_bytes" example:"4194304"`
}
