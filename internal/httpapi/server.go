package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lorad/internal/manager"
	"lorad/internal/registry"
	"lorad/pkg/types"
)

// Service defines the manager methods required by the HTTP API layer.
type Service interface {
	Status() types.StatusResponse
	Bridge() *manager.Bridge
	HasModel() bool
	LoadModel(path string, opts manager.LoadOptions) (string, error)
	CreateAdapter(rank int, scale float32, skipLayers int) (string, error)
	LoadAdapter(path string) (string, error)
	RemoveAdapter()
	SaveAdapter(path string) (string, error)
	SetTrainingData(text string) (string, error)
	InitTraining(learningRate float32, epochs int) (string, error)
	TrainEpoch(epochIndex int) (manager.EpochResult, error)
	Generate(prompt string, maxTokens int, temperature float32) (string, error)
	GenerateStreaming(prompt string, maxTokens int, temperature float32)
}

// HistoryReader lists persisted training epochs. Optional.
type HistoryReader interface {
	Epochs(limit int) ([]types.EpochRecord, error)
}

// Options wires the mux to its collaborators.
type Options struct {
	Service     Service
	ModelsDir   string
	AdaptersDir string
	History     HistoryReader
}

type server struct {
	svc         Service
	modelsDir   string
	adaptersDir string
	history     HistoryReader

	// streamMu serializes streaming generations: the bridge holds a single
	// stream observer slot, so one NDJSON response owns it at a time.
	streamMu sync.Mutex
}

// NewMux builds the HTTP handler tree.
func NewMux(opts Options) http.Handler {
	s := &server{
		svc:         opts.Service,
		modelsDir:   opts.ModelsDir,
		adaptersDir: opts.AdaptersDir,
		history:     opts.History,
	}

	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}

	r.Get("/status", s.handleStatus)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/models", s.handleListModels)
		r.Get("/adapters", s.handleListAdapters)
		r.Post("/model/load", s.handleLoadModel)
		r.Post("/adapter/create", s.handleCreateAdapter)
		r.Post("/adapter/load", s.handleLoadAdapter)
		r.Post("/adapter/save", s.handleSaveAdapter)
		r.Delete("/adapter", s.handleRemoveAdapter)
		r.Post("/train/data", s.handleTrainingData)
		r.Post("/train/init", s.handleInitTraining)
		r.Post("/train/epoch", s.handleTrainEpoch)
		r.Get("/train/history", s.handleTrainHistory)
		r.Post("/generate", s.handleGenerate)
	})

	MountSwagger(r)
	return r
}

// decodeJSON enforces content type and body size, then decodes into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}

func writeDescription(w http.ResponseWriter, desc string, err error) {
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, types.DescriptionResponse{Description: desc})
}

// handleStatus godoc
// @Summary Runtime status
// @Produce json
// @Success 200 {object} types.StatusResponse
// @Router /status [get]
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.svc.Status())
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.svc.Status().BackendInitialized {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte("initializing"))
}

// handleListModels godoc
// @Summary List catalog models
// @Produce json
// @Success 200 {object} types.ModelsResponse
// @Router /v1/models [get]
func (s *server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := registry.LoadDir(s.modelsDir)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, types.ModelsResponse{Models: models})
}

// handleListAdapters godoc
// @Summary List saved adapter files
// @Produce json
// @Success 200 {object} types.AdaptersResponse
// @Router /v1/adapters [get]
func (s *server) handleListAdapters(w http.ResponseWriter, r *http.Request) {
	adapters, err := registry.LoadAdaptersDir(s.adaptersDir)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, types.AdaptersResponse{Adapters: adapters})
}

// handleLoadModel godoc
// @Summary Load model weights and build a context
// @Accept json
// @Produce json
// @Param request body types.LoadModelRequest true "load options"
// @Success 200 {object} types.DescriptionResponse
// @Failure 400 {object} types.ErrorResponse
// @Failure 404 {object} types.ErrorResponse
// @Failure 409 {object} types.ErrorResponse
// @Failure 502 {object} types.ErrorResponse
// @Router /v1/model/load [post]
func (s *server) handleLoadModel(w http.ResponseWriter, r *http.Request) {
	var req types.LoadModelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	path := req.Path
	if path == "" {
		if req.Model == "" {
			writeJSONError(w, http.StatusBadRequest, "model or path is required")
			return
		}
		models, err := registry.LoadDir(s.modelsDir)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		for _, m := range models {
			if m.ID == req.Model {
				path = m.Path
				break
			}
		}
		if path == "" {
			writeJSONError(w, http.StatusNotFound, "model not found: "+req.Model)
			return
		}
	}

	start := time.Now()
	desc, err := s.svc.LoadModel(path, manager.LoadOptions{
		Threads:   req.Threads,
		CtxLen:    req.CtxLen,
		GPULayers: req.GPULayers,
		Training:  req.Training,
	})
	if err == nil {
		logEvent("model load", map[string]string{
			"path": path, "dur": time.Since(start).String(),
		})
	}
	writeDescription(w, desc, err)
}

// handleCreateAdapter godoc
// @Summary Create and attach a fresh LoRA adapter
// @Accept json
// @Produce json
// @Param request body types.CreateAdapterRequest true "adapter shape"
// @Success 200 {object} types.DescriptionResponse
// @Failure 409 {object} types.ErrorResponse
// @Router /v1/adapter/create [post]
func (s *server) handleCreateAdapter(w http.ResponseWriter, r *http.Request) {
	var req types.CreateAdapterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Rank <= 0 {
		writeJSONError(w, http.StatusBadRequest, "rank must be positive")
		return
	}
	desc, err := s.svc.CreateAdapter(req.Rank, req.Scale, req.SkipLayers)
	writeDescription(w, desc, err)
}

// handleLoadAdapter godoc
// @Summary Load a saved adapter and attach it
// @Accept json
// @Produce json
// @Param request body types.AdapterPathRequest true "adapter file"
// @Success 200 {object} types.DescriptionResponse
// @Router /v1/adapter/load [post]
func (s *server) handleLoadAdapter(w http.ResponseWriter, r *http.Request) {
	var req types.AdapterPathRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeJSONError(w, http.StatusBadRequest, "path is required")
		return
	}
	desc, err := s.svc.LoadAdapter(req.Path)
	writeDescription(w, desc, err)
}

// handleSaveAdapter godoc
// @Summary Save the attached adapter to disk
// @Accept json
// @Produce json
// @Param request body types.AdapterPathRequest true "target file"
// @Success 200 {object} types.DescriptionResponse
// @Router /v1/adapter/save [post]
func (s *server) handleSaveAdapter(w http.ResponseWriter, r *http.Request) {
	var req types.AdapterPathRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeJSONError(w, http.StatusBadRequest, "path is required")
		return
	}
	desc, err := s.svc.SaveAdapter(req.Path)
	writeDescription(w, desc, err)
}

// handleRemoveAdapter godoc
// @Summary Detach and free the current adapter
// @Success 204
// @Router /v1/adapter [delete]
func (s *server) handleRemoveAdapter(w http.ResponseWriter, r *http.Request) {
	s.svc.RemoveAdapter()
	w.WriteHeader(http.StatusNoContent)
}

// handleTrainingData godoc
// @Summary Tokenize and window the training corpus
// @Accept json
// @Produce json
// @Param request body types.TrainingDataRequest true "raw text"
// @Success 200 {object} types.DescriptionResponse
// @Failure 400 {object} types.ErrorResponse
// @Router /v1/train/data [post]
func (s *server) handleTrainingData(w http.ResponseWriter, r *http.Request) {
	var req types.TrainingDataRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeJSONError(w, http.StatusBadRequest, "text is required")
		return
	}
	desc, err := s.svc.SetTrainingData(req.Text)
	writeDescription(w, desc, err)
}

// handleInitTraining godoc
// @Summary Initialize the optimizer over the adapter tensors
// @Accept json
// @Produce json
// @Param request body types.InitTrainingRequest true "schedule"
// @Success 200 {object} types.DescriptionResponse
// @Router /v1/train/init [post]
func (s *server) handleInitTraining(w http.ResponseWriter, r *http.Request) {
	var req types.InitTrainingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.LearningRate <= 0 {
		writeJSONError(w, http.StatusBadRequest, "learning_rate must be positive")
		return
	}
	desc, err := s.svc.InitTraining(req.LearningRate, req.Epochs)
	writeDescription(w, desc, err)
}

// handleTrainEpoch godoc
// @Summary Run one training epoch
// @Accept json
// @Produce json
// @Param request body types.TrainEpochRequest true "epoch index"
// @Success 200 {object} types.TrainEpochResponse
// @Failure 409 {object} types.ErrorResponse
// @Failure 502 {object} types.ErrorResponse
// @Router /v1/train/epoch [post]
func (s *server) handleTrainEpoch(w http.ResponseWriter, r *http.Request) {
	var req types.TrainEpochRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Epoch < 0 {
		writeJSONError(w, http.StatusBadRequest, "epoch must be non-negative")
		return
	}
	res, err := s.svc.TrainEpoch(req.Epoch)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, types.TrainEpochResponse{
		Epoch:          res.Epoch,
		TrainLoss:      res.TrainLoss,
		EvalLoss:       res.EvalLoss,
		EvalSkipped:    res.EvalSkipped,
		ElapsedSeconds: res.Elapsed.Seconds(),
		Description:    res.Describe(),
	})
}

// handleTrainHistory godoc
// @Summary List persisted training epochs, newest first
// @Produce json
// @Param limit query int false "max rows (0 = all)"
// @Success 200 {object} types.HistoryResponse
// @Router /v1/train/history [get]
func (s *server) handleTrainHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, types.HistoryResponse{})
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	rows, err := s.history.Epochs(limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, types.HistoryResponse{Epochs: rows})
}

// handleGenerate godoc
// @Summary Generate text from a prompt
// @Description With "stream": true the response is NDJSON: token lines, then
// @Description one terminal done or error line.
// @Accept json
// @Produce json
// @Param request body types.GenerateRequest true "prompt and sampling"
// @Success 200 {object} types.GenerateResponse
// @Failure 400 {object} types.ErrorResponse
// @Failure 409 {object} types.ErrorResponse
// @Failure 502 {object} types.ErrorResponse
// @Router /v1/generate [post]
func (s *server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req types.GenerateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSONError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	start := time.Now()
	if !req.Stream {
		text, err := s.svc.Generate(req.Prompt, req.MaxTokens, req.Temperature)
		if err != nil {
			writeManagerError(w, err)
			return
		}
		logEvent("generate end", map[string]string{
			"mode": "blocking", "dur": time.Since(start).String(),
		})
		writeJSON(w, types.GenerateResponse{Text: text})
		return
	}

	// One streaming response at a time owns the bridge's observer slot.
	s.streamMu.Lock()
	defer s.streamMu.Unlock()

	w.Header().Set("Content-Type", "application/x-ndjson")
	var flush func()
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()

	stream := newNDJSONStream(ctx, w, flush, requestLogLevel(r) >= LevelDebug)
	s.svc.Bridge().SetStreamObserver(stream)
	defer s.svc.Bridge().SetStreamObserver(nil)

	s.svc.GenerateStreaming(req.Prompt, req.MaxTokens, req.Temperature)
	logEvent("generate end", map[string]string{
		"mode": "stream", "dur": time.Since(start).String(),
	})
}
