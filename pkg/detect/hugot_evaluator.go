package detect

// Local ONNX-based manipulation classification via Hugot. Runs fully local,
// no external API calls. Disabled by default; opt in with
// BASTION_ENABLE_ONNX=true. Initialization failures degrade gracefully to a
// not-ready evaluator instead of an error.

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
	"github.com/knights-analytics/hugot/pipelines"

	"github.com/TrustMeshAI/bastion/pkg/audit"
)

// ONNXConfig configures the local classifier.
type ONNXConfig struct {
	// ModelPath is the local ONNX model directory. If empty and ModelName
	// is set, the model is downloaded on first use.
	ModelPath string

	// ModelName is the HuggingFace model to download when ModelPath is
	// missing.
	ModelName string

	// OnnxLibraryPath points at libonnxruntime. Empty means pure Go
	// backend.
	OnnxLibraryPath string

	// BatchSize for inference (default 32).
	BatchSize int

	// Timeout bounds one inference call.
	Timeout time.Duration
}

// DefaultONNXConfig returns the default local model configuration.
func DefaultONNXConfig() ONNXConfig {
	return ONNXConfig{
		ModelName:       "protectai/deberta-v3-base-prompt-injection-v2",
		ModelPath:       "./models/deberta-base",
		OnnxLibraryPath: defaultOnnxLibraryPath(),
		BatchSize:       32,
		Timeout:         30 * time.Second,
	}
}

// ONNXEnabled reports whether the local classifier should start. Default off
// so installs stay quiet unless opted in.
func ONNXEnabled() bool {
	switch os.Getenv("BASTION_ENABLE_ONNX") {
	case "1", "true", "TRUE", "yes", "YES", "on", "ON":
		return true
	}
	return false
}

func defaultOnnxLibraryPath() string {
	paths := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/opt/homebrew/lib/libonnxruntime.dylib",
		"/usr/local/lib/libonnxruntime.dylib",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return filepath.Dir(p)
		}
	}
	return ""
}

// ONNXEvaluator classifies messages with a local text-classification model.
type ONNXEvaluator struct {
	mu       sync.RWMutex
	session  *hugot.Session
	pipeline *pipelines.TextClassificationPipeline
	config   ONNXConfig
	ready    bool
}

// NewONNXEvaluator initializes the model. On failure it returns a not-ready
// evaluator and logs a warning so the caller can keep the heuristic layers.
func NewONNXEvaluator(cfg ONNXConfig) *ONNXEvaluator {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 32
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	ev := &ONNXEvaluator{config: cfg}
	if err := ev.initialize(); err != nil {
		log.Printf("[WARN] ONNX evaluator unavailable, continuing without it: %v", err)
	}
	return ev
}

func (e *ONNXEvaluator) initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	session, err := e.createSession()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	e.session = session

	modelPath, err := e.resolveModelPath()
	if err != nil {
		_ = e.session.Destroy()
		return fmt.Errorf("resolve model path: %w", err)
	}

	pipeline, err := hugot.NewPipeline(e.session, hugot.TextClassificationConfig{
		ModelPath: modelPath,
		Name:      "manipulation-classifier",
	})
	if err != nil {
		_ = e.session.Destroy()
		return fmt.Errorf("create pipeline: %w", err)
	}

	e.pipeline = pipeline
	e.ready = true
	log.Printf("ONNX evaluator initialized (model: %s)", modelPath)
	return nil
}

func (e *ONNXEvaluator) createSession() (*hugot.Session, error) {
	if e.config.OnnxLibraryPath != "" {
		session, err := hugot.NewORTSession(
			options.WithOnnxLibraryPath(e.config.OnnxLibraryPath),
		)
		if err == nil {
			return session, nil
		}
		log.Printf("[WARN] ONNX Runtime unavailable, falling back to Go backend: %v", err)
	}
	return hugot.NewGoSession()
}

func (e *ONNXEvaluator) resolveModelPath() (string, error) {
	if e.config.ModelPath != "" {
		if _, err := os.Stat(e.config.ModelPath); err == nil {
			return e.config.ModelPath, nil
		}
	}
	if e.config.ModelName == "" {
		return "", fmt.Errorf("no model path or name specified")
	}
	if err := os.MkdirAll("./models", 0o755); err != nil {
		return "", fmt.Errorf("create models directory: %w", err)
	}
	log.Printf("Downloading model %s...", e.config.ModelName)
	return hugot.DownloadModel(e.config.ModelName, "./models", hugot.NewDownloadOptions())
}

// IsReady reports whether the model loaded.
func (e *ONNXEvaluator) IsReady() bool {
	if e == nil {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ready
}

// isThreatLabel handles the label conventions of the supported models.
func isThreatLabel(label string) bool {
	switch label {
	case "jailbreak", "INJECTION", "malicious", "LABEL_1":
		return true
	}
	return false
}

// Evaluate classifies one message and maps the model output onto a
// SecurityCheck.
func (e *ONNXEvaluator) Evaluate(ctx context.Context, message string, evalCtx map[string]string) (*SecurityCheck, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.ready || e.pipeline == nil {
		return nil, fmt.Errorf("onnx evaluator not ready")
	}

	result, err := e.pipeline.RunPipeline([]string{message})
	if err != nil {
		return nil, fmt.Errorf("classification failed: %w", err)
	}
	if len(result.ClassificationOutputs) == 0 || len(result.ClassificationOutputs[0]) == 0 {
		return nil, fmt.Errorf("no classification output")
	}

	out := result.ClassificationOutputs[0][0]
	check := &SecurityCheck{
		Type:       EventPromptInjection,
		Confidence: float64(out.Score),
		Details:    map[string]string{"label": out.Label},
	}
	if isThreatLabel(out.Label) {
		check.Detected = true
		check.Action = ActionBlock
		check.Severity = audit.SeverityHigh
		if check.Confidence >= 0.95 {
			check.Severity = audit.SeverityCritical
		}
	}
	return check, nil
}

// Close releases the model session.
func (e *ONNXEvaluator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ready = false
	if e.session != nil {
		return e.session.Destroy()
	}
	return nil
}
