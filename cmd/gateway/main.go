package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/TrustMeshAI/bastion/pkg/access"
	"github.com/TrustMeshAI/bastion/pkg/audit"
	"github.com/TrustMeshAI/bastion/pkg/config"
	"github.com/TrustMeshAI/bastion/pkg/detect"
	"github.com/TrustMeshAI/bastion/pkg/trust"
)

const Version = "0.1.0"

// Core bundles the wired engines behind the HTTP surface.
type Core struct {
	cfg        *config.Config
	sink       audit.Sink
	trust      *trust.Engine
	detector   *detect.Engine
	controller *access.Controller
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("[STARTUP] FATAL: %v", err)
	}
	cfg.MustValidate()

	core, err := buildCore(cfg)
	if err != nil {
		log.Fatalf("[STARTUP] FATAL: %v", err)
	}

	app := newApp(core)
	log.Printf("[STARTUP] Bastion %s listening on %s", Version, cfg.ListenAddr)
	if err := app.Listen(cfg.ListenAddr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func loadConfig() (*config.Config, error) {
	if path := os.Getenv("BASTION_CONFIG_FILE"); path != "" {
		return config.LoadFile(path)
	}
	return config.NewDefaultConfig(), nil
}

func buildCore(cfg *config.Config) (*Core, error) {
	sink, err := buildSink(cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(cfg)
	if err != nil {
		return nil, err
	}

	trustEngine, err := trust.NewEngine(cfg.EvaluatorID, store, trust.EngineConfig{
		DecayRate:            cfg.TrustDecayRate,
		RecencyBias:          cfg.TrustRecencyBias,
		VerifiedMultiplier:   cfg.VerifiedMultiplier,
		MinimumEvidenceCount: cfg.MinimumEvidence,
		CacheTTL:             cfg.ProfileCacheTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("trust engine: %w", err)
	}

	detector, err := detect.NewEngine(detect.Config{
		Sink:        sink,
		Evaluator:   buildEvaluator(cfg),
		Semantic:    buildSemanticIndex(cfg),
		TrustEngine: trustEngine,
	})
	if err != nil {
		return nil, fmt.Errorf("detection engine: %w", err)
	}

	controller, err := access.NewController(access.Config{
		TrustEngine: trustEngine,
		Detector:    detector,
		Roles:       envRoleResolver(),
		DecisionTTL: cfg.DecisionCacheTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("access controller: %w", err)
	}

	return &Core{cfg: cfg, sink: sink, trust: trustEngine, detector: detector, controller: controller}, nil
}

func buildSink(cfg *config.Config) (audit.Sink, error) {
	if cfg.AuditLogPath == "" {
		log.Println("○ Audit file logging disabled (in-memory only)")
		return audit.NewMemorySink(0), nil
	}
	sink, err := audit.NewJSONLSink(cfg.AuditLogPath, 0)
	if err != nil {
		return nil, fmt.Errorf("audit log: %w", err)
	}
	log.Printf("✓ Audit logging enabled (%s)", cfg.AuditLogPath)
	return sink, nil
}

func buildStore(cfg *config.Config) (trust.EvidenceStore, error) {
	switch cfg.Storage {
	case config.StorageRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis at %s: %w", cfg.RedisAddr, err)
		}
		log.Printf("✓ Evidence store: redis (%s)", cfg.RedisAddr)
		return trust.NewRedisStore(rdb)
	case config.StoragePostgres:
		pool, err := pgxpool.New(context.Background(), cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		log.Println("✓ Evidence store: postgres")
		return trust.NewPostgresStore(pool)
	default:
		log.Println("○ Evidence store: in-memory (no persistence)")
		return trust.NewMemoryStore(), nil
	}
}

// buildEvaluator picks the deep-analysis layer: remote LLM when configured,
// local ONNX when enabled, otherwise none.
func buildEvaluator(cfg *config.Config) detect.Evaluator {
	if cfg.LLMProvider != config.ProviderNone && (cfg.LLMAPIKey != "" || cfg.LLMProvider == config.ProviderOllama) {
		log.Printf("✓ Deep evaluator enabled (provider: %s)", cfg.LLMProvider)
		return detect.NewLLMEvaluator(detect.EvaluatorConfig{
			Provider: detect.LLMProvider(cfg.LLMProvider),
			APIKey:   cfg.LLMAPIKey,
			Model:    cfg.LLMModel,
			BaseURL:  cfg.LLMBaseURL,
		})
	}
	if cfg.EnableONNX || detect.ONNXEnabled() {
		ev := detect.NewONNXEvaluator(detect.DefaultONNXConfig())
		if ev.IsReady() {
			log.Println("✓ Deep evaluator enabled (local ONNX)")
			return ev
		}
		log.Println("○ Deep evaluator disabled (ONNX model unavailable)")
		return nil
	}
	log.Println("○ Deep evaluator disabled (no API key, ONNX off)")
	return nil
}

func buildSemanticIndex(cfg *config.Config) *detect.SemanticIndex {
	if !cfg.EnableSemantics {
		log.Println("○ Semantic index disabled")
		return nil
	}
	index, err := detect.NewSemanticIndex(cfg.OllamaURL)
	if err != nil {
		log.Printf("○ Semantic index disabled (init failed: %v)", err)
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if err := index.LoadExemplars(ctx); err != nil {
		log.Printf("○ Semantic index disabled (exemplar load failed: %v)", err)
		return nil
	}
	log.Printf("✓ Semantic index enabled (%d exemplars, embeddings via %s)", index.ExemplarCount(), cfg.OllamaURL)
	return index
}

// envRoleResolver builds a static resolver from BASTION_OWNER_IDS and
// BASTION_ADMIN_IDS. Deployments with a real IAM plug their own RoleResolver
// into access.Config instead.
func envRoleResolver() access.RoleResolver {
	roles := make(map[string]access.Role)
	for _, id := range splitIDs(os.Getenv("BASTION_OWNER_IDS")) {
		roles[id] = access.RoleOwner
	}
	for _, id := range splitIDs(os.Getenv("BASTION_ADMIN_IDS")) {
		roles[id] = access.RoleAdmin
	}
	return access.RoleResolverFunc(func(ctx context.Context, entityID, worldID string) (access.Role, error) {
		if r, ok := roles[entityID]; ok {
			return r, nil
		}
		return access.RoleNone, nil
	})
}

func splitIDs(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func newApp(core *Core) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "Bastion",
	})

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "version": Version})
	})

	registerTrustRoutes(app, core)
	registerDetectRoutes(app, core)
	registerAccessRoutes(app, core)
	registerHistoryRoutes(app, core)

	return app
}

func registerTrustRoutes(app *fiber.App, core *Core) {
	app.Post("/trust/calculate", func(c fiber.Ctx) error {
		var req struct {
			EntityID string `json:"entity_id"`
			WorldID  string `json:"world_id"`
			RoomID   string `json:"room_id"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if req.EntityID == "" {
			return c.Status(400).JSON(fiber.Map{"error": "entity_id is required"})
		}
		profile, err := core.trust.CalculateTrust(c.Context(), req.EntityID, trust.Context{WorldID: req.WorldID, RoomID: req.RoomID})
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(profile)
	})

	app.Post("/trust/interactions", func(c fiber.Ctx) error {
		var in trust.Interaction
		if err := c.Bind().Body(&in); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if err := core.trust.RecordInteraction(c.Context(), in); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"recorded": true})
	})

	app.Get("/trust/interactions/:entity", func(c fiber.Ctx) error {
		limit := fiber.Query(c, "limit", 20)
		return c.JSON(core.trust.GetRecentInteractions(c.Params("entity"), limit))
	})

	app.Post("/trust/decision", func(c fiber.Ctx) error {
		var req struct {
			EntityID     string             `json:"entity_id"`
			WorldID      string             `json:"world_id"`
			Requirements trust.Requirements `json:"requirements"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if req.EntityID == "" {
			return c.Status(400).JSON(fiber.Map{"error": "entity_id is required"})
		}
		decision, err := core.trust.EvaluateTrustDecision(c.Context(), req.EntityID, req.Requirements, trust.Context{WorldID: req.WorldID})
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(decision)
	})
}

func registerDetectRoutes(app *fiber.App, core *Core) {
	app.Post("/detect/injection", func(c fiber.Ctx) error {
		var req struct {
			EntityID string            `json:"entity_id"`
			Message  string            `json:"message"`
			Context  map[string]string `json:"context"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if req.Message == "" {
			return c.Status(400).JSON(fiber.Map{"error": "message is required"})
		}
		return c.JSON(core.detector.DetectPromptInjection(c.Context(), req.EntityID, req.Message, req.Context))
	})

	app.Post("/detect/social-engineering", func(c fiber.Ctx) error {
		var req struct {
			EntityID string `json:"entity_id"`
			Message  string `json:"message"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if req.Message == "" {
			return c.Status(400).JSON(fiber.Map{"error": "message is required"})
		}
		return c.JSON(core.detector.DetectSocialEngineering(c.Context(), req.EntityID, req.Message))
	})

	app.Get("/detect/threat/:entity", func(c fiber.Ctx) error {
		return c.JSON(core.detector.AssessThreatLevel(c.Context(), c.Params("entity")))
	})

	app.Post("/detect/multi-account", func(c fiber.Ctx) error {
		var req struct {
			EntityIDs []string `json:"entity_ids"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if len(req.EntityIDs) < 2 {
			return c.Status(400).JSON(fiber.Map{"error": "at least two entity_ids are required"})
		}
		check := core.detector.DetectMultiAccountPattern(c.Context(), req.EntityIDs)
		if check == nil {
			return c.JSON(fiber.Map{"detected": false})
		}
		return c.JSON(check)
	})

	app.Post("/detect/credential-theft", func(c fiber.Ctx) error {
		var req struct {
			EntityID string `json:"entity_id"`
			Message  string `json:"message"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		check := core.detector.DetectCredentialTheft(c.Context(), req.EntityID, req.Message)
		if check == nil {
			return c.JSON(fiber.Map{"detected": false})
		}
		return c.JSON(check)
	})

	app.Post("/detect/phishing", func(c fiber.Ctx) error {
		var req struct {
			EntityID string `json:"entity_id"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		check := core.detector.DetectPhishing(c.Context(), req.EntityID)
		if check == nil {
			return c.JSON(fiber.Map{"detected": false})
		}
		return c.JSON(check)
	})

	app.Post("/detect/impersonation", func(c fiber.Ctx) error {
		var req struct {
			EntityID     string   `json:"entity_id"`
			DisplayName  string   `json:"display_name"`
			TrustedNames []string `json:"trusted_names"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		check := core.detector.DetectImpersonation(c.Context(), req.EntityID, req.DisplayName, req.TrustedNames)
		if check == nil {
			return c.JSON(fiber.Map{"detected": false})
		}
		return c.JSON(check)
	})

	app.Post("/detect/coordinated", func(c fiber.Ctx) error {
		var req struct {
			EntityIDs []string `json:"entity_ids"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if len(req.EntityIDs) < 2 {
			return c.Status(400).JSON(fiber.Map{"error": "at least two entity_ids are required"})
		}
		check := core.detector.DetectCoordinatedActivity(c.Context(), req.EntityIDs)
		if check == nil {
			return c.JSON(fiber.Map{"detected": false})
		}
		return c.JSON(check)
	})
}

func registerAccessRoutes(app *fiber.App, core *Core) {
	app.Post("/access/check", func(c fiber.Ctx) error {
		var req access.Request
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		decision, err := core.controller.CheckAccess(c.Context(), req)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(decision)
	})

	app.Get("/access/permission", func(c fiber.Ctx) error {
		allowed := core.controller.HasPermission(c.Context(),
			fiber.Query[string](c, "entity_id"),
			fiber.Query[string](c, "action"),
			fiber.Query[string](c, "resource"),
			fiber.Query[string](c, "world_id"),
		)
		return c.JSON(fiber.Map{"allowed": allowed})
	})

	app.Post("/access/elevate", func(c fiber.Ctx) error {
		var req struct {
			EntityID        string `json:"entity_id"`
			Permission      string `json:"permission"`
			Justification   string `json:"justification"`
			WorldID         string `json:"world_id"`
			DurationSeconds int    `json:"duration_seconds"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		decision, grant, err := core.controller.RequestElevation(c.Context(), access.ElevationRequest{
			EntityID:      req.EntityID,
			Permission:    req.Permission,
			Justification: req.Justification,
			WorldID:       req.WorldID,
			Duration:      time.Duration(req.DurationSeconds) * time.Second,
		})
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"decision": decision, "grant": grant})
	})
}

func registerHistoryRoutes(app *fiber.App, core *Core) {
	app.Post("/history/message", func(c fiber.Ctx) error {
		var req struct {
			EntityID string `json:"entity_id"`
			Content  string `json:"content"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if req.EntityID == "" || req.Content == "" {
			return c.Status(400).JSON(fiber.Map{"error": "entity_id and content are required"})
		}
		core.detector.StoreMessage(req.EntityID, req.Content, time.Now())
		return c.JSON(fiber.Map{"stored": true})
	})

	app.Post("/history/action", func(c fiber.Ctx) error {
		var req struct {
			EntityID string `json:"entity_id"`
			Action   string `json:"action"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if req.EntityID == "" || req.Action == "" {
			return c.Status(400).JSON(fiber.Map{"error": "entity_id and action are required"})
		}
		core.detector.StoreAction(req.EntityID, req.Action, time.Now())
		return c.JSON(fiber.Map{"stored": true})
	})
}
