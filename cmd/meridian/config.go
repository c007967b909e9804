package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/jonboulle/clockwork"

	"github.com/meridianhq/meridian/internal/auth"
	"github.com/meridianhq/meridian/internal/catalog"
	"github.com/meridianhq/meridian/internal/gateway"
	"github.com/meridianhq/meridian/internal/pipeline"
)

const defaultCatalogBaseURL = "https://api.powerbi.com/v1.0/myorg"

// envConfig is everything the process reads from the environment. Addresses
// and modes come from flags instead.
type envConfig struct {
	CatalogBaseURL string
	TokenURL       string
	ClientID       string
	ClientSecret   string
	Scope          string

	AnthropicAPIKey string
	AnthropicModel  string

	SlackBotToken      string
	SlackAppToken      string
	SlackSigningSecret string

	MCPAllowedTokens []string

	HeuristicsPath string
}

func loadEnvConfig() envConfig {
	cfg := envConfig{
		CatalogBaseURL: os.Getenv("CATALOG_BASE_URL"),
		TokenURL:       os.Getenv("AUTH_TOKEN_URL"),
		ClientID:       os.Getenv("AUTH_CLIENT_ID"),
		ClientSecret:   os.Getenv("AUTH_CLIENT_SECRET"),
		Scope:          os.Getenv("AUTH_SCOPE"),

		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:  os.Getenv("ANTHROPIC_MODEL"),

		SlackBotToken:      os.Getenv("SLACK_BOT_TOKEN"),
		SlackAppToken:      os.Getenv("SLACK_APP_TOKEN"),
		SlackSigningSecret: os.Getenv("SLACK_SIGNING_SECRET"),

		HeuristicsPath: os.Getenv("HEURISTICS_PATH"),
	}
	if cfg.CatalogBaseURL == "" {
		cfg.CatalogBaseURL = defaultCatalogBaseURL
	}
	for token := range strings.SplitSeq(os.Getenv("MCP_ALLOWED_TOKENS"), ",") {
		token = strings.TrimSpace(token)
		if token != "" {
			cfg.MCPAllowedTokens = append(cfg.MCPAllowedTokens, token)
		}
	}
	return cfg
}

func (c envConfig) authConfigured() bool {
	return c.TokenURL != "" && c.ClientID != "" && c.ClientSecret != ""
}

// app bundles the wired components shared by serve, ask, and validate.
type app struct {
	Catalog   *catalog.Client
	Engine    *pipeline.Engine
	Gateway   *gateway.Service
	AIEnabled bool
}

// buildApp wires auth, catalog, pipeline, and gateway from the environment.
// Missing credentials degrade rather than fail: the catalog client answers
// with empty listings and the pipeline runs its fallback chain.
func buildApp(log *slog.Logger, cfg envConfig) (*app, error) {
	clock := clockwork.NewRealClock()

	var tokenProvider auth.TokenProvider
	if cfg.authConfigured() {
		manager, err := auth.NewManager(auth.Config{
			Logger:       log,
			Clock:        clock,
			TokenURL:     cfg.TokenURL,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scope:        cfg.Scope,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create auth manager: %w", err)
		}
		tokenProvider = manager
	} else {
		log.Warn("Catalog credentials not configured, catalog access will be degraded")
	}

	catalogClient, err := catalog.NewClient(catalog.Config{
		Logger:  log,
		Clock:   clock,
		BaseURL: cfg.CatalogBaseURL,
		Auth:    tokenProvider,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog client: %w", err)
	}

	heuristics, err := pipeline.LoadHeuristics(cfg.HeuristicsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load heuristics: %w", err)
	}

	var llm pipeline.LLMClient = pipeline.DisabledLLM{}
	aiEnabled := false
	if cfg.AnthropicAPIKey != "" {
		client, err := pipeline.NewAnthropicClient(pipeline.AnthropicConfig{
			Logger: log,
			APIKey: cfg.AnthropicAPIKey,
			Model:  anthropic.Model(cfg.AnthropicModel),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create LLM client: %w", err)
		}
		llm = client
		aiEnabled = true
	} else {
		log.Warn("ANTHROPIC_API_KEY not set, analyses run on deterministic fallbacks")
	}

	assembler, err := pipeline.NewAssembler(pipeline.AssemblerConfig{
		Logger:     log,
		Clock:      clock,
		Catalog:    catalogClient,
		Heuristics: heuristics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create assembler: %w", err)
	}

	reasoner, err := pipeline.NewReasoner(pipeline.ReasonerConfig{
		Logger: log,
		Clock:  clock,
		LLM:    llm,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create reasoner: %w", err)
	}

	engine, err := pipeline.NewEngine(pipeline.EngineConfig{
		Logger:     log,
		Clock:      clock,
		Assembler:  assembler,
		Reasoner:   reasoner,
		Executor:   catalogClient,
		Heuristics: heuristics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	gw, err := gateway.NewService(gateway.Config{
		Logger:    log,
		Engine:    engine,
		Assembler: assembler,
		Reasoner:  reasoner,
		Catalog:   catalogClient,
		AIEnabled: aiEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	return &app{
		Catalog:   catalogClient,
		Engine:    engine,
		Gateway:   gw,
		AIEnabled: aiEnabled,
	}, nil
}
