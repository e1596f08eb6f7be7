package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/llmchat/pkg/adapter"
	"github.com/m-mizutani/llmchat/pkg/model"
	"github.com/m-mizutani/llmchat/pkg/policy"
	"github.com/m-mizutani/llmchat/pkg/repository"
	"github.com/m-mizutani/llmchat/pkg/service/mcp"
	"github.com/m-mizutani/llmchat/pkg/tool"
	"github.com/m-mizutani/llmchat/pkg/usecase/prompt"
	"github.com/m-mizutani/llmchat/pkg/usecase/session"
	"github.com/m-mizutani/llmchat/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

const (
	memoryHTTP      = "http"
	memorySQLite    = "sqlite"
	memoryFirestore = "firestore"
	memoryNone      = "none"

	storageFile = "file"
	storageGCS  = "gcs"
)

// config holds configuration values
type config struct {
	// Logging
	logLevel  string
	logFormat string

	// LLM
	provider        string
	model           string
	tokenLimit      int64
	maxTokens       int64
	openaiAPIKey    string
	openaiBaseURL   string
	anthropicAPIKey string
	geminiAPIKey    string
	geminiProject   string
	geminiLocation  string
	ollamaURL       string
	llamaURL        string

	// Memory service
	memory            string
	memoryURL         string
	memoryDB          string
	firestoreProject  string
	firestoreDatabase string

	// Session storage
	storage       string
	sessionDir    string
	bucket        string
	storagePrefix string

	// Tools
	mcpConfig   string
	policyDir   string
	toolK       int64
	settleDelay time.Duration
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "llmchat")
	}
	return ".llmchat"
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("LLMCHAT_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       string(logging.FormatConsole),
			Sources:     cli.EnvVars("LLMCHAT_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
	}
}

// withLogger installs the configured logger as default and into ctx
func (cfg *config) withLogger(ctx context.Context) context.Context {
	logger := logging.NewWithFormat(cfg.logLevel, logging.Format(cfg.logFormat), os.Stderr)
	logging.SetDefault(logger)
	return logging.With(ctx, logger)
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "provider",
			Usage:       "Model provider (openai, anthropic, gemini, ollama, llama)",
			Value:       string(model.ProviderOllama),
			Sources:     cli.EnvVars("LLMCHAT_PROVIDER"),
			Destination: &cfg.provider,
		},
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "Model name (provider default if empty)",
			Sources:     cli.EnvVars("LLMCHAT_MODEL"),
			Destination: &cfg.model,
		},
		&cli.IntFlag{
			Name:        "token-limit",
			Usage:       "Context token limit; the provider's limit caps it",
			Value:       4000,
			Sources:     cli.EnvVars("LLMCHAT_TOKEN_LIMIT"),
			Destination: &cfg.tokenLimit,
		},
		&cli.IntFlag{
			Name:        "max-tokens",
			Usage:       "Maximum tokens to generate (anthropic, llama)",
			Value:       1024,
			Sources:     cli.EnvVars("LLMCHAT_MAX_TOKENS"),
			Destination: &cfg.maxTokens,
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Usage:       "OpenAI API key",
			Sources:     cli.EnvVars("OPENAI_API_KEY"),
			Destination: &cfg.openaiAPIKey,
		},
		&cli.StringFlag{
			Name:        "openai-base-url",
			Usage:       "OpenAI-compatible endpoint",
			Sources:     cli.EnvVars("OPENAI_BASE_URL"),
			Destination: &cfg.openaiBaseURL,
		},
		&cli.StringFlag{
			Name:        "anthropic-api-key",
			Usage:       "Anthropic API key",
			Sources:     cli.EnvVars("ANTHROPIC_API_KEY"),
			Destination: &cfg.anthropicAPIKey,
		},
		&cli.StringFlag{
			Name:        "gemini-api-key",
			Usage:       "Gemini API key (Vertex AI is used when empty)",
			Sources:     cli.EnvVars("GEMINI_API_KEY"),
			Destination: &cfg.geminiAPIKey,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "ollama-url",
			Usage:       "Ollama server URL",
			Sources:     cli.EnvVars("OLLAMA_HOST"),
			Destination: &cfg.ollamaURL,
		},
		&cli.StringFlag{
			Name:        "llama-url",
			Usage:       "llama.cpp server URL",
			Sources:     cli.EnvVars("LLMCHAT_LLAMA_URL"),
			Destination: &cfg.llamaURL,
		},
	}
}

// memoryFlags returns flags selecting the memory service backend
func memoryFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "memory",
			Usage:       "Memory service backend (http, sqlite, firestore, none)",
			Value:       memorySQLite,
			Sources:     cli.EnvVars("LLMCHAT_MEMORY"),
			Destination: &cfg.memory,
		},
		&cli.StringFlag{
			Name:        "memory-url",
			Usage:       "Memory service URL for the http backend",
			Value:       adapter.DefaultMemoryURL,
			Sources:     cli.EnvVars("LLMCHAT_MEMORY_URL"),
			Destination: &cfg.memoryURL,
		},
		&cli.StringFlag{
			Name:        "memory-db",
			Usage:       "SQLite file for the sqlite backend",
			Value:       filepath.Join(defaultDataDir(), "memory.db"),
			Sources:     cli.EnvVars("LLMCHAT_MEMORY_DB"),
			Destination: &cfg.memoryDB,
		},
		&cli.StringFlag{
			Name:        "firestore-project",
			Usage:       "Google Cloud project ID for the firestore backend",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.firestoreProject,
		},
		&cli.StringFlag{
			Name:        "firestore-database",
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.firestoreDatabase,
		},
	}
}

// storageFlags returns flags selecting where session documents live
func storageFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "storage",
			Usage:       "Session storage (file, gcs)",
			Value:       storageFile,
			Sources:     cli.EnvVars("LLMCHAT_STORAGE"),
			Destination: &cfg.storage,
		},
		&cli.StringFlag{
			Name:        "session-dir",
			Usage:       "Directory of session files for file storage",
			Value:       filepath.Join(defaultDataDir(), "sessions"),
			Sources:     cli.EnvVars("LLMCHAT_SESSION_DIR"),
			Destination: &cfg.sessionDir,
		},
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket for gcs storage",
			Sources:     cli.EnvVars("LLMCHAT_BUCKET"),
			Destination: &cfg.bucket,
		},
		&cli.StringFlag{
			Name:        "storage-prefix",
			Usage:       "Object prefix in the bucket",
			Value:       "sessions",
			Sources:     cli.EnvVars("LLMCHAT_STORAGE_PREFIX"),
			Destination: &cfg.storagePrefix,
		},
	}
}

// toolFlags returns flags for tool loading and selection
func toolFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "mcp-config",
			Usage:       "YAML file listing MCP servers",
			Sources:     cli.EnvVars("LLMCHAT_MCP_CONFIG"),
			Destination: &cfg.mcpConfig,
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of extra .rego confirmation policies",
			Sources:     cli.EnvVars("LLMCHAT_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
		&cli.IntFlag{
			Name:        "tool-k",
			Usage:       "Number of tools offered to the model per turn",
			Value:       5,
			Sources:     cli.EnvVars("LLMCHAT_TOOL_K"),
			Destination: &cfg.toolK,
		},
		&cli.DurationFlag{
			Name:        "settle-delay",
			Usage:       "Wait after the memory service becomes ready before indexing tools",
			Value:       tool.DefaultSettleDelay,
			Sources:     cli.EnvVars("LLMCHAT_SETTLE_DELAY"),
			Destination: &cfg.settleDelay,
		},
	}
}

func (cfg *config) parseProvider() (model.Provider, error) {
	return model.ParseProvider(cfg.provider)
}

// newLLM creates the client of the configured provider
func (cfg *config) newLLM(ctx context.Context) (adapter.LLM, model.Provider, error) {
	provider, err := cfg.parseProvider()
	if err != nil {
		return nil, "", err
	}

	llmCfg := &adapter.LLMConfig{
		Provider:       provider,
		Model:          cfg.model,
		MaxTokens:      int(cfg.maxTokens),
		GeminiProject:  cfg.geminiProject,
		GeminiLocation: cfg.geminiLocation,
	}
	switch provider {
	case model.ProviderOpenAI:
		llmCfg.APIKey = cfg.openaiAPIKey
		llmCfg.BaseURL = cfg.openaiBaseURL
	case model.ProviderAnthropic:
		llmCfg.APIKey = cfg.anthropicAPIKey
	case model.ProviderGemini:
		llmCfg.APIKey = cfg.geminiAPIKey
	case model.ProviderOllama:
		llmCfg.BaseURL = cfg.ollamaURL
	case model.ProviderLlama:
		llmCfg.BaseURL = cfg.llamaURL
	}

	llm, err := adapter.NewLLM(ctx, llmCfg)
	if err != nil {
		return nil, "", goerr.Wrap(err, "failed to create LLM client", goerr.V("provider", provider))
	}
	return llm, provider, nil
}

// newEmbedder creates the Gemini embedding client used by the firestore
// backend
func (cfg *config) newEmbedder(ctx context.Context) (repository.Embedder, error) {
	var client *adapter.GeminiClient
	var err error
	if cfg.geminiAPIKey != "" {
		client, err = adapter.NewGeminiWithAPIKey(ctx, cfg.geminiAPIKey)
	} else {
		project := cfg.geminiProject
		if project == "" {
			project = cfg.firestoreProject
		}
		if project == "" {
			return nil, goerr.New("firestore memory needs gemini-api-key or a project for embeddings")
		}
		client, err = adapter.NewGemini(ctx, project, cfg.geminiLocation)
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embedding client")
	}
	return client, nil
}

// newMemory creates the configured memory service. It returns nil for the
// none backend.
func (cfg *config) newMemory(ctx context.Context) (adapter.MemoryService, error) {
	switch cfg.memory {
	case memoryNone, "":
		return nil, nil

	case memoryHTTP:
		svc := adapter.NewHTTPMemory(cfg.memoryURL)
		svc.Start(ctx)
		return svc, nil

	case memorySQLite:
		svc, err := adapter.NewSQLiteMemory(ctx, cfg.memoryDB)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to open sqlite memory")
		}
		return svc, nil

	case memoryFirestore:
		if cfg.firestoreProject == "" {
			return nil, goerr.New("firestore-project is required")
		}
		embedder, err := cfg.newEmbedder(ctx)
		if err != nil {
			return nil, err
		}
		svc, err := repository.New(ctx, cfg.firestoreProject, cfg.firestoreDatabase, embedder)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create firestore memory")
		}
		return svc, nil

	default:
		return nil, goerr.New("unknown memory backend",
			goerr.V("memory", cfg.memory),
			goerr.V("supported", []string{memoryHTTP, memorySQLite, memoryFirestore, memoryNone}))
	}
}

// newStorage creates the configured session storage
func (cfg *config) newStorage(ctx context.Context) (adapter.Storage, error) {
	switch cfg.storage {
	case storageFile, "":
		return adapter.NewFileStorage(cfg.sessionDir)
	case storageGCS:
		if cfg.bucket == "" {
			return nil, goerr.New("bucket is required for gcs storage")
		}
		storage, err := adapter.NewStorage(ctx, cfg.bucket, cfg.storagePrefix)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create storage")
		}
		return storage, nil
	default:
		return nil, goerr.New("unknown storage", goerr.V("storage", cfg.storage))
	}
}

// env is the set of components a command works with
type env struct {
	memory    adapter.MemoryService
	store     *session.Store
	registry  *tool.Registry
	mcp       *mcp.Provider
	llm       adapter.LLM
	provider  model.Provider
	assembler *prompt.Assembler
}

func (e *env) Close() {
	if e.mcp != nil {
		_ = e.mcp.Client().Close()
	}
	if c, ok := e.memory.(io.Closer); ok {
		_ = c.Close()
	}
}

// newStoreEnv wires the memory service and the session store only
func (cfg *config) newStoreEnv(ctx context.Context) (*env, error) {
	e := &env{}

	memory, err := cfg.newMemory(ctx)
	if err != nil {
		return nil, err
	}
	e.memory = memory

	storage, err := cfg.newStorage(ctx)
	if err != nil {
		e.Close()
		return nil, err
	}
	var storeOpts []session.Option
	if memory != nil {
		storeOpts = append(storeOpts, session.WithMemory(memory))
	}
	e.store = session.New(storage, storeOpts...)
	return e, nil
}

// newEnv wires memory, storage and the tool registry. candidates are the
// built-in tools whose flags were bound to the command. The LLM and
// assembler are created only when withLLM is set.
func (cfg *config) newEnv(ctx context.Context, candidates []tool.Tool, withLLM bool) (*env, error) {
	logger := logging.From(ctx)

	e, err := cfg.newStoreEnv(ctx)
	if err != nil {
		return nil, err
	}
	memory := e.memory

	guard, err := policy.New(ctx, cfg.policyDir)
	if err != nil {
		e.Close()
		return nil, err
	}

	e.registry = tool.New(candidates...)
	e.registry.SetGuard(guard)
	e.registry.SetSettleDelay(cfg.settleDelay)
	e.registry.Init(ctx, &tool.Client{Memory: memory, Sessions: e.store})

	provider, err := mcp.LoadAndConnect(ctx, cfg.mcpConfig)
	if err != nil {
		e.Close()
		return nil, err
	}
	if provider != nil {
		e.mcp = provider
		if err := e.registry.Register(ctx, provider.Tools(ctx)...); err != nil {
			logger.Warn("some MCP tools were skipped", logging.ErrAttr(err))
		}
	}

	if memory != nil {
		e.registry.SetMemoryService(memory)
	}

	if withLLM {
		e.llm, e.provider, err = cfg.newLLM(ctx)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.assembler, err = prompt.New(e.provider, int(cfg.tokenLimit))
		if err != nil {
			e.Close()
			return nil, err
		}
	}

	logger.Debug("environment ready",
		"memory", cfg.memory,
		"storage", cfg.storage,
		"tools", len(e.registry.GetTools()),
		"provider", e.provider,
	)
	return e, nil
}
