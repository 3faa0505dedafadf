package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vango-go/vai-coach/internal/dotenv"
	"github.com/vango-go/vai-coach/pkg/config"
	"github.com/vango-go/vai-coach/pkg/core/providers/gemini"
	"github.com/vango-go/vai-coach/pkg/procedures"
)

// commandContext lazily builds the shared pieces every subcommand needs.
type commandContext struct {
	debug   bool
	envFile string
	dbPath  string
	account string

	configOnce sync.Once
	config     config.Config
	configErr  error

	logger *zap.Logger
	store  *procedures.Store
}

func newCommandContext() *commandContext {
	return &commandContext{}
}

func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		if c.envFile != "" {
			if err := dotenv.LoadFile(c.envFile); err != nil {
				c.configErr = err
				return
			}
		} else if _, err := dotenv.Load(); err != nil {
			c.configErr = err
			return
		}

		cfg, err := config.LoadFromEnv()
		if err != nil {
			c.configErr = fmt.Errorf("load config: %w", err)
			return
		}
		if v := strings.TrimSpace(c.dbPath); v != "" {
			cfg.DBPath = v
		}
		if v := strings.TrimSpace(c.account); v != "" {
			cfg.Account = v
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// ensureLogger builds the process logger once. With toFile set, output goes
// to path so it does not tear the terminal UI.
func (c *commandContext) ensureLogger(toFile bool, path string) (*zap.Logger, error) {
	if c.logger != nil {
		return c.logger, nil
	}
	logger, err := buildLogger(c.debug, toFile, path)
	if err != nil {
		return nil, err
	}
	c.logger = logger
	return logger, nil
}

func buildLogger(debug, toFile bool, path string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	if toFile && path != "" {
		cfg.OutputPaths = []string{path}
		cfg.ErrorOutputPaths = []string{path}
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

func (c *commandContext) ensureStore() (*procedures.Store, error) {
	if c.store != nil {
		return c.store, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	c.store = store
	return store, nil
}

func openStore(cfg config.Config) (*procedures.Store, error) {
	if cfg.InMemory() {
		return procedures.NewStore(procedures.NewMemoryKV()), nil
	}
	kv, err := procedures.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	return procedures.NewStore(kv), nil
}

func newGeminiClient(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...gemini.Option) (*gemini.Client, error) {
	if err := cfg.RequireAPIKey(); err != nil {
		return nil, err
	}
	base := []gemini.Option{gemini.WithLogger(logger)}
	if cfg.GeminiBaseURL != "" {
		base = append(base, gemini.WithBaseURL(cfg.GeminiBaseURL))
	}
	if len(cfg.Models) > 0 {
		base = append(base, gemini.WithModels(cfg.Models...))
	}
	return gemini.New(ctx, cfg.GeminiAPIKey, append(base, opts...)...)
}

func (c *commandContext) close() {
	if c.store != nil {
		_ = c.store.Close()
		c.store = nil
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
}
