package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/selah-app/selah/engine/graph"
	"github.com/selah-app/selah/engine/recommend"
	"github.com/selah-app/selah/engine/semantic"
	"github.com/selah-app/selah/engine/store"
	"github.com/selah-app/selah/pkg/config"
	"github.com/selah-app/selah/pkg/llm"
	"github.com/selah-app/selah/pkg/metrics"
	"github.com/selah-app/selah/pkg/ollama"
	"github.com/selah-app/selah/pkg/resilience"
)

type commandContext struct {
	configFlag *string
	levelFlag  *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
	logger     *slog.Logger

	metrics *metrics.Registry
	stdout  io.Writer
}

func newCommandContext(configFlag, levelFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		levelFlag:  levelFlag,
		metrics:    metrics.New(metrics.WithNamespace("selah")),
		stdout:     os.Stdout,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.levelFlag != nil && *c.levelFlag != "" {
			cfg.LogLevel = *c.levelFlag
		}
		c.config = cfg
		c.logger = newLogger(os.Stderr, cfg.LogLevel)
		slog.SetDefault(c.logger)
	})
	return c.config, c.configErr
}

func (c *commandContext) log() *slog.Logger {
	if c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// newLogger writes text to terminals and JSON everywhere else.
func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if isTerminal(w) {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func (c *commandContext) llmClient() *llm.Client {
	cfg := c.config.LLM
	return llm.NewClient(llm.Config{
		APIKey:            cfg.APIKey,
		BaseURL:           cfg.BaseURL,
		Model:             cfg.Model,
		EmbeddingModel:    cfg.EmbeddingModel,
		TimeoutSeconds:    cfg.TimeoutSeconds,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	})
}

func (c *commandContext) embedder(client *llm.Client) semantic.Embedder {
	if c.config.Embedder.Provider == "ollama" {
		return ollama.NewEmbedClient(c.config.Embedder.OllamaURL, c.config.Embedder.OllamaModel)
	}
	return client
}

// breaker builds a circuit breaker for one dependency. attrs are added to its
// state-change log lines.
func (c *commandContext) breaker(name string, attrs ...any) *resilience.Breaker {
	log := c.log().With(attrs...)
	trips := c.metrics.Counter("breaker_open_total", "Circuit breaker trips", "dependency", name)
	return resilience.NewBreaker(resilience.BreakerOpts{
		Name:          name,
		FailThreshold: 5,
		OnStateChange: func(name string, from, to resilience.State) {
			if to == resilience.StateOpen {
				trips.Inc()
			}
			log.Warn("circuit breaker state change", "dependency", name, "from", from.String(), "to", to.String())
		},
	})
}

func (c *commandContext) connector(emb semantic.Embedder) *semantic.Connector {
	q := c.config.Qdrant
	return &semantic.Connector{
		Addr:       fmt.Sprintf("%s:%d", q.Host, q.Port),
		Collection: q.Collection,
		Tenant:     q.Tenant,
		VectorSize: q.VectorSize,
		Dial:       semantic.DialOpts{APIKey: q.APIKey, UseTLS: q.UseTLS},
		Embedder:   emb,
	}
}

// recommendService wires the online pipeline. The returned func releases
// the stores.
func (c *commandContext) recommendService(ctx context.Context) (*recommend.Service, func(), error) {
	cfg := c.config
	log := c.log()

	db, err := store.Open(ctx, cfg.Store.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	closers := []func(){func() { db.Close() }}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var mirror recommend.Mirror
	if cfg.Store.Neo4jURL != "" {
		driver, err := neo4j.NewDriverWithContext(cfg.Store.Neo4jURL, neo4j.BasicAuth(cfg.Store.Neo4jUser, cfg.Store.Neo4jPass, ""))
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("neo4j driver: %w", err)
		}
		closers = append(closers, func() { driver.Close(context.Background()) })
		gs := graph.New(driver, "")
		if err := gs.EnsureSchema(ctx); err != nil {
			log.Warn("graph schema unavailable, mirroring anyway", "err", err)
		}
		mirror = gs
	}

	client := c.llmClient()
	breaker := c.breaker("llm")
	retriever, err := recommend.NewRetriever(cfg.Recommend.TopK)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	svc := recommend.NewService(recommend.Deps{
		Optimizer: recommend.NewQueryOptimizer(client, breaker),
		Retriever: retriever,
		Filter: recommend.NewRelevanceFilter(client, recommend.FilterOpts{
			Concurrency:   cfg.Recommend.JudgeConcurrency,
			Timeout:       cfg.Recommend.JudgeTimeout,
			Encouragement: cfg.Recommend.Encouragement,
			CacheSize:     cfg.Recommend.CacheSize,
			Breaker:       breaker,
			Metrics:       c.metrics,
		}),
		Index:          recommend.SemanticConnector(c.connector(c.embedder(client))),
		Store:          db,
		Mirror:         mirror,
		RequestTimeout: cfg.Recommend.RequestTimeout,
		Logger:         log,
		Metrics:        c.metrics,
	})
	return svc, cleanup, nil
}
