package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/agents/dispatcher"
	"github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/agents/lookup"
	contractx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/contract"
	dialogx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/dialog"
	promptx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/prompt"
	statex "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/state"
	"github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/transport/httpapi"
	configx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/pkg/config"
	directoryx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/pkg/directory"
	_ "github.com/tanpawarit/Chative-Directory-Lookup-Bot/pkg/logger/autoload"
	metricsx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/pkg/metrics"
	tokenservicex "github.com/tanpawarit/Chative-Directory-Lookup-Bot/pkg/tokenservice"
)

type AppConfig struct {
	StateBackend   string        `split_words:"true" default:"memory"`
	ConnectionName string        `split_words:"true" required:"true"`
	LoginTimeout   time.Duration `split_words:"true" default:"5m"`
}

func (c *AppConfig) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.StateBackend)) {
	case "memory", "redis", "upstash", "postgres", "dynamodb":
	default:
		return fmt.Errorf("unknown state backend %q", c.StateBackend)
	}
	if c.LoginTimeout <= 0 {
		return fmt.Errorf("login timeout must be positive, got %s", c.LoginTimeout)
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appCfg := configx.MustNew[AppConfig]("BOT")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := metricsx.MustNew(reg)

	store, err := openStore(ctx, appCfg.StateBackend)
	if err != nil {
		log.Fatal().Err(err).Str("backend", appCfg.StateBackend).Msg("failed to open state store")
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}

	var tokens contractx.TokenService
	tokenCfg := configx.MustNew[tokenservicex.Config]("TOKEN_SERVICE")
	if tokenCfg.Enabled {
		tokens = tokenservicex.MustNew(ctx, *tokenCfg)
	}

	graphCfg := configx.MustNew[directoryx.Config]("GRAPH")
	provider := directoryx.MustNew(*graphCfg)

	messages := promptx.MustLoadMessageSet()
	lookupDialog, err := lookup.New(lookup.Config{
		ConnectionName: appCfg.ConnectionName,
		LoginTimeout:   appCfg.LoginTimeout,
	}, provider, tokens, messages, metrics)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build lookup dialog")
	}
	set, err := dialogx.NewSet(lookupDialog.Dialogs()...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build dialog set")
	}
	engine, err := dialogx.NewEngine(set, lookup.DialogID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build dialog engine")
	}

	d, err := dispatcher.New(dispatcher.Deps{
		Conversations: store,
		Users:         store,
		Engine:        engine,
		Tokens:        tokens,
		Messages:      messages,
		Metrics:       metrics,
	}, dispatcher.Config{ConnectionName: appCfg.ConnectionName})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build dispatcher")
	}

	httpCfg := configx.MustNew[httpapi.Config]("HTTP")
	server, err := httpapi.New(*httpCfg, d, httpapi.WithMetrics(metricsx.Handler(reg)))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build http server")
	}

	log.Info().
		Str("backend", appCfg.StateBackend).
		Bool("token_service", tokens != nil).
		Msg("directory lookup bot starting")
	if err := server.Run(ctx); err != nil {
		log.Error().Err(err).Msg("http server stopped")
	}
}

func openStore(ctx context.Context, backend string) (statex.Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "redis":
		cfg := configx.MustNew[statex.RedisConfig]("REDIS")
		store := statex.NewRedisStore(*cfg)
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
		}
		return store, nil
	case "upstash":
		cfg := configx.MustNew[statex.UpstashRedisConfig]("UPSTASH_REDIS")
		return statex.NewUpstashRedisStore(*cfg)
	case "postgres":
		cfg := configx.MustNew[statex.PostgresConfig]("POSTGRES")
		return statex.OpenPostgresStore(ctx, *cfg)
	case "dynamodb":
		cfg := configx.MustNew[statex.DynamoDBConfig]("DYNAMODB")
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return statex.NewDynamoDBStore(dynamodb.NewFromConfig(awsCfg), *cfg)
	default:
		log.Warn().Msg("using in-memory state; conversations are lost on restart")
		return statex.NewMemoryStore(), nil
	}
}
