// Package bootstrap turns a config.Config into a ready usecase.Service. It is
// shared by the Lambda entrypoint and the CLI.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"grimoire/internal/catalog"
	"grimoire/internal/config"
	"grimoire/internal/integrations/anthropic"
	"grimoire/internal/integrations/gemini"
	"grimoire/internal/integrations/openai"
	"grimoire/internal/integrations/paramstore"
	"grimoire/internal/repository"
	"grimoire/internal/transcript"
	"grimoire/internal/usecase"
)

// KeySource resolves a provider API key.
type KeySource interface {
	Token(ctx context.Context) (string, error)
}

// App holds the wired components. Close releases file-backed storage.
type App struct {
	Config  config.Config
	Catalog *catalog.Catalog
	Store   *transcript.Store
	Service *usecase.Service

	closers []io.Closer
}

func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// awsLoader loads the default AWS config at most once.
type awsLoader struct {
	once sync.Once
	cfg  aws.Config
	err  error
	load func(ctx context.Context) (aws.Config, error)
}

func (l *awsLoader) get(ctx context.Context) (aws.Config, error) {
	l.once.Do(func() {
		l.cfg, l.err = l.load(ctx)
		if l.err != nil {
			l.err = fmt.Errorf("bootstrap: load AWS config: %w", l.err)
		}
	})
	return l.cfg, l.err
}

func newAWSLoader() *awsLoader {
	return &awsLoader{load: func(ctx context.Context) (aws.Config, error) {
		return awsconfig.LoadDefaultConfig(ctx)
	}}
}

// Build wires storage, the generator and the service described by cfg.
func Build(ctx context.Context, cfg config.Config, observers ...usecase.Observer) (*App, error) {
	return build(ctx, cfg, newAWSLoader(), observers)
}

func build(ctx context.Context, cfg config.Config, loader *awsLoader, observers []usecase.Observer) (*App, error) {
	cat, err := catalog.Default()
	if err != nil {
		return nil, err
	}

	storage, closer, err := newStorage(ctx, cfg, loader)
	if err != nil {
		return nil, err
	}
	app := &App{Config: cfg, Catalog: cat}
	if closer != nil {
		app.closers = append(app.closers, closer)
	}

	store, err := transcript.NewStore(storage, cfg.HistoryKey)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.Store = store

	keys, err := newKeySource(ctx, cfg, loader)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	gen, err := NewGenerator(cfg, keys)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	svc, err := usecase.NewService(cat, store, gen, usecase.Options{
		MaxContextItems:  cfg.MaxContextItems,
		MaxMessageLength: cfg.MaxMessageLength,
		Observers:        observers,
	})
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.Service = svc

	log.Info().
		Str("store_backend", cfg.StoreBackend).
		Str("provider", cfg.Provider).
		Int("max_context_items", cfg.MaxContextItems).
		Bool("aws", cfg.NeedsAWS()).
		Msg("grimoire wired")
	return app, nil
}

func newStorage(ctx context.Context, cfg config.Config, loader *awsLoader) (transcript.Storage, io.Closer, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		return repository.NewMemory(), nil, nil
	case config.BackendBolt:
		b, err := repository.OpenBolt(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	case config.BackendSQLite:
		s, err := repository.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case config.BackendDynamoDB:
		awsCfg, err := loader.get(ctx)
		if err != nil {
			return nil, nil, err
		}
		d, err := repository.NewDynamoDB(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
		if err != nil {
			return nil, nil, err
		}
		return d, nil, nil
	}
	return nil, nil, fmt.Errorf("bootstrap: unknown store backend %q", cfg.StoreBackend)
}

func newKeySource(ctx context.Context, cfg config.Config, loader *awsLoader) (KeySource, error) {
	if cfg.APIKey != "" {
		return paramstore.StaticToken(cfg.APIKey), nil
	}
	awsCfg, err := loader.get(ctx)
	if err != nil {
		return nil, err
	}
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, err
	}
	return NewKeySource(cfg, ssmClient)
}

// NewKeySource returns the configured API key, or a parameter store lookup of
// "<PARAM_PREFIX>/<provider>-token" when no key is configured.
func NewKeySource(cfg config.Config, getter paramstore.Getter) (KeySource, error) {
	if cfg.APIKey != "" {
		return paramstore.StaticToken(cfg.APIKey), nil
	}
	if cfg.ParamPrefix == "" {
		return nil, errors.New("bootstrap: no API key and no parameter prefix configured")
	}
	return paramstore.NewTokenSource(getter, paramstore.TokenParameterName(cfg.ParamPrefix, cfg.Provider))
}

// NewGenerator returns the streaming client for cfg.Provider.
func NewGenerator(cfg config.Config, keys KeySource) (usecase.Generator, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return gemini.NewClient(keys, gemini.WithModel(cfg.Model), gemini.WithBaseURL(cfg.BaseURL))
	case config.ProviderOpenAI:
		return openai.NewClient(keys, openai.WithModel(cfg.Model), openai.WithBaseURL(cfg.BaseURL))
	case config.ProviderAnthropic:
		return anthropic.NewClient(keys, anthropic.WithModel(cfg.Model), anthropic.WithBaseURL(cfg.BaseURL))
	}
	return nil, fmt.Errorf("bootstrap: unknown provider %q", cfg.Provider)
}
