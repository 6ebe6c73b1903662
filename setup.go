package chatkernel

import (
	"context"
	"fmt"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/hupe1980/chatkernel/config"
	"github.com/hupe1980/chatkernel/history"
	"github.com/hupe1980/chatkernel/iopub"
	"github.com/hupe1980/chatkernel/kernel"
	"github.com/hupe1980/chatkernel/logging"
	"github.com/hupe1980/chatkernel/model"
	"github.com/hupe1980/chatkernel/model/anthropic"
	"github.com/hupe1980/chatkernel/model/ollama"
	"github.com/hupe1980/chatkernel/model/openai"
)

// NewProvider builds the model provider selected by cfg.
func NewProvider(cfg config.ProviderConfig) (model.Provider, error) {
	switch cfg.Name {
	case config.ProviderMock:
		name := cfg.Model
		if name == "" {
			name = "mock-model"
		}
		return model.NewMockProvider(name), nil
	case config.ProviderOpenAI:
		return openai.NewProvider(func(o *openai.Options) {
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
			if cfg.Temperature > 0 {
				o.Temperature = cfg.Temperature
			}
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
		}), nil
	case config.ProviderAnthropic:
		return anthropic.NewProvider(func(o *anthropic.Options) {
			if cfg.Model != "" {
				o.Model = sdkanthropic.Model(cfg.Model)
			}
			if cfg.Temperature > 0 {
				o.Temperature = cfg.Temperature
			}
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
		}), nil
	case config.ProviderOllama:
		return ollama.NewProvider(func(o *ollama.Options) {
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
			if cfg.Temperature > 0 {
				o.Temperature = cfg.Temperature
			}
			if cfg.BaseURL != "" {
				o.Host = cfg.BaseURL
			}
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Name)
	}
}

// NewHistory opens the history store selected by cfg.
func NewHistory(ctx context.Context, cfg config.HistoryConfig) (history.Store, error) {
	switch cfg.Driver {
	case "", config.HistoryMemory:
		return history.NewInMemoryStore(), nil
	case config.HistorySQLite:
		return history.NewSQLStore(ctx, history.DriverSQLite, cfg.DSN)
	case config.HistoryMySQL:
		return history.NewSQLStore(ctx, history.DriverMySQL, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown history driver %q", cfg.Driver)
	}
}

// NewPublisher connects the publishers enabled in cfg. Without any the
// result discards all output.
func NewPublisher(ctx context.Context, cfg config.PublishersConfig) (iopub.Publisher, error) {
	var publishers iopub.Multi

	if cfg.Redis.Address != "" {
		p, err := iopub.NewRedisPublisher(ctx, iopub.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		})
		if err != nil {
			return nil, err
		}
		publishers = append(publishers, p)
	}

	if cfg.AMQP.URL != "" {
		p, err := iopub.NewAMQPPublisher(iopub.AMQPConfig{URL: cfg.AMQP.URL, Exchange: cfg.AMQP.Exchange})
		if err != nil {
			_ = publishers.Close()
			return nil, err
		}
		publishers = append(publishers, p)
	}

	switch len(publishers) {
	case 0:
		return iopub.Discard{}, nil
	case 1:
		return publishers[0], nil
	default:
		return publishers, nil
	}
}

// NewLogger builds a KernelLogger from cfg.
func NewLogger(cfg config.LoggingConfig) *logging.KernelLogger {
	return logging.NewSlogLogger(logging.ParseLevel(cfg.Level), cfg.Format, false)
}

// FromConfig wires provider, history, publishers and kernel settings from
// cfg. Extra option functions run last and may override any of them.
func FromConfig(ctx context.Context, cfg *config.Config, optFns ...func(o *Options)) (*ChatKernel, error) {
	provider, err := NewProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}

	store, err := NewHistory(ctx, cfg.History)
	if err != nil {
		return nil, err
	}

	publisher, err := NewPublisher(ctx, cfg.Publishers)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	spec := kernel.DefaultSpec()
	if cfg.Kernel.SpecName != "" {
		spec.Name = cfg.Kernel.SpecName
	}
	if cfg.Kernel.DisplayName != "" {
		spec.DisplayName = cfg.Kernel.DisplayName
	}
	if cfg.Kernel.Language != "" {
		spec.Language = cfg.Kernel.Language
	}

	fns := append([]func(o *Options){func(o *Options) {
		o.Provider = provider
		o.Spec = spec
		if cfg.Kernel.Banner != "" {
			o.Banner = cfg.Kernel.Banner
		}
		o.MaxPrompts = cfg.Kernel.MaxPrompts
		o.InvalidateOnError = cfg.Kernel.InvalidatesOnError()
		o.CreateOptions = model.CreateOptions{
			SystemPrompt: cfg.Provider.SystemPrompt,
			Temperature:  cfg.Provider.Temperature,
		}
		o.History = store
		o.Publisher = publisher
		o.Logger = NewLogger(cfg.Logging)
	}}, optFns...)

	c, err := New(fns...)
	if err != nil {
		_ = store.Close()
		_ = publisher.Close()
		return nil, err
	}
	return c, nil
}
