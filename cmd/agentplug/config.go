package main

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/audit"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/engine"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/invoker"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/logger"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/matcher"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/source"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/telemetry"
)

var envKeyReplacer = strings.NewReplacer(".", "_", "-", "_")

// Config is the complete CLI configuration, read from config.yaml,
// AGENTPLUG_* environment variables and flags
type Config struct {
	PluginDirs []string            `mapstructure:"plugin_dirs"`
	Allowed    []string            `mapstructure:"allowed"`
	Matcher    MatcherConfig       `mapstructure:"matcher"`
	Invoker    invoker.Config      `mapstructure:"invoker"`
	Retry      invoker.RetryConfig `mapstructure:"retry"`
	Audit      AuditConfig         `mapstructure:"audit"`
	Tracing    telemetry.Config    `mapstructure:"tracing"`
	LogLevel   string              `mapstructure:"log_level"`
	LogFormat  string              `mapstructure:"log_format"`
}

// MatcherConfig tunes activation matching
type MatcherConfig struct {
	MinTokenLength int `mapstructure:"min_token_length"`
	Limit          int `mapstructure:"limit"`
	CacheSize      int `mapstructure:"cache_size"`
}

// AuditConfig controls the execution audit log
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("matcher.min_token_length", matcher.DefaultMinTokenLength)
	v.SetDefault("matcher.limit", 0)
	v.SetDefault("matcher.cache_size", 256)
	v.SetDefault("invoker.provider", invoker.ProviderEcho)
	v.SetDefault("invoker.max_tokens", 4096)
	v.SetDefault("retry.attempts", invoker.DefaultRetryConfig.Attempts)
	v.SetDefault("retry.initial_delay", invoker.DefaultRetryConfig.InitialDelay)
	v.SetDefault("retry.max_delay", invoker.DefaultRetryConfig.MaxDelay)
	v.SetDefault("retry.backoff_type", invoker.DefaultRetryConfig.BackoffType)
	v.SetDefault("audit.enabled", false)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sampler", "ratio")
	v.SetDefault("tracing.ratio", 1.0)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
}

// loadConfig decodes the effective configuration from v
func loadConfig(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode configuration")
	}
	cfg.Invoker.Retry = cfg.Retry
	return &cfg, nil
}

// app is everything a command needs, built from Config
type app struct {
	config   *Config
	loader   *source.Loader
	engine   *engine.Engine
	recorder *audit.Recorder
}

func (a *app) Close() {
	if a.recorder != nil {
		a.recorder.Close()
	}
}

// newApp builds and loads the engine. The caller must Close the result.
func newApp(ctx context.Context, cfg *Config) (*app, error) {
	var loaderOpts []source.Option
	if len(cfg.PluginDirs) > 0 {
		loaderOpts = append(loaderOpts, source.WithRoots(cfg.PluginDirs...))
	}
	loader, err := source.NewLoader(loaderOpts...)
	if err != nil {
		return nil, err
	}

	inv, err := invoker.New(ctx, cfg.Invoker)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create invoker")
	}

	a := &app{config: cfg, loader: loader}
	engineOpts := []engine.Option{
		engine.WithInvoker(inv),
		engine.WithAllowlist(cfg.Allowed...),
		engine.WithMatcherOptions(
			matcher.WithMinTokenLength(cfg.Matcher.MinTokenLength),
			matcher.WithLimit(cfg.Matcher.Limit),
			matcher.WithCacheSize(cfg.Matcher.CacheSize),
		),
	}
	if cfg.Audit.Enabled {
		a.recorder, err = audit.Open(ctx, cfg.Audit.Path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open audit log")
		}
		engineOpts = append(engineOpts, engine.WithRecorder(a.recorder))
	}

	a.engine, err = engine.New(loader, engineOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := a.engine.Load(ctx); err != nil {
		a.Close()
		return nil, err
	}

	logger.G(ctx).WithField("roots", loader.Roots()).Debug("engine ready")
	return a, nil
}

// parseArgs turns repeated key=value flags into a raw argument map
func parseArgs(pairs []string) (map[string]string, error) {
	raw := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.Errorf("invalid argument '%s', expected key=value", pair)
		}
		raw[key] = value
	}
	return raw, nil
}
