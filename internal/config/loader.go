package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is returned by LoadConfig with a category for diagnostics.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ssmParamSuffix marks pointer variables: DATABASE_URL_SSM_PARAM holds the
// parameter path that resolves DATABASE_URL.
const ssmParamSuffix = "_SSM_PARAM"

const localEnv = "local"

const secretResolveTimeout = 30 * time.Second

// envSource abstracts the process environment so the loader can be tested
// without touching global state.
type envSource struct {
	lookup  func(key string) (string, bool)
	set     func(key, value string) error
	environ func() []string
}

func osEnv() envSource {
	return envSource{lookup: os.LookupEnv, set: os.Setenv, environ: os.Environ}
}

// LoadConfig resolves, parses and validates the process configuration.
// provider may be nil when APP_ENV is local.
func LoadConfig(ctx context.Context, provider SecretProvider) (*Config, error) {
	return load(ctx, provider, osEnv())
}

func load(ctx context.Context, provider SecretProvider, env envSource) (*Config, error) {
	// Renewal day math is done in UTC throughout.
	time.Local = time.UTC

	// Does not override variables already present.
	_ = godotenv.Load()

	if appEnv, _ := env.lookup("APP_ENV"); appEnv != localEnv {
		if err := resolveSecrets(ctx, provider, env); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{Type: ErrParsing, Message: "failed to process environment configuration", Err: err}
	}
	cfg.Build = NewBuildInfo()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{Type: ErrValidation, Message: "configuration validation failed", Err: err}
	}
	return &cfg, nil
}

// ResolveSecrets injects SSM-backed values into the environment without
// loading the full Config. Lambda entry points call it before LoadConfig
// when they need secrets for SDK clients built ahead of config.
func ResolveSecrets(ctx context.Context, provider SecretProvider) error {
	if appEnv, _ := os.LookupEnv("APP_ENV"); appEnv == localEnv {
		return nil
	}
	return resolveSecrets(ctx, provider, osEnv())
}

// resolveSecrets fetches every *_SSM_PARAM pointer whose target is unset and
// writes the resolved value to the target variable. Explicitly set targets
// win over SSM.
func resolveSecrets(ctx context.Context, provider SecretProvider, env envSource) error {
	targets := make(map[string]string) // path -> target var
	var paths []string

	for _, entry := range env.environ() {
		key, path, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasSuffix(key, ssmParamSuffix) || path == "" {
			continue
		}
		target := strings.TrimSuffix(key, ssmParamSuffix)
		if _, set := env.lookup(target); set {
			continue
		}
		if _, seen := targets[path]; !seen {
			paths = append(paths, path)
		}
		targets[path] = target
	}

	if len(paths) == 0 {
		return nil
	}
	if provider == nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "SecretProvider is required outside local (need to resolve: " + strings.Join(targetNames(paths, targets), ", ") + ")",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, secretResolveTimeout)
	defer cancel()

	resolved, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{Type: ErrSSMResolution, Message: fmt.Sprintf("failed to resolve %d SSM parameters", len(paths)), Err: err}
	}

	var missing []string
	for _, path := range paths {
		value, ok := resolved[path]
		if !ok {
			missing = append(missing, targets[path])
			continue
		}
		if err := env.set(targets[path], value); err != nil {
			return &ConfigError{Type: ErrSSMResolution, Message: "failed to set " + targets[path], Err: err}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{Type: ErrSSMResolution, Message: "SSM parameters not found for: " + strings.Join(missing, ", ")}
	}
	return nil
}

func targetNames(paths []string, targets map[string]string) []string {
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, targets[p])
	}
	return names
}
