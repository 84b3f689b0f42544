package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
)

// ExportEnvConfig controls ExportEnvFile.
type ExportEnvConfig struct {
	OutputPath  string
	Environment string
	SSM         *SSMManager
	Inventory   []Step
}

// localDefaults are written after the exported secrets so the file is a
// complete local configuration.
var localDefaults = map[string]string{
	"APP_ENV":         "local",
	"DASHBOARD_URL":   "http://localhost:3000",
	"EMAIL_PROVIDER":  "stub",
	"METRICS_BACKEND": "prometheus",
	"DB_AUTO_MIGRATE": "true",
	"LOG_LEVEL":       "debug",
}

// ExportEnvFile reads every inventory parameter back from SSM and writes
// them as KEY=value lines. Missing optional parameters are left out. The
// file is created with 0600 permissions.
func ExportEnvFile(ctx context.Context, cfg ExportEnvConfig) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Generated by cmd/ops/bootstrap from %s\n", ssmPrefix(cfg.Environment))

	for _, step := range cfg.Inventory {
		path := cfg.SSM.Path(step.Key)
		exists, err := cfg.SSM.Exists(ctx, path)
		if err != nil {
			return err
		}
		if !exists {
			if step.Optional {
				continue
			}
			return fmt.Errorf("required parameter %s is missing", path)
		}
		value, err := cfg.SSM.Get(ctx, path)
		if err != nil {
			return err
		}
		fmt.Fprintf(&b, "%s=%s\n", step.EnvVar, quoteEnv(value))
	}

	keys := make([]string, 0, len(localDefaults))
	for k := range localDefaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, localDefaults[k])
	}

	if err := os.WriteFile(cfg.OutputPath, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", cfg.OutputPath, err)
	}
	return nil
}

// quoteEnv quotes values godotenv would otherwise split or expand.
func quoteEnv(v string) string {
	if !strings.ContainsAny(v, " #$\"'\\") {
		return v
	}
	if !strings.Contains(v, "'") {
		return "'" + v + "'"
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `\$`)
	return `"` + r.Replace(v) + `"`
}
