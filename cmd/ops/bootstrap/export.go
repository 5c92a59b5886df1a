package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
)

// ExportEnvConfig controls ExportEnvFile.
type ExportEnvConfig struct {
	OutputPath string
	SSM        *SSMManager
	Steps      []BootstrapStep
	Stderr     io.Writer
}

// localDefaults make the exported file usable on its own: APP_ENV=local
// stops the loader from going back to SSM.
var localDefaults = map[string]string{
	"APP_ENV":   "local",
	"LOG_LEVEL": "debug",
}

// ExportEnvFile reads every stored parameter back and writes KEY=value lines
// for local development. Missing parameters are reported and left out. The
// file is created with 0600 permissions because it holds plaintext secrets.
func ExportEnvFile(ctx context.Context, cfg ExportEnvConfig) error {
	if cfg.OutputPath == "" {
		return fmt.Errorf("export path must not be empty")
	}
	stderr := cfg.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	env := make(map[string]string, len(cfg.Steps)+len(localDefaults))
	for k, v := range localDefaults {
		env[k] = v
	}

	for _, step := range cfg.Steps {
		if step.EnvVar == "" {
			continue
		}
		path := cfg.SSM.SSMPath(step.SSMCategoryKey)
		exists, err := cfg.SSM.ParameterExists(ctx, path)
		if err != nil {
			return err
		}
		if !exists {
			fmt.Fprintf(stderr, "  not set, omitted: %s (%s)\n", step.EnvVar, path)
			continue
		}
		value, err := cfg.SSM.GetParameterValue(ctx, path, step.ParamType == ParamSecureString)
		if err != nil {
			return err
		}
		env[step.EnvVar] = value
	}

	content, err := godotenv.Marshal(env)
	if err != nil {
		return fmt.Errorf("rendering .env: %w", err)
	}
	if err := os.WriteFile(cfg.OutputPath, []byte(content+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", cfg.OutputPath, err)
	}
	fmt.Fprintf(stderr, "  Wrote %d variables to %s\n", len(env), cfg.OutputPath)
	return nil
}
