package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-risk/pkg/config"
	"github.com/ekaya-inc/ekaya-risk/pkg/logging"
	"github.com/ekaya-inc/ekaya-risk/pkg/riskmodel"
)

// Version is set at build time via ldflags
var Version = "dev"

// main validates a calculation configuration against a risk function file
// and prints the resulting risk model.
func main() {
	configPath := flag.String("config", "", "calculation config (default config.yaml)")
	functionsPath := flag.String("functions", "risk_functions.yaml", "vulnerability and fragility functions")
	flag.Parse()

	cfg, err := config.Load(*configPath, Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Logging())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("calculation_mode", cfg.Calculation.EffectiveMode()))

	if err := run(cfg, *functionsPath, logger); err != nil {
		logger.Error("Risk model is invalid", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, functionsPath string, logger *zap.Logger) error {
	f, err := os.Open(functionsPath)
	if err != nil {
		return fmt.Errorf("failed to open risk functions: %w", err)
	}
	defer f.Close()

	functions, retrofitted, err := riskmodel.LoadFunctions(f)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", functionsPath, err)
	}
	registry, err := riskmodel.New(cfg.Calculation, functions, retrofitted, logger)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(os.Stdout)
	defer enc.Close()
	return enc.Encode(registry.Export())
}
