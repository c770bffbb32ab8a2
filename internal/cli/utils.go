package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/synheart/shakewatch/internal/scenario"
)

// scenarioDir is set by --scenario-dir on the sim commands
var scenarioDir string

func getScenarioDir() string {
	if scenarioDir != "" {
		return scenarioDir
	}

	if _, err := os.Stat("scenarios"); err == nil {
		return "scenarios"
	}

	exe, err := os.Executable()
	if err == nil {
		dir := filepath.Join(filepath.Dir(exe), "scenarios")
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
	}

	return ""
}

// loadRegistry returns the built-in scenarios overlaid with any found on disk
func loadRegistry() (*scenario.Registry, error) {
	registry := scenario.NewRegistry()
	if err := registry.LoadBuiltin(); err != nil {
		return nil, fmt.Errorf("failed to load built-in scenarios: %w", err)
	}

	if dir := getScenarioDir(); dir != "" {
		if err := registry.LoadFromDir(dir); err != nil {
			return nil, fmt.Errorf("failed to load scenarios from %s: %w", dir, err)
		}
	}
	return registry, nil
}

// loadScenario fetches name and applies a duration override
func loadScenario(name, duration string) (*scenario.Scenario, error) {
	registry, err := loadRegistry()
	if err != nil {
		return nil, err
	}

	scen, err := registry.Get(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load scenario '%s': %w", name, err)
	}

	if duration != "" {
		copied := *scen
		copied.Duration = duration
		if err := copied.Validate(); err != nil {
			return nil, fmt.Errorf("invalid --duration: %w", err)
		}
		scen = &copied
	}
	return scen, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
