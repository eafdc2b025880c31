package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/lyndonlyu/ripcord/internal/config"
	"github.com/lyndonlyu/ripcord/internal/engine"
	"github.com/lyndonlyu/ripcord/internal/gitrepo"
)

// homeDir returns the user's home directory or an error.
func homeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return home, nil
}

// loadConfig reads ~/.ripcord/config.yaml, falling back to defaults when
// the file does not exist. The repository path defaults to the current
// working directory.
func loadConfig() (*config.Config, error) {
	home, err := homeDir()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(filepath.Join(home, ".ripcord", "config.yaml"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Repo.Path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		cfg.Repo.Path = cwd
	}
	return cfg, nil
}

// newEngine wires a full engine for the configured repository. Callers
// must Close the engine.
func newEngine() (*engine.Engine, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	repo, err := gitrepo.Open(cfg.Repo.Path)
	if err != nil {
		return nil, nil, err
	}
	eng, err := engine.New(cfg, repo)
	if err != nil {
		return nil, nil, err
	}
	return eng, cfg, nil
}
