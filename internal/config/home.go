package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// GetFoundryHome returns the foundry home directory.
// Priority order:
//  1. FOUNDRY_HOME environment variable (if set)
//  2. Project root (detected by a .foundry-root marker or go.mod)
//  3. Current working directory (fallback)
//
// The directory is created if it doesn't exist.
func GetFoundryHome() (string, error) {
	if home := os.Getenv("FOUNDRY_HOME"); home != "" {
		return home, nil
	}

	if root, err := findProjectRoot(); err == nil && root != "" {
		return ensureDir(filepath.Join(root, ".foundry"))
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return ensureDir(filepath.Join(cwd, ".foundry"))
}

// GetStateDBPath returns the path to the engine state database:
// $FOUNDRY_HOME/state.db.
func GetStateDBPath() (string, error) {
	home, err := GetFoundryHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "state.db"), nil
}

// findProjectRoot walks up from the working directory looking for a
// .foundry-root marker file or a go.mod.
func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	current := cwd
	for {
		if _, err := os.Stat(filepath.Join(current, ".foundry-root")); err == nil {
			return current, nil
		}
		if data, err := os.ReadFile(filepath.Join(current, "go.mod")); err == nil {
			if strings.Contains(string(data), "module ") {
				return current, nil
			}
		}

		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}

	return "", fmt.Errorf("project root not found (looking for .foundry-root or go.mod)")
}

func ensureDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create foundry home directory: %w", err)
	}
	return dir, nil
}
