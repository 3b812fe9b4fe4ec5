package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// defaults holds the filesystem locations the CLI falls back to when
// the corresponding environment variable is unset, following the
// pattern of the teacher's internal/app.GetDefaults.
type defaults struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
	HistoryDB  string
}

func getDefaults() (defaults, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return defaults{}, err
	}
	baseDir, err := getBaseDir()
	if err != nil {
		return defaults{}, err
	}
	return defaults{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
		HistoryDB:  filepath.Join(baseDir, "history.sqlite3"),
	}, nil
}

// getConfigPath returns the config file path, checking CUBA_CONFIG_PATH
// env var first, then falling back to the default ~/.config/cuba.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("CUBA_CONFIG_PATH"); path != "" {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "cuba.toml"), nil
}

// getBaseDir returns the base directory for cuba's local state
// (logs, history database), checking CUBA_HOME env var first, then
// falling back to the XDG default ~/.local/share/cuba.
func getBaseDir() (string, error) {
	if path := os.Getenv("CUBA_HOME"); path != "" {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "cuba"), nil
}
