// Package config reads the environment the memflow tool starts from.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Config holds the settings the CLI falls back to when a flag is unset.
type Config struct {
	// PluginPath is a list of manifest directories separated by os.PathListSeparator
	PluginPath string
	// AuditLog receives a record of every physical write when set
	AuditLog  string
	Connector string
	OS        string
	Report    string
}

// Load loads the configuration from environment variables or defaults
func Load() *Config {
	return &Config{
		PluginPath: getEnv("MEMFLOW_PLUGIN_PATH", DefaultPluginPath()),
		AuditLog:   getEnv("MEMFLOW_AUDIT_LOG", ""),
		Connector:  getEnv("MEMFLOW_CONNECTOR", ""),
		OS:         getEnv("MEMFLOW_OS", ""),
		Report:     getEnv("MEMFLOW_REPORT", "memflow.db"),
	}
}

// DefaultPluginPath is the user manifest directory followed by the system one.
func DefaultPluginPath() string {
	dirs := []string{}
	if dir, err := os.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(dir, "memflow", "plugins"))
	}
	dirs = append(dirs, filepath.Join("/etc", "memflow", "plugins"))
	return strings.Join(dirs, string(os.PathListSeparator))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
