// Package loglens holds process-wide defaults shared by the loglens packages.
package loglens

import (
	"os"
	"path/filepath"
)

const (
	DefaultAppName    = "loglens"
	DefaultEnvPrefix  = "LOGLENS"
	DefaultListenAddr = ":8080"

	// DefaultAPIURL is the DashScope text-generation endpoint.
	DefaultAPIURL = "https://dashscope.aliyuncs.com/api/v1/services/aigc/text-generation/generation"
	DefaultModel  = "qwen-turbo"
)

// Version is overridden at build time with -ldflags.
var Version = "dev"

// DefaultConfigPath is the per-user configuration directory.
var DefaultConfigPath = func() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "."+DefaultAppName)
	}
	return filepath.Join(home, ".config", DefaultAppName)
}()
