package cli

import (
	"os"

	"github.com/tinywall/procman/internal/config"
)

func defaultConfigPath() string {
	if v := os.Getenv("PROCMAN_CONFIG"); v != "" {
		return v
	}
	if _, err := os.Stat("procman.yml"); err == nil {
		return "procman.yml"
	}
	return config.DefaultPath
}

// loadLocalConfig reads path, or the default location when empty. A missing
// file yields the built-in defaults.
func loadLocalConfig(path string) (*config.Config, error) {
	if path == "" {
		path = defaultConfigPath()
	}
	return config.LoadOrDefault(path)
}
