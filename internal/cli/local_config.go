package cli

import (
	"os"

	"github.com/mehrguard/mehrguard/internal/config"
)

// defaultConfigPath returns the first config file that exists, or "" when
// there is none and built-in defaults apply.
func defaultConfigPath() string {
	if v := os.Getenv("MEHRGUARD_CONFIG"); v != "" {
		return v
	}
	for _, p := range []string{
		"mehrguard.yml",
		"mehrguard.yaml",
		"/etc/mehrguard/config.yaml",
		"/etc/mehrguard/config.yml",
	} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func loadLocalConfig(path string) (*config.Config, error) {
	if path == "" {
		path = defaultConfigPath()
	}
	if path == "" {
		return config.Default()
	}
	return config.Load(path)
}
