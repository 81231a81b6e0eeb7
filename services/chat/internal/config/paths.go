package config

import "os"

// ConfigPath is the YAML file Load reads when given an empty path.
var ConfigPath = configPath()

func configPath() string {
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		return v
	}
	return "config.yaml"
}
