package server

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// LoadConfig reads configuration from defaults, an optional config file and
// environment variables, in increasing order of precedence. When envFile is
// non-empty and exists, its variables are loaded into the environment first
// without overriding variables that are already set.
func LoadConfig(configPath, envFile string) (*viper.Viper, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading env file %s: %w", envFile, err)
		}
	}

	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8484)
	v.SetDefault("server.data_dir", "./data")
	v.SetDefault("server.dev_mode", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("database.path", "")

	v.SetDefault("auth.token", "")
	v.SetDefault("auth.passphrase", "")
	v.SetDefault("auth.max_skew", "300s")

	v.SetDefault("policy.disallow_file_mods", false)

	v.SetDefault("update.concurrency", 1)
	v.SetDefault("update.target_timeout", "10m")

	v.SetDefault("wpcli.binary", "wp")
	v.SetDefault("wpcli.path", "")
	v.SetDefault("wpcli.allow_root", false)

	v.SetDefault("ratelimit.rps", 5.0)
	v.SetDefault("ratelimit.burst", 20)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("nozier")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/nozier")
	}

	// Environment variable support: NOZIER_SERVER_PORT=9090
	v.SetEnvPrefix("NOZIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is fine -- use defaults
	}

	return v, nil
}
