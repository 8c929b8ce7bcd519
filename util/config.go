package util

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const Name = "fedimerge"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

// OriginConf declares a remote system we sync from.
type OriginConf struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	Host string `yaml:"host"`
}

// AccountConf is an account of record: whatever it does is "me".
type AccountConf struct {
	Origin      string `yaml:"origin"`
	WebFingerId string `yaml:"webfingerId"`
	Oid         string `yaml:"oid"`
}

type AppConfig struct {
	Conf struct {
		Database            string
		Host                string
		HttpPort            int           `yaml:"httpPort"`
		LogLevel            string        `yaml:"logLevel"`
		LongAgoDays         int           `yaml:"longAgoDays"`
		StorageRetries      int           `yaml:"storageRetries"`
		StorageRetryDelayMs int           `yaml:"storageRetryDelayMs"`
		Origins             []OriginConf  `yaml:"origins"`
		Accounts            []AccountConf `yaml:"accounts"`
	}
}

// LongAgo is how old an activity may be and still raise a notification.
func (c *AppConfig) LongAgo() time.Duration {
	days := c.Conf.LongAgoDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

func (c *AppConfig) StorageRetryDelay() time.Duration {
	return time.Duration(c.Conf.StorageRetryDelayMs) * time.Millisecond
}

func ReadConf() (*AppConfig, error) {
	c := &AppConfig{}

	// .env is optional, real environment variables win over it
	if err := godotenv.Load(); err == nil {
		log.Debug("Config: loaded .env")
	}

	configPath := ResolveFilePath(ConfigFileName)

	buf, err := os.ReadFile(configPath)
	if err != nil {
		log.Info("Config file not found, using embedded defaults", "path", configPath)
		buf = embeddedConfig

		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			if writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644); writeErr != nil {
				log.Warn("Could not write default config", "path", userConfigPath, "err", writeErr)
			} else {
				log.Info("Created default config file", "path", userConfigPath)
			}
		}
	}

	if err := yaml.Unmarshal(buf, c); err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	if v := os.Getenv("FEDIMERGE_DATABASE"); v != "" {
		c.Conf.Database = v
	}
	if v := os.Getenv("FEDIMERGE_HOST"); v != "" {
		c.Conf.Host = v
	}
	if v := os.Getenv("FEDIMERGE_LOG_LEVEL"); v != "" {
		c.Conf.LogLevel = v
	}
	if err := envInt("FEDIMERGE_HTTPPORT", &c.Conf.HttpPort); err != nil {
		return nil, err
	}
	if err := envInt("FEDIMERGE_LONG_AGO_DAYS", &c.Conf.LongAgoDays); err != nil {
		return nil, err
	}
	if err := envInt("FEDIMERGE_STORAGE_RETRIES", &c.Conf.StorageRetries); err != nil {
		return nil, err
	}

	if c.Conf.Database == "" {
		c.Conf.Database = Name + ".db"
	}
	return c, nil
}

func envInt(key string, target *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*target = n
	return nil
}
