package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath = "config.toml"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	DingTalk DingTalkConfig `toml:"dingtalk"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DingTalkConfig carries the gateway credentials and delivery options.
type DingTalkConfig struct {
	Enabled         bool   `toml:"enabled"`
	ClientID        string `toml:"client_id"`
	ClientSecret    string `toml:"client_secret"`
	RobotCode       string `toml:"robot_code"`
	MessageType     string `toml:"message_type"`
	CardTemplateID  string `toml:"card_template_id"`
	CardTemplateKey string `toml:"card_template_key"`
	MediaDir        string `toml:"media_dir"`
	Debug           bool   `toml:"debug"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		DingTalk: DingTalkConfig{
			Enabled:     true,
			MessageType: "plain",
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
