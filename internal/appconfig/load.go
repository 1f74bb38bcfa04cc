package appconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pkt.systems/eclkernel/schema"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
// A missing file yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("kernel.session_id", cfg.Kernel.SessionID)
	v.SetDefault("kernel.debug", cfg.Kernel.Debug)
	v.SetDefault("kernel.hide_execution_result", cfg.Kernel.HideExecutionResult)
	v.SetDefault("kernel.hide_undefined", cfg.Kernel.HideUndefined)
	v.SetDefault("kernel.protocol_version", cfg.Kernel.ProtocolVersion)
	v.SetDefault("kernel.cwd", cfg.Kernel.Cwd)
	v.SetDefault("kernel.startup_script", cfg.Kernel.StartupScript)
	v.SetDefault("kernel.target", cfg.Kernel.Target)
	v.SetDefault("kernel.job_name", cfg.Kernel.JobName)
	v.SetDefault("kernel.show_progress", cfg.Kernel.ShowProgress)
	v.SetDefault("kernel.reply_ttl", cfg.Kernel.ReplyTTL)
	v.SetDefault("kernel.history_max", cfg.Kernel.HistoryMax)
	v.SetDefault("kernel.queue_depth", cfg.Kernel.QueueDepth)
	v.SetDefault("workunit.base_url", cfg.Workunit.BaseURL)
	v.SetDefault("workunit.insecure_skip_verify", cfg.Workunit.InsecureSkipVerify)
	v.SetDefault("workunit.poll_interval", cfg.Workunit.PollInterval)
	v.SetDefault("workunit.request_timeout", cfg.Workunit.RequestTimeout)
	v.SetDefault("workunit.username", cfg.Workunit.Username)
	v.SetDefault("workunit.password", cfg.Workunit.Password)
	v.SetDefault("transport.listen", cfg.Transport.Listen)
	v.SetDefault("logging.transcript_path", cfg.Logging.TranscriptPath)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if !configNotFound(err) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// viper reports a missing explicit config file as a plain os error.
func configNotFound(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	return errors.Is(err, fs.ErrNotExist)
}

func validate(cfg Config) error {
	baseURL := strings.TrimSpace(cfg.Workunit.BaseURL)
	if baseURL != "" {
		parsed, err := url.Parse(baseURL)
		if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return fmt.Errorf("workunit.base_url must include http(s) scheme and host (e.g. https://play.hpccsystems.com:18010/)")
		}
	}
	if _, _, err := schema.ParseProtocolVersion(cfg.Kernel.ProtocolVersion); err != nil {
		return fmt.Errorf("kernel.protocol_version: %w", err)
	}
	if strings.TrimSpace(cfg.Transport.Listen) == "" {
		return fmt.Errorf("transport.listen is required")
	}
	if cfg.Kernel.QueueDepth < 0 {
		return fmt.Errorf("kernel.queue_depth must not be negative")
	}
	if cfg.Workunit.PollInterval < 0 {
		return fmt.Errorf("workunit.poll_interval must not be negative")
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.StateDir = expandEnv(cfg.StateDir)
	cfg.Kernel.Cwd = expandEnv(cfg.Kernel.Cwd)
	cfg.Kernel.StartupScript = expandEnv(cfg.Kernel.StartupScript)
	cfg.Workunit.BaseURL = expandEnv(cfg.Workunit.BaseURL)
	cfg.Workunit.Username = expandEnv(cfg.Workunit.Username)
	cfg.Workunit.Password = expandEnv(cfg.Workunit.Password)
	cfg.Transport.Listen = expandEnv(cfg.Transport.Listen)
	cfg.Logging.TranscriptPath = expandEnv(cfg.Logging.TranscriptPath)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
