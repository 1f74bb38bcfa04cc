package appconfig

import (
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"pkt.systems/eclkernel/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int             `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string          `mapstructure:"state_dir" yaml:"state_dir"`
	Kernel        KernelConfig    `mapstructure:"kernel" yaml:"kernel"`
	Workunit      WorkunitConfig  `mapstructure:"workunit" yaml:"workunit"`
	Transport     TransportConfig `mapstructure:"transport" yaml:"transport"`
	Logging       LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// KernelConfig controls session behavior.
type KernelConfig struct {
	// SessionID keys persisted history. Empty derives a stable id from the working directory.
	SessionID           string        `mapstructure:"session_id" yaml:"session_id"`
	Debug               bool          `mapstructure:"debug" yaml:"debug"`
	HideExecutionResult bool          `mapstructure:"hide_execution_result" yaml:"hide_execution_result"`
	HideUndefined       bool          `mapstructure:"hide_undefined" yaml:"hide_undefined"`
	ProtocolVersion     string        `mapstructure:"protocol_version" yaml:"protocol_version"`
	Cwd                 string        `mapstructure:"cwd" yaml:"cwd"`
	StartupScript       string        `mapstructure:"startup_script" yaml:"startup_script"`
	Target              string        `mapstructure:"target" yaml:"target"`
	JobName             string        `mapstructure:"job_name" yaml:"job_name"`
	ShowProgress        bool          `mapstructure:"show_progress" yaml:"show_progress"`
	ReplyTTL            time.Duration `mapstructure:"reply_ttl" yaml:"reply_ttl"`
	HistoryMax          int           `mapstructure:"history_max" yaml:"history_max"`
	QueueDepth          int           `mapstructure:"queue_depth" yaml:"queue_depth"`
}

// WorkunitConfig configures the WsWorkunits client.
type WorkunitConfig struct {
	BaseURL            string        `mapstructure:"base_url" yaml:"base_url"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	PollInterval       time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	Username           string        `mapstructure:"username" yaml:"username"`
	Password           string        `mapstructure:"password" yaml:"password"`
}

// TransportConfig controls the kernel listener.
type TransportConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// LoggingConfig controls message transcripts.
type LoggingConfig struct {
	TranscriptPath string `mapstructure:"transcript_path" yaml:"transcript_path"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	stateDir := filepath.Join(home, ".eclkernel", "state")
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      stateDir,
		Kernel: KernelConfig{
			HideUndefined:   true,
			ProtocolVersion: schema.DefaultProtocolVersion,
			Target:          schema.DefaultTarget,
			JobName:         "eclkernel",
			ReplyTTL:        schema.DefaultReplyTTL,
			HistoryMax:      schema.DefaultHistoryMax,
			QueueDepth:      schema.DefaultQueueDepth,
		},
		Workunit: WorkunitConfig{
			BaseURL:            "https://play.hpccsystems.com:18010/",
			InsecureSkipVerify: true,
			PollInterval:       500 * time.Millisecond,
			RequestTimeout:     30 * time.Second,
		},
		Transport: TransportConfig{
			Listen: "unix://" + filepath.Join(home, ".eclkernel", "kernel.sock"),
		},
		Logging: LoggingConfig{
			TranscriptPath: "",
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".eclkernel", "config.yaml"), nil
}

// SessionID returns the configured session id, or one derived from the
// absolute working directory so restarts in the same directory resume history.
func (c Config) SessionID() (schema.SessionID, error) {
	if c.Kernel.SessionID != "" {
		id := schema.SessionID(c.Kernel.SessionID)
		if err := schema.ValidateSessionID(id); err != nil {
			return "", err
		}
		return id, nil
	}
	dir := c.Kernel.Cwd
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	return schema.SessionID(uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+abs)).String()), nil
}

// KernelSession maps the file config onto a session config.
func (c Config) KernelSession(sessionID schema.SessionID) schema.KernelConfig {
	return schema.KernelConfig{
		SessionID:           sessionID,
		Debug:               c.Kernel.Debug,
		HideExecutionResult: c.Kernel.HideExecutionResult,
		HideUndefined:       c.Kernel.HideUndefined,
		ProtocolVersion:     c.Kernel.ProtocolVersion,
		Cwd:                 c.Kernel.Cwd,
		StartupScript:       c.Kernel.StartupScript,
		StateDir:            c.StateDir,
		Target:              c.Kernel.Target,
		JobName:             c.Kernel.JobName,
		ShowProgress:        c.Kernel.ShowProgress,
		ReplyTTL:            c.Kernel.ReplyTTL,
		HistoryMax:          c.Kernel.HistoryMax,
		QueueDepth:          c.Kernel.QueueDepth,
	}
}
