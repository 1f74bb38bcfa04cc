package schema

import (
	"errors"
	"os"
	"strings"
	"time"
)

// KernelConfig defines defaults and limits for a kernel session.
type KernelConfig struct {
	SessionID SessionID
	// Debug enables verbose diagnostic logging.
	Debug bool
	// HideExecutionResult suppresses execute_result messages entirely.
	HideExecutionResult bool
	// HideUndefined suppresses execute_result when text/plain is "undefined".
	HideUndefined   bool
	ProtocolVersion string
	Cwd             string
	StartupScript   string
	// StateDir holds persisted history; empty disables persistence.
	StateDir              string
	ImplementationVersion string
	LanguageVersion       string
	// Target is the cluster workunits are submitted to.
	Target  string
	JobName string
	// ShowProgress publishes a refreshing display with the workunit state.
	ShowProgress   bool
	ReplyTTL       time.Duration
	HistoryMax     int
	QueueDepth     int
	CleanupTimeout time.Duration
}

const (
	// DefaultProtocolVersion is the messaging protocol version reported in headers.
	DefaultProtocolVersion = "5.1"
	// DefaultTarget is the default cluster.
	DefaultTarget = "hthor"
	// DefaultReplyTTL bounds how long an unanswered stdin prompt is kept.
	DefaultReplyTTL = 10 * time.Minute
	// DefaultHistoryMax is the default number of stored executions.
	DefaultHistoryMax = 1000
	// DefaultQueueDepth is the default number of queued execute requests.
	DefaultQueueDepth = 64
	// DefaultCleanupTimeout bounds workunit deletion after a lifecycle.
	DefaultCleanupTimeout = 30 * time.Second
)

// NormalizeKernelConfig applies defaults and validates the config.
func NormalizeKernelConfig(cfg KernelConfig) (KernelConfig, error) {
	cfg.ProtocolVersion = strings.TrimSpace(cfg.ProtocolVersion)
	if cfg.ProtocolVersion == "" {
		cfg.ProtocolVersion = DefaultProtocolVersion
	}
	if _, _, err := ParseProtocolVersion(cfg.ProtocolVersion); err != nil {
		return KernelConfig{}, err
	}
	if cfg.SessionID == "" {
		return KernelConfig{}, errors.New("session id is required")
	}
	if cfg.Cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return KernelConfig{}, err
		}
		cfg.Cwd = wd
	}
	if strings.TrimSpace(cfg.Target) == "" {
		cfg.Target = DefaultTarget
	}
	if cfg.JobName == "" {
		cfg.JobName = "eclkernel"
	}
	if cfg.ReplyTTL <= 0 {
		cfg.ReplyTTL = DefaultReplyTTL
	}
	if cfg.HistoryMax <= 0 {
		cfg.HistoryMax = DefaultHistoryMax
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = DefaultCleanupTimeout
	}
	return cfg, nil
}
