// Package model defines foreman's configuration and shared data structures.
package model

type Config struct {
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Ralph       RalphConfig       `yaml:"ralph"`
	Agent       AgentConfig       `yaml:"agent"`
	Markers     MarkerConfig      `yaml:"markers"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type CoordinatorConfig struct {
	PollIntervalSec      int `yaml:"poll_interval_sec"`
	StatusIntervalSec    int `yaml:"status_interval_sec"`
	StaleRecheckDelaySec int `yaml:"stale_recheck_delay_sec"`
	ShutdownTimeoutSec   int `yaml:"shutdown_timeout_sec"`
}

// RalphConfig configures the external iteration-loop driver used for
// structured (prd-*) jobs.
type RalphConfig struct {
	Binary           string `yaml:"binary"`
	MaxIterations    int    `yaml:"max_iterations"`
	Agent            string `yaml:"agent"`
	Model            string `yaml:"model"`
	NoAllowAll       bool   `yaml:"no_allow_all"`
	StatusTimeoutSec int    `yaml:"status_timeout_sec"`
}

// AgentConfig configures the direct-execution agent used for freeform
// (todo-*) jobs.
type AgentConfig struct {
	Binary string `yaml:"binary"`
	Model  string `yaml:"model"`
}

// MarkerConfig holds the two completion markers scanned for in agent output.
// StepComplete means "this unit of work is done, advance"; AllComplete means
// "everything is done, stop".
type MarkerConfig struct {
	StepComplete string `yaml:"step_complete"`
	AllComplete  string `yaml:"all_complete"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

const (
	DefaultPollIntervalSec      = 5
	DefaultStatusIntervalSec    = 30
	DefaultStaleRecheckDelaySec = 2
	DefaultShutdownTimeoutSec   = 30
	DefaultMaxIterations        = 3
	DefaultRalphAgent           = "claude-code"
	DefaultStatusTimeoutSec     = 30
	DefaultRalphBinary          = "ralph"
	DefaultAgentBinary          = "claude"
	DefaultStepMarker           = "TASK COMPLETE"
	DefaultAllMarker            = "ALL TASKS COMPLETE"
)

// WithDefaults returns a copy of c with zero-valued fields replaced by
// built-in defaults. A negative stale_recheck_delay_sec disables the
// recheck entirely.
func (c Config) WithDefaults() Config {
	if c.Coordinator.PollIntervalSec <= 0 {
		c.Coordinator.PollIntervalSec = DefaultPollIntervalSec
	}
	if c.Coordinator.StatusIntervalSec <= 0 {
		c.Coordinator.StatusIntervalSec = DefaultStatusIntervalSec
	}
	if c.Coordinator.StaleRecheckDelaySec == 0 {
		c.Coordinator.StaleRecheckDelaySec = DefaultStaleRecheckDelaySec
	}
	if c.Coordinator.ShutdownTimeoutSec <= 0 {
		c.Coordinator.ShutdownTimeoutSec = DefaultShutdownTimeoutSec
	}
	if c.Ralph.Binary == "" {
		c.Ralph.Binary = DefaultRalphBinary
	}
	if c.Ralph.MaxIterations <= 0 {
		c.Ralph.MaxIterations = DefaultMaxIterations
	}
	if c.Ralph.Agent == "" {
		c.Ralph.Agent = DefaultRalphAgent
	}
	if c.Ralph.StatusTimeoutSec <= 0 {
		c.Ralph.StatusTimeoutSec = DefaultStatusTimeoutSec
	}
	if c.Agent.Binary == "" {
		c.Agent.Binary = DefaultAgentBinary
	}
	if c.Markers.StepComplete == "" {
		c.Markers.StepComplete = DefaultStepMarker
	}
	if c.Markers.AllComplete == "" {
		c.Markers.AllComplete = DefaultAllMarker
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	return c
}
