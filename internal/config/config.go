// Package config provides configuration types and loading for finch.
package config

import "time"

// Config is the root configuration struct.
// Top-level groups: Paths, Safety, Browser, Provider, Scheduler, Notify,
// Events, Admin.
type Config struct {
	Paths     PathsConfig     `json:"paths"`
	Safety    SafetyConfig    `json:"safety"`
	Browser   BrowserConfig   `json:"browser"`
	Provider  ProviderConfig  `json:"provider"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Notify    NotifyConfig    `json:"notify"`
	Events    EventsConfig    `json:"events"`
	Admin     AdminConfig     `json:"admin"`
}

// PathsConfig groups filesystem path settings.
type PathsConfig struct {
	DataDir string `json:"dataDir" envconfig:"DATA_DIR"`
}

// SafetyConfig groups the safety-layer policies: circuit breaker threshold,
// approval gating, rate limiting, and dry-run simulation.
type SafetyConfig struct {
	// MaxFailures is the consecutive-failure count at which a capability
	// module is disabled until an operator re-enables it.
	MaxFailures int `json:"maxFailures" envconfig:"MAX_FAILURES"`
	// ApprovalTimeoutHours is the TTL for pending approval requests.
	ApprovalTimeoutHours int `json:"approvalTimeoutHours" envconfig:"APPROVAL_TIMEOUT_HOURS"`
	// RetentionHours is how long resolved approval rows are kept.
	RetentionHours int `json:"retentionHours" envconfig:"RETENTION_HOURS"`
	// RequireApproval globally enables the approval gate. When false,
	// sensitive actions proceed as if implicitly approved.
	RequireApproval bool `json:"requireApproval" envconfig:"REQUIRE_APPROVAL"`
	// DryRun makes side-effecting actions simulate instead of execute.
	DryRun bool `json:"dryRun" envconfig:"DRY_RUN"`
	// ActionsPerHour caps side-effecting actions per action type.
	ActionsPerHour int `json:"actionsPerHour" envconfig:"ACTIONS_PER_HOUR"`
}

// BrowserConfig configures the DevTools browser control channel.
type BrowserConfig struct {
	Enabled bool `json:"enabled" envconfig:"ENABLED"`
	// ControlURL is the DevTools websocket URL of a running browser
	// (e.g. ws://127.0.0.1:9222). Empty means launch is managed externally.
	ControlURL string `json:"controlUrl" envconfig:"CONTROL_URL"`
	// ConnectTimeout bounds the initial connection attempt. Connection
	// failure degrades the social capability, it does not abort startup.
	ConnectTimeout time.Duration `json:"connectTimeout" envconfig:"CONNECT_TIMEOUT"`
}

// ProviderConfig contains settings for the OpenAI-compatible LLM provider
// used by the content and explore capabilities.
type ProviderConfig struct {
	APIKey  string `json:"apiKey" envconfig:"API_KEY"`
	APIBase string `json:"apiBase,omitempty" envconfig:"API_BASE"`
	Model   string `json:"model" envconfig:"MODEL"`
}

// SchedulerConfig contains settings for the task scheduler.
type SchedulerConfig struct {
	Enabled      bool          `json:"enabled" envconfig:"ENABLED"`
	TickInterval time.Duration `json:"tickInterval" envconfig:"TICK_INTERVAL"`
}

// NotifyConfig configures operator notifications for approval requests.
type NotifyConfig struct {
	SlackWebhookURL string `json:"slackWebhookUrl" envconfig:"SLACK_WEBHOOK_URL"`
}

// EventsConfig configures the optional Kafka mirror for orchestrator events.
type EventsConfig struct {
	KafkaBrokers string `json:"kafkaBrokers" envconfig:"KAFKA_BROKERS"`
	Topic        string `json:"topic" envconfig:"TOPIC"`
}

// AdminConfig contains admin HTTP API settings.
type AdminConfig struct {
	Host string `json:"host" envconfig:"HOST"`
	Port int    `json:"port" envconfig:"PORT"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			DataDir: "~/.finch",
		},
		Safety: SafetyConfig{
			MaxFailures:          3,
			ApprovalTimeoutHours: 24,
			RetentionHours:       168,
			RequireApproval:      true,
			ActionsPerHour:       6,
		},
		Browser: BrowserConfig{
			Enabled:        true,
			ConnectTimeout: 15 * time.Second,
		},
		Provider: ProviderConfig{
			Model: "gpt-4o-mini",
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			TickInterval: 30 * time.Second,
		},
		Events: EventsConfig{
			Topic: "finch.events",
		},
		Admin: AdminConfig{
			Host: "127.0.0.1", // Secure default
			Port: 18890,
		},
	}
}
