package config

// CommandsConfig configures text command handling across channel adapters.
type CommandsConfig struct {
	// Enabled toggles command handling. Defaults to true.
	Enabled *bool `yaml:"enabled"`

	// AllowFrom restricts slash-style commands by channel/provider name.
	AllowFrom map[string][]string `yaml:"allow_from"`

	// InlineAllowFrom restricts inline command shortcuts by channel/provider name.
	InlineAllowFrom map[string][]string `yaml:"inline_allow_from"`

	// InlineCommands lists command names that can run inline, without a
	// leading slash (e.g. a bare "status").
	InlineCommands []string `yaml:"inline_commands"`
}

// WebhookConfig configures the inbound webhook channel: HMAC signature
// verification on delivery, and outbound payload templating for any
// mapping that posts back to an external endpoint (§6).
type WebhookConfig struct {
	// Enabled turns on the webhook listener.
	Enabled bool `yaml:"enabled"`

	// BasePath is the URL path prefix for inbound webhook requests (default: /webhooks).
	BasePath string `yaml:"base_path"`

	// Secret is the shared HMAC-SHA256 signing secret used to verify inbound
	// deliveries. Required when Enabled.
	Secret string `yaml:"secret"`

	// SignatureHeader is the HTTP header carrying the hex-encoded HMAC digest.
	SignatureHeader string `yaml:"signature_header"`

	// MaxBodyBytes limits the inbound request body size (default: 256KB).
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// Timeout bounds how long a webhook delivery waits for its turn to
	// complete before responding with an async acknowledgement.
	Timeout string `yaml:"timeout"`

	// Mappings define the webhook endpoints this instance exposes.
	Mappings []WebhookMapping `yaml:"mappings"`
}

// WebhookMapping defines a single inbound webhook endpoint and how it is
// turned into a turn, plus the outbound template used to format any reply
// sent back to the caller.
type WebhookMapping struct {
	// Path is the endpoint path (appended to BasePath).
	Path string `yaml:"path"`

	// Name is a human-readable name for this webhook, used in logs.
	Name string `yaml:"name"`

	// AgentID targets a specific agent session. Optional.
	AgentID string `yaml:"agent_id"`

	// ChannelID identifies the channel the resulting turn is attributed to.
	ChannelID string `yaml:"channel_id"`

	// ResponseTemplate formats the reply body. Supports "{field.path}"
	// placeholders resolved against the turn's outcome.
	ResponseTemplate string `yaml:"response_template"`
}
