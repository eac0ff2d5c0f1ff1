package config

// Config is the root configuration for banter.
type Config struct {
	Provider ProviderConfig `yaml:"provider,omitempty"`
	Chat     ChatConfig     `yaml:"chat,omitempty"`
	Tools    ToolsConfig    `yaml:"tools,omitempty"`
	UI       UIConfig       `yaml:"ui,omitempty"`
	Store    StoreConfig    `yaml:"store,omitempty"`
	Logging  LoggingConfig  `yaml:"logging,omitempty"`
}

// ProviderConfig points at the streaming completion endpoint.
type ProviderConfig struct {
	Endpoint string `yaml:"endpoint,omitempty"`
	APIKey   string `yaml:"apiKey,omitempty"` // supports ${ENV_VAR} references
	Model    string `yaml:"model,omitempty"`
}

// ChatConfig tunes turn behavior.
type ChatConfig struct {
	SystemPrompt string   `yaml:"systemPrompt,omitempty"`
	MaxTokens    int      `yaml:"maxTokens,omitempty"`
	Temperature  *float64 `yaml:"temperature,omitempty"`
	// MaxToolRounds bounds how many model turns one user message may take.
	MaxToolRounds int `yaml:"maxToolRounds,omitempty"`
	// FallbackField names a tool-input field defaulted from the user's last
	// utterance when the model omits it.
	FallbackField string `yaml:"fallbackField,omitempty"`
}

// ToolsConfig configures tool-execution servers.
type ToolsConfig struct {
	// TimeoutMinutes bounds a single tool call. Zero means 30 minutes.
	TimeoutMinutes int `yaml:"timeoutMinutes,omitempty"`
	// ProgressExtends lists tools whose timeout window resets on progress
	// notifications.
	ProgressExtends []string `yaml:"progressExtends,omitempty"`
	Servers         []ToolServerEntry `yaml:"servers,omitempty"`
}

// ToolServerEntry describes one tool server, launched over stdio when
// Command is set or reached over SSE when URL is set.
type ToolServerEntry struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"` // values support ${ENV_VAR}
	URL     string            `yaml:"url,omitempty"`
}

// UIConfig configures the embedded resource host.
type UIConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Bind    string `yaml:"bind,omitempty"` // host:port, port 0 picks a free one
}

// StoreConfig configures session persistence.
type StoreConfig struct {
	// Path to the SQLite database. Empty means <base>/data/banter.db.
	Path string `yaml:"path,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
}
