package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Provider: ProviderConfig{
			Endpoint: "https://api.anthropic.com/v1/messages",
		},
		Chat: ChatConfig{
			MaxTokens:     4096,
			MaxToolRounds: 16,
		},
		Tools: ToolsConfig{
			TimeoutMinutes: 30,
		},
		UI: UIConfig{
			Enabled: true,
			Bind:    "127.0.0.1:0",
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
	}
}
