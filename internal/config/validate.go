package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	// Provider validation
	if cfg.Provider.Endpoint == "" {
		issues = append(issues, ValidationIssue{
			Path:    "provider.endpoint",
			Message: "endpoint is required",
		})
	} else if !strings.HasPrefix(cfg.Provider.Endpoint, "http://") && !strings.HasPrefix(cfg.Provider.Endpoint, "https://") {
		issues = append(issues, ValidationIssue{
			Path:    "provider.endpoint",
			Message: fmt.Sprintf("must be an http(s) URL, got %q", cfg.Provider.Endpoint),
		})
	}
	if cfg.Provider.Model == "" {
		issues = append(issues, ValidationIssue{
			Path:    "provider.model",
			Message: "model is required",
		})
	}

	// Chat validation
	if cfg.Chat.MaxTokens < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "chat.maxTokens",
			Message: fmt.Sprintf("must be non-negative, got %d", cfg.Chat.MaxTokens),
		})
	}
	if cfg.Chat.Temperature != nil && (*cfg.Chat.Temperature < 0 || *cfg.Chat.Temperature > 1) {
		issues = append(issues, ValidationIssue{
			Path:    "chat.temperature",
			Message: fmt.Sprintf("must be within [0, 1], got %g", *cfg.Chat.Temperature),
		})
	}
	if cfg.Chat.MaxToolRounds < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "chat.maxToolRounds",
			Message: fmt.Sprintf("must be non-negative, got %d", cfg.Chat.MaxToolRounds),
		})
	}

	// Tools validation
	if cfg.Tools.TimeoutMinutes < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "tools.timeoutMinutes",
			Message: fmt.Sprintf("must be non-negative, got %d", cfg.Tools.TimeoutMinutes),
		})
	}
	seen := map[string]bool{}
	for i, srv := range cfg.Tools.Servers {
		path := fmt.Sprintf("tools.servers[%d]", i)
		if srv.Name == "" {
			issues = append(issues, ValidationIssue{Path: path + ".name", Message: "name is required"})
		} else if seen[srv.Name] {
			issues = append(issues, ValidationIssue{Path: path + ".name", Message: fmt.Sprintf("duplicate server name %q", srv.Name)})
		}
		seen[srv.Name] = true

		switch {
		case srv.Command == "" && srv.URL == "":
			issues = append(issues, ValidationIssue{Path: path, Message: "either command or url is required"})
		case srv.Command != "" && srv.URL != "":
			issues = append(issues, ValidationIssue{Path: path, Message: "command and url are mutually exclusive"})
		}
	}

	// Logging validation
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}

	validConsoleStyles := []string{"pretty", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.consoleStyle",
			Message: fmt.Sprintf("must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle),
		})
	}

	return issues
}
