package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/banterhq/banter/internal/config"
	"github.com/banterhq/banter/internal/version"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show banter status and configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("banter %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Printf("Config:  %s\n", paths.Config)
			fmt.Printf("Data:    %s\n", paths.Data)
			fmt.Printf("Logs:    %s\n", paths.Logs)
			fmt.Println()

			cfg, err := config.Load(paths.Config)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("Config:  not found (using defaults)")
				} else {
					fmt.Printf("Config:  error loading: %v\n", err)
				}
				return nil
			}

			model := cfg.Provider.Model
			if model == "" {
				model = "(unset)"
			}
			key := "missing"
			if cfg.Provider.APIKey != "" {
				key = "set"
			}
			fmt.Printf("Provider: endpoint=%s model=%s apiKey=%s\n",
				cfg.Provider.Endpoint, model, key)
			fmt.Printf("Chat:     maxTokens=%d maxToolRounds=%d\n",
				cfg.Chat.MaxTokens, cfg.Chat.MaxToolRounds)
			fmt.Printf("Tools:    servers=%d timeout=%dm\n",
				len(cfg.Tools.Servers), cfg.Tools.TimeoutMinutes)
			for _, srv := range cfg.Tools.Servers {
				target := srv.Command
				if target == "" {
					target = srv.URL
				}
				fmt.Printf("  - %s: %s\n", srv.Name, target)
			}
			fmt.Printf("UI:       enabled=%t bind=%s\n", cfg.UI.Enabled, cfg.UI.Bind)
			fmt.Printf("Store:    %s\n", paths.DatabasePath(cfg))

			if issues := config.Validate(&cfg); len(issues) > 0 {
				fmt.Println("\nIssues:")
				for _, issue := range issues {
					fmt.Printf("  %s\n", issue.String())
				}
			}
			return nil
		},
	}
}
