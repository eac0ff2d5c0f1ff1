package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect configured tool servers",
	}

	cmd.AddCommand(newToolsListCmd())
	return cmd
}

func newToolsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Connect to configured tool servers and list their tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()

			defs := a.tools.Definitions()
			if len(defs) == 0 {
				fmt.Println("no tools advertised")
				return nil
			}
			for _, def := range defs {
				fmt.Printf("%-24s %s\n", def.Name, def.Description)
			}
			return nil
		},
	}
}
