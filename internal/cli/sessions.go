package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/banterhq/banter/internal/transcript"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage stored conversations",
	}

	cmd.AddCommand(newSessionsListCmd())
	cmd.AddCommand(newSessionsShowCmd())
	cmd.AddCommand(newSessionsSearchCmd())
	cmd.AddCommand(newSessionsRenameCmd())
	cmd.AddCommand(newSessionsDeleteCmd())
	return cmd
}

func withStore(fn func(ctx context.Context, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.close()
		return fn(ctx, a)
	}
}

func newSessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, a *app) error {
				sessions, err := a.sessions.List(ctx)
				if err != nil {
					return err
				}
				printSessionTable(sessions)
				return nil
			})(cmd, args)
		},
	}
}

func newSessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a session's transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, a *app) error {
				sess, err := a.sessions.Get(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("%s  (%s)\n\n", sess.Title, sess.ID)
				for _, msg := range sess.Messages {
					printMessage(msg)
				}
				return nil
			})(cmd, args)
		},
	}
}

func newSessionsSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Find sessions by message text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, a *app) error {
				hits, err := a.sessions.Search(ctx, args[0])
				if err != nil {
					return err
				}
				printSessionTable(hits)
				return nil
			})(cmd, args)
		},
	}
}

func newSessionsRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Rename a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, a *app) error {
				return a.sessions.Rename(ctx, args[0], args[1])
			})(cmd, args)
		},
	}
}

func newSessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a session and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, a *app) error {
				if err := a.sessions.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Deleted %s\n", args[0])
				return nil
			})(cmd, args)
		},
	}
}

func printSessionTable(sessions []transcript.Session) {
	if len(sessions) == 0 {
		fmt.Println("no sessions")
		return
	}
	for _, sess := range sessions {
		updated := time.UnixMilli(sess.UpdatedAt).Format("2006-01-02 15:04")
		fmt.Printf("%s  %s  %s\n", sess.ID, updated, sess.Title)
	}
}

func printMessage(msg transcript.Message) {
	ts := time.UnixMilli(msg.Timestamp).Format("15:04:05")
	fmt.Printf("[%s] %s:\n", ts, msg.Role)
	for _, blk := range msg.Content {
		switch b := blk.(type) {
		case transcript.TextBlock:
			fmt.Printf("  %s\n", b.Text)
		case transcript.ToolUseBlock:
			fmt.Printf("  -> %s(%v)\n", b.Name, b.Input)
		case transcript.ToolResultBlock:
			for _, inner := range b.Content {
				switch ib := inner.(type) {
				case transcript.TextBlock:
					fmt.Printf("  <- %s\n", ib.Text)
				case transcript.ResourceBlock:
					fmt.Printf("  <- [resource %s]\n", ib.Resource.URI)
				}
			}
		case transcript.ResourceBlock:
			fmt.Printf("  [resource %s]\n", b.Resource.URI)
		}
	}
	fmt.Println()
}
