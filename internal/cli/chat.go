package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/banterhq/banter/internal/chat"
	"github.com/banterhq/banter/internal/transcript"
)

func newChatCmd() *cobra.Command {
	var (
		sessionID string
		noTools   bool
	)

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with the assistant",
		Long:  "With a message argument, sends it and prints the reply. Without arguments, starts an interactive session.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, !noTools)
			if err != nil {
				return err
			}
			defer a.close()

			stopUI, err := a.startUIHost(ctx)
			if err != nil {
				return err
			}
			defer stopUI()

			session, err := resumeOrCreate(ctx, a, sessionID, args)
			if err != nil {
				return err
			}

			if len(args) > 0 {
				return sendOnce(ctx, a, &session, strings.Join(args, " "))
			}
			return runREPL(ctx, a, &session)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "resume an existing session by id")
	cmd.Flags().BoolVar(&noTools, "no-tools", false, "skip tool server connections")
	return cmd
}

func resumeOrCreate(ctx context.Context, a *app, sessionID string, args []string) (transcript.Session, error) {
	if sessionID != "" {
		return a.sessions.Get(ctx, sessionID)
	}

	title := "interactive"
	if len(args) > 0 {
		title = sessionTitle(strings.Join(args, " "))
	}
	session := transcript.NewSession(title)
	if err := a.sessions.Create(ctx, session); err != nil {
		return transcript.Session{}, err
	}
	return session, nil
}

func sendOnce(ctx context.Context, a *app, session *transcript.Session, text string) error {
	before := len(session.Messages)
	err := a.engine.Send(ctx, session, text, printEvents())
	fmt.Println()
	if err != nil {
		return err
	}
	printResources(a, session, before)
	return nil
}

func runREPL(ctx context.Context, a *app, session *transcript.Session) error {
	fmt.Printf("session %s (/quit to exit)\n", session.ID)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit", line == "/exit":
			return nil
		case line == "/id":
			fmt.Println(session.ID)
			continue
		}

		if err := sendOnce(ctx, a, session, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

// printEvents streams deltas to stdout and tool activity to stderr.
func printEvents() chat.Callback {
	return func(evt chat.StreamEvent) {
		switch evt.Type {
		case "delta":
			fmt.Print(evt.Content)
		case "tool_start":
			fmt.Fprintf(os.Stderr, "\n[running %s]\n", evt.Tool)
		case "tool_error":
			fmt.Fprintf(os.Stderr, "[%s failed: %s]\n", evt.Tool, evt.Content)
		}
	}
}

// printResources embeds any interactive resources the turn produced and
// prints their local URLs.
func printResources(a *app, session *transcript.Session, fromIdx int) {
	if a.host == nil {
		return
	}
	for _, msg := range session.Messages[fromIdx:] {
		for _, blk := range msg.Content {
			result, ok := blk.(transcript.ToolResultBlock)
			if !ok {
				continue
			}
			for _, inner := range result.Content {
				rb, ok := inner.(transcript.ResourceBlock)
				if !ok {
					continue
				}
				url, err := a.host.Embed(rb.Resource)
				if err != nil {
					log.Warn().Err(err).Str("uri", rb.Resource.URI).Msg("embed failed")
					continue
				}
				fmt.Fprintf(os.Stderr, "[open %s]\n", url)
			}
		}
	}
}

// sessionTitle derives a short title from the first message.
func sessionTitle(text string) string {
	const max = 48
	text = strings.Join(strings.Fields(text), " ")
	if runes := []rune(text); len(runes) > max {
		text = string(runes[:max]) + "…"
	}
	return text
}
