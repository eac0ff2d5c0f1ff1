package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/banterhq/banter/internal/chat"
	"github.com/banterhq/banter/internal/config"
	"github.com/banterhq/banter/internal/provider"
	"github.com/banterhq/banter/internal/store"
	"github.com/banterhq/banter/internal/tools"
	"github.com/banterhq/banter/internal/uihost"
)

// app bundles the wired services a command needs. Built per invocation and
// torn down by close.
type app struct {
	cfg      config.Config
	sessions *store.SessionStore
	engine   *chat.Engine
	tools    *tools.Dispatcher
	host     *uihost.Host

	db      *store.DB
	servers []*tools.ServerConn
}

// buildApp loads config, opens the database, connects tool servers, and
// wires the turn engine. withTools skips tool server connections when false.
func buildApp(ctx context.Context, withTools bool) (*app, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return nil, err
	}
	if issues := config.Validate(&cfg); len(issues) > 0 {
		lines := make([]string, len(issues))
		for i, issue := range issues {
			lines[i] = "  " + issue.String()
		}
		return nil, fmt.Errorf("invalid config:\n%s", strings.Join(lines, "\n"))
	}
	if err := paths.EnsureDirs(); err != nil {
		return nil, err
	}

	db, err := store.Open(paths.DatabasePath(cfg), log)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		db:       db,
		sessions: store.NewSessionStore(db),
	}

	extends := make(map[string]bool, len(cfg.Tools.ProgressExtends))
	for _, name := range cfg.Tools.ProgressExtends {
		extends[name] = true
	}
	a.tools = tools.NewDispatcher(tools.Options{
		Timeout:         time.Duration(cfg.Tools.TimeoutMinutes) * time.Minute,
		ProgressExtends: extends,
	}, log)

	if withTools {
		for _, entry := range cfg.Tools.Servers {
			env := make([]string, 0, len(entry.Env))
			for k, v := range entry.Env {
				env = append(env, k+"="+v)
			}
			conn, err := tools.Connect(ctx, tools.ServerSpec{
				Name:    entry.Name,
				Command: entry.Command,
				Args:    entry.Args,
				Env:     env,
				URL:     entry.URL,
			}, log)
			if err != nil {
				a.close()
				return nil, fmt.Errorf("connecting tool server %q: %w", entry.Name, err)
			}
			a.servers = append(a.servers, conn)

			defs, err := conn.Tools(ctx)
			if err != nil {
				a.close()
				return nil, fmt.Errorf("listing tools from %q: %w", entry.Name, err)
			}
			a.tools.Register(conn, defs)
		}
	}

	client := provider.NewHTTPClient(cfg.Provider.Endpoint, cfg.Provider.APIKey, cfg.Provider.Model, log)
	a.engine = chat.NewEngine(client, a.tools, a.sessions, chat.Options{
		SystemPrompt:  cfg.Chat.SystemPrompt,
		MaxTokens:     cfg.Chat.MaxTokens,
		Temperature:   cfg.Chat.Temperature,
		MaxToolRounds: cfg.Chat.MaxToolRounds,
		FallbackField: cfg.Chat.FallbackField,
	}, log)

	return a, nil
}

// startUIHost launches the embedded resource host when enabled, wiring the
// tool action back into the dispatcher. The listener is bound before this
// returns, so Embed works immediately. Returns a no-op cancel when the UI
// is disabled.
func (a *app) startUIHost(ctx context.Context) (context.CancelFunc, error) {
	if !a.cfg.UI.Enabled {
		return func() {}, nil
	}

	emb := uihost.NewEmbedder(log)
	emb.HandleTool(a.tools)
	emb.Handle(uihost.ActionNotify, func(ctx context.Context, action uihost.UIAction) (uihost.ActionResult, error) {
		msg, _ := action.Payload["message"].(string)
		fmt.Fprintf(os.Stderr, "\n[notice] %s\n", msg)
		return uihost.ActionResult{Status: uihost.StatusHandled}, nil
	})
	emb.Handle(uihost.ActionLink, func(ctx context.Context, action uihost.UIAction) (uihost.ActionResult, error) {
		url, _ := action.Payload["url"].(string)
		if url == "" {
			return uihost.ActionResult{}, fmt.Errorf("link action missing url")
		}
		fmt.Fprintf(os.Stderr, "\n[open] %s\n", url)
		return uihost.ActionResult{Status: uihost.StatusHandled}, nil
	})
	emb.Handle(uihost.ActionPrompt, promptOnTTY)
	a.host = uihost.NewHost(emb, log)

	if err := a.host.Listen(a.cfg.UI.Bind); err != nil {
		a.host = nil
		return nil, err
	}

	hostCtx, cancel := context.WithCancel(ctx)
	go func() {
		if err := a.host.Serve(hostCtx); err != nil {
			log.Warn().Err(err).Msg("ui host stopped")
		}
	}()
	return cancel, nil
}

// promptOnTTY solicits one line of input from the controlling terminal.
// Reading the tty directly avoids fighting the REPL over stdin.
func promptOnTTY(ctx context.Context, action uihost.UIAction) (uihost.ActionResult, error) {
	message, _ := action.Payload["message"].(string)
	if message == "" {
		message = "input requested"
	}

	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return uihost.ActionResult{}, fmt.Errorf("no terminal available: %w", err)
	}
	defer tty.Close()

	fmt.Fprintf(tty, "\n[prompt] %s: ", message)
	reader := bufio.NewReader(tty)
	line, err := reader.ReadString('\n')
	if err != nil {
		return uihost.ActionResult{}, fmt.Errorf("reading input: %w", err)
	}
	return uihost.ActionResult{
		Status: uihost.StatusHandled,
		Result: strings.TrimSuffix(line, "\n"),
	}, nil
}

func (a *app) close() {
	for _, conn := range a.servers {
		conn.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
