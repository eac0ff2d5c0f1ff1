package uihost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/banterhq/banter/internal/logging"
	"github.com/banterhq/banter/internal/transcript"
)

// Frame types for the page-to-host WebSocket channel.
const (
	frameTypeRequest  = "req"
	frameTypeResponse = "res"
	frameTypeEvent    = "event"
)

// methodAction is the only RPC an embedded page may call.
const methodAction = "ui.action"

// frame is the envelope for all channel messages.
type frame struct {
	Type string `json:"type"`

	// Request fields
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	// Response fields
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// Event fields
	Event string `json:"event,omitempty"`
}

// Host serves embedded resources over loopback HTTP and runs the action
// channel each rendered page connects back on.
type Host struct {
	embedder *Embedder
	log      *logging.Logger

	mu        sync.RWMutex
	resources map[string]transcript.UIResource

	httpServer *http.Server
	listener   net.Listener
	upgrader   websocket.Upgrader
}

// NewHost creates a host around an embedder. Call Start to begin serving.
func NewHost(embedder *Embedder, log *logging.Logger) *Host {
	if log == nil {
		log = logging.Nop()
	}
	return &Host{
		embedder:  embedder,
		log:       log.Sub("uihost"),
		resources: make(map[string]transcript.UIResource),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Pages are served from this host itself; reject cross-origin
			// browser connections.
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origin == "http://"+r.Host
			},
		},
	}
}

// Embed registers an embeddable resource and returns the local URL a
// browser can open to render it. Ordinary (non ui://) resources are
// rejected; callers downgrade those to text instead. The host must be
// listening, otherwise the URL would have no authority.
func (h *Host) Embed(res transcript.UIResource) (string, error) {
	if !res.Embeddable() {
		return "", fmt.Errorf("resource %q is not embeddable", res.URI)
	}
	addr := h.Addr()
	if addr == "" {
		return "", errors.New("ui host is not listening")
	}
	id := uuid.New().String()
	h.mu.Lock()
	h.resources[id] = res
	h.mu.Unlock()
	return fmt.Sprintf("http://%s/embed/%s", addr, id), nil
}

// Listen binds the host's listener on addr (e.g. "127.0.0.1:0"). It returns
// once the port is bound, so Addr and Embed are usable before Serve runs.
func (h *Host) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	h.mu.Lock()
	h.listener = ln
	h.mu.Unlock()
	h.log.Info().Str("addr", ln.Addr().String()).Msg("ui host listening")
	return nil
}

// Serve runs the HTTP server on the bound listener and blocks until the
// context is cancelled. Listen must have succeeded first.
func (h *Host) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /embed/{id}", h.handleEmbed)
	mux.HandleFunc("/ws", h.handleWebSocket)

	h.mu.Lock()
	ln := h.listener
	if ln == nil {
		h.mu.Unlock()
		return errors.New("serve called before listen")
	}
	h.httpServer = &http.Server{
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	srv := h.httpServer
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Start binds and serves in one call, blocking until the context is
// cancelled.
func (h *Host) Start(ctx context.Context, addr string) error {
	if err := h.Listen(addr); err != nil {
		return err
	}
	return h.Serve(ctx)
}

// Close releases the listener when Serve was never started.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.httpServer != nil || h.listener == nil {
		return nil
	}
	return h.listener.Close()
}

// Addr returns the bound address, or empty before Listen.
func (h *Host) Addr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

// handleEmbed renders a registered resource inside the sandbox page.
func (h *Host) handleEmbed(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	h.mu.RLock()
	res, ok := h.resources[id]
	h.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	body := ""
	if res.Text != nil {
		body = *res.Text
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	// The fragment runs inside a sandboxed iframe; its only way to reach
	// the host is postMessage, which the shell forwards over /ws. The body
	// is escaped into srcdoc so the shell page itself stays inert.
	fmt.Fprintf(w, embedShell, html.EscapeString(res.URI), html.EscapeString(body))
}

// handleWebSocket runs the action channel for one rendered page.
func (h *Host) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(1 << 20)
	defer conn.Close()

	var writeMu sync.Mutex
	send := func(f frame) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(f)
	}

	ctx := r.Context()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug().Err(err).Msg("action channel closed")
			}
			return
		}

		var f frame
		if err := json.Unmarshal(msg, &f); err != nil {
			h.log.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		if f.Type != frameTypeRequest {
			continue
		}

		var result ActionResult
		if f.Method != methodAction {
			result = ActionResult{Status: StatusError, Error: "unknown method: " + f.Method}
		} else if action, err := DecodeAction(f.Params); err != nil {
			result = ActionResult{Status: StatusError, Error: err.Error()}
		} else {
			result = h.embedder.Dispatch(ctx, action)
		}

		payload, err := json.Marshal(result)
		if err != nil {
			h.log.Error().Err(err).Msg("encoding action result")
			continue
		}
		ok := result.Status != StatusError
		if err := send(frame{Type: frameTypeResponse, ID: f.ID, OK: &ok, Payload: payload}); err != nil {
			return
		}
	}
}

// embedShell wraps the resource HTML in a sandboxed iframe and bridges its
// postMessage actions onto the /ws channel.
const embedShell = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>%s</title></head>
<body style="margin:0">
<iframe id="fragment" sandbox="allow-scripts" style="border:0;width:100vw;height:100vh" srcdoc="%s"></iframe>
<script>
(function () {
  var ws = new WebSocket("ws://" + location.host + "/ws");
  var pending = {};
  var seq = 0;
  ws.onmessage = function (e) {
    var f = JSON.parse(e.data);
    if (f.type === "res" && pending[f.id]) {
      pending[f.id](f.payload);
      delete pending[f.id];
    }
  };
  window.addEventListener("message", function (e) {
    var id = "a" + (++seq);
    pending[id] = function (result) {
      e.source.postMessage({ id: e.data.id, result: result }, "*");
    };
    ws.send(JSON.stringify({ type: "req", id: id, method: "ui.action", params: e.data.action }));
  });
})();
</script>
</body>
</html>
`
