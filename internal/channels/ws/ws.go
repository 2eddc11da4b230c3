// Package ws serves the realtime api channel: a WebSocket endpoint
// speaking pkg/protocol frames. Clients authenticate with an api key
// when auth is enabled (pass-through user_id otherwise), then exchange
// message/reply frames; the runtime pushes system events to whoever is
// connected. The chat id on this channel is the user id itself.
package ws

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/omrylcn/gbot/internal/bus"
	"github.com/omrylcn/gbot/internal/channels"
	"github.com/omrylcn/gbot/internal/config"
	"github.com/omrylcn/gbot/internal/errdefs"
	"github.com/omrylcn/gbot/internal/store"
	"github.com/omrylcn/gbot/pkg/protocol"
)

const (
	authTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second
	readLimit    = 1 << 20
)

// Channel is the WebSocket server adapter. It also carries the realtime
// push hook for the event queue: PushEvent satisfies events.PushFunc.
type Channel struct {
	*channels.BaseChannel

	cfg     *config.Config
	keys    store.KeyStore
	limiter *channels.UserRateLimiter

	httpServer *http.Server

	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
}

// client is one live connection. Writes are serialized per connection.
type client struct {
	conn   *websocket.Conn
	userID string
	mu     sync.Mutex
}

func (c *client) write(ctx context.Context, frame protocol.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, c.conn, frame)
}

// New creates the ws channel. The rate limit from the auth config
// applies per authenticated user.
func New(cfg *config.Config, msgBus *bus.MessageBus, keys store.KeyStore) *Channel {
	ch := &Channel{
		BaseChannel: channels.NewBaseChannel("ws", msgBus, nil),
		cfg:         cfg,
		keys:        keys,
		clients:     make(map[string]map[*client]struct{}),
	}
	if rl := cfg.Auth.RateLimit; rl.Enabled {
		ch.limiter = channels.NewUserRateLimiter(rl.RequestsPerMinute, rl.Burst)
	}
	return ch
}

// Start binds the listener and begins serving /ws and /health.
func (c *Channel) Start(_ context.Context) error {
	wsCfg := c.cfg.Channels.WS
	addr := fmt.Sprintf("%s:%d", wsCfg.Host, wsCfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("ws listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", c.handleWS)
	mux.HandleFunc("/health", c.handleHealth)
	c.httpServer = &http.Server{Handler: mux}

	c.SetRunning(true)
	slog.Info("ws channel listening", "addr", ln.Addr().String(), "auth", c.cfg.AuthEnabled())

	go func() {
		if err := c.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("ws server stopped", "error", err)
		}
	}()
	return nil
}

// Stop closes every live connection and shuts the server down.
// WebSocket connections are hijacked from the http server, so Shutdown
// alone would leave their read loops running.
func (c *Channel) Stop(ctx context.Context) error {
	c.SetRunning(false)

	c.mu.Lock()
	for _, conns := range c.clients {
		for cl := range conns {
			cl.conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
	}
	c.clients = make(map[string]map[*client]struct{})
	c.mu.Unlock()

	if c.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.httpServer.Shutdown(shutdownCtx)
}

// Send delivers a reply frame to the user's live connections. ChatID on
// this channel is the user id.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	return c.deliver(ctx, msg.ChatID, protocol.NewReply(msg.Content, msg.Metadata["session_id"]))
}

// PushEvent delivers a system event to the user's live connections. It
// satisfies events.PushFunc: an error means nobody saw the event and it
// stays queued for the context builder.
func (c *Channel) PushEvent(ctx context.Context, userID string, event store.SystemEvent) error {
	return c.deliver(ctx, userID, protocol.NewEvent(event.Kind, event.Payload))
}

func (c *Channel) deliver(ctx context.Context, userID string, frame protocol.Frame) error {
	c.mu.RLock()
	conns := make([]*client, 0, len(c.clients[userID]))
	for cl := range c.clients[userID] {
		conns = append(conns, cl)
	}
	c.mu.RUnlock()

	if len(conns) == 0 {
		return fmt.Errorf("no live ws connection for user %s", userID)
	}

	var lastErr error
	delivered := false
	for _, cl := range conns {
		if err := cl.write(ctx, frame); err != nil {
			lastErr = err
			continue
		}
		delivered = true
	}
	if !delivered {
		return fmt.Errorf("ws deliver to %s: %w", userID, lastErr)
	}
	return nil
}

func (c *Channel) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","protocol":%d}`, protocol.Version)
}

// handleWS accepts a connection, authenticates the first frame, then
// serves message frames until the client goes away.
func (c *Channel) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		slog.Error("ws accept failed", "error", err)
		return
	}
	conn.SetReadLimit(readLimit)
	defer conn.Close(websocket.StatusInternalError, "")

	ctx := r.Context()
	userID, err := c.authenticate(ctx, conn)
	if err != nil {
		slog.Warn("ws auth rejected", "remote", r.RemoteAddr, "error", err)
		code := string(errdefs.KindOf(err))
		if code == "" {
			code = string(errdefs.AuthError)
		}
		wsjson.Write(ctx, conn, protocol.NewError(code, err.Error()))
		conn.Close(websocket.StatusPolicyViolation, "auth failed")
		return
	}

	cl := &client{conn: conn, userID: userID}
	c.addClient(cl)
	defer c.removeClient(cl)

	if err := cl.write(ctx, protocol.NewReady(userID)); err != nil {
		return
	}

	slog.Info("ws client connected", "user", userID)
	defer slog.Info("ws client disconnected", "user", userID)

	c.readLoop(ctx, cl)
}

// authenticate reads the opening auth frame. With auth enabled the api
// key is hashed and looked up; otherwise the claimed user_id passes
// through.
func (c *Channel) authenticate(ctx context.Context, conn *websocket.Conn) (string, error) {
	authCtx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	var frame protocol.Frame
	if err := wsjson.Read(authCtx, conn, &frame); err != nil {
		return "", errdefs.E(errdefs.AuthError, "ws.auth", err)
	}
	if frame.Type != protocol.TypeAuth {
		return "", errdefs.Errorf(errdefs.AuthError, "ws.auth", "expected %s frame, got %q", protocol.TypeAuth, frame.Type)
	}

	if !c.cfg.AuthEnabled() {
		if frame.UserID == "" {
			return "", errdefs.Errorf(errdefs.AuthError, "ws.auth", "user_id required while auth is disabled")
		}
		return frame.UserID, nil
	}

	if frame.APIKey == "" {
		return "", errdefs.Errorf(errdefs.AuthError, "ws.auth", "api_key required")
	}
	sum := sha256.Sum256([]byte(frame.APIKey))
	key, err := c.keys.KeyByHash(ctx, hex.EncodeToString(sum[:]))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", errdefs.Errorf(errdefs.AuthError, "ws.auth", "unknown or revoked api key")
		}
		return "", errdefs.E(errdefs.StoreError, "ws.auth", err)
	}
	if err := c.keys.TouchKey(ctx, key.KeyID); err != nil {
		slog.Warn("api key last-used not updated", "key", key.KeyID, "error", err)
	}
	return key.UserID, nil
}

func (c *Channel) readLoop(ctx context.Context, cl *client) {
	for {
		var frame protocol.Frame
		if err := wsjson.Read(ctx, cl.conn, &frame); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				slog.Debug("ws read ended", "user", cl.userID, "error", err)
			}
			return
		}

		switch frame.Type {
		case protocol.TypeMessage:
			c.handleMessageFrame(ctx, cl, frame)
		default:
			slog.Debug("ws frame ignored", "user", cl.userID, "type", frame.Type)
		}
	}
}

func (c *Channel) handleMessageFrame(ctx context.Context, cl *client, frame protocol.Frame) {
	if c.limiter.Enabled() && !c.limiter.Allow(cl.userID) {
		cl.write(ctx, protocol.NewError(string(errdefs.RateLimited), "rate limit exceeded, slow down"))
		return
	}

	text := strings.TrimSpace(frame.Text)
	if text == "" {
		return
	}

	var metadata map[string]string
	if frame.SessionID != "" {
		metadata = map[string]string{"session_id": frame.SessionID}
	}
	c.HandleMessage(cl.userID, cl.userID, text, metadata, bus.PeerDirect)
}

func (c *Channel) addClient(cl *client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := c.clients[cl.userID]
	if set == nil {
		set = make(map[*client]struct{})
		c.clients[cl.userID] = set
	}
	set[cl] = struct{}{}
}

func (c *Channel) removeClient(cl *client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := c.clients[cl.userID]
	delete(set, cl)
	if len(set) == 0 {
		delete(c.clients, cl.userID)
	}
}
