package rspc

import (
	"context"
	"crypto/rand"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ContextFunc builds the procedure context handed to every procedure invoked
// on a connection. Return an error to reject the connection.
type ContextFunc func(ctx context.Context, conn *Conn) (any, error)

// ConnectHook is called when a new connection is established.
// Return an error to reject the connection.
type ConnectHook func(ctx context.Context, conn *Conn) error

// DisconnectHook is called when a connection is closed.
type DisconnectHook func(ctx context.Context, conn *Conn)

// ServerOptions configures the server behavior.
type ServerOptions struct {
	// Logger receives connection and dispatch logs. Default: no-op.
	Logger *zap.Logger
	// Context builds the per-connection procedure context. Default: struct{}{}.
	Context ContextFunc
	// SendBuffer is the number of outgoing messages queued per connection
	// before producers block. Default: 64
	SendBuffer int
	// CheckOrigin validates the Origin header of upgrade requests.
	// Default: allow all origins.
	CheckOrigin func(r *http.Request) bool
	// Interceptors observe every request, in order.
	Interceptors []RequestInterceptor
}

func defaultServerOptions() ServerOptions {
	return ServerOptions{
		Logger: zap.NewNop(),
		Context: func(context.Context, *Conn) (any, error) {
			return struct{}{}, nil
		},
		SendBuffer: 64,
		CheckOrigin: func(r *http.Request) bool {
			return true // Allow all origins by default
		},
	}
}

// Server exposes a Router over WebSocket connections.
type Server struct {
	router          *Router
	upgrader        websocket.Upgrader
	conns           map[*Conn]struct{}
	mu              sync.RWMutex
	options         ServerOptions
	log             *zap.Logger
	connectHooks    []ConnectHook
	disconnectHooks []DisconnectHook
	entropyMu       sync.Mutex
	entropy         *ulid.MonotonicEntropy
}

// NewServer creates a new WebSocket server for the given router.
// An optional ServerOptions can be passed to configure server behavior.
func NewServer(router *Router, opts ...ServerOptions) *Server {
	options := defaultServerOptions()
	if len(opts) > 0 {
		// Merge provided options with defaults
		opt := opts[0]
		if opt.Logger != nil {
			options.Logger = opt.Logger
		}
		if opt.Context != nil {
			options.Context = opt.Context
		}
		if opt.SendBuffer > 0 {
			options.SendBuffer = opt.SendBuffer
		}
		if opt.CheckOrigin != nil {
			options.CheckOrigin = opt.CheckOrigin
		}
		options.Interceptors = opt.Interceptors
	}

	return &Server{
		router: router,
		upgrader: websocket.Upgrader{
			CheckOrigin: options.CheckOrigin,
		},
		conns:   make(map[*Conn]struct{}),
		options: options,
		log:     options.Logger.Named("rspc"),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// OnConnect registers a hook to be called when a new connection is established.
// Hooks are called in the order they are registered.
// If a hook returns an error, the connection is rejected and subsequent hooks are not called.
func (s *Server) OnConnect(hook ConnectHook) {
	s.connectHooks = append(s.connectHooks, hook)
}

// OnDisconnect registers a hook to be called when a connection is closed.
// Hooks are called in the order they are registered.
func (s *Server) OnDisconnect(hook DisconnectHook) {
	s.disconnectHooks = append(s.disconnectHooks, hook)
}

// runConnectHooks executes all connect hooks in order.
// Returns the first error encountered, or nil if all hooks succeed.
func (s *Server) runConnectHooks(ctx context.Context, conn *Conn) error {
	for _, hook := range s.connectHooks {
		if err := hook(ctx, conn); err != nil {
			return err
		}
	}
	return nil
}

// runDisconnectHooks executes all disconnect hooks in order.
func (s *Server) runDisconnectHooks(conn *Conn) {
	for _, hook := range s.disconnectHooks {
		hook(conn.ctx, conn)
	}
}

func (s *Server) beforeRequest(ctx context.Context, meta ProcedureMeta) context.Context {
	for _, ic := range s.options.Interceptors {
		ctx = ic.BeforeRequest(ctx, meta)
	}
	return ctx
}

func (s *Server) afterRequest(ctx context.Context, meta ProcedureMeta, err error) {
	for i := len(s.options.Interceptors) - 1; i >= 0; i-- {
		s.options.Interceptors[i].AfterRequest(ctx, meta, err)
	}
}

func (s *Server) newConnID() string {
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// ServeHTTP implements http.Handler for WebSocket upgrades.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("upgrade failed", zap.Error(err))
		return
	}

	t := newWSTransport(ws, s.options.SendBuffer)
	conn := newConn(t, s, s.newConnID(), r)

	// Run connect hooks before starting message processing
	if err := s.runConnectHooks(conn.ctx, conn); err != nil {
		s.reject(ws, conn, err)
		return
	}
	procCtx, err := s.options.Context(conn.ctx, conn)
	if err != nil {
		s.reject(ws, conn, err)
		return
	}
	conn.procCtx = procCtx

	s.register(conn)
	conn.log.Debug("connected", zap.String("remote_addr", r.RemoteAddr))

	go t.writePump()
	t.readPump(conn)
}

func (s *Server) reject(ws *websocket.Conn, conn *Conn, err error) {
	conn.log.Info("connection rejected", zap.Error(err))
	_ = ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
		time.Now().Add(time.Second),
	)
	conn.cancel()
	ws.Close()
}

func (s *Server) register(conn *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) unregister(conn *Conn) {
	s.mu.Lock()
	_, existed := s.conns[conn]
	delete(s.conns, conn)
	s.mu.Unlock()

	if existed {
		s.runDisconnectHooks(conn)
		conn.close()
		conn.log.Debug("disconnected")
	}
}

// ConnectionCount returns the number of active connections.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Router returns the server's router.
func (s *Server) Router() *Router {
	return s.router
}

// Shutdown sends a close frame to every connection and waits until they are
// all torn down or ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	conns := make([]*Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.RUnlock()

	var err error
	for _, conn := range conns {
		if cerr := conn.transport.CloseGracefully(); cerr != nil &&
			!errors.Is(cerr, websocket.ErrCloseSent) && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for s.ConnectionCount() > 0 {
		select {
		case <-ctx.Done():
			return multierr.Append(err, ctx.Err())
		case <-ticker.C:
		}
	}
	return err
}
