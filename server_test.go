package rspc

import (
	"context"
	"errors"
	"iter"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Integration test types
type sessionCtx struct {
	User string
}

type tickInput struct {
	IntervalMs int `json:"intervalMs"`
}

type wireResponse struct {
	ID     RequestID `json:"id"`
	Result struct {
		Type ResultType     `json:"type"`
		Data jsontext.Value `json:"data"`
	} `json:"result"`
}

func (r wireResponse) errorData(t *testing.T) ErrorData {
	t.Helper()
	require.Equal(t, ResultError, r.Result.Type, "expected an error, got %s", r.Result.Data)
	var e ErrorData
	require.NoError(t, json.Unmarshal(r.Result.Data, &e))
	return e
}

func integrationRouter(t *testing.T) *Router {
	t.Helper()
	b := NewBuilder[sessionCtx]()

	echo, err := Query(b, func(_ context.Context, _ sessionCtx, in string) (string, error) {
		return in, nil
	})
	require.NoError(t, err)

	boom, err := Query(b, func(context.Context, sessionCtx, struct{}) (string, error) {
		return "", errors.New("something went wrong")
	})
	require.NoError(t, err)

	whoami, err := Query(b, func(_ context.Context, c sessionCtx, _ struct{}) (string, error) {
		return c.User, nil
	})
	require.NoError(t, err)

	var total atomic.Int64
	add, err := Mutation(b, func(_ context.Context, _ sessionCtx, n int64) (int64, error) {
		return total.Add(n), nil
	})
	require.NoError(t, err)

	count, err := Subscription(b, func(_ context.Context, _ sessionCtx, n int) (iter.Seq2[int, error], error) {
		if n < 0 {
			return nil, NewError(CodeInvalidParams, "count must not be negative")
		}
		return func(yield func(int, error) bool) {
			for i := range n {
				if !yield(i, nil) {
					return
				}
			}
		}, nil
	})
	require.NoError(t, err)

	ticker, err := Subscription(b, func(ctx context.Context, _ sessionCtx, in tickInput) (iter.Seq2[int, error], error) {
		interval := time.Duration(in.IntervalMs) * time.Millisecond
		return Emit(ctx, func(ctx context.Context, emit func(int) error) error {
			tk := time.NewTicker(interval)
			defer tk.Stop()
			for i := 0; ; i++ {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-tk.C:
					if err := emit(i); err != nil {
						return err
					}
				}
			}
		}), nil
	})
	require.NoError(t, err)

	r, err := NewRouter().
		Procedure("echo", echo).
		Procedure("boom", boom).
		Procedure("whoami", whoami).
		Procedure("add", add).
		Procedure("count", count).
		Procedure("ticker", ticker).
		Build()
	require.NoError(t, err)
	return r
}

func sessionContext(_ context.Context, conn *Conn) (any, error) {
	return sessionCtx{User: conn.Request().URL.Query().Get("user")}, nil
}

func setupTestServer(t *testing.T, opts ...ServerOptions) (*httptest.Server, *Server) {
	t.Helper()
	opt := ServerOptions{Context: sessionContext}
	if len(opts) > 0 {
		opt = opts[0]
		if opt.Context == nil {
			opt.Context = sessionContext
		}
	}
	server := NewServer(integrationRouter(t), opt)
	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)
	return ts, server
}

func wsURL(ts *httptest.Server, query string) string {
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	if query != "" {
		url += "?" + query
	}
	return url
}

func connectWS(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(wsURL(ts, query), nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

// liveSubscriptions counts the subscriptions of every open connection.
func liveSubscriptions(s *Server) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for c := range s.conns {
		n += c.Subscriptions().Len()
	}
	return n
}

func send(t *testing.T, ws *websocket.Conn, raw string) {
	t.Helper()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func receive(t *testing.T, ws *websocket.Conn) wireResponse {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var resp wireResponse
	require.NoError(t, json.Unmarshal(data, &resp), string(data))
	return resp
}

// receiveUntil skips messages until one of the given type arrives.
func receiveUntil(t *testing.T, ws *websocket.Conn, typ ResultType) wireResponse {
	t.Helper()
	for {
		if resp := receive(t, ws); resp.Result.Type == typ {
			return resp
		}
	}
}

func TestServerEcho(t *testing.T) {
	ts, _ := setupTestServer(t)
	ws := connectWS(t, ts, "")

	send(t, ws, `{"id":1,"method":"query","params":{"path":"echo","input":"hello"}}`)
	resp := receive(t, ws)

	assert.Equal(t, NumberRequestID(1), resp.ID)
	assert.Equal(t, ResultResponse, resp.Result.Type)
	assert.JSONEq(t, `"hello"`, string(resp.Result.Data))
}

func TestServerMutation(t *testing.T) {
	ts, _ := setupTestServer(t)
	ws := connectWS(t, ts, "")

	send(t, ws, `{"id":"a","method":"mutation","params":{"path":"add","input":2}}`)
	resp := receive(t, ws)
	assert.Equal(t, StringRequestID("a"), resp.ID)
	assert.JSONEq(t, `2`, string(resp.Result.Data))

	send(t, ws, `{"id":"b","method":"mutation","params":{"path":"add","input":3}}`)
	assert.JSONEq(t, `5`, string(receive(t, ws).Result.Data))
}

func TestServerResolverError(t *testing.T) {
	ts, _ := setupTestServer(t)
	ws := connectWS(t, ts, "")

	send(t, ws, `{"id":1,"method":"query","params":{"path":"boom"}}`)
	resp := receive(t, ws)
	assert.Equal(t, NumberRequestID(1), resp.ID)

	e := resp.errorData(t)
	assert.Equal(t, CodeResolver, e.Code)
	assert.Equal(t, "ResolverError", e.Kind)
	assert.Equal(t, "something went wrong", e.Message)

	// The connection keeps serving after an error.
	send(t, ws, `{"id":2,"method":"query","params":{"path":"echo","input":"still here"}}`)
	assert.JSONEq(t, `"still here"`, string(receive(t, ws).Result.Data))
}

func TestServerBadInput(t *testing.T) {
	ts, _ := setupTestServer(t)
	ws := connectWS(t, ts, "")

	send(t, ws, `{"id":1,"method":"query","params":{"path":"echo","input":42}}`)
	e := receive(t, ws).errorData(t)
	assert.Equal(t, CodeInvalidParams, e.Code)
}

func TestServerProtocolErrors(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		id   RequestID
		code int
	}{
		{"invalid json", `{not json`, NullRequestID(), CodeParseError},
		{"unknown path", `{"id":1,"method":"query","params":{"path":"nope"}}`, NumberRequestID(1), CodeMethodNotFound},
		{"kind mismatch", `{"id":2,"method":"mutation","params":{"path":"echo","input":"x"}}`, NumberRequestID(2), CodeInvalidRequest},
		{"query on subscription", `{"id":3,"method":"query","params":{"path":"count","input":1}}`, NumberRequestID(3), CodeInvalidRequest},
		{"unknown method", `{"id":4,"method":"batch","params":{"path":"echo"}}`, NumberRequestID(4), CodeInvalidRequest},
		{"unknown subscription", `{"id":5,"method":"subscriptionStop"}`, NumberRequestID(5), CodeUnknownSubscription},
	}

	ts, _ := setupTestServer(t)
	ws := connectWS(t, ts, "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send(t, ws, tt.msg)
			resp := receive(t, ws)
			assert.Equal(t, tt.id, resp.ID)
			assert.Equal(t, tt.code, resp.errorData(t).Code)
		})
	}
}

func TestServerSubscriptionEvents(t *testing.T) {
	ts, server := setupTestServer(t)
	ws := connectWS(t, ts, "")

	send(t, ws, `{"id":9,"method":"subscription","params":{"path":"count","input":3}}`)
	for i := range 3 {
		resp := receive(t, ws)
		assert.Equal(t, NumberRequestID(9), resp.ID)
		assert.Equal(t, ResultEvent, resp.Result.Type)
		assert.JSONEq(t, []string{"0", "1", "2"}[i], string(resp.Result.Data))
	}

	// A finished subscription sends nothing more; the next message is the
	// answer to a new request.
	send(t, ws, `{"id":10,"method":"query","params":{"path":"echo","input":"next"}}`)
	resp := receive(t, ws)
	assert.Equal(t, NumberRequestID(10), resp.ID)
	assert.Equal(t, ResultResponse, resp.Result.Type)

	require.Eventually(t, func() bool {
		return liveSubscriptions(server) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestServerSubscriptionSetupError(t *testing.T) {
	ts, server := setupTestServer(t)
	ws := connectWS(t, ts, "")

	send(t, ws, `{"id":1,"method":"subscription","params":{"path":"count","input":-1}}`)
	e := receive(t, ws).errorData(t)
	assert.Equal(t, CodeInvalidParams, e.Code)
	assert.Equal(t, "count must not be negative", e.Message)

	// The id is free again once the stream ended.
	require.Eventually(t, func() bool {
		return liveSubscriptions(server) == 0
	}, time.Second, 10*time.Millisecond)
	send(t, ws, `{"id":1,"method":"subscription","params":{"path":"count","input":1}}`)
	resp := receive(t, ws)
	assert.Equal(t, ResultEvent, resp.Result.Type)
	assert.JSONEq(t, `0`, string(resp.Result.Data))
}

func TestServerSubscriptionStop(t *testing.T) {
	ts, server := setupTestServer(t)
	ws := connectWS(t, ts, "")

	send(t, ws, `{"id":"tick","method":"subscription","params":{"path":"ticker","input":{"intervalMs":5}}}`)
	resp := receive(t, ws)
	assert.Equal(t, StringRequestID("tick"), resp.ID)
	assert.Equal(t, ResultEvent, resp.Result.Type)

	send(t, ws, `{"id":"tick","method":"subscriptionStop"}`)
	require.Eventually(t, func() bool {
		return liveSubscriptions(server) == 0
	}, time.Second, 10*time.Millisecond)

	// A second stop is unknown. Events already in flight may precede it.
	send(t, ws, `{"id":"tick","method":"subscriptionStop"}`)
	errResp := receiveUntil(t, ws, ResultError)
	assert.Equal(t, StringRequestID("tick"), errResp.ID)
	assert.Equal(t, CodeUnknownSubscription, errResp.errorData(t).Code)
}

func TestServerDuplicateSubscription(t *testing.T) {
	ts, _ := setupTestServer(t)
	ws := connectWS(t, ts, "")

	send(t, ws, `{"id":1,"method":"subscription","params":{"path":"ticker","input":{"intervalMs":60000}}}`)
	send(t, ws, `{"id":1,"method":"subscription","params":{"path":"ticker","input":{"intervalMs":5}}}`)

	resp := receive(t, ws)
	assert.Equal(t, NumberRequestID(1), resp.ID)
	assert.Equal(t, CodeDuplicateSubscription, resp.errorData(t).Code)

	// The first subscription is still live and can be stopped.
	send(t, ws, `{"id":1,"method":"subscriptionStop"}`)
	send(t, ws, `{"id":2,"method":"query","params":{"path":"echo","input":"done"}}`)
	resp = receive(t, ws)
	assert.Equal(t, NumberRequestID(2), resp.ID, "stopping a live subscription sends no reply")
}

func TestServerContextFunc(t *testing.T) {
	ts, _ := setupTestServer(t)
	ws := connectWS(t, ts, "user=ada")

	send(t, ws, `{"id":1,"method":"query","params":{"path":"whoami"}}`)
	assert.JSONEq(t, `"ada"`, string(receive(t, ws).Result.Data))
}

func TestServerContextFuncRejects(t *testing.T) {
	ts, server := setupTestServer(t, ServerOptions{
		Context: func(context.Context, *Conn) (any, error) {
			return nil, errors.New("no session")
		},
	})

	ws := connectWS(t, ts, "")
	_, _, err := ws.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), err)
	assert.Zero(t, server.ConnectionCount())
}

func TestOnConnectHookRejectsConnection(t *testing.T) {
	ts, server := setupTestServer(t)

	var called atomic.Int32
	server.OnConnect(func(ctx context.Context, conn *Conn) error {
		called.Add(1)
		assert.Same(t, conn, Connection(ctx))
		return errors.New("max connections reached")
	})
	server.OnConnect(func(context.Context, *Conn) error {
		t.Error("later hooks must not run after a rejection")
		return nil
	})

	ws := connectWS(t, ts, "")
	_, _, err := ws.ReadMessage()
	require.Error(t, err)

	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.ClosePolicyViolation, ce.Code)
	assert.Equal(t, "max connections reached", ce.Text)
	assert.Equal(t, int32(1), called.Load())
	assert.Zero(t, server.ConnectionCount())
}

func TestOnDisconnectHookCalled(t *testing.T) {
	ts, server := setupTestServer(t)

	disconnected := make(chan string, 1)
	server.OnDisconnect(func(_ context.Context, conn *Conn) {
		disconnected <- conn.ID()
	})

	var connID string
	server.OnConnect(func(_ context.Context, conn *Conn) error {
		connID = conn.ID()
		return nil
	})

	ws := connectWS(t, ts, "")
	send(t, ws, `{"id":1,"method":"subscription","params":{"path":"ticker","input":{"intervalMs":60000}}}`)
	require.Eventually(t, func() bool { return server.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)
	ws.Close()

	select {
	case id := <-disconnected:
		assert.Equal(t, connID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect hook was not called")
	}
	assert.Zero(t, server.ConnectionCount())
}

type recordingInterceptor struct {
	mu     sync.Mutex
	events []string
}

type interceptorKey struct{}

func (r *recordingInterceptor) BeforeRequest(ctx context.Context, meta ProcedureMeta) context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "before "+meta.Name)
	return context.WithValue(ctx, interceptorKey{}, meta.Name)
}

func (r *recordingInterceptor) AfterRequest(ctx context.Context, meta ProcedureMeta, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := "after " + meta.Name
	if err != nil {
		e += " " + CodeName(AsError(err).Code)
	}
	if ctx.Value(interceptorKey{}) != meta.Name {
		e += " lost context"
	}
	r.events = append(r.events, e)
}

func (r *recordingInterceptor) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestServerInterceptors(t *testing.T) {
	rec := &recordingInterceptor{}
	ts, _ := setupTestServer(t, ServerOptions{Interceptors: []RequestInterceptor{rec}})
	ws := connectWS(t, ts, "")

	send(t, ws, `{"id":1,"method":"query","params":{"path":"echo","input":"x"}}`)
	receive(t, ws)
	send(t, ws, `{"id":2,"method":"query","params":{"path":"boom"}}`)
	receive(t, ws)
	send(t, ws, `{"id":3,"method":"subscription","params":{"path":"count","input":1}}`)
	receive(t, ws)

	want := []string{
		"before echo", "after echo",
		"before boom", "after boom ResolverError",
		"before count", "after count",
	}
	require.Eventually(t, func() bool { return len(rec.snapshot()) == len(want) }, time.Second, 10*time.Millisecond)
	// Hooks of different requests may interleave.
	assert.ElementsMatch(t, want, rec.snapshot())
}

// readUntilClose reads ws in the background the way a client does and
// reports the error that ended the read loop.
func readUntilClose(ws *websocket.Conn) <-chan error {
	done := make(chan error, 1)
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				done <- err
				return
			}
		}
	}()
	return done
}

func shutdown(t *testing.T, server *Server) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))
	assert.Zero(t, server.ConnectionCount())
}

func assertGoingAway(t *testing.T, closed <-chan error) {
	t.Helper()
	select {
	case err := <-closed:
		assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("client never saw the close frame")
	}
}

func TestServerShutdown(t *testing.T) {
	ts, server := setupTestServer(t)

	var closed []<-chan error
	for range 3 {
		ws := connectWS(t, ts, "")
		send(t, ws, `{"id":1,"method":"subscription","params":{"path":"ticker","input":{"intervalMs":60000}}}`)
		closed = append(closed, readUntilClose(ws))
	}
	require.Eventually(t, func() bool { return liveSubscriptions(server) == 3 }, time.Second, 10*time.Millisecond)

	shutdown(t, server)
	for _, c := range closed {
		assertGoingAway(t, c)
	}
}

func TestServerShutdownWithUnreadRequests(t *testing.T) {
	ts, server := setupTestServer(t)
	ws := connectWS(t, ts, "")
	require.Eventually(t, func() bool { return server.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	// Requests still in flight towards the server when it shuts down are
	// drained, so the client sees a clean close instead of a reset.
	send(t, ws, `{"id":1,"method":"subscription","params":{"path":"ticker","input":{"intervalMs":60000}}}`)
	send(t, ws, `{"id":2,"method":"query","params":{"path":"echo","input":"late"}}`)
	closed := readUntilClose(ws)

	shutdown(t, server)
	assertGoingAway(t, closed)
}

func TestServerOptionsDefaults(t *testing.T) {
	server := NewServer(integrationRouter(t))
	assert.Equal(t, 64, server.options.SendBuffer)
	assert.NotNil(t, server.options.Logger)
	assert.True(t, server.options.CheckOrigin(httptest.NewRequest("GET", "/", nil)))

	c, err := server.options.Context(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, struct{}{}, c)
	assert.NotNil(t, server.Router())
}
