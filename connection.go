package rspc

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-json-experiment/json"
	"go.uber.org/zap"
)

// Conn represents a single client connection.
type Conn struct {
	id        string
	transport transport
	server    *Server
	request   *http.Request
	procCtx   any
	ctx       context.Context
	cancel    context.CancelFunc
	subs      *Subscriptions
	log       *zap.Logger
	wg        sync.WaitGroup
	mu        sync.Mutex
	closed    bool
}

func newConn(t transport, server *Server, id string, r *http.Request) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	log := server.log.Named("conn").With(zap.String("conn_id", id))
	c := &Conn{
		id:        id,
		transport: t,
		server:    server,
		request:   r,
		cancel:    cancel,
		subs:      NewSubscriptions(log),
		log:       log,
	}
	c.ctx = withConnection(ctx, c)
	return c
}

// ID returns the connection identifier.
func (c *Conn) ID() string { return c.id }

// Request returns the HTTP request that opened the connection.
func (c *Conn) Request() *http.Request { return c.request }

// Subscriptions returns the connection's live subscriptions.
func (c *Conn) Subscriptions() *Subscriptions { return c.subs }

func (c *Conn) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrTransportClosed
	}
	c.mu.Unlock()
	return c.transport.Send(data)
}

func (c *Conn) sendError(id RequestID, e *Error) error {
	return c.sendJSON(ResponseMessage{
		ID:     id,
		Result: Result{Type: ResultError, Data: errorData(e)},
	})
}

// sendItem translates one stream item into a response or event message.
func (c *Conn) sendItem(id RequestID, typ ResultType, item Item) error {
	if item.Err != nil {
		return c.sendError(id, AsError(item.Err))
	}
	if item.Output == nil {
		return c.sendJSON(ResponseMessage{ID: id, Result: Result{Type: typ}})
	}
	data, err := item.Output.Encode()
	if err != nil {
		c.log.Error("failed to encode output", zap.Stringer("id", id), zap.Error(err))
		return c.sendError(id, AsError(err))
	}
	return c.sendJSON(ResponseMessage{ID: id, Result: Result{Type: typ, Data: data}})
}

func (c *Conn) handleIncomingMessage(data []byte) {
	var msg IncomingMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError(NullRequestID(), NewError(CodeParseError, "invalid JSON"))
		return
	}

	switch msg.Method {
	case MethodQuery, MethodMutation:
		c.wg.Add(1)
		go c.handleRequest(msg)
	case MethodSubscription:
		c.startSubscription(msg)
	case MethodSubscriptionStop:
		if !c.subs.Stop(msg.ID) {
			c.sendError(msg.ID, ErrUnknownSubscription(msg.ID))
		}
	default:
		c.sendError(msg.ID, ErrInvalidRequest(fmt.Sprintf("unknown method %q", msg.Method)))
	}
}

func (c *Conn) lookup(msg IncomingMessage) (*Procedure, *Error) {
	p, ok := c.server.router.Get(msg.Params.Path)
	if !ok {
		return nil, ErrMethodNotFound(msg.Params.Path)
	}
	if p.Kind().String() != string(msg.Method) {
		return nil, ErrInvalidRequest(fmt.Sprintf("%s is a %s, not a %s", msg.Params.Path, p.Kind(), msg.Method))
	}
	return p, nil
}

func (c *Conn) handleRequest(msg IncomingMessage) {
	defer c.wg.Done()

	p, perr := c.lookup(msg)
	if perr != nil {
		c.sendError(msg.ID, perr)
		return
	}

	ctx := c.server.beforeRequest(withRequestID(c.ctx, msg.ID), p.Meta())
	stream := p.Invoke(ctx, c.procCtx, InputFromDecoder(JSONDecoder(msg.Params.Input)))
	defer stream.Close()

	item, _ := stream.Next()
	if err := c.sendItem(msg.ID, ResultResponse, item); err != nil {
		c.log.Debug("response dropped", zap.Stringer("id", msg.ID), zap.Error(err))
	}
	c.server.afterRequest(ctx, p.Meta(), item.Err)
}

func (c *Conn) startSubscription(msg IncomingMessage) {
	p, perr := c.lookup(msg)
	if perr != nil {
		c.sendError(msg.ID, perr)
		return
	}

	ctx, handle := NewCancelHandle(withRequestID(c.ctx, msg.ID))
	if err := c.subs.Start(msg.ID, handle); err != nil {
		handle.Release()
		c.sendError(msg.ID, AsError(err))
		return
	}

	c.wg.Add(1)
	go c.pumpSubscription(ctx, msg, p, handle)
}

// pumpSubscription forwards every item of a subscription as an event until
// the stream ends or the subscription is stopped.
func (c *Conn) pumpSubscription(ctx context.Context, msg IncomingMessage, p *Procedure, handle *CancelHandle) {
	defer c.wg.Done()

	ctx = c.server.beforeRequest(ctx, p.Meta())
	stream := p.Invoke(ctx, c.procCtx, InputFromDecoder(JSONDecoder(msg.Params.Input)))

	var lastErr error
	for item, ok := stream.Next(); ok; item, ok = stream.Next() {
		if item.Err != nil {
			lastErr = item.Err
		}
		if err := c.sendItem(msg.ID, ResultEvent, item); err != nil {
			c.log.Debug("event dropped", zap.Stringer("id", msg.ID), zap.Error(err))
			break
		}
	}
	stream.Close()

	stopped := handle.Fired()
	handle.Release()
	if !stopped {
		c.subs.remove(msg.ID, handle)
	}
	c.server.afterRequest(ctx, p.Meta(), lastErr)
}

// close stops every subscription, cancels in-flight requests and waits for
// their goroutines to return.
func (c *Conn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.subs.StopAll()
	c.cancel()
	c.transport.Close()
	c.wg.Wait()
}
