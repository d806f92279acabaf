package rspc

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// closeGracePeriod bounds how long a graceful close waits for the peer.
const closeGracePeriod = 5 * time.Second

// wsTransport wraps a WebSocket connection as a transport.
type wsTransport struct {
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newWSTransport(ws *websocket.Conn, buffer int) *wsTransport {
	return &wsTransport{
		ws:   ws,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func (t *wsTransport) Send(data []byte) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}
	select {
	case t.send <- data:
		return nil
	case <-t.done:
		return ErrTransportClosed
	}
}

func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

// CloseGracefully sends a close frame and stops the write pump. The socket
// stays open for readPump, which drains the peer until its close reply
// arrives or closeGracePeriod passes.
func (t *wsTransport) CloseGracefully() error {
	t.Close()
	err := t.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
		time.Now().Add(closeGracePeriod),
	)
	if derr := t.ws.SetReadDeadline(time.Now().Add(closeGracePeriod)); err == nil {
		err = derr
	}
	return err
}

// readPump reads messages from the WebSocket and dispatches them to the
// connection. It owns the socket: only its exit closes it. Once the transport
// is closed, incoming messages are read and dropped.
func (t *wsTransport) readPump(conn *Conn) {
	defer func() {
		conn.server.unregister(conn)
		t.ws.Close()
	}()

	for {
		_, data, err := t.ws.ReadMessage()
		if err != nil {
			return
		}
		select {
		case <-t.done:
			continue
		default:
		}
		conn.handleIncomingMessage(data)
	}
}

// writePump writes messages from the send channel to the WebSocket.
// The socket is left to readPump; a write failure ends its read.
func (t *wsTransport) writePump() {
	for {
		select {
		case data := <-t.send:
			if err := t.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				select {
				case <-t.done:
					// Closing gracefully; readPump waits for the peer.
				default:
					t.Close()
					_ = t.ws.SetReadDeadline(time.Now())
				}
				return
			}
		case <-t.done:
			return
		}
	}
}
