/*
 *
 * browserkit - a remote browser-automation client core
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package cdpcore

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"

	"github.com/xMarkos/browserkit/internal/cdperr"
	"github.com/xMarkos/browserkit/internal/corelog"
	"github.com/xMarkos/browserkit/internal/eventbus"
)

const wsWriteBufferSize = 1 << 20

var _ cdp.Executor = (*Connection)(nil)

// Connection owns the single websocket transport to the browser and
// demultiplexes inbound messages by sessionId to the Session that owns
// them. Messages carrying no sessionId belong to the root "browser
// session" and are routed through Connection itself, which also
// implements cdp.Executor so root-level commands (Target.*,
// Browser.getVersion) can be issued directly against it.
type Connection struct {
	ctx    context.Context
	logger *corelog.Logger
	conn   *websocket.Conn

	sendCh  chan *cdproto.Message
	closeCh chan int
	errorCh chan error
	done    chan struct{}
	once    sync.Once

	msgID int64

	pendingMu sync.Mutex
	pending   map[int64]chan *cdproto.Message

	sessionsMu sync.RWMutex
	sessions   map[target.SessionID]*Session

	// rootHandlers fans out root-session (no sessionId) events, chiefly
	// Target.targetCreated/targetInfoChanged/targetDestroyed, to the
	// Browser that subscribes to them.
	rootHandlers eventbus.List
}

// OnRootEvent subscribes to root-session events (those with no
// sessionId), used by the Browser to watch Target.* discovery events.
func (c *Connection) OnRootEvent(h func(sender interface{}, event interface{})) *eventbus.Subscription {
	return c.rootHandlers.AddSync(h)
}

// Dial opens a websocket connection to wsURL (the browser's
// webSocketDebuggerUrl) and starts the read/write pumps.
func Dial(ctx context.Context, wsURL string, logger *corelog.Logger) (*Connection, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 60 * time.Second,
		Proxy:            http.ProxyFromEnvironment,
		TLSClientConfig:  &tls.Config{},
		WriteBufferSize:  wsWriteBufferSize,
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot dial browser websocket: %w", err)
	}

	c := &Connection{
		ctx:      ctx,
		logger:   logger,
		conn:     conn,
		sendCh:   make(chan *cdproto.Message, 32),
		closeCh:  make(chan int),
		errorCh:  make(chan error),
		done:     make(chan struct{}),
		pending:  make(map[int64]chan *cdproto.Message),
		sessions: make(map[target.SessionID]*Session),
	}
	go c.recvLoop()
	go c.sendLoop()
	return c, nil
}

func (c *Connection) getSession(id target.SessionID) *Session {
	c.sessionsMu.RLock()
	defer c.sessionsMu.RUnlock()
	return c.sessions[id]
}

func (c *Connection) createSession(info *target.Info) (*Session, error) {
	sessionID, err := target.AttachToTarget(info.TargetID).WithFlatten(true).Do(cdp.WithExecutor(c.ctx, c))
	if err != nil {
		return nil, fmt.Errorf("cannot attach to target %s: %w", info.TargetID, err)
	}
	return c.getSession(sessionID), nil
}

func (c *Connection) closeSession(id target.SessionID) {
	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()
	if s, ok := c.sessions[id]; ok {
		s.close("session detached")
	}
	delete(c.sessions, id)
}

// recvLoop decodes each inbound frame and routes it: attach/detach events
// create and tear down Sessions; session-carrying messages go to the
// owning Session's inbox; everything else is a root-session reply or
// event.
func (c *Connection) recvLoop() {
	defer close(c.done)
	for {
		_, buf, err := c.conn.ReadMessage()
		if err != nil {
			c.handleIOError(err)
			return
		}
		c.logger.Debugf("cdp.recv", "<- %s", buf)

		var msg cdproto.Message
		if err := easyjson.Unmarshal(buf, &msg); err != nil {
			c.logger.Errorf("cdp.recv", "cannot decode message: %s", err)
			continue
		}

		switch msg.Method {
		case cdproto.EventTargetAttachedToTarget:
			c.onAttachedToTarget(&msg)
			continue
		case cdproto.EventTargetDetachedFromTarget:
			c.onDetachedFromTarget(&msg)
			continue
		}

		switch {
		case msg.SessionID != "":
			if s := c.getSession(msg.SessionID); s != nil {
				s.deliver(&msg)
			}
		case msg.ID != 0:
			c.completePending(&msg)
		case msg.Method != "":
			c.rootEvent(&msg)
		default:
			c.logger.Errorf("cdp.recv", "ignoring malformed message: %#v", msg)
		}
	}
}

func (c *Connection) onAttachedToTarget(msg *cdproto.Message) {
	ev, err := cdproto.UnmarshalMessage(msg)
	if err != nil {
		c.logger.Errorf("cdp.recv", "%s", err)
		return
	}
	sessionID := ev.(*target.EventAttachedToTarget).SessionID
	c.sessionsMu.Lock()
	c.sessions[sessionID] = newSession(c.ctx, c, sessionID, ev.(*target.EventAttachedToTarget).TargetInfo.TargetID, c.logger)
	c.sessionsMu.Unlock()
}

func (c *Connection) onDetachedFromTarget(msg *cdproto.Message) {
	ev, err := cdproto.UnmarshalMessage(msg)
	if err != nil {
		c.logger.Errorf("cdp.recv", "%s", err)
		return
	}
	c.closeSession(ev.(*target.EventDetachedFromTarget).SessionID)
}

// rootEvent handles an event with no sessionId - currently only the
// Target.* discovery events the Browser subscribes to directly.
func (c *Connection) rootEvent(msg *cdproto.Message) {
	ev, err := cdproto.UnmarshalMessage(msg)
	if err != nil {
		if _, ok := err.(cdp.ErrUnknownCommandOrEvent); ok {
			c.logger.Debugf("cdp.recv", "unknown root event %s, ignoring", msg.Method)
			return
		}
		c.logger.Errorf("cdp.recv", "%s", err)
		return
	}
	c.rootHandlers.InvokeAsync(c.ctx, c, ev, func(err error) {
		c.logger.Errorf("cdp.recv", "root event handler failed: %s", err)
	})
}

func (c *Connection) completePending(msg *cdproto.Message) {
	c.pendingMu.Lock()
	ch, ok := c.pending[msg.ID]
	delete(c.pending, msg.ID)
	c.pendingMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- msg:
	default:
	}
}

func (c *Connection) handleIOError(err error) {
	code := websocket.CloseGoingAway
	if ce, ok := err.(*websocket.CloseError); ok {
		code = ce.Code
	}
	select {
	case c.closeCh <- code:
	default:
	}
}

func (c *Connection) sendLoop() {
	for {
		select {
		case msg := <-c.sendCh:
			buf, err := easyjson.Marshal(msg)
			if err != nil {
				c.logger.Errorf("cdp.send", "cannot encode message: %s", err)
				continue
			}
			c.logger.Debugf("cdp.send", "-> %s", buf)
			if err := c.conn.WriteMessage(websocket.TextMessage, buf); err != nil {
				c.handleIOError(err)
				return
			}
		case <-c.done:
			return
		}
	}
}

// Execute implements cdp.Executor for root-session (no sessionId)
// commands - chiefly Target.* discovery and Browser.getVersion.
func (c *Connection) Execute(ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler) error {
	id := atomic.AddInt64(&c.msgID, 1)
	return c.roundTrip(ctx, id, "", method, params, res)
}

func (c *Connection) roundTrip(
	ctx context.Context, id int64, sessionID target.SessionID, method string,
	params easyjson.Marshaler, res easyjson.Unmarshaler,
) error {
	var buf []byte
	if params != nil {
		var err error
		buf, err = easyjson.Marshal(params)
		if err != nil {
			return err
		}
	}
	msg := &cdproto.Message{ID: id, SessionID: sessionID, Method: cdproto.MethodType(method), Params: buf}

	replyCh := make(chan *cdproto.Message, 1)
	c.pendingMu.Lock()
	c.pending[id] = replyCh
	c.pendingMu.Unlock()

	select {
	case c.sendCh <- msg:
	case <-c.done:
		return &cdperr.TargetClosedError{Reason: "connection closed before send"}
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case reply := <-replyCh:
		switch {
		case reply.Error != nil:
			return &cdperr.ProtocolError{Code: reply.Error.Code, Message: reply.Error.Message}
		case res != nil:
			return easyjson.Unmarshal(reply.Result, res)
		default:
			return nil
		}
	case <-c.done:
		return &cdperr.TargetClosedError{Reason: "connection closed while waiting for reply"}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears down the websocket connection and every Session it owns.
// Idempotent: a second call is a no-op.
func (c *Connection) Close() error {
	var err error
	c.once.Do(func() {
		err = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(10*time.Second))

		c.sessionsMu.Lock()
		for id, s := range c.sessions {
			s.close("connection closed")
			delete(c.sessions, id)
		}
		c.sessionsMu.Unlock()

		_ = c.conn.Close()
	})
	return err
}

// Done returns a channel closed once the read pump has exited, signaling
// the transport is no longer usable.
func (c *Connection) Done() <-chan struct{} { return c.done }
