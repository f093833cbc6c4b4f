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
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/mailru/easyjson"

	"github.com/xMarkos/browserkit/internal/cdperr"
	"github.com/xMarkos/browserkit/internal/corelog"
	"github.com/xMarkos/browserkit/internal/eventbus"
	"github.com/xMarkos/browserkit/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
)

var _ cdp.Executor = (*Session)(nil)

// Session wraps one logical protocol channel bound to a target: it owns a
// monotonic request id counter local to itself, routes replies to the
// awaiting Execute call, and fans out events to subscribers registered
// with On. It satisfies both the "flat session" (one websocket per
// target) and the "multiplex session" (one websocket demuxed by
// sessionId) contracts identically, since Connection is the one
// responsible for demultiplexing before handing a message to its Session.
type Session struct {
	ctx      context.Context
	conn     *Connection
	id       target.SessionID
	targetID target.ID
	logger   *corelog.Logger

	msgID int64

	pendingMu sync.Mutex
	pending   map[int64]chan *cdproto.Message

	handlersMu  sync.Mutex
	handlers    map[string]*eventbus.List
	handlersAll eventbus.List

	closedMu sync.Mutex
	closed   bool
	crashed  bool
	done     chan struct{}
}

func newSession(ctx context.Context, conn *Connection, id target.SessionID, targetID target.ID, logger *corelog.Logger) *Session {
	return &Session{
		ctx:      ctx,
		conn:     conn,
		id:       id,
		targetID: targetID,
		logger:   logger,
		pending:  make(map[int64]chan *cdproto.Message),
		handlers: make(map[string]*eventbus.List),
		done:     make(chan struct{}),
	}
}

// ID returns the protocol session id.
func (s *Session) ID() target.SessionID { return s.id }

// TargetID returns the id of the target this session is attached to.
func (s *Session) TargetID() target.ID { return s.targetID }

// Done returns a channel closed once the session has been detached.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) markCrashed() {
	s.closedMu.Lock()
	s.crashed = true
	s.closedMu.Unlock()
}

func (s *Session) isCrashed() bool {
	s.closedMu.Lock()
	defer s.closedMu.Unlock()
	return s.crashed
}

func (s *Session) close(reason string) {
	s.closedMu.Lock()
	if s.closed {
		s.closedMu.Unlock()
		return
	}
	s.closed = true
	s.closedMu.Unlock()

	close(s.done)

	s.pendingMu.Lock()
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
	s.pendingMu.Unlock()

	s.handlersAll.InvokeAsync(s.ctx, s, reason, func(err error) {
		s.logger.Errorf("session", "close handler failed: %s", err)
	})
}

// deliver routes one inbound message to this session: a reply completes
// the matching pending Execute call; an event is dispatched to
// subscribers. Events this core's copy of cdproto does not know about
// (an older/newer protocol revision than it was generated from) are
// delivered raw through the "" escape-hatch event instead of dropped.
func (s *Session) deliver(msg *cdproto.Message) {
	if msg.ID != 0 {
		s.pendingMu.Lock()
		ch, ok := s.pending[msg.ID]
		delete(s.pending, msg.ID)
		s.pendingMu.Unlock()
		if ok {
			select {
			case ch <- msg:
			default:
			}
		}
		return
	}

	ev, err := cdproto.UnmarshalMessage(msg)
	if err != nil {
		if _, ok := err.(cdp.ErrUnknownCommandOrEvent); ok {
			s.emit("", msg)
			return
		}
		s.logger.Errorf("session", "%s", err)
		return
	}
	s.emit(string(msg.Method), ev)
}

func (s *Session) emit(event string, data interface{}) {
	s.handlersMu.Lock()
	list := s.handlers[event]
	s.handlersMu.Unlock()
	if list != nil {
		list.InvokeAsync(s.ctx, s, data, func(err error) {
			s.logger.Errorf("session", "handler for %q failed: %s", event, err)
		})
	}
	s.handlersAll.InvokeAsync(s.ctx, s, data, func(err error) {
		s.logger.Errorf("session", "handler for all events failed: %s", err)
	})
}

// On subscribes h to the named protocol event (e.g. "Page.lifecycleEvent").
func (s *Session) On(event string, h func(sender, data interface{})) *eventbus.Subscription {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	list, ok := s.handlers[event]
	if !ok {
		list = &eventbus.List{}
		s.handlers[event] = list
	}
	return list.AddSync(h)
}

// OnAll subscribes h to every event this session emits, including the ""
// escape-hatch event carrying a raw *cdproto.Message for events this
// core's protocol definitions don't model.
func (s *Session) OnAll(h func(sender, data interface{})) *eventbus.Subscription {
	return s.handlersAll.AddSync(h)
}

// Execute implements cdp.Executor: it sends method/params over the
// session and blocks for the matching reply.
func (s *Session) Execute(ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler) error {
	if method == target.CommandCloseTarget {
		return &cdperr.TargetClosedError{Reason: "close the target via its context instead of Target.closeTarget"}
	}
	if s.isCrashed() {
		return cdperr.ErrTargetClosed
	}

	ctx, span := telemetry.StartSpan(ctx, "cdp.Send",
		attribute.String("cdp.method", method),
		attribute.String("cdp.session_id", string(s.id)))
	defer span.End()

	id := atomic.AddInt64(&s.msgID, 1)
	replyCh := make(chan *cdproto.Message, 1)
	s.pendingMu.Lock()
	s.pending[id] = replyCh
	s.pendingMu.Unlock()

	var buf []byte
	if params != nil {
		var err error
		buf, err = easyjson.Marshal(params)
		if err != nil {
			telemetry.RecordError(span, err)
			return err
		}
	}
	msg := &cdproto.Message{ID: id, SessionID: s.id, Method: cdproto.MethodType(method), Params: buf}

	select {
	case s.conn.sendCh <- msg:
	case <-s.done:
		err := &cdperr.TargetClosedError{Reason: "session detached before send"}
		telemetry.RecordError(span, err)
		return err
	case <-ctx.Done():
		telemetry.RecordError(span, ctx.Err())
		return ctx.Err()
	}

	select {
	case reply, ok := <-replyCh:
		if !ok {
			err := &cdperr.TargetClosedError{Reason: "session detached while waiting for reply"}
			telemetry.RecordError(span, err)
			return err
		}
		switch {
		case reply.Error != nil:
			err := &cdperr.ProtocolError{Code: reply.Error.Code, Message: reply.Error.Message}
			telemetry.RecordError(span, err)
			return err
		case res != nil:
			err := easyjson.Unmarshal(reply.Result, res)
			telemetry.RecordError(span, err)
			return err
		default:
			return nil
		}
	case <-s.done:
		err := &cdperr.TargetClosedError{Reason: "session detached while waiting for reply"}
		telemetry.RecordError(span, err)
		return err
	case <-ctx.Done():
		telemetry.RecordError(span, ctx.Err())
		return ctx.Err()
	}
}

// ExecuteWithoutExpectationOnReply sends method/params but does not wait
// for (or register a pending awaiter for) a reply. Used for best-effort
// sends issued from unsolicited event handlers, e.g. continuing an
// intercepted request after the target may already be gone.
func (s *Session) ExecuteWithoutExpectationOnReply(ctx context.Context, method string, params easyjson.Marshaler) error {
	if s.isCrashed() {
		return cdperr.ErrTargetClosed
	}
	id := atomic.AddInt64(&s.msgID, 1)
	var buf []byte
	if params != nil {
		var err error
		buf, err = easyjson.Marshal(params)
		if err != nil {
			return err
		}
	}
	msg := &cdproto.Message{ID: id, SessionID: s.id, Method: cdproto.MethodType(method), Params: buf}
	select {
	case s.conn.sendCh <- msg:
		return nil
	case <-s.done:
		return &cdperr.TargetClosedError{Reason: "session detached before send"}
	case <-ctx.Done():
		return ctx.Err()
	}
}
