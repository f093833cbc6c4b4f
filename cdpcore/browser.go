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
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"

	"github.com/xMarkos/browserkit/internal/cdperr"
	"github.com/xMarkos/browserkit/internal/corelog"
	"github.com/xMarkos/browserkit/internal/eventbus"
)

// Browser owns the target tree for one remote browser connection: every
// Target ever reported by Target.targetCreated, the Session each
// page-kind Target attaches, and the root-level event subscriptions
// that keep targetsMap in sync with the browser process.
type Browser struct {
	ctx context.Context

	conn   *Connection
	logger *corelog.Logger

	onClose func()

	closed int32

	mu        sync.RWMutex
	targetsMap map[target.ID]*Target

	handlersMu sync.Mutex
	handlers   map[string]*eventbus.List

	rootSubs []*eventbus.Subscription
}

// Connect dials wsURL and starts discovering targets. onClose, if
// non-nil, runs once during Close before the transport is disconnected -
// e.g. to terminate a locally spawned browser process.
func Connect(ctx context.Context, wsURL string, logger *corelog.Logger, onClose func()) (*Browser, error) {
	conn, err := Dial(ctx, wsURL, logger)
	if err != nil {
		return nil, err
	}

	b := &Browser{
		ctx:        ctx,
		conn:       conn,
		logger:     logger,
		onClose:    onClose,
		targetsMap: make(map[target.ID]*Target),
		handlers:   make(map[string]*eventbus.List),
	}

	if err := b.initEvents(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return b, nil
}

func (b *Browser) initEvents() error {
	b.rootSubs = append(b.rootSubs,
		b.conn.OnRootEvent(func(_, data interface{}) {
			switch ev := data.(type) {
			case *target.EventTargetCreated:
				b.onTargetCreated(ev)
			case *target.EventTargetInfoChanged:
				b.onTargetInfoChanged(ev)
			case *target.EventTargetDestroyed:
				b.onTargetDestroyed(ev)
			}
		}),
	)
	return target.SetDiscoverTargets(true).Do(cdp.WithExecutor(b.ctx, b.conn))
}

// On subscribes h to one of EventTargetCreated, EventTargetChanged,
// EventTargetDestroyed, EventClosed or EventDisconnected.
func (b *Browser) On(event string, h func(sender, data interface{})) *eventbus.Subscription {
	b.handlersMu.Lock()
	defer b.handlersMu.Unlock()
	list, ok := b.handlers[event]
	if !ok {
		list = &eventbus.List{}
		b.handlers[event] = list
	}
	return list.AddSync(h)
}

func (b *Browser) emit(event string, data interface{}) {
	b.handlersMu.Lock()
	list := b.handlers[event]
	b.handlersMu.Unlock()
	if list == nil {
		return
	}
	list.InvokeAsync(b.ctx, b, data, func(err error) {
		b.logger.Errorf("browser", "handler for %q failed: %s", event, err)
	})
}

// emitSync is emit's blocking counterpart, used only for the terminal
// Closed/Disconnected events per §9's shutdown-ordering rule: subscribers
// must have fully run by the time Close/Disconnect returns, so callers
// see a fully quiesced browser rather than racing teardown against
// still-running async handlers.
func (b *Browser) emitSync(event string, data interface{}) {
	b.handlersMu.Lock()
	list := b.handlers[event]
	b.handlersMu.Unlock()
	if list == nil {
		return
	}
	list.InvokeSync(b.ctx, b, data, func(err error) {
		b.logger.Errorf("browser", "handler for %q failed: %s", event, err)
	})
}

// onTargetCreated constructs a Target for ev.TargetInfo.TargetID,
// overwriting and logging if the id was already tracked - a protocol
// anomaly, not fatal. Initialization runs synchronously on the event
// path; when it resolves usable, TargetCreated is emitted.
func (b *Browser) onTargetCreated(ev *target.EventTargetCreated) {
	id := ev.TargetInfo.TargetID

	b.mu.Lock()
	if _, exists := b.targetsMap[id]; exists {
		b.logger.Errorf("browser", "targetCreated for already-tracked target %s, overwriting", id)
	}
	t := newTarget(b, ev.TargetInfo)
	b.targetsMap[id] = t
	b.mu.Unlock()

	t.init()
	if t.Usable() {
		b.emit(EventTargetCreated, t)
	}
}

// onTargetInfoChanged requires the id be known - a change for an
// untracked id violates the target map's invariants and is treated as a
// fatal bug signal, per InvalidTarget.
func (b *Browser) onTargetInfoChanged(ev *target.EventTargetInfoChanged) {
	id := ev.TargetInfo.TargetID

	b.mu.RLock()
	t, ok := b.targetsMap[id]
	b.mu.RUnlock()
	if !ok {
		b.logger.Errorf("browser", "%s: targetInfoChanged for unknown target %s", cdperr.ErrInvalidTarget, id)
		return
	}

	if !t.applyInfoChanged(ev.TargetInfo) {
		return
	}
	if t.Usable() {
		b.emit(EventTargetChanged, t)
	}
}

// onTargetDestroyed requires the id be known, removes it from the map,
// completes the Target's close signal, and emits TargetDestroyed only if
// initialization had previously succeeded.
func (b *Browser) onTargetDestroyed(ev *target.EventTargetDestroyed) {
	id := ev.TargetID

	b.mu.Lock()
	t, ok := b.targetsMap[id]
	if ok {
		delete(b.targetsMap, id)
	}
	b.mu.Unlock()
	if !ok {
		b.logger.Errorf("browser", "%s: targetDestroyed for unknown target %s", cdperr.ErrInvalidTarget, id)
		return
	}

	t.close()
	if p := t.Page(); p != nil {
		p.didClose()
	}
	if t.Usable() {
		b.emit(EventTargetDestroyed, t)
	}
}

// NewPage opens a new page-kind target and returns its Page once
// initialization resolves usable.
func (b *Browser) NewPage(ctx context.Context) (*Page, error) {
	id, err := target.CreateTarget("about:blank").Do(cdp.WithExecutor(ctx, b.conn))
	if err != nil {
		return nil, fmt.Errorf("cannot create target: %w", err)
	}

	t := b.waitForTarget(ctx, id)
	if t == nil {
		return nil, fmt.Errorf("target %s never appeared in targetCreated", id)
	}
	if err := t.Wait(ctx); err != nil {
		return nil, err
	}
	if !t.Usable() {
		return nil, fmt.Errorf("target %s did not become usable", id)
	}
	return t.Page(), nil
}

// waitForTarget blocks for onTargetCreated to install id into
// targetsMap, since Target.createTarget's reply can race the
// targetCreated event that actually constructs the Target.
func (b *Browser) waitForTarget(ctx context.Context, id target.ID) *Target {
	for {
		b.mu.RLock()
		t := b.targetsMap[id]
		b.mu.RUnlock()
		if t != nil {
			return t
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Pages returns a snapshot of every currently-usable target's Page.
func (b *Browser) Pages() []*Page {
	b.mu.RLock()
	targets := make([]*Target, 0, len(b.targetsMap))
	for _, t := range b.targetsMap {
		targets = append(targets, t)
	}
	b.mu.RUnlock()

	out := make([]*Page, 0, len(targets))
	for _, t := range targets {
		if t.Usable() {
			if p := t.Page(); p != nil {
				out = append(out, p)
			}
		}
	}
	return out
}

// Targets returns a snapshot of every tracked Target, usable or not.
func (b *Browser) Targets() []*Target {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Target, 0, len(b.targetsMap))
	for _, t := range b.targetsMap {
		out = append(out, t)
	}
	return out
}

// Version calls Browser.getVersion and returns the product string (e.g.
// "HeadlessChrome/91.0.4472.124").
func (b *Browser) Version(ctx context.Context) (string, error) {
	_, product, _, _, _, err := cdpbrowser.GetVersion().Do(cdp.WithExecutor(ctx, b.conn))
	return product, err
}

// UserAgent calls Browser.getVersion and returns just the user agent.
func (b *Browser) UserAgent(ctx context.Context) (string, error) {
	_, _, _, userAgent, _, err := cdpbrowser.GetVersion().Do(cdp.WithExecutor(ctx, b.conn))
	return userAgent, err
}

// IsConnected reports whether the transport is still usable.
func (b *Browser) IsConnected() bool {
	select {
	case <-b.conn.Done():
		return false
	default:
		return atomic.LoadInt32(&b.closed) == 0
	}
}

// Close runs the user-supplied close callback, sends Browser.close (a
// failure is only logged), closes the transport, which ends the read
// loop, and emits Closed. Idempotent. The read loop is not stopped before
// the callback runs; events can still be dispatched while it executes.
func (b *Browser) Close() {
	if !atomic.CompareAndSwapInt32(&b.closed, 0, 1) {
		return
	}

	if b.onClose != nil {
		b.onClose()
	}

	action := cdpbrowser.Close()
	if err := action.Do(cdp.WithExecutor(b.ctx, b.conn)); err != nil {
		b.logger.Debugf("browser", "Browser.close failed (likely already gone): %s", err)
	}

	_ = b.conn.Close()
	b.emitSync(EventClosed, nil)
}

// Disconnect terminates the transport only - the browser process, if any,
// continues running.
func (b *Browser) Disconnect() {
	if !atomic.CompareAndSwapInt32(&b.closed, 0, 1) {
		return
	}
	_ = b.conn.Close()
	b.emitSync(EventDisconnected, nil)
}
