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
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"

	"github.com/xMarkos/browserkit/internal/cdperr"
	"github.com/xMarkos/browserkit/internal/corelog"
	"github.com/xMarkos/browserkit/internal/eventbus"
)

// NavigationOptions configures Page.Goto/Page.Reload: the lifecycle
// names to wait for and the timeout budget. A zero Timeout means no
// timeout at all, matching the "0 = infinite" configuration contract.
type NavigationOptions struct {
	WaitUntil []WaitUntil
	Timeout   time.Duration
}

func (o NavigationOptions) timeout() time.Duration {
	if o.Timeout == 0 {
		return 0
	}
	return o.Timeout
}

func (o NavigationOptions) waitUntil() []WaitUntil {
	if len(o.WaitUntil) == 0 {
		return []WaitUntil{WaitUntilLoad}
	}
	return o.WaitUntil
}

// Page is the caller-facing handle for one "page" kind target: its main
// frame and every descendant, plus the network traffic and dialogs that
// target's session reports.
type Page struct {
	ctx          context.Context
	session      *Session
	target       *Target
	frameManager *FrameManager
	network      *NetworkManager
	logger       *corelog.Logger

	handlersMu sync.Mutex
	handlers   map[string]*eventbus.List

	closeOnce sync.Once
	closedCh  chan struct{}
}

func newPage(ctx context.Context, sess *Session, t *Target, fm *FrameManager, nm *NetworkManager, logger *corelog.Logger) *Page {
	p := &Page{
		ctx:          ctx,
		session:      sess,
		target:       t,
		frameManager: fm,
		network:      nm,
		logger:       logger,
		handlers:     make(map[string]*eventbus.List),
		closedCh:     make(chan struct{}),
	}

	sess.On(cdproto.EventPageJavascriptDialogOpening, func(_, data interface{}) {
		ev := data.(*page.EventJavascriptDialogOpening)
		p.emit(EventDialog, newDialog(sess, ev))
	})

	return p
}

func (p *Page) on(event string, h func(sender, data interface{})) *eventbus.Subscription {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	list, ok := p.handlers[event]
	if !ok {
		list = &eventbus.List{}
		p.handlers[event] = list
	}
	return list.AddSync(h)
}

func (p *Page) emit(event string, data interface{}) {
	p.handlersMu.Lock()
	list := p.handlers[event]
	p.handlersMu.Unlock()
	if list == nil {
		return
	}
	list.InvokeAsync(p.ctx, p, data, func(err error) {
		p.logger.Errorf("page", "handler for %q failed: %s", event, err)
	})
}

// MainFrame returns the page's main frame. Nil before the first
// navigation commits.
func (p *Page) MainFrame() *Frame { return p.frameManager.MainFrame() }

// Target returns the Target this page belongs to.
func (p *Page) Target() *Target { return p.target }

// OnDialog subscribes h to EventDialog.
func (p *Page) OnDialog(h func(d *Dialog)) {
	p.on(EventDialog, func(_, data interface{}) {
		h(data.(*Dialog))
	})
}

// OnRequest subscribes h to EventRequest.
func (p *Page) OnRequest(h func(r *Request)) {
	p.network.On(EventRequest, func(_, data interface{}) { h(data.(*Request)) })
}

// OnResponse subscribes h to EventResponse.
func (p *Page) OnResponse(h func(r *Response)) {
	p.network.On(EventResponse, func(_, data interface{}) { h(data.(*Response)) })
}

// OnRequestFailed subscribes h to EventRequestFailed.
func (p *Page) OnRequestFailed(h func(r *Request)) {
	p.network.On(EventRequestFailed, func(_, data interface{}) { h(data.(*Request)) })
}

// OnRequestFinished subscribes h to EventRequestFinished.
func (p *Page) OnRequestFinished(h func(r *Request)) {
	p.network.On(EventRequestFinished, func(_, data interface{}) { h(data.(*Request)) })
}

// Goto navigates the main frame to url and waits for opts.WaitUntil,
// returning the main document's Response once tracked by the network
// manager (nil if the navigation produced no tracked document request,
// e.g. a same-document or about:blank navigation).
func (p *Page) Goto(ctx context.Context, url string, opts NavigationOptions) (*Response, error) {
	main := p.MainFrame()
	if main == nil {
		return nil, cdperr.ErrDetachedFrame
	}

	watcher, err := NewNavigationWatcher(p.frameManager, main, opts.timeout(), opts.waitUntil()...)
	if err != nil {
		return nil, err
	}

	_, loaderID, errText, err := page.Navigate(url).Do(cdp.WithExecutor(ctx, p.session))
	if err != nil {
		watcher.Cancel()
		return nil, fmt.Errorf("cannot navigate to %q: %w", url, err)
	}
	if errText != "" {
		watcher.Cancel()
		return nil, &cdperr.NavigationError{URL: url, Err: fmt.Errorf("%s", errText)}
	}

	if err := watcher.Wait(ctx); err != nil {
		return nil, &cdperr.NavigationError{URL: url, Err: err}
	}

	if req := p.network.RequestForDocument(loaderID); req != nil {
		return req.Response(), nil
	}
	return nil, nil
}

// Reload reloads the current document and waits for opts.WaitUntil.
func (p *Page) Reload(ctx context.Context, opts NavigationOptions) (*Response, error) {
	main := p.MainFrame()
	if main == nil {
		return nil, cdperr.ErrDetachedFrame
	}

	watcher, err := NewNavigationWatcher(p.frameManager, main, opts.timeout(), opts.waitUntil()...)
	if err != nil {
		return nil, err
	}

	if err := page.Reload().Do(cdp.WithExecutor(ctx, p.session)); err != nil {
		watcher.Cancel()
		return nil, fmt.Errorf("cannot reload page: %w", err)
	}

	if err := watcher.Wait(ctx); err != nil {
		return nil, &cdperr.NavigationError{URL: main.URL(), Err: err}
	}

	if req := p.network.RequestForDocument(main.LoaderID()); req != nil {
		return req.Response(), nil
	}
	return nil, nil
}

// SetBypassCSP toggles Page.setBypassCSP for every future navigation on
// this target.
func (p *Page) SetBypassCSP(ctx context.Context, enabled bool) error {
	return page.SetBypassCSP(enabled).Do(cdp.WithExecutor(ctx, p.session))
}

// AddScriptTag injects a <script> element into the main frame's document
// carrying either a remote src or inline content, and waits for it to
// evaluate by awaiting the expression's completion in the default
// context.
func (p *Page) AddScriptTag(ctx context.Context, src, content string) error {
	main := p.MainFrame()
	if main == nil {
		return cdperr.ErrDetachedFrame
	}
	execCtx := main.DefaultContext()
	if execCtx == nil {
		return cdperr.ErrExecutionContextDestroyed
	}

	expr := addScriptTagExpression(src, content)
	_, err := execCtx.Evaluate(ctx, expr)
	return err
}

func addScriptTagExpression(src, content string) string {
	if src != "" {
		return fmt.Sprintf(`new Promise((resolve, reject) => {
			const s = document.createElement('script');
			s.src = %q;
			s.onload = () => resolve(true);
			s.onerror = () => reject(new Error('failed to load script tag'));
			document.head.appendChild(s);
		})`, src)
	}
	return fmt.Sprintf(`(() => {
		const s = document.createElement('script');
		s.text = %q;
		document.head.appendChild(s);
		return true;
	})()`, content)
}

// Evaluate runs expr in the main frame's default execution context.
func (p *Page) Evaluate(ctx context.Context, expr string) (interface{}, error) {
	main := p.MainFrame()
	if main == nil {
		return nil, cdperr.ErrDetachedFrame
	}
	execCtx := main.DefaultContext()
	if execCtx == nil {
		return nil, cdperr.ErrExecutionContextDestroyed
	}
	return execCtx.Evaluate(ctx, expr)
}

// Close signals local consumers that this page is done, closing the
// channel Closed returns. It does not itself ask the browser to close
// the underlying target - callers that want that should close via
// Browser/Target and let the resulting targetDestroyed event drive
// didClose.
func (p *Page) Close() {
	p.closeOnce.Do(func() { close(p.closedCh) })
}

// didClose is called by Browser once Target.targetDestroyed confirms
// this page's target went away. Runs on the event-dispatch goroutine, so
// it shares closeOnce with Close rather than racing it on a bare
// select-then-close.
func (p *Page) didClose() {
	p.closeOnce.Do(func() { close(p.closedCh) })
}

// Closed returns a channel closed once this page's target has gone away.
func (p *Page) Closed() <-chan struct{} { return p.closedCh }
