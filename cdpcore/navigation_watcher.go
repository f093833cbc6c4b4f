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

	"github.com/chromedp/cdproto/cdp"

	"github.com/xMarkos/browserkit/internal/cdperr"
	"github.com/xMarkos/browserkit/internal/metrics"
	"github.com/xMarkos/browserkit/internal/telemetry"
)

// WaitUntil is a caller-facing logical wait name, mapped to the
// protocol's lifecycle event name this watcher actually waits on.
type WaitUntil string

const (
	WaitUntilLoad             WaitUntil = "load"
	WaitUntilDOMContentLoaded WaitUntil = "DOMContentLoaded"
	WaitUntilNetworkIdle0     WaitUntil = "networkIdle0"
	WaitUntilNetworkIdle2     WaitUntil = "networkIdle2"
)

func (w WaitUntil) lifecycleName() (string, error) {
	switch w {
	case WaitUntilLoad:
		return LifecycleLoad, nil
	case WaitUntilDOMContentLoaded:
		return LifecycleDOMContentLoaded, nil
	case WaitUntilNetworkIdle0:
		return LifecycleNetworkIdle, nil
	case WaitUntilNetworkIdle2:
		return LifecycleNetworkAlmostIdle, nil
	default:
		return "", fmt.Errorf("unknown wait-until value %q", string(w))
	}
}

// NavigationWatcher observes one frame across a single navigation and
// resolves once every lifecycle name in its expected set has fired for
// the frame and, recursively, every descendant - or fails on timeout or
// if the frame detaches first. It is single-use: construct a new one per
// navigation.
type NavigationWatcher struct {
	fm    *FrameManager
	frame *Frame

	expected        map[string]bool
	initialLoaderID cdp.LoaderID

	mu           sync.Mutex
	sameDocument bool
	resolved     bool
	err          error

	startedAt time.Time
	metrics   *metrics.Registry

	done   chan struct{}
	unsubs []func()
	timer  *time.Timer
}

// NewNavigationWatcher constructs a watcher for frame, waiting for every
// name in waitUntil (default {WaitUntilLoad} if empty) to fire. timeout
// of 0 means no timeout - the sentinel "never" §4.6 describes.
func NewNavigationWatcher(fm *FrameManager, frame *Frame, timeout time.Duration, waitUntil ...WaitUntil) (*NavigationWatcher, error) {
	if len(waitUntil) == 0 {
		waitUntil = []WaitUntil{WaitUntilLoad}
	}
	expected := make(map[string]bool, len(waitUntil))
	for _, wu := range waitUntil {
		name, err := wu.lifecycleName()
		if err != nil {
			return nil, err
		}
		expected[name] = true
	}

	w := &NavigationWatcher{
		fm:              fm,
		frame:           frame,
		expected:        expected,
		initialLoaderID: frame.LoaderID(),
		startedAt:       time.Now(),
		metrics:         metrics.Default(),
		done:            make(chan struct{}),
	}

	w.subscribe()

	if timeout > 0 {
		w.timer = time.AfterFunc(timeout, func() {
			w.fail(cdperr.ErrNavigationTimeout)
		})
	}

	// Catches a commit and lifecycle events that arrived between capturing
	// initialLoaderID and subscribing. A commit that happened before
	// construction is not seen, since initialLoaderID already reflects it;
	// same-document navigations complete from the
	// FrameNavigatedWithinDocument handler instead.
	w.recheck()

	return w, nil
}

func (w *NavigationWatcher) subscribe() {
	onLifecycle := func(sender, data interface{}) {
		w.recheck()
	}
	onWithinDocument := func(sender, data interface{}) {
		if ev, ok := data.(*NavigationEvent); ok && ev.Frame == w.frame {
			w.mu.Lock()
			w.sameDocument = true
			w.mu.Unlock()
			w.recheck()
		}
	}
	onDetached := func(sender, data interface{}) {
		if f, ok := data.(*Frame); ok && f == w.frame {
			w.fail(cdperr.ErrDetachedFrame)
		}
	}

	subLifecycle := w.fm.On(EventLifecycleEvent, onLifecycle)
	subWithinDoc := w.fm.On(EventFrameNavigatedWithinDocument, onWithinDocument)
	subDetached := w.fm.On(EventFrameDetached, onDetached)

	w.unsubs = []func(){
		func() { w.fm.Off(EventLifecycleEvent, subLifecycle) },
		func() { w.fm.Off(EventFrameNavigatedWithinDocument, subWithinDoc) },
		func() { w.fm.Off(EventFrameDetached, subDetached) },
	}
}

// committed reports whether the watched frame's navigation has
// committed: its loaderId changed from the one captured at construction,
// or a same-document navigation was observed.
func (w *NavigationWatcher) committed() bool {
	w.mu.Lock()
	same := w.sameDocument
	w.mu.Unlock()
	return same || w.frame.LoaderID() != w.initialLoaderID
}

func (w *NavigationWatcher) satisfied() bool {
	if !w.committed() {
		return false
	}
	for name := range w.expected {
		if !w.frame.HasSubtreeLifecycleEventFired(name) {
			return false
		}
	}
	return true
}

func (w *NavigationWatcher) recheck() {
	if w.satisfied() {
		w.complete(nil)
	}
}

func (w *NavigationWatcher) complete(err error) {
	w.mu.Lock()
	if w.resolved {
		w.mu.Unlock()
		return
	}
	w.resolved = true
	w.err = err
	w.mu.Unlock()

	w.metrics.ObserveNavigationDuration(time.Since(w.startedAt).Seconds(), err != nil)

	if w.timer != nil {
		w.timer.Stop()
	}
	for _, unsub := range w.unsubs {
		unsub()
	}
	close(w.done)
}

func (w *NavigationWatcher) fail(err error) { w.complete(err) }

// Cancel unsubscribes this watcher from frame events without resolving
// it - the caller remains responsible for resolving whatever it is
// awaiting on.
func (w *NavigationWatcher) Cancel() {
	w.mu.Lock()
	if w.resolved {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	for _, unsub := range w.unsubs {
		unsub()
	}
}

// Wait blocks until the navigation completes, fails, or ctx is
// cancelled, whichever happens first.
func (w *NavigationWatcher) Wait(ctx context.Context) error {
	ctx, span := telemetry.StartSpan(ctx, "cdp.NavigationWait")
	defer span.End()

	select {
	case <-w.done:
		w.mu.Lock()
		defer w.mu.Unlock()
		telemetry.RecordError(span, w.err)
		return w.err
	case <-ctx.Done():
		telemetry.RecordError(span, ctx.Err())
		return ctx.Err()
	}
}
