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
	"time"

	"github.com/chromedp/cdproto/cdp"
)

// Lifecycle names the protocol reports, mapped 1:1 to the logical waits a
// caller may request (see NavigationWatcher).
const (
	LifecycleLoad              = "load"
	LifecycleDOMContentLoaded  = "DOMContentLoaded"
	LifecycleNetworkIdle       = "networkIdle"
	LifecycleNetworkAlmostIdle = "networkAlmostIdle"
)

// Frame is a leaf node of one target's frame tree: the main document or an
// iframe. Its parent link is a weak back-reference resolved through its
// owning FrameManager - Frame never owns its parent, only knows its id.
type Frame struct {
	manager *FrameManager

	mu         sync.RWMutex
	id         cdp.FrameID
	parentID   cdp.FrameID // zero value ("") means this is the main frame
	children   []cdp.FrameID
	name       string
	url        string
	loaderID   cdp.LoaderID
	detached   bool

	lifecycleEvents        map[string]bool
	lifecycleLoaderID      cdp.LoaderID
	subtreeLifecycleEvents map[string]bool

	defaultContext *ExecutionContext

	navigationCounter int

	networkIdleMu       sync.Mutex
	networkIdleCancelFn context.CancelFunc
	inflightRequests    map[string]bool
}

func newFrame(manager *FrameManager, id, parentID cdp.FrameID) *Frame {
	return &Frame{
		manager:                 manager,
		id:                      id,
		parentID:                parentID,
		lifecycleEvents:         make(map[string]bool),
		subtreeLifecycleEvents:  make(map[string]bool),
		inflightRequests:        make(map[string]bool),
	}
}

// ID returns the protocol frame id.
func (f *Frame) ID() cdp.FrameID {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.id
}

func (f *Frame) setID(id cdp.FrameID) {
	f.mu.Lock()
	f.id = id
	f.mu.Unlock()
}

// ParentID returns the parent frame's id, or "" if this is a main frame.
func (f *Frame) ParentID() cdp.FrameID {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.parentID
}

// IsMainFrame reports whether this frame has no parent.
func (f *Frame) IsMainFrame() bool { return f.ParentID() == "" }

// Parent resolves the weak parent reference through the owning manager. It
// returns nil for the main frame or if the parent has since been detached.
func (f *Frame) Parent() *Frame {
	pid := f.ParentID()
	if pid == "" {
		return nil
	}
	return f.manager.FrameByID(pid)
}

// ChildFrames resolves this frame's ordered child list through the owning
// manager, skipping any id that no longer resolves (already detached).
func (f *Frame) ChildFrames() []*Frame {
	f.mu.RLock()
	ids := make([]cdp.FrameID, len(f.children))
	copy(ids, f.children)
	f.mu.RUnlock()

	out := make([]*Frame, 0, len(ids))
	for _, id := range ids {
		if child := f.manager.FrameByID(id); child != nil {
			out = append(out, child)
		}
	}
	return out
}

func (f *Frame) addChild(id cdp.FrameID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.children {
		if existing == id {
			return
		}
	}
	f.children = append(f.children, id)
}

func (f *Frame) removeChild(id cdp.FrameID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.children {
		if existing == id {
			f.children = append(f.children[:i:i], f.children[i+1:]...)
			return
		}
	}
}

// URL returns the frame's current document URL.
func (f *Frame) URL() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.url
}

// Name returns the frame owner element's name/id attribute.
func (f *Frame) Name() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.name
}

// LoaderID returns the frame's current document loader id. It changes iff
// a new-document navigation committed.
func (f *Frame) LoaderID() cdp.LoaderID {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.loaderID
}

// IsDetached reports whether this frame has been removed from its tree.
func (f *Frame) IsDetached() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.detached
}

// DefaultContext returns the frame's default-world execution context, or
// nil if none is currently installed (e.g. mid cross-document navigation).
func (f *Frame) DefaultContext() *ExecutionContext {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.defaultContext
}

func (f *Frame) setDefaultContext(ctx *ExecutionContext) {
	f.mu.Lock()
	f.defaultContext = ctx
	f.mu.Unlock()
}

// nullContext uninstalls the default context if it is the one identified
// by id - called on Runtime.executionContextDestroyed.
func (f *Frame) nullContext(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.defaultContext != nil && int64(f.defaultContext.ID()) == id {
		f.defaultContext = nil
	}
}

// navigated applies a cross-document navigation's payload: new url, name
// and loaderID. Lifecycle state reset is the caller's (FrameManager's)
// responsibility since it must also propagate up the tree.
func (f *Frame) navigated(name, url string, loaderID cdp.LoaderID) {
	f.mu.Lock()
	f.name = name
	f.url = url
	f.loaderID = loaderID
	f.navigationCounter++
	f.mu.Unlock()
}

// navigatedWithinDocument applies a same-document navigation: url changes,
// loaderID does not.
func (f *Frame) navigatedWithinDocument(url string) {
	f.mu.Lock()
	f.url = url
	f.mu.Unlock()
}

// detach marks the frame as removed from the tree and unlinks it from its
// parent. The caller (FrameManager) is responsible for recursing into
// children first, depth-first, before detaching a subtree root.
func (f *Frame) detach() {
	f.stopNetworkIdleTimer()
	f.mu.Lock()
	f.detached = true
	parentID := f.parentID
	f.parentID = ""
	f.mu.Unlock()
	if parentID != "" {
		if parent := f.manager.FrameByID(parentID); parent != nil {
			parent.removeChild(f.id)
		}
	}
}

// clearLifecycle resets this frame's own lifecycle set, called by
// FrameManager whenever Page.frameNavigated commits a new document so
// stale lifecycle names from the previous document don't linger even if
// no lifecycle event happens to race it first.
func (f *Frame) clearLifecycle() {
	f.mu.Lock()
	for k := range f.lifecycleEvents {
		delete(f.lifecycleEvents, k)
	}
	f.lifecycleLoaderID = f.loaderID
	f.mu.Unlock()
}

// onLifecycleEvent records name as having fired for the document
// identified by loaderID. If loaderID does not match the frame's current
// lifecycle loader id, the event belongs to a document this frame hasn't
// recorded yet (ordering against Page.frameNavigated is not guaranteed) -
// the lifecycle set is cleared first and loaderID is adopted. Idempotent.
func (f *Frame) onLifecycleEvent(loaderID cdp.LoaderID, name string) {
	f.mu.Lock()
	if loaderID != "" && loaderID != f.lifecycleLoaderID {
		for k := range f.lifecycleEvents {
			delete(f.lifecycleEvents, k)
		}
		f.lifecycleLoaderID = loaderID
	}
	f.lifecycleEvents[name] = true
	f.mu.Unlock()
}

func (f *Frame) hasLifecycleEventFired(name string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lifecycleEvents[name]
}

func (f *Frame) hasSubtreeLifecycleEventFired(name string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.subtreeLifecycleEvents[name]
}

// HasSubtreeLifecycleEventFired reports whether name has fired for this
// frame and, recursively, every descendant - the predicate the navigation
// watcher evaluates per expected lifecycle name.
func (f *Frame) HasSubtreeLifecycleEventFired(name string) bool {
	return f.hasSubtreeLifecycleEventFired(name)
}

// recalculateLifecycle recomputes this frame's subtree lifecycle set
// bottom-up: an event counts for the subtree only once every descendant
// has also fired it. It returns the sets of names that newly became true
// and newly became false at this frame; its callers discard them.
func (f *Frame) recalculateLifecycle() (added, removed []string) {
	f.mu.RLock()
	events := make(map[string]bool, len(f.lifecycleEvents))
	for k, v := range f.lifecycleEvents {
		events[k] = v
	}
	children := make([]cdp.FrameID, len(f.children))
	copy(children, f.children)
	f.mu.RUnlock()

	for _, id := range children {
		child := f.manager.FrameByID(id)
		if child == nil {
			continue
		}
		child.recalculateLifecycle() // ignore sub-results; only membership matters here
		for k := range events {
			if !child.hasSubtreeLifecycleEventFired(k) {
				delete(events, k)
			}
		}
	}

	f.mu.Lock()
	for k := range events {
		if !f.subtreeLifecycleEvents[k] {
			added = append(added, k)
		}
	}
	for k := range f.subtreeLifecycleEvents {
		if !events[k] {
			removed = append(removed, k)
		}
	}
	f.subtreeLifecycleEvents = events
	f.mu.Unlock()

	return added, removed
}

func (f *Frame) addInflightRequest(id string) {
	f.networkIdleMu.Lock()
	f.inflightRequests[id] = true
	f.networkIdleMu.Unlock()
	f.stopNetworkIdleTimer()
}

func (f *Frame) removeInflightRequest(id string) {
	f.networkIdleMu.Lock()
	delete(f.inflightRequests, id)
	empty := len(f.inflightRequests) == 0
	f.networkIdleMu.Unlock()
	if empty {
		f.startNetworkIdleTimer()
	}
}

// startNetworkIdleTimer arms a timer that fires LifecycleNetworkIdle after
// NetworkIdleTimeout of no in-flight requests. A new in-flight request
// should call stopNetworkIdleTimer to disarm it.
func (f *Frame) startNetworkIdleTimer() {
	if f.hasLifecycleEventFired(LifecycleNetworkIdle) || f.IsDetached() {
		return
	}
	f.stopNetworkIdleTimer()

	ctx, cancel := context.WithCancel(context.Background())
	f.networkIdleMu.Lock()
	f.networkIdleCancelFn = cancel
	f.networkIdleMu.Unlock()

	frameID, loaderID := f.ID(), f.LoaderID()
	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(NetworkIdleTimeout):
			f.manager.reportFrameLifecycleEvent(frameID, loaderID, LifecycleNetworkIdle)
		}
	}()
}

func (f *Frame) stopNetworkIdleTimer() {
	f.networkIdleMu.Lock()
	defer f.networkIdleMu.Unlock()
	if f.networkIdleCancelFn != nil {
		f.networkIdleCancelFn()
		f.networkIdleCancelFn = nil
	}
}
