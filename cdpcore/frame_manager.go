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
	"encoding/json"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/runtime"

	"github.com/xMarkos/browserkit/internal/corelog"
	"github.com/xMarkos/browserkit/internal/eventbus"
)

// NavigationEvent carries the payload of FrameNavigated and
// FrameNavigatedWithinDocument.
type NavigationEvent struct {
	Frame *Frame
	URL   string
	Name  string
}

// LifecycleEventData carries the payload of LifecycleEvent.
type LifecycleEventData struct {
	Frame *Frame
	Name  string
}

// FrameManager owns one target's frame tree and the execution contexts
// attached to it. It is the sole authority over frame identity: a Frame
// never outlives removal from FrameManager's frames map, and every weak
// parent/child reference a Frame holds is resolved back through here.
type FrameManager struct {
	session *Session
	logger  *corelog.Logger

	mu        sync.RWMutex
	frames    map[cdp.FrameID]*Frame
	mainFrame *Frame

	contextsMu sync.Mutex
	contexts   map[runtime.ExecutionContextID]*ExecutionContext

	handlersMu sync.Mutex
	handlers   map[string]*eventbus.List
}

// NewFrameManager constructs a FrameManager bound to session. The main
// frame is created lazily on the first Page.frameNavigated for it.
func NewFrameManager(session *Session, logger *corelog.Logger) *FrameManager {
	return &FrameManager{
		session:  session,
		logger:   logger,
		frames:   make(map[cdp.FrameID]*Frame),
		contexts: make(map[runtime.ExecutionContextID]*ExecutionContext),
		handlers: make(map[string]*eventbus.List),
	}
}

// On subscribes h to one of EventFrameAttached, EventFrameDetached,
// EventFrameNavigated, EventFrameNavigatedWithinDocument or
// EventLifecycleEvent.
func (m *FrameManager) On(event string, h func(sender, data interface{})) *eventbus.Subscription {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	list, ok := m.handlers[event]
	if !ok {
		list = &eventbus.List{}
		m.handlers[event] = list
	}
	return list.AddSync(h)
}

// Off removes a subscription previously returned by On, from the same
// named event list.
func (m *FrameManager) Off(event string, sub *eventbus.Subscription) {
	m.handlersMu.Lock()
	list := m.handlers[event]
	m.handlersMu.Unlock()
	if list != nil {
		list.Remove(sub)
	}
}

func (m *FrameManager) emit(event string, data interface{}) {
	m.handlersMu.Lock()
	list := m.handlers[event]
	m.handlersMu.Unlock()
	if list == nil {
		return
	}
	list.InvokeAsync(m.session.ctx, m, data, func(err error) {
		m.logger.Errorf("framemanager", "handler for %q failed: %s", event, err)
	})
}

// FrameByID looks up a frame by id. Returns nil if unknown or already
// detached and removed.
func (m *FrameManager) FrameByID(id cdp.FrameID) *Frame {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.frames[id]
}

// Frames returns a snapshot of every frame currently in the tree, in no
// particular order.
func (m *FrameManager) Frames() []*Frame {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Frame, 0, len(m.frames))
	for _, f := range m.frames {
		out = append(out, f)
	}
	return out
}

// MainFrame returns the page's main frame, or nil before the first
// navigation has committed.
func (m *FrameManager) MainFrame() *Frame {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mainFrame
}

// reportFrameLifecycleEvent is the entry point used both by the
// Page.lifecycleEvent handler and by a Frame's own network-idle timer,
// which synthesizes a LifecycleNetworkIdle event once a frame has gone
// quiet for NetworkIdleTimeout.
func (m *FrameManager) reportFrameLifecycleEvent(frameID cdp.FrameID, loaderID cdp.LoaderID, name string) {
	m.frameLifecycleEvent(frameID, loaderID, name)
}

// frameAttached implements Page.frameAttached: an unknown parent is a
// protocol-ordering anomaly, silently ignored since the following
// frameNavigated recreates the correct state.
func (m *FrameManager) frameAttached(frameID, parentFrameID cdp.FrameID) {
	m.mu.Lock()
	if _, ok := m.frames[frameID]; ok {
		m.mu.Unlock()
		return
	}
	parent, ok := m.frames[parentFrameID]
	if !ok {
		m.mu.Unlock()
		return
	}
	frame := newFrame(m, frameID, parentFrameID)
	m.frames[frameID] = frame
	m.mu.Unlock()

	parent.addChild(frameID)
	m.emit(EventFrameAttached, frame)
}

// frameNavigated implements Page.frameNavigated. Every existing child of
// the navigating frame is detached first, depth-first. A main-frame
// navigation updates the existing main frame (rewriting its id on
// cross-process navigation) or creates it if this is the first
// navigation. loaderID is what the protocol calls the frame's document
// id; it becomes the frame's new LoaderID.
func (m *FrameManager) frameNavigated(frameID, parentFrameID cdp.FrameID, loaderID cdp.LoaderID, name, url string) {
	isMainFrame := parentFrameID == ""

	m.mu.RLock()
	frame := m.frames[frameID]
	if isMainFrame {
		frame = m.mainFrame
	}
	m.mu.RUnlock()

	if frame != nil {
		for _, child := range frame.ChildFrames() {
			m.removeFramesRecursively(child)
		}
	}

	m.mu.Lock()
	if isMainFrame {
		if frame != nil {
			delete(m.frames, frame.ID())
			frame.setID(frameID)
		} else {
			frame = newFrame(m, frameID, "")
		}
		m.frames[frameID] = frame
		m.mainFrame = frame
	}
	m.mu.Unlock()

	if frame == nil {
		// Non-main-frame navigation for an id FrameManager never saw
		// attached - a protocol-ordering anomaly. Nothing to update.
		return
	}

	frame.navigated(name, url, loaderID)
	frame.clearLifecycle()

	m.emit(EventFrameNavigated, &NavigationEvent{Frame: frame, URL: url, Name: name})
}

// frameNavigatedWithinDocument implements Page.navigatedWithinDocument:
// the url changes but loaderID does not, so no lifecycle reset happens.
func (m *FrameManager) frameNavigatedWithinDocument(frameID cdp.FrameID, url string) {
	frame := m.FrameByID(frameID)
	if frame == nil {
		return
	}
	frame.navigatedWithinDocument(url)
	m.emit(EventFrameNavigatedWithinDocument, &NavigationEvent{Frame: frame, URL: url, Name: frame.Name()})
	m.emit(EventFrameNavigated, &NavigationEvent{Frame: frame, URL: url, Name: frame.Name()})
}

// frameDetached implements Page.frameDetached: the frame's subtree is
// detached recursively, each removed from frames and emitted.
func (m *FrameManager) frameDetached(frameID cdp.FrameID) {
	m.mu.RLock()
	frame, ok := m.frames[frameID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	m.removeFramesRecursively(frame)
}

// removeFramesRecursively detaches frame's subtree depth-first then frame
// itself, removing each from m.frames and emitting FrameDetached. Each
// node's own map mutation is independently locked so the recursive walk
// never holds m.mu while resolving a child's children through FrameByID.
func (m *FrameManager) removeFramesRecursively(frame *Frame) {
	for _, child := range frame.ChildFrames() {
		m.removeFramesRecursively(child)
	}
	frame.detach()

	m.mu.Lock()
	delete(m.frames, frame.ID())
	m.mu.Unlock()

	m.emit(EventFrameDetached, frame)
}

// frameLifecycleEvent implements Page.lifecycleEvent and the synthetic
// network-idle event: record name on the frame, recompute the whole
// tree's subtree lifecycle sets bottom-up from the main frame, and emit.
func (m *FrameManager) frameLifecycleEvent(frameID cdp.FrameID, loaderID cdp.LoaderID, name string) {
	frame := m.FrameByID(frameID)
	if frame == nil {
		return
	}
	frame.onLifecycleEvent(loaderID, name)

	main := m.MainFrame()
	if main != nil {
		main.recalculateLifecycle()
	}

	m.emit(EventLifecycleEvent, &LifecycleEventData{Frame: frame, Name: name})
}

// frameStoppedLoading implements Page.frameStoppedLoading: it merely
// re-emits LifecycleEvent for the frame so watchers evaluating a
// composite predicate get another chance to observe completion.
func (m *FrameManager) frameStoppedLoading(frameID cdp.FrameID) {
	frame := m.FrameByID(frameID)
	if frame == nil {
		return
	}
	m.emit(EventLifecycleEvent, &LifecycleEventData{Frame: frame, Name: ""})
}

type executionContextAuxData struct {
	FrameID   cdp.FrameID `json:"frameId"`
	IsDefault bool        `json:"isDefault"`
}

// onExecutionContextCreated implements Runtime.executionContextCreated:
// the context is tracked in contexts regardless of world, but only the
// "default world" context (aux data isDefault) is installed as its
// frame's default context.
func (m *FrameManager) onExecutionContextCreated(ev *runtime.EventExecutionContextCreated) {
	var aux executionContextAuxData
	if len(ev.Context.AuxData) > 0 {
		if err := json.Unmarshal([]byte(ev.Context.AuxData), &aux); err != nil {
			m.logger.Debugf("framemanager", "cannot parse executionContextCreated aux data: %s", err)
		}
	}

	ctx := NewExecutionContext(m.session, nil, ev.Context.ID, m.logger)

	if aux.FrameID != "" {
		if frame := m.FrameByID(aux.FrameID); frame != nil {
			ctx = NewExecutionContext(m.session, frame, ev.Context.ID, m.logger)
			if aux.IsDefault {
				frame.setDefaultContext(ctx)
			}
		}
	}

	m.contextsMu.Lock()
	m.contexts[ev.Context.ID] = ctx
	m.contextsMu.Unlock()
}

// onExecutionContextDestroyed implements
// Runtime.executionContextDestroyed: the context is dropped from
// contexts and, if it was a frame's default, unset there too.
func (m *FrameManager) onExecutionContextDestroyed(id runtime.ExecutionContextID) {
	m.contextsMu.Lock()
	ctx, ok := m.contexts[id]
	delete(m.contexts, id)
	m.contextsMu.Unlock()
	if !ok {
		return
	}
	ctx.markDestroyed()
	if frame := ctx.Frame(); frame != nil {
		frame.nullContext(int64(id))
	}
}

// onExecutionContextsCleared implements
// Runtime.executionContextsCleared: every tracked context is destroyed
// en masse, typically on a cross-document navigation.
func (m *FrameManager) onExecutionContextsCleared() {
	m.contextsMu.Lock()
	cleared := make([]*ExecutionContext, 0, len(m.contexts))
	for _, ctx := range m.contexts {
		cleared = append(cleared, ctx)
	}
	m.contexts = make(map[runtime.ExecutionContextID]*ExecutionContext)
	m.contextsMu.Unlock()

	for _, ctx := range cleared {
		ctx.markDestroyed()
		if frame := ctx.Frame(); frame != nil {
			frame.nullContext(int64(ctx.ID()))
		}
	}
}
