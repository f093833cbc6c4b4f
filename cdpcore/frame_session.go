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
	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
)

// wireFrameSessionEvents subscribes fm and nm to every protocol event
// their unexported handlers implement, translating each typed event into
// the corresponding method call. This is the one place in the core that
// knows both the wire vocabulary and which manager owns which slice of
// it - FrameManager and NetworkManager themselves take plain arguments
// and never touch *Session directly.
func wireFrameSessionEvents(sess *Session, fm *FrameManager, nm *NetworkManager) {
	// Inspector.targetCrashed means the renderer is gone; mark the
	// session crashed so Execute/ExecuteWithoutExpectationOnReply start
	// failing fast with ErrTargetClosed instead of hanging on replies
	// that will never arrive.
	sess.On(cdproto.EventInspectorTargetCrashed, func(_, _ interface{}) {
		sess.markCrashed()
	})

	sess.On(cdproto.EventPageFrameAttached, func(_, data interface{}) {
		ev := data.(*page.EventFrameAttached)
		fm.frameAttached(ev.FrameID, ev.ParentFrameID)
	})
	sess.On(cdproto.EventPageFrameNavigated, func(_, data interface{}) {
		ev := data.(*page.EventFrameNavigated)
		f := ev.Frame
		fm.frameNavigated(f.ID, f.ParentID, f.LoaderID, f.Name, f.URL)
	})
	sess.On(cdproto.EventPageNavigatedWithinDocument, func(_, data interface{}) {
		ev := data.(*page.EventNavigatedWithinDocument)
		fm.frameNavigatedWithinDocument(ev.FrameID, ev.URL)
	})
	sess.On(cdproto.EventPageFrameDetached, func(_, data interface{}) {
		ev := data.(*page.EventFrameDetached)
		fm.frameDetached(ev.FrameID)
	})
	sess.On(cdproto.EventPageLifecycleEvent, func(_, data interface{}) {
		ev := data.(*page.EventLifecycleEvent)
		fm.frameLifecycleEvent(ev.FrameID, ev.LoaderID, ev.Name)
	})
	sess.On(cdproto.EventPageFrameStoppedLoading, func(_, data interface{}) {
		ev := data.(*page.EventFrameStoppedLoading)
		fm.frameStoppedLoading(ev.FrameID)
	})

	sess.On(cdproto.EventRuntimeExecutionContextCreated, func(_, data interface{}) {
		fm.onExecutionContextCreated(data.(*runtime.EventExecutionContextCreated))
	})
	sess.On(cdproto.EventRuntimeExecutionContextDestroyed, func(_, data interface{}) {
		fm.onExecutionContextDestroyed(data.(*runtime.EventExecutionContextDestroyed).ExecutionContextID)
	})
	sess.On(cdproto.EventRuntimeExecutionContextsCleared, func(_, data interface{}) {
		fm.onExecutionContextsCleared()
	})

	sess.On(cdproto.EventNetworkRequestWillBeSent, func(_, data interface{}) {
		nm.onRequestWillBeSent(data.(*network.EventRequestWillBeSent))
	})
	sess.On(cdproto.EventFetchRequestPaused, func(_, data interface{}) {
		nm.onRequestPaused(data.(*fetch.EventRequestPaused))
	})
	sess.On(cdproto.EventFetchAuthRequired, func(_, data interface{}) {
		nm.onAuthRequired(data.(*fetch.EventAuthRequired))
	})
	sess.On(cdproto.EventNetworkResponseReceived, func(_, data interface{}) {
		nm.onResponseReceived(data.(*network.EventResponseReceived))
	})
	sess.On(cdproto.EventNetworkLoadingFinished, func(_, data interface{}) {
		nm.onLoadingFinished(data.(*network.EventLoadingFinished))
	})
	sess.On(cdproto.EventNetworkLoadingFailed, func(_, data interface{}) {
		nm.onLoadingFailed(data.(*network.EventLoadingFailed))
	})
	sess.On(cdproto.EventNetworkRequestServedFromCache, func(_, data interface{}) {
		nm.onRequestServedFromCache(data.(*network.EventRequestServedFromCache))
	})
}
