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
	"testing"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xMarkos/browserkit/internal/corelog"
)

// newTestSession builds a Session backed by a fake Connection whose
// sendCh is drained by a goroutine that immediately acknowledges every
// outbound command with an empty success reply, so NetworkManager code
// paths that issue Network.*/Fetch.* commands (continueRequest,
// updateProtocolInterception, ...) don't block forever waiting for a
// real browser.
func newTestSession(t *testing.T) *Session {
	t.Helper()
	conn := &Connection{sendCh: make(chan *cdproto.Message, 32)}
	sess := newSession(context.Background(), conn, "session-0", "target-0", corelog.NewNull())
	go func() {
		for msg := range conn.sendCh {
			sess.deliver(&cdproto.Message{ID: msg.ID})
		}
	}()
	return sess
}

// monoTS/wallTS build the timestamp pair every real requestWillBeSent
// event carries; NewRequest dereferences both unconditionally.
func monoTS(v float64) *cdp.MonotonicTime {
	t := cdp.MonotonicTime(v)
	return &t
}

func wallTS(v float64) *cdp.TimeSinceEpoch {
	t := cdp.TimeSinceEpoch(v)
	return &t
}

func newTestNetworkManager(t *testing.T) (*NetworkManager, *FrameManager) {
	t.Helper()
	sess := newTestSession(t)
	fm := NewFrameManager(sess, corelog.NewNull())
	fm.frameNavigated(cdp.FrameID("main"), "", cdp.LoaderID("loader-1"), "", "https://example.com/")
	nm := NewNetworkManager(context.Background(), sess, fm, corelog.NewNull())
	return nm, fm
}

func TestNetworkManagerCorrelatesWillBeSentThenIntercepted(t *testing.T) {
	t.Parallel()

	nm, _ := newTestNetworkManager(t)
	require.NoError(t, nm.SetRequestInterception(true))

	var started *Request
	nm.On(EventRequest, func(sender, data interface{}) { started = data.(*Request) })

	nm.onRequestWillBeSent(&network.EventRequestWillBeSent{
		RequestID: network.RequestID("req-1"),
		FrameID:   cdp.FrameID("main"),
		Request:   &network.Request{Method: "GET", URL: "https://example.com/a"},
		Timestamp: monoTS(1),
		WallTime:  wallTS(1),
	})
	// Before the matching requestPaused arrives, the request is only
	// held pending - it is not yet visible to subscribers.
	assert.Nil(t, started)

	nm.onRequestPaused(&fetch.EventRequestPaused{
		RequestID: fetch.RequestID("icept-1"),
		Request:   &network.Request{Method: "GET", URL: "https://example.com/a"},
	})

	require.NotNil(t, started)
	assert.Equal(t, network.RequestID("req-1"), started.getID())
	assert.Equal(t, "icept-1", started.getInterceptionID())
}

func TestNetworkManagerCorrelatesInterceptedThenWillBeSent(t *testing.T) {
	t.Parallel()

	nm, _ := newTestNetworkManager(t)
	require.NoError(t, nm.SetRequestInterception(true))

	var started *Request
	nm.On(EventRequest, func(sender, data interface{}) { started = data.(*Request) })

	// The reverse arrival order must correlate identically.
	nm.onRequestPaused(&fetch.EventRequestPaused{
		RequestID: fetch.RequestID("icept-2"),
		Request:   &network.Request{Method: "GET", URL: "https://example.com/b"},
	})
	assert.Nil(t, started)

	nm.onRequestWillBeSent(&network.EventRequestWillBeSent{
		RequestID: network.RequestID("req-2"),
		FrameID:   cdp.FrameID("main"),
		Request:   &network.Request{Method: "GET", URL: "https://example.com/b"},
		Timestamp: monoTS(1),
		WallTime:  wallTS(1),
	})

	require.NotNil(t, started)
	assert.Equal(t, network.RequestID("req-2"), started.getID())
	assert.Equal(t, "icept-2", started.getInterceptionID())
}

func TestNetworkManagerWithoutInterceptionStartsImmediately(t *testing.T) {
	t.Parallel()

	nm, _ := newTestNetworkManager(t)

	var started *Request
	nm.On(EventRequest, func(sender, data interface{}) { started = data.(*Request) })

	nm.onRequestWillBeSent(&network.EventRequestWillBeSent{
		RequestID: network.RequestID("req-3"),
		FrameID:   cdp.FrameID("main"),
		Request:   &network.Request{Method: "GET", URL: "https://example.com/c"},
		Timestamp: monoTS(1),
		WallTime:  wallTS(1),
	})

	require.NotNil(t, started)
	assert.Empty(t, started.getInterceptionID())
}

func TestNetworkManagerRedirectFinalizesPriorRequestAndCarriesChain(t *testing.T) {
	t.Parallel()

	nm, _ := newTestNetworkManager(t)

	var (
		finished  []*Request
		responses []*Response
	)
	nm.On(EventRequestFinished, func(sender, data interface{}) { finished = append(finished, data.(*Request)) })
	nm.On(EventResponse, func(sender, data interface{}) { responses = append(responses, data.(*Response)) })

	nm.onRequestWillBeSent(&network.EventRequestWillBeSent{
		RequestID: network.RequestID("req-4"),
		FrameID:   cdp.FrameID("main"),
		Request:   &network.Request{Method: "GET", URL: "https://example.com/old"},
		Timestamp: monoTS(1),
		WallTime:  wallTS(1),
	})

	nm.onRequestWillBeSent(&network.EventRequestWillBeSent{
		RequestID:        network.RequestID("req-4"),
		FrameID:          cdp.FrameID("main"),
		Request:          &network.Request{Method: "GET", URL: "https://example.com/new"},
		RedirectResponse: &network.Response{URL: "https://example.com/old", Status: 302},
		Timestamp:        monoTS(2),
		WallTime:         wallTS(2),
	})

	require.Len(t, finished, 1)
	require.Len(t, responses, 1)
	assert.Equal(t, network.RequestID("req-4"), finished[0].getID())

	body, err := responses[0].Body()
	assert.Nil(t, body)
	assert.Error(t, err)

	// The request now tracked under req-4's id is the *new* hop, carrying
	// the old one in its redirect chain.
	newReq := nm.requestFromID(network.RequestID("req-4"))
	require.NotNil(t, newReq)
	assert.Equal(t, "https://example.com/new", newReq.URL())
	require.Len(t, newReq.redirectChain, 1)
	assert.Equal(t, "https://example.com/old", newReq.redirectChain[0].URL())
}

func TestNetworkManagerAuthDefaultsWithoutCredentials(t *testing.T) {
	t.Parallel()

	nm, _ := newTestNetworkManager(t)
	require.NoError(t, nm.SetRequestInterception(true))

	nm.onAuthRequired(&fetch.EventAuthRequired{
		RequestID:     fetch.RequestID("auth-1"),
		AuthChallenge: &fetch.AuthChallenge{},
	})
	// No assertion beyond "does not block/panic without credentials" -
	// the protocol response (Default) is unobservable from here without
	// a real transport; onAuthRequired's decision is covered indirectly
	// through the credentials-configured tests below.
}

func TestNetworkManagerAuthProvidesCredentialsOnceThenCancels(t *testing.T) {
	t.Parallel()

	nm, _ := newTestNetworkManager(t)
	require.NoError(t, nm.Authenticate(&Credentials{Username: "u", Password: "p"}))

	interceptionID := fetch.RequestID("auth-2")

	// First challenge for this interception id: credentials are offered
	// and the attempt is recorded.
	nm.onAuthRequired(&fetch.EventAuthRequired{
		RequestID:     interceptionID,
		AuthChallenge: &fetch.AuthChallenge{},
	})
	nm.mu.Lock()
	attempted := nm.attemptedAuthentications[string(interceptionID)]
	nm.mu.Unlock()
	assert.True(t, attempted)

	// A second challenge for the *same* interception id must not retry
	// credentials - it is cancelled to prevent an infinite auth loop.
	// onAuthRequired has no return value to assert on directly; re-entry
	// is exercised here purely to confirm it does not panic or re-offer
	// credentials via a second attemptedAuthentications write path.
	nm.onAuthRequired(&fetch.EventAuthRequired{
		RequestID:     interceptionID,
		AuthChallenge: &fetch.AuthChallenge{},
	})
}

func TestNetworkManagerUpdateProtocolInterceptionTogglesOnCredentialsAlone(t *testing.T) {
	t.Parallel()

	nm, _ := newTestNetworkManager(t)
	assert.False(t, nm.protocolInterceptionEnabled)

	require.NoError(t, nm.Authenticate(&Credentials{Username: "u", Password: "p"}))
	assert.True(t, nm.protocolInterceptionEnabled)

	require.NoError(t, nm.Authenticate(nil))
	assert.False(t, nm.protocolInterceptionEnabled)
}

func TestNetworkManagerOnRequestServedFromCacheMarksRequest(t *testing.T) {
	t.Parallel()

	nm, _ := newTestNetworkManager(t)

	var started *Request
	nm.On(EventRequest, func(sender, data interface{}) { started = data.(*Request) })
	nm.onRequestWillBeSent(&network.EventRequestWillBeSent{
		RequestID: network.RequestID("req-5"),
		FrameID:   cdp.FrameID("main"),
		Request:   &network.Request{Method: "GET", URL: "https://example.com/cached"},
		Timestamp: monoTS(1),
		WallTime:  wallTS(1),
	})
	require.NotNil(t, started)
	assert.False(t, started.FromMemoryCache())

	nm.onRequestServedFromCache(&network.EventRequestServedFromCache{RequestID: network.RequestID("req-5")})
	assert.True(t, started.FromMemoryCache())
}

func TestNetworkManagerRequestForDocumentFindsNavigationRequest(t *testing.T) {
	t.Parallel()

	nm, _ := newTestNetworkManager(t)

	nm.onRequestWillBeSent(&network.EventRequestWillBeSent{
		RequestID: network.RequestID("nav-loader-2"),
		FrameID:   cdp.FrameID("main"),
		LoaderID:  cdp.LoaderID("nav-loader-2"),
		Request:   &network.Request{Method: "GET", URL: "https://example.com/"},
		Type:      network.ResourceTypeDocument,
		Timestamp: monoTS(1),
		WallTime:  wallTS(1),
	})

	req := nm.RequestForDocument(cdp.LoaderID("nav-loader-2"))
	require.NotNil(t, req)
	assert.Equal(t, network.RequestID("nav-loader-2"), req.getID())

	assert.Nil(t, nm.RequestForDocument(cdp.LoaderID("no-such-loader")))
}

func TestNetworkManagerRequestForDocumentSurvivesLoadingFinished(t *testing.T) {
	t.Parallel()

	nm, _ := newTestNetworkManager(t)

	nm.onRequestWillBeSent(&network.EventRequestWillBeSent{
		RequestID: network.RequestID("nav-loader-3"),
		FrameID:   cdp.FrameID("main"),
		LoaderID:  cdp.LoaderID("nav-loader-3"),
		Request:   &network.Request{Method: "GET", URL: "https://example.com/"},
		Type:      network.ResourceTypeDocument,
		Timestamp: monoTS(1),
		WallTime:  wallTS(1),
	})

	nm.onLoadingFinished(&network.EventLoadingFinished{RequestID: network.RequestID("nav-loader-3")})

	// The document's body has finished loading (and so has been dropped
	// from the live in-flight map), but the navigation request must
	// still be reachable for callers that ask for it only once the
	// "load" lifecycle event fires - which happens after loadingFinished.
	assert.Nil(t, nm.requestFromID(network.RequestID("nav-loader-3")))
	req := nm.RequestForDocument(cdp.LoaderID("nav-loader-3"))
	require.NotNil(t, req)
	assert.Equal(t, network.RequestID("nav-loader-3"), req.getID())
}

func TestNetworkManagerLoadingFinishedAndFailedEmitAndClearInflight(t *testing.T) {
	t.Parallel()

	nm, fm := newTestNetworkManager(t)
	frame := fm.MainFrame()

	nm.onRequestWillBeSent(&network.EventRequestWillBeSent{
		RequestID: network.RequestID("req-7"),
		FrameID:   frame.ID(),
		Request:   &network.Request{Method: "GET", URL: "https://example.com/ok"},
		Timestamp: monoTS(1),
		WallTime:  wallTS(1),
	})
	nm.onRequestWillBeSent(&network.EventRequestWillBeSent{
		RequestID: network.RequestID("req-8"),
		FrameID:   frame.ID(),
		Request:   &network.Request{Method: "GET", URL: "https://example.com/bad"},
		Timestamp: monoTS(1),
		WallTime:  wallTS(1),
	})

	var finished, failed []*Request
	nm.On(EventRequestFinished, func(sender, data interface{}) { finished = append(finished, data.(*Request)) })
	nm.On(EventRequestFailed, func(sender, data interface{}) { failed = append(failed, data.(*Request)) })

	nm.onLoadingFinished(&network.EventLoadingFinished{RequestID: network.RequestID("req-7")})
	nm.onLoadingFailed(&network.EventLoadingFailed{RequestID: network.RequestID("req-8"), ErrorText: "net::ERR_FAILED"})

	require.Len(t, finished, 1)
	require.Len(t, failed, 1)
	assert.Nil(t, nm.requestFromID(network.RequestID("req-7")))
	assert.Nil(t, nm.requestFromID(network.RequestID("req-8")))
}
