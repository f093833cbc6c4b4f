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
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"

	"github.com/xMarkos/browserkit/internal/cdperr"
	"github.com/xMarkos/browserkit/internal/corelog"
	"github.com/xMarkos/browserkit/internal/eventbus"
	"github.com/xMarkos/browserkit/internal/metrics"
	"github.com/xMarkos/browserkit/internal/multimap"
)

// Credentials are offered in response to a Fetch.authRequired challenge.
type Credentials struct {
	Username string
	Password string
}

// NetworkManager owns one target's view of the request/response
// lifecycle. Interception rides the Fetch domain (Fetch.requestPaused/
// Fetch.authRequired), whose pause events carry their own
// Fetch.RequestId rather than the Network.RequestId a requestWillBeSent
// arrives with, so the two still need correlating - this core does it
// by content hash (method+URL) rather than id, exactly as the classic
// Network.setRequestInterception model required, since either event can
// arrive first.
type NetworkManager struct {
	ctx          context.Context
	session      *Session
	frameManager *FrameManager
	logger       *corelog.Logger
	metrics      *metrics.Registry

	mu                      sync.Mutex
	requestIDToRequest      map[network.RequestID]*Request
	interceptionIDToRequest map[string]*Request

	// documentIDToRequest keeps the navigation request for a given
	// document (loader) id reachable after onLoadingFinished/
	// onLoadingFailed drop it from requestIDToRequest - that happens as
	// soon as the document's body finishes loading, which is before the
	// "load" lifecycle event callers normally wait on, so RequestForDocument
	// must not depend on the request still being in flight.
	documentIDToRequest map[string]*Request

	// pendingRequestWillBeSent/pendingRequestPaused hold the raw event
	// payload for whichever half of a correlated pair arrived first,
	// keyed by the id that arrived with it, until the other half
	// consumes it.
	pendingRequestWillBeSent map[network.RequestID]*network.EventRequestWillBeSent
	pendingRequestPaused     map[string]*fetch.EventRequestPaused

	requestHashToRequestIDs     *multimap.Map[string, network.RequestID]
	requestHashToInterceptionIDs *multimap.Map[string, string]

	attemptedAuthentications map[string]bool

	userInterceptionEnabled     bool
	protocolInterceptionEnabled bool
	offline                     bool
	extraHeaders                map[string]string
	credentials                 *Credentials

	handlersMu sync.Mutex
	handlers   map[string]*eventbus.List
}

// NewNetworkManager constructs a NetworkManager bound to session and fm.
// The caller is responsible for subscribing it to the session's
// Network.* and Fetch.* events via On* handlers registered with
// session.On.
func NewNetworkManager(ctx context.Context, session *Session, fm *FrameManager, logger *corelog.Logger) *NetworkManager {
	return &NetworkManager{
		ctx:                          ctx,
		session:                      session,
		frameManager:                 fm,
		logger:                       logger,
		metrics:                      metrics.Default(),
		requestIDToRequest:           make(map[network.RequestID]*Request),
		interceptionIDToRequest:      make(map[string]*Request),
		documentIDToRequest:          make(map[string]*Request),
		pendingRequestWillBeSent:     make(map[network.RequestID]*network.EventRequestWillBeSent),
		pendingRequestPaused:         make(map[string]*fetch.EventRequestPaused),
		requestHashToRequestIDs:      multimap.New[string, network.RequestID](),
		requestHashToInterceptionIDs: multimap.New[string, string](),
		attemptedAuthentications:     make(map[string]bool),
		extraHeaders:                 make(map[string]string),
		handlers:                     make(map[string]*eventbus.List),
	}
}

// SetMetricsRegistry overrides the registry observations are recorded
// against, e.g. to isolate a test's counters from the process default.
func (m *NetworkManager) SetMetricsRegistry(reg *metrics.Registry) {
	m.metrics = reg
}

// requestHash is the content-derived correlation key: method and URL
// identify the same logical HTTP request across the requestWillBeSent/
// requestPaused pair the browser emits for it.
func requestHash(method, url string) string {
	return method + " " + url
}

// On subscribes h to one of EventRequest, EventRequestFailed,
// EventRequestFinished or EventResponse.
func (m *NetworkManager) On(event string, h func(sender, data interface{})) *eventbus.Subscription {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	list, ok := m.handlers[event]
	if !ok {
		list = &eventbus.List{}
		m.handlers[event] = list
	}
	return list.AddSync(h)
}

func (m *NetworkManager) emit(event string, data interface{}) {
	m.handlersMu.Lock()
	list := m.handlers[event]
	m.handlersMu.Unlock()
	if list == nil {
		return
	}
	list.InvokeAsync(m.ctx, m, data, func(err error) {
		m.logger.Errorf("networkmanager", "handler for %q failed: %s", event, err)
	})
}

// requestFromID tolerates an unknown id - every caller in this file
// treats that as "silently drop", per the failure semantics §4.5
// requires (the browser may omit requestWillBeSent for some cached or
// failed responses).
func (m *NetworkManager) requestFromID(id network.RequestID) *Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestIDToRequest[id]
}

// RequestForDocument returns the tracked navigation request whose
// document id is loaderID, or nil if none is tracked (the navigation's
// response may not have been reported yet, or the request never went
// through interception/plain tracking). Looked up from documentIDToRequest
// rather than the live requestIDToRequest map, since the latter is
// cleared by onLoadingFinished as soon as the document's body finishes -
// before callers waiting on the "load" lifecycle event ever get to ask.
func (m *NetworkManager) RequestForDocument(loaderID cdp.LoaderID) *Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.documentIDToRequest[loaderID.String()]
}

// onRequestWillBeSent implements the requestWillBeSent half of the
// correlation rule, and the requestWillBeSent(redirectResponse) half of
// redirect finalization.
func (m *NetworkManager) onRequestWillBeSent(ev *network.EventRequestWillBeSent) {
	m.mu.Lock()

	var redirectChain []*Request
	var redirectedReq *Request
	var redirectRes *Response
	if ev.RedirectResponse != nil {
		if oldReq, ok := m.requestIDToRequest[ev.RequestID]; ok {
			redirectRes, redirectChain = m.finalizeRedirectLocked(oldReq, ev.RedirectResponse, ev.Timestamp)
			redirectedReq = oldReq
		}
	}

	if !m.protocolInterceptionEnabled {
		m.mu.Unlock()
		m.emitRedirectFinalization(redirectedReq, redirectRes)
		m.startRequest(ev, "", redirectChain)
		return
	}

	hash := requestHash(ev.Request.Method, ev.Request.URL)
	if interceptionID, ok := m.requestHashToInterceptionIDs.FirstValue(hash); ok {
		m.requestHashToInterceptionIDs.Delete(hash, func(v string) bool { return v == interceptionID })
		delete(m.pendingRequestPaused, interceptionID)
		m.mu.Unlock()
		m.emitRedirectFinalization(redirectedReq, redirectRes)
		m.startRequest(ev, interceptionID, redirectChain)
		m.continueRequest(interceptionID)
		return
	}

	m.requestHashToRequestIDs.Add(hash, ev.RequestID)
	m.pendingRequestWillBeSent[ev.RequestID] = ev
	m.mu.Unlock()
	m.emitRedirectFinalization(redirectedReq, redirectRes)
}

// emitRedirectFinalization emits EventResponse then EventRequestFinished
// for a request finalizeRedirectLocked just closed out, and records the
// finish metric. Caller must not hold m.mu. req/res are both nil when
// onRequestWillBeSent's event carried no redirect to finalize.
func (m *NetworkManager) emitRedirectFinalization(req *Request, res *Response) {
	if req == nil {
		return
	}
	m.emit(EventResponse, res)
	m.emit(EventRequestFinished, req)
	m.metrics.ObserveRequestFinished()
}

// onRequestPaused implements the Fetch.requestPaused half of the
// correlation rule. Redirects are finalized entirely from the
// requestWillBeSent side (the Network domain always emits a fresh
// requestWillBeSent(redirectResponse) for each hop, whether or not Fetch
// interception is active), so this half only ever needs to correlate
// and resume.
func (m *NetworkManager) onRequestPaused(ev *fetch.EventRequestPaused) {
	interceptionID := string(ev.RequestID)
	hash := requestHash(ev.Request.Method, ev.Request.URL)

	m.mu.Lock()
	if reqID, ok := m.requestHashToRequestIDs.FirstValue(hash); ok {
		m.requestHashToRequestIDs.Delete(hash, func(v network.RequestID) bool { return v == reqID })
		wbs := m.pendingRequestWillBeSent[reqID]
		delete(m.pendingRequestWillBeSent, reqID)
		m.mu.Unlock()
		if wbs != nil {
			m.startRequest(wbs, interceptionID, nil)
		}
		m.continueRequest(interceptionID)
		return
	}

	m.requestHashToInterceptionIDs.Add(hash, interceptionID)
	m.pendingRequestPaused[interceptionID] = ev
	m.mu.Unlock()
}

// startRequest creates and registers a Request from a requestWillBeSent
// payload, arms the owning frame's in-flight bookkeeping, and emits
// Request. Caller must not hold m.mu.
func (m *NetworkManager) startRequest(ev *network.EventRequestWillBeSent, interceptionID string, redirectChain []*Request) {
	frame := m.frameManager.FrameByID(ev.FrameID)

	req, err := NewRequest(NewRequestParams{
		Event:             ev,
		Frame:             frame,
		RedirectChain:     redirectChain,
		InterceptionID:    interceptionID,
		AllowInterception: m.protocolInterceptionEnabled,
	})
	if err != nil {
		m.logger.Errorf("networkmanager", "cannot build request for %s: %s", ev.RequestID, err)
		return
	}

	m.mu.Lock()
	m.requestIDToRequest[req.getID()] = req
	if interceptionID != "" {
		m.interceptionIDToRequest[interceptionID] = req
	}
	if req.isNavigationRequest {
		m.documentIDToRequest[req.getDocumentID()] = req
	}
	m.mu.Unlock()

	if frame != nil {
		frame.addInflightRequest(string(req.getID()))
	}

	m.emit(EventRequest, req)
	m.metrics.ObserveRequestStarted()
}

// finalizeRedirectLocked attaches resp to oldReq as its terminal
// response, permanently fails its body signal, removes it from both id
// maps, and returns resp plus the redirect chain the next hop should
// carry (oldReq's own chain plus itself). Caller must hold m.mu, and is
// responsible for emitting EventResponse/EventRequestFinished for oldReq
// after releasing it - this only mutates locked state.
func (m *NetworkManager) finalizeRedirectLocked(oldReq *Request, redirectResponse *network.Response, ts *cdp.MonotonicTime) (*Response, []*Request) {
	res := NewResponse(m.ctx, m.session, oldReq, redirectResponse, ts)
	res.failBody(cdperr.ErrBodyUnavailable)
	oldReq.setResponse(res)

	delete(m.requestIDToRequest, oldReq.getID())
	if id := oldReq.getInterceptionID(); id != "" {
		delete(m.interceptionIDToRequest, id)
	}

	chain := make([]*Request, len(oldReq.redirectChain)+1)
	copy(chain, oldReq.redirectChain)
	chain[len(oldReq.redirectChain)] = oldReq
	return res, chain
}

// continueRequest resumes a paused request unmodified. This core
// exposes no request-mutation hooks (no URL/method/header rewriting),
// so every non-auth interception is resumed as-is once correlated. Sent
// via ExecuteWithoutExpectationOnReply rather than the usual
// cdp.WithExecutor/Do path, since this fires from an unsolicited event
// handler and §7's propagation policy wants it best-effort - the target
// may already be gone by the time it's issued, and nothing here needs
// the reply.
func (m *NetworkManager) continueRequest(interceptionID string) {
	if interceptionID == "" {
		return
	}
	params := fetch.ContinueRequest(fetch.RequestID(interceptionID))
	err := m.session.ExecuteWithoutExpectationOnReply(m.ctx, "Fetch.continueRequest", params)
	if err != nil {
		m.logger.Debugf("networkmanager", "continuing request %s: %s", interceptionID, err)
	}
}

// onAuthRequired implements the authentication rule: Default when no
// credentials are configured, CancelAuth when this interception id has
// already been offered credentials once (auth-loop prevention),
// otherwise ProvideCredentials, recording the attempt.
func (m *NetworkManager) onAuthRequired(ev *fetch.EventAuthRequired) {
	interceptionID := ev.RequestID

	m.mu.Lock()
	var resp fetch.AuthChallengeResponseResponse
	var creds *Credentials
	switch {
	case m.credentials == nil:
		resp = fetch.AuthChallengeResponseResponseDefault
	case m.attemptedAuthentications[string(interceptionID)]:
		resp = fetch.AuthChallengeResponseResponseCancelAuth
	default:
		resp = fetch.AuthChallengeResponseResponseProvideCredentials
		creds = m.credentials
		m.attemptedAuthentications[string(interceptionID)] = true
	}
	m.mu.Unlock()

	challengeResponse := &fetch.AuthChallengeResponse{Response: resp}
	if creds != nil {
		challengeResponse.Username = creds.Username
		challengeResponse.Password = creds.Password
	}
	m.metrics.ObserveAuthChallenge(strings.ToLower(string(resp)))

	params := fetch.ContinueWithAuth(interceptionID, challengeResponse)
	err := m.session.ExecuteWithoutExpectationOnReply(m.ctx, "Fetch.continueWithAuth", params)
	if err != nil {
		m.logger.Debugf("networkmanager", "continuing request %s with auth response: %s", interceptionID, err)
	}
}

// onResponseReceived implements Network.responseReceived. Tolerates an
// unknown request id.
func (m *NetworkManager) onResponseReceived(ev *network.EventResponseReceived) {
	req := m.requestFromID(ev.RequestID)
	if req == nil {
		return
	}
	res := NewResponse(m.ctx, m.session, req, ev.Response, ev.Timestamp)
	req.setResponse(res)
	m.emit(EventResponse, res)
}

// onLoadingFinished implements Network.loadingFinished.
func (m *NetworkManager) onLoadingFinished(ev *network.EventLoadingFinished) {
	m.mu.Lock()
	req, ok := m.requestIDToRequest[ev.RequestID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.requestIDToRequest, ev.RequestID)
	if id := req.getInterceptionID(); id != "" {
		delete(m.interceptionIDToRequest, id)
	}
	m.mu.Unlock()

	if frame := req.getFrame(); frame != nil {
		frame.removeInflightRequest(string(req.getID()))
	}
	m.emit(EventRequestFinished, req)
	m.metrics.ObserveRequestFinished()
}

// onLoadingFailed implements Network.loadingFailed.
func (m *NetworkManager) onLoadingFailed(ev *network.EventLoadingFailed) {
	m.mu.Lock()
	req, ok := m.requestIDToRequest[ev.RequestID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.requestIDToRequest, ev.RequestID)
	if id := req.getInterceptionID(); id != "" {
		delete(m.interceptionIDToRequest, id)
	}
	m.mu.Unlock()

	req.setErrorText(ev.ErrorText)
	if frame := req.getFrame(); frame != nil {
		frame.removeInflightRequest(string(req.getID()))
	}
	m.emit(EventRequestFailed, req)
	m.metrics.ObserveRequestFailed()
}

// onRequestServedFromCache implements Network.requestServedFromCache:
// mark fromMemoryCache; no event is emitted.
func (m *NetworkManager) onRequestServedFromCache(ev *network.EventRequestServedFromCache) {
	req := m.requestFromID(ev.RequestID)
	if req == nil {
		return
	}
	req.setLoadedFromCache(true)
}

// updateProtocolInterception recomputes protocolInterceptionEnabled per
// the toggle formula and, when it flips, pushes Network.setCacheDisabled
// plus Fetch.enable/Fetch.disable - enabling the Fetch domain only when
// interception is actually wanted, since it carries a real performance
// overhead otherwise.
func (m *NetworkManager) updateProtocolInterception() error {
	m.mu.Lock()
	enabled := m.userInterceptionEnabled || m.credentials != nil
	if enabled == m.protocolInterceptionEnabled {
		m.mu.Unlock()
		return nil
	}
	m.protocolInterceptionEnabled = enabled
	m.mu.Unlock()

	if err := network.SetCacheDisabled(enabled).Do(cdp.WithExecutor(m.ctx, m.session)); err != nil {
		return fmt.Errorf("cannot set cache disabled: %w", err)
	}

	if !enabled {
		if err := fetch.Disable().Do(cdp.WithExecutor(m.ctx, m.session)); err != nil {
			return fmt.Errorf("cannot disable fetch domain: %w", err)
		}
		return nil
	}

	patterns := []*fetch.RequestPattern{{URLPattern: "*", RequestStage: fetch.RequestStageRequest}}
	if err := fetch.Enable().WithHandleAuthRequests(true).WithPatterns(patterns).
		Do(cdp.WithExecutor(m.ctx, m.session)); err != nil {
		return fmt.Errorf("cannot enable fetch domain: %w", err)
	}
	return nil
}

// SetRequestInterception toggles userInterceptionEnabled and reconciles
// the protocol-level toggle.
func (m *NetworkManager) SetRequestInterception(enabled bool) error {
	m.mu.Lock()
	m.userInterceptionEnabled = enabled
	m.mu.Unlock()
	return m.updateProtocolInterception()
}

// Authenticate configures (or clears, with nil) credentials offered on
// auth challenges and reconciles the protocol-level interception toggle,
// since credentials alone also force interception on.
func (m *NetworkManager) Authenticate(creds *Credentials) error {
	m.mu.Lock()
	m.credentials = creds
	m.mu.Unlock()
	return m.updateProtocolInterception()
}

// SetExtraHTTPHeaders installs headers sent with every subsequent
// request, lower-casing header names on ingress as §4.5 requires.
func (m *NetworkManager) SetExtraHTTPHeaders(headers map[string]string) error {
	lowered := make(network.Headers, len(headers))
	m.mu.Lock()
	m.extraHeaders = make(map[string]string, len(headers))
	for k, v := range headers {
		lk := strings.ToLower(k)
		m.extraHeaders[lk] = v
		lowered[lk] = v
	}
	m.mu.Unlock()
	return network.SetExtraHTTPHeaders(lowered).Do(cdp.WithExecutor(m.ctx, m.session))
}

// SetOfflineMode toggles network emulation's offline flag.
func (m *NetworkManager) SetOfflineMode(offline bool) error {
	m.mu.Lock()
	if m.offline == offline {
		m.mu.Unlock()
		return nil
	}
	m.offline = offline
	m.mu.Unlock()
	return network.EmulateNetworkConditions(offline, 0, -1, -1).Do(cdp.WithExecutor(m.ctx, m.session))
}
