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
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
)

// HTTPHeader is a single HTTP header name/value pair.
type HTTPHeader struct {
	Name  string
	Value string
}

// HTTPMessageSize is the header/body size split of a request or response.
type HTTPMessageSize struct {
	Headers int64
	Body    int64
}

// Total returns the combined header and body size in bytes.
func (s HTTPMessageSize) Total() int64 { return s.Headers + s.Body }

// Request is one HTTP request a target issued, correlated across its
// redirect chain and tracked from requestWillBeSent/Fetch.requestPaused
// through to its terminal responseReceived/loadingFinished/loadingFailed.
// Its canonical id may be empty until NetworkManager completes the
// hash-correlation described in its own doc comment.
type Request struct {
	frame *Frame

	responseMu sync.RWMutex
	response   *Response

	redirectChain []*Request

	requestID      network.RequestID
	interceptionID string
	documentID     string

	url                 *url.URL
	method              string
	headers             map[string][]string
	postData            string
	resourceType        string
	isNavigationRequest bool
	allowInterception   bool

	fromMemoryCache bool
	errorText       string

	// offset compensates for the CDP timestamp field using monotonic
	// (boot-relative) time while wallTime is wall-clock; timing math
	// that mixes the two has to add this back in.
	offset            time.Duration
	timestamp         time.Time
	wallTime          time.Time
	responseEndTiming float64
}

// NewRequestParams bundles NewRequest's inputs.
type NewRequestParams struct {
	Event             *network.EventRequestWillBeSent
	Frame             *Frame
	RedirectChain     []*Request
	InterceptionID    string
	AllowInterception bool
}

// NewRequest builds a Request from a requestWillBeSent payload.
// documentID is set only for the request that is itself the navigation
// that created its frame's current document (requestId == loaderId and
// resource type Document) - NetworkManager indexes the request by it so
// RequestForDocument can find the request behind a document.
func NewRequest(p NewRequestParams) (*Request, error) {
	ev := p.Event

	var documentID cdp.LoaderID
	if ev.RequestID == network.RequestID(ev.LoaderID) && ev.Type == network.ResourceTypeDocument {
		documentID = ev.LoaderID
	}

	u, err := url.Parse(ev.Request.URL)
	if err != nil {
		return nil, fmt.Errorf("cannot parse request url %q: %w", ev.Request.URL, err)
	}

	isNavigationRequest := string(ev.RequestID) == string(ev.LoaderID) &&
		ev.Type == network.ResourceTypeDocument

	r := &Request{
		frame:               p.Frame,
		redirectChain:       p.RedirectChain,
		requestID:           ev.RequestID,
		documentID:          documentID.String(),
		url:                 u,
		method:              ev.Request.Method,
		headers:             make(map[string][]string),
		postData:            ev.Request.PostData,
		resourceType:        ev.Type.String(),
		isNavigationRequest: isNavigationRequest,
		allowInterception:   p.AllowInterception,
		interceptionID:      p.InterceptionID,
		timestamp:           ev.Timestamp.Time(),
		wallTime:            ev.WallTime.Time(),
		offset:              ev.WallTime.Time().Sub(ev.Timestamp.Time()),
	}
	for n, v := range ev.Request.Headers {
		if s, ok := v.(string); ok {
			r.headers[n] = append(r.headers[n], s)
		}
	}
	return r, nil
}

func (r *Request) getFrame() *Frame { return r.frame }

func (r *Request) getID() network.RequestID { return r.requestID }

func (r *Request) getInterceptionID() string { return r.interceptionID }

func (r *Request) getDocumentID() string { return r.documentID }

func (r *Request) setErrorText(errorText string) { r.errorText = errorText }

func (r *Request) setLoadedFromCache(fromCache bool) { r.fromMemoryCache = fromCache }

func (r *Request) setResponse(res *Response) {
	r.responseMu.Lock()
	r.response = res
	r.responseMu.Unlock()
}

// headersSize estimates the wire size of the request line plus headers,
// matching the HTTP/1.1-shaped accounting callers expect from Size().
func (r *Request) headersSize() int64 {
	size := int64(4 + len(r.method) + len(r.url.Path) + 8)
	for n, v := range r.headers {
		size += int64(len(n) + len(strings.Join(v, "")) + 4)
	}
	return size
}

// AllHeaders returns every header with its name lower-cased, merging
// repeated header values with a comma.
func (r *Request) AllHeaders() map[string]string {
	headers := make(map[string]string, len(r.headers))
	for n, v := range r.headers {
		headers[strings.ToLower(n)] = strings.Join(v, ",")
	}
	return headers
}

// Headers returns every header with its original casing preserved.
func (r *Request) Headers() map[string]string {
	headers := make(map[string]string, len(r.headers))
	for n, v := range r.headers {
		headers[n] = strings.Join(v, ",")
	}
	return headers
}

// HeadersArray flattens Headers into a name/value pair list, one entry
// per repeated header value.
func (r *Request) HeadersArray() []HTTPHeader {
	out := make([]HTTPHeader, 0, len(r.headers))
	for n, vals := range r.headers {
		for _, v := range vals {
			out = append(out, HTTPHeader{Name: n, Value: v})
		}
	}
	return out
}

// Frame returns the frame this request was issued from.
func (r *Request) Frame() *Frame { return r.frame }

// IsNavigationRequest reports whether this request is the one whose
// completion commits its frame's document.
func (r *Request) IsNavigationRequest() bool { return r.isNavigationRequest }

// Method returns the HTTP method.
func (r *Request) Method() string { return r.method }

// PostData returns the raw request body, if any.
func (r *Request) PostData() string { return r.postData }

// ResourceType returns the protocol's resource-type classification
// (Document, Stylesheet, XHR, ...).
func (r *Request) ResourceType() string { return r.resourceType }

// Response returns the response attached to this request, or nil if it
// hasn't arrived (or never will, on failure).
func (r *Request) Response() *Response {
	r.responseMu.RLock()
	defer r.responseMu.RUnlock()
	return r.response
}

// RedirectChain returns the ordered list of requests that redirected to
// this one, oldest first. Each redirect hop gets its own copy of the
// slice (the *Request values in it are shared), so an earlier hop's
// chain does not grow when a later hop redirects again.
func (r *Request) RedirectChain() []*Request { return r.redirectChain }

// FromMemoryCache reports whether requestServedFromCache fired for this
// request.
func (r *Request) FromMemoryCache() bool { return r.fromMemoryCache }

// ErrorText returns the protocol-reported failure reason, if the request
// failed outright rather than completing with a response.
func (r *Request) ErrorText() string { return r.errorText }

// Size reports the request's header and body size in bytes.
func (r *Request) Size() HTTPMessageSize {
	return HTTPMessageSize{Body: int64(len(r.postData)), Headers: r.headersSize()}
}

// URL returns the request's target URL.
func (r *Request) URL() string { return r.url.String() }
