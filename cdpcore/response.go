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
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"

	"github.com/xMarkos/browserkit/internal/cdperr"
)

// RemoteAddress is the remote endpoint a response was actually served
// from.
type RemoteAddress struct {
	IPAddress string
	Port      int64
}

// SecurityDetails is the TLS connection's certificate summary, present
// only for https responses.
type SecurityDetails struct {
	SubjectName string
	Issuer      string
	ValidFrom   int64
	ValidTo     int64
	Protocol    string
	SANList     []string
}

// Response is the terminal answer to a Request. Its body is not
// transferred eagerly - Body blocks on a one-shot signal that either
// resolves with the bytes (read lazily via Network.getResponseBody) or
// fails permanently, e.g. because this Response belongs to a redirect
// hop and the protocol never retains an intermediate redirect's body.
type Response struct {
	ctx     context.Context
	session *Session

	request *Request

	remoteAddress   *RemoteAddress
	securityDetails *SecurityDetails

	protocol   string
	url        string
	status     int64
	statusText string

	headers map[string][]string

	fromDiskCache     bool
	fromServiceWorker bool

	timestamp time.Time
	wallTime  time.Time
	timing    *network.ResourceTiming

	bodyMu   sync.Mutex
	body     []byte
	bodyErr  error
	bodyDone bool
}

// NewResponse builds a Response from a responseReceived payload. It does
// not attach the Response to req; callers do that with req.setResponse.
func NewResponse(ctx context.Context, session *Session, req *Request, resp *network.Response, ts *cdp.MonotonicTime) *Response {
	r := &Response{
		ctx:               ctx,
		session:           session,
		request:           req,
		remoteAddress:     &RemoteAddress{IPAddress: resp.RemoteIPAddress, Port: resp.RemotePort},
		protocol:          resp.Protocol,
		url:               resp.URL,
		status:            resp.Status,
		statusText:        resp.StatusText,
		headers:           make(map[string][]string),
		fromDiskCache:     resp.FromDiskCache,
		fromServiceWorker: resp.FromServiceWorker,
		timestamp:         ts.Time(),
		wallTime:          ts.Time().Add(req.offset),
		timing:            resp.Timing,
	}
	for n, v := range resp.Headers {
		if s, ok := v.(string); ok {
			r.headers[n] = append(r.headers[n], s)
		}
	}
	if resp.SecurityDetails != nil {
		sd := resp.SecurityDetails
		r.securityDetails = &SecurityDetails{
			SubjectName: sd.SubjectName,
			Issuer:      sd.Issuer,
			ValidFrom:   sd.ValidFrom.Time().Unix(),
			ValidTo:     sd.ValidTo.Time().Unix(),
			Protocol:    sd.Protocol,
			SANList:     sd.SanList,
		}
	}
	return r
}

// failBody permanently fails the body signal, used when this Response
// turns out to belong to a redirect hop whose body the protocol never
// retains.
func (r *Response) failBody(err error) {
	r.bodyMu.Lock()
	defer r.bodyMu.Unlock()
	if r.bodyDone {
		return
	}
	r.bodyErr = err
	r.bodyDone = true
}

// Body returns the response body, fetching it lazily via
// Network.getResponseBody on first call and caching the result
// (including a cached failure) for subsequent calls.
func (r *Response) Body() ([]byte, error) {
	r.bodyMu.Lock()
	defer r.bodyMu.Unlock()
	if r.bodyDone {
		return r.body, r.bodyErr
	}

	body, err := network.GetResponseBody(r.request.getID()).Do(cdp.WithExecutor(r.ctx, r.session))
	if err != nil {
		r.bodyErr = fmt.Errorf("%w: %s", cdperr.ErrBodyUnavailable, err)
	} else {
		r.body = body
	}
	r.bodyDone = true
	return r.body, r.bodyErr
}

func (r *Response) headersSize() int64 {
	size := int64(4 + 8 + 3 + len(r.statusText))
	for n, v := range r.headers {
		size += int64(len(n) + len(strings.Join(v, "")) + 4)
	}
	return size + 2
}

// AllHeaders returns every header with its name lower-cased, merging
// repeated header values with a comma.
func (r *Response) AllHeaders() map[string]string {
	headers := make(map[string]string, len(r.headers))
	for n, v := range r.headers {
		headers[strings.ToLower(n)] = strings.Join(v, ",")
	}
	return headers
}

// Request returns the request this is the response to.
func (r *Response) Request() *Request { return r.request }

// URL returns the response's (possibly redirected-to) URL.
func (r *Response) URL() string { return r.url }

// Status returns the HTTP status code.
func (r *Response) Status() int64 { return r.status }

// StatusText returns the HTTP status line's reason phrase.
func (r *Response) StatusText() string { return r.statusText }

// FromDiskCache reports whether the response was served from disk cache.
func (r *Response) FromDiskCache() bool { return r.fromDiskCache }

// FromServiceWorker reports whether the response was served from a
// service worker rather than the network.
func (r *Response) FromServiceWorker() bool { return r.fromServiceWorker }

// SecurityDetails returns the TLS certificate summary, or nil for a
// plaintext response.
func (r *Response) SecurityDetails() *SecurityDetails { return r.securityDetails }

// RemoteAddress returns the remote endpoint the response was served
// from.
func (r *Response) RemoteAddress() *RemoteAddress { return r.remoteAddress }

// Size reports the response's header and body size in bytes. Body size
// requires the body to already be resolved; it is reported as 0 if
// fetching it failed or hasn't happened yet.
func (r *Response) Size() HTTPMessageSize {
	r.bodyMu.Lock()
	bodyLen := len(r.body)
	r.bodyMu.Unlock()
	return HTTPMessageSize{Body: int64(bodyLen), Headers: r.headersSize()}
}
