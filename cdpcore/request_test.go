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
	"testing"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequestMarksDocumentRequestAsNavigation(t *testing.T) {
	t.Parallel()

	req, err := NewRequest(NewRequestParams{
		Event: &network.EventRequestWillBeSent{
			RequestID: network.RequestID("doc-1"),
			LoaderID:  cdp.LoaderID("doc-1"),
			Type:      network.ResourceTypeDocument,
			Request: &network.Request{
				Method:  "GET",
				URL:     "https://example.com/",
				Headers: network.Headers{"Accept": "text/html"},
			},
			Timestamp: monoTS(1),
			WallTime:  wallTS(1),
		},
	})
	require.NoError(t, err)

	assert.True(t, req.IsNavigationRequest())
	assert.Equal(t, "doc-1", req.getDocumentID())
	assert.Equal(t, "https://example.com/", req.URL())
	assert.Equal(t, "GET", req.Method())
}

func TestNewRequestNonDocumentIsNotANavigationRequest(t *testing.T) {
	t.Parallel()

	req, err := NewRequest(NewRequestParams{
		Event: &network.EventRequestWillBeSent{
			RequestID: network.RequestID("xhr-1"),
			LoaderID:  cdp.LoaderID("doc-1"),
			Type:      network.ResourceTypeXHR,
			Request:   &network.Request{Method: "POST", URL: "https://example.com/api"},
			Timestamp: monoTS(1),
			WallTime:  wallTS(1),
		},
	})
	require.NoError(t, err)

	assert.False(t, req.IsNavigationRequest())
	assert.Empty(t, req.getDocumentID())
}

func TestNewRequestRejectsUnparsableURL(t *testing.T) {
	t.Parallel()

	_, err := NewRequest(NewRequestParams{
		Event: &network.EventRequestWillBeSent{
			RequestID: network.RequestID("bad-1"),
			Request:   &network.Request{Method: "GET", URL: "http://[::1"},
			Timestamp: monoTS(1),
			WallTime:  wallTS(1),
		},
	})
	assert.Error(t, err)
}

func TestRequestHeadersPreserveAndLowerCase(t *testing.T) {
	t.Parallel()

	req, err := NewRequest(NewRequestParams{
		Event: &network.EventRequestWillBeSent{
			RequestID: network.RequestID("h-1"),
			Request: &network.Request{
				Method:  "GET",
				URL:     "https://example.com/",
				Headers: network.Headers{"X-Custom": "a", "Accept": "text/html"},
			},
			Timestamp: monoTS(1),
			WallTime:  wallTS(1),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "a", req.Headers()["X-Custom"])
	assert.Equal(t, "a", req.AllHeaders()["x-custom"])
}

func TestRequestSizeAccountsForPostDataBody(t *testing.T) {
	t.Parallel()

	req, err := NewRequest(NewRequestParams{
		Event: &network.EventRequestWillBeSent{
			RequestID: network.RequestID("p-1"),
			Request:   &network.Request{Method: "POST", URL: "https://example.com/submit", PostData: "abc"},
			Timestamp: monoTS(1),
			WallTime:  wallTS(1),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(3), req.Size().Body)
}

func TestRequestRedirectChainIsSharedByReference(t *testing.T) {
	t.Parallel()

	first, err := NewRequest(NewRequestParams{
		Event: &network.EventRequestWillBeSent{
			RequestID: network.RequestID("r-1"),
			Request:   &network.Request{Method: "GET", URL: "https://example.com/old"},
			Timestamp: monoTS(1),
			WallTime:  wallTS(1),
		},
	})
	require.NoError(t, err)

	second, err := NewRequest(NewRequestParams{
		Event:         &network.EventRequestWillBeSent{RequestID: network.RequestID("r-1"), Request: &network.Request{Method: "GET", URL: "https://example.com/new"}, Timestamp: monoTS(2), WallTime: wallTS(2)},
		RedirectChain: []*Request{first},
	})
	require.NoError(t, err)

	require.Len(t, second.RedirectChain(), 1)
	assert.Same(t, first, second.RedirectChain()[0])
}
