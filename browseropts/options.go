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

// Package browseropts defines the wire/CLI-facing configuration structs
// for the browser-automation core: navigation options and browser launch
// options, per the "Configuration" contract. These are the flat,
// string-keyed shapes a CLI flag set or a JSON config file populates;
// NavigationOptions.ToCore converts into the typed cdpcore.NavigationOptions
// the core actually consumes.
package browseropts

import (
	"fmt"
	"time"

	"github.com/xMarkos/browserkit/cdpcore"
)

// WaitUntilName is one of the four logical wait names the configuration
// contract's wait_until set may contain.
type WaitUntilName string

const (
	WaitUntilLoad            WaitUntilName = "load"
	WaitUntilDOMContentLoaded WaitUntilName = "dom_content_loaded"
	WaitUntilNetworkIdle0    WaitUntilName = "network_idle_0"
	WaitUntilNetworkIdle2    WaitUntilName = "network_idle_2"
)

func (n WaitUntilName) toCore() (cdpcore.WaitUntil, error) {
	switch n {
	case WaitUntilLoad:
		return cdpcore.WaitUntilLoad, nil
	case WaitUntilDOMContentLoaded:
		return cdpcore.WaitUntilDOMContentLoaded, nil
	case WaitUntilNetworkIdle0:
		return cdpcore.WaitUntilNetworkIdle0, nil
	case WaitUntilNetworkIdle2:
		return cdpcore.WaitUntilNetworkIdle2, nil
	default:
		return "", fmt.Errorf("unknown wait_until value %q", string(n))
	}
}

// NavigationOptions is the flat config shape for one navigation:
// { wait_until: subset of {load, dom_content_loaded, network_idle_0,
// network_idle_2}, timeout_ms: u32 (0 = infinite) }.
type NavigationOptions struct {
	WaitUntil []WaitUntilName `json:"wait_until" yaml:"wait_until"`
	TimeoutMs uint32          `json:"timeout_ms" yaml:"timeout_ms"`
}

// DefaultNavigationOptions waits for "load" with the core's default
// timeout.
func DefaultNavigationOptions() NavigationOptions {
	return NavigationOptions{
		WaitUntil: []WaitUntilName{WaitUntilLoad},
		TimeoutMs: uint32(cdpcore.DefaultTimeout / time.Millisecond),
	}
}

// ToCore converts to cdpcore's navigation options, resolving TimeoutMs=0
// to "no timeout" and defaulting to {load} when WaitUntil is empty.
func (o NavigationOptions) ToCore() (cdpcore.NavigationOptions, error) {
	names := o.WaitUntil
	if len(names) == 0 {
		names = []WaitUntilName{WaitUntilLoad}
	}

	waitUntil := make([]cdpcore.WaitUntil, 0, len(names))
	for _, n := range names {
		wu, err := n.toCore()
		if err != nil {
			return cdpcore.NavigationOptions{}, err
		}
		waitUntil = append(waitUntil, wu)
	}

	var timeout time.Duration
	if o.TimeoutMs != 0 {
		timeout = time.Duration(o.TimeoutMs) * time.Millisecond
	}

	return cdpcore.NavigationOptions{WaitUntil: waitUntil, Timeout: timeout}, nil
}

// Viewport describes the initial viewport size a new page opens with.
type Viewport struct {
	Width  int64 `json:"width" yaml:"width"`
	Height int64 `json:"height" yaml:"height"`
}

// BrowserOptions is the flat config shape for connecting to or launching
// a browser: { ignore_https_errors: bool, app_mode: bool,
// default_viewport: …, ws_endpoint: string }.
type BrowserOptions struct {
	IgnoreHTTPSErrors bool      `json:"ignore_https_errors" yaml:"ignore_https_errors"`
	AppMode           bool      `json:"app_mode" yaml:"app_mode"`
	DefaultViewport   *Viewport `json:"default_viewport,omitempty" yaml:"default_viewport,omitempty"`
	WSEndpoint        string    `json:"ws_endpoint" yaml:"ws_endpoint"`
}
