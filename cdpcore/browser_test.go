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

	"github.com/chromedp/cdproto/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Only non-page target kinds are exercised here: a "page" kind's init()
// dials out for a real session attach, which needs a live (or fully
// simulated) websocket transport that these bookkeeping tests don't set
// up - see network_manager_test.go's fake Connection for the pattern
// used where that round trip actually matters.

func TestBrowserOnTargetCreatedTracksAndEmitsOnlyWhenUsable(t *testing.T) {
	t.Parallel()

	b := newTestBrowserNoConn(t)

	var created []*Target
	b.On(EventTargetCreated, func(sender, data interface{}) { created = append(created, data.(*Target)) })

	b.onTargetCreated(&target.EventTargetCreated{
		TargetInfo: &target.Info{TargetID: target.ID("worker-1"), Type: "service_worker"},
	})

	require.Len(t, b.Targets(), 1)
	assert.Empty(t, created, "a non-page target never becomes usable, so TargetCreated must not fire")
}

func TestBrowserOnTargetCreatedOverwritesAndLogsOnDuplicateID(t *testing.T) {
	t.Parallel()

	b := newTestBrowserNoConn(t)

	info := &target.Info{TargetID: target.ID("dup-1"), Type: "service_worker"}
	b.onTargetCreated(&target.EventTargetCreated{TargetInfo: info})
	b.onTargetCreated(&target.EventTargetCreated{TargetInfo: info})

	// Overwriting is tolerated, not fatal - the target table still holds
	// exactly one entry for the id.
	assert.Len(t, b.Targets(), 1)
}

func TestBrowserOnTargetInfoChangedIgnoresUnknownID(t *testing.T) {
	t.Parallel()

	b := newTestBrowserNoConn(t)

	var changed []*Target
	b.On(EventTargetChanged, func(sender, data interface{}) { changed = append(changed, data.(*Target)) })

	b.onTargetInfoChanged(&target.EventTargetInfoChanged{
		TargetInfo: &target.Info{TargetID: target.ID("ghost-1"), Type: "page", URL: "https://example.com/"},
	})

	assert.Empty(t, changed)
	assert.Empty(t, b.Targets())
}

func TestBrowserOnTargetDestroyedRemovesFromTableAndSignalsClose(t *testing.T) {
	t.Parallel()

	b := newTestBrowserNoConn(t)
	b.onTargetCreated(&target.EventTargetCreated{
		TargetInfo: &target.Info{TargetID: target.ID("worker-2"), Type: "service_worker"},
	})
	require.Len(t, b.Targets(), 1)
	tg := b.Targets()[0]

	b.onTargetDestroyed(&target.EventTargetDestroyed{TargetID: target.ID("worker-2")})

	assert.Empty(t, b.Targets())
	select {
	case <-tg.Closed():
	default:
		t.Fatal("target close signal was not completed")
	}
}

func TestBrowserOnTargetDestroyedIgnoresUnknownID(t *testing.T) {
	t.Parallel()

	b := newTestBrowserNoConn(t)

	var destroyed []*Target
	b.On(EventTargetDestroyed, func(sender, data interface{}) { destroyed = append(destroyed, data.(*Target)) })

	// Must not panic despite the id never having been tracked.
	b.onTargetDestroyed(&target.EventTargetDestroyed{TargetID: target.ID("ghost-2")})

	assert.Empty(t, destroyed)
}

func TestBrowserTargetsAndPagesSnapshotTolerateUnusableTargets(t *testing.T) {
	t.Parallel()

	b := newTestBrowserNoConn(t)
	b.onTargetCreated(&target.EventTargetCreated{
		TargetInfo: &target.Info{TargetID: target.ID("worker-3"), Type: "service_worker"},
	})

	assert.Len(t, b.Targets(), 1)
	// A service worker never attaches a Page, so the Pages() snapshot
	// must stay empty rather than returning a nil *Page.
	assert.Empty(t, b.Pages())
}
