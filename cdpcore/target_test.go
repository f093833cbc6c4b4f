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
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xMarkos/browserkit/internal/corelog"
	"github.com/xMarkos/browserkit/internal/eventbus"
)

func newTestBrowserNoConn(t *testing.T) *Browser {
	t.Helper()
	return &Browser{
		ctx:        context.Background(),
		logger:     corelog.NewNull(),
		targetsMap: make(map[target.ID]*Target),
		handlers:   make(map[string]*eventbus.List),
	}
}

func TestTargetNonPageKindResolvesUnusableWithoutAttaching(t *testing.T) {
	t.Parallel()

	b := newTestBrowserNoConn(t)
	tg := newTarget(b, &target.Info{TargetID: target.ID("svc-1"), Type: "service_worker", URL: "https://example.com/sw.js"})

	tg.init()

	assert.False(t, tg.Usable())
	assert.Nil(t, tg.Session())
	assert.Nil(t, tg.Page())

	err := tg.Wait(context.Background())
	assert.NoError(t, err)
}

func TestTargetInitIsOnceOnly(t *testing.T) {
	t.Parallel()

	b := newTestBrowserNoConn(t)
	tg := newTarget(b, &target.Info{TargetID: target.ID("bg-1"), Type: "background_page"})

	tg.init()
	tg.init() // second call must observe the same (cached) result, not re-run

	assert.False(t, tg.Usable())
}

func TestTargetKindOfUnknownTypeFallsBackToOther(t *testing.T) {
	t.Parallel()

	assert.Equal(t, TargetKindOther, targetKindOf("iframe"))
	assert.Equal(t, TargetKindPage, targetKindOf("page"))
}

func TestTargetApplyInfoChangedReportsChangeOnlyWhenDifferent(t *testing.T) {
	t.Parallel()

	b := newTestBrowserNoConn(t)
	tg := newTarget(b, &target.Info{TargetID: target.ID("page-1"), Type: "page", URL: "https://example.com/a"})

	changed := tg.applyInfoChanged(&target.Info{TargetID: target.ID("page-1"), Type: "page", URL: "https://example.com/a"})
	assert.False(t, changed)

	changed = tg.applyInfoChanged(&target.Info{TargetID: target.ID("page-1"), Type: "page", URL: "https://example.com/b"})
	assert.True(t, changed)
	assert.Equal(t, "https://example.com/b", tg.URL())
}

func TestTargetCloseIsIdempotentAndSignalsClosed(t *testing.T) {
	t.Parallel()

	b := newTestBrowserNoConn(t)
	tg := newTarget(b, &target.Info{TargetID: target.ID("page-2"), Type: "page"})

	tg.close()
	tg.close() // must not panic on a second close

	select {
	case <-tg.Closed():
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Closed() channel was not closed")
	}
}

func TestTargetWaitRespectsContextCancellation(t *testing.T) {
	t.Parallel()

	b := newTestBrowserNoConn(t)
	tg := newTarget(b, &target.Info{TargetID: target.ID("page-3"), Type: "page"})
	// Deliberately never call tg.init(): Wait must return ctx.Err(),
	// not block forever.

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tg.Wait(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
