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
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"

	"github.com/xMarkos/browserkit/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
)

// TargetKind mirrors the protocol's TargetInfo.Type values this core
// distinguishes behavior for. Anything else is still tracked, under
// TargetKindOther, but never initializes a Session.
type TargetKind string

const (
	TargetKindPage           TargetKind = "page"
	TargetKindBackgroundPage TargetKind = "background_page"
	TargetKindServiceWorker  TargetKind = "service_worker"
	TargetKindBrowser        TargetKind = "browser"
	TargetKindOther          TargetKind = "other"
)

func targetKindOf(t string) TargetKind {
	switch TargetKind(t) {
	case TargetKindPage, TargetKindBackgroundPage, TargetKindServiceWorker, TargetKindBrowser:
		return TargetKind(t)
	default:
		return TargetKindOther
	}
}

// Target tracks one entry of the browser's target tree. It is created on
// Target.targetCreated and lives until Target.targetDestroyed completes
// its close signal. Only "page" kinds are usable: they alone attach a
// Session and initialize a Page; every other kind resolves its init
// promise to false and is tracked for bookkeeping only.
type Target struct {
	browser *Browser

	id       target.ID
	kind     TargetKind
	openerID target.ID

	mu  sync.RWMutex
	url string

	initOnce sync.Once
	initDone chan struct{}
	usable   bool
	initErr  error

	session      *Session
	frameManager *FrameManager
	network      *NetworkManager
	page         *Page

	closeOnce sync.Once
	closeCh   chan struct{}
}

func newTarget(b *Browser, info *target.Info) *Target {
	return &Target{
		browser:  b,
		id:       info.TargetID,
		kind:     targetKindOf(info.Type),
		openerID: info.OpenerID,
		url:      info.URL,
		initDone: make(chan struct{}),
		closeCh:  make(chan struct{}),
	}
}

// ID returns the protocol target id.
func (t *Target) ID() target.ID { return t.id }

// Kind returns the target's protocol type.
func (t *Target) Kind() TargetKind { return t.kind }

// OpenerID returns the id of the target that opened this one, or "" if
// none.
func (t *Target) OpenerID() target.ID { return t.openerID }

// URL returns the target's most recently reported URL.
func (t *Target) URL() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.url
}

// applyInfoChanged updates url/kind from a targetInfoChanged payload,
// reporting whether either actually changed - the signal Browser uses to
// decide whether to emit TargetChanged.
func (t *Target) applyInfoChanged(info *target.Info) bool {
	newKind := targetKindOf(info.Type)
	t.mu.Lock()
	changed := t.url != info.URL || t.kind != newKind
	t.url = info.URL
	t.kind = newKind
	t.mu.Unlock()
	return changed
}

// init attaches a session and constructs the per-target managers for
// "page" kinds. Every other kind resolves usable=false without attaching.
// Runs at most once; later calls wait for and observe the first result.
func (t *Target) init() {
	t.initOnce.Do(func() {
		defer close(t.initDone)

		if t.kind != TargetKindPage {
			return
		}

		ctx, span := telemetry.StartSpan(t.browser.ctx, "cdp.TargetAttach",
			attribute.String("cdp.target_id", string(t.id)))
		defer span.End()

		sess, err := t.browser.conn.createSession(&target.Info{
			TargetID: t.id,
			Type:     string(t.kind),
			URL:      t.URL(),
		})
		if err != nil {
			t.initErr = err
			telemetry.RecordError(span, err)
			t.browser.logger.Errorf("target", "cannot attach session to %s: %s", t.id, err)
			return
		}
		if sess == nil {
			t.initErr = fmt.Errorf("no session attached for target %s", t.id)
			telemetry.RecordError(span, t.initErr)
			return
		}

		if err := page.Enable().Do(cdp.WithExecutor(ctx, sess)); err != nil {
			t.initErr = err
			telemetry.RecordError(span, err)
			t.browser.logger.Errorf("target", "cannot enable target %s: %s", t.id, err)
			return
		}
		if err := network.Enable().Do(cdp.WithExecutor(ctx, sess)); err != nil {
			t.initErr = err
			telemetry.RecordError(span, err)
			t.browser.logger.Errorf("target", "cannot enable network domain on target %s: %s", t.id, err)
			return
		}
		if err := runtime.Enable().Do(cdp.WithExecutor(ctx, sess)); err != nil {
			t.initErr = err
			telemetry.RecordError(span, err)
			t.browser.logger.Errorf("target", "cannot enable runtime domain on target %s: %s", t.id, err)
			return
		}
		if err := inspector.Enable().Do(cdp.WithExecutor(ctx, sess)); err != nil {
			t.initErr = err
			telemetry.RecordError(span, err)
			t.browser.logger.Errorf("target", "cannot enable inspector domain on target %s: %s", t.id, err)
			return
		}

		t.session = sess
		t.frameManager = NewFrameManager(sess, t.browser.logger)
		t.network = NewNetworkManager(t.browser.ctx, sess, t.frameManager, t.browser.logger)
		wireFrameSessionEvents(sess, t.frameManager, t.network)
		if err := t.network.updateProtocolInterception(); err != nil {
			t.initErr = err
			telemetry.RecordError(span, err)
			t.browser.logger.Errorf("target", "cannot reconcile interception on target %s: %s", t.id, err)
			return
		}
		t.page = newPage(t.browser.ctx, sess, t, t.frameManager, t.network, t.browser.logger)

		t.usable = true
	})
	<-t.initDone
}

// Wait blocks until initialization has run, returning whatever error it
// recorded - nil even when usable is false, since an unsupported kind is
// not an error.
func (t *Target) Wait(ctx context.Context) error {
	select {
	case <-t.initDone:
		return t.initErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Usable reports whether this target attached a session. Only meaningful
// after Wait/init has returned.
func (t *Target) Usable() bool { return t.usable }

// Page returns the target's Page, or nil if it never became usable.
func (t *Target) Page() *Page { return t.page }

// Session returns the target's attached Session, or nil if never usable.
func (t *Target) Session() *Session { return t.session }

func (t *Target) close() {
	t.closeOnce.Do(func() { close(t.closeCh) })
}

// Closed returns a channel closed once Target.targetDestroyed has been
// processed for this target.
func (t *Target) Closed() <-chan struct{} { return t.closeCh }
