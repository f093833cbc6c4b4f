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
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
)

// DialogKind names the native dialog types Page.javascriptDialogOpening
// reports.
type DialogKind string

const (
	DialogKindAlert        DialogKind = "alert"
	DialogKindBeforeUnload DialogKind = "beforeunload"
	DialogKindConfirm      DialogKind = "confirm"
	DialogKindPrompt       DialogKind = "prompt"
)

// Dialog represents one outstanding native dialog. Exactly one of Accept
// or Dismiss must be called, and only once - the second call is a no-op
// since the protocol has already resolved the dialog.
type Dialog struct {
	session *Session

	Kind         DialogKind
	Message      string
	DefaultValue string

	once sync.Once
}

func newDialog(sess *Session, ev *page.EventJavascriptDialogOpening) *Dialog {
	return &Dialog{
		session:      sess,
		Kind:         DialogKind(ev.Type),
		Message:      ev.Message,
		DefaultValue: ev.DefaultPrompt,
	}
}

// Accept accepts the dialog, supplying text for a prompt dialog's input
// (ignored for other kinds).
func (d *Dialog) Accept(ctx context.Context, text string) error {
	var err error
	d.once.Do(func() {
		action := page.HandleJavaScriptDialog(true)
		if text != "" {
			action = action.WithPromptText(text)
		}
		err = action.Do(cdp.WithExecutor(ctx, d.session))
	})
	return err
}

// Dismiss dismisses the dialog (cancel/close without accepting).
func (d *Dialog) Dismiss(ctx context.Context) error {
	var err error
	d.once.Do(func() {
		err = page.HandleJavaScriptDialog(false).Do(cdp.WithExecutor(ctx, d.session))
	})
	return err
}
