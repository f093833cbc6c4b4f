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
	"encoding/json"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/runtime"

	"github.com/xMarkos/browserkit/internal/cdperr"
	"github.com/xMarkos/browserkit/internal/corelog"
)

// ExecutionContext is a handle for a JS world (the "main" or "utility"
// world) attached to a Frame, scoped to one Session. It never hosts a
// local JS engine - Evaluate always round-trips to the remote V8 via
// Runtime.evaluate/Runtime.callFunctionOn.
type ExecutionContext struct {
	session *Session
	frame   *Frame
	id      runtime.ExecutionContextID
	logger  *corelog.Logger

	destroyed bool
}

// NewExecutionContext creates a handle for context id within frame f,
// bound to session s.
func NewExecutionContext(s *Session, f *Frame, id runtime.ExecutionContextID, logger *corelog.Logger) *ExecutionContext {
	e := &ExecutionContext{session: s, frame: f, id: id, logger: logger}
	var frameID cdp.FrameID
	if f != nil {
		frameID = f.ID()
	}
	logger.Debugf("execctx", "new context %d for frame %s", id, frameID)
	return e
}

// ID returns the CDP runtime execution context id.
func (e *ExecutionContext) ID() runtime.ExecutionContextID { return e.id }

// Frame returns the frame this context is attached to.
func (e *ExecutionContext) Frame() *Frame { return e.frame }

func (e *ExecutionContext) markDestroyed() { e.destroyed = true }

// Evaluate runs expr as an expression (not a function body) in this
// context and returns the resulting value, unmarshaled by value.
func (e *ExecutionContext) Evaluate(ctx context.Context, expr string) (interface{}, error) {
	if e.destroyed {
		return nil, cdperr.ErrExecutionContextDestroyed
	}

	remoteObject, exceptionDetails, err := runtime.Evaluate(expr).
		WithContextID(e.id).
		WithReturnByValue(true).
		WithAwaitPromise(true).
		Do(cdp.WithExecutor(ctx, e.session))
	if err != nil {
		return nil, fmt.Errorf("cannot evaluate expression in context %d: %w", e.id, err)
	}
	if exceptionDetails != nil {
		return nil, fmt.Errorf("evaluation threw in context %d: %s", e.id, exceptionDetails.Text)
	}
	return valueFromRemoteObject(remoteObject)
}

// CallFunctionOn calls a function expression fn with args in this context,
// returning the result by value.
func (e *ExecutionContext) CallFunctionOn(ctx context.Context, fn string, args ...interface{}) (interface{}, error) {
	if e.destroyed {
		return nil, cdperr.ErrExecutionContextDestroyed
	}

	callArgs := make([]*runtime.CallArgument, 0, len(args))
	for _, a := range args {
		ca, err := callArgument(a)
		if err != nil {
			return nil, fmt.Errorf("cannot convert argument %v: %w", a, err)
		}
		callArgs = append(callArgs, ca)
	}

	remoteObject, exceptionDetails, err := runtime.CallFunctionOn(fn).
		WithArguments(callArgs).
		WithExecutionContextID(e.id).
		WithReturnByValue(true).
		WithAwaitPromise(true).
		Do(cdp.WithExecutor(ctx, e.session))
	if err != nil {
		return nil, fmt.Errorf("cannot call function in context %d: %w", e.id, err)
	}
	if exceptionDetails != nil {
		return nil, fmt.Errorf("function call threw in context %d: %s", e.id, exceptionDetails.Text)
	}
	return valueFromRemoteObject(remoteObject)
}

func valueFromRemoteObject(obj *runtime.RemoteObject) (interface{}, error) {
	if obj == nil || len(obj.Value) == 0 {
		return nil, nil
	}
	var v interface{}
	if err := json.Unmarshal([]byte(obj.Value), &v); err != nil {
		return nil, fmt.Errorf("cannot unmarshal remote object value: %w", err)
	}
	return v, nil
}

func callArgument(v interface{}) (*runtime.CallArgument, error) {
	if v == nil {
		return &runtime.CallArgument{}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &runtime.CallArgument{Value: []byte(raw)}, nil
}
