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

// Package eventbus implements the ordered, mutation-safe event-fanout
// primitive shared by every component that emits protocol-mirroring
// events (sessions, frames, the frame manager, the browser).
package eventbus

import (
	"context"
	"fmt"
	"sync"
)

// SyncHandler is invoked inline and must not block.
type SyncHandler func(sender, args interface{})

// AsyncHandler is invoked and awaited before the next subscriber runs.
type AsyncHandler func(ctx context.Context, sender, args interface{}) error

// Subscription is the token returned by Add and accepted by Remove. Its
// identity is the pointer itself - two Subscriptions wrapping structurally
// identical handlers are still distinct, matching "identity of the
// underlying callable including captured receiver, not structural
// comparison".
type Subscription struct {
	sync AsyncHandler
	fire SyncHandler
}

// List is a per-event-kind ordered collection of subscribers supporting
// safe self-unsubscription mid-dispatch.
type List struct {
	mu   sync.Mutex
	subs []*Subscription
}

// AddSync appends a synchronous, fire-and-forget subscriber and returns its
// token for later removal.
func (l *List) AddSync(h SyncHandler) *Subscription {
	s := &Subscription{fire: h}
	l.mu.Lock()
	l.subs = append(l.subs, s)
	l.mu.Unlock()
	return s
}

// AddAsync appends an asynchronous subscriber and returns its token.
func (l *List) AddAsync(h AsyncHandler) *Subscription {
	s := &Subscription{sync: h}
	l.mu.Lock()
	l.subs = append(l.subs, s)
	l.mu.Unlock()
	return s
}

// Remove drops the first live occurrence of s, matched by pointer identity.
// It is safe to call from within a dispatch, including from the handler
// being removed.
func (l *List) Remove(s *Subscription) {
	if s == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, sub := range l.subs {
		if sub == s {
			l.subs = append(l.subs[:i:i], l.subs[i+1:]...)
			return
		}
	}
}

// IsEmpty reports whether the list currently has no subscribers.
func (l *List) IsEmpty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs) == 0
}

// Snapshot returns the current subscriber sequence. Later mutation of the
// list does not affect a snapshot already taken.
func (l *List) Snapshot() []*Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Subscription, len(l.subs))
	copy(out, l.subs)
	return out
}

// InvokeAsync dispatches to a snapshot of the current subscribers in
// registration order. Synchronous subscribers run inline; asynchronous
// ones are awaited before the next subscriber runs, so the overall effect
// is strictly sequential and deterministic. A subscriber that removes
// itself during dispatch is not re-invoked on this or future dispatches.
// A handler's panic or returned error is reported to onFailure and does
// not abort the remaining dispatch - this is the "safe invoke" contract
// the rest of the core relies on.
func (l *List) InvokeAsync(ctx context.Context, sender, args interface{}, onFailure func(err error)) {
	for _, s := range l.Snapshot() {
		if err := invokeOne(ctx, s, sender, args); err != nil && onFailure != nil {
			onFailure(err)
		}
	}
}

// InvokeSync dispatches to a snapshot of the current subscribers in
// registration order, blocking on each asynchronous subscriber's
// completion signal. Deadlock-risky if a subscriber itself needs to
// reacquire a lock the caller holds; intended for shutdown paths only.
func (l *List) InvokeSync(ctx context.Context, sender, args interface{}, onFailure func(err error)) {
	for _, s := range l.Snapshot() {
		if err := invokeOne(ctx, s, sender, args); err != nil && onFailure != nil {
			onFailure(err)
		}
	}
}

func invokeOne(ctx context.Context, s *Subscription, sender, args interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event handler panicked: %v", r)
		}
	}()
	if s.fire != nil {
		s.fire(sender, args)
		return nil
	}
	return s.sync(ctx, sender, args)
}
