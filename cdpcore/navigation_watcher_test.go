package cdpcore

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xMarkos/browserkit/internal/cdperr"
)

func TestNavigationWatcherResolvesOnLifecycleEvent(t *testing.T) {
	t.Parallel()

	fm := newTestFrameManager(t)
	fm.frameNavigated(cdp.FrameID("main"), "", cdp.LoaderID("loader-1"), "", "about:blank")
	frame := fm.MainFrame()

	// The watcher is constructed before the navigate command is issued,
	// capturing loader-1 as the pre-navigation document id.
	w, err := NewNavigationWatcher(fm, frame, 0, WaitUntilLoad)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- w.Wait(context.Background()) }()

	// The navigate command commits a new document...
	fm.frameNavigated(cdp.FrameID("main"), "", cdp.LoaderID("loader-2"), "", "https://example.com/")
	// ...and its "load" lifecycle event fires afterward.
	fm.frameLifecycleEvent(frame.ID(), cdp.LoaderID("loader-2"), LifecycleLoad)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not resolve")
	}
}

func TestNavigationWatcherFailsOnDetach(t *testing.T) {
	t.Parallel()

	fm := newTestFrameManager(t)
	fm.frameNavigated(cdp.FrameID("main"), "", cdp.LoaderID("loader-1"), "", "about:blank")
	fm.frameAttached(cdp.FrameID("child"), cdp.FrameID("main"))
	frame := fm.FrameByID(cdp.FrameID("child"))
	require.NotNil(t, frame)
	frame.navigated("", "https://example.com/iframe", cdp.LoaderID("loader-3"))
	frame.clearLifecycle()

	w, err := NewNavigationWatcher(fm, frame, 0, WaitUntilLoad)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- w.Wait(context.Background()) }()

	fm.frameDetached(frame.ID())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, cdperr.ErrDetachedFrame)
	case <-time.After(time.Second):
		t.Fatal("watcher did not fail")
	}
}

func TestNavigationWatcherFailsOnTimeout(t *testing.T) {
	t.Parallel()

	fm := newTestFrameManager(t)
	fm.frameNavigated(cdp.FrameID("main"), "", cdp.LoaderID("loader-1"), "", "about:blank")
	frame := fm.MainFrame()
	frame.navigated("", "https://example.com/", cdp.LoaderID("loader-2"))
	frame.clearLifecycle()

	w, err := NewNavigationWatcher(fm, frame, 10*time.Millisecond, WaitUntilLoad)
	require.NoError(t, err)

	err = w.Wait(context.Background())
	assert.ErrorIs(t, err, cdperr.ErrNavigationTimeout)
}

func TestNavigationWatcherResolvesOnSameDocumentNavigation(t *testing.T) {
	t.Parallel()

	fm := newTestFrameManager(t)
	fm.frameNavigated(cdp.FrameID("main"), "", cdp.LoaderID("loader-1"), "", "https://example.com/")
	frame := fm.MainFrame()
	fm.frameLifecycleEvent(frame.ID(), cdp.LoaderID("loader-1"), LifecycleLoad)

	// The watcher subscribes before the same-document navigation fires,
	// mirroring Page.Goto's subscribe-before-navigate ordering.
	w, err := NewNavigationWatcher(fm, frame, 0, WaitUntilLoad)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- w.Wait(context.Background()) }()

	fm.frameNavigatedWithinDocument(frame.ID(), "https://example.com/#frag")

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not resolve on same-document navigation")
	}
}

func TestNavigationWatcherCancelUnsubscribesWithoutResolving(t *testing.T) {
	t.Parallel()

	fm := newTestFrameManager(t)
	fm.frameNavigated(cdp.FrameID("main"), "", cdp.LoaderID("loader-1"), "", "about:blank")
	frame := fm.MainFrame()
	frame.navigated("", "https://example.com/", cdp.LoaderID("loader-2"))
	frame.clearLifecycle()

	w, err := NewNavigationWatcher(fm, frame, 0, WaitUntilLoad)
	require.NoError(t, err)

	w.Cancel()

	fm.frameLifecycleEvent(frame.ID(), cdp.LoaderID("loader-2"), LifecycleLoad)

	select {
	case <-w.done:
		t.Fatal("cancelled watcher should not resolve")
	case <-time.After(20 * time.Millisecond):
	}
}
