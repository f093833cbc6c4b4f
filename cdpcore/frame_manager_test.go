package cdpcore

import (
	"context"
	"testing"

	"github.com/chromedp/cdproto/cdp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xMarkos/browserkit/internal/corelog"
)

func newTestFrameManager(t *testing.T) *FrameManager {
	t.Helper()
	sess := newSession(context.Background(), nil, "session-0", "target-0", corelog.NewNull())
	return NewFrameManager(sess, corelog.NewNull())
}

func TestFrameManagerFrameNavigatedCreatesMainFrame(t *testing.T) {
	t.Parallel()

	fm := newTestFrameManager(t)

	var got *NavigationEvent
	fm.On(EventFrameNavigated, func(sender, data interface{}) {
		got = data.(*NavigationEvent)
	})

	fm.frameNavigated(cdp.FrameID("main"), "", cdp.LoaderID("loader-1"), "", "https://example.com/")

	main := fm.MainFrame()
	require.NotNil(t, main)
	assert.Equal(t, cdp.FrameID("main"), main.ID())
	assert.Equal(t, cdp.LoaderID("loader-1"), main.LoaderID())
	require.NotNil(t, got)
	assert.Equal(t, main, got.Frame)
	assert.Equal(t, "https://example.com/", got.URL)
}

func TestFrameManagerFrameAttachedIgnoresUnknownParent(t *testing.T) {
	t.Parallel()

	fm := newTestFrameManager(t)

	fm.frameAttached(cdp.FrameID("child"), cdp.FrameID("missing-parent"))

	assert.Nil(t, fm.FrameByID(cdp.FrameID("child")))
}

func TestFrameManagerFrameAttachedRegistersChild(t *testing.T) {
	t.Parallel()

	fm := newTestFrameManager(t)
	fm.frameNavigated(cdp.FrameID("main"), "", cdp.LoaderID("loader-1"), "", "https://example.com/")

	var attached *Frame
	fm.On(EventFrameAttached, func(sender, data interface{}) {
		attached = data.(*Frame)
	})

	fm.frameAttached(cdp.FrameID("child"), cdp.FrameID("main"))

	child := fm.FrameByID(cdp.FrameID("child"))
	require.NotNil(t, child)
	require.NotNil(t, attached)
	assert.Equal(t, child, attached)

	main := fm.MainFrame()
	assert.Contains(t, main.ChildFrames(), child)
}

func TestFrameManagerFrameNavigatedDetachesStaleChildren(t *testing.T) {
	t.Parallel()

	fm := newTestFrameManager(t)
	fm.frameNavigated(cdp.FrameID("main"), "", cdp.LoaderID("loader-1"), "", "https://example.com/")
	fm.frameAttached(cdp.FrameID("child"), cdp.FrameID("main"))
	require.NotNil(t, fm.FrameByID(cdp.FrameID("child")))

	var detached []*Frame
	fm.On(EventFrameDetached, func(sender, data interface{}) {
		detached = append(detached, data.(*Frame))
	})

	// A fresh main-frame navigation (new document) detaches every
	// existing child before the new document's frame tree is built up.
	fm.frameNavigated(cdp.FrameID("main"), "", cdp.LoaderID("loader-2"), "", "https://example.com/next")

	assert.Nil(t, fm.FrameByID(cdp.FrameID("child")))
	require.Len(t, detached, 1)
}

func TestFrameManagerFrameDetachedRemovesSubtree(t *testing.T) {
	t.Parallel()

	fm := newTestFrameManager(t)
	fm.frameNavigated(cdp.FrameID("main"), "", cdp.LoaderID("loader-1"), "", "https://example.com/")
	fm.frameAttached(cdp.FrameID("child"), cdp.FrameID("main"))
	fm.frameAttached(cdp.FrameID("grandchild"), cdp.FrameID("child"))

	fm.frameDetached(cdp.FrameID("child"))

	assert.Nil(t, fm.FrameByID(cdp.FrameID("child")))
	assert.Nil(t, fm.FrameByID(cdp.FrameID("grandchild")))
}

func TestFrameManagerFrameNavigatedWithinDocumentPreservesLoaderID(t *testing.T) {
	t.Parallel()

	fm := newTestFrameManager(t)
	fm.frameNavigated(cdp.FrameID("main"), "", cdp.LoaderID("loader-1"), "", "https://example.com/")

	var withinDoc *NavigationEvent
	fm.On(EventFrameNavigatedWithinDocument, func(sender, data interface{}) {
		withinDoc = data.(*NavigationEvent)
	})

	fm.frameNavigatedWithinDocument(cdp.FrameID("main"), "https://example.com/#section")

	main := fm.MainFrame()
	assert.Equal(t, cdp.LoaderID("loader-1"), main.LoaderID())
	require.NotNil(t, withinDoc)
	assert.Equal(t, "https://example.com/#section", withinDoc.URL)
}

func TestFrameManagerFrameLifecycleEventTracksCompletion(t *testing.T) {
	t.Parallel()

	fm := newTestFrameManager(t)
	fm.frameNavigated(cdp.FrameID("main"), "", cdp.LoaderID("loader-1"), "", "https://example.com/")
	main := fm.MainFrame()

	fm.frameLifecycleEvent(cdp.FrameID("main"), cdp.LoaderID("loader-1"), LifecycleLoad)

	assert.True(t, main.HasSubtreeLifecycleEventFired(LifecycleLoad))
	assert.False(t, main.HasSubtreeLifecycleEventFired(LifecycleNetworkIdle))
}
