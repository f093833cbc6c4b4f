package cdpcore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeoutSettings(t *testing.T) {
	t.Parallel()

	t.Run("NewTimeoutSettings", func(t *testing.T) {
		t.Parallel()
		ts := NewTimeoutSettings(nil)
		assert.Nil(t, ts.parent)
		assert.Nil(t, ts.defaultTimeout)
		assert.Nil(t, ts.defaultNavigationTimeout)
	})

	t.Run("Timeout falls back to DefaultTimeout", func(t *testing.T) {
		t.Parallel()
		ts := NewTimeoutSettings(nil)
		assert.Equal(t, DefaultTimeout, ts.Timeout())
	})

	t.Run("Timeout honors an explicit override", func(t *testing.T) {
		t.Parallel()
		ts := NewTimeoutSettings(nil)
		ts.SetDefaultTimeout(100 * time.Millisecond)
		assert.Equal(t, 100*time.Millisecond, ts.Timeout())
	})

	t.Run("NavigationTimeout falls back through parent chain", func(t *testing.T) {
		t.Parallel()
		parent := NewTimeoutSettings(nil)
		child := NewTimeoutSettings(parent)

		assert.Equal(t, DefaultTimeout, child.NavigationTimeout())

		parent.SetDefaultNavigationTimeout(500 * time.Millisecond)
		assert.Equal(t, 500*time.Millisecond, child.NavigationTimeout())

		child.SetDefaultNavigationTimeout(50 * time.Millisecond)
		assert.Equal(t, 50*time.Millisecond, child.NavigationTimeout())
	})

	t.Run("NavigationTimeout prefers the generic timeout over the parent's navigation timeout", func(t *testing.T) {
		t.Parallel()
		parent := NewTimeoutSettings(nil)
		parent.SetDefaultNavigationTimeout(900 * time.Millisecond)
		child := NewTimeoutSettings(parent)
		child.SetDefaultTimeout(10 * time.Millisecond)

		assert.Equal(t, 10*time.Millisecond, child.NavigationTimeout())
	})
}
