package abpfilter

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout for tests.
const testTimeout = 1 * time.Second

// newTestAutoSaver returns an auto-saver counting its saves into n.
func newTestAutoSaver(n *atomic.Int32, debounce, maxWait time.Duration) (a *autoSaver) {
	save := func(_ context.Context) (err error) {
		n.Add(1)

		return nil
	}

	return newAutoSaver(slogutil.NewDiscardLogger(), save, debounce, maxWait)
}

func TestAutoSaver_debounce(t *testing.T) {
	n := &atomic.Int32{}
	a := newTestAutoSaver(n, 10*time.Millisecond, time.Hour)

	for range 5 {
		a.changeOccurred()
	}

	require.Eventually(t, func() (ok bool) {
		return n.Load() == 1
	}, testTimeout, time.Millisecond)

	require.NoError(t, a.close(testutil.ContextWithTimeout(t, testTimeout)))
	assert.Equal(t, int32(1), n.Load())
}

func TestAutoSaver_maxWait(t *testing.T) {
	n := &atomic.Int32{}
	a := newTestAutoSaver(n, time.Hour, 10*time.Millisecond)

	a.changeOccurred()
	time.Sleep(20 * time.Millisecond)
	a.changeOccurred()

	assert.Equal(t, int32(1), n.Load())
}

func TestAutoSaver_close(t *testing.T) {
	n := &atomic.Int32{}
	a := newTestAutoSaver(n, time.Hour, time.Hour)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	require.NoError(t, a.close(ctx))
	assert.Zero(t, n.Load())

	a = newTestAutoSaver(n, time.Hour, time.Hour)
	a.changeOccurred()

	require.NoError(t, a.close(ctx))
	assert.Equal(t, int32(1), n.Load())

	a.changeOccurred()
	require.NoError(t, a.close(ctx))
	assert.Equal(t, int32(1), n.Load())
}
