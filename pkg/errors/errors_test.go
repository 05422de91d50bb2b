package errors

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBase = New("base")

func TestWrapKeepsCause(t *testing.T) {
	wrapped := Wrap(errBase, "outer")
	assert.True(t, Is(wrapped, errBase))
	assert.Equal(t, "outer: base", wrapped.Error())
	assert.Equal(t, errBase, Cause(wrapped))
	assert.Nil(t, Wrap(nil, "outer"))
	assert.Nil(t, WrapAndReport(nil, "outer"))
}

func TestReportHelpersReachReporters(t *testing.T) {
	t.Setenv(debugMode, "")
	ResetReporters()
	defer ResetReporters()

	var got []error
	RegisterReporter(ReporterFunc(func(err error) { got = append(got, err) }))

	_ = WrapAndReport(errBase, "a")
	_ = ErrorfAndReport("b %d", 1)
	_ = NewWithReport("c")
	_ = WithStackAndReport(errBase)

	require.Len(t, got, 4)
	assert.Equal(t, "a: base", got[0].Error())
	assert.Equal(t, "b 1", got[1].Error())
}

func TestReportSkippedInDebugMode(t *testing.T) {
	t.Setenv(debugMode, "1")
	ResetReporters()
	defer ResetReporters()

	called := false
	RegisterReporter(ReporterFunc(func(error) { called = true }))
	_ = NewWithReport("quiet")
	assert.False(t, called)
}

func TestStackBasedRateLimited(t *testing.T) {
	now := time.Date(2022, 7, 1, 10, 0, 0, 0, time.UTC)
	limiter := newRateLimiter(time.Minute)
	limiter.now = func() time.Time { return now }

	limited, stats := limiter.StackBasedRateLimited("frame")
	assert.False(t, limited)
	assert.Nil(t, stats.lastReportTime)

	now = now.Add(10 * time.Second)
	limited, _ = limiter.StackBasedRateLimited("frame")
	assert.True(t, limited)

	limited, _ = limiter.StackBasedRateLimited("other")
	assert.False(t, limited)

	now = now.Add(time.Minute)
	limited, stats = limiter.StackBasedRateLimited("frame")
	assert.False(t, limited)
	assert.Equal(t, 1, stats.occurCountSinceLastReport)
}

func TestFullStackHasFrames(t *testing.T) {
	stacks := callers().fullStack()
	require.NotEmpty(t, stacks)
	assert.NotEqual(t, "unknown", stackKey(stacks))
	assert.Equal(t, "unknown", stackKey(nil))
	assert.Equal(t, "x", stackKey([]string{"x"}))
	assert.Contains(t, fmt.Sprint(stacks), ".go:")
}
