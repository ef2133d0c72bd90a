package status

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zepph7/christmas-surprise/pkg/models"
)

func TestTimersScheduleAndCancel(t *testing.T) {
	timers := NewTimers()
	defer timers.Stop()

	var fired atomic.Int32
	require.True(t, timers.Schedule("reset", 20*time.Millisecond, func() { fired.Add(1) }))
	assert.True(t, timers.Pending("reset"))
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, timers.Pending("reset"))

	timers.Schedule("reset", 20*time.Millisecond, func() { fired.Add(1) })
	assert.True(t, timers.Cancel("reset"))
	assert.False(t, timers.Cancel("reset"))
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestTimersReplace(t *testing.T) {
	timers := NewTimers()
	defer timers.Stop()

	var first, second atomic.Bool
	timers.Schedule("advisory", 20*time.Millisecond, func() { first.Store(true) })
	timers.Schedule("advisory", 40*time.Millisecond, func() { second.Store(true) })

	require.Eventually(t, second.Load, time.Second, 5*time.Millisecond)
	assert.False(t, first.Load(), "a replaced timer must not fire")
}

func TestTimersStop(t *testing.T) {
	timers := NewTimers()
	var fired atomic.Bool
	timers.Schedule("dismiss", 20*time.Millisecond, func() { fired.Store(true) })
	timers.Stop()

	assert.False(t, timers.Schedule("dismiss", time.Millisecond, func() { fired.Store(true) }))
	time.Sleep(60 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestPresenter(t *testing.T) {
	timers := NewTimers()
	defer timers.Stop()
	p := NewPresenter(timers, 50*time.Millisecond)

	assert.Nil(t, p.Current())

	p.Show(models.StatusInfo, "Detecting your location...")
	cur := p.Current()
	require.NotNil(t, cur)
	assert.Equal(t, models.StatusInfo, cur.Kind)
	assert.False(t, timers.Pending(DismissTimer))

	p.Show(models.StatusError, "Oops! Submission failed")
	time.Sleep(80 * time.Millisecond)
	require.NotNil(t, p.Current(), "error messages stay until replaced")
	assert.Equal(t, "Oops! Submission failed", p.Current().Text)

	p.Clear()
	assert.Nil(t, p.Current())
}

func TestPresenterSuccessAutoDismiss(t *testing.T) {
	timers := NewTimers()
	defer timers.Stop()
	p := NewPresenter(timers, 50*time.Millisecond)

	p.Show(models.StatusSuccess, "Thank you Ada!")
	assert.True(t, timers.Pending(DismissTimer))
	require.Eventually(t, func() bool { return p.Current() == nil }, time.Second, 5*time.Millisecond)
}

func TestPresenterReplacementCancelsDismiss(t *testing.T) {
	timers := NewTimers()
	defer timers.Stop()
	p := NewPresenter(timers, 40*time.Millisecond)

	p.Show(models.StatusSuccess, "Thank you Ada!")
	p.Show(models.StatusWarning, "Couldn't detect your city.")
	time.Sleep(80 * time.Millisecond)

	cur := p.Current()
	require.NotNil(t, cur)
	assert.Equal(t, models.StatusWarning, cur.Kind)
}
