package control

import (
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSettings(t *testing.T) *Settings {
	t.Helper()
	s, err := NewSettings(0, 5, 5)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestFilterTableMatchesBank(t *testing.T) {
	assert.Equal(t, 9, FilterCount)
	assert.Equal(t, "original", Filters[0].Name)
	assert.Equal(t, "sobel", Filters[8].Name)
}

func TestNewSettingsValidates(t *testing.T) {
	_, err := NewSettings(9, 5, 5)
	assert.True(t, errors.Is(err, ErrFilterOutOfRange))

	_, err = NewSettings(0, 101, 5)
	assert.True(t, errors.Is(err, ErrNoiseOutOfRange))
}

func TestSetNoiseUpdatesSnapshot(t *testing.T) {
	s := newSettings(t)

	require.NoError(t, s.SetNoise(10, 20))

	assert.Equal(t, Snapshot{Filter: 0, Salt: 10, Pepper: 20}, s.Snapshot())
}

func TestSetFilterRejectsOutOfRange(t *testing.T) {
	s := newSettings(t)

	for _, bad := range []int{-1, FilterCount, 42} {
		err := s.SetFilter(bad)
		assert.True(t, errors.Is(err, ErrFilterOutOfRange), "index %d", bad)
	}
	assert.Equal(t, 0, s.Snapshot().Filter)
}

func TestSubscribeReceivesChanges(t *testing.T) {
	s := newSettings(t)
	id, ch := s.Subscribe()
	defer s.Unsubscribe(id)

	require.NoError(t, s.SetFilter(7))

	select {
	case snap := <-ch:
		assert.Equal(t, 7, snap.Filter)
	case <-time.After(time.Second):
		t.Fatal("no update received")
	}
}

func TestSubscribeSkipsNoOpWrites(t *testing.T) {
	s := newSettings(t)
	id, ch := s.Subscribe()
	defer s.Unsubscribe(id)

	require.NoError(t, s.SetNoise(5, 5))

	select {
	case snap := <-ch:
		t.Fatalf("unexpected update %+v", snap)
	default:
	}
}

func TestSlowSubscriberDoesNotBlockWriters(t *testing.T) {
	s := newSettings(t)
	_, _ = s.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*4; i++ {
			_ = s.SetNoise(i%100, (i+1)%100)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("writer blocked on a full subscriber")
	}
}

func TestUnsubscribeAndCloseCloseChannels(t *testing.T) {
	s := newSettings(t)
	id, ch := s.Subscribe()
	s.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok)

	_, ch2 := s.Subscribe()
	s.Close()
	_, ok = <-ch2
	assert.False(t, ok)

	_, ch3 := s.Subscribe()
	_, ok = <-ch3
	assert.False(t, ok, "subscribing after Close yields a closed channel")
}

func TestConcurrentReadersSeeConsistentNoisePairs(t *testing.T) {
	s := newSettings(t)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			v := i % 50
			_ = s.SetNoise(v, v*2)
		}
	}()

	for i := 0; i < 10000; i++ {
		snap := s.Snapshot()
		if snap.Salt != 5 {
			require.Equal(t, snap.Salt*2, snap.Pepper)
		}
	}
	close(stop)
	wg.Wait()
}

func TestSessionFallsBackToBase(t *testing.T) {
	s := newSettings(t)
	sess := NewSession(s)

	require.NoError(t, s.SetFilter(3))
	assert.Equal(t, 3, sess.Snapshot().Filter)

	require.NoError(t, sess.PinFilter(6))
	require.NoError(t, s.SetFilter(2))
	assert.Equal(t, 6, sess.Snapshot().Filter)
	assert.Equal(t, 2, s.Snapshot().Filter, "session pins never leak into the shared settings")

	sess.Unpin()
	assert.Equal(t, 2, sess.Snapshot().Filter)
}

func TestSessionApplyQuery(t *testing.T) {
	s := newSettings(t)
	sess := NewSession(s)

	require.NoError(t, sess.ApplyQuery(url.Values{"filter": {"4"}, "salt": {"30"}}))
	assert.Equal(t, Snapshot{Filter: 4, Salt: 30, Pepper: 5}, sess.Snapshot())

	assert.Error(t, sess.ApplyQuery(url.Values{"filter": {"x"}}))
	assert.True(t, errors.Is(sess.ApplyQuery(url.Values{"filter": {"12"}}), ErrFilterOutOfRange))
	assert.True(t, errors.Is(sess.ApplyQuery(url.Values{"pepper": {"-3"}}), ErrNoiseOutOfRange))
}

func TestSessionApplyMessage(t *testing.T) {
	s := newSettings(t)
	sess := NewSession(s)

	require.NoError(t, sess.ApplyMessage([]byte(`{"filter":8,"pepper":40}`)))
	assert.Equal(t, Snapshot{Filter: 8, Salt: 5, Pepper: 40}, sess.Snapshot())

	require.NoError(t, sess.ApplyMessage([]byte(`{"reset":true}`)))
	assert.Equal(t, s.Snapshot(), sess.Snapshot())

	assert.Error(t, sess.ApplyMessage([]byte(`not json`)))
	assert.Error(t, sess.ApplyMessage([]byte(`{"salt":250}`)))
}
