package lane

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/domain"
)

func TestDoSerializesPerConversation(t *testing.T) {
	require := require.New(t)
	l := New(4)
	defer l.Halt()

	var inFlight, maxInFlight int32
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Do(context.Background(), "c", func() error {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					m := atomic.LoadInt32(&maxInFlight)
					if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
						break
					}
				}
				counter++
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(50, counter)
	require.Equal(int32(1), atomic.LoadInt32(&maxInFlight))
}

func TestDoRunsConversationsInParallel(t *testing.T) {
	l := New(1)
	defer l.Halt()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = l.Do(context.Background(), "slow", func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, l.Do(ctx, domain.ConversationID("fast"), func() error { return nil }))
	close(release)
}

func TestDoReturnsFnError(t *testing.T) {
	l := New(1)
	defer l.Halt()
	boom := errors.New("boom")
	require.ErrorIs(t, l.Do(context.Background(), "c", func() error { return boom }), boom)
}

func TestDoHonoursContext(t *testing.T) {
	l := New(1)
	defer l.Halt()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = l.Do(context.Background(), "c", func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Do(ctx, "c", func() error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestHalt(t *testing.T) {
	l := New(1)
	require.NoError(t, l.Do(context.Background(), "c", func() error { return nil }))
	l.Halt()
	l.Halt()
	require.ErrorIs(t, l.Do(context.Background(), "c", func() error { return nil }), ErrHalted)
}
