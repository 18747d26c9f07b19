package callback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyWithoutSubscribers(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Notify(context.Background(), ChannelMessageEvent, DeriveID(ChannelMessageEvent, 1)))
	assert.Equal(t, 0, r.Len())
}

func TestNotifyFanOutWaitsForAll(t *testing.T) {
	r := NewRegistry()
	topic := DeriveID(ChannelMessageEvent, 42)

	var calls [3]int32
	for i := range calls {
		i := i
		r.Subscribe(ChannelMessageEvent, topic, func(ctx context.Context) error {
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&calls[i], 1)
			return nil
		})
	}

	require.NoError(t, r.Notify(context.Background(), ChannelMessageEvent, topic))
	for i := range calls {
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls[i]), "handler %d", i)
	}
}

func TestNotifyRunsConcurrently(t *testing.T) {
	r := NewRegistry()
	topic := DeriveID(RolesUpdated, 7)

	// both handlers must be running at the same time to pass the barrier
	var barrier sync.WaitGroup
	barrier.Add(2)
	h := func(ctx context.Context) error {
		barrier.Done()
		barrier.Wait()
		return nil
	}
	r.Subscribe(RolesUpdated, topic, h)
	r.Subscribe(RolesUpdated, topic, h)

	done := make(chan error, 1)
	go func() { done <- r.Notify(context.Background(), RolesUpdated, topic) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("handlers were not invoked concurrently")
	}
}

func TestNotifyIsScopedToKindAndTopic(t *testing.T) {
	r := NewRegistry()
	var hit int32
	r.Subscribe(ChannelMessageEvent, DeriveID(ChannelMessageEvent, 1), func(context.Context) error {
		atomic.AddInt32(&hit, 1)
		return nil
	})

	require.NoError(t, r.Notify(context.Background(), ChannelMessageEvent, DeriveID(ChannelMessageEvent, 2)))
	require.NoError(t, r.Notify(context.Background(), ChannelDeleted, DeriveID(ChannelMessageEvent, 1)))
	assert.Equal(t, int32(0), atomic.LoadInt32(&hit))
}

func TestNotifyAggregatesFailures(t *testing.T) {
	r := NewRegistry()
	topic := DeriveID(FriendRequest, 3)
	errBoom := errors.New("boom")

	var ok int32
	r.Subscribe(FriendRequest, topic, func(context.Context) error { return errBoom })
	r.Subscribe(FriendRequest, topic, func(context.Context) error { panic("kaboom") })
	r.Subscribe(FriendRequest, topic, func(context.Context) error {
		atomic.AddInt32(&ok, 1)
		return nil
	})

	err := r.Notify(context.Background(), FriendRequest, topic)
	require.Error(t, err)
	assert.True(t, IsNotifyError(err))
	assert.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "kaboom")
	assert.Equal(t, int32(1), atomic.LoadInt32(&ok))

	var ne *NotifyError
	require.ErrorAs(t, err, &ne)
	assert.Len(t, ne.Errs, 2)
}

func TestUnsubscribeRemovesEmptyKey(t *testing.T) {
	r := NewRegistry()
	topic := DeriveID(ServerDeleted, 9)
	h := func(context.Context) error { return nil }

	a := r.Subscribe(ServerDeleted, topic, h)
	b := r.Subscribe(ServerDeleted, topic, h)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 2, r.Count(ServerDeleted, topic))

	assert.True(t, r.Unsubscribe(a))
	assert.Equal(t, 1, r.Count(ServerDeleted, topic))
	assert.False(t, r.Unsubscribe(a))

	assert.True(t, r.Unsubscribe(b))
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.Unsubscribe(nil))
}

func TestHandlerMaySubscribeDuringNotify(t *testing.T) {
	r := NewRegistry()
	topic := DeriveID(ServerMemberUpdated, 1)
	var sub *Subscription
	sub = r.Subscribe(ServerMemberUpdated, topic, func(context.Context) error {
		r.Unsubscribe(sub)
		r.Subscribe(ServerMemberUpdated, topic, func(context.Context) error { return nil })
		return nil
	})

	require.NoError(t, r.Notify(context.Background(), ServerMemberUpdated, topic))
	assert.Equal(t, 1, r.Count(ServerMemberUpdated, topic))
}

func TestConcurrentSubscribeNotify(t *testing.T) {
	r := NewRegistry()
	topic := DeriveID(ChannelMessageEvent, 5)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s := r.Subscribe(ChannelMessageEvent, topic, func(context.Context) error { return nil })
			r.Unsubscribe(s)
		}()
		go func() {
			defer wg.Done()
			_ = r.Notify(context.Background(), ChannelMessageEvent, topic)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, r.Len())
}

type countingObserver struct {
	notified, failed int32
}

func (o *countingObserver) Notified(Kind, int) { atomic.AddInt32(&o.notified, 1) }
func (o *countingObserver) HandlerFailed(Kind) { atomic.AddInt32(&o.failed, 1) }

func TestObserver(t *testing.T) {
	r := NewRegistry()
	obs := &countingObserver{}
	r.SetObserver(obs)
	topic := DeriveID(UserBanned, 1)
	r.Subscribe(UserBanned, topic, func(context.Context) error { return errors.New("x") })

	_ = r.Notify(context.Background(), UserBanned, topic)
	assert.Equal(t, int32(1), obs.notified)
	assert.Equal(t, int32(1), obs.failed)
}

func TestPublishIgnoresCallerCancellation(t *testing.T) {
	r := NewRegistry()
	var sawErr error
	r.Subscribe(ChannelDeleted, DeriveID(ChannelDeleted, 4), func(ctx context.Context) error {
		sawErr = ctx.Err()
		return errors.New("ignored")
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.PublishEntity(ctx, ChannelDeleted, 4)
	assert.NoError(t, sawErr)
}
