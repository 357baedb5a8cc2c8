package eventbus

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisBus(t *testing.T) (*RedisBus, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bus := NewRedisBus(client)
	t.Cleanup(func() {
		_ = bus.Close()
		_ = client.Close()
		mr.Close()
	})
	return bus, mr
}

func receive(t *testing.T, sub *Subscription) Message {
	t.Helper()
	select {
	case msg, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func expectNone(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case msg := <-sub.C():
		t.Fatalf("unexpected message on %s", msg.Subject)
	case <-time.After(50 * time.Millisecond):
	}
}

func runBusContract(t *testing.T, newBus func(t *testing.T) Bus) {
	t.Run("pattern delivery", func(t *testing.T) {
		bus := newBus(t)
		ctx := context.Background()

		stream, err := bus.Subscribe(ctx, StreamSubject("", "o-1"), 8)
		require.NoError(t, err)
		defer stream.Close()
		all, err := bus.Subscribe(ctx, AllEventsSubject(""), 8)
		require.NoError(t, err)
		defer all.Close()

		require.NoError(t, bus.Publish(ctx, EventSubject("", "o-1", "OrderPlaced"), []byte(`{"a":1}`)))
		require.NoError(t, bus.Publish(ctx, EventSubject("", "o-2", "OrderPlaced"), []byte(`{"a":2}`)))

		got := receive(t, stream)
		assert.Equal(t, "sagaflow.v1.events.o-1.OrderPlaced", got.Subject)
		assert.JSONEq(t, `{"a":1}`, string(got.Payload))
		expectNone(t, stream)

		first := receive(t, all)
		second := receive(t, all)
		assert.ElementsMatch(t,
			[]string{EventSubject("", "o-1", "OrderPlaced"), EventSubject("", "o-2", "OrderPlaced")},
			[]string{first.Subject, second.Subject})
	})

	t.Run("close stops delivery", func(t *testing.T) {
		bus := newBus(t)
		ctx := context.Background()

		sub, err := bus.Subscribe(ctx, AllEventsSubject(""), 4)
		require.NoError(t, err)
		require.NoError(t, sub.Close())
		require.NoError(t, sub.Close())

		_, open := <-sub.C()
		assert.False(t, open)
		assert.NoError(t, bus.Publish(ctx, EventSubject("", "o-1", "X"), nil))
	})

	t.Run("context cancel closes subscription", func(t *testing.T) {
		bus := newBus(t)
		ctx, cancel := context.WithCancel(context.Background())

		sub, err := bus.Subscribe(ctx, AllEventsSubject(""), 4)
		require.NoError(t, err)
		cancel()

		select {
		case _, open := <-sub.C():
			assert.False(t, open)
		case <-time.After(2 * time.Second):
			t.Fatal("subscription not closed after cancel")
		}
	})

	t.Run("closed bus rejects calls", func(t *testing.T) {
		bus := newBus(t)
		require.NoError(t, bus.Close())
		assert.Error(t, bus.Publish(context.Background(), "x.y", nil))
		_, err := bus.Subscribe(context.Background(), "x.>", 1)
		assert.Error(t, err)
	})

	t.Run("validation", func(t *testing.T) {
		bus := newBus(t)
		assert.Error(t, bus.Publish(context.Background(), "", nil))
		_, err := bus.Subscribe(context.Background(), "", 1)
		assert.Error(t, err)
	})
}

func TestMemoryBus(t *testing.T) {
	runBusContract(t, func(t *testing.T) Bus {
		bus := NewMemoryBus()
		t.Cleanup(func() { _ = bus.Close() })
		return bus
	})
}

func TestRedisBus(t *testing.T) {
	runBusContract(t, func(t *testing.T) Bus {
		bus, _ := newTestRedisBus(t)
		return bus
	})
}

func TestMemoryBus_SlowSubscriberDropsMessages(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()
	sub, err := bus.Subscribe(context.Background(), AllEventsSubject(""), 1)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(context.Background(), EventSubject("", "s", fmt.Sprint("E", i)), nil))
	}
	first := receive(t, sub)
	assert.Equal(t, EventSubject("", "s", "E0"), first.Subject)
	expectNone(t, sub)
}

func TestRedisBus_CrossNodeDelivery(t *testing.T) {
	pub, mr := newTestRedisBus(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	sub := NewRedisBus(client)
	defer sub.Close()

	s, err := sub.Subscribe(context.Background(), StreamSubject("", "o-9"), 4)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, pub.Publish(context.Background(), EventSubject("", "o-9", "OrderPaid"), []byte("{}")))
	assert.Equal(t, EventSubject("", "o-9", "OrderPaid"), receive(t, s).Subject)
	assert.True(t, pub.Healthy(context.Background()))
}

func TestRedisBus_Unhealthy(t *testing.T) {
	bus, mr := newTestRedisBus(t)
	mr.Close()
	assert.False(t, bus.Healthy(context.Background()))
	assert.Error(t, bus.Publish(context.Background(), "a.b", nil))
}

func TestRedisGlob(t *testing.T) {
	assert.Equal(t, "sagaflow.v1.events.*", redisGlob(AllEventsSubject("")))
	assert.Equal(t, "sagaflow.v1.events.o-1.*", redisGlob(StreamSubject("", "o-1")))
	assert.Equal(t, `a.\[x\].b`, redisGlob("a.[x].b"))
}
