package bus

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tanayshah11/mercury-stream/internal/ticker"
)

func tick(id int64) *ticker.Ticker {
	return &ticker.Ticker{TradeID: id}
}

func TestDropOldestNoProducerBlocking(t *testing.T) {
	b := New(4)
	sub := b.Subscribe("s1")

	for i := int64(1); i <= 6; i++ {
		b.Publish(tick(i))
	}

	require.Equal(t, uint64(2), sub.Drops())
	require.Equal(t, 4, sub.Depth())

	var got []int64
	for i := 0; i < 4; i++ {
		e, ok := sub.Receive()
		require.True(t, ok)
		got = append(got, e.TradeID)
	}
	require.Equal(t, []int64{3, 4, 5, 6}, got)
}

func TestPerSubscriptionMonotonicity(t *testing.T) {
	b := New(3)
	sub := b.Subscribe("s1")

	published := []int64{1, 2, 3, 4, 5, 6, 7}
	for _, id := range published {
		b.Publish(tick(id))
	}

	var delivered []int64
	for sub.Depth() > 0 {
		e, ok := sub.Receive()
		require.True(t, ok)
		delivered = append(delivered, e.TradeID)
	}

	// delivered must be an index-order subsequence of published.
	i := 0
	for _, id := range delivered {
		for i < len(published) && published[i] != id {
			i++
		}
		require.Less(t, i, len(published), "delivered id %d not found in order", id)
		i++
	}
}

func TestDropAccounting(t *testing.T) {
	b := New(4)
	sub1 := b.Subscribe("s1")
	sub2 := b.Subscribe("s2")

	total := 10
	for i := int64(1); i <= int64(total); i++ {
		b.Publish(tick(i))
	}

	delivered1, delivered2 := drain(sub1), drain(sub2)

	require.Equal(t, uint64(total), uint64(delivered1)+sub1.Drops())
	require.Equal(t, uint64(total), uint64(delivered2)+sub2.Drops())
}

func drain(sub *Subscription) int {
	n := 0
	for sub.Depth() > 0 {
		if _, ok := sub.Receive(); ok {
			n++
		}
	}
	return n
}

func TestPublishReachesEverySubscriber(t *testing.T) {
	b := New(10)
	for i := 0; i < 50; i++ {
		b.Subscribe("s")
	}
	require.Equal(t, 50, b.SubscriberCount())
	b.Publish(tick(1))
	for name, depth := range b.QueueDepths() {
		require.Equal(t, 1, depth, "sub %s", name)
	}
}

func TestUnsubscribeDiscardsQueued(t *testing.T) {
	b := New(10)
	sub := b.Subscribe("s1")
	b.Publish(tick(1))
	b.Unsubscribe(sub)
	require.Equal(t, 0, b.SubscriberCount())

	_, ok := sub.Receive()
	require.False(t, ok)
}

func TestShutdownUnblocksReceivers(t *testing.T) {
	b := New(10)
	sub := b.Subscribe("s1")

	done := make(chan bool, 1)
	go func() {
		_, ok := sub.Receive()
		done <- ok
	}()

	b.Shutdown()
	require.False(t, <-done)
}
