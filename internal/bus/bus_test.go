package bus

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestSubscribePositionedAtNow verifies a subscriber never sees events
// published before it subscribed.
func TestSubscribePositionedAtNow(t *testing.T) {
	t.Parallel()

	b := New()
	b.Publish(Event{Kind: KindAnalysis, Payload: "before"})

	sub := b.Subscribe()
	defer sub.Cancel()

	b.Publish(Event{Kind: KindAnalysis, Payload: "after"})

	ev := <-sub.Events()
	require.Equal(t, "after", ev.Payload)
	require.Empty(t, sub.Events())
}

// TestBroadcastToAllSubscribers verifies every subscriber independently
// receives every publication, in order.
func TestBroadcastToAllSubscribers(t *testing.T) {
	t.Parallel()

	b := New()
	sub1 := b.Subscribe()
	defer sub1.Cancel()
	sub2 := b.Subscribe()
	defer sub2.Cancel()

	for i := 0; i < 5; i++ {
		b.Publish(Event{
			Kind:    KindAnalysis,
			Payload: fmt.Sprintf("event-%d", i),
		})
	}

	for _, sub := range []*Subscription{sub1, sub2} {
		for i := 0; i < 5; i++ {
			ev := <-sub.Events()
			require.Equal(t, fmt.Sprintf("event-%d", i),
				ev.Payload)
		}
	}
}

// TestOverflowDropsOldestPerSubscriber verifies the lossy overflow policy:
// a full backlog loses its oldest unread entries, and only for the slow
// subscriber.
func TestOverflowDropsOldestPerSubscriber(t *testing.T) {
	t.Parallel()

	b := New()
	slow := b.SubscribeBacklog(2)
	defer slow.Cancel()
	fast := b.SubscribeBacklog(10)
	defer fast.Cancel()

	for i := 0; i < 4; i++ {
		b.Publish(Event{
			Kind:    KindAnalysis,
			Payload: fmt.Sprintf("event-%d", i),
		})
	}

	// The slow subscriber kept only the two newest events.
	require.Equal(t, uint64(2), slow.Dropped())
	require.Equal(t, "event-2", (<-slow.Events()).Payload)
	require.Equal(t, "event-3", (<-slow.Events()).Payload)

	// The fast subscriber was unaffected.
	require.Equal(t, uint64(0), fast.Dropped())
	for i := 0; i < 4; i++ {
		require.Equal(t, fmt.Sprintf("event-%d", i),
			(<-fast.Events()).Payload)
	}
}

// TestCancelClosesChannel verifies a cancelled subscription stops receiving
// and its channel closes.
func TestCancelClosesChannel(t *testing.T) {
	t.Parallel()

	b := New()
	sub := b.Subscribe()
	sub.Cancel()
	sub.Cancel() // Idempotent.

	b.Publish(Event{Kind: KindSystem, Payload: "ignored"})

	_, ok := <-sub.Events()
	require.False(t, ok)
}

// TestCloseCancelsAll verifies a closed bus drops later publications and
// closes every subscription.
func TestCloseCancelsAll(t *testing.T) {
	t.Parallel()

	b := New()
	sub := b.Subscribe()

	b.Close()
	b.Publish(Event{Kind: KindSystem, Payload: "ignored"})

	_, ok := <-sub.Events()
	require.False(t, ok)

	// Subscribing after close yields an already-closed subscription.
	late := b.Subscribe()
	_, ok = <-late.Events()
	require.False(t, ok)
}

// TestDeliveryWithinBacklog is a property test: any publication sequence
// that fits in the backlog is delivered completely and in order.
func TestDeliveryWithinBacklog(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		backlog := rapid.IntRange(1, 50).Draw(t, "backlog")
		count := rapid.IntRange(0, backlog).Draw(t, "count")

		b := New()
		sub := b.SubscribeBacklog(backlog)
		defer sub.Cancel()

		for i := 0; i < count; i++ {
			b.Publish(Event{
				Kind:    KindAnalysis,
				Payload: fmt.Sprintf("event-%d", i),
			})
		}

		require.Equal(t, uint64(0), sub.Dropped())
		for i := 0; i < count; i++ {
			ev := <-sub.Events()
			require.Equal(t, fmt.Sprintf("event-%d", i),
				ev.Payload)
		}
	})
}

// TestEventEncode verifies the client wire format: a versioned object with
// an explicit kind and exactly one string payload.
func TestEventEncode(t *testing.T) {
	t.Parallel()

	data, err := Event{
		Kind:    KindProjectRoot,
		Payload: "/home/user/project",
	}.Encode()
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw, 3)
	require.Equal(t, float64(1), raw["v"])
	require.Equal(t, "ProjectRoot", raw["kind"])
	require.Equal(t, "/home/user/project", raw["payload"])
}

// TestEventDecode verifies round-tripping and version rejection.
func TestEventDecode(t *testing.T) {
	t.Parallel()

	ev := Event{Kind: KindQueryResponse, Payload: "answer"}
	data, err := ev.Encode()
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, ev, decoded)

	_, err = Decode([]byte(`{"v":99,"kind":"System","payload":"x"}`))
	require.ErrorContains(t, err, "unsupported event version")

	_, err = Decode([]byte(`not json`))
	require.ErrorContains(t, err, "malformed event")
}
