package switchpoint

import (
	"testing"
	"time"
)

func drainStream(sub *Subscription) int {
	count := 0
	for {
		select {
		case <-sub.C():
			count++
		default:
			return count
		}
	}
}

func TestStreamHub_Subscribe(t *testing.T) {
	hub := NewStreamHub(DefaultStreamConfig())

	sub := hub.Subscribe(StreamFilter{})
	if sub == nil {
		t.Fatal("expected subscription")
	}
	if sub.ID == "" {
		t.Error("expected subscription ID")
	}
	if hub.Count() != 1 {
		t.Errorf("Count = %d, want 1", hub.Count())
	}

	hub.Unsubscribe(sub.ID)
	if hub.Count() != 0 {
		t.Errorf("Count = %d, want 0 after unsubscribe", hub.Count())
	}
}

func TestStreamHub_Publish(t *testing.T) {
	hub := NewStreamHub(DefaultStreamConfig())

	subAll := hub.Subscribe(StreamFilter{})
	subConfident := hub.Subscribe(StreamFilter{MinProbability: 0.9})
	subPositive := hub.Subscribe(StreamFilter{OnlyPositive: true})

	sharp := &Analysis{ID: "sharp"}
	sharp.Changepoint.Probability = 0.97
	sharp.Comparison.LogBayesFactor = 14.2
	weak := &Analysis{ID: "weak"}
	weak.Changepoint.Probability = 0.2
	weak.Comparison.LogBayesFactor = 0

	hub.Publish(sharp)
	hub.Publish(weak)

	if got := drainStream(subAll); got != 2 {
		t.Errorf("unfiltered subscription got %d analyses, want 2", got)
	}
	if got := drainStream(subConfident); got != 1 {
		t.Errorf("confidence-filtered subscription got %d analyses, want 1", got)
	}
	if got := drainStream(subPositive); got != 1 {
		t.Errorf("positive-evidence subscription got %d analyses, want 1", got)
	}
}

func TestStreamHub_PublishNil(t *testing.T) {
	hub := NewStreamHub(DefaultStreamConfig())
	sub := hub.Subscribe(StreamFilter{})

	hub.Publish(nil)
	if got := drainStream(sub); got != 0 {
		t.Errorf("nil publish delivered %d analyses", got)
	}
}

func TestStreamHub_SlowSubscriberDrops(t *testing.T) {
	cfg := DefaultStreamConfig()
	cfg.BufferSize = 1
	hub := NewStreamHub(cfg)

	sub := hub.Subscribe(StreamFilter{})
	analysis := qualifyingAnalysis(t)

	// The second publish must drop rather than block.
	done := make(chan struct{})
	go func() {
		hub.Publish(analysis)
		hub.Publish(analysis)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber buffer")
	}

	if got := drainStream(sub); got != 1 {
		t.Errorf("got %d analyses, want 1 with the overflow dropped", got)
	}
}

func TestStreamHub_UnsubscribedMissesPublishes(t *testing.T) {
	hub := NewStreamHub(DefaultStreamConfig())
	sub := hub.Subscribe(StreamFilter{})
	hub.Unsubscribe(sub.ID)

	hub.Publish(qualifyingAnalysis(t))

	// The channel is closed and empty.
	select {
	case a, ok := <-sub.C():
		if ok {
			t.Errorf("received %v after unsubscribe", a.ID)
		}
	default:
		t.Error("channel not closed after unsubscribe")
	}
}

func TestStreamHub_UnsubscribeUnknown(t *testing.T) {
	hub := NewStreamHub(DefaultStreamConfig())
	hub.Unsubscribe("sub-404")
	if hub.Count() != 0 {
		t.Errorf("Count = %d, want 0", hub.Count())
	}
}

func TestStreamHub_List(t *testing.T) {
	hub := NewStreamHub(DefaultStreamConfig())
	a := hub.Subscribe(StreamFilter{})
	b := hub.Subscribe(StreamFilter{})

	ids := hub.List()
	if len(ids) != 2 {
		t.Fatalf("List returned %d ids, want 2", len(ids))
	}
	found := map[string]bool{}
	for _, id := range ids {
		found[id] = true
	}
	if !found[a.ID] || !found[b.ID] {
		t.Errorf("List = %v, missing %q or %q", ids, a.ID, b.ID)
	}
}

func TestSubscription_CloseIdempotent(t *testing.T) {
	hub := NewStreamHub(DefaultStreamConfig())
	sub := hub.Subscribe(StreamFilter{})

	hub.Unsubscribe(sub.ID)
	// A second close must not panic.
	sub.Close()
}
