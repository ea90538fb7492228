package hub

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/SirClappington/jobbid/internal/domain"
)

func event(jobID string, seq int64) domain.Event {
	return domain.Event{Type: domain.EventBidCreated, JobID: jobID, Seq: seq}
}

// receive reads one event from c with a short timeout.
func receive(t *testing.T, c *Conn) domain.Event {
	t.Helper()
	select {
	case ev := <-c.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return domain.Event{}
	}
}

func requireEmpty(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case ev := <-c.Events():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestPublishReachesOnlySubscribers(t *testing.T) {
	h := New(8, zaptest.NewLogger(t))
	a := h.Connect()
	b := h.Connect()
	h.Subscribe(a, "j1")
	h.Subscribe(b, "j2")

	h.Publish(context.Background(), "j1", event("j1", 1))

	if got := receive(t, a); got.JobID != "j1" {
		t.Fatalf("a got %+v", got)
	}
	requireEmpty(t, b)
}

func TestSubscribeIsIdempotent(t *testing.T) {
	h := New(8, zaptest.NewLogger(t))
	c := h.Connect()
	h.Subscribe(c, "j1")
	h.Subscribe(c, "j1")

	if n := h.Subscribers("j1"); n != 1 {
		t.Fatalf("Subscribers = %d, want 1", n)
	}
	h.Publish(context.Background(), "j1", event("j1", 1))
	receive(t, c)
	requireEmpty(t, c)
}

func TestPublishPreservesPerJobOrder(t *testing.T) {
	h := New(128, zaptest.NewLogger(t))
	c := h.Connect()
	h.Subscribe(c, "j1")
	h.Subscribe(c, "j2")

	for i := int64(1); i <= 50; i++ {
		h.Publish(context.Background(), "j1", event("j1", i))
		h.Publish(context.Background(), "j2", event("j2", i))
	}

	next := map[string]int64{"j1": 1, "j2": 1}
	for i := 0; i < 100; i++ {
		ev := receive(t, c)
		if ev.Seq != next[ev.JobID] {
			t.Fatalf("job %s: got seq %d, want %d", ev.JobID, ev.Seq, next[ev.JobID])
		}
		next[ev.JobID]++
	}
}

func TestSlowSubscriberDropsAndFlagsResync(t *testing.T) {
	h := New(2, zaptest.NewLogger(t))
	slow := h.Connect()
	fast := h.Connect()
	h.Subscribe(slow, "j1")
	h.Subscribe(fast, "j1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := int64(1); i <= 5; i++ {
			h.Publish(context.Background(), "j1", event("j1", i))
			<-fast.Events()
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	if !slow.TakeResync() {
		t.Fatal("slow subscriber not flagged for resync")
	}
	if slow.TakeResync() {
		t.Fatal("TakeResync should clear the flag")
	}
	if fast.TakeResync() {
		t.Fatal("fast subscriber flagged for resync")
	}
	// The buffered prefix survives in order.
	if ev := receive(t, slow); ev.Seq != 1 {
		t.Fatalf("first buffered seq = %d, want 1", ev.Seq)
	}
	if ev := receive(t, slow); ev.Seq != 2 {
		t.Fatalf("second buffered seq = %d, want 2", ev.Seq)
	}
}

func TestDisconnectReleasesAllGroups(t *testing.T) {
	h := New(8, zaptest.NewLogger(t))
	c := h.Connect()
	other := h.Connect()
	h.Subscribe(c, "j1")
	h.Subscribe(c, "j2")
	h.Subscribe(other, "j2")

	h.Disconnect(c)
	h.Disconnect(c)

	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed after Disconnect")
	}
	if n := h.Subscribers("j1"); n != 0 {
		t.Fatalf("j1 subscribers = %d, want 0", n)
	}
	if n := h.Subscribers("j2"); n != 1 {
		t.Fatalf("j2 subscribers = %d, want 1", n)
	}
	if n := h.Groups(); n != 1 {
		t.Fatalf("Groups = %d, want 1", n)
	}
	if h.Subscribe(c, "j3") {
		t.Fatal("Subscribe on a disconnected conn should fail")
	}
	h.Publish(context.Background(), "j2", event("j2", 1))
	requireEmpty(t, c)
}

func TestUnsubscribe(t *testing.T) {
	h := New(8, zaptest.NewLogger(t))
	c := h.Connect()
	h.Subscribe(c, "j1")
	h.Unsubscribe(c, "j1")
	h.Unsubscribe(c, "j1")

	h.Publish(context.Background(), "j1", event("j1", 1))
	requireEmpty(t, c)
	if n := h.Groups(); n != 0 {
		t.Fatalf("Groups = %d, want 0", n)
	}
}

func TestCloseDisconnectsEveryone(t *testing.T) {
	h := New(8, zaptest.NewLogger(t))
	a, b := h.Connect(), h.Connect()
	h.Subscribe(a, "job-1")
	h.Subscribe(b, "job-2")

	h.Close()
	for _, c := range []*Conn{a, b} {
		select {
		case <-c.Done():
		default:
			t.Fatal("connection still open after Close")
		}
	}
	if h.Groups() != 0 {
		t.Fatalf("Groups = %d after Close", h.Groups())
	}

	late := h.Connect()
	select {
	case <-late.Done():
	default:
		t.Fatal("connection made after Close is open")
	}
	if h.Subscribe(late, "job-1") {
		t.Fatal("subscribe after Close succeeded")
	}
	h.Disconnect(late)
}
