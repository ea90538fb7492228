package relay

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"github.com/SirClappington/jobbid/internal/domain"
)

type sink struct {
	mu  sync.Mutex
	got []domain.Event
}

func (s *sink) Publish(_ context.Context, _ string, ev domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, ev)
}

func (s *sink) events() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Event(nil), s.got...)
}

func event(jobID string, seq int64) domain.Event {
	return domain.Event{
		Type:  domain.EventBidCreated,
		JobID: jobID,
		Seq:   seq,
		Bid:   domain.Bid{ID: "b", ArtisanID: "a", Amount: 10},
	}
}

func message(origin string, ev domain.Event) string {
	b, _ := json.Marshal(Message{Origin: origin, Event: ev})
	return string(b)
}

func TestDecode(t *testing.T) {
	payload := message("inst-1", event("job-1", 3))

	m, err := Decode(Channel("job-1"), payload)
	if err != nil {
		t.Fatal(err)
	}
	if m.Origin != "inst-1" || m.Event.JobID != "job-1" || m.Event.Seq != 3 || m.Event.Bid.Amount != 10 {
		t.Fatalf("decoded %+v", m)
	}

	bad := []struct{ name, channel, payload string }{
		{"foreign channel", "other:job-1", payload},
		{"empty job", ChannelPrefix, payload},
		{"mismatched job", Channel("job-2"), payload},
		{"garbage", Channel("job-1"), "{"},
		{"no origin", Channel("job-1"), message("", event("job-1", 1))},
		{"unknown type", Channel("job-1"), `{"origin":"x","event":{"type":"job.deleted","jobId":"job-1","seq":1}}`},
	}
	for _, tc := range bad {
		if _, err := Decode(tc.channel, tc.payload); err == nil {
			t.Errorf("%s: decoded without error", tc.name)
		}
	}
}

func deadRedis(t *testing.T) *r.Client {
	t.Helper()
	rdb := r.NewClient(&r.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestPublishDeliversLocallyInOrderWhenRedisFails(t *testing.T) {
	local := &sink{}
	rl := New(deadRedis(t), local, zaptest.NewLogger(t))

	for seq := int64(1); seq <= 3; seq++ {
		rl.Publish(context.Background(), "job-1", event("job-1", seq))
	}
	got := local.events()
	if len(got) != 3 {
		t.Fatalf("local delivery = %+v, want 3 events", got)
	}
	for i, ev := range got {
		if ev.Seq != int64(i+1) {
			t.Fatalf("event %d has seq %d", i, ev.Seq)
		}
	}
}

func TestDeliverSkipsOwnMessages(t *testing.T) {
	local := &sink{}
	rl := New(deadRedis(t), local, zaptest.NewLogger(t))
	ctx := context.Background()

	rl.deliver(ctx, Channel("job-1"), message(rl.origin, event("job-1", 1)))
	if n := len(local.events()); n != 0 {
		t.Fatalf("own message delivered again (%d events)", n)
	}

	rl.deliver(ctx, Channel("job-1"), message("other-instance", event("job-1", 2)))
	rl.deliver(ctx, Channel("job-1"), "{")
	if got := local.events(); len(got) != 1 || got[0].Seq != 2 {
		t.Fatalf("local delivery = %+v, want the foreign event only", got)
	}
}

// TestFanOutAcrossInstances needs a Redis server; set TEST_REDIS_ADDR.
func TestFanOutAcrossInstances(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	log := zaptest.NewLogger(t)

	rdbA := r.NewClient(&r.Options{Addr: addr})
	rdbB := r.NewClient(&r.Options{Addr: addr})
	defer rdbA.Close()
	defer rdbB.Close()

	hubA, hubB := &sink{}, &sink{}
	a, b := New(rdbA, hubA, log), New(rdbB, hubB, log)

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	// Wait for b's pattern subscription to be registered.
	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := rdbA.PubSubNumPat(ctx).Result()
		if err == nil && n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("relay never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	jobID := "relay-test-job"
	for seq := int64(1); seq <= 5; seq++ {
		a.Publish(ctx, jobID, event(jobID, seq))
	}

	deadline = time.Now().Add(2 * time.Second)
	for len(hubB.events()) < 5 {
		if time.Now().After(deadline) {
			t.Fatalf("instance b got %d of 5 events", len(hubB.events()))
		}
		time.Sleep(10 * time.Millisecond)
	}
	for i, ev := range hubB.events() {
		if ev.Seq != int64(i+1) {
			t.Fatalf("event %d has seq %d, order lost", i, ev.Seq)
		}
	}
	if n := len(hubA.events()); n != 5 {
		t.Fatalf("publisher delivered %d events locally, want 5", n)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}
