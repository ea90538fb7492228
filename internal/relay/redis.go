// Package relay fans job events out across API instances through Redis
// pub/sub. An instance delivers its own events to its local hub
// synchronously, then publishes them tagged with its origin id; Run
// forwards what other instances published to the local hub and skips the
// instance's own messages. Local subscribers therefore see a job's events
// in write order whether or not Redis is reachable.
package relay

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/SirClappington/jobbid/internal/domain"
)

const (
	ChannelPrefix = "jobbid:events:"

	DefaultPublishTimeout = time.Second
)

// Local is the in-process fan-out, normally *hub.Hub.
type Local interface {
	Publish(ctx context.Context, jobID string, ev domain.Event)
}

// Message is the payload published on a job channel.
type Message struct {
	Origin string       `json:"origin"`
	Event  domain.Event `json:"event"`
}

type Relay struct {
	rdb     *r.Client
	local   Local
	log     *zap.Logger
	origin  string
	timeout time.Duration
}

func New(rdb *r.Client, local Local, log *zap.Logger) *Relay {
	return &Relay{
		rdb:     rdb,
		local:   local,
		log:     log,
		origin:  uuid.NewString(),
		timeout: DefaultPublishTimeout,
	}
}

func Channel(jobID string) string { return ChannelPrefix + jobID }

// Publish delivers ev to local subscribers, then to other instances. The
// write that produced ev has already committed, so a cancelled request
// does not stop delivery. A failed Redis publish only costs remote
// subscribers the event; they recover by refetching.
func (rl *Relay) Publish(ctx context.Context, jobID string, ev domain.Event) {
	rl.local.Publish(ctx, jobID, ev)

	payload, err := json.Marshal(Message{Origin: rl.origin, Event: ev})
	if err != nil {
		rl.log.Error("encode event", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rl.timeout)
	defer cancel()
	if err := rl.rdb.Publish(pctx, Channel(jobID), payload).Err(); err != nil {
		rl.log.Warn("redis publish failed, event delivered locally only",
			zap.String("job_id", jobID), zap.Int64("seq", ev.Seq), zap.Error(err))
	}
}

// Run subscribes to all job channels and forwards other instances' events
// to the local hub until ctx is done (nil) or the subscription breaks.
func (rl *Relay) Run(ctx context.Context) error {
	sub := rl.rdb.PSubscribe(ctx, ChannelPrefix+"*")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.Wrap(err, "subscribe to job events")
	}
	rl.log.Info("relay subscribed", zap.String("pattern", ChannelPrefix+"*"), zap.String("origin", rl.origin))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("relay subscription closed")
			}
			rl.deliver(ctx, msg.Channel, msg.Payload)
		}
	}
}

// deliver hands a received message to the local hub unless this instance
// published it.
func (rl *Relay) deliver(ctx context.Context, channel, payload string) {
	m, err := Decode(channel, payload)
	if err != nil {
		rl.log.Warn("dropping relay message", zap.String("channel", channel), zap.Error(err))
		return
	}
	if m.Origin == rl.origin {
		return
	}
	rl.local.Publish(ctx, m.Event.JobID, m.Event)
}

// Decode parses a relay message and checks it belongs to its channel.
func Decode(channel, payload string) (Message, error) {
	jobID, ok := strings.CutPrefix(channel, ChannelPrefix)
	if !ok || jobID == "" {
		return Message{}, errors.Errorf("unexpected channel %q", channel)
	}
	var m Message
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return Message{}, errors.Wrap(err, "decode event")
	}
	if m.Origin == "" {
		return Message{}, errors.New("message has no origin")
	}
	ev := m.Event
	if ev.JobID != jobID {
		return Message{}, errors.Errorf("event for job %q on channel of job %q", ev.JobID, jobID)
	}
	if ev.Type != domain.EventBidCreated && ev.Type != domain.EventBidAccepted {
		return Message{}, errors.Errorf("unknown event type %q", ev.Type)
	}
	return m, nil
}
