package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/park285/cheese-session/internal/obslog"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Event is the envelope published on a topic. Payload is the inserted or updated row.
type Event struct {
	Kind    string          `json:"kind"`
	Ref     string          `json:"ref,omitempty"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error { return json.Unmarshal(e.Payload, v) }

// Bus fans events out to every current subscriber of a topic through Redis pub/sub.
// Delivery is at-least-once from the consumer's point of view: subscribers that
// reconnect are expected to re-read the durable store and de-duplicate by id.
type Bus struct {
	rdb    *redis.Client
	prefix string
}

func NewBus(rdb *redis.Client) *Bus { return &Bus{rdb: rdb, prefix: "live:"} }

func (b *Bus) channel(topic string) string { return b.prefix + strings.TrimSpace(topic) }

// Publish encodes payload and sends it to all current subscribers of topic.
func (b *Bus) Publish(ctx context.Context, topic, kind, ref string, payload any) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("notify bus not initialized")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", kind, err)
	}
	ev, err := json.Marshal(Event{Kind: kind, Ref: ref, At: time.Now().UTC(), Payload: raw})
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel(topic), ev).Err()
}

// Subscribe registers fn for events on topic. It returns once the subscription is
// confirmed by the server, so events published afterwards are delivered.
func (b *Bus) Subscribe(ctx context.Context, topic string, fn func(Event)) (*Subscription, error) {
	if b == nil || b.rdb == nil {
		return nil, fmt.Errorf("notify bus not initialized")
	}
	ps := b.rdb.Subscribe(ctx, b.channel(topic))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	s := &Subscription{topic: topic, ps: ps, done: make(chan struct{})}
	go s.run(ps.Channel(), fn)
	return s, nil
}

// Subscription is a live listener. Close is safe to call any number of times and from
// inside the callback; a callback already running when Close is called may still finish.
type Subscription struct {
	topic   string
	ps      *redis.PubSub
	done    chan struct{}
	once    sync.Once
	stopped atomic.Bool
}

func (s *Subscription) run(ch <-chan *redis.Message, fn func(Event)) {
	defer close(s.done)
	for msg := range ch {
		if s.stopped.Load() {
			return
		}
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			obslog.L().Warn("notify_decode_error", zap.String("topic", s.topic), zap.Error(err))
			continue
		}
		if fn != nil {
			fn(ev)
		}
	}
}

func (s *Subscription) Close() error {
	if s == nil {
		return nil
	}
	var err error
	s.once.Do(func() {
		s.stopped.Store(true)
		err = s.ps.Close()
	})
	return err
}

// Done is closed when the delivery goroutine has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }
