// Package broker provides the Redis-backed pattern pub/sub primitive that
// fans out live span/trace updates to subscribers. A Kafka topic cannot
// express pattern subscription directly (consumers subscribe to
// topics/partitions, not key patterns), so this sits alongside
// internal/queue rather than reusing it.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrBrokerClosed is returned by Publish/Subscribe once Close has run.
var ErrBrokerClosed = errors.New("broker: closed")

// Update is a single notification delivered to a trace subscription: a span
// within the trace changed state. The payload carried over the wire is just
// an ISO-8601 timestamp, per spec; SpanID is recovered from the name of the
// channel that matched the pattern.
type Update struct {
	TraceID   string
	SpanID    string
	Timestamp time.Time
}

// Publisher publishes span-state-change notifications. Implemented by
// *Broker; declared here so tracestore can depend on the behavior it needs
// without importing the concrete Redis client.
type Publisher interface {
	Publish(ctx context.Context, traceID, spanID string) error
}

// Subscription is a live handle to a trace's pattern subscription. Ch is
// closed after Unsubscribe returns.
type Subscription struct {
	Ch          <-chan Update
	Unsubscribe func()
}

// Subscriber opens a pattern subscription for a single trace.
type Subscriber interface {
	Subscribe(ctx context.Context, traceID string) (*Subscription, error)
}

// Broker wraps a single shared *redis.Client for both publish and pattern
// subscribe. One Broker instance is shared process-wide; each Subscribe
// call opens its own *redis.PubSub connection, torn down synchronously by
// Unsubscribe before it returns, per spec's cancellation/teardown model.
type Broker struct {
	rdb    *redis.Client
	closed chan struct{}
}

// New wraps an already-configured *redis.Client. The caller owns the
// client's lifecycle beyond Close, which only stops accepting new
// operations on this Broker.
func New(rdb *redis.Client) *Broker {
	return &Broker{rdb: rdb, closed: make(chan struct{})}
}

func channelFor(traceID, spanID string) string {
	return fmt.Sprintf("events:%s:%s", traceID, spanID)
}

func patternFor(traceID string) string {
	return fmt.Sprintf("events:%s:*", traceID)
}

// Publish notifies subscribers of traceID that spanID changed state. Payload
// is an ISO-8601 timestamp, per spec's publish-to-broker contract.
func (b *Broker) Publish(ctx context.Context, traceID, spanID string) error {
	select {
	case <-b.closed:
		return ErrBrokerClosed
	default:
	}

	payload := time.Now().UTC().Format(time.RFC3339Nano)

	if err := b.rdb.Publish(ctx, channelFor(traceID, spanID), payload).Err(); err != nil {
		return fmt.Errorf("broker: publish failed: %w", err)
	}

	return nil
}

// Subscribe opens a pattern subscription on events:{traceID}:*. The returned
// channel delivers one Update per matching publish; Unsubscribe closes the
// underlying Redis connection before returning. The channel is closed by the
// delivery goroutine when it exits, which can happen after Unsubscribe returns.
func (b *Broker) Subscribe(ctx context.Context, traceID string) (*Subscription, error) {
	select {
	case <-b.closed:
		return nil, ErrBrokerClosed
	default:
	}

	pubsub := b.rdb.PSubscribe(ctx, patternFor(traceID))

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()

		return nil, fmt.Errorf("broker: subscribe failed: %w", err)
	}

	out := make(chan Update)
	done := make(chan struct{})

	go func() {
		defer close(out)

		redisCh := pubsub.Channel()

		for {
			select {
			case msg, ok := <-redisCh:
				if !ok {
					return
				}

				update, ok := parseUpdate(traceID, msg)
				if !ok {
					continue
				}

				select {
				case out <- update:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()

	unsubscribeOnce := make(chan struct{}, 1)
	unsubscribeOnce <- struct{}{}

	unsubscribe := func() {
		select {
		case <-unsubscribeOnce:
		default:
			return
		}

		close(done)
		_ = pubsub.Close()
	}

	return &Subscription{Ch: out, Unsubscribe: unsubscribe}, nil
}

// Close stops accepting new Publish/Subscribe calls. It does not close the
// underlying *redis.Client, which the caller owns.
func (b *Broker) Close() error {
	select {
	case <-b.closed:
	default:
		close(b.closed)
	}

	return nil
}

func parseUpdate(traceID string, msg *redis.Message) (Update, bool) {
	spanID, ok := spanIDFromChannel(traceID, msg.Channel)
	if !ok {
		return Update{}, false
	}

	ts, err := time.Parse(time.RFC3339Nano, msg.Payload)
	if err != nil {
		return Update{}, false
	}

	return Update{TraceID: traceID, SpanID: spanID, Timestamp: ts}, true
}

func spanIDFromChannel(traceID, channel string) (string, bool) {
	prefix := fmt.Sprintf("events:%s:", traceID)
	if len(channel) <= len(prefix) || channel[:len(prefix)] != prefix {
		return "", false
	}

	return channel[len(prefix):], true
}
