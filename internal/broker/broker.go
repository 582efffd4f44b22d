// ABOUTME: Topic broker abstraction: publish by routing key, consume durable queues by pattern
// ABOUTME: Routing keys are dot-separated words; patterns use * for one word and # for any number

package broker

import (
	"context"
	"errors"
	"strings"
)

// ErrClosed is returned when using a broker after Close.
var ErrClosed = errors.New("broker: closed")

// Delivery is one message handed to a subscriber.
type Delivery struct {
	ID         string
	RoutingKey string
	Body       []byte
}

// Handler processes a delivery. Deliveries are acknowledged after the handler
// returns, whatever it did, so handlers own their own error reporting.
type Handler func(ctx context.Context, d Delivery)

// Broker routes published messages to named durable queues.
type Broker interface {
	// Declare binds queue to pattern. Messages published after Declare are
	// retained for the queue even if no consumer is running yet.
	Declare(ctx context.Context, queue, pattern string) error
	// Publish sends body under routingKey to every queue whose pattern matches.
	Publish(ctx context.Context, routingKey string, body []byte) error
	// Subscribe declares queue and consumes it until ctx is cancelled.
	// Deliveries are handed to h one at a time, in queue order.
	Subscribe(ctx context.Context, queue, pattern string, h Handler) error
	// Ping reports whether the broker is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// MatchTopic reports whether routingKey matches pattern.
// "*" matches exactly one word and "#" matches zero or more words.
func MatchTopic(pattern, routingKey string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(routingKey, "."))
}

func matchWords(pattern, key []string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case "#":
			if len(pattern) == 1 {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if matchWords(pattern[1:], key[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(key) == 0 {
				return false
			}
		default:
			if len(key) == 0 || key[0] != pattern[0] {
				return false
			}
		}
		pattern, key = pattern[1:], key[1:]
	}
	return len(key) == 0
}
