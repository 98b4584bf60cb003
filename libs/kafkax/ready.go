package kafkax

import (
	"context"
	"errors"

	"github.com/segmentio/kafka-go"
)

// ReadyCheck dials the first reachable broker. An empty broker list reports
// "disabled" as healthy because the outbox publisher is optional.
func ReadyCheck(brokers string) func(context.Context) error {
	return func(ctx context.Context) error {
		list := SplitBrokers(brokers)
		if len(list) == 0 {
			return nil
		}
		var dialer kafka.Dialer
		var lastErr error
		for _, broker := range list {
			conn, err := dialer.DialContext(ctx, "tcp", broker)
			if err != nil {
				lastErr = err
				continue
			}
			_ = conn.Close()
			return nil
		}
		if lastErr == nil {
			lastErr = errors.New("no kafka broker reachable")
		}
		return lastErr
	}
}
