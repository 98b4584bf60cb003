package kafkax

import (
	"strings"

	"github.com/segmentio/kafka-go"
)

// EventHeaders returns the canonical metadata headers every published event
// carries: event_id, event_type and tenant_id.
func EventHeaders(eventID, eventType, tenantID string) []kafka.Header {
	headers := []kafka.Header{
		{Key: "event_id", Value: []byte(eventID)},
		{Key: "event_type", Value: []byte(eventType)},
	}
	if tenantID != "" {
		headers = append(headers, kafka.Header{Key: "tenant_id", Value: []byte(tenantID)})
	}
	return headers
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
