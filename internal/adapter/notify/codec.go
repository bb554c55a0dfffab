// Package notify carries row-change events between the stores and the bus
// over Redis pub/sub, Postgres LISTEN/NOTIFY or Kafka.
package notify

import (
	"encoding/json"
	"fmt"

	"github.com/rl1809/order-tracking/internal/core/domain"
)

// Channel is the Redis channel, Postgres notification channel and Kafka topic
// used for change events.
const Channel = "table_changes"

func decode(payload []byte) (domain.ChangeEvent, error) {
	var ev domain.ChangeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ev, fmt.Errorf("decode change event: %w", err)
	}
	if ev.Table == "" {
		return ev, fmt.Errorf("decode change event: missing table")
	}
	return ev, nil
}

func encode(ev domain.ChangeEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode change event: %w", err)
	}
	return data, nil
}
