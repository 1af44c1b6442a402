package stream

import "time"

// Kind labels a buffered record as an event or a metric. The two kinds live
// in separate buffers and ship through separate delivery payloads.
type Kind string

const (
	// KindEvent is a discrete occurrence with arbitrary attributes.
	KindEvent Kind = "event"
	// KindMetric is a named numeric measurement.
	KindMetric Kind = "metric"
)

// Record is one buffered telemetry record awaiting delivery.
type Record struct {
	Payload    map[string]any `json:"payload"`
	Source     string         `json:"source"`
	BufferedAt time.Time      `json:"buffered_at"`
}

// Classify determines whether a payload is an event or a metric. An explicit
// kind always wins. Otherwise the payload shape decides: an event-type field
// marks an event, a name plus a numeric value marks a metric, and anything
// else defaults to event so nothing is silently dropped as malformed.
func Classify(payload map[string]any, explicit Kind) Kind {
	if explicit == KindEvent || explicit == KindMetric {
		return explicit
	}

	if _, ok := payload["eventType"]; ok {
		return KindEvent
	}
	if _, ok := payload["kind"]; ok {
		return KindEvent
	}

	if _, ok := payload["name"]; ok {
		if isNumeric(payload["value"]) {
			return KindMetric
		}
	}

	return KindEvent
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	default:
		return false
	}
}
