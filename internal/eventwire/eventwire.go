// Package eventwire is the JSON form of a claimed element travelling through an external dispatch trigger.
package eventwire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mickamy/txqueue"
)

// Event carries one claimed element. EventID lets consumers spot redeliveries.
type Event[P any] struct {
	EventID           string    `json:"event_id"`
	Queue             string    `json:"queue"`
	PublishedAt       time.Time `json:"published_at"`
	ID                int64     `json:"id"`
	CreatedAt         time.Time `json:"created_at"`
	NextDispatchAfter time.Time `json:"next_dispatch_after"`
	DispatchCount     int       `json:"dispatch_count"`
	Payload           P         `json:"payload"`
}

// New wraps element for publication on queue.
func New[P any](queue string, element txqueue.Element[P], publishedAt time.Time) Event[P] {
	return Event[P]{
		EventID:           uuid.NewString(),
		Queue:             queue,
		PublishedAt:       publishedAt.UTC(),
		ID:                element.ID,
		CreatedAt:         element.CreatedAt,
		NextDispatchAfter: element.NextDispatchAfter,
		DispatchCount:     element.DispatchCount,
		Payload:           element.Payload,
	}
}

// Element returns the element exactly as it was claimed; Dispatch relies on its DispatchCount.
func (e Event[P]) Element() txqueue.Element[P] {
	return txqueue.NewElement(e.ID, e.CreatedAt, e.NextDispatchAfter, e.DispatchCount, e.Payload)
}

// Marshal encodes an event.
func Marshal[P any](e Event[P]) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("eventwire: marshal event %s: %w", e.EventID, err)
	}
	return data, nil
}

// Unmarshal decodes an event and checks that it names a queue and an element.
func Unmarshal[P any](data []byte) (Event[P], error) {
	var e Event[P]
	if err := json.Unmarshal(data, &e); err != nil {
		return Event[P]{}, fmt.Errorf("eventwire: unmarshal event: %w", err)
	}
	if e.Queue == "" || e.ID == 0 {
		return Event[P]{}, fmt.Errorf("eventwire: event %q is missing queue or element id", e.EventID)
	}
	return e, nil
}
