package eventwire_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/txqueue"
	"github.com/mickamy/txqueue/internal/eventwire"
)

type payload struct {
	Name string `json:"name"`
}

func TestEventKeepsClaimState(t *testing.T) {
	t.Parallel()
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	element := txqueue.NewElement(7, created, created.Add(time.Minute), 2, payload{Name: "x"})

	event := eventwire.New("orders", element, created.Add(time.Second))
	_, err := uuid.Parse(event.EventID)
	require.NoError(t, err)

	data, err := eventwire.Marshal(event)
	require.NoError(t, err)
	decoded, err := eventwire.Unmarshal[payload](data)
	require.NoError(t, err)

	require.Equal(t, event.EventID, decoded.EventID)
	require.Equal(t, "orders", decoded.Queue)
	got := decoded.Element()
	require.Equal(t, element.ID, got.ID)
	require.Equal(t, element.DispatchCount, got.DispatchCount)
	require.True(t, got.CreatedAt.Equal(element.CreatedAt))
	require.True(t, got.NextDispatchAfter.Equal(element.NextDispatchAfter))
	require.Equal(t, element.Payload, got.Payload)
}

func TestUnmarshalRejectsIncompleteEvents(t *testing.T) {
	t.Parallel()
	_, err := eventwire.Unmarshal[payload]([]byte(`{"event_id":"e1","queue":"orders"}`))
	require.Error(t, err)
	_, err = eventwire.Unmarshal[payload]([]byte(`not json`))
	require.Error(t, err)
}
