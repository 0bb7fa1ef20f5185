// Package stores implements txqueue.ElementRepository and txqueue.DeadLetterRepository on
// PostgreSQL, MySQL and SQLite. Payloads are stored as JSON.
package stores

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/mickamy/txqueue"
)

const (
	defaultTable           = "txqueue_elements"
	defaultDeadLetterTable = "txqueue_dead_letters"
	defaultQueueName       = "default"
)

type options struct {
	queue           string
	table           string
	deadLetterTable string
}

func newOptions() options {
	return options{
		queue:           defaultQueueName,
		table:           defaultTable,
		deadLetterTable: defaultDeadLetterTable,
	}
}

func marshalPayload[E, P any](queue string, element E, payload P) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, txqueue.NewError(queue, element, txqueue.ErrTypePayloadMarshal, "Failed to marshal the element payload.", err)
	}
	return raw, nil
}

func unmarshalPayload[P any](queue string, id int64, raw []byte) (P, error) {
	var payload P
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, txqueue.NewError(queue, id, txqueue.ErrTypePayloadUnmarshal,
			fmt.Sprintf("Failed to unmarshal the payload of element %d.", id), err)
	}
	return payload, nil
}

// insertedID reads the generated key returned by INSERT ... RETURNING id.
func insertedID[P any](queue string, item txqueue.ElementToEnqueue[P], rows *sql.Rows) (int64, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, txqueue.NewError(queue, item, txqueue.ErrTypeQueueInsert, "Failed to insert the element.", err)
		}
		return 0, txqueue.NewError(queue, item, txqueue.ErrTypeQueueInsertCountRowsInserted,
			"Expected one row to be inserted, got 0.", nil)
	}
	var key any
	if err := rows.Scan(&key); err != nil {
		return 0, txqueue.NewError(queue, item, txqueue.ErrTypeElementID, "Failed to read the generated element id.", err)
	}
	return elementID(queue, item, key)
}

func elementID[P any](queue string, item txqueue.ElementToEnqueue[P], key any) (int64, error) {
	switch id := key.(type) {
	case nil:
		return 0, txqueue.NewError(queue, item, txqueue.ErrTypeElementIDNull, "The generated element id is null.", nil)
	case int64:
		return id, nil
	case int32:
		return int64(id), nil
	case int:
		return int64(id), nil
	default:
		return 0, txqueue.NewError(queue, item, txqueue.ErrTypeElementIDNotLong,
			fmt.Sprintf("The generated element id %v is a %T, not an integer.", key, key), nil)
	}
}

func deleteResult[P any](queue string, element txqueue.Element[P], res sql.Result, err error) (txqueue.Element[P], error) {
	if err != nil {
		return txqueue.Element[P]{}, txqueue.NewError(queue, element, txqueue.ErrTypeDeleteElement, "Failed to delete the element.", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return txqueue.Element[P]{}, txqueue.NewError(queue, element, txqueue.ErrTypeDeleteElement, "Failed to count deleted rows.", err)
	}
	if n == 0 {
		return txqueue.Element[P]{}, txqueue.NewError(queue, element, txqueue.ErrTypeZeroRowsDeleted,
			fmt.Sprintf("Zero rows deleted for element with id %d and dispatch count %d.", element.ID, element.DispatchCount), nil)
	}
	return element, nil
}

func lockError(queue string, err error) error {
	return txqueue.NewError(queue, queue, txqueue.ErrTypeRetryDispatchLock, "Failed to lock elements for the next dispatch.", err)
}

func readError(queue string, id int64, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return txqueue.NewError(queue, id, txqueue.ErrTypeReadElement, fmt.Sprintf("Element with id %d not found.", id), err)
	}
	return txqueue.NewError(queue, id, txqueue.ErrTypeReadElement, fmt.Sprintf("Failed to read element with id %d.", id), err)
}

func deadLetterError[P any](queue string, element txqueue.Element[P], err error) error {
	return txqueue.NewError(queue, element, txqueue.ErrTypeDeadLetterInsert, "Failed to insert the element into the dead letter table.", err)
}

// sortElements orders claimed rows by (CreatedAt, ID); RETURNING gives no order guarantee.
func sortElements[P any](elements []txqueue.Element[P]) {
	sort.Slice(elements, func(i, j int) bool {
		if !elements[i].CreatedAt.Equal(elements[j].CreatedAt) {
			return elements[i].CreatedAt.Before(elements[j].CreatedAt)
		}
		return elements[i].ID < elements[j].ID
	})
}
