package txqueuetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mickamy/txqueue"
)

// Operation names accepted by Repository.WillReturnError.
const (
	OpInsert              = "insert"
	OpFindByID            = "findById"
	OpLockForNextDispatch = "lockForNextDispatch"
	OpDelete              = "delete"
)

// Repository is an in-memory ElementRepository with the same claim and guarded delete semantics as the SQL stores.
type Repository[P any] struct {
	name     string
	failures failures

	mu       sync.Mutex
	nextID   int64
	elements map[int64]txqueue.Element[P]
}

// NewRepository returns an empty repository for the named queue.
func NewRepository[P any](name string) *Repository[P] {
	return &Repository[P]{name: name, elements: make(map[int64]txqueue.Element[P])}
}

// WillReturnError makes op fail with err until cleared with a nil err.
func (r *Repository[P]) WillReturnError(op string, err error) {
	r.failures.set(op, err)
}

// Insert implements txqueue.ElementRepository.
func (r *Repository[P]) Insert(_ context.Context, item txqueue.ElementToEnqueue[P], createdAt, nextDispatchAfter time.Time) (txqueue.Element[P], error) {
	if err := r.failures.get(OpInsert); err != nil {
		return txqueue.Element[P]{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	element := item.Build(r.nextID, createdAt, nextDispatchAfter)
	r.elements[element.ID] = element
	return element, nil
}

// FindByID implements txqueue.ElementRepository.
func (r *Repository[P]) FindByID(_ context.Context, id int64) (txqueue.Element[P], error) {
	if err := r.failures.get(OpFindByID); err != nil {
		return txqueue.Element[P]{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	element, ok := r.elements[id]
	if !ok {
		return txqueue.Element[P]{}, txqueue.NewError(r.name, id, txqueue.ErrTypeReadElement,
			fmt.Sprintf("Element with id %d not found.", id), nil)
	}
	return element, nil
}

// LockForNextDispatch implements txqueue.ElementRepository.
func (r *Repository[P]) LockForNextDispatch(_ context.Context, batchSize int, notDispatchedTill, nextDispatchTime time.Time) ([]txqueue.Element[P], error) {
	if err := r.failures.get(OpLockForNextDispatch); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	due := make([]txqueue.Element[P], 0, len(r.elements))
	for _, element := range r.elements {
		if element.Due(notDispatchedTill) {
			due = append(due, element)
		}
	}
	sortElements(due)
	if len(due) > batchSize {
		due = due[:batchSize]
	}
	for i := range due {
		due[i].DispatchCount++
		due[i].NextDispatchAfter = nextDispatchTime
		r.elements[due[i].ID] = due[i]
	}
	return due, nil
}

// Delete implements txqueue.ElementRepository.
func (r *Repository[P]) Delete(_ context.Context, element txqueue.Element[P]) (txqueue.Element[P], error) {
	if err := r.failures.get(OpDelete); err != nil {
		return txqueue.Element[P]{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.elements[element.ID]
	if !ok || stored.DispatchCount != element.DispatchCount {
		return txqueue.Element[P]{}, txqueue.NewError(r.name, element, txqueue.ErrTypeZeroRowsDeleted,
			fmt.Sprintf("Zero rows deleted for element with id %d and dispatch count %d.", element.ID, element.DispatchCount), nil)
	}
	delete(r.elements, element.ID)
	return element, nil
}

// Put stores element as-is, replacing any row with the same id.
func (r *Repository[P]) Put(element txqueue.Element[P]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.elements[element.ID] = element
	if element.ID > r.nextID {
		r.nextID = element.ID
	}
}

// Get returns the stored element with id.
func (r *Repository[P]) Get(id int64) (txqueue.Element[P], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	element, ok := r.elements[id]
	return element, ok
}

// Len returns the number of stored elements.
func (r *Repository[P]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.elements)
}

func sortElements[P any](elements []txqueue.Element[P]) {
	sort.Slice(elements, func(i, j int) bool {
		if !elements[i].CreatedAt.Equal(elements[j].CreatedAt) {
			return elements[i].CreatedAt.Before(elements[j].CreatedAt)
		}
		return elements[i].ID < elements[j].ID
	})
}

// DeadLetters is an in-memory DeadLetterRepository.
type DeadLetters[P any] struct {
	failures failures

	mu       sync.Mutex
	elements []txqueue.Element[P]
}

// NewDeadLetters returns an empty dead-letter store.
func NewDeadLetters[P any]() *DeadLetters[P] {
	return &DeadLetters[P]{}
}

// WillReturnError makes Insert fail with err. op must be OpInsert.
func (d *DeadLetters[P]) WillReturnError(op string, err error) {
	d.failures.set(op, err)
}

// Insert implements txqueue.DeadLetterRepository.
func (d *DeadLetters[P]) Insert(_ context.Context, element txqueue.Element[P]) (txqueue.Element[P], error) {
	if err := d.failures.get(OpInsert); err != nil {
		return txqueue.Element[P]{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.elements = append(d.elements, element)
	return element, nil
}

// Elements returns a copy of everything dead-lettered so far.
func (d *DeadLetters[P]) Elements() []txqueue.Element[P] {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]txqueue.Element[P](nil), d.elements...)
}

// Snapshot implements Snapshotter.
func (r *Repository[P]) Snapshot() func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	saved := make(map[int64]txqueue.Element[P], len(r.elements))
	for id, element := range r.elements {
		saved[id] = element
	}
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.elements = saved
	}
}

// Snapshot implements Snapshotter.
func (d *DeadLetters[P]) Snapshot() func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	saved := append([]txqueue.Element[P](nil), d.elements...)
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.elements = saved
	}
}
