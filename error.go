package txqueue

import (
	"context"
	"errors"
	"fmt"
)

// ErrorType is the stable tag attached to every QueueError.
type ErrorType string

const (
	ErrTypeEnqueueUnexpected                ErrorType = "enqueue-unexpected-error"
	ErrTypeOpenTransaction                  ErrorType = "open-transaction-error"
	ErrTypeCommitTransaction                ErrorType = "commit-transaction-error"
	ErrTypeDatabaseRollback                 ErrorType = "database-rollback"
	ErrTypeQueueInsert                      ErrorType = "queue-insert-error"
	ErrTypeQueueInsertCountRowsInserted     ErrorType = "queue-insert-count-rows-inserted"
	ErrTypeElementIDNull                    ErrorType = "element-id-null"
	ErrTypeElementIDNotLong                 ErrorType = "element-id-not-long"
	ErrTypeElementID                        ErrorType = "element-id-error"
	ErrTypeReadElement                      ErrorType = "read-element-error"
	ErrTypeRetryDispatchLock                ErrorType = "retry-dispatch-lock-error"
	ErrTypeRetrierFindAndLock               ErrorType = "retrier-unexpected-error-on-find-and-lock"
	ErrTypeRetrierPublish                   ErrorType = "retrier-unexpected-error-on-publish-application-event"
	ErrTypeDispatcherUnexpected             ErrorType = "dispatcher-unexpected-error"
	ErrTypeConsumePayloadUnexpected         ErrorType = "consume-element-payload-unexpected-error"
	ErrTypeFallbackConsumePayloadUnexpected ErrorType = "fallback-consume-element-payload-unexpected-error"
	ErrTypeZeroRowsDeleted                  ErrorType = "zero-rows-deleted"
	ErrTypeDeleteElement                    ErrorType = "delete-element-error"
	ErrTypeEventPublication                 ErrorType = "application-event-publication-error"
	ErrTypeMovedToDeadLetterQueue           ErrorType = "moved-to-dead-letter-queue-error"
	ErrTypeDeadLetterInsert                 ErrorType = "dead-letter-insert-error"
	ErrTypePayloadMarshal                   ErrorType = "payload-marshal-error"
	ErrTypePayloadUnmarshal                 ErrorType = "payload-unmarshal-error"
)

// QueueError describes a failed queue operation against a particular element.
// E is whatever identifies the subject: an ElementToEnqueue, an Element, an id or the queue name.
type QueueError[E any] struct {
	Name    string
	Element E
	Type    ErrorType
	Message string
	Cause   error
}

// NewError builds a QueueError.
func NewError[E any](name string, element E, typ ErrorType, message string, cause error) *QueueError[E] {
	return &QueueError[E]{
		Name:    name,
		Element: element,
		Type:    typ,
		Message: message,
		Cause:   cause,
	}
}

func (e *QueueError[E]) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("txqueue %s: %s: %s", e.Name, e.Type, e.Message)
	}
	return fmt.Sprintf("txqueue %s: %s: %s: %v", e.Name, e.Type, e.Message, e.Cause)
}

func (e *QueueError[E]) Unwrap() error {
	return e.Cause
}

// ErrorType returns the stable tag.
func (e *QueueError[E]) ErrorType() ErrorType {
	return e.Type
}

// QueueName returns the name of the queue that produced the error.
func (e *QueueError[E]) QueueName() string {
	return e.Name
}

// ErrorMessage returns the human message without the cause.
func (e *QueueError[E]) ErrorMessage() string {
	return e.Message
}

// LogError writes the error with its full context.
func (e *QueueError[E]) LogError(ctx context.Context, logger Logger) {
	logger.Error(ctx, "Queue error for %+v. Name: %s. Type: %s, Error: %s. Cause: %v",
		e.Element, e.Name, e.Type, e.Message, e.Cause)
}

// WithAnotherElement re-reports err against a different element, keeping name, type, message and cause.
func WithAnotherElement[E, T any](err *QueueError[E], element T) *QueueError[T] {
	return NewError(err.Name, element, err.Type, err.Message, err.Cause)
}

// typedError is satisfied by every QueueError instantiation.
type typedError interface {
	error
	ErrorType() ErrorType
	QueueName() string
	ErrorMessage() string
}

// TypeOf returns the tag of the first QueueError in err's chain.
func TypeOf(err error) (ErrorType, bool) {
	var te typedError
	if errors.As(err, &te) {
		return te.ErrorType(), true
	}
	return "", false
}

// HasType reports whether any QueueError in err's chain carries typ.
func HasType(err error, typ ErrorType) bool {
	for err != nil {
		if te, ok := err.(typedError); ok && te.ErrorType() == typ {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// asQueueError turns any collaborator error into a QueueError about element.
// Errors that already carry a tag keep it; anything else is reported with fallback.
func asQueueError[E any](err error, name string, element E, fallback ErrorType, message string) *QueueError[E] {
	if qe, ok := err.(*QueueError[E]); ok {
		return qe
	}
	var te typedError
	if errors.As(err, &te) {
		return NewError(te.QueueName(), element, te.ErrorType(), te.ErrorMessage(), errors.Unwrap(te))
	}
	return NewError(name, element, fallback, message, err)
}

// causeOf returns the cause of the first QueueError in err's chain, or err itself when it is untyped.
func causeOf(err error) error {
	var te typedError
	if errors.As(err, &te) {
		return errors.Unwrap(te)
	}
	return err
}

// panicError wraps a recovered panic value so it can serve as a cause.
func panicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}
