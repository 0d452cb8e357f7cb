// Package errs holds the error taxonomy shared by the collector, the save
// coordinator, the event bus and the relay.
package errs

import "errors"

var (
	// ErrValidation marks a malformed event rejected before it reaches the store.
	ErrValidation = errors.New("validation failure")
	// ErrPersistence marks a failed unit of work. Nothing from it was applied.
	ErrPersistence = errors.New("persistence failure")
	// ErrPublish marks a transient failure while publishing a claimed row.
	ErrPublish = errors.New("publish failure")
	// ErrPoisonMessage marks a row that exhausted its attempts and needs an operator.
	ErrPoisonMessage = errors.New("poison message")
	// ErrHandler marks one or more failed handler invocations during a publish.
	ErrHandler = errors.New("event handler failure")
)
