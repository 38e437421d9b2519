// MIT License
//
// Copyright (c) 2020 codingfinest
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package gogm

import (
	"errors"
	"fmt"
)

var (
	//ErrRollbackOnly is returned for every statement submitted after the transaction was marked rollback-only.
	ErrRollbackOnly = errors.New("transaction is marked rollback-only")
	//ErrNoTransaction is returned when a write is flushed without an active transaction.
	ErrNoTransaction = errors.New("cannot flush write operations without an active transaction")
	//ErrFlushInProgress is returned when a flush is requested while another flush of the same session runs.
	ErrFlushInProgress = errors.New("a flush of this session is already in progress")
	//ErrSessionClosed is returned by every operation on a disconnected session.
	ErrSessionClosed = errors.New("session is disconnected")
)

//ResourceExhaustedError is raised when a relationship ledger exceeds its capacity.
//It is fatal for the flush; callers must flush more frequently.
type ResourceExhaustedError struct {
	Capacity int
}

func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("maximum number (%d) of relationship update operations to flush() exceeded. Flush the session periodically to avoid this error for batch operations", e.Capacity)
}

//OptimisticLockError is raised when a versioned update matched no node.
type OptimisticLockError struct {
	Kind     string
	Identity Identity
	Version  int64
}

func (e *OptimisticLockError) Error() string {
	return fmt.Sprintf("the instance of %s with id [%v] was updated by another transaction (expected version %d)", e.Kind, e.Identity, e.Version)
}

//IdentityGenerationError is raised when an insert did not yield an identity.
type IdentityGenerationError struct {
	Kind  string
	Cause error
}

func (e *IdentityGenerationError) Error() string {
	if e.Cause != nil {
		return "CREATE operation did not generate an identifier for entity " + e.Kind + ": " + e.Cause.Error()
	}
	return "CREATE operation did not generate an identifier for entity " + e.Kind
}

func (e *IdentityGenerationError) Unwrap() error {
	return e.Cause
}

//ConfigurationError reports unusable metadata or settings. It is never raised by the backend.
type ConfigurationError struct {
	Subject string
	Message string
}

func (e *ConfigurationError) Error() string {
	return "configuration error for " + e.Subject + ": " + e.Message
}

func configErrorf(subject string, format string, args ...any) error {
	return &ConfigurationError{Subject: subject, Message: fmt.Sprintf(format, args...)}
}

//IsConflict reports whether err is an optimistic-lock conflict.
func IsConflict(err error) bool {
	var lockErr *OptimisticLockError
	return errors.As(err, &lockErr)
}

//IsResourceExhausted reports whether err was caused by a full relationship ledger.
func IsResourceExhausted(err error) bool {
	var exhausted *ResourceExhaustedError
	return errors.As(err, &exhausted)
}
