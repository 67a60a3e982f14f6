package comments

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized indicates a missing or rejected bearer credential.
	ErrUnauthorized = errors.New("comments: unauthorized")
	// ErrInvalidContent indicates the content is empty after trimming.
	ErrInvalidContent = errors.New("comments: content is required")
	// ErrPostNotFound indicates the target post does not exist.
	ErrPostNotFound = errors.New("comments: post not found")
	// ErrPersistence indicates the comment could not be stored.
	ErrPersistence = errors.New("comments: persistence failed")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingStore      = errors.New("comment store is required")
	errMissingGatekeeper = errors.New("gatekeeper is required")
	errMissingPosts      = errors.New("post lookup is required")
	errMissingAuthors    = errors.New("author directory is required")
	errMissingFanout     = errors.New("fanout publisher is required")
)

// ServiceError annotates a failure with an operation.reason code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opStoreNew   = "comments.store.new"
	opServiceNew = "comments.service.new"
	opAppend     = "comments.append"
	opCreate     = "comments.create"
	opList       = "comments.list"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}
