package posts

import (
	"errors"
	"fmt"
)

var (
	// ErrPostNotFound indicates the referenced post does not exist.
	ErrPostNotFound = errors.New("posts: post not found")
	// ErrForbidden indicates the principal is not the author of the post.
	ErrForbidden = errors.New("posts: principal is not the author")
	// ErrInvalidPost indicates an empty title or content.
	ErrInvalidPost = errors.New("posts: invalid post")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
)

// ServiceError annotates a failure with an operation.reason code for logs and responses.
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
	opServiceNew = "posts.service.new"
	opCreate     = "posts.create"
	opGet        = "posts.get"
	opList       = "posts.list"
	opUpdate     = "posts.update"
	opDelete     = "posts.delete"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}
