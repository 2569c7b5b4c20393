package types

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels matched by the typed errors below through errors.Is.
var (
	ErrSchemaLoad        = errors.New("schema load failed")
	ErrContainerNotFound = errors.New("container not found")
	ErrEntityNotFound    = errors.New("entity not found")
	ErrValidationFailed  = errors.New("validation failed")
	ErrManager           = errors.New("manager error")
)

// ErrNotFound is returned by Store implementations when no entity has the
// requested key. The Manager converts it to an EntityNotFoundError.
var ErrNotFound = errors.New("store: entity not found")

// Field error codes produced by the Manager.
const (
	CodeUnknownAttribute = "unknown_attribute"
	CodeNotEditable      = "not_editable"
	CodeKeyImmutable     = "key_immutable"
	CodeRequired         = "required"
	CodeInvalidValue     = "invalid_value"
	CodeConstraint       = "constraint"
)

// SchemaLoadError reports a failed schema resolution. It is never cached.
type SchemaLoadError struct {
	ModelID string
	Err     error
}

func (e *SchemaLoadError) Error() string {
	return fmt.Sprintf("loading schema %q: %v", e.ModelID, e.Err)
}

func (e *SchemaLoadError) Unwrap() error { return e.Err }

// Is matches ErrSchemaLoad.
func (e *SchemaLoadError) Is(target error) bool { return target == ErrSchemaLoad }

// ContainerNotFoundError reports a container id absent from the resolved schema.
type ContainerNotFoundError struct {
	ModelID   string
	Container string
}

func (e *ContainerNotFoundError) Error() string {
	return fmt.Sprintf("container not found: %s (model %q)", e.Container, e.ModelID)
}

// Is matches ErrContainerNotFound.
func (e *ContainerNotFoundError) Is(target error) bool { return target == ErrContainerNotFound }

// EntityNotFoundError reports an unknown entity key.
type EntityNotFoundError struct {
	Container string
	Key       string
}

func (e *EntityNotFoundError) Error() string {
	return fmt.Sprintf("entity with key %q is not found in container %s", e.Key, e.Container)
}

// Is matches ErrEntityNotFound.
func (e *EntityNotFoundError) Is(target error) bool { return target == ErrEntityNotFound }

// FieldError is one field-qualified validation failure. Code and Field are
// optional.
type FieldError struct {
	Code    string `json:"code,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (f FieldError) String() string {
	if f.Field == "" {
		return f.Message
	}
	return f.Field + ": " + f.Message
}

// ValidationError carries one or more field errors.
type ValidationError struct {
	Container string
	Errors    []FieldError
}

// NewValidationError returns a ValidationError for container with errs.
func NewValidationError(container string, errs ...FieldError) *ValidationError {
	return &ValidationError{Container: container, Errors: errs}
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, f := range e.Errors {
		msgs[i] = f.String()
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Container, strings.Join(msgs, "; "))
}

// Is matches ErrValidationFailed.
func (e *ValidationError) Is(target error) bool { return target == ErrValidationFailed }

// Field returns the errors reported for field.
func (e *ValidationError) Field(field string) []FieldError {
	var out []FieldError
	for _, f := range e.Errors {
		if f.Field == field {
			out = append(out, f)
		}
	}
	return out
}

// ManagerError wraps a generic adapter failure. The core never retries it.
type ManagerError struct {
	Op        string
	Container string
	Err       error
}

func (e *ManagerError) Error() string {
	if e.Container == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Container, e.Err)
}

func (e *ManagerError) Unwrap() error { return e.Err }

// Is matches ErrManager.
func (e *ManagerError) Is(target error) bool { return target == ErrManager }

// AsValidationError returns the ValidationError in err's chain, if any.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
