package store

import (
	"errors"
	"fmt"
)

// ValidationError rejects a settings update. Nothing is written when it
// is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid settings: " + e.Message
	}
	return fmt.Sprintf("invalid setting %q: %s", e.Field, e.Message)
}

// NotFoundError is returned for an identity the device table does not hold.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("device not found: %s", e.ID)
}

// StorageError is a persistence failure that survived the retry policy.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

var errVerifyFailed = errors.New("stored document does not match the update")

// classify leaves caller-facing errors alone and wraps everything else.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var vErr *ValidationError
	var nfErr *NotFoundError
	var sErr *StorageError
	switch {
	case errors.As(err, &vErr), errors.As(err, &nfErr), errors.As(err, &sErr):
		return err
	}
	return &StorageError{Op: op, Err: err}
}
