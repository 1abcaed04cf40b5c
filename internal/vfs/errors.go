package vfs

import (
	"errors"
	"fmt"
	"strings"

	"cabinet/internal/storage"
)

// Error kinds. Every error returned by a Browser matches exactly one of
// these through errors.Is.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("not found")
	ErrUpstream       = errors.New("upstream failure")
)

// Error describes a failed Browser operation.
type Error struct {
	// Kind is one of ErrInvalidRequest, ErrNotFound or ErrUpstream.
	Kind error

	// Op is the operation that failed, e.g. "move" or "upload part".
	Op string

	// Key is the object key being processed when the failure occurred. For
	// cascades this is the child key, not the folder.
	Key string

	// Part is the multipart part number, or 0.
	Part int

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Part > 0 {
		fmt.Fprintf(&b, " %d", e.Part)
	}
	if e.Key != "" {
		if e.Part > 0 {
			b.WriteString(" of")
		}
		b.WriteString(" ")
		b.WriteString(e.Key)
	}
	b.WriteString(": ")
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString(e.Kind.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func invalid(op, key, msg string) error {
	return &Error{Kind: ErrInvalidRequest, Op: op, Key: key, Err: errors.New(msg)}
}

// kindOf maps a store error onto an error kind.
func kindOf(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, storage.ErrInvalidPart),
		errors.Is(err, storage.ErrInvalidPartOrder),
		errors.Is(err, storage.ErrInvalidCursor):
		return ErrInvalidRequest
	default:
		return ErrUpstream
	}
}

// classify wraps a store error returned while processing key.
func classify(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var ve *Error
	if errors.As(err, &ve) {
		return err
	}
	return &Error{Kind: kindOf(err), Op: op, Key: key, Err: err}
}

// cascadeError reports the first failure of a move or delete cascade. The
// store is left with whatever the cascade managed to do before failing.
func cascadeError(op, key string, done, total int, err error) error {
	return &Error{
		Kind: kindOf(err),
		Op:   op,
		Key:  key,
		Err: fmt.Errorf("%w (cascade stopped after %d of %d objects; earlier objects were already processed and the store may be partially %s)",
			err, done, total, pastTense(op)),
	}
}

func pastTense(op string) string {
	switch op {
	case "move":
		return "moved"
	case "remove":
		return "removed"
	}
	return "modified"
}
