/*******************************************************************************
 * Copyright (c) 2026 Genome Research Ltd.
 *
 * Permission is hereby granted, free of charge, to any person obtaining
 * a copy of this software and associated documentation files (the
 * "Software"), to deal in the Software without restriction, including
 * without limitation the rights to use, copy, modify, merge, publish,
 * distribute, sublicense, and/or sell copies of the Software, and to
 * permit persons to whom the Software is furnished to do so, subject to
 * the following conditions:
 *
 * The above copyright notice and this permission notice shall be included
 * in all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND,
 * EXPRESS OR IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF
 * MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.
 * IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY
 * CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER IN AN ACTION OF CONTRACT,
 * TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION WITH THE
 * SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
 ******************************************************************************/

package upload

import (
	"errors"
	"fmt"
	"strings"
)

// Error is the custom error type for validation failures.
type Error string

const (
	ErrEmptyName        = Error("dataset name required")
	ErrInvalidName      = Error("dataset name contains invalid characters")
	ErrDuplicateName    = Error("dataset name already exists")
	ErrMalformedJSON    = Error("dataset file is not valid JSON")
	ErrSchemaViolation  = Error("dataset file has the wrong shape")
	ErrNotList          = Error("JSON content must be a list")
	ErrElementNotObject = Error("every list element must be an object")
	ErrMissingKeys      = Error("every object must contain the instruction and output keys")
	ErrInvalidUTF8      = Error("content is not valid UTF-8")
)

func (e Error) Error() string { return string(e) }

// JSONError is returned when a dataset file could not be parsed as JSON. It
// matches ErrMalformedJSON with errors.Is().
type JSONError struct {
	Err error
}

func (e *JSONError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMalformedJSON, e.Err)
}

func (e *JSONError) Unwrap() []error {
	return []error{ErrMalformedJSON, e.Err}
}

// SchemaError is returned when a dataset file is valid JSON but not a list of
// objects with the required keys. Kind is one of ErrNotList,
// ErrElementNotObject or ErrMissingKeys; Index is the offending element, or -1
// for ErrNotList. It matches both Kind and ErrSchemaViolation with errors.Is().
type SchemaError struct {
	Kind    Error
	Index   int
	Missing []string
}

func (e *SchemaError) Error() string {
	switch {
	case e.Index < 0:
		return string(e.Kind)
	case len(e.Missing) > 0:
		return fmt.Sprintf("%s (element %d lacks %s)", e.Kind, e.Index, strings.Join(e.Missing, ", "))
	default:
		return fmt.Sprintf("%s (element %d)", e.Kind, e.Index)
	}
}

func (e *SchemaError) Unwrap() []error {
	return []error{e.Kind, ErrSchemaViolation}
}

// IOError wraps unexpected failures reading, moving or registering a dataset.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *IOError) Unwrap() error {
	return e.Err
}

func ioError(op string, err error) error {
	var ioErr *IOError

	if errors.As(err, &ioErr) {
		return err
	}

	return &IOError{Op: op, Err: err}
}

// Kind names the category of the given error returned by Upload(): one of
// "ok" (nil error), "empty_name", "invalid_name", "duplicate_name",
// "malformed_json", "not_list", "element_not_object", "missing_keys" or "io".
func Kind(err error) string {
	var schemaErr *SchemaError

	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrEmptyName):
		return "empty_name"
	case errors.Is(err, ErrInvalidName):
		return "invalid_name"
	case errors.Is(err, ErrDuplicateName):
		return "duplicate_name"
	case errors.Is(err, ErrMalformedJSON):
		return "malformed_json"
	case errors.As(err, &schemaErr):
		return schemaKind(schemaErr.Kind)
	}

	return "io"
}

func schemaKind(kind Error) string {
	switch kind { //nolint:exhaustive
	case ErrNotList:
		return "not_list"
	case ErrElementNotObject:
		return "element_not_object"
	default:
		return "missing_keys"
	}
}

// IsValidationError returns true if err is a rejection of the user's input,
// as opposed to an unexpected I/O failure.
func IsValidationError(err error) bool {
	k := Kind(err)

	return k != "ok" && k != "io"
}
