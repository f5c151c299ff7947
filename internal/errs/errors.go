// Package errs defines the error taxonomy shared by the index, attachment
// and release layers. Errors are structured (code + context fields) so that
// callers can branch on category with errors.As without parsing messages.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Code categorizes engine errors.
type Code string

const (
	// CodeValidation indicates an entity value failed its category schema.
	// Recoverable: the caller corrects the input.
	CodeValidation Code = "VALIDATION"

	// CodeVersionConflict indicates an optimistic-concurrency loss, either
	// on an Entry version or on an attachment directory version stamp.
	// Recoverable: the caller re-reads and retries.
	CodeVersionConflict Code = "VERSION_CONFLICT"

	// CodeNotFound indicates a missing oid, category or attachment path.
	// Terminal for the request.
	CodeNotFound Code = "NOT_FOUND"

	// CodePathTraversal indicates an attachment path that escapes the
	// instance root. Treated as a security boundary violation.
	CodePathTraversal Code = "PATH_TRAVERSAL"

	// CodeUploadIncomplete indicates a broken chunked-upload sequence.
	// The client must restart the upload.
	CodeUploadIncomplete Code = "UPLOAD_INCOMPLETE"

	// CodeUpgradeFailure indicates an upgrade procedure raised during a
	// shadow sync. The transition was rolled back; the real instance is
	// unaffected.
	CodeUpgradeFailure Code = "UPGRADE_FAILURE"

	// CodeRenameRejected indicates a rename batch was refused as a whole
	// (duplicate targets, collisions, missing sources). The directory is
	// unchanged.
	CodeRenameRejected Code = "RENAME_REJECTED"
)

// Violation is one schema-validation failure: a JSON-pointer style path
// into the value plus a human-readable message.
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	if v.Path == "" {
		return v.Message
	}
	return v.Path + ": " + v.Message
}

// Error is the structured error surfaced by the engine. Store and
// attachment errors pass through the service layer unmodified.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Path names the affected resource (category path, attachment path,
	// or "oid N") where applicable.
	Path string

	// Violations carries per-field schema failures for CodeValidation
	// and per-operation reports for CodeRenameRejected.
	Violations []Violation

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Path != "" {
		fmt.Fprintf(&b, " (%s)", e.Path)
	}
	if len(e.Violations) > 0 {
		parts := make([]string, len(e.Violations))
		for i, v := range e.Violations {
			parts[i] = v.String()
		}
		fmt.Fprintf(&b, ": %s", strings.Join(parts, "; "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.Err }

// is reports whether err is an *Error with the given code.
func is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsValidation reports whether err is a schema-validation failure.
func IsValidation(err error) bool { return is(err, CodeValidation) }

// IsVersionConflict reports whether err is an optimistic-concurrency loss.
func IsVersionConflict(err error) bool { return is(err, CodeVersionConflict) }

// IsNotFound reports whether err is a missing oid/path/category.
func IsNotFound(err error) bool { return is(err, CodeNotFound) }

// IsPathTraversal reports whether err is a rejected path escape.
func IsPathTraversal(err error) bool { return is(err, CodePathTraversal) }

// IsUploadIncomplete reports whether err is a broken upload sequence.
func IsUploadIncomplete(err error) bool { return is(err, CodeUploadIncomplete) }

// IsUpgradeFailure reports whether err is a failed shadow upgrade.
func IsUpgradeFailure(err error) bool { return is(err, CodeUpgradeFailure) }

// IsRenameRejected reports whether err is a refused rename batch.
func IsRenameRejected(err error) bool { return is(err, CodeRenameRejected) }

// Validation builds a CodeValidation error for a category path.
func Validation(cat string, violations []Violation) *Error {
	return &Error{
		Code:       CodeValidation,
		Message:    "value does not satisfy category schema",
		Path:       cat,
		Violations: violations,
	}
}

// VersionConflict builds a CodeVersionConflict error.
func VersionConflict(what string, expected, actual any) *Error {
	return &Error{
		Code:    CodeVersionConflict,
		Message: fmt.Sprintf("stale version: expected %v, found %v", expected, actual),
		Path:    what,
	}
}

// NotFound builds a CodeNotFound error.
func NotFound(what string) *Error {
	return &Error{Code: CodeNotFound, Message: "not found", Path: what}
}

// PathTraversal builds a CodePathTraversal error.
func PathTraversal(path string) *Error {
	return &Error{Code: CodePathTraversal, Message: "path escapes instance root", Path: path}
}

// UploadIncomplete builds a CodeUploadIncomplete error.
func UploadIncomplete(msg string, cause error) *Error {
	return &Error{Code: CodeUploadIncomplete, Message: msg, Err: cause}
}

// UpgradeFailure builds a CodeUpgradeFailure error for upgrade procedure n.
func UpgradeFailure(n int, cause error) *Error {
	return &Error{
		Code:    CodeUpgradeFailure,
		Message: fmt.Sprintf("upgrade_%d failed", n),
		Err:     cause,
	}
}

// RenameRejected builds a CodeRenameRejected error carrying per-operation
// reports. The directory is guaranteed unchanged when this is returned.
func RenameRejected(path string, reports []Violation) *Error {
	return &Error{
		Code:       CodeRenameRejected,
		Message:    "rename batch rejected",
		Path:       path,
		Violations: reports,
	}
}
