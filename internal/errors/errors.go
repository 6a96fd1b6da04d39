package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// ReferenceError indicates an incoming entity names something that cannot be resolved
	ReferenceError ErrorCode = "REFERENCE_ERROR"
	// InvalidKey indicates a malformed natural key
	InvalidKey ErrorCode = "INVALID_KEY"
	// PolicyViolation indicates generated content tried to replace a manual decision
	PolicyViolation ErrorCode = "POLICY_VIOLATION"
	// HistoryConflict indicates a change would rewrite history recorded at a later version
	HistoryConflict ErrorCode = "HISTORY_CONFLICT"
	// DuplicateEntity indicates the same natural key appears twice in one request
	DuplicateEntity ErrorCode = "DUPLICATE_ENTITY"
	// VersionOrdering indicates versions of different projects were compared
	VersionOrdering ErrorCode = "VERSION_ORDERING"
	// VersionNotFound indicates the project version does not exist
	VersionNotFound ErrorCode = "VERSION_NOT_FOUND"
	// VersionExists indicates the version triple is already taken in the project
	VersionExists ErrorCode = "VERSION_EXISTS"
	// ProjectNotFound indicates the project does not exist
	ProjectNotFound ErrorCode = "PROJECT_NOT_FOUND"
	// ProjectExists indicates a project with the same name exists
	ProjectExists ErrorCode = "PROJECT_EXISTS"
	// InvalidArgument indicates a malformed request
	InvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// CommitRejected indicates an all-or-nothing commit was rolled back
	CommitRejected ErrorCode = "COMMIT_REJECTED"
	// StorageError indicates the underlying store failed; the operation was rolled back
	StorageError ErrorCode = "STORAGE_ERROR"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// FixActionType represents the type of fix action
type FixActionType string

const (
	// RunCommand suggests running a command
	RunCommand FixActionType = "run-command"
	// OpenDocs suggests opening documentation
	OpenDocs FixActionType = "open-docs"
)

// FixAction represents a suggested fix for an error
type FixAction struct {
	Type        FixActionType `json:"type"`
	Command     string        `json:"command,omitempty"`
	Safe        bool          `json:"safe,omitempty"`
	Description string        `json:"description,omitempty"`
	URL         string        `json:"url,omitempty"`
}

// RtmError represents an rtm error with code, message, and suggestions
type RtmError struct {
	Code           ErrorCode   `json:"code"`
	Message        string      `json:"message"`
	Details        interface{} `json:"details,omitempty"`
	SuggestedFixes []FixAction `json:"suggestedFixes,omitempty"`
	cause          error       // Underlying error (not exported to JSON)
}

// New creates an RtmError with the default suggested fixes for its code
func New(code ErrorCode, message string) *RtmError {
	return &RtmError{
		Code:           code,
		Message:        message,
		SuggestedFixes: GetSuggestedFixes(code),
	}
}

// Newf creates an RtmError with a formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *RtmError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates an RtmError around an underlying error
func Wrap(code ErrorCode, message string, cause error) *RtmError {
	e := New(code, message)
	e.cause = cause
	return e
}

// Error implements the error interface
func (e *RtmError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *RtmError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *RtmError) WithDetails(details interface{}) *RtmError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first RtmError in err's chain, or
// InternalError when there is none.
func CodeOf(err error) ErrorCode {
	var re *RtmError
	if stderrors.As(err, &re) {
		return re.Code
	}
	return InternalError
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	var re *RtmError
	return stderrors.As(err, &re) && re.Code == code
}

// IsFatal reports whether the code aborts a whole call rather than a single
// entity of a batch.
func IsFatal(code ErrorCode) bool {
	switch code {
	case ReferenceError, InvalidKey, PolicyViolation, HistoryConflict, DuplicateEntity:
		return false
	}
	return true
}

// ErrorActions maps error codes to suggested fix actions
var ErrorActions = map[ErrorCode][]FixAction{
	VersionNotFound: {
		{
			Type:        RunCommand,
			Command:     "rtm version list --project=${project}",
			Safe:        true,
			Description: "List the versions of the project",
		},
	},
	ProjectNotFound: {
		{
			Type:        RunCommand,
			Command:     "rtm project list",
			Safe:        true,
			Description: "List known projects",
		},
	},
	StorageError: {
		{
			Type:        RunCommand,
			Command:     "rtm matrix verify --version=${version}",
			Safe:        true,
			Description: "Check that stored aggregates still match the log",
		},
	},
}

// GetSuggestedFixes returns suggested fixes for an error code
func GetSuggestedFixes(code ErrorCode) []FixAction {
	if fixes, ok := ErrorActions[code]; ok {
		return fixes
	}
	return nil
}
