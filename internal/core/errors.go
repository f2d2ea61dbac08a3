package core

// errors.go defines the error taxonomy shared by every stage of the pipeline.
//
// # Error Codes Reference
//
// Each Kind carries a support code so that an alert raised by the invoking
// runtime can be traced back to the failing stage:
//
//	TRG001 - Invalid trigger: event is missing a bucket name or object key
//	         Action: Check the bucket notification configuration
//
//	STO001 - Store failure: object could not be downloaded or uploaded
//	         Action: Check bucket permissions and connectivity
//
//	SCH001 - Schema mismatch: columns missing, entirely empty, or cells unparseable
//	         Action: Compare the file header and cell formats with the expected schema
//
//	VAL001 - Validation failure: values violate a domain rule (fraud flag, postal code)
//	         Action: Correct the offending rows and re-upload to the raw zone
//
//	CNV001 - Conversion failure: Parquet artifact could not be written
//	         Action: Check scratch disk space and retry the upload
//
//	LOG001 - Log access failure: append-log could not be read
//	         Action: Check the log object and bucket permissions
//
//	LOG002 - Log persist failure: append-log could not be written
//	         Action: Check bucket permissions; the entry was not recorded
//
//	CFG001 - Configuration error: a required setting is missing
//	         Action: Set REFINED_BUCKET_NAME and redeploy
//
//	ERR000 - Unknown error: an unexpected error occurred
//	         Action: Check application logs for the original error
//
// Kinds are matched structurally with errors.As, never by message text.

import (
	"errors"
	"fmt"
)

// Kind classifies an error by the pipeline stage that produced it.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidTrigger
	KindStore
	KindSchema
	KindValidation
	KindConversion
	KindLogAccess
	KindLogPersist
	KindConfiguration
)

// String returns the taxonomy name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInvalidTrigger:
		return "InvalidTriggerError"
	case KindStore:
		return "StoreError"
	case KindSchema:
		return "SchemaError"
	case KindValidation:
		return "ValidationError"
	case KindConversion:
		return "ConversionError"
	case KindLogAccess:
		return "LogAccessError"
	case KindLogPersist:
		return "LogPersistError"
	case KindConfiguration:
		return "ConfigurationError"
	default:
		return "UnknownError"
	}
}

// Error is a classified pipeline error.
type Error struct {
	Kind Kind   // Taxonomy kind
	Op   string // Operation that failed, e.g. "validate" or "upload refined"
	Msg  string // Optional human-readable detail
	Err  error  // Underlying cause, may be nil
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %s: %v", e.Kind, e.Op, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind, so callers can write
// errors.Is(err, &core.Error{Kind: core.KindSchema}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// E constructs a classified error wrapping err.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf constructs a classified error with a formatted message and no cause.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err's chain contains a classified error of kind k.
func IsKind(err error, k Kind) bool {
	return errors.Is(err, &Error{Kind: k})
}

// UserMessage provides operator-facing error information with actionable guidance.
type UserMessage struct {
	Message string // What happened
	Action  string // What to do about it
	Code    string // Error code for support reference
}

var kindMessages = map[Kind]UserMessage{
	KindInvalidTrigger: {
		Message: "Event is missing a bucket name or object key",
		Action:  "Check the bucket notification configuration",
		Code:    "TRG001",
	},
	KindStore: {
		Message: "Object could not be downloaded or uploaded",
		Action:  "Check bucket permissions and connectivity",
		Code:    "STO001",
	},
	KindSchema: {
		Message: "File does not match the expected schema",
		Action:  "Compare the file header and cell formats with the expected schema",
		Code:    "SCH001",
	},
	KindValidation: {
		Message: "File contains values that violate a domain rule",
		Action:  "Correct the offending rows and re-upload to the raw zone",
		Code:    "VAL001",
	},
	KindConversion: {
		Message: "Parquet artifact could not be written",
		Action:  "Check scratch disk space and retry the upload",
		Code:    "CNV001",
	},
	KindLogAccess: {
		Message: "Append-log could not be read",
		Action:  "Check the log object and bucket permissions",
		Code:    "LOG001",
	},
	KindLogPersist: {
		Message: "Append-log could not be written",
		Action:  "Check bucket permissions; the entry was not recorded",
		Code:    "LOG002",
	},
	KindConfiguration: {
		Message: "A required setting is missing",
		Action:  "Set REFINED_BUCKET_NAME and redeploy",
		Code:    "CFG001",
	},
}

// defaultMessage is returned for unclassified errors (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Check application logs for the original error",
	Code:    "ERR000",
}

// Describe maps an error to its operator-facing message by kind.
// Returns the zero UserMessage for a nil error.
func Describe(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}
	if msg, ok := kindMessages[KindOf(err)]; ok {
		return msg
	}
	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := Describe(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}
