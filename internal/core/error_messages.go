// Package core provides the business logic for SIGTAP import operations.
//
// # Error Codes Reference
//
// Line and table failures are classified into a small taxonomy. Every
// category has a code that appears in run reports and logs, so an operator
// can look up the corrective action without reading raw database errors.
//
//	ENC001 - Encoding: Text could not be decoded or stored in the target encoding
//	         Action: Check the detected encoding or set IMPORT_DEFAULT_ENCODING
//	         SQLSTATE: 22021, 22P05
//
//	TRN001 - Truncation: A value is longer than its column allows
//	         Action: Re-run with structure detection on so columns are widened
//	         SQLSTATE: 22001
//
//	SCH001 - Schema: The table or a column is missing or has the wrong type
//	         Action: Check the layout file against the destination table
//	         SQLSTATE: 42P01, 42703, 42804
//
//	CON001 - Constraint: A duplicate key or an empty required column
//	         Action: Review the key columns or choose another duplicate policy
//	         SQLSTATE: class 23
//
//	NET001 - Connectivity: The database could not be reached
//	         Action: Check DATABASE_URL and that the server is running
//	         SQLSTATE: class 08
//
//	ERR000 - Uncategorized: Anything else
//	         Action: Check the application logs for the original error
//
// # Run Errors (RUN001-RUN099)
//
//	RUN001 - An import is already running
//	RUN002 - Import run not found
//	RUN003 - Import was cancelled
//
// # Pattern Matching
//
// Classification first inspects wrapped *pgconn.PgError values and the
// package sentinel errors. Errors from other sources fall back to
// case-insensitive message patterns; the first matching pattern wins.
package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors returned by the core. Wrap them with fmt.Errorf("%w").
var (
	ErrDuplicateKey   = errors.New("duplicate key")
	ErrNotNull        = errors.New("null value in required column")
	ErrDecode         = errors.New("encoding error")
	ErrSchemaMismatch = errors.New("schema mismatch")
)

// ErrorCategory is the taxonomy used to count line and table failures.
type ErrorCategory string

const (
	CategoryEncoding      ErrorCategory = "encoding"
	CategoryTruncation    ErrorCategory = "truncation"
	CategorySchema        ErrorCategory = "schema"
	CategoryConstraint    ErrorCategory = "constraint"
	CategoryConnectivity  ErrorCategory = "connectivity"
	CategoryUncategorized ErrorCategory = "uncategorized"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

var categoryMessages = map[ErrorCategory]UserMessage{
	CategoryEncoding: {
		Message: "Text could not be decoded or stored in the target encoding",
		Action:  "Check the detected encoding or set IMPORT_DEFAULT_ENCODING",
		Code:    "ENC001",
	},
	CategoryTruncation: {
		Message: "A value is longer than its column allows",
		Action:  "Re-run with structure detection on so columns are widened",
		Code:    "TRN001",
	},
	CategorySchema: {
		Message: "The table or a column is missing or has the wrong type",
		Action:  "Check the layout file against the destination table",
		Code:    "SCH001",
	},
	CategoryConstraint: {
		Message: "A duplicate key or an empty required column was found",
		Action:  "Review the key columns or choose another duplicate policy",
		Code:    "CON001",
	},
	CategoryConnectivity: {
		Message: "The database could not be reached",
		Action:  "Check DATABASE_URL and that the server is running",
		Code:    "NET001",
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Check the application logs for the original error",
	Code:    "ERR000",
}

// categoryPattern maps a message fragment to a category.
type categoryPattern struct {
	pattern  string
	category ErrorCategory
}

// categoryPatterns are matched case-insensitively with strings.Contains.
// More specific patterns come first.
var categoryPatterns = []categoryPattern{
	{"invalid byte sequence", CategoryEncoding},
	{"has no equivalent in encoding", CategoryEncoding},
	{"character not in repertoire", CategoryEncoding},
	{"encoding error", CategoryEncoding},

	{"value too long", CategoryTruncation},
	{"string data right truncation", CategoryTruncation},

	{"schema mismatch", CategorySchema},
	{"does not exist", CategorySchema},
	{"undefined column", CategorySchema},
	{"no such table", CategorySchema},
	{"no such column", CategorySchema},

	{"duplicate key", CategoryConstraint},
	{"unique constraint", CategoryConstraint},
	{"violates", CategoryConstraint},
	{"null value", CategoryConstraint},

	{"connection refused", CategoryConnectivity},
	{"connection reset", CategoryConnectivity},
	{"broken pipe", CategoryConnectivity},
	{"failed to connect", CategoryConnectivity},
	{"no database configured", CategoryConnectivity},
	{"timeout", CategoryConnectivity},
}

// Classify assigns an error to a category.
func Classify(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if cat, ok := categoryForSQLState(pgErr.Code); ok {
			return cat
		}
	}

	var connErr *pgconn.ConnectError
	switch {
	case errors.As(err, &connErr):
		return CategoryConnectivity
	case errors.Is(err, ErrDecode):
		return CategoryEncoding
	case errors.Is(err, ErrDuplicateKey), errors.Is(err, ErrNotNull):
		return CategoryConstraint
	case errors.Is(err, ErrSchemaMismatch):
		return CategorySchema
	}

	errStr := strings.ToLower(err.Error())
	for _, cp := range categoryPatterns {
		if strings.Contains(errStr, cp.pattern) {
			return cp.category
		}
	}
	return CategoryUncategorized
}

func categoryForSQLState(code string) (ErrorCategory, bool) {
	switch {
	case code == "22021" || code == "22P05":
		return CategoryEncoding, true
	case code == "22001":
		return CategoryTruncation, true
	case code == "42P01" || code == "42703" || code == "42804":
		return CategorySchema, true
	case strings.HasPrefix(code, "23"):
		return CategoryConstraint, true
	case strings.HasPrefix(code, "08"):
		return CategoryConnectivity, true
	default:
		return "", false
	}
}

// IsLockConflict reports whether err is a lock timeout or deadlock.
func IsLockConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "55P03" || pgErr.Code == "40P01"
	}
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "deadlock") || strings.Contains(errStr, "could not obtain lock")
}

// DescribeCategory returns the user message for a category.
func DescribeCategory(cat ErrorCategory) UserMessage {
	if msg, ok := categoryMessages[cat]; ok {
		return msg
	}
	return defaultMessage
}

// runErrorPatterns map run-level failures to user messages.
var runErrorPatterns = []struct {
	pattern string
	msg     UserMessage
}{
	{
		pattern: "import already running",
		msg: UserMessage{
			Message: "An import is already running",
			Action:  "Wait for the current run to finish or cancel it",
			Code:    "RUN001",
		},
	},
	{
		pattern: "run not found",
		msg: UserMessage{
			Message: "Import run not found",
			Action:  "Check the run ID; results are kept until the process restarts",
			Code:    "RUN002",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Import was cancelled",
			Action:  "Start a new import when ready; committed rows are kept",
			Code:    "RUN003",
		},
	},
}

// MapError converts a technical error to a user-friendly message. Run-level
// errors are matched first, then the error is classified into a category.
//
// Example:
//
//	msg := MapError(fmt.Errorf("insert row: %w", ErrDuplicateKey))
//	// msg.Code == "CON001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range runErrorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return DescribeCategory(Classify(err))
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether an error maps to a specific message rather
// than the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
