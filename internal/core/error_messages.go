// Package core provides the import engine for CSV files.
//
// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support reference.
// When users encounter errors, they can quote the error code to support staff
// for faster diagnosis.
//
// Error codes are grouped by category:
//
// # Import Errors (IMP001-IMP099)
//
// Errors raised while preparing or running an import:
//
//	IMP001 - System busy: Too many imports in progress
//	         Action: Please wait a moment and try again
//	         Patterns: "too many imports"
//
//	IMP002 - Invalid structured value: A JSON column could not be parsed
//	         Action: Check JSON object and array columns in your file
//	         Patterns: "invalid structured value"
//
//	IMP003 - Unknown action: The import action is not supported
//	         Action: Use create, update or createAndUpdate
//	         Patterns: "unknown action"
//
//	IMP004 - Bad options: Import options could not be read
//	         Action: Check the option names and value types
//	         Patterns: "decode options", "negative updateby"
//
//	IMP005 - Unknown entity type: The target entity type is not configured
//	         Action: Verify the entity type name is correct
//	         Patterns: "unknown entity type"
//
// # Run Errors (RUN001-RUN099)
//
// Errors related to the lifecycle of an import run:
//
//	RUN001 - Force required: The run was interrupted or has failed
//	         Action: Resume with force to continue this run
//	         Patterns: "force is required"
//
//	RUN002 - Run not resumable: The run is already complete or queued
//	         Action: Start a new import instead
//	         Patterns: "cannot run import with"
//
//	RUN003 - Not found: The import run or record was not found
//	         Action: It may have been reverted. Refresh and try again
//	         Patterns: "not found"
//
// # Access Errors (ACL001-ACL099)
//
//	ACL001 - Inactive user: The user that started the import is not active
//	         Action: Reactivate the user or start the import again
//	         Patterns: "not active"
//
//	ACL002 - Permission denied: You do not have access to this operation
//	         Action: Ask an administrator for access
//	         Patterns: "permission denied"
//
// # File Errors (FILE001-FILE099)
//
// Errors related to file handling:
//
//	FILE001 - File too large: File exceeds maximum size limit
//	          Action: Split the file into smaller chunks
//	          Patterns: "file too large"
//
//	FILE002 - Empty file: The uploaded file is empty
//	          Action: Please upload a CSV file with data rows
//	          Patterns: "empty file", "file contents is empty"
//
//	FILE003 - No file: No attachment was given for the import
//	          Action: Upload a CSV file first
//	          Patterns: "no attachment"
//
//	FILE004 - Not a CSV: The uploaded file is not a text file
//	          Action: Export the sheet as CSV and upload it again
//	          Patterns: "unsupported file type"
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key: A record with this ID already exists
//	        Action: Remove the ID column or use the update action
//	        Patterns: "duplicate key"
//
//	DB002 - Connection refused: Unable to connect to database
//	        Action: Please try again in a few moments
//	        Patterns: "connection refused"
//
//	DB003 - Timeout: Operation timed out
//	        Action: Try a smaller file or run the import in idle mode
//	        Patterns: "timeout"
//
//	DB004 - Deadlock: Database was busy with conflicting operations
//	        Action: Resume the run from its last row
//	        Patterns: "deadlock"
//
// # Request Errors (REQ001-REQ099)
//
//	REQ001 - Request cancelled: Request was cancelled
//	         Action: Please try again
//	         Patterns: "context canceled"
//
//	REQ002 - Request timeout: Request timed out
//	         Action: Run large imports in idle mode
//	         Patterns: "context deadline exceeded"
//
// # Default Error (ERR000)
//
// Fallback when no specific pattern matches:
//
//	ERR000 - Unknown error: An unexpected error occurred
//	         Action: Please try again or contact support
//
// # Pattern Matching
//
// Error patterns are matched case-insensitively using strings.Contains.
// The first matching pattern wins, so more specific patterns are defined
// before general ones ("not active" before "permission denied").
package core

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
// The first matching pattern wins.
//
// To add a new error pattern:
//  1. Choose the appropriate category and code range
//  2. Add the pattern in the correct position (specific before general)
//  3. Update the package documentation at the top of this file
var errorPatterns = []errorPattern{
	// =========================================================================
	// Import Errors (IMP001-IMP005)
	// =========================================================================
	{
		pattern: "too many imports",
		msg: UserMessage{
			Message: "Too many imports in progress",
			Action:  "Please wait a moment and try again",
			Code:    "IMP001",
		},
	},
	{
		pattern: "invalid structured value",
		msg: UserMessage{
			Message: "A JSON column could not be parsed",
			Action:  "Check JSON object and array columns in your file",
			Code:    "IMP002",
		},
	},
	{
		pattern: "unknown action",
		msg: UserMessage{
			Message: "The import action is not supported",
			Action:  "Use create, update or createAndUpdate",
			Code:    "IMP003",
		},
	},
	{
		pattern: "decode options",
		msg: UserMessage{
			Message: "Import options could not be read",
			Action:  "Check the option names and value types",
			Code:    "IMP004",
		},
	},
	{
		pattern: "negative updateby",
		msg: UserMessage{
			Message: "Import options could not be read",
			Action:  "Check the option names and value types",
			Code:    "IMP004",
		},
	},
	{
		pattern: "unknown entity type",
		msg: UserMessage{
			Message: "The target entity type is not configured",
			Action:  "Verify the entity type name is correct",
			Code:    "IMP005",
		},
	},

	// =========================================================================
	// Run Errors (RUN001-RUN003)
	// =========================================================================
	{
		pattern: "force is required",
		msg: UserMessage{
			Message: "The run was interrupted or has failed",
			Action:  "Resume with force to continue this run",
			Code:    "RUN001",
		},
	},
	{
		pattern: "cannot run import with",
		msg: UserMessage{
			Message: "The run cannot be resumed",
			Action:  "Start a new import instead",
			Code:    "RUN002",
		},
	},

	// =========================================================================
	// Access Errors (ACL001-ACL002)
	// =========================================================================
	{
		pattern: "not active",
		msg: UserMessage{
			Message: "The user that started the import is not active",
			Action:  "Reactivate the user or start the import again",
			Code:    "ACL001",
		},
	},
	{
		pattern: "permission denied",
		msg: UserMessage{
			Message: "You do not have access to this operation",
			Action:  "Ask an administrator for access",
			Code:    "ACL002",
		},
	},

	// =========================================================================
	// File Errors (FILE001-FILE004)
	// =========================================================================
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds maximum size limit",
			Action:  "Split the file into smaller chunks",
			Code:    "FILE001",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The uploaded file is empty",
			Action:  "Please upload a CSV file with data rows",
			Code:    "FILE002",
		},
	},
	{
		pattern: "file contents is empty",
		msg: UserMessage{
			Message: "The uploaded file is empty",
			Action:  "Please upload a CSV file with data rows",
			Code:    "FILE002",
		},
	},
	{
		pattern: "no attachment",
		msg: UserMessage{
			Message: "No file was given for the import",
			Action:  "Upload a CSV file first",
			Code:    "FILE003",
		},
	},
	{
		pattern: "unsupported file type",
		msg: UserMessage{
			Message: "The uploaded file is not a CSV file",
			Action:  "Export the sheet as CSV and upload it again",
			Code:    "FILE004",
		},
	},

	// =========================================================================
	// Database Errors (DB001-DB004)
	// =========================================================================
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this ID already exists",
			Action:  "Remove the ID column or use the update action",
			Code:    "DB001",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB002",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try a smaller file or run the import in idle mode",
			Code:    "DB003",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Resume the run from its last row",
			Code:    "DB004",
		},
	},

	// =========================================================================
	// Request Errors (REQ001-REQ002)
	// =========================================================================
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "REQ001",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Run large imports in idle mode",
			Code:    "REQ002",
		},
	},

	// "not found" is the most general pattern and goes last.
	{
		pattern: "not found",
		msg: UserMessage{
			Message: "The import run or record was not found",
			Action:  "It may have been reverted. Refresh and try again",
			Code:    "RUN003",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
// Support staff should check application logs for the original technical
// error when users report ERR000.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// It searches through known error patterns (case-insensitive) and returns
// the first match. If no pattern matches, a generic fallback message with
// code ERR000 is returned.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
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

// IsUserFacing checks if an error matches a known pattern and should be shown to users.
// Returns true if the error matches a specific pattern (not the generic ERR000 fallback).
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	msg := MapError(err)
	return msg.Code != defaultMessage.Code
}
