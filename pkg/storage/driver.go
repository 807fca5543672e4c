// Copyright 2026 The Prometheus Storage Adapter Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package storage defines the interface the core translation layer uses to
// talk to the columnar time-series database. The concrete driver that
// implements this interface — connection pool, wire protocol, SQL dialect
// quirks — is out of scope for this repository; it is specified here only
// by the shape a real driver must expose.
package storage

import "context"

// Code classifies a storage-level failure so the reconciler can dispatch on
// it without ever matching on a message string; the "tag value too long"
// and "field already exists" cases have their own codes below.
type Code int

const (
	// CodeUnknown is any error the driver did not recognize as one of the
	// taxonomy below. Callers treat it as opaque and propagate it.
	CodeUnknown Code = iota
	// CodeInvalidTableName means the referenced super table does not exist.
	CodeInvalidTableName
	// CodeDBNotSelected means the referenced database does not exist.
	CodeDBNotSelected
	// CodeFieldAlreadyExists is returned by "add tag" when a concurrent
	// caller already added the same column. Benign.
	CodeFieldAlreadyExists
	// CodeTagValueTooLong is returned by sub-table creation when a tag
	// value exceeds the column width. Benign; the row is logged and the
	// caller moves on.
	CodeTagValueTooLong
)

func (c Code) String() string {
	switch c {
	case CodeInvalidTableName:
		return "invalid table name"
	case CodeDBNotSelected:
		return "db not selected"
	case CodeFieldAlreadyExists:
		return "field already exists"
	case CodeTagValueTooLong:
		return "tag value too long"
	default:
		return "unknown"
	}
}

// Error is a tagged-variant storage error: a RawCode case (Code set, Cause
// nil) and a wrapped Transport/Decode case (Code == CodeUnknown, Cause set).
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// NewCodeError builds a RawCode-variant Error.
func NewCodeError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewTransportError builds a Transport/Decode-variant Error wrapping cause.
func NewTransportError(message string, cause error) *Error {
	return &Error{Code: CodeUnknown, Message: message, Cause: cause}
}

// Column describes one column or tag reported by Describe.
type Column struct {
	Name string
	Type string
	// IsTag is true for tag columns (as opposed to the ts/value columns).
	IsTag bool
}

// Row is one result row from Query, indexed by column name. Values use the
// driver's native Go representation: int64 for ts, float64 or nil for
// value, string for tag columns (nil if the tag is NULL).
type Row map[string]interface{}

// Driver is the storage collaborator: connection pool, SQL submission, and
// typed row iteration.
type Driver interface {
	// Exec submits a DDL/DML statement with no result rows expected
	// (create database/stable/table, alter stable, insert).
	Exec(ctx context.Context, stmt string) error

	// Describe returns the column/tag set of a super table or an Error
	// with Code == CodeInvalidTableName / CodeDBNotSelected if it (or its
	// database) does not exist.
	Describe(ctx context.Context, db, stableName string) ([]Column, error)

	// ShowStables lists every super table name in db.
	ShowStables(ctx context.Context, db string) ([]string, error)

	// Query runs a SELECT and returns every resulting row.
	Query(ctx context.Context, stmt string) ([]Row, error)

	// Close releases any pooled resources.
	Close() error
}
