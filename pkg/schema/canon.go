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

// Package schema implements the name canonicalization, identity hashing,
// schema cache, and schema reconciliation that keep the columnar store's
// super-table/sub-table layout in sync with the series a Prometheus
// remote-write request describes.
package schema

import "strings"

const (
	maxTableNameBytes = 190
	maxTagValueBytes  = 127
)

var tableNameReplacer = strings.NewReplacer(
	":", "_",
	".", "_",
	"-", "_",
	" ", "_",
)

var tagNameReplacer = strings.NewReplacer(
	":", "_",
	".", "_",
	"-", "_",
)

// TableNameEscape canonicalizes a raw metric name into a storage-safe super
// table name: ':', '.', '-' and space become '_', the result is lowercased,
// and it is truncated to 190 bytes.
func TableNameEscape(name string) string {
	s := strings.ToLower(tableNameReplacer.Replace(name))
	if len(s) > maxTableNameBytes {
		s = s[:maxTableNameBytes]
	}
	return s
}

// TagNameEscape canonicalizes a raw label name into a tag column name
// (without the "t_" prefix). Idempotent: applying it twice is the same as
// applying it once.
func TagNameEscape(name string) string {
	return strings.ToLower(tagNameReplacer.Replace(name))
}

// TagColumn returns the storage column name for the escaped tag name n,
// i.e. "t_" + n.
func TagColumn(escapedTagName string) string {
	return "t_" + escapedTagName
}

// TagValueEscape truncates value to 127 raw bytes and then backslash-escapes
// embedded double quotes, as required when the value is used in a sub-table
// creation statement. Truncating before escaping matters: truncating the
// *escaped* string instead could cut an escaped quote in half, leaving a dangling
// backslash that unbalances the quoting of the generated SQL. Read-back
// values from storage are never passed through this function.
func TagValueEscape(value string) string {
	v := value
	if len(v) > maxTagValueBytes {
		v = v[:maxTagValueBytes]
	}
	return QuoteEscape(v)
}

// QuoteEscape replaces each embedded double quote with \" for safe inclusion in a SQL
// string literal, without any length truncation. Used for values compared
// in a query predicate, where the 127-byte sub-table tag width does not
// apply.
func QuoteEscape(value string) string {
	return strings.ReplaceAll(value, `"`, `\"`)
}

// Truncated reports whether value would be truncated by TagValueEscape,
// prior to quote-escaping (used by callers that only need to know whether
// truncation would occur, not the escaped string itself).
func Truncated(value string) bool {
	return len(value) > maxTagValueBytes
}
