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

package schema

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
)

// MD5Hex renders the MD5 digest of s as lowercase 32-char hex. Not used for
// any cryptographic purpose, only as a stable fingerprint.
func MD5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Tag is a single label (name already escaped) and its raw value, used to
// compute sub-table names and taghashes.
type Tag struct {
	Name  string
	Value string
}

// SubTableName computes the sub-table name for metric (its raw name, not
// escaped — the metric is concatenated verbatim) and tags in
// input order: md5_<md5(metric || concat of values in input order)>.
func SubTableName(metric string, tagsInInputOrder []Tag) string {
	var b []byte
	b = append(b, metric...)
	for _, t := range tagsInInputOrder {
		b = append(b, t.Value...)
	}
	return "md5_" + MD5Hex(string(b))
}

// TagHash computes the taghash tag value: md5(concat of tag values in
// sorted-by-name order), independent of the order tags arrived in.
func TagHash(tags []Tag) string {
	sorted := make([]Tag, len(tags))
	copy(sorted, tags)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var b []byte
	for _, t := range sorted {
		b = append(b, t.Value...)
	}
	return MD5Hex(string(b))
}
