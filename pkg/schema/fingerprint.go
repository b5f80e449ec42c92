package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Fingerprint hashes the set of (table_name, column_name, data_type) tuples.
// Any added or dropped table or column, or a type change, produces a
// different fingerprint; row counts and sample rows do not.
func Fingerprint(s *Snapshot) string {
	tuples := make([]string, 0, len(s.Tables)*8)
	for _, t := range s.Tables {
		for _, c := range t.Columns {
			tuples = append(tuples, strings.ToLower(t.TableName)+"\x00"+strings.ToLower(c.Name)+"\x00"+strings.ToLower(c.DataType))
		}
	}
	sort.Strings(tuples)

	h := sha256.New()
	for _, tup := range tuples {
		h.Write([]byte(tup))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
