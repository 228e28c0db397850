package domain

import "strings"

// Allowlist is the administrator-controlled set of sink targets a pipeline
// is permitted to write to: relational "schema.table" strings, and document
// indices referenced as "es:<index>". Submissions outside both sets are
// rejected (spec §6).
type Allowlist struct {
	Tables  map[string]bool
	Indices map[string]bool
}

// NewAllowlist builds an Allowlist from explicit table and index name lists.
func NewAllowlist(tables, indices []string) Allowlist {
	a := Allowlist{Tables: make(map[string]bool, len(tables)), Indices: make(map[string]bool, len(indices))}
	for _, t := range tables {
		a.Tables[t] = true
	}
	for _, idx := range indices {
		a.Indices[idx] = true
	}
	return a
}

// Allows reports whether target is a permitted sink: either a "schema.table"
// entry in Tables, or an "es:<index>" entry whose index is in Indices.
func (a Allowlist) Allows(target string) bool {
	if idx, ok := strings.CutPrefix(target, "es:"); ok {
		return a.Indices[idx]
	}
	return a.Tables[target]
}
