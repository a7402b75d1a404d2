// Package normalize implements the Result Normaliser (spec.md §4.5
// "Normalise" step, §3 Result data model): it parses backend-specific wire
// encodings into the canonical shape every dialect and backend must agree
// on before deep-relation resolution and response assembly — 0/1 booleans
// coerced by declared logical type, JSON-typed columns parsed from string
// to structure, dates reformatted to a stable ISO-8601 string, and missing
// relations defaulted to `null` (singular) or `[]` (collection).
//
// It runs after pkg/sqlexec's Fetch/PostFetchCollections (or pkg/mongoexec's
// pipeline) has already bridged driver values into queryspec.Record; this
// package does the deeper canonicalisation those executors deliberately
// leave alone.
package normalize

import (
	"fmt"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/omniqueryio/polyspec/pkg/dialect"
	"github.com/omniqueryio/polyspec/pkg/apperr"
	"github.com/omniqueryio/polyspec/pkg/metadata"
	"github.com/omniqueryio/polyspec/pkg/planner"
	"github.com/omniqueryio/polyspec/pkg/queryspec"
)

// dateTimeFormats mirrors the permissive multi-format parse the teacher's
// nullable SQL types use (pkg/common/sql_types.go tryParseDT), since
// different drivers/dialects hand back dates in different textual shapes.
var dateTimeFormats = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Records normalises a page of records in place against plan.
func Records(d dialect.Dialect, plan *planner.Plan, records []queryspec.Record) error {
	for _, rec := range records {
		if err := Record(d, plan, rec); err != nil {
			return err
		}
	}
	return nil
}

// Record normalises a single record in place against plan: every scalar
// column by its declared logical type, then every relation recursively
// against its child plan.
func Record(d dialect.Dialect, plan *planner.Plan, rec queryspec.Record) error {
	for _, col := range plan.ScalarColumns {
		v, ok := rec[col.Name]
		if !ok || v == nil {
			continue
		}
		nv, err := normaliseScalar(col, v)
		if err != nil {
			return apperr.Internal("failed to normalise column value", map[string]any{"column": col.Name, "error": err.Error()}, err)
		}
		rec[col.Name] = nv
	}

	for _, rel := range plan.Relations {
		if err := normaliseRelation(d, rel, rec); err != nil {
			return err
		}
	}
	return nil
}

func normaliseScalar(col metadata.Column, v any) (any, error) {
	switch col.Type {
	case metadata.TypeBoolean:
		return normaliseBool(v)
	case metadata.TypeJSON:
		return normaliseJSON(v)
	case metadata.TypeDate, metadata.TypeDateTime:
		return normaliseDateTime(v)
	case metadata.TypeDecimal, metadata.TypeFloat:
		return normaliseNumeric(v)
	default:
		return v, nil
	}
}

func normaliseBool(v any) (any, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case int64:
		return t != 0, nil
	case int32:
		return t != 0, nil
	case float64:
		return t != 0, nil
	case []byte:
		return normaliseBoolString(string(t))
	case string:
		return normaliseBoolString(t)
	default:
		return nil, fmt.Errorf("cannot normalise %T as boolean", v)
	}
}

func normaliseBoolString(s string) (any, error) {
	switch s {
	case "0", "false", "FALSE", "f", "F":
		return false, nil
	case "1", "true", "TRUE", "t", "T":
		return true, nil
	default:
		return nil, fmt.Errorf("cannot normalise %q as boolean", s)
	}
}

// normaliseJSON parses a JSON-typed column's driver-returned string/[]byte
// into its decoded structure via gjson, the way the teacher's security
// provider reads JSON-column payloads path-wise rather than through a
// struct-shaped Unmarshal (pkg/security/provider.go).
func normaliseJSON(v any) (any, error) {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		return v, nil
	}
	if s == "" {
		return nil, nil
	}
	parsed := gjson.Parse(s)
	if !parsed.Exists() {
		return nil, fmt.Errorf("invalid json column value %q", s)
	}
	return parsed.Value(), nil
}

func normaliseDateTime(v any) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339), nil
	case string:
		return parseDateTimeString(t)
	case []byte:
		return parseDateTimeString(string(t))
	default:
		return v, nil
	}
}

func parseDateTimeString(s string) (any, error) {
	if s == "" {
		return nil, nil
	}
	var lastErr error
	for _, f := range dateTimeFormats {
		if tm, err := time.Parse(f, s); err == nil {
			return tm.UTC().Format(time.RFC3339), nil
		} else {
			lastErr = err
		}
	}
	return nil, fmt.Errorf("cannot parse %q as a date/time value: %w", s, lastErr)
}

func normaliseNumeric(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return strconv.ParseFloat(t, 64)
	case []byte:
		return strconv.ParseFloat(string(t), 64)
	default:
		return v, nil
	}
}

// normaliseRelation canonicalises rel's value on rec: missing singular
// relations become nil, missing collections become an empty slice, and
// present values recurse into the child plan (spec.md §3 "Missing singular
// relations are null; missing collection relations are []").
func normaliseRelation(d dialect.Dialect, rel planner.RelationPlan, rec queryspec.Record) error {
	v, present := rec[rel.Property]

	if rel.Relation.IsCollection() {
		if !present || v == nil {
			rec[rel.Property] = []queryspec.Record{}
			return nil
		}
		items, err := asRecordSlice(v)
		if err != nil {
			return apperr.Internal("failed to normalise collection relation", map[string]any{"relation": rel.Property, "error": err.Error()}, err)
		}
		if rel.Child != nil {
			for _, item := range items {
				if err := Record(d, rel.Child, item); err != nil {
					return err
				}
			}
		}
		rec[rel.Property] = items
		return nil
	}

	if !present || v == nil {
		rec[rel.Property] = nil
		return nil
	}
	item, err := asRecord(v)
	if err != nil {
		return apperr.Internal("failed to normalise relation value", map[string]any{"relation": rel.Property, "error": err.Error()}, err)
	}
	// rel.Child is nil for owner-side reference-only relations (nested fields == ["id"]):
	// the {id: fk} shape built by the planner/executor is already canonical.
	if rel.Child != nil {
		if err := Record(d, rel.Child, item); err != nil {
			return err
		}
	}
	rec[rel.Property] = item
	return nil
}

func asRecord(v any) (queryspec.Record, error) {
	switch t := v.(type) {
	case queryspec.Record:
		return t, nil
	case map[string]any:
		return queryspec.Record(t), nil
	default:
		return nil, fmt.Errorf("expected relation object, got %T", v)
	}
}

func asRecordSlice(v any) ([]queryspec.Record, error) {
	switch t := v.(type) {
	case []queryspec.Record:
		return t, nil
	case []any:
		out := make([]queryspec.Record, 0, len(t))
		for _, item := range t {
			rec, err := asRecord(item)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected relation array, got %T", v)
	}
}
