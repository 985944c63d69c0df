package store

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

var fieldPattern = regexp.MustCompile(`^[A-Za-z0-9_]+(\.[A-Za-z0-9_]+)*$`)

func validateQuery(q Query) error {
	if q.Collection == "" {
		return fmt.Errorf("query collection is required")
	}
	for _, f := range q.Filters {
		if !fieldPattern.MatchString(f.Field) {
			return fmt.Errorf("invalid filter field %q", f.Field)
		}
		switch f.Op {
		case OpEqual, OpNotEqual, OpArrayContains:
		default:
			return fmt.Errorf("unsupported filter op %q", f.Op)
		}
	}
	if q.OrderBy != "" && !fieldPattern.MatchString(q.OrderBy) {
		return fmt.Errorf("invalid order field %q", q.OrderBy)
	}
	if q.Limit < 0 {
		return fmt.Errorf("negative limit")
	}
	return nil
}

// lookup walks a dot separated path through a decoded JSON object.
func lookup(body map[string]any, path string) (any, bool) {
	var cur any = body
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = obj[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func matches(body map[string]any, filters []Filter) bool {
	for _, f := range filters {
		v, ok := lookup(body, f.Field)
		switch f.Op {
		case OpEqual:
			if !ok || !sameValue(v, f.Value) {
				return false
			}
		case OpNotEqual:
			if ok && sameValue(v, f.Value) {
				return false
			}
		case OpArrayContains:
			arr, isArr := v.([]any)
			if !ok || !isArr {
				return false
			}
			found := false
			for _, item := range arr {
				if sameValue(item, f.Value) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}

func orderKey(body map[string]any, field string) (time.Time, string) {
	v, ok := lookup(body, field)
	if !ok {
		return time.Time{}, ""
	}
	s := fmt.Sprint(v)
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, s
	}
	return t, s
}

// applyQuery filters, orders and limits docs in memory. Backends without
// server-side filtering (Memory, Dynamo) share it.
func applyQuery(docs []Document, q Query) ([]Document, error) {
	type candidate struct {
		doc  Document
		at   time.Time
		text string
	}
	var out []candidate
	for _, d := range docs {
		var body map[string]any
		if err := json.Unmarshal(d.Data, &body); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", d.Collection, d.ID, err)
		}
		if !matches(body, q.Filters) {
			continue
		}
		c := candidate{doc: d}
		if q.OrderBy != "" {
			c.at, c.text = orderKey(body, q.OrderBy)
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if q.OrderBy != "" && !a.at.Equal(b.at) {
			if q.Descending {
				return a.at.After(b.at)
			}
			return a.at.Before(b.at)
		}
		if q.OrderBy != "" && a.text != b.text {
			if q.Descending {
				return a.text > b.text
			}
			return a.text < b.text
		}
		return a.doc.ID < b.doc.ID
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	result := make([]Document, len(out))
	for i, c := range out {
		result[i] = c.doc
	}
	return result, nil
}
