// Package query turns optional request parameters into store-neutral filter
// predicates and pages through the matching documents.
package query

import (
	"strings"
	"time"
)

// Op is a comparison applied to a single field.
type Op string

const (
	OpEq       Op = "eq"
	OpContains Op = "contains"
	OpGte      Op = "gte"
	OpLte      Op = "lte"
)

// Condition compares one document field against a value. Contains is a
// case-insensitive substring match on strings.
type Condition struct {
	Field string
	Op    Op
	Value interface{}
}

// Clause holds when any of its conditions holds.
type Clause struct {
	Any []Condition
}

// Filter holds when every clause holds. The zero Filter matches everything.
type Filter struct {
	Clauses []Clause
}

// Where returns a copy of f with one more clause satisfied by any of conds.
func (f Filter) Where(conds ...Condition) Filter {
	if len(conds) == 0 {
		return f
	}
	clauses := make([]Clause, len(f.Clauses), len(f.Clauses)+1)
	copy(clauses, f.Clauses)
	return Filter{Clauses: append(clauses, Clause{Any: conds})}
}

// IsEmpty reports whether the filter is unconstrained.
func (f Filter) IsEmpty() bool {
	return len(f.Clauses) == 0
}

func Eq(field string, value interface{}) Condition {
	return Condition{Field: field, Op: OpEq, Value: value}
}

func Contains(field, text string) Condition {
	return Condition{Field: field, Op: OpContains, Value: text}
}

func Gte(field string, value interface{}) Condition {
	return Condition{Field: field, Op: OpGte, Value: value}
}

func Lte(field string, value interface{}) Condition {
	return Condition{Field: field, Op: OpLte, Value: value}
}

// Document exposes fields by name so a Filter can be evaluated in process.
type Document interface {
	FieldValue(name string) (interface{}, bool)
}

// Matches evaluates the filter against doc. Unknown fields never match.
func (f Filter) Matches(doc Document) bool {
	for _, clause := range f.Clauses {
		if !clause.matches(doc) {
			return false
		}
	}
	return true
}

func (c Clause) matches(doc Document) bool {
	for _, cond := range c.Any {
		if cond.matches(doc) {
			return true
		}
	}
	return false
}

func (c Condition) matches(doc Document) bool {
	actual, ok := doc.FieldValue(c.Field)
	if !ok {
		return false
	}
	switch c.Op {
	case OpEq:
		return Compare(actual, c.Value) == 0
	case OpContains:
		s, ok := actual.(string)
		needle, ok2 := c.Value.(string)
		if !ok || !ok2 {
			return false
		}
		return strings.Contains(strings.ToLower(s), strings.ToLower(needle))
	case OpGte:
		cmp, ok := compareOrdered(actual, c.Value)
		return ok && cmp >= 0
	case OpLte:
		cmp, ok := compareOrdered(actual, c.Value)
		return ok && cmp <= 0
	}
	return false
}

type hexer interface {
	Hex() string
}

// Compare orders two field values. Values of different kinds compare by
// their string form; the result is only meaningful for equality then.
func Compare(a, b interface{}) int {
	if cmp, ok := compareOrdered(a, b); ok {
		return cmp
	}
	return strings.Compare(stringOf(a), stringOf(b))
}

func compareOrdered(a, b interface{}) (int, bool) {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			}
			return 0, true
		}
		return 0, false
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb), true
		}
		return 0, false
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ba == bb:
				return 0, true
			case bb:
				return -1, true
			}
			return 1, true
		}
		return 0, false
	}
	sa, aok := a.(string)
	sb, bok := b.(string)
	if aok && bok {
		return strings.Compare(sa, sb), true
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func stringOf(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case hexer:
		return s.Hex()
	}
	return ""
}
