package query

import (
	"math"
	"strconv"
	"strings"
)

// Params is the read side of url.Values.
type Params interface {
	Get(key string) string
}

type rule func(Params) (Clause, bool)

// Builder declares which request parameters constrain which fields.
//
//	query.NewBuilder().
//		Text("keyword", "name").
//		Equal("category", "category").
//		Min("minPrice", "price").
//		Max("maxPrice", "price")
type Builder struct {
	rules []rule
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Text matches param as a case-insensitive substring of any of fields.
func (b *Builder) Text(param string, fields ...string) *Builder {
	b.rules = append(b.rules, func(p Params) (Clause, bool) {
		text := strings.TrimSpace(p.Get(param))
		if text == "" || len(fields) == 0 {
			return Clause{}, false
		}
		conds := make([]Condition, 0, len(fields))
		for _, f := range fields {
			conds = append(conds, Contains(f, text))
		}
		return Clause{Any: conds}, true
	})
	return b
}

// Equal requires field to equal param exactly.
func (b *Builder) Equal(param, field string) *Builder {
	b.rules = append(b.rules, func(p Params) (Clause, bool) {
		v := p.Get(param)
		if v == "" {
			return Clause{}, false
		}
		return Clause{Any: []Condition{Eq(field, v)}}, true
	})
	return b
}

// Min is an inclusive lower bound. Malformed numbers leave the field
// unconstrained.
func (b *Builder) Min(param, field string) *Builder {
	return b.bound(param, field, OpGte)
}

// Max is an inclusive upper bound.
func (b *Builder) Max(param, field string) *Builder {
	return b.bound(param, field, OpLte)
}

// Range is shorthand for Min and Max on the same field.
func (b *Builder) Range(minParam, maxParam, field string) *Builder {
	return b.Min(minParam, field).Max(maxParam, field)
}

func (b *Builder) bound(param, field string, op Op) *Builder {
	b.rules = append(b.rules, func(p Params) (Clause, bool) {
		n, ok := ParseNumber(p.Get(param))
		if !ok {
			return Clause{}, false
		}
		return Clause{Any: []Condition{{Field: field, Op: op, Value: n}}}, true
	})
	return b
}

// Build combines every present parameter into one filter.
func (b *Builder) Build(p Params) Filter {
	var f Filter
	for _, r := range b.rules {
		if c, ok := r(p); ok {
			f.Clauses = append(f.Clauses, c)
		}
	}
	return f
}

// ParseNumber parses a finite float. Blank, non-numeric, NaN and infinite
// input report false.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}
