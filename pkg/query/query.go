package query

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/tempest-orch/tempest/pkg/model"
)

// Predicate is a parsed query node. Match must be pure: re-evaluating
// against an unchanged component yields the same answer.
type Predicate interface {
	Match(c *model.Component) bool
}

// MatchAll returns a predicate that matches every component.
func MatchAll() Predicate { return matchAll{} }

// MatchNone returns a predicate that matches no component.
func MatchNone() Predicate { return matchNone{} }

type matchAll struct{}

func (matchAll) Match(*model.Component) bool { return true }

type matchNone struct{}

func (matchNone) Match(*model.Component) bool { return false }

type and struct {
	subs []Predicate
}

func (p and) Match(c *model.Component) bool {
	for _, sub := range p.subs {
		if !sub.Match(c) {
			return false
		}
	}
	return true
}

type or struct {
	subs []Predicate
}

func (p or) Match(c *model.Component) bool {
	for _, sub := range p.subs {
		if sub.Match(c) {
			return true
		}
	}
	return false
}

type not struct {
	sub Predicate
}

func (p not) Match(c *model.Component) bool {
	return !p.sub.Match(c)
}

type propertyEquals struct {
	key   string
	value any
}

func (p propertyEquals) Match(c *model.Component) bool {
	v, ok := attributeValue(c, p.key)
	return ok && valueEqual(v, p.value)
}

type propertyIn struct {
	key    string
	values []any
}

func (p propertyIn) Match(c *model.Component) bool {
	v, ok := attributeValue(c, p.key)
	if !ok {
		return false
	}
	for _, want := range p.values {
		if valueEqual(v, want) {
			return true
		}
	}
	return false
}

type compareOp int

const (
	compareGT compareOp = iota
	compareGTE
	compareLT
	compareLTE
)

var compareOps = map[string]compareOp{
	"$gt": compareGT, "$gte": compareGTE, "$lt": compareLT, "$lte": compareLTE,
}

// propertyCompare orders numeric attributes against a bound. Missing or
// non-numeric attributes never satisfy an ordering.
type propertyCompare struct {
	key   string
	op    compareOp
	bound float64
}

func (p propertyCompare) Match(c *model.Component) bool {
	v, ok := attributeValue(c, p.key)
	if !ok {
		return false
	}
	n, ok := asNumber(v)
	if !ok {
		return false
	}
	switch p.op {
	case compareGT:
		return n > p.bound
	case compareGTE:
		return n >= p.bound
	case compareLT:
		return n < p.bound
	default:
		return n <= p.bound
	}
}

// propertyRegex matches string attributes against a pattern anchored to
// the whole value.
type propertyRegex struct {
	key     string
	pattern *regexp.Regexp
}

func (p propertyRegex) Match(c *model.Component) bool {
	v, ok := attributeValue(c, p.key)
	if !ok {
		return false
	}
	s, ok := v.(string)
	return ok && p.pattern.MatchString(s)
}

type stringOp int

const (
	stringStartsWith stringOp = iota
	stringEndsWith
	stringContains
)

var stringOps = map[string]stringOp{
	"$startsWith": stringStartsWith, "$endsWith": stringEndsWith, "$contains": stringContains,
}

type propertyString struct {
	key   string
	op    stringOp
	value string
}

func (p propertyString) Match(c *model.Component) bool {
	v, ok := attributeValue(c, p.key)
	if !ok {
		return false
	}
	s, ok := v.(string)
	if !ok {
		return false
	}
	switch p.op {
	case stringStartsWith:
		return strings.HasPrefix(s, p.value)
	case stringEndsWith:
		return strings.HasSuffix(s, p.value)
	default:
		return strings.Contains(s, p.value)
	}
}

// idKey is the pseudo-attribute matching the component identifier.
const idKey = "_id"

func attributeValue(c *model.Component, key string) (any, bool) {
	if key == idKey {
		return c.ID, true
	}
	v, ok := c.Attributes[key]
	return v, ok
}

// valueEqual compares two JSON-style values. Numbers compare by value
// regardless of Go type, so attributes built in code (int) match values
// decoded from JSON (float64).
func valueEqual(a, b any) bool {
	if na, ok := asNumber(a); ok {
		nb, ok := asNumber(b)
		return ok && na == nb
	}
	return reflect.DeepEqual(a, b)
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// IDIn returns a predicate matching components whose identifier is in ids.
func IDIn(ids []string) Predicate {
	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = id
	}
	return propertyIn{key: idKey, values: values}
}

// IDNotIn returns a predicate matching components whose identifier is
// not in ids.
func IDNotIn(ids []string) Predicate {
	return not{sub: IDIn(ids)}
}

// And combines predicates; all must match.
func And(subs ...Predicate) Predicate { return and{subs: subs} }

// Or combines predicates; at least one must match.
func Or(subs ...Predicate) Predicate { return or{subs: subs} }
