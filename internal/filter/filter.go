// Package filter evaluates the declarative event-filter DSL used by pipeline
// FILTER steps: a mapping of document path to matcher, recursively nested.
package filter

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidFilter is returned when a filter document does not parse into a
// valid tagged-union matcher tree.
var ErrInvalidFilter = errors.New("filter: invalid filter document")

// Filter is a path -> matcher-set mapping. Evaluation requires every key to
// match (logical AND); each MatcherSet is itself a disjunction (any-of).
type Filter map[string]MatcherSet

// MatcherSet is a disjunction of matchers: any(one of them matching) is a match.
type MatcherSet []Matcher

// Matcher is a single leaf matcher. Exactly one of the typed fields is set,
// discriminated by Kind.
type Matcher struct {
	Kind Kind

	// Equals holds the literal for primitive equality matchers.
	Equals any

	EndsWith         string
	StartsWith       string
	IgnoreCaseEquals string

	Exists bool
	IsNull bool

	AnythingBut []any

	Gt, Gte, Lt, Lte *float64
	Between          *[2]float64

	Includes any
}

// Kind discriminates the matcher variant.
type Kind int

const (
	// KindEquals matches document value against a literal (string, number, bool).
	KindEquals Kind = iota
	KindEndsWith
	KindStartsWith
	KindIgnoreCaseEquals
	KindExists
	KindIsNull
	KindAnythingBut
	KindGt
	KindGte
	KindLt
	KindLte
	KindBetween
	KindIncludes
)

// Parse decodes a raw JSON filter document into a Filter.
func Parse(raw []byte) (Filter, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}

	return parseFilterMap(doc)
}

func parseFilterMap(doc map[string]any) (Filter, error) {
	f := make(Filter, len(doc))

	for path, rawSet := range doc {
		if nested, isMap := rawSet.(map[string]any); isMap {
			sub, err := parseFilterMap(nested)
			if err != nil {
				return nil, err
			}

			for subPath, set := range sub {
				f[path+"."+subPath] = set
			}

			continue
		}

		arr, ok := rawSet.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: key %q: expected an array of matchers", ErrInvalidFilter, path)
		}

		set, err := parseMatcherSet(arr)
		if err != nil {
			return nil, fmt.Errorf("%w: key %q: %v", ErrInvalidFilter, path, err)
		}

		f[path] = set
	}

	return f, nil
}

func parseMatcherSet(arr []any) (MatcherSet, error) {
	set := make(MatcherSet, 0, len(arr))

	for _, el := range arr {
		m, err := parseMatcher(el)
		if err != nil {
			return nil, err
		}

		set = append(set, m)
	}

	return set, nil
}

func parseMatcher(el any) (Matcher, error) {
	obj, isObj := el.(map[string]any)
	if !isObj {
		return Matcher{Kind: KindEquals, Equals: el}, nil
	}

	if len(obj) != 1 {
		return Matcher{}, fmt.Errorf("matcher object must have exactly one key, got %d", len(obj))
	}

	for key, val := range obj {
		switch key {
		case "$endsWith":
			s, ok := val.(string)
			if !ok {
				return Matcher{}, fmt.Errorf("$endsWith requires a string")
			}

			return Matcher{Kind: KindEndsWith, EndsWith: s}, nil
		case "$startsWith":
			s, ok := val.(string)
			if !ok {
				return Matcher{}, fmt.Errorf("$startsWith requires a string")
			}

			return Matcher{Kind: KindStartsWith, StartsWith: s}, nil
		case "$ignoreCaseEquals":
			s, ok := val.(string)
			if !ok {
				return Matcher{}, fmt.Errorf("$ignoreCaseEquals requires a string")
			}

			return Matcher{Kind: KindIgnoreCaseEquals, IgnoreCaseEquals: s}, nil
		case "$exists":
			b, ok := val.(bool)
			if !ok {
				return Matcher{}, fmt.Errorf("$exists requires a boolean")
			}

			return Matcher{Kind: KindExists, Exists: b}, nil
		case "$isNull":
			b, ok := val.(bool)
			if !ok {
				return Matcher{}, fmt.Errorf("$isNull requires a boolean")
			}

			return Matcher{Kind: KindIsNull, IsNull: b}, nil
		case "$anythingBut":
			return Matcher{Kind: KindAnythingBut, AnythingBut: toSlice(val)}, nil
		case "$gt", "$gte", "$lt", "$lte":
			n, ok := toFloat(val)
			if !ok {
				return Matcher{}, fmt.Errorf("%s requires a number", key)
			}

			m := Matcher{}
			switch key {
			case "$gt":
				m.Kind, m.Gt = KindGt, &n
			case "$gte":
				m.Kind, m.Gte = KindGte, &n
			case "$lt":
				m.Kind, m.Lt = KindLt, &n
			case "$lte":
				m.Kind, m.Lte = KindLte, &n
			}

			return m, nil
		case "$between":
			arr, ok := val.([]any)
			if !ok || len(arr) != 2 {
				return Matcher{}, fmt.Errorf("$between requires a 2-element array")
			}

			lo, okLo := toFloat(arr[0])
			hi, okHi := toFloat(arr[1])

			if !okLo || !okHi {
				return Matcher{}, fmt.Errorf("$between requires numeric bounds")
			}

			return Matcher{Kind: KindBetween, Between: &[2]float64{lo, hi}}, nil
		case "$includes":
			return Matcher{Kind: KindIncludes, Includes: val}, nil
		default:
			return Matcher{}, fmt.Errorf("unknown matcher key %q", key)
		}
	}

	return Matcher{}, fmt.Errorf("unreachable")
}

func toSlice(v any) []any {
	if arr, ok := v.([]any); ok {
		return arr
	}

	return []any{v}
}

func toFloat(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

// Eval evaluates f against doc. Every key of f must match (logical AND); a
// missing path fails unless the matching set accepts absence (exists:false
// or isNull:true). Evaluation never errors: type mismatches simply evaluate
// to false.
func Eval(f Filter, doc map[string]any) bool {
	for path, set := range f {
		val, present := lookupPath(doc, path)
		if !evalMatcherSet(set, val, present) {
			return false
		}
	}

	return true
}

func evalMatcherSet(set MatcherSet, val any, present bool) bool {
	for _, m := range set {
		if evalMatcher(m, val, present) {
			return true
		}
	}

	return false
}

func evalMatcher(m Matcher, val any, present bool) bool {
	switch m.Kind {
	case KindExists:
		return present == m.Exists
	case KindIsNull:
		isNull := !present || val == nil
		return isNull == m.IsNull
	}

	if !present {
		return false
	}

	switch m.Kind {
	case KindEquals:
		return jsonEquals(val, m.Equals)
	case KindEndsWith:
		s, ok := val.(string)
		return ok && strings.HasSuffix(s, m.EndsWith)
	case KindStartsWith:
		s, ok := val.(string)
		return ok && strings.HasPrefix(s, m.StartsWith)
	case KindIgnoreCaseEquals:
		s, ok := val.(string)
		return ok && strings.EqualFold(s, m.IgnoreCaseEquals)
	case KindAnythingBut:
		for _, v := range m.AnythingBut {
			if jsonEquals(val, v) {
				return false
			}
		}

		return true
	case KindGt, KindGte, KindLt, KindLte:
		n, ok := toFloat(val)
		if !ok {
			return false
		}

		switch m.Kind {
		case KindGt:
			return n > *m.Gt
		case KindGte:
			return n >= *m.Gte
		case KindLt:
			return n < *m.Lt
		case KindLte:
			return n <= *m.Lte
		}
	case KindBetween:
		n, ok := toFloat(val)
		return ok && n >= m.Between[0] && n <= m.Between[1]
	case KindIncludes:
		switch v := val.(type) {
		case []any:
			for _, el := range v {
				if jsonEquals(el, m.Includes) {
					return true
				}
			}

			return false
		case string:
			sub, ok := m.Includes.(string)
			return ok && strings.Contains(v, sub)
		default:
			return false
		}
	}

	return false
}

func jsonEquals(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)

	if aok && bok {
		return af == bf
	}

	return a == b
}

// lookupPath resolves a dotted path ("a.b.c") against nested maps, returning
// the value and whether it was present.
func lookupPath(doc map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")

	var cur any = doc

	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}

		v, present := m[p]
		if !present {
			return nil, false
		}

		cur = v
	}

	return cur, true
}
