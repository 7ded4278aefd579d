package gatewaytest

import (
	"encoding/json"
	"fmt"
	"strings"
)

type matcher func(src map[string]interface{}) bool

func matchAll(map[string]interface{}) bool { return true }

// compileFilter understands match_all, term, terms, exists and bool
// (must, filter, should, must_not). Anything else is rejected.
func compileFilter(raw json.RawMessage) (matcher, error) {
	var clause map[string]json.RawMessage
	if err := json.Unmarshal(raw, &clause); err != nil {
		return nil, err
	}
	if len(clause) != 1 {
		return nil, fmt.Errorf("filter must have exactly one clause, got %d", len(clause))
	}
	for kind, body := range clause {
		switch kind {
		case "match_all":
			return matchAll, nil
		case "term":
			return compileTerm(body)
		case "terms":
			return compileTerms(body)
		case "exists":
			return compileExists(body)
		case "bool":
			return compileBool(body)
		default:
			return nil, fmt.Errorf("unsupported filter clause %q", kind)
		}
	}
	return nil, fmt.Errorf("empty filter")
}

func compileTerm(body json.RawMessage) (matcher, error) {
	var term map[string]interface{}
	if err := json.Unmarshal(body, &term); err != nil {
		return nil, err
	}
	if len(term) != 1 {
		return nil, fmt.Errorf("term must name exactly one field")
	}
	for field, want := range term {
		if obj, ok := want.(map[string]interface{}); ok {
			want = obj["value"]
		}
		field, want := field, want
		return func(src map[string]interface{}) bool {
			got, ok := lookup(src, field)
			return ok && equal(got, want)
		}, nil
	}
	return nil, fmt.Errorf("empty term")
}

func compileTerms(body json.RawMessage) (matcher, error) {
	var terms map[string][]interface{}
	if err := json.Unmarshal(body, &terms); err != nil {
		return nil, err
	}
	if len(terms) != 1 {
		return nil, fmt.Errorf("terms must name exactly one field")
	}
	for field, values := range terms {
		field, values := field, values
		return func(src map[string]interface{}) bool {
			got, ok := lookup(src, field)
			if !ok {
				return false
			}
			for _, v := range values {
				if equal(got, v) {
					return true
				}
			}
			return false
		}, nil
	}
	return nil, fmt.Errorf("empty terms")
}

func compileExists(body json.RawMessage) (matcher, error) {
	var exists struct {
		Field string `json:"field"`
	}
	if err := json.Unmarshal(body, &exists); err != nil {
		return nil, err
	}
	return func(src map[string]interface{}) bool {
		v, ok := lookup(src, exists.Field)
		return ok && v != nil
	}, nil
}

func compileBool(body json.RawMessage) (matcher, error) {
	var clauses map[string]json.RawMessage
	if err := json.Unmarshal(body, &clauses); err != nil {
		return nil, err
	}
	var must, should, mustNot []matcher
	for occur, raw := range clauses {
		compiled, err := compileList(raw)
		if err != nil {
			return nil, fmt.Errorf("bool.%s: %w", occur, err)
		}
		switch occur {
		case "must", "filter":
			must = append(must, compiled...)
		case "should":
			should = append(should, compiled...)
		case "must_not":
			mustNot = append(mustNot, compiled...)
		default:
			return nil, fmt.Errorf("unsupported bool occurrence %q", occur)
		}
	}
	return func(src map[string]interface{}) bool {
		for _, m := range must {
			if !m(src) {
				return false
			}
		}
		for _, m := range mustNot {
			if m(src) {
				return false
			}
		}
		if len(should) == 0 {
			return true
		}
		for _, m := range should {
			if m(src) {
				return true
			}
		}
		return false
	}, nil
}

// compileList accepts a single clause or an array of clauses.
func compileList(raw json.RawMessage) ([]matcher, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		result := make([]matcher, 0, len(list))
		for _, item := range list {
			m, err := compileFilter(item)
			if err != nil {
				return nil, err
			}
			result = append(result, m)
		}
		return result, nil
	}
	m, err := compileFilter(raw)
	if err != nil {
		return nil, err
	}
	return []matcher{m}, nil
}

// lookup resolves a dotted field path.
func lookup(src map[string]interface{}, field string) (interface{}, bool) {
	var current interface{} = src
	for _, part := range strings.Split(field, ".") {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func equal(got, want interface{}) bool {
	if list, ok := got.([]interface{}); ok {
		for _, item := range list {
			if equal(item, want) {
				return true
			}
		}
		return false
	}
	return fmt.Sprint(got) == fmt.Sprint(want)
}
