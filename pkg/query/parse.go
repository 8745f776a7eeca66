package query

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/tempest-orch/tempest/pkg/model"
)

// Parse turns a query document into a predicate tree. Malformed
// documents are rejected with a validation error; parsing happens at the
// store-write boundary so evaluation can assume valid input.
func Parse(doc map[string]any) (Predicate, error) {
	if containsOperators(doc) {
		return parseTopLevelOperators(doc)
	}

	subs := make([]Predicate, 0, len(doc))
	for _, key := range sortedKeys(doc) {
		value := doc[key]
		switch {
		case key == idKey:
			sub, err := parseIDQuery(value)
			if err != nil {
				return nil, err
			}
			subs = append(subs, sub)
		case isOperatorDoc(value):
			sub, err := parseOperators(key, value.(map[string]any))
			if err != nil {
				return nil, err
			}
			subs = append(subs, sub)
		default:
			if err := checkElementary(key, value); err != nil {
				return nil, err
			}
			subs = append(subs, propertyEquals{key: key, value: value})
		}
	}
	return and{subs: subs}, nil
}

func containsOperators(doc map[string]any) bool {
	for key := range doc {
		if strings.HasPrefix(key, "$") {
			return true
		}
	}
	return false
}

func isOperatorDoc(value any) bool {
	doc, ok := value.(map[string]any)
	return ok && containsOperators(doc)
}

func parseTopLevelOperators(doc map[string]any) (Predicate, error) {
	subs := make([]Predicate, 0, len(doc))
	for _, op := range sortedKeys(doc) {
		branches, ok := doc[op].([]any)
		if !ok {
			return nil, model.NewValidationError(
				fmt.Sprintf("top-level operator %s requires a list of query documents", op), nil)
		}
		parsed := make([]Predicate, 0, len(branches))
		for _, branch := range branches {
			branchDoc, ok := branch.(map[string]any)
			if !ok {
				return nil, model.NewValidationError(
					fmt.Sprintf("top-level operator %s requires a list of query documents", op), nil)
			}
			sub, err := Parse(branchDoc)
			if err != nil {
				return nil, err
			}
			parsed = append(parsed, sub)
		}
		switch op {
		case "$and":
			subs = append(subs, and{subs: parsed})
		case "$or":
			subs = append(subs, or{subs: parsed})
		default:
			return nil, model.NewValidationError(
				fmt.Sprintf("unknown top-level operator: %s", op), nil)
		}
	}
	return and{subs: subs}, nil
}

func parseOperators(key string, doc map[string]any) (Predicate, error) {
	subs := make([]Predicate, 0, len(doc))
	for _, op := range sortedKeys(doc) {
		value := doc[op]
		switch op {
		case "$eq":
			if err := checkElementary(key, value); err != nil {
				return nil, err
			}
			subs = append(subs, propertyEquals{key: key, value: value})
		case "$ne":
			if err := checkElementary(key, value); err != nil {
				return nil, err
			}
			subs = append(subs, not{sub: propertyEquals{key: key, value: value}})
		case "$in":
			values, err := elementaryList(key, value)
			if err != nil {
				return nil, err
			}
			subs = append(subs, propertyIn{key: key, values: values})
		case "$nin":
			values, err := elementaryList(key, value)
			if err != nil {
				return nil, err
			}
			subs = append(subs, not{sub: propertyIn{key: key, values: values}})
		case "$gt", "$gte", "$lt", "$lte":
			bound, ok := asNumber(value)
			if !ok {
				return nil, model.NewValidationError(
					fmt.Sprintf("%s on %s requires a number", op, key), nil)
			}
			subs = append(subs, propertyCompare{key: key, op: compareOps[op], bound: bound})
		case "$regex":
			pattern, ok := value.(string)
			if !ok {
				return nil, model.NewValidationError(
					fmt.Sprintf("$regex on %s requires a string pattern", key), nil)
			}
			// The pattern covers the whole attribute value, not a substring.
			re, err := regexp.Compile(`\A(?:` + pattern + `)\z`)
			if err != nil {
				return nil, model.NewValidationError(
					fmt.Sprintf("invalid $regex pattern for %s: %s", key, pattern), err)
			}
			subs = append(subs, propertyRegex{key: key, pattern: re})
		case "$startsWith", "$endsWith", "$contains":
			s, ok := value.(string)
			if !ok {
				return nil, model.NewValidationError(
					fmt.Sprintf("%s on %s requires a string", op, key), nil)
			}
			subs = append(subs, propertyString{key: key, op: stringOps[op], value: s})
		case "$not":
			inner, ok := value.(map[string]any)
			if !ok {
				return nil, model.NewValidationError(
					fmt.Sprintf("$not on %s requires an operator document", key), nil)
			}
			sub, err := parseOperators(key, inner)
			if err != nil {
				return nil, err
			}
			subs = append(subs, not{sub: sub})
		default:
			return nil, model.NewValidationError(
				fmt.Sprintf("unknown operator: %s", op), nil)
		}
	}
	return and{subs: subs}, nil
}

// parseIDQuery handles the _id pseudo-attribute, which supports a bare
// identifier or the $eq, $ne, $in and $nin operators only.
func parseIDQuery(value any) (Predicate, error) {
	if id, ok := value.(string); ok {
		return propertyEquals{key: idKey, value: id}, nil
	}

	doc, ok := value.(map[string]any)
	if !ok {
		return nil, model.NewValidationError(
			"_id requires an identifier or an operator document", nil)
	}

	subs := make([]Predicate, 0, len(doc))
	for _, op := range sortedKeys(doc) {
		opValue := doc[op]
		switch op {
		case "$eq", "$ne":
			id, ok := opValue.(string)
			if !ok {
				return nil, model.NewValidationError(
					fmt.Sprintf("_id %s requires an identifier", op), nil)
			}
			sub := Predicate(propertyEquals{key: idKey, value: id})
			if op == "$ne" {
				sub = not{sub: sub}
			}
			subs = append(subs, sub)
		case "$in", "$nin":
			ids, err := identifierList(opValue)
			if err != nil {
				return nil, model.NewValidationError(
					fmt.Sprintf("_id %s requires a list of identifiers", op), err)
			}
			sub := Predicate(IDIn(ids))
			if op == "$nin" {
				sub = not{sub: sub}
			}
			subs = append(subs, sub)
		default:
			return nil, model.NewValidationError(
				fmt.Sprintf("queries on _id support only $eq, $ne, $in and $nin, got: %s", op), nil)
		}
	}
	return and{subs: subs}, nil
}

// checkElementary rejects values that are not strings, numbers, booleans
// or null.
func checkElementary(key string, value any) error {
	switch value.(type) {
	case nil, string, bool, int, int32, int64, float32, float64:
		return nil
	default:
		return model.NewValidationError(
			fmt.Sprintf("invalid value for %s: expected a string, number, boolean or null", key), nil)
	}
}

func elementaryList(key string, value any) ([]any, error) {
	list, ok := value.([]any)
	if !ok {
		return nil, model.NewValidationError(
			fmt.Sprintf("operator on %s requires a list of values", key), nil)
	}
	for _, item := range list {
		if err := checkElementary(key, item); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func identifierList(value any) ([]string, error) {
	list, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list, got %T", value)
	}
	ids := make([]string, 0, len(list))
	for _, item := range list {
		id, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string identifier, got %T", item)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// sortedKeys keeps parse results order-independent of Go map iteration.
func sortedKeys(doc map[string]any) []string {
	keys := make([]string, 0, len(doc))
	for key := range doc {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
