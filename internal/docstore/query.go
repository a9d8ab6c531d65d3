package docstore

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// Operator is a filter comparison operator.
type Operator string

// Supported operators. Filters are ANDed; there is no OR.
const (
	OperatorEqual            Operator = "=="
	OperatorNotEqual         Operator = "!="
	OperatorLess             Operator = "<"
	OperatorLessOrEqual      Operator = "<="
	OperatorGreater          Operator = ">"
	OperatorGreaterOrEqual   Operator = ">="
	OperatorIn               Operator = "in"
	OperatorNotIn            Operator = "not-in"
	OperatorArrayContains    Operator = "array-contains"
	OperatorArrayContainsAny Operator = "array-contains-any"
)

// Direction is a sort direction.
type Direction string

// Sort directions.
const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

var (
	// ErrInvalidQuery indicates malformed query options.
	ErrInvalidQuery = errors.New("docstore.invalid_query")
)

// Filter is one predicate of a query.
type Filter struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// Where builds a filter.
func Where(field string, operator Operator, value any) Filter {
	return Filter{Field: field, Operator: operator, Value: value}
}

// QueryOptions declares a collection query. A zero LimitCount means no limit.
type QueryOptions struct {
	Filters        []Filter  `json:"filters,omitempty"`
	OrderByField   string    `json:"orderByField,omitempty"`
	OrderDirection Direction `json:"orderDirection,omitempty"`
	LimitCount     int       `json:"limitCount,omitempty"`
}

// Direction returns the effective sort direction, defaulting to ascending.
func (options QueryOptions) Direction() Direction {
	if options.OrderDirection == "" {
		return Ascending
	}
	return options.OrderDirection
}

// Validate checks operators, direction, and limit.
func (options QueryOptions) Validate() error {
	for index, filter := range options.Filters {
		if strings.TrimSpace(filter.Field) == "" {
			return fmt.Errorf("%w: filter %d has an empty field", ErrInvalidQuery, index)
		}
		if !filter.Operator.Valid() {
			return fmt.Errorf("%w: unsupported operator %q", ErrInvalidQuery, filter.Operator)
		}
		if filter.Operator.TakesList() && !isList(filter.Value) {
			return fmt.Errorf("%w: operator %q requires a list value", ErrInvalidQuery, filter.Operator)
		}
	}
	switch options.Direction() {
	case Ascending, Descending:
	default:
		return fmt.Errorf("%w: unsupported direction %q", ErrInvalidQuery, options.OrderDirection)
	}
	if options.LimitCount < 0 {
		return fmt.Errorf("%w: negative limit %d", ErrInvalidQuery, options.LimitCount)
	}
	return nil
}

// ParseOperator maps text onto an Operator.
func ParseOperator(text string) (Operator, error) {
	operator := Operator(strings.TrimSpace(text))
	if !operator.Valid() {
		return "", fmt.Errorf("%w: unsupported operator %q", ErrInvalidQuery, text)
	}
	return operator, nil
}

// Valid reports whether the operator is supported.
func (operator Operator) Valid() bool {
	switch operator {
	case OperatorEqual, OperatorNotEqual, OperatorLess, OperatorLessOrEqual, OperatorGreater, OperatorGreaterOrEqual,
		OperatorIn, OperatorNotIn, OperatorArrayContains, OperatorArrayContainsAny:
		return true
	default:
		return false
	}
}

// TakesList reports whether the operator compares against a list of values.
func (operator Operator) TakesList() bool {
	switch operator {
	case OperatorIn, OperatorNotIn, OperatorArrayContainsAny:
		return true
	default:
		return false
	}
}

func isList(value any) bool {
	if value == nil {
		return false
	}
	kind := reflect.TypeOf(value).Kind()
	return kind == reflect.Slice || kind == reflect.Array
}

// listValues flattens any slice or array into []any.
func listValues(value any) []any {
	if value == nil {
		return nil
	}
	if typed, ok := value.([]any); ok {
		return typed
	}
	reflected := reflect.ValueOf(value)
	if reflected.Kind() != reflect.Slice && reflected.Kind() != reflect.Array {
		return nil
	}
	values := make([]any, reflected.Len())
	for index := 0; index < reflected.Len(); index++ {
		values[index] = reflected.Index(index).Interface()
	}
	return values
}
