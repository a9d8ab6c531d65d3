package docstore

import (
	"encoding/json"
	"fmt"
	"strings"
)

// unquotableRunes cannot appear in a field segment: SQLite JSON path labels have no
// escape for a double quote, and gorm reads '?' as a placeholder.
const unquotableRunes = "\"\\?"

// sqlDialect translates query options into SQL over the JSON data column.
// Field paths reach these methods only after validateFieldPath accepted them.
type sqlDialect interface {
	fieldExpression(fieldPath string) string
	presence(fieldPath string) string
	condition(filter Filter) (string, []any, error)
}

func validateFieldPath(fieldPath string) error {
	for _, segment := range strings.Split(fieldPath, ".") {
		if segment == "" || strings.ContainsAny(segment, unquotableRunes) {
			return fmt.Errorf("%w: unsupported field path %q", ErrInvalidQuery, fieldPath)
		}
	}
	return nil
}

func comparisonSQL(operator Operator) string {
	switch operator {
	case OperatorLess:
		return "<"
	case OperatorLessOrEqual:
		return "<="
	case OperatorGreater:
		return ">"
	default:
		return ">="
	}
}

func joinClauses(clauses []string, arguments [][]any, separator string, empty string) (string, []any) {
	if len(clauses) == 0 {
		return empty, nil
	}
	flattened := make([]any, 0)
	for _, group := range arguments {
		flattened = append(flattened, group...)
	}
	return "(" + strings.Join(clauses, separator) + ")", flattened
}

type sqliteDialect struct{}

// jsonPath renders '$."a"."b"' with every segment quoted.
func (sqliteDialect) jsonPath(fieldPath string) string {
	var builder strings.Builder
	builder.WriteString("'$")
	for _, segment := range strings.Split(fieldPath, ".") {
		builder.WriteString(`."`)
		builder.WriteString(escapeSQLLiteral(segment))
		builder.WriteString(`"`)
	}
	builder.WriteString("'")
	return builder.String()
}

func escapeSQLLiteral(text string) string {
	return strings.ReplaceAll(text, "'", "''")
}

func (dialect sqliteDialect) fieldExpression(fieldPath string) string {
	return "json_extract(data, " + dialect.jsonPath(fieldPath) + ")"
}

func (dialect sqliteDialect) typeExpression(fieldPath string) string {
	return "json_type(data, " + dialect.jsonPath(fieldPath) + ")"
}

func (dialect sqliteDialect) presence(fieldPath string) string {
	return dialect.typeExpression(fieldPath) + " IS NOT NULL"
}

func (dialect sqliteDialect) condition(filter Filter) (string, []any, error) {
	valueExpression := dialect.fieldExpression(filter.Field)
	typeExpression := dialect.typeExpression(filter.Field)
	switch filter.Operator {
	case OperatorEqual:
		return sqliteEquals(valueExpression, typeExpression, filter.Value)
	case OperatorNotEqual:
		clause, arguments, err := sqliteEquals(valueExpression, typeExpression, filter.Value)
		if err != nil {
			return "", nil, err
		}
		return "(" + typeExpression + " IS NOT NULL AND " + typeExpression + " != 'null' AND NOT " + clause + ")", arguments, nil
	case OperatorLess, OperatorLessOrEqual, OperatorGreater, OperatorGreaterOrEqual:
		return sqliteRange(valueExpression, typeExpression, comparisonSQL(filter.Operator), filter.Value)
	case OperatorIn:
		return sqliteAnyEquals(valueExpression, typeExpression, listValues(filter.Value))
	case OperatorNotIn:
		clause, arguments, err := sqliteAnyEquals(valueExpression, typeExpression, listValues(filter.Value))
		if err != nil {
			return "", nil, err
		}
		return "(" + typeExpression + " IS NOT NULL AND " + typeExpression + " != 'null' AND NOT " + clause + ")", arguments, nil
	case OperatorArrayContains:
		clause, arguments, err := sqliteEquals("element.value", "element.type", filter.Value)
		if err != nil {
			return "", nil, err
		}
		return dialect.elementExists(filter.Field, clause), arguments, nil
	case OperatorArrayContainsAny:
		clause, arguments, err := sqliteAnyEquals("element.value", "element.type", listValues(filter.Value))
		if err != nil {
			return "", nil, err
		}
		return dialect.elementExists(filter.Field, clause), arguments, nil
	default:
		return "", nil, fmt.Errorf("%w: unsupported operator %q", ErrInvalidQuery, filter.Operator)
	}
}

func (dialect sqliteDialect) elementExists(fieldPath string, clause string) string {
	return "(" + dialect.typeExpression(fieldPath) + " = 'array' AND EXISTS (SELECT 1 FROM json_each(documents.data, " +
		dialect.jsonPath(fieldPath) + ") AS element WHERE " + clause + "))"
}

func sqliteEquals(valueExpression string, typeExpression string, value any) (string, []any, error) {
	switch typed := normalizeValue(storageValue(value)).(type) {
	case nil:
		return typeExpression + " = 'null'", nil, nil
	case bool:
		if typed {
			return typeExpression + " = 'true'", nil, nil
		}
		return typeExpression + " = 'false'", nil, nil
	case float64:
		return "(" + typeExpression + " IN ('integer','real') AND " + valueExpression + " = ?)", []any{typed}, nil
	case string:
		return "(" + typeExpression + " = 'text' AND " + valueExpression + " = ?)", []any{typed}, nil
	case []any, map[string]any:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return "", nil, err
		}
		return "(" + typeExpression + " IN ('array','object') AND " + valueExpression + " = json(?))", []any{string(encoded)}, nil
	default:
		return "", nil, fmt.Errorf("%w: unsupported value type %T", ErrInvalidQuery, value)
	}
}

func sqliteAnyEquals(valueExpression string, typeExpression string, values []any) (string, []any, error) {
	clauses := make([]string, 0, len(values))
	arguments := make([][]any, 0, len(values))
	for _, candidate := range values {
		clause, candidateArguments, err := sqliteEquals(valueExpression, typeExpression, candidate)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, clause)
		arguments = append(arguments, candidateArguments)
	}
	clause, flattened := joinClauses(clauses, arguments, " OR ", "(1 = 0)")
	return clause, flattened, nil
}

func sqliteRange(valueExpression string, typeExpression string, comparison string, value any) (string, []any, error) {
	switch typed := normalizeValue(storageValue(value)).(type) {
	case float64:
		return "(" + typeExpression + " IN ('integer','real') AND " + valueExpression + " " + comparison + " ?)", []any{typed}, nil
	case string:
		return "(" + typeExpression + " = 'text' AND " + valueExpression + " " + comparison + " ?)", []any{typed}, nil
	case bool:
		numeric := 0
		if typed {
			numeric = 1
		}
		return "(" + typeExpression + " IN ('true','false') AND " + valueExpression + " " + comparison + " ?)", []any{numeric}, nil
	default:
		return "", nil, fmt.Errorf("%w: range comparison on %T", ErrInvalidQuery, value)
	}
}

type postgresDialect struct{}

// fieldExpression renders data::jsonb #> '{"a","b"}' with every segment quoted.
func (postgresDialect) fieldExpression(fieldPath string) string {
	segments := strings.Split(fieldPath, ".")
	quoted := make([]string, len(segments))
	for index, segment := range segments {
		quoted[index] = `"` + escapeSQLLiteral(segment) + `"`
	}
	return "(data::jsonb #> '{" + strings.Join(quoted, ",") + "}')"
}

func (dialect postgresDialect) typeExpression(fieldPath string) string {
	return "jsonb_typeof" + dialect.fieldExpression(fieldPath)
}

func (dialect postgresDialect) presence(fieldPath string) string {
	return dialect.fieldExpression(fieldPath) + " IS NOT NULL"
}

func (dialect postgresDialect) condition(filter Filter) (string, []any, error) {
	fieldExpression := dialect.fieldExpression(filter.Field)
	typeExpression := dialect.typeExpression(filter.Field)
	switch filter.Operator {
	case OperatorEqual:
		return postgresEquals(fieldExpression, filter.Value)
	case OperatorNotEqual:
		clause, arguments, err := postgresEquals(fieldExpression, filter.Value)
		if err != nil {
			return "", nil, err
		}
		return "(" + fieldExpression + " IS NOT NULL AND " + typeExpression + " != 'null' AND NOT " + clause + ")", arguments, nil
	case OperatorLess, OperatorLessOrEqual, OperatorGreater, OperatorGreaterOrEqual:
		normalized := normalizeValue(storageValue(filter.Value))
		var jsonType string
		switch normalized.(type) {
		case float64:
			jsonType = "number"
		case string:
			jsonType = "string"
		case bool:
			jsonType = "boolean"
		default:
			return "", nil, fmt.Errorf("%w: range comparison on %T", ErrInvalidQuery, filter.Value)
		}
		encoded, err := json.Marshal(normalized)
		if err != nil {
			return "", nil, err
		}
		return "(" + typeExpression + " = '" + jsonType + "' AND " + fieldExpression + " " + comparisonSQL(filter.Operator) + " CAST(? AS jsonb))",
			[]any{string(encoded)}, nil
	case OperatorIn:
		return postgresAny(fieldExpression, listValues(filter.Value), postgresEquals)
	case OperatorNotIn:
		clause, arguments, err := postgresAny(fieldExpression, listValues(filter.Value), postgresEquals)
		if err != nil {
			return "", nil, err
		}
		return "(" + fieldExpression + " IS NOT NULL AND " + typeExpression + " != 'null' AND NOT " + clause + ")", arguments, nil
	case OperatorArrayContains:
		clause, arguments, err := postgresContains(fieldExpression, filter.Value)
		if err != nil {
			return "", nil, err
		}
		return "(" + typeExpression + " = 'array' AND " + clause + ")", arguments, nil
	case OperatorArrayContainsAny:
		clause, arguments, err := postgresAny(fieldExpression, listValues(filter.Value), postgresContains)
		if err != nil {
			return "", nil, err
		}
		return "(" + typeExpression + " = 'array' AND " + clause + ")", arguments, nil
	default:
		return "", nil, fmt.Errorf("%w: unsupported operator %q", ErrInvalidQuery, filter.Operator)
	}
}

func postgresEquals(fieldExpression string, value any) (string, []any, error) {
	encoded, err := json.Marshal(normalizeValue(storageValue(value)))
	if err != nil {
		return "", nil, err
	}
	return "(" + fieldExpression + " = CAST(? AS jsonb))", []any{string(encoded)}, nil
}

func postgresContains(fieldExpression string, value any) (string, []any, error) {
	encoded, err := json.Marshal([]any{normalizeValue(storageValue(value))})
	if err != nil {
		return "", nil, err
	}
	return "(" + fieldExpression + " @> CAST(? AS jsonb))", []any{string(encoded)}, nil
}

func postgresAny(fieldExpression string, values []any, build func(string, any) (string, []any, error)) (string, []any, error) {
	clauses := make([]string, 0, len(values))
	arguments := make([][]any, 0, len(values))
	for _, candidate := range values {
		clause, candidateArguments, err := build(fieldExpression, candidate)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, clause)
		arguments = append(arguments, candidateArguments)
	}
	clause, flattened := joinClauses(clauses, arguments, " OR ", "(1 = 0)")
	return clause, flattened, nil
}
