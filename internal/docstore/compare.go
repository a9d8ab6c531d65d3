package docstore

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"
)

// Type ranks used when ordering values of different kinds.
const (
	rankNull = iota
	rankBool
	rankNumber
	rankTimestamp
	rankString
	rankList
	rankMap
	rankOther
)

// normalizeValue folds numeric kinds into float64 and lists/maps into their generic forms
// so equality and ordering do not depend on the Go type a caller or backend produced.
func normalizeValue(value any) any {
	switch typed := value.(type) {
	case nil:
		return nil
	case bool, string:
		return typed
	case int:
		return float64(typed)
	case int8:
		return float64(typed)
	case int16:
		return float64(typed)
	case int32:
		return float64(typed)
	case int64:
		return float64(typed)
	case uint:
		return float64(typed)
	case uint8:
		return float64(typed)
	case uint16:
		return float64(typed)
	case uint32:
		return float64(typed)
	case uint64:
		return float64(typed)
	case float32:
		return float64(typed)
	case float64:
		return typed
	case json.Number:
		if parsed, err := typed.Float64(); err == nil {
			return parsed
		}
		return typed.String()
	case time.Time:
		return typed.UTC()
	case *time.Time:
		if typed == nil {
			return nil
		}
		return typed.UTC()
	case Fields:
		return normalizeMap(typed)
	case map[string]any:
		return normalizeMap(typed)
	}
	if values := listValues(value); values != nil || isList(value) {
		normalized := make([]any, len(values))
		for index, element := range values {
			normalized[index] = normalizeValue(element)
		}
		return normalized
	}
	return value
}

func normalizeMap(source map[string]any) map[string]any {
	normalized := make(map[string]any, len(source))
	for key, value := range source {
		normalized[key] = normalizeValue(value)
	}
	return normalized
}

func rankOf(normalized any) int {
	switch normalized.(type) {
	case nil:
		return rankNull
	case bool:
		return rankBool
	case float64:
		return rankNumber
	case time.Time:
		return rankTimestamp
	case string:
		return rankString
	case []any:
		return rankList
	case map[string]any:
		return rankMap
	default:
		return rankOther
	}
}

// valuesEqual compares two values after normalization.
func valuesEqual(left any, right any) bool {
	normalizedLeft := normalizeValue(left)
	normalizedRight := normalizeValue(right)
	leftTime, leftIsTime := normalizedLeft.(time.Time)
	rightTime, rightIsTime := normalizedRight.(time.Time)
	if leftIsTime && rightIsTime {
		return leftTime.Equal(rightTime)
	}
	return reflect.DeepEqual(normalizedLeft, normalizedRight)
}

// compareOrdered orders two values: by type rank first, then by value within a rank.
func compareOrdered(left any, right any) int {
	normalizedLeft := normalizeValue(left)
	normalizedRight := normalizeValue(right)
	leftRank := rankOf(normalizedLeft)
	rightRank := rankOf(normalizedRight)
	if leftRank != rightRank {
		return compareInts(leftRank, rightRank)
	}
	switch typedLeft := normalizedLeft.(type) {
	case bool:
		typedRight := normalizedRight.(bool)
		switch {
		case typedLeft == typedRight:
			return 0
		case !typedLeft:
			return -1
		default:
			return 1
		}
	case float64:
		typedRight := normalizedRight.(float64)
		switch {
		case typedLeft < typedRight:
			return -1
		case typedLeft > typedRight:
			return 1
		default:
			return 0
		}
	case time.Time:
		typedRight := normalizedRight.(time.Time)
		return typedLeft.Compare(typedRight)
	case string:
		return strings.Compare(typedLeft, normalizedRight.(string))
	case []any:
		typedRight := normalizedRight.([]any)
		for index := 0; index < len(typedLeft) && index < len(typedRight); index++ {
			if comparison := compareOrdered(typedLeft[index], typedRight[index]); comparison != 0 {
				return comparison
			}
		}
		return compareInts(len(typedLeft), len(typedRight))
	default:
		return 0
	}
}

// comparableRange reports whether a range operator may compare the two values.
// Range filters only match values of the same type rank.
func comparableRange(left any, right any) bool {
	leftRank := rankOf(normalizeValue(left))
	rightRank := rankOf(normalizeValue(right))
	if leftRank != rightRank {
		return false
	}
	return leftRank == rankNumber || leftRank == rankString || leftRank == rankTimestamp || leftRank == rankBool
}

func compareInts(left int, right int) int {
	switch {
	case left < right:
		return -1
	case left > right:
		return 1
	default:
		return 0
	}
}

// matchesFilter evaluates one filter against a document. Documents missing the field never match.
func matchesFilter(document Document, filter Filter) bool {
	fieldValue, present := document.Get(filter.Field)
	if !present {
		return false
	}
	switch filter.Operator {
	case OperatorEqual:
		return valuesEqual(fieldValue, filter.Value)
	case OperatorNotEqual:
		return fieldValue != nil && !valuesEqual(fieldValue, filter.Value)
	case OperatorLess, OperatorLessOrEqual, OperatorGreater, OperatorGreaterOrEqual:
		if !comparableRange(fieldValue, filter.Value) {
			return false
		}
		comparison := compareOrdered(fieldValue, filter.Value)
		switch filter.Operator {
		case OperatorLess:
			return comparison < 0
		case OperatorLessOrEqual:
			return comparison <= 0
		case OperatorGreater:
			return comparison > 0
		default:
			return comparison >= 0
		}
	case OperatorIn:
		for _, candidate := range listValues(filter.Value) {
			if valuesEqual(fieldValue, candidate) {
				return true
			}
		}
		return false
	case OperatorNotIn:
		if fieldValue == nil {
			return false
		}
		for _, candidate := range listValues(filter.Value) {
			if valuesEqual(fieldValue, candidate) {
				return false
			}
		}
		return true
	case OperatorArrayContains:
		for _, element := range listValues(fieldValue) {
			if valuesEqual(element, filter.Value) {
				return true
			}
		}
		return false
	case OperatorArrayContainsAny:
		for _, element := range listValues(fieldValue) {
			for _, candidate := range listValues(filter.Value) {
				if valuesEqual(element, candidate) {
					return true
				}
			}
		}
		return false
	default:
		return false
	}
}
