// Package result defines the uniform outcome envelope returned by every
// fallible data-access and session operation.
package result

import (
	"encoding/json"
	"strings"
)

// GenericErrorMessage is used when a failure carries no message of its own.
const GenericErrorMessage = "An error occurred"

// Result is a tagged outcome: either Ok with Data, or Err with a non-empty Error.
// Callers branch on Success and never on the zero value of Data.
type Result[T any] struct {
	Success bool
	Data    T
	Error   string
}

// Ok wraps a successful value.
func Ok[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

// Err builds a failed result. Blank messages are replaced with GenericErrorMessage.
func Err[T any](message string) Result[T] {
	if strings.TrimSpace(message) == "" {
		message = GenericErrorMessage
	}
	return Result[T]{Success: false, Error: message}
}

// Message returns the error text of a failed result and "" for a successful one.
func (outcome Result[T]) Message() string {
	if outcome.Success {
		return ""
	}
	return outcome.Error
}

// Value returns Data and the success flag.
func (outcome Result[T]) Value() (T, bool) {
	return outcome.Data, outcome.Success
}

type wireResult struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *string         `json:"error"`
}

var jsonNull = json.RawMessage("null")

// MarshalJSON emits {"success","data","error"} with the inactive side set to null.
func (outcome Result[T]) MarshalJSON() ([]byte, error) {
	wire := wireResult{Success: outcome.Success, Data: jsonNull}
	if outcome.Success {
		encoded, err := json.Marshal(outcome.Data)
		if err != nil {
			return nil, err
		}
		wire.Data = encoded
	} else {
		message := outcome.Error
		if strings.TrimSpace(message) == "" {
			message = GenericErrorMessage
		}
		wire.Error = &message
	}
	return json.Marshal(wire)
}

// UnmarshalJSON accepts the wire form produced by MarshalJSON.
func (outcome *Result[T]) UnmarshalJSON(payload []byte) error {
	var wire wireResult
	if err := json.Unmarshal(payload, &wire); err != nil {
		return err
	}
	var decoded Result[T]
	decoded.Success = wire.Success
	if wire.Success {
		if len(wire.Data) > 0 && string(wire.Data) != "null" {
			if err := json.Unmarshal(wire.Data, &decoded.Data); err != nil {
				return err
			}
		}
	} else {
		decoded.Error = GenericErrorMessage
		if wire.Error != nil && strings.TrimSpace(*wire.Error) != "" {
			decoded.Error = *wire.Error
		}
	}
	*outcome = decoded
	return nil
}
