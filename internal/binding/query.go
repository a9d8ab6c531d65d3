package binding

import (
	"context"
	"fmt"

	"github.com/tyemirov/tbase/internal/result"
)

// QueryFunc is an arbitrary fallible query.
type QueryFunc[T any] func(ctx context.Context) (result.Result[T], error)

// QueryBinding runs a QueryFunc on demand.
type QueryBinding[T any] struct {
	run   QueryFunc[T]
	state *holder[T]
}

// Query binds run. Nothing executes until Execute.
func Query[T any](run QueryFunc[T]) *QueryBinding[T] {
	return &QueryBinding[T]{run: run, state: newHolder(State[T]{})}
}

// State returns the current snapshot.
func (binding *QueryBinding[T]) State() State[T] {
	return binding.state.snapshot()
}

// Subscribe registers listener for state changes.
func (binding *QueryBinding[T]) Subscribe(listener Listener[T]) func() {
	return binding.state.subscribe(listener)
}

// Execute runs the query. Returned errors and panics become failed results.
func (binding *QueryBinding[T]) Execute(ctx context.Context) (outcome result.Result[T]) {
	sequence := binding.state.begin()
	var empty T
	defer func() {
		if recovered := recover(); recovered != nil {
			outcome = result.Err[T](fmt.Sprint(recovered))
		}
		binding.state.finish(sequence, outcome, empty)
	}()
	outcome, err := binding.run(ctx)
	if err != nil {
		return result.Err[T](err.Error())
	}
	return outcome
}

// Reset returns the binding to its idle state and discards in-flight executions.
func (binding *QueryBinding[T]) Reset() {
	binding.state.replace(State[T]{})
}
