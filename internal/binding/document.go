package binding

import (
	"context"

	"github.com/tyemirov/tbase/internal/docstore"
	"github.com/tyemirov/tbase/internal/result"
)

// DocumentBinding reads one document.
type DocumentBinding struct {
	store          *docstore.Store
	collectionPath string
	documentID     string
	state          *holder[docstore.Document]
}

// Document binds collectionPath/documentID. With autoFetch the document is read
// before Document returns.
func Document(ctx context.Context, store *docstore.Store, collectionPath string, documentID string, autoFetch bool) *DocumentBinding {
	binding := &DocumentBinding{
		store:          store,
		collectionPath: collectionPath,
		documentID:     documentID,
		state:          newHolder(State[docstore.Document]{Loading: autoFetch}),
	}
	if autoFetch {
		binding.Refetch(ctx)
	}
	return binding
}

// State returns the current snapshot.
func (binding *DocumentBinding) State() State[docstore.Document] {
	return binding.state.snapshot()
}

// Subscribe registers listener for state changes.
func (binding *DocumentBinding) Subscribe(listener Listener[docstore.Document]) func() {
	return binding.state.subscribe(listener)
}

// Refetch reads the document. An empty path or id only clears the loading flag.
func (binding *DocumentBinding) Refetch(ctx context.Context) result.Result[docstore.Document] {
	if binding.collectionPath == "" || binding.documentID == "" {
		current := binding.state.snapshot()
		current.Loading = false
		binding.state.replace(current)
		return result.Err[docstore.Document]("")
	}
	sequence := binding.state.begin()
	outcome := binding.store.Read(ctx, binding.collectionPath, binding.documentID)
	binding.state.finish(sequence, outcome, docstore.Document{})
	return outcome
}

// CollectionBinding runs one collection query.
type CollectionBinding struct {
	store          *docstore.Store
	collectionPath string
	options        docstore.QueryOptions
	state          *holder[[]docstore.Document]
}

// Collection binds a query over collectionPath. With autoFetch the query runs before Collection returns.
func Collection(ctx context.Context, store *docstore.Store, collectionPath string, options docstore.QueryOptions, autoFetch bool) *CollectionBinding {
	binding := &CollectionBinding{
		store:          store,
		collectionPath: collectionPath,
		options:        options,
		state:          newHolder(State[[]docstore.Document]{Data: []docstore.Document{}, Loading: autoFetch}),
	}
	if autoFetch {
		binding.Refetch(ctx)
	}
	return binding
}

// State returns the current snapshot.
func (binding *CollectionBinding) State() State[[]docstore.Document] {
	return binding.state.snapshot()
}

// Subscribe registers listener for state changes.
func (binding *CollectionBinding) Subscribe(listener Listener[[]docstore.Document]) func() {
	return binding.state.subscribe(listener)
}

// Refetch runs the query. Failures reset Data to an empty list.
func (binding *CollectionBinding) Refetch(ctx context.Context) result.Result[[]docstore.Document] {
	if binding.collectionPath == "" {
		current := binding.state.snapshot()
		current.Loading = false
		binding.state.replace(current)
		return result.Err[[]docstore.Document]("")
	}
	sequence := binding.state.begin()
	outcome := binding.store.ReadCollection(ctx, binding.collectionPath, binding.options)
	binding.state.finish(sequence, outcome, []docstore.Document{})
	return outcome
}
