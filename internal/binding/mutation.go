package binding

import (
	"context"

	"github.com/tyemirov/tbase/internal/docstore"
	"github.com/tyemirov/tbase/internal/result"
)

// MessageInvalidOperation is returned by Mutation for unknown operations.
const MessageInvalidOperation = "Invalid operation"

// Operation names a Mutation.
type Operation string

// Supported mutation operations.
const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// CreateBinding creates documents in one collection.
type CreateBinding struct {
	store          *docstore.Store
	collectionPath string
	state          *holder[docstore.Document]
}

// Create binds document creation in collectionPath.
func Create(store *docstore.Store, collectionPath string) *CreateBinding {
	return &CreateBinding{store: store, collectionPath: collectionPath, state: newHolder(State[docstore.Document]{})}
}

// State returns the current snapshot.
func (binding *CreateBinding) State() State[docstore.Document] {
	return binding.state.snapshot()
}

// Subscribe registers listener for state changes.
func (binding *CreateBinding) Subscribe(listener Listener[docstore.Document]) func() {
	return binding.state.subscribe(listener)
}

// Create stores data under a generated id.
func (binding *CreateBinding) Create(ctx context.Context, data docstore.Fields) result.Result[docstore.Document] {
	sequence := binding.state.begin()
	outcome := binding.store.Create(ctx, binding.collectionPath, data)
	binding.state.finish(sequence, outcome, docstore.Document{})
	return outcome
}

// UpdateBinding updates one document.
type UpdateBinding struct {
	store          *docstore.Store
	collectionPath string
	documentID     string
	state          *holder[docstore.Document]
}

// Update binds updates of collectionPath/documentID.
func Update(store *docstore.Store, collectionPath string, documentID string) *UpdateBinding {
	return &UpdateBinding{store: store, collectionPath: collectionPath, documentID: documentID, state: newHolder(State[docstore.Document]{})}
}

// State returns the current snapshot.
func (binding *UpdateBinding) State() State[docstore.Document] {
	return binding.state.snapshot()
}

// Subscribe registers listener for state changes.
func (binding *UpdateBinding) Subscribe(listener Listener[docstore.Document]) func() {
	return binding.state.subscribe(listener)
}

// Update merges updates into the bound document.
func (binding *UpdateBinding) Update(ctx context.Context, updates docstore.Fields) result.Result[docstore.Document] {
	sequence := binding.state.begin()
	outcome := binding.store.Update(ctx, binding.collectionPath, binding.documentID, updates)
	binding.state.finish(sequence, outcome, docstore.Document{})
	return outcome
}

// DeleteBinding deletes documents from one collection.
type DeleteBinding struct {
	store          *docstore.Store
	collectionPath string
	state          *holder[docstore.Document]
}

// Delete binds deletions in collectionPath.
func Delete(store *docstore.Store, collectionPath string) *DeleteBinding {
	return &DeleteBinding{store: store, collectionPath: collectionPath, state: newHolder(State[docstore.Document]{})}
}

// State returns the current snapshot.
func (binding *DeleteBinding) State() State[docstore.Document] {
	return binding.state.snapshot()
}

// Subscribe registers listener for state changes.
func (binding *DeleteBinding) Subscribe(listener Listener[docstore.Document]) func() {
	return binding.state.subscribe(listener)
}

// Delete removes documentID.
func (binding *DeleteBinding) Delete(ctx context.Context, documentID string) result.Result[docstore.Document] {
	sequence := binding.state.begin()
	outcome := binding.store.Delete(ctx, binding.collectionPath, documentID)
	binding.state.finish(sequence, outcome, docstore.Document{})
	return outcome
}

// MutationRequest addresses a generic mutation. DocumentID is ignored by create.
type MutationRequest struct {
	CollectionPath string
	DocumentID     string
	Fields         docstore.Fields
}

// MutationBinding runs create, update or delete on demand.
type MutationBinding struct {
	store *docstore.Store
	state *holder[docstore.Document]
}

// Mutation binds generic mutations against store.
func Mutation(store *docstore.Store) *MutationBinding {
	return &MutationBinding{store: store, state: newHolder(State[docstore.Document]{})}
}

// State returns the current snapshot.
func (binding *MutationBinding) State() State[docstore.Document] {
	return binding.state.snapshot()
}

// Subscribe registers listener for state changes.
func (binding *MutationBinding) Subscribe(listener Listener[docstore.Document]) func() {
	return binding.state.subscribe(listener)
}

// Mutate dispatches operation. Unknown operations fail with MessageInvalidOperation.
func (binding *MutationBinding) Mutate(ctx context.Context, operation Operation, request MutationRequest) result.Result[docstore.Document] {
	sequence := binding.state.begin()
	var outcome result.Result[docstore.Document]
	switch operation {
	case OperationCreate:
		outcome = binding.store.Create(ctx, request.CollectionPath, request.Fields)
	case OperationUpdate:
		outcome = binding.store.Update(ctx, request.CollectionPath, request.DocumentID, request.Fields)
	case OperationDelete:
		outcome = binding.store.Delete(ctx, request.CollectionPath, request.DocumentID)
	default:
		outcome = result.Err[docstore.Document](MessageInvalidOperation)
	}
	binding.state.finish(sequence, outcome, docstore.Document{})
	return outcome
}
