// Package docstore is the document-store adapter: it normalizes every
// create/read/update/delete/query call against a Backend into a
// result.Result and never lets a backend failure escape as an error or panic.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tyemirov/tbase/internal/result"
	"go.uber.org/zap"
)

// Messages surfaced for distinguished failures.
const (
	MessageDocumentNotFound = "Document not found"
	messageNoDocumentUpdate = "No document to update: %s/%s"
	messageInvalidPrefix    = "Invalid "
)

// IsNotFound reports whether a failed result's message means the document is missing.
func IsNotFound(message string) bool {
	return message == MessageDocumentNotFound || strings.HasPrefix(message, "No document to update: ")
}

// IsInvalidInput reports whether a failed result's message means the path, id or query was rejected.
func IsInvalidInput(message string) bool {
	return strings.HasPrefix(message, messageInvalidPrefix)
}

// Store adapts a Backend into Result-returning operations.
type Store struct {
	backend Backend
	logger  *zap.Logger
}

// NewStore constructs a Store. A nil logger is replaced by a no-op logger.
func NewStore(backend Backend, logger *zap.Logger) *Store {
	if backend == nil {
		panic("document backend is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{backend: backend, logger: logger}
}

// Backend exposes the underlying backend.
func (store *Store) Backend() Backend {
	return store.backend
}

// Create stores data under a generated id, stamping createdAt and updatedAt with the
// backend's clock, and returns {id, ...data}.
func (store *Store) Create(ctx context.Context, collectionPath string, data Fields) (outcome result.Result[Document]) {
	defer store.recoverPanic("create", collectionPath, &outcome)
	if err := ValidateCollectionPath(collectionPath); err != nil {
		return failWith[Document](store, "create", collectionPath, "", err)
	}
	stored := data.Clone()
	stored[CreatedAtField] = ServerTimestamp
	stored[UpdatedAtField] = ServerTimestamp
	documentID, err := store.backend.Add(ctx, collectionPath, stored)
	if err != nil {
		return failWith[Document](store, "create", collectionPath, "", err)
	}
	return result.Ok(NewDocument(documentID, data))
}

// CreateWithID stores data at documentID. With merge false any existing document is overwritten.
func (store *Store) CreateWithID(ctx context.Context, collectionPath string, documentID string, data Fields, merge bool) (outcome result.Result[Document]) {
	defer store.recoverPanic("create_with_id", collectionPath, &outcome)
	if err := validateAddress(collectionPath, documentID); err != nil {
		return failWith[Document](store, "create_with_id", collectionPath, documentID, err)
	}
	stored := data.Clone()
	stored[CreatedAtField] = ServerTimestamp
	stored[UpdatedAtField] = ServerTimestamp
	if err := store.backend.Set(ctx, collectionPath, documentID, stored, merge); err != nil {
		return failWith[Document](store, "create_with_id", collectionPath, documentID, err)
	}
	return result.Ok(NewDocument(documentID, data))
}

// Read returns the document or Err("Document not found").
func (store *Store) Read(ctx context.Context, collectionPath string, documentID string) (outcome result.Result[Document]) {
	defer store.recoverPanic("read", collectionPath, &outcome)
	if err := validateAddress(collectionPath, documentID); err != nil {
		return failWith[Document](store, "read", collectionPath, documentID, err)
	}
	document, err := store.backend.Get(ctx, collectionPath, documentID)
	if errors.Is(err, ErrNotFound) {
		return result.Err[Document](MessageDocumentNotFound)
	}
	if err != nil {
		return failWith[Document](store, "read", collectionPath, documentID, err)
	}
	return result.Ok(document)
}

// ReadCollection runs options against the backend's native query.
func (store *Store) ReadCollection(ctx context.Context, collectionPath string, options QueryOptions) (outcome result.Result[[]Document]) {
	defer store.recoverPanic("read_collection", collectionPath, &outcome)
	if err := ValidateCollectionPath(collectionPath); err != nil {
		return failWith[[]Document](store, "read_collection", collectionPath, "", err)
	}
	if err := options.Validate(); err != nil {
		return failWith[[]Document](store, "read_collection", collectionPath, "", err)
	}
	documents, err := store.backend.Query(ctx, collectionPath, options)
	if err != nil {
		return failWith[[]Document](store, "read_collection", collectionPath, "", err)
	}
	if documents == nil {
		documents = []Document{}
	}
	return result.Ok(documents)
}

// Update merges fields into an existing document and stamps updatedAt.
// It fails when the document does not exist.
func (store *Store) Update(ctx context.Context, collectionPath string, documentID string, fields Fields) (outcome result.Result[Document]) {
	defer store.recoverPanic("update", collectionPath, &outcome)
	if err := validateAddress(collectionPath, documentID); err != nil {
		return failWith[Document](store, "update", collectionPath, documentID, err)
	}
	stored := fields.Clone()
	stored[UpdatedAtField] = ServerTimestamp
	err := store.backend.Update(ctx, collectionPath, documentID, stored)
	if errors.Is(err, ErrNotFound) {
		store.logFailure("update", collectionPath, documentID, err)
		return result.Err[Document](fmt.Sprintf(messageNoDocumentUpdate, collectionPath, documentID))
	}
	if err != nil {
		return failWith[Document](store, "update", collectionPath, documentID, err)
	}
	return result.Ok(NewDocument(documentID, fields))
}

// Upsert merge-writes data, creating the document when absent.
func (store *Store) Upsert(ctx context.Context, collectionPath string, documentID string, data Fields) (outcome result.Result[Document]) {
	defer store.recoverPanic("upsert", collectionPath, &outcome)
	if err := validateAddress(collectionPath, documentID); err != nil {
		return failWith[Document](store, "upsert", collectionPath, documentID, err)
	}
	stored := data.Clone()
	stored[UpdatedAtField] = ServerTimestamp
	if err := store.backend.Set(ctx, collectionPath, documentID, stored, true); err != nil {
		return failWith[Document](store, "upsert", collectionPath, documentID, err)
	}
	return result.Ok(NewDocument(documentID, data))
}

// Delete removes a document; deleting a missing document succeeds.
func (store *Store) Delete(ctx context.Context, collectionPath string, documentID string) (outcome result.Result[Document]) {
	defer store.recoverPanic("delete", collectionPath, &outcome)
	if err := validateAddress(collectionPath, documentID); err != nil {
		return failWith[Document](store, "delete", collectionPath, documentID, err)
	}
	if err := store.backend.Delete(ctx, collectionPath, documentID); err != nil {
		return failWith[Document](store, "delete", collectionPath, documentID, err)
	}
	return result.Ok(Document{ID: documentID, Fields: Fields{}})
}

// CreateSub creates a document in the subcollection name under parentPath.
func (store *Store) CreateSub(ctx context.Context, parentPath string, name string, data Fields) result.Result[Document] {
	return store.Create(ctx, JoinPath(parentPath, name), data)
}

// ReadSubCollection queries the subcollection name under parentPath.
func (store *Store) ReadSubCollection(ctx context.Context, parentPath string, name string, options QueryOptions) result.Result[[]Document] {
	return store.ReadCollection(ctx, JoinPath(parentPath, name), options)
}

// Exists reports whether Read finds the document. Failures count as absent.
func (store *Store) Exists(ctx context.Context, collectionPath string, documentID string) bool {
	return store.Read(ctx, collectionPath, documentID).Success
}

// Count fetches every match and reports how many there are. Failures count as zero.
// TODO: switch to a server-side aggregate once Backend exposes one.
func (store *Store) Count(ctx context.Context, collectionPath string, options QueryOptions) int {
	outcome := store.ReadCollection(ctx, collectionPath, options)
	if !outcome.Success {
		return 0
	}
	return len(outcome.Data)
}

func validateAddress(collectionPath string, documentID string) error {
	if err := ValidateCollectionPath(collectionPath); err != nil {
		return err
	}
	return ValidateDocumentID(documentID)
}

func failWith[T any](store *Store, operation string, collectionPath string, documentID string, err error) result.Result[T] {
	store.logFailure(operation, collectionPath, documentID, err)
	return result.Err[T](describeError(err))
}

func (store *Store) logFailure(operation string, collectionPath string, documentID string, err error) {
	store.logger.Error("document operation failed",
		zap.String("code", "docstore."+operation+".failed"),
		zap.String("backend", store.backend.Name()),
		zap.String("collection", collectionPath),
		zap.String("document_id", documentID),
		zap.Error(err))
}

func (store *Store) recoverPanic(operation string, collectionPath string, outcome any) {
	recovered := recover()
	if recovered == nil {
		return
	}
	store.logger.Error("document operation panicked",
		zap.String("code", "docstore."+operation+".panic"),
		zap.String("collection", collectionPath),
		zap.Any("panic", recovered))
	message := fmt.Sprintf("%s failed: %v", operation, recovered)
	switch typed := outcome.(type) {
	case *result.Result[Document]:
		*typed = result.Err[Document](message)
	case *result.Result[[]Document]:
		*typed = result.Err[[]Document](message)
	}
}

func describeError(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCollectionPath):
		return "Invalid collection path"
	case errors.Is(err, ErrInvalidDocumentID):
		return "Invalid document id"
	case errors.Is(err, ErrInvalidQuery):
		return "Invalid query: " + detailAfter(err.Error(), ErrInvalidQuery.Error()+": ")
	case errors.Is(err, ErrNotFound):
		return MessageDocumentNotFound
	default:
		return unwrapMessage(err)
	}
}

// unwrapMessage drops the dotted operation prefixes added while wrapping.
func unwrapMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

func detailAfter(message string, marker string) string {
	if index := strings.Index(message, marker); index >= 0 {
		return message[index+len(marker):]
	}
	return message
}
