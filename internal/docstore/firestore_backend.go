package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreBackend delegates every call to Cloud Firestore.
type FirestoreBackend struct {
	client *firestore.Client
}

// NewFirestoreBackend opens a Firestore client for projectID.
func NewFirestoreBackend(ctx context.Context, projectID string, options ...option.ClientOption) (*FirestoreBackend, error) {
	if projectID == "" {
		return nil, errors.New("docstore.firestore: project id is required")
	}
	client, err := firestore.NewClient(ctx, projectID, options...)
	if err != nil {
		return nil, fmt.Errorf("docstore.firestore.open: %w", err)
	}
	return &FirestoreBackend{client: client}, nil
}

// NewFirestoreBackendFromClient wraps an existing client.
func NewFirestoreBackendFromClient(client *firestore.Client) *FirestoreBackend {
	return &FirestoreBackend{client: client}
}

// fieldPath splits a dotted path into segments so names like "first-name" need no backtick quoting.
func fieldPath(dotted string) firestore.FieldPath {
	return firestore.FieldPath(strings.Split(dotted, "."))
}

// Close releases the client.
func (backend *FirestoreBackend) Close() error {
	return backend.client.Close()
}

// Name implements Backend.
func (backend *FirestoreBackend) Name() string {
	return "firestore"
}

func (backend *FirestoreBackend) collection(collectionPath string) (*firestore.CollectionRef, error) {
	collection := backend.client.Collection(collectionPath)
	if collection == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCollectionPath, collectionPath)
	}
	return collection, nil
}

// Get implements Backend.
func (backend *FirestoreBackend) Get(ctx context.Context, collectionPath string, documentID string) (Document, error) {
	collection, err := backend.collection(collectionPath)
	if err != nil {
		return Document{}, fmt.Errorf("docstore.get.firestore: %w", err)
	}
	snapshot, getErr := collection.Doc(documentID).Get(ctx)
	if status.Code(getErr) == codes.NotFound || (getErr == nil && !snapshot.Exists()) {
		return Document{}, fmt.Errorf("docstore.get.firestore: %w", ErrNotFound)
	}
	if getErr != nil {
		return Document{}, fmt.Errorf("docstore.get.firestore: %w", getErr)
	}
	return Document{ID: snapshot.Ref.ID, Fields: Fields(snapshot.Data())}, nil
}

// Query implements Backend.
func (backend *FirestoreBackend) Query(ctx context.Context, collectionPath string, options QueryOptions) ([]Document, error) {
	if err := options.Validate(); err != nil {
		return nil, fmt.Errorf("docstore.query.firestore: %w", err)
	}
	collection, err := backend.collection(collectionPath)
	if err != nil {
		return nil, fmt.Errorf("docstore.query.firestore: %w", err)
	}
	query := collection.Query
	for _, filter := range options.Filters {
		query = query.WherePath(fieldPath(filter.Field), string(filter.Operator), firestoreValue(filter.Value))
	}
	if options.OrderByField != "" {
		direction := firestore.Asc
		if options.Direction() == Descending {
			direction = firestore.Desc
		}
		query = query.OrderByPath(fieldPath(options.OrderByField), direction)
	}
	if options.LimitCount > 0 {
		query = query.Limit(options.LimitCount)
	}
	snapshots, queryErr := query.Documents(ctx).GetAll()
	if queryErr != nil {
		return nil, fmt.Errorf("docstore.query.firestore: %w", queryErr)
	}
	documents := make([]Document, 0, len(snapshots))
	for _, snapshot := range snapshots {
		documents = append(documents, Document{ID: snapshot.Ref.ID, Fields: Fields(snapshot.Data())})
	}
	return documents, nil
}

// Add implements Backend.
func (backend *FirestoreBackend) Add(ctx context.Context, collectionPath string, fields Fields) (string, error) {
	collection, err := backend.collection(collectionPath)
	if err != nil {
		return "", fmt.Errorf("docstore.add.firestore: %w", err)
	}
	reference := collection.NewDoc()
	if _, createErr := reference.Create(ctx, firestoreFields(fields)); createErr != nil {
		return "", fmt.Errorf("docstore.add.firestore: %w", createErr)
	}
	return reference.ID, nil
}

// Set implements Backend.
func (backend *FirestoreBackend) Set(ctx context.Context, collectionPath string, documentID string, fields Fields, merge bool) error {
	collection, err := backend.collection(collectionPath)
	if err != nil {
		return fmt.Errorf("docstore.set.firestore: %w", err)
	}
	reference := collection.Doc(documentID)
	var setErr error
	if merge {
		_, setErr = reference.Set(ctx, firestoreFields(fields), firestore.MergeAll)
	} else {
		_, setErr = reference.Set(ctx, firestoreFields(fields))
	}
	if setErr != nil {
		return fmt.Errorf("docstore.set.firestore: %w", setErr)
	}
	return nil
}

// Update implements Backend.
func (backend *FirestoreBackend) Update(ctx context.Context, collectionPath string, documentID string, fields Fields) error {
	collection, err := backend.collection(collectionPath)
	if err != nil {
		return fmt.Errorf("docstore.update.firestore: %w", err)
	}
	updates := make([]firestore.Update, 0, len(fields))
	for key, value := range fields {
		updates = append(updates, firestore.Update{FieldPath: firestore.FieldPath{key}, Value: firestoreValue(value)})
	}
	_, updateErr := collection.Doc(documentID).Update(ctx, updates)
	if status.Code(updateErr) == codes.NotFound {
		return fmt.Errorf("docstore.update.firestore: %w", ErrNotFound)
	}
	if updateErr != nil {
		return fmt.Errorf("docstore.update.firestore: %w", updateErr)
	}
	return nil
}

// Delete implements Backend.
func (backend *FirestoreBackend) Delete(ctx context.Context, collectionPath string, documentID string) error {
	collection, err := backend.collection(collectionPath)
	if err != nil {
		return fmt.Errorf("docstore.delete.firestore: %w", err)
	}
	if _, deleteErr := collection.Doc(documentID).Delete(ctx); deleteErr != nil {
		return fmt.Errorf("docstore.delete.firestore: %w", deleteErr)
	}
	return nil
}

func firestoreFields(fields Fields) map[string]interface{} {
	converted := make(map[string]interface{}, len(fields))
	for key, value := range fields {
		converted[key] = firestoreValue(value)
	}
	return converted
}

func firestoreValue(value any) any {
	switch typed := value.(type) {
	case serverTimestamp:
		return firestore.ServerTimestamp
	case Fields:
		return firestoreFields(typed)
	case map[string]any:
		return firestoreFields(Fields(typed))
	case []any:
		converted := make([]any, len(typed))
		for index, element := range typed {
			converted[index] = firestoreValue(element)
		}
		return converted
	default:
		return value
	}
}
