package docstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates that no document exists at the requested path and id.
	ErrNotFound = errors.New("docstore.not_found")
)

// Backend is the remote document platform the Store adapter delegates to.
// Implementations resolve ServerTimestamp placeholders with their own clock.
type Backend interface {
	// Get returns the document or an error wrapping ErrNotFound.
	Get(ctx context.Context, collectionPath string, documentID string) (Document, error)
	// Query executes options natively and returns matches in query order.
	Query(ctx context.Context, collectionPath string, options QueryOptions) ([]Document, error)
	// Add stores fields under a generated identifier and returns it.
	Add(ctx context.Context, collectionPath string, fields Fields) (string, error)
	// Set writes fields at documentID, replacing the document unless merge is true.
	Set(ctx context.Context, collectionPath string, documentID string, fields Fields, merge bool) error
	// Update merges fields into an existing document or fails with ErrNotFound.
	Update(ctx context.Context, collectionPath string, documentID string, fields Fields) error
	// Delete removes the document. Deleting a missing document succeeds.
	Delete(ctx context.Context, collectionPath string, documentID string) error
	// Name labels the backend in logs.
	Name() string
}

// mergeFields deep-merges patch into base, descending into nested maps.
func mergeFields(base Fields, patch Fields) Fields {
	merged := base.Clone()
	for key, value := range patch {
		patchMap, patchIsMap := asMap(value)
		existingMap, existingIsMap := asMap(merged[key])
		if patchIsMap && existingIsMap {
			merged[key] = map[string]any(mergeFields(Fields(existingMap), Fields(patchMap)))
			continue
		}
		merged[key] = cloneValue(value)
	}
	return merged
}

func asMap(value any) (map[string]any, bool) {
	switch typed := value.(type) {
	case map[string]any:
		return typed, true
	case Fields:
		return typed, true
	default:
		return nil, false
	}
}
