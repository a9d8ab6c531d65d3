package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryBackend is an in-process Backend intended for tests and local runs.
type MemoryBackend struct {
	mutex       sync.Mutex
	collections map[string]*memoryCollection
	now         func() time.Time
	newID       func() string
}

type memoryCollection struct {
	order     []string
	documents map[string]Fields
}

// NewMemoryBackend constructs an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		collections: make(map[string]*memoryCollection),
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

// Name implements Backend.
func (backend *MemoryBackend) Name() string {
	return "memory"
}

// Get implements Backend.
func (backend *MemoryBackend) Get(ctx context.Context, collectionPath string, documentID string) (Document, error) {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()

	collection := backend.collections[collectionPath]
	if collection == nil {
		return Document{}, fmt.Errorf("docstore.get.memory: %w", ErrNotFound)
	}
	fields, ok := collection.documents[documentID]
	if !ok {
		return Document{}, fmt.Errorf("docstore.get.memory: %w", ErrNotFound)
	}
	return NewDocument(documentID, fields), nil
}

// Query implements Backend.
func (backend *MemoryBackend) Query(ctx context.Context, collectionPath string, options QueryOptions) ([]Document, error) {
	if err := options.Validate(); err != nil {
		return nil, fmt.Errorf("docstore.query.memory: %w", err)
	}
	backend.mutex.Lock()
	collection := backend.collections[collectionPath]
	matches := make([]Document, 0)
	if collection != nil {
		for _, documentID := range collection.order {
			document := NewDocument(documentID, collection.documents[documentID])
			if matchesAll(document, options.Filters) {
				matches = append(matches, document)
			}
		}
	}
	backend.mutex.Unlock()

	if options.OrderByField != "" {
		ordered := matches[:0]
		for _, document := range matches {
			if _, present := document.Get(options.OrderByField); present {
				ordered = append(ordered, document)
			}
		}
		matches = ordered
		descending := options.Direction() == Descending
		sort.SliceStable(matches, func(left, right int) bool {
			leftValue, _ := matches[left].Get(options.OrderByField)
			rightValue, _ := matches[right].Get(options.OrderByField)
			comparison := compareOrdered(leftValue, rightValue)
			if descending {
				return comparison > 0
			}
			return comparison < 0
		})
	}
	if options.LimitCount > 0 && len(matches) > options.LimitCount {
		matches = matches[:options.LimitCount]
	}
	return matches, nil
}

// Add implements Backend.
func (backend *MemoryBackend) Add(ctx context.Context, collectionPath string, fields Fields) (string, error) {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()

	documentID := backend.newID()
	backend.writeLocked(collectionPath, documentID, backend.resolveLocked(fields))
	return documentID, nil
}

// Set implements Backend.
func (backend *MemoryBackend) Set(ctx context.Context, collectionPath string, documentID string, fields Fields, merge bool) error {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()

	resolved := backend.resolveLocked(fields)
	if merge {
		if collection := backend.collections[collectionPath]; collection != nil {
			if existing, ok := collection.documents[documentID]; ok {
				resolved = mergeFields(existing, resolved)
			}
		}
	}
	backend.writeLocked(collectionPath, documentID, resolved)
	return nil
}

// Update implements Backend.
func (backend *MemoryBackend) Update(ctx context.Context, collectionPath string, documentID string, fields Fields) error {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()

	collection := backend.collections[collectionPath]
	if collection == nil {
		return fmt.Errorf("docstore.update.memory: %w", ErrNotFound)
	}
	existing, ok := collection.documents[documentID]
	if !ok {
		return fmt.Errorf("docstore.update.memory: %w", ErrNotFound)
	}
	updated := existing.Clone()
	for key, value := range backend.resolveLocked(fields) {
		updated[key] = value
	}
	collection.documents[documentID] = updated
	return nil
}

// Delete implements Backend.
func (backend *MemoryBackend) Delete(ctx context.Context, collectionPath string, documentID string) error {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()

	collection := backend.collections[collectionPath]
	if collection == nil {
		return nil
	}
	if _, ok := collection.documents[documentID]; !ok {
		return nil
	}
	delete(collection.documents, documentID)
	for index, candidate := range collection.order {
		if candidate == documentID {
			collection.order = append(collection.order[:index], collection.order[index+1:]...)
			break
		}
	}
	return nil
}

func (backend *MemoryBackend) resolveLocked(fields Fields) Fields {
	stamp := backend.now().UTC()
	return resolveServerTimestamps(fields, func() any { return stamp })
}

func (backend *MemoryBackend) writeLocked(collectionPath string, documentID string, fields Fields) {
	collection := backend.collections[collectionPath]
	if collection == nil {
		collection = &memoryCollection{documents: make(map[string]Fields)}
		backend.collections[collectionPath] = collection
	}
	if _, exists := collection.documents[documentID]; !exists {
		collection.order = append(collection.order, documentID)
	}
	collection.documents[documentID] = fields
}

func matchesAll(document Document, filters []Filter) bool {
	for _, filter := range filters {
		if !matchesFilter(document, filter) {
			return false
		}
	}
	return true
}
