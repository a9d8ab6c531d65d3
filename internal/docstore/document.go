package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// IDField is the key under which a document's identifier is flattened into its JSON form.
const IDField = "id"

// Timestamp field names stamped by the adapter.
const (
	CreatedAtField = "createdAt"
	UpdatedAtField = "updatedAt"
)

// TimestampLayout is the fixed-width UTC layout used when timestamps are stored as text.
// Fixed width keeps lexical order equal to chronological order.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z"

var (
	// ErrInvalidCollectionPath indicates an empty path or one addressing a document instead of a collection.
	ErrInvalidCollectionPath = errors.New("docstore.invalid_collection_path")
	// ErrInvalidDocumentID indicates an empty identifier or one containing a path separator.
	ErrInvalidDocumentID = errors.New("docstore.invalid_document_id")
)

// Fields holds the stored attributes of a document.
type Fields map[string]any

// Clone returns a deep copy of the fields.
func (fields Fields) Clone() Fields {
	if fields == nil {
		return Fields{}
	}
	cloned := make(Fields, len(fields))
	for key, value := range fields {
		cloned[key] = cloneValue(value)
	}
	return cloned
}

// Lookup resolves a dotted field path such as "address.city".
func (fields Fields) Lookup(fieldPath string) (any, bool) {
	var current any = map[string]any(fields)
	for _, segment := range strings.Split(fieldPath, ".") {
		var nested map[string]any
		switch typed := current.(type) {
		case map[string]any:
			nested = typed
		case Fields:
			nested = typed
		default:
			return nil, false
		}
		value, ok := nested[segment]
		if !ok {
			return nil, false
		}
		current = value
	}
	return current, true
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case Fields:
		return map[string]any(typed.Clone())
	case map[string]any:
		return map[string]any(Fields(typed).Clone())
	case []any:
		cloned := make([]any, len(typed))
		for index, element := range typed {
			cloned[index] = cloneValue(element)
		}
		return cloned
	case []string:
		cloned := make([]any, len(typed))
		for index, element := range typed {
			cloned[index] = element
		}
		return cloned
	default:
		return value
	}
}

// Document is a record addressed by collection path and identifier.
type Document struct {
	ID     string
	Fields Fields
}

// NewDocument builds a document whose fields are a copy of the given ones.
func NewDocument(id string, fields Fields) Document {
	return Document{ID: id, Fields: fields.Clone()}
}

// Get returns the value at a dotted field path.
func (document Document) Get(fieldPath string) (any, bool) {
	return document.Fields.Lookup(fieldPath)
}

// MarshalJSON flattens the document into {"id": ..., ...fields}.
func (document Document) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(document.Fields)+1)
	for key, value := range document.Fields {
		flat[key] = value
	}
	flat[IDField] = document.ID
	return json.Marshal(flat)
}

// UnmarshalJSON reads the flattened form produced by MarshalJSON.
func (document *Document) UnmarshalJSON(payload []byte) error {
	var flat map[string]any
	if err := json.Unmarshal(payload, &flat); err != nil {
		return err
	}
	identifier, _ := flat[IDField].(string)
	delete(flat, IDField)
	document.ID = identifier
	document.Fields = Fields(flat)
	return nil
}

// JoinPath joins path segments with "/".
func JoinPath(segments ...string) string {
	trimmed := make([]string, 0, len(segments))
	for _, segment := range segments {
		segment = strings.Trim(segment, "/")
		if segment != "" {
			trimmed = append(trimmed, segment)
		}
	}
	return strings.Join(trimmed, "/")
}

// ValidateCollectionPath checks that path names a collection: an odd number of non-empty segments.
func ValidateCollectionPath(collectionPath string) error {
	if strings.TrimSpace(collectionPath) == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidCollectionPath)
	}
	segments := strings.Split(collectionPath, "/")
	for _, segment := range segments {
		if strings.TrimSpace(segment) == "" {
			return fmt.Errorf("%w: %q has an empty segment", ErrInvalidCollectionPath, collectionPath)
		}
	}
	if len(segments)%2 == 0 {
		return fmt.Errorf("%w: %q addresses a document", ErrInvalidCollectionPath, collectionPath)
	}
	return nil
}

// ValidateDocumentID checks that id is a single non-empty path segment.
func ValidateDocumentID(documentID string) error {
	if strings.TrimSpace(documentID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidDocumentID)
	}
	if strings.Contains(documentID, "/") {
		return fmt.Errorf("%w: %q contains '/'", ErrInvalidDocumentID, documentID)
	}
	return nil
}

type serverTimestamp struct{}

// ServerTimestamp is a placeholder value that backends replace with their own clock at write time.
var ServerTimestamp any = serverTimestamp{}

// IsServerTimestamp reports whether value is the ServerTimestamp placeholder.
func IsServerTimestamp(value any) bool {
	_, ok := value.(serverTimestamp)
	return ok
}

// resolveServerTimestamps returns a copy of fields with every placeholder replaced by resolve().
func resolveServerTimestamps(fields Fields, resolve func() any) Fields {
	resolved := make(Fields, len(fields))
	for key, value := range fields {
		resolved[key] = resolveValue(value, resolve)
	}
	return resolved
}

func resolveValue(value any, resolve func() any) any {
	switch typed := value.(type) {
	case serverTimestamp:
		return resolve()
	case Fields:
		return map[string]any(resolveServerTimestamps(typed, resolve))
	case map[string]any:
		return map[string]any(resolveServerTimestamps(Fields(typed), resolve))
	case []any:
		resolved := make([]any, len(typed))
		for index, element := range typed {
			resolved[index] = resolveValue(element, resolve)
		}
		return resolved
	default:
		return cloneValue(value)
	}
}

// FormatTimestamp renders t with TimestampLayout in UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
