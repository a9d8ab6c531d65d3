package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tyemirov/tbase/internal/database"
	"gorm.io/gorm"
)

// DatabaseBackend stores documents as JSON rows through GORM (sqlite or postgres).
type DatabaseBackend struct {
	db          *gorm.DB
	driverLabel string
	dialect     sqlDialect
	now         func() time.Time
	newID       func() string
}

type documentRecord struct {
	Sequence       uint64 `gorm:"column:sequence;primaryKey;autoIncrement"`
	CollectionPath string `gorm:"column:collection_path;not null;uniqueIndex:idx_documents_path_id,priority:1"`
	DocumentID     string `gorm:"column:document_id;not null;uniqueIndex:idx_documents_path_id,priority:2"`
	Data           string `gorm:"column:data;not null"`
	CreatedAtUnix  int64  `gorm:"column:created_at_unix;not null"`
	UpdatedAtUnix  int64  `gorm:"column:updated_at_unix;not null"`
}

func (documentRecord) TableName() string {
	return "documents"
}

// NewDatabaseBackend migrates the documents table on handle and returns the backend.
func NewDatabaseBackend(ctx context.Context, handle *database.Handle) (*DatabaseBackend, error) {
	if handle == nil || handle.DB == nil {
		return nil, errors.New("docstore.database: nil handle")
	}
	var dialect sqlDialect
	switch handle.Driver {
	case database.DriverSQLite:
		dialect = sqliteDialect{}
	case database.DriverPostgres:
		dialect = postgresDialect{}
	default:
		return nil, fmt.Errorf("docstore.database.%s: %w", handle.Driver, database.ErrUnsupportedDialect)
	}
	if err := handle.Migrate(ctx, &documentRecord{}); err != nil {
		return nil, err
	}
	return &DatabaseBackend{
		db:          handle.DB,
		driverLabel: handle.Driver,
		dialect:     dialect,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}, nil
}

// Name implements Backend.
func (backend *DatabaseBackend) Name() string {
	return "database." + backend.driverLabel
}

// Get implements Backend.
func (backend *DatabaseBackend) Get(ctx context.Context, collectionPath string, documentID string) (Document, error) {
	record, err := findRecord(backend.db.WithContext(ctx), collectionPath, documentID)
	if err != nil {
		return Document{}, fmt.Errorf("docstore.get.%s: %w", backend.driverLabel, err)
	}
	fields, decodeErr := decodeFields(record.Data)
	if decodeErr != nil {
		return Document{}, fmt.Errorf("docstore.get.%s: %w", backend.driverLabel, decodeErr)
	}
	return Document{ID: record.DocumentID, Fields: fields}, nil
}

// Query implements Backend.
func (backend *DatabaseBackend) Query(ctx context.Context, collectionPath string, options QueryOptions) ([]Document, error) {
	if err := options.Validate(); err != nil {
		return nil, fmt.Errorf("docstore.query.%s: %w", backend.driverLabel, err)
	}
	statement := backend.db.WithContext(ctx).Model(&documentRecord{}).Where("collection_path = ?", collectionPath)
	for _, filter := range options.Filters {
		if err := validateFieldPath(filter.Field); err != nil {
			return nil, fmt.Errorf("docstore.query.%s: %w", backend.driverLabel, err)
		}
		clause, arguments, err := backend.dialect.condition(filter)
		if err != nil {
			return nil, fmt.Errorf("docstore.query.%s: %w", backend.driverLabel, err)
		}
		statement = statement.Where(clause, arguments...)
	}
	if options.OrderByField != "" {
		if err := validateFieldPath(options.OrderByField); err != nil {
			return nil, fmt.Errorf("docstore.query.%s: %w", backend.driverLabel, err)
		}
		direction := "ASC"
		if options.Direction() == Descending {
			direction = "DESC"
		}
		statement = statement.
			Where(backend.dialect.presence(options.OrderByField)).
			Order(backend.dialect.fieldExpression(options.OrderByField) + " " + direction)
	}
	statement = statement.Order("sequence ASC")
	if options.LimitCount > 0 {
		statement = statement.Limit(options.LimitCount)
	}
	var records []documentRecord
	if err := statement.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("docstore.query.%s: %w", backend.driverLabel, err)
	}
	documents := make([]Document, 0, len(records))
	for _, record := range records {
		fields, decodeErr := decodeFields(record.Data)
		if decodeErr != nil {
			return nil, fmt.Errorf("docstore.query.%s: %w", backend.driverLabel, decodeErr)
		}
		documents = append(documents, Document{ID: record.DocumentID, Fields: fields})
	}
	return documents, nil
}

// Add implements Backend.
func (backend *DatabaseBackend) Add(ctx context.Context, collectionPath string, fields Fields) (string, error) {
	now := backend.now()
	encoded, err := encodeFields(backend.resolve(fields, now))
	if err != nil {
		return "", fmt.Errorf("docstore.add.%s: %w", backend.driverLabel, err)
	}
	record := documentRecord{
		CollectionPath: collectionPath,
		DocumentID:     backend.newID(),
		Data:           encoded,
		CreatedAtUnix:  now.Unix(),
		UpdatedAtUnix:  now.Unix(),
	}
	if createErr := backend.db.WithContext(ctx).Create(&record).Error; createErr != nil {
		return "", fmt.Errorf("docstore.add.%s: %w", backend.driverLabel, createErr)
	}
	return record.DocumentID, nil
}

// Set implements Backend.
func (backend *DatabaseBackend) Set(ctx context.Context, collectionPath string, documentID string, fields Fields, merge bool) error {
	now := backend.now()
	resolved := backend.resolve(fields, now)
	err := backend.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		existing, findErr := findRecord(transaction, collectionPath, documentID)
		if errors.Is(findErr, ErrNotFound) {
			encoded, encodeErr := encodeFields(resolved)
			if encodeErr != nil {
				return encodeErr
			}
			return transaction.Create(&documentRecord{
				CollectionPath: collectionPath,
				DocumentID:     documentID,
				Data:           encoded,
				CreatedAtUnix:  now.Unix(),
				UpdatedAtUnix:  now.Unix(),
			}).Error
		}
		if findErr != nil {
			return findErr
		}
		next := resolved
		if merge {
			current, decodeErr := decodeFields(existing.Data)
			if decodeErr != nil {
				return decodeErr
			}
			next = mergeFields(current, resolved)
		}
		return writeRecord(transaction, existing, next, now)
	})
	if err != nil {
		return fmt.Errorf("docstore.set.%s: %w", backend.driverLabel, err)
	}
	return nil
}

// Update implements Backend.
func (backend *DatabaseBackend) Update(ctx context.Context, collectionPath string, documentID string, fields Fields) error {
	now := backend.now()
	resolved := backend.resolve(fields, now)
	err := backend.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		existing, findErr := findRecord(transaction, collectionPath, documentID)
		if findErr != nil {
			return findErr
		}
		current, decodeErr := decodeFields(existing.Data)
		if decodeErr != nil {
			return decodeErr
		}
		for key, value := range resolved {
			current[key] = value
		}
		return writeRecord(transaction, existing, current, now)
	})
	if err != nil {
		return fmt.Errorf("docstore.update.%s: %w", backend.driverLabel, err)
	}
	return nil
}

// Delete implements Backend.
func (backend *DatabaseBackend) Delete(ctx context.Context, collectionPath string, documentID string) error {
	err := backend.db.WithContext(ctx).
		Where("collection_path = ? AND document_id = ?", collectionPath, documentID).
		Delete(&documentRecord{}).Error
	if err != nil {
		return fmt.Errorf("docstore.delete.%s: %w", backend.driverLabel, err)
	}
	return nil
}

func (backend *DatabaseBackend) resolve(fields Fields, now time.Time) Fields {
	stamp := FormatTimestamp(now)
	return resolveServerTimestamps(fields, func() any { return stamp })
}

func findRecord(db *gorm.DB, collectionPath string, documentID string) (documentRecord, error) {
	var record documentRecord
	err := db.Where("collection_path = ? AND document_id = ?", collectionPath, documentID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return documentRecord{}, ErrNotFound
	}
	return record, err
}

func writeRecord(db *gorm.DB, existing documentRecord, fields Fields, now time.Time) error {
	encoded, err := encodeFields(fields)
	if err != nil {
		return err
	}
	return db.Model(&documentRecord{}).
		Where("sequence = ?", existing.Sequence).
		Updates(map[string]any{"data": encoded, "updated_at_unix": now.Unix()}).Error
}

func encodeFields(fields Fields) (string, error) {
	encoded, err := json.Marshal(storageValue(map[string]any(fields)))
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// decodeFields keeps numbers as json.Number so integers beyond 2^53 survive a round trip.
func decodeFields(data string) (Fields, error) {
	decoder := json.NewDecoder(strings.NewReader(data))
	decoder.UseNumber()
	fields := Fields{}
	if err := decoder.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// storageValue rewrites values into their JSON storage form: timestamps become fixed-width text.
func storageValue(value any) any {
	switch typed := value.(type) {
	case time.Time:
		return FormatTimestamp(typed)
	case *time.Time:
		if typed == nil {
			return nil
		}
		return FormatTimestamp(*typed)
	case Fields:
		return storageValue(map[string]any(typed))
	case map[string]any:
		converted := make(map[string]any, len(typed))
		for key, element := range typed {
			converted[key] = storageValue(element)
		}
		return converted
	case []any:
		converted := make([]any, len(typed))
		for index, element := range typed {
			converted[index] = storageValue(element)
		}
		return converted
	default:
		if values := listValues(value); values != nil {
			return storageValue(values)
		}
		return value
	}
}
