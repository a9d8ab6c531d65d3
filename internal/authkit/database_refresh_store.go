package authkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tyemirov/tbase/internal/database"
	"gorm.io/gorm"
)

var errNilDatabaseHandle = errors.New("refresh_store.nil_handle")

// DatabaseRefreshTokenStore persists rotating refresh tokens in the shared database.
type DatabaseRefreshTokenStore struct {
	db          *gorm.DB
	driverLabel string
	now         func() time.Time
}

type refreshTokenRecord struct {
	TokenID         string `gorm:"column:token_id;primaryKey"`
	UserID          string `gorm:"column:user_id;index;not null"`
	TokenHash       string `gorm:"column:token_hash;uniqueIndex;not null"`
	ExpiresUnix     int64  `gorm:"column:expires_unix;not null"`
	RevokedAtUnix   int64  `gorm:"column:revoked_at_unix;not null;default:0"`
	PreviousTokenID string `gorm:"column:previous_token_id;not null;default:''"`
	IssuedAtUnix    int64  `gorm:"column:issued_at_unix;not null"`
}

func (refreshTokenRecord) TableName() string {
	return "refresh_tokens"
}

func (record *refreshTokenRecord) usable(now time.Time) error {
	if record.RevokedAtUnix != 0 {
		return ErrRefreshTokenRevoked
	}
	if time.Unix(record.ExpiresUnix, 0).Before(now) {
		return ErrRefreshTokenExpired
	}
	return nil
}

// NewDatabaseRefreshTokenStore migrates the refresh_tokens table on handle.
func NewDatabaseRefreshTokenStore(ctx context.Context, handle *database.Handle) (*DatabaseRefreshTokenStore, error) {
	if handle == nil || handle.DB == nil {
		return nil, fmt.Errorf("refresh_store.open: %w", errNilDatabaseHandle)
	}
	if err := handle.Migrate(ctx, &refreshTokenRecord{}); err != nil {
		return nil, fmt.Errorf("refresh_store.migrate: %w", err)
	}
	return &DatabaseRefreshTokenStore{
		db:          handle.DB,
		driverLabel: handle.Driver,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// Driver exposes the selected database driver label.
func (store *DatabaseRefreshTokenStore) Driver() string {
	return store.driverLabel
}

// Issue inserts a new refresh token record and returns its identifiers.
func (store *DatabaseRefreshTokenStore) Issue(ctx context.Context, uid string, expiresUnix int64, previousTokenID string) (string, string, error) {
	opaqueToken, hashValue, randomErr := generateRefreshOpaque()
	if randomErr != nil {
		return "", "", fmt.Errorf("refresh_store.issue.%s: %w", store.driverLabel, randomErr)
	}
	record := refreshTokenRecord{
		TokenID:         newRefreshTokenID(),
		UserID:          uid,
		TokenHash:       hashValue,
		ExpiresUnix:     expiresUnix,
		PreviousTokenID: previousTokenID,
		IssuedAtUnix:    store.now().Unix(),
	}
	if err := store.db.WithContext(ctx).Create(&record).Error; err != nil {
		return "", "", fmt.Errorf("refresh_store.issue.%s: %w", store.driverLabel, err)
	}
	return record.TokenID, opaqueToken, nil
}

// Validate locates a refresh token by its opaque value.
func (store *DatabaseRefreshTokenStore) Validate(ctx context.Context, tokenOpaque string) (string, string, int64, error) {
	if strings.TrimSpace(tokenOpaque) == "" {
		return "", "", 0, fmt.Errorf("refresh_store.validate.%s: %w", store.driverLabel, ErrRefreshTokenEmptyOpaque)
	}
	var record refreshTokenRecord
	err := store.db.WithContext(ctx).Where("token_hash = ?", hashOpaque(tokenOpaque)).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", "", 0, fmt.Errorf("refresh_store.validate.%s: %w", store.driverLabel, ErrRefreshTokenNotFound)
	}
	if err != nil {
		return "", "", 0, fmt.Errorf("refresh_store.validate.%s: %w", store.driverLabel, err)
	}
	if usableErr := record.usable(store.now()); usableErr != nil {
		return "", "", 0, fmt.Errorf("refresh_store.validate.%s: %w", store.driverLabel, usableErr)
	}
	return record.UserID, record.TokenID, record.ExpiresUnix, nil
}

// Revoke marks a refresh token as revoked.
func (store *DatabaseRefreshTokenStore) Revoke(ctx context.Context, tokenID string) error {
	update := store.db.WithContext(ctx).Model(&refreshTokenRecord{}).
		Where("token_id = ? AND revoked_at_unix = 0", tokenID).
		Update("revoked_at_unix", store.now().Unix())
	if update.Error != nil {
		return fmt.Errorf("refresh_store.revoke.%s: %w", store.driverLabel, update.Error)
	}
	if update.RowsAffected > 0 {
		return nil
	}
	var record refreshTokenRecord
	findErr := store.db.WithContext(ctx).Where("token_id = ?", tokenID).Take(&record).Error
	switch {
	case errors.Is(findErr, gorm.ErrRecordNotFound):
		return fmt.Errorf("refresh_store.revoke.%s: %w", store.driverLabel, ErrRefreshTokenNotFound)
	case findErr != nil:
		return fmt.Errorf("refresh_store.revoke.%s: %w", store.driverLabel, findErr)
	default:
		return fmt.Errorf("refresh_store.revoke.%s: %w", store.driverLabel, ErrRefreshTokenAlreadyRevoked)
	}
}

// RevokeAll revokes every unrevoked token issued to uid.
func (store *DatabaseRefreshTokenStore) RevokeAll(ctx context.Context, uid string) (int, error) {
	update := store.db.WithContext(ctx).Model(&refreshTokenRecord{}).
		Where("user_id = ? AND revoked_at_unix = 0", uid).
		Update("revoked_at_unix", store.now().Unix())
	if update.Error != nil {
		return 0, fmt.Errorf("refresh_store.revoke_all.%s: %w", store.driverLabel, update.Error)
	}
	return int(update.RowsAffected), nil
}
