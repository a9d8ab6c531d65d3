package authkit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryRefreshTokenStore keeps refresh tokens in process memory; tokens do not
// survive a restart.
type MemoryRefreshTokenStore struct {
	mutex  sync.Mutex
	byID   map[string]*refreshTokenRecord
	byHash map[string]string
	now    func() time.Time
}

// NewMemoryRefreshTokenStore creates an empty in-memory token store.
func NewMemoryRefreshTokenStore() *MemoryRefreshTokenStore {
	return &MemoryRefreshTokenStore{
		byID:   make(map[string]*refreshTokenRecord),
		byHash: make(map[string]string),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Issue creates a new token, optionally linked to the token it rotates.
func (store *MemoryRefreshTokenStore) Issue(ctx context.Context, uid string, expiresUnix int64, previousTokenID string) (string, string, error) {
	opaque, hashValue, err := generateRefreshOpaque()
	if err != nil {
		return "", "", fmt.Errorf("refresh_store.issue.memory: %w", err)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	record := &refreshTokenRecord{
		TokenID:         newRefreshTokenID(),
		UserID:          uid,
		TokenHash:       hashValue,
		ExpiresUnix:     expiresUnix,
		PreviousTokenID: previousTokenID,
		IssuedAtUnix:    store.now().Unix(),
	}
	store.byID[record.TokenID] = record
	store.byHash[hashValue] = record.TokenID
	return record.TokenID, opaque, nil
}

// Validate resolves an opaque token to its owner, id and expiry.
func (store *MemoryRefreshTokenStore) Validate(ctx context.Context, tokenOpaque string) (string, string, int64, error) {
	if strings.TrimSpace(tokenOpaque) == "" {
		return "", "", 0, fmt.Errorf("refresh_store.validate.memory: %w", ErrRefreshTokenEmptyOpaque)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	tokenID, ok := store.byHash[hashOpaque(tokenOpaque)]
	if !ok {
		return "", "", 0, fmt.Errorf("refresh_store.validate.memory: %w", ErrRefreshTokenNotFound)
	}
	record := store.byID[tokenID]
	if record == nil {
		return "", "", 0, fmt.Errorf("refresh_store.validate.memory: %w", ErrRefreshTokenNotFound)
	}
	if err := record.usable(store.now()); err != nil {
		return "", "", 0, fmt.Errorf("refresh_store.validate.memory: %w", err)
	}
	return record.UserID, record.TokenID, record.ExpiresUnix, nil
}

// Revoke marks a token as revoked.
func (store *MemoryRefreshTokenStore) Revoke(ctx context.Context, tokenID string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	record := store.byID[tokenID]
	if record == nil {
		return fmt.Errorf("refresh_store.revoke.memory: %w", ErrRefreshTokenNotFound)
	}
	if record.RevokedAtUnix != 0 {
		return fmt.Errorf("refresh_store.revoke.memory: %w", ErrRefreshTokenAlreadyRevoked)
	}
	record.RevokedAtUnix = store.now().Unix()
	return nil
}

// RevokeAll revokes every unrevoked token issued to uid.
func (store *MemoryRefreshTokenStore) RevokeAll(ctx context.Context, uid string) (int, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	revokedAt := store.now().Unix()
	revoked := 0
	for _, record := range store.byID {
		if record.UserID == uid && record.RevokedAtUnix == 0 {
			record.RevokedAtUnix = revokedAt
			revoked++
		}
	}
	return revoked, nil
}
