package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/tyemirov/tbase/internal/database"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// MinimumPasswordLength is the shortest password the backend accepts.
const MinimumPasswordLength = 6

const (
	defaultActionCodeTTL     = time.Hour
	defaultMaxFailedAttempts = 5
	defaultLockoutDuration   = 15 * time.Minute
)

var (
	errAccountNotFound    = errors.New("identity.account_not_found")
	errActionCodeNotFound = errors.New("identity.action_code_not_found")
	errActionCodeExpired  = errors.New("identity.action_code_expired")
	errGoogleDisabled     = errors.New("identity.google_disabled")
	errGoogleToken        = errors.New("identity.google_token_invalid")
	errNonceMismatch      = errors.New("identity.google_nonce_mismatch")
	errAccountLocked      = errors.New("identity.account_locked")
	errNoPassword         = errors.New("identity.account_without_password")
	errPasswordMismatch   = errors.New("identity.password_mismatch")
)

var emailValidator = validator.New()

// DatabaseConfig tunes a DatabaseBackend. Zero values select defaults.
type DatabaseConfig struct {
	GoogleClientID    string
	AppBaseURL        string
	ActionCodeTTL     time.Duration
	MaxFailedAttempts int
	LockoutDuration   time.Duration
}

// DatabaseBackend is a Backend persisting accounts and action codes through GORM.
type DatabaseBackend struct {
	db          *gorm.DB
	driverLabel string
	config      DatabaseConfig
	mailer      Mailer
	google      GoogleTokenValidator
	logger      *zap.Logger
	now         func() time.Time
}

type accountRecord struct {
	UID             string `gorm:"column:uid;primaryKey"`
	Email           string `gorm:"column:email;uniqueIndex;not null"`
	PasswordHash    string `gorm:"column:password_hash;not null;default:''"`
	DisplayName     string `gorm:"column:display_name;not null;default:''"`
	PhotoURL        string `gorm:"column:photo_url;not null;default:''"`
	EmailVerified   bool   `gorm:"column:email_verified;not null;default:false"`
	Disabled        bool   `gorm:"column:disabled;not null;default:false"`
	Provider        string `gorm:"column:provider;not null"`
	GoogleSubject   string `gorm:"column:google_subject;index;not null;default:''"`
	FailedAttempts  int    `gorm:"column:failed_attempts;not null;default:0"`
	LockedUntilUnix int64  `gorm:"column:locked_until_unix;not null;default:0"`
	CreatedAtUnix   int64  `gorm:"column:created_at_unix;not null"`
	UpdatedAtUnix   int64  `gorm:"column:updated_at_unix;not null"`
}

func (accountRecord) TableName() string {
	return "identity_accounts"
}

func (record accountRecord) identity() Identity {
	return Identity{
		UID:           record.UID,
		Email:         record.Email,
		DisplayName:   record.DisplayName,
		EmailVerified: record.EmailVerified,
		PhotoURL:      record.PhotoURL,
		ProviderID:    record.Provider,
	}
}

type actionCodeRecord struct {
	CodeHash       string `gorm:"column:code_hash;primaryKey"`
	UID            string `gorm:"column:uid;index;not null"`
	Purpose        string `gorm:"column:purpose;not null"`
	ExpiresUnix    int64  `gorm:"column:expires_unix;not null"`
	ConsumedAtUnix int64  `gorm:"column:consumed_at_unix;not null;default:0"`
	IssuedAtUnix   int64  `gorm:"column:issued_at_unix;not null"`
}

func (actionCodeRecord) TableName() string {
	return "identity_action_codes"
}

// NewDatabaseBackend migrates the identity tables on handle and returns the backend.
// A nil google validator or an empty GoogleClientID disables Google sign-in.
func NewDatabaseBackend(ctx context.Context, handle *database.Handle, config DatabaseConfig, mailer Mailer, google GoogleTokenValidator, logger *zap.Logger) (*DatabaseBackend, error) {
	if handle == nil || handle.DB == nil {
		return nil, errors.New("identity.database: nil handle")
	}
	if err := handle.Migrate(ctx, &accountRecord{}, &actionCodeRecord{}); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if mailer == nil {
		mailer = NewLogMailer(logger)
	}
	if config.ActionCodeTTL <= 0 {
		config.ActionCodeTTL = defaultActionCodeTTL
	}
	if config.MaxFailedAttempts <= 0 {
		config.MaxFailedAttempts = defaultMaxFailedAttempts
	}
	if config.LockoutDuration <= 0 {
		config.LockoutDuration = defaultLockoutDuration
	}
	return &DatabaseBackend{
		db:          handle.DB,
		driverLabel: handle.Driver,
		config:      config,
		mailer:      mailer,
		google:      google,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// CreateAccount implements Backend.
func (backend *DatabaseBackend) CreateAccount(ctx context.Context, email string, password string) (Identity, error) {
	normalizedEmail, err := normalizeEmail(email)
	if err != nil {
		return Identity{}, err
	}
	if len(password) < MinimumPasswordLength {
		return Identity{}, newProviderError(CodeWeakPassword, nil)
	}
	passwordHash, hashErr := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if hashErr != nil {
		return Identity{}, newProviderError(CodeWeakPassword, hashErr)
	}
	var created accountRecord
	transactionErr := backend.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		_, findErr := findAccountByEmail(transaction, normalizedEmail)
		if findErr == nil {
			return newProviderError(CodeEmailAlreadyInUse, nil)
		}
		if !errors.Is(findErr, errAccountNotFound) {
			return findErr
		}
		nowUnix := backend.now().Unix()
		created = accountRecord{
			UID:           uuid.NewString(),
			Email:         normalizedEmail,
			PasswordHash:  string(passwordHash),
			Provider:      ProviderPassword,
			CreatedAtUnix: nowUnix,
			UpdatedAtUnix: nowUnix,
		}
		return transaction.Create(&created).Error
	})
	if transactionErr != nil {
		return Identity{}, backend.classify("create_account", transactionErr)
	}
	return created.identity(), nil
}

// SignInWithPassword implements Backend. Repeated wrong passwords lock the account for LockoutDuration.
func (backend *DatabaseBackend) SignInWithPassword(ctx context.Context, email string, password string) (Identity, error) {
	normalizedEmail, err := normalizeEmail(email)
	if err != nil {
		return Identity{}, err
	}
	db := backend.db.WithContext(ctx)
	record, findErr := findAccountByEmail(db, normalizedEmail)
	if findErr != nil {
		return Identity{}, backend.classify("sign_in", findErr)
	}
	if record.Disabled {
		return Identity{}, newProviderError(CodeUserDisabled, nil)
	}
	now := backend.now()
	if record.LockedUntilUnix > now.Unix() {
		return Identity{}, newProviderError(CodeTooManyRequests, errAccountLocked)
	}
	if record.PasswordHash == "" {
		return Identity{}, newProviderError(CodeInvalidCredential, errNoPassword)
	}
	if compareErr := bcrypt.CompareHashAndPassword([]byte(record.PasswordHash), []byte(password)); compareErr != nil {
		return Identity{}, backend.recordFailedAttempt(db, record, now)
	}
	if record.FailedAttempts != 0 || record.LockedUntilUnix != 0 {
		resetErr := db.Model(&accountRecord{}).Where("uid = ?", record.UID).
			Updates(map[string]any{"failed_attempts": 0, "locked_until_unix": 0}).Error
		if resetErr != nil {
			return Identity{}, backend.classify("sign_in", resetErr)
		}
	}
	return record.identity(), nil
}

func (backend *DatabaseBackend) recordFailedAttempt(db *gorm.DB, record accountRecord, now time.Time) error {
	failures := record.FailedAttempts + 1
	locked := failures >= backend.config.MaxFailedAttempts
	updates := map[string]any{"failed_attempts": failures}
	if locked {
		updates["failed_attempts"] = 0
		updates["locked_until_unix"] = now.Add(backend.config.LockoutDuration).Unix()
	}
	if err := db.Model(&accountRecord{}).Where("uid = ?", record.UID).Updates(updates).Error; err != nil {
		return backend.classify("sign_in", err)
	}
	if locked {
		backend.logger.Warn("account locked after failed sign-in attempts",
			zap.String("code", "identity.sign_in.locked"),
			zap.String("uid", record.UID))
		return newProviderError(CodeTooManyRequests, errAccountLocked)
	}
	return newProviderError(CodeWrongPassword, errPasswordMismatch)
}

// SignInWithGoogle implements Backend. Accounts are matched by Google subject, then linked by email,
// then created.
func (backend *DatabaseBackend) SignInWithGoogle(ctx context.Context, credential string, nonce string) (Identity, error) {
	if backend.google == nil || strings.TrimSpace(backend.config.GoogleClientID) == "" {
		return Identity{}, newProviderError(CodeOperationNotAllowed, errGoogleDisabled)
	}
	if strings.TrimSpace(credential) == "" {
		return Identity{}, newProviderError(CodeInvalidCredential, errGoogleToken)
	}
	payload, validateErr := backend.google.Validate(ctx, credential, backend.config.GoogleClientID)
	if validateErr != nil {
		return Identity{}, newProviderError(CodeInvalidCredential, validateErr)
	}
	claims, ok := readGoogleClaims(payload)
	if !ok {
		return Identity{}, newProviderError(CodeInvalidCredential, errGoogleToken)
	}
	if nonce != "" && claims.nonce != nonce {
		return Identity{}, newProviderError(CodeInvalidCredential, errNonceMismatch)
	}
	normalizedEmail := strings.ToLower(strings.TrimSpace(claims.email))

	var signedIn accountRecord
	transactionErr := backend.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		nowUnix := backend.now().Unix()
		var record accountRecord
		findErr := transaction.Where("google_subject = ?", claims.subject).Take(&record).Error
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			record, findErr = findAccountByEmail(transaction, normalizedEmail)
			if errors.Is(findErr, errAccountNotFound) {
				record = accountRecord{
					UID:           uuid.NewString(),
					Email:         normalizedEmail,
					DisplayName:   claims.name,
					PhotoURL:      claims.picture,
					EmailVerified: true,
					Provider:      ProviderGoogle,
					GoogleSubject: claims.subject,
					CreatedAtUnix: nowUnix,
					UpdatedAtUnix: nowUnix,
				}
				if createErr := transaction.Create(&record).Error; createErr != nil {
					return createErr
				}
				signedIn = record
				return nil
			}
			if findErr != nil {
				return findErr
			}
			record.GoogleSubject = claims.subject
			record.EmailVerified = true
			if record.DisplayName == "" {
				record.DisplayName = claims.name
			}
			if record.PhotoURL == "" {
				record.PhotoURL = claims.picture
			}
			record.UpdatedAtUnix = nowUnix
			linkErr := transaction.Model(&accountRecord{}).Where("uid = ?", record.UID).Updates(map[string]any{
				"google_subject":  record.GoogleSubject,
				"email_verified":  true,
				"display_name":    record.DisplayName,
				"photo_url":       record.PhotoURL,
				"updated_at_unix": nowUnix,
			}).Error
			if linkErr != nil {
				return linkErr
			}
		} else if findErr != nil {
			return findErr
		}
		if record.Disabled {
			return newProviderError(CodeUserDisabled, nil)
		}
		signedIn = record
		return nil
	})
	if transactionErr != nil {
		return Identity{}, backend.classify("sign_in_google", transactionErr)
	}
	signedIn.Provider = ProviderGoogle
	return signedIn.identity(), nil
}

// Lookup implements Backend.
func (backend *DatabaseBackend) Lookup(ctx context.Context, uid string) (Identity, error) {
	record, err := findAccountByUID(backend.db.WithContext(ctx), uid)
	if err != nil {
		return Identity{}, backend.classify("lookup", err)
	}
	if record.Disabled {
		return Identity{}, newProviderError(CodeUserDisabled, nil)
	}
	return record.identity(), nil
}

// UpdateProfile implements Backend.
func (backend *DatabaseBackend) UpdateProfile(ctx context.Context, uid string, update ProfileUpdate) (Identity, error) {
	var updated accountRecord
	transactionErr := backend.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		record, findErr := findAccountByUID(transaction, uid)
		if findErr != nil {
			return findErr
		}
		changes := map[string]any{"updated_at_unix": backend.now().Unix()}
		if update.DisplayName != nil {
			record.DisplayName = *update.DisplayName
			changes["display_name"] = record.DisplayName
		}
		if update.PhotoURL != nil {
			record.PhotoURL = *update.PhotoURL
			changes["photo_url"] = record.PhotoURL
		}
		updated = record
		return transaction.Model(&accountRecord{}).Where("uid = ?", uid).Updates(changes).Error
	})
	if transactionErr != nil {
		return Identity{}, backend.classify("update_profile", transactionErr)
	}
	return updated.identity(), nil
}

// SendPasswordReset implements Backend.
func (backend *DatabaseBackend) SendPasswordReset(ctx context.Context, email string) error {
	normalizedEmail, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	record, findErr := findAccountByEmail(backend.db.WithContext(ctx), normalizedEmail)
	if findErr != nil {
		return backend.classify("send_password_reset", findErr)
	}
	return backend.sendActionCode(ctx, record, PurposePasswordReset, modeResetPassword, "Reset your password")
}

// ConfirmPasswordReset implements Backend.
func (backend *DatabaseBackend) ConfirmPasswordReset(ctx context.Context, code string, newPassword string) error {
	if len(newPassword) < MinimumPasswordLength {
		return newProviderError(CodeWeakPassword, nil)
	}
	passwordHash, hashErr := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if hashErr != nil {
		return newProviderError(CodeWeakPassword, hashErr)
	}
	transactionErr := backend.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		codeRecord, consumeErr := backend.consumeActionCode(transaction, code, PurposePasswordReset)
		if consumeErr != nil {
			return consumeErr
		}
		return transaction.Model(&accountRecord{}).Where("uid = ?", codeRecord.UID).Updates(map[string]any{
			"password_hash":     string(passwordHash),
			"failed_attempts":   0,
			"locked_until_unix": 0,
			"updated_at_unix":   backend.now().Unix(),
		}).Error
	})
	if transactionErr != nil {
		return backend.classify("confirm_password_reset", transactionErr)
	}
	return nil
}

// SendEmailVerification implements Backend.
func (backend *DatabaseBackend) SendEmailVerification(ctx context.Context, uid string) error {
	record, findErr := findAccountByUID(backend.db.WithContext(ctx), uid)
	if findErr != nil {
		return backend.classify("send_email_verification", findErr)
	}
	return backend.sendActionCode(ctx, record, PurposeEmailVerification, modeVerifyEmail, "Verify your email")
}

// ApplyEmailVerification implements Backend.
func (backend *DatabaseBackend) ApplyEmailVerification(ctx context.Context, code string) (Identity, error) {
	var verified accountRecord
	transactionErr := backend.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		codeRecord, consumeErr := backend.consumeActionCode(transaction, code, PurposeEmailVerification)
		if consumeErr != nil {
			return consumeErr
		}
		updateErr := transaction.Model(&accountRecord{}).Where("uid = ?", codeRecord.UID).Updates(map[string]any{
			"email_verified":  true,
			"updated_at_unix": backend.now().Unix(),
		}).Error
		if updateErr != nil {
			return updateErr
		}
		record, findErr := findAccountByUID(transaction, codeRecord.UID)
		verified = record
		return findErr
	})
	if transactionErr != nil {
		return Identity{}, backend.classify("apply_email_verification", transactionErr)
	}
	return verified.identity(), nil
}

func (backend *DatabaseBackend) sendActionCode(ctx context.Context, record accountRecord, purpose string, mode string, subject string) error {
	code, codeHash, err := generateActionCode()
	if err != nil {
		return backend.classify("issue_action_code", err)
	}
	now := backend.now()
	codeRecord := actionCodeRecord{
		CodeHash:     codeHash,
		UID:          record.UID,
		Purpose:      purpose,
		ExpiresUnix:  now.Add(backend.config.ActionCodeTTL).Unix(),
		IssuedAtUnix: now.Unix(),
	}
	if createErr := backend.db.WithContext(ctx).Create(&codeRecord).Error; createErr != nil {
		return backend.classify("issue_action_code", createErr)
	}
	sendErr := backend.mailer.Send(ctx, Message{
		To:        record.Email,
		Purpose:   purpose,
		Subject:   subject,
		ActionURL: actionURL(backend.config.AppBaseURL, mode, code),
		Code:      code,
	})
	if sendErr != nil {
		return backend.classify("send_mail", sendErr)
	}
	return nil
}

func (backend *DatabaseBackend) consumeActionCode(transaction *gorm.DB, code string, purpose string) (actionCodeRecord, error) {
	if strings.TrimSpace(code) == "" {
		return actionCodeRecord{}, errActionCodeNotFound
	}
	var record actionCodeRecord
	findErr := transaction.Where("code_hash = ? AND purpose = ?", hashActionCode(code), purpose).Take(&record).Error
	if errors.Is(findErr, gorm.ErrRecordNotFound) {
		return actionCodeRecord{}, errActionCodeNotFound
	}
	if findErr != nil {
		return actionCodeRecord{}, findErr
	}
	if record.ConsumedAtUnix != 0 {
		return actionCodeRecord{}, errActionCodeNotFound
	}
	now := backend.now()
	if record.ExpiresUnix < now.Unix() {
		return actionCodeRecord{}, errActionCodeExpired
	}
	consumed := transaction.Model(&actionCodeRecord{}).
		Where("code_hash = ? AND consumed_at_unix = 0", record.CodeHash).
		Update("consumed_at_unix", now.Unix())
	if consumed.Error != nil {
		return actionCodeRecord{}, consumed.Error
	}
	if consumed.RowsAffected == 0 {
		return actionCodeRecord{}, errActionCodeNotFound
	}
	return record, nil
}

// classify maps internal failures onto provider errors; storage failures surface as network errors.
func (backend *DatabaseBackend) classify(operation string, err error) error {
	var providerError *ProviderError
	switch {
	case errors.As(err, &providerError):
		return err
	case errors.Is(err, errAccountNotFound):
		return newProviderError(CodeUserNotFound, err)
	case errors.Is(err, errActionCodeNotFound):
		return newProviderError(CodeInvalidActionCode, err)
	case errors.Is(err, errActionCodeExpired):
		return newProviderError(CodeExpiredActionCode, err)
	default:
		backend.logger.Error("identity storage failure",
			zap.String("code", "identity."+operation+".failed"),
			zap.String("driver", backend.driverLabel),
			zap.Error(err))
		return newProviderError(CodeNetworkRequestFailed, err)
	}
}

func normalizeEmail(email string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(email))
	if err := emailValidator.Var(trimmed, "required,email"); err != nil {
		return "", newProviderError(CodeInvalidEmail, err)
	}
	return trimmed, nil
}

func findAccountByEmail(db *gorm.DB, email string) (accountRecord, error) {
	var record accountRecord
	err := db.Where("email = ?", email).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return accountRecord{}, errAccountNotFound
	}
	return record, err
}

func findAccountByUID(db *gorm.DB, uid string) (accountRecord, error) {
	if strings.TrimSpace(uid) == "" {
		return accountRecord{}, errAccountNotFound
	}
	var record accountRecord
	err := db.Where("uid = ?", uid).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return accountRecord{}, errAccountNotFound
	}
	return record, err
}
