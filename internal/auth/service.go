package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/bunbase/bunbase/internal/apierr"
	"github.com/bunbase/bunbase/internal/config"
	"github.com/bunbase/bunbase/internal/database"
	"github.com/bunbase/bunbase/internal/records"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAdminNotFound      = errors.New("admin not found")
	ErrPrincipalNotFound  = errors.New("token no longer resolves to an existing principal")
)

// defaultAdminDomain names the email domain used for the auto-provisioned
// initial admin ("admin@<default>").
const defaultAdminDomain = "bunbase.local"

// Service resolves bearer tokens to principals, authenticates admins and
// auth-collection users, and provisions the initial admin.
type Service struct {
	db      *database.DB
	records *records.Service
	cfg     config.AuthConfig
	tokens  *tokenService
	hasher  *Hasher
}

func NewService(db *database.DB, recordsSvc *records.Service, cfg config.AuthConfig) *Service {
	return &Service{
		db:      db,
		records: recordsSvc,
		cfg:     cfg,
		tokens:  newTokenService(cfg.JWT),
		hasher:  NewHasher(cfg.Password),
	}
}

// Hasher exposes the argon2id implementation so callers can wire it into
// records.Service.SetPasswordHasher without this package importing records
// in the other direction.
func (s *Service) Hasher() *Hasher {
	return s.hasher
}

// Admin is one row of _admins.
type Admin struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    string
	UpdatedAt    string
}

// LoginAdmin verifies email/password against _admins and issues a token.
func (s *Service) LoginAdmin(ctx context.Context, email, password string) (*Principal, string, error) {
	email = normalizeEmail(email)

	admin, err := s.getAdminByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAdminNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}

	if verifyErr := Verify(password, admin.PasswordHash); verifyErr != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, _, err := s.tokens.issue(admin.ID, KindAdmin, "")
	if err != nil {
		return nil, "", fmt.Errorf("issuing token: %w", err)
	}

	return &Principal{ID: admin.ID, Kind: KindAdmin, Role: string(KindAdmin)}, token, nil
}

// LoginUser verifies email/password against collection (which must be
// kind=auth) and issues a token.
func (s *Service) LoginUser(ctx context.Context, collection, email, password string) (*Principal, string, error) {
	email = normalizeEmail(email)

	rec, err := s.records.FindAuthByEmail(ctx, collection, email)
	if err != nil {
		return nil, "", err
	}
	if rec == nil {
		return nil, "", ErrInvalidCredentials
	}

	hash, _ := rec["password_hash"].(string)
	if hash == "" {
		return nil, "", ErrInvalidCredentials
	}
	if verifyErr := Verify(password, hash); verifyErr != nil {
		return nil, "", ErrInvalidCredentials
	}

	id, _ := rec["id"].(string)
	token, _, err := s.tokens.issue(id, KindUser, collection)
	if err != nil {
		return nil, "", fmt.Errorf("issuing token: %w", err)
	}

	return &Principal{ID: id, Kind: KindUser, Collection: collection, Role: roleOf(rec)}, token, nil
}

// resolveToken turns a validated token's claims into a live principal,
// re-checking that the admin or user record it names still exists.
func (s *Service) resolveToken(ctx context.Context, token string) (*Principal, error) {
	claims, err := s.tokens.parse(token)
	if err != nil {
		return nil, err
	}

	switch claims.Kind {
	case KindAdmin:
		admin, err := s.getAdminByID(ctx, claims.Subject)
		if err != nil {
			return nil, err
		}
		return &Principal{ID: admin.ID, Kind: KindAdmin, Role: string(KindAdmin)}, nil
	case KindUser:
		rec, err := s.records.Get(ctx, claims.Collection, claims.Subject)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, ErrPrincipalNotFound
		}
		return &Principal{ID: claims.Subject, Kind: KindUser, Collection: claims.Collection, Role: roleOf(rec)}, nil
	default:
		return nil, ErrInvalidKind
	}
}

func roleOf(rec records.Record) string {
	if role, ok := rec["role"].(string); ok {
		return role
	}
	return ""
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// --- _admins store ---

func (s *Service) getAdminByEmail(ctx context.Context, email string) (*Admin, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at, updated_at FROM _admins WHERE email = ?`, email)
	return scanAdmin(row)
}

func (s *Service) getAdminByID(ctx context.Context, id string) (*Admin, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at, updated_at FROM _admins WHERE id = ?`, id)
	return scanAdmin(row)
}

func scanAdmin(row *sql.Row) (*Admin, error) {
	a := &Admin{}
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAdminNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning admin: %w", err)
	}
	return a, nil
}

func (s *Service) countAdmins(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM _admins`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting admins: %w", err)
	}
	return n, nil
}

func (s *Service) createAdmin(ctx context.Context, email, passwordHash string) (*Admin, error) {
	id := database.GenerateRecordID()
	now := database.Now()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO _admins (id, email, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, email, passwordHash, now, now)
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("inserting admin: %w", err))
	}

	return &Admin{ID: id, Email: email, PasswordHash: passwordHash, CreatedAt: now, UpdatedAt: now}, nil
}

// EnsureInitialAdmin provisions admin@<domain> with a random password,
// logged once, when _admins is empty.
func (s *Service) EnsureInitialAdmin(ctx context.Context) error {
	count, err := s.countAdmins(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	password, err := randomPassword()
	if err != nil {
		return fmt.Errorf("generating initial admin password: %w", err)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hashing initial admin password: %w", err)
	}

	email := "admin@" + defaultAdminDomain
	admin, err := s.createAdmin(ctx, email, hash)
	if err != nil {
		return err
	}

	log.Warn().
		Str("admin_id", admin.ID).
		Str("email", email).
		Str("password", password).
		Msg("provisioned initial admin; this password will not be shown again")

	return nil
}

// ChangePassword verifies the admin's current password and replaces it.
func (s *Service) ChangePassword(ctx context.Context, adminID, oldPassword, newPassword string) error {
	admin, err := s.getAdminByID(ctx, adminID)
	if err != nil {
		if errors.Is(err, ErrAdminNotFound) {
			return apierr.Unauthorized("admin not found")
		}
		return err
	}

	if verifyErr := Verify(oldPassword, admin.PasswordHash); verifyErr != nil {
		return apierr.Unauthorized("current password is incorrect")
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		if errors.Is(err, ErrPasswordTooShort) {
			return apierr.Validation(err.Error())
		}
		return apierr.Internal(fmt.Errorf("hashing new password: %w", err))
	}

	now := database.Now()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE _admins SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, now, admin.ID); err != nil {
		return apierr.Internal(fmt.Errorf("updating admin password: %w", err))
	}

	return nil
}

func randomPassword() (string, error) {
	raw := make([]byte, 18)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
