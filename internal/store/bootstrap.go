package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultAdminEmail    = "admin@localhost"
	defaultAdminPassword = "changeme"
)

// Bootstrap creates the auth tables and seeds a default admin when the
// user table is empty.
func (s *Store) Bootstrap(ctx context.Context, logger zerolog.Logger) error {
	if _, err := s.DB.ExecContext(ctx, s.Dialect.SystemTablesSQL()); err != nil {
		return fmt.Errorf("bootstrap system tables: %w", err)
	}
	if err := s.seedAdminUser(ctx, logger); err != nil {
		return fmt.Errorf("seed admin user: %w", err)
	}
	return nil
}

func (s *Store) seedAdminUser(ctx context.Context, logger zerolog.Logger) error {
	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM _users").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if _, err := s.CreateUser(ctx, defaultAdminEmail, defaultAdminPassword, []string{"admin"}); err != nil {
		return err
	}

	logger.Warn().
		Str("email", defaultAdminEmail).
		Msg("default admin user created with password 'changeme'; change it immediately")
	return nil
}

// CreateUser inserts a user with a bcrypt password hash and returns its id.
func (s *Store) CreateUser(ctx context.Context, email, password string, roles []string) (string, error) {
	if email == "" || password == "" {
		return "", errors.New("email and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	id := uuid.NewString()
	pb := s.Dialect.NewParamBuilder()
	query := fmt.Sprintf("INSERT INTO _users (id, email, password_hash, roles) VALUES (%s, %s, %s, %s)",
		pb.Add(id), pb.Add(email), pb.Add(string(hash)), pb.Add(s.Dialect.ArrayParam(roles)))
	if _, err := s.DB.ExecContext(ctx, query, pb.Params()...); err != nil {
		return "", MapError(s.Dialect, err)
	}
	return id, nil
}

// SetPassword replaces the password hash of an existing user.
func (s *Store) SetPassword(ctx context.Context, email, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	pb := s.Dialect.NewParamBuilder()
	query := fmt.Sprintf("UPDATE _users SET password_hash = %s WHERE email = %s",
		pb.Add(string(hash)), pb.Add(email))
	n, err := Exec(ctx, s.DB, query, pb.Params()...)
	if err != nil {
		return MapError(s.Dialect, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
