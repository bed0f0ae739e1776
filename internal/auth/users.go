package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"portfolio-cms/internal/schema"
	"portfolio-cms/internal/store"
)

// User is the authenticated principal attached to a request.
type User struct {
	ID    string   `json:"id"`
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles"`
}

func (u *User) IsAdmin() bool {
	for _, r := range u.Roles {
		if r == "admin" {
			return true
		}
	}
	return false
}

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrDisabled           = errors.New("account is disabled")
	ErrRefreshExpired     = errors.New("refresh token expired")
)

// Users reads accounts and refresh tokens from the SQL store.
type Users struct {
	store *store.Store
	now   func() time.Time
}

func NewUsers(s *store.Store) *Users {
	return &Users{store: s, now: time.Now}
}

type account struct {
	User
	passwordHash string
	active       bool
}

func (u *Users) findByEmail(ctx context.Context, email string) (*account, error) {
	pb := u.store.Dialect.NewParamBuilder()
	row, err := store.QueryRow(ctx, u.store.DB,
		fmt.Sprintf("SELECT id, email, password_hash, roles, active FROM _users WHERE email = %s", pb.Add(email)),
		pb.Params()...)
	if err != nil {
		return nil, err
	}
	return u.account(row)
}

func (u *Users) account(row map[string]any) (*account, error) {
	if u.store.Dialect.NeedsBoolFix() {
		store.NormalizeBooleans([]map[string]any{row}, []string{"active"})
	}
	roles, err := u.store.Dialect.ScanArray(row["roles"])
	if err != nil {
		return nil, fmt.Errorf("decode roles: %w", err)
	}
	a := &account{User: User{Roles: roles}}
	a.ID, _ = row["user_id"].(string)
	if a.ID == "" {
		a.ID, _ = row["id"].(string)
	}
	a.Email, _ = row["email"].(string)
	a.passwordHash, _ = row["password_hash"].(string)
	a.active, _ = row["active"].(bool)
	return a, nil
}

// Authenticate checks email and password and returns the user.
func (u *Users) Authenticate(ctx context.Context, email, password string) (*User, error) {
	a, err := u.findByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !a.active {
		return nil, ErrDisabled
	}
	if !CheckPassword(password, a.passwordHash) {
		return nil, ErrInvalidCredentials
	}
	return &a.User, nil
}

// SaveRefreshToken records token for userID until expiresAt.
func (u *Users) SaveRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	pb := u.store.Dialect.NewParamBuilder()
	query := fmt.Sprintf("INSERT INTO _refresh_tokens (id, user_id, token, expires_at) VALUES (%s, %s, %s, %s)",
		pb.Add(NewRefreshToken()), pb.Add(userID), pb.Add(token), pb.Add(u.store.Dialect.TimeParam(expiresAt)))
	if _, err := store.Exec(ctx, u.store.DB, query, pb.Params()...); err != nil {
		return store.MapError(u.store.Dialect, err)
	}
	return nil
}

// ConsumeRefreshToken deletes token and returns its owner. Every refresh
// token is single use.
func (u *Users) ConsumeRefreshToken(ctx context.Context, token string) (*User, error) {
	pb := u.store.Dialect.NewParamBuilder()
	row, err := store.QueryRow(ctx, u.store.DB,
		fmt.Sprintf(`SELECT rt.id AS token_id, rt.user_id, rt.expires_at, u.email, u.roles, u.active
		 FROM _refresh_tokens rt
		 JOIN _users u ON u.id = rt.user_id
		 WHERE rt.token = %s`, pb.Add(token)), pb.Params()...)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}

	if err := u.RevokeRefreshToken(ctx, token); err != nil {
		return nil, err
	}

	expires, err := schema.Field{Type: schema.TypeTimestamp}.Coerce(row["expires_at"])
	if err != nil {
		return nil, fmt.Errorf("decode expiry: %w", err)
	}
	if at, ok := expires.(time.Time); !ok || u.now().After(at) {
		return nil, ErrRefreshExpired
	}

	a, err := u.account(row)
	if err != nil {
		return nil, err
	}
	if !a.active {
		return nil, ErrDisabled
	}
	return &a.User, nil
}

// RevokeRefreshToken deletes token. Unknown tokens are ignored.
func (u *Users) RevokeRefreshToken(ctx context.Context, token string) error {
	pb := u.store.Dialect.NewParamBuilder()
	_, err := store.Exec(ctx, u.store.DB,
		fmt.Sprintf("DELETE FROM _refresh_tokens WHERE token = %s", pb.Add(token)), pb.Params()...)
	return err
}

// PurgeExpired removes refresh tokens past their expiry.
func (u *Users) PurgeExpired(ctx context.Context) (int64, error) {
	pb := u.store.Dialect.NewParamBuilder()
	return store.Exec(ctx, u.store.DB,
		fmt.Sprintf("DELETE FROM _refresh_tokens WHERE expires_at < %s", pb.Add(u.store.Dialect.TimeParam(u.now()))),
		pb.Params()...)
}
