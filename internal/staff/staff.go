package staff

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/joao-fontenele/kitchen-console/internal/domain"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type Account struct {
	Staff        domain.Staff
	PasswordHash string
}

type Repository interface {
	FindByUsername(ctx context.Context, username string) (*Account, error)
}

type SQLRepository struct {
	db *sql.DB
}

func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

// FindByUsername returns nil when no account matches.
func (r *SQLRepository) FindByUsername(ctx context.Context, username string) (*Account, error) {
	var acc Account
	err := r.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash
		FROM staff
		WHERE username = $1
	`, username).Scan(&acc.Staff.ID, &acc.Staff.Username, &acc.PasswordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &acc, nil
}

func (r *SQLRepository) Create(ctx context.Context, username, password string) (domain.Staff, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return domain.Staff{}, err
	}

	s := domain.Staff{ID: uuid.New().String(), Username: strings.TrimSpace(username)}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO staff (id, username, password_hash)
		VALUES ($1, $2, $3)
	`, s.ID, s.Username, hash)
	if err != nil {
		return domain.Staff{}, fmt.Errorf("insert staff %s: %w", s.Username, err)
	}
	return s, nil
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

type Authenticator struct {
	repo Repository
}

func NewAuthenticator(repo Repository) *Authenticator {
	return &Authenticator{repo: repo}
}

// Authenticate maps credentials to a staff identity. Unknown usernames and
// wrong passwords both yield ErrInvalidCredentials.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (domain.Staff, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return domain.Staff{}, ErrInvalidCredentials
	}

	acc, err := a.repo.FindByUsername(ctx, username)
	if err != nil {
		return domain.Staff{}, fmt.Errorf("find staff %s: %w", username, err)
	}
	if acc == nil {
		return domain.Staff{}, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return domain.Staff{}, ErrInvalidCredentials
	}
	return acc.Staff, nil
}
