package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/avshalomt/event-seat-booking/internal/model"
	"github.com/avshalomt/event-seat-booking/internal/utils"
)

// ErrEmailExists is returned when registration collides on email.
var ErrEmailExists = errors.New("email already exists")

// UserRepo provides access to the users table. The engine only needs
// users as holder and buyer identities: registered accounts for
// authenticated checkout, minimal guest accounts bootstrapped inside the
// booking transaction for guest checkout.
type UserRepo struct{ DB *sql.DB }

// NewUserRepo returns a UserRepo bound to the given database.
func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = `id, email, password_hash, role, is_guest, is_active, created_at, updated_at`

// Create inserts a registered user and returns its ID.
func (r *UserRepo) Create(ctx context.Context, email, password, role string, cost int) (uint64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO users (email, password_hash, role, is_guest) VALUES (?, ?, ?, FALSE)`,
		email, hash, role)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlErrDuplicateEntry {
			return 0, ErrEmailExists
		}
		return 0, MapError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var u model.User
	err := r.DB.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ? LIMIT 1`,
		email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.IsGuest, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	var u model.User
	err := r.DB.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ? LIMIT 1`,
		id).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.IsGuest, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return u, MapError(err)
	}
	return u, nil
}

// EnsureGuestTx resolves a buyer for guest checkout inside the booking
// transaction: an existing account with the contact email is reused,
// otherwise a minimal guest account is created. A duplicate-key race with
// a concurrent guest checkout for the same email is settled by a
// re-select, so both transactions converge on one account.
func (r *UserRepo) EnsureGuestTx(ctx context.Context, tx *sql.Tx, email string) (uint64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return 0, &StoreError{Kind: ErrValidation, Err: errors.New("guest email required")}
	}
	var id uint64
	err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE email = ? LIMIT 1`, email).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO users (email, password_hash, role, is_guest) VALUES (?, '', ?, TRUE)`,
		email, model.RoleCustomer)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlErrDuplicateEntry {
			if err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE email = ? LIMIT 1`, email).Scan(&id); err != nil {
				return 0, err
			}
			return id, nil
		}
		return 0, err
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(newID), nil
}
