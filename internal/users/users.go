// Package users stores user accounts over the generic storage core.
package users

import (
	"context"
	"fmt"
	"time"

	"github.com/khushal/pgstore/internal/record"
	"github.com/khushal/pgstore/internal/storage"
)

// Table is the backing table name.
const Table = "users"

// User is one account row.
type User struct {
	record.Meta

	Username     string
	Email        string
	PasswordHash string
	LastLogin    *time.Time
}

func (u *User) ToFields() record.Fields {
	fields := u.MetaFields()
	fields["username"] = u.Username
	fields["email"] = u.Email
	fields["password_hash"] = u.PasswordHash
	if u.LastLogin != nil {
		fields["last_login"] = *u.LastLogin
	} else {
		fields["last_login"] = nil
	}
	return fields
}

func (u *User) FromFields(fields record.Fields) error {
	u.SetMetaFields(fields)
	u.Username, _ = fields["username"].(string)
	u.Email, _ = fields["email"].(string)
	u.PasswordHash, _ = fields["password_hash"].(string)
	if ts, ok := fields["last_login"].(time.Time); ok {
		u.LastLogin = &ts
	} else {
		u.LastLogin = nil
	}
	return nil
}

// Directory reads and writes users through a storage backend.
type Directory struct {
	store storage.Backend[User, *User]
}

// NewDirectory creates a user directory; a nil pool selects the in-memory
// backend.
func NewDirectory(pool *storage.Pool) *Directory {
	return &Directory{store: storage.NewBackend[User, *User](pool, Table)}
}

// Create inserts a new user after checking that the username and email
// are unused, and returns the new id. The check is advisory; unique
// indexes on the table remain the authority under concurrent writers.
func (d *Directory) Create(ctx context.Context, user *User) (string, error) {
	if user.Username == "" {
		return "", record.Validationf("create user", "username is required")
	}
	if existing, err := d.ByUsername(ctx, user.Username); err != nil {
		return "", err
	} else if existing != nil {
		return "", record.Validationf("create user", "username %q already taken", user.Username)
	}
	if user.Email != "" {
		if existing, err := d.ByEmail(ctx, user.Email); err != nil {
			return "", err
		} else if existing != nil {
			return "", record.Validationf("create user", "email %q already registered", user.Email)
		}
	}
	id, err := d.store.Insert(ctx, user)
	if err != nil {
		return "", fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// ByID returns the user with the given id, nil when none exists.
func (d *Directory) ByID(ctx context.Context, id string) (*User, error) {
	return d.store.Get(ctx, record.Fields{record.FieldID: id})
}

// ByUsername returns the user with the given username, nil when none
// exists.
func (d *Directory) ByUsername(ctx context.Context, username string) (*User, error) {
	return d.store.Get(ctx, record.Fields{"username": username})
}

// ByEmail returns the user with the given email, nil when none exists.
func (d *Directory) ByEmail(ctx context.Context, email string) (*User, error) {
	return d.store.Get(ctx, record.Fields{"email": email})
}

// UpdateLastLogin stamps the user's last login in place, scoped by
// primary key.
func (d *Directory) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	err := d.store.Update(ctx, storage.UpdateInput{
		Updates: record.Fields{"last_login": at},
		Filters: record.Fields{record.FieldID: id},
	})
	if err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}
