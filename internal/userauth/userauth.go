// Package userauth implements the (added) SPEC_FULL §4.8 user-auth
// adapter: a gorm/sqlite-backed credential store consulted when a
// listener's Options has UserAuth=yes, grounded on the sqlite
// repository shape the filter-rule storage layer used.
package userauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// ErrNotFound is returned by Authenticate when the username is unknown.
var ErrNotFound = errors.New("userauth: user not found")

// ErrBadPassword is returned by Authenticate on a credential mismatch.
var ErrBadPassword = errors.New("userauth: bad password")

// User is one row of the credential table (spec.md §4.1's UserAuth
// directive names a database of usernames the DivertUsers/PassUsers
// lists further partition).
type User struct {
	ID           int64  `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex"`
	PasswordHash string
	CreatedAt    time.Time
	LastSeenAt   time.Time
}

// Store wraps a gorm handle onto the user-auth sqlite database named by
// the UserDBPath global directive.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if absent) the sqlite database at path and
// migrates the User schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("userauth: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&User{}); err != nil {
		return nil, fmt.Errorf("userauth: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Authenticate validates username/password against the stored bcrypt
// hash and touches LastSeenAt on success.
func (s *Store) Authenticate(ctx context.Context, username, password string) error {
	var u User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("userauth: lookup %s: %w", username, err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return ErrBadPassword
	}
	u.LastSeenAt = time.Now()
	return s.db.WithContext(ctx).Save(&u).Error
}

// Upsert creates or updates a user's password hash.
func (s *Store) Upsert(ctx context.Context, username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("userauth: hash: %w", err)
	}
	u := User{Username: username, PasswordHash: string(hash), CreatedAt: time.Now()}
	return s.db.WithContext(ctx).
		Where("username = ?", username).
		Assign(User{PasswordHash: u.PasswordHash}).
		FirstOrCreate(&u).Error
}

// List returns every known username, for the admin monitor's debug
// surface.
func (s *Store) List(ctx context.Context) ([]string, error) {
	var users []User
	if err := s.db.WithContext(ctx).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("userauth: list: %w", err)
	}
	names := make([]string, len(users))
	for i, u := range users {
		names[i] = u.Username
	}
	return names, nil
}

// InUserList reports whether username appears in list, used to resolve
// the DivertUsers/PassUsers membership check once UserAuth has
// accepted a connection's credentials.
func InUserList(list []string, username string) bool {
	for _, u := range list {
		if u == username {
			return true
		}
	}
	return false
}
