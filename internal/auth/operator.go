package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

var (
	ErrEmailTaken         = errors.New("email already used")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidInput       = errors.New("invalid input")
)

// Operator is an account allowed to manage subjects over the API.
type Operator struct {
	ID           uint64    `gorm:"primaryKey"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (Operator) TableName() string { return "operators" }

type Accounts struct {
	DB *gorm.DB
}

func normalizeEmail(s string) string { return strings.TrimSpace(strings.ToLower(s)) }

// Register creates an operator. Passwords shorter than 8 bytes are rejected.
func (a *Accounts) Register(ctx context.Context, email, password string) (*Operator, error) {
	email = normalizeEmail(email)
	if email == "" || len(password) < 8 {
		return nil, ErrInvalidInput
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	op := Operator{Email: email, PasswordHash: hash}
	if err := a.DB.WithContext(ctx).Create(&op).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return &op, nil
}

func (a *Accounts) Login(ctx context.Context, email, password string) (*Operator, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidInput
	}

	var op Operator
	if err := a.DB.WithContext(ctx).Where("email = ?", email).First(&op).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !ComparePassword(op.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return &op, nil
}
