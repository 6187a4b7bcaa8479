package user

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository interface for user directory operations
type Repository interface {
	// Create inserts the user; created is false when the id already exists.
	Create(ctx context.Context, user *User) (created bool, err error)
	GetByID(ctx context.Context, id string) (*User, error)
	Update(ctx context.Context, user *User) error
	SetDisabled(ctx context.Context, id string, disabled bool) error
	SetRoles(ctx context.Context, id string, roles []string) error
	SetTokensValidAfter(ctx context.Context, id string, at time.Time) error
}

// repository struct for user operations
type repository struct {
	db *gorm.DB
}

// NewRepository creates a new user repository
func NewRepository(db *gorm.DB) Repository {
	return &repository{db}
}

// Create inserts the user, leaving an existing row with the same id untouched
func (r *repository) Create(ctx context.Context, user *User) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(user)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// GetByID gets a user by subject id
func (r *repository) GetByID(ctx context.Context, id string) (*User, error) {
	var user User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// Update saves every field of the user
func (r *repository) Update(ctx context.Context, user *User) error {
	return r.db.WithContext(ctx).Save(user).Error
}

func (r *repository) SetDisabled(ctx context.Context, id string, disabled bool) error {
	return r.updateColumn(ctx, id, "disabled", disabled)
}

func (r *repository) SetRoles(ctx context.Context, id string, roles []string) error {
	return r.updateColumn(ctx, id, "roles", StringArray(roles))
}

func (r *repository) SetTokensValidAfter(ctx context.Context, id string, at time.Time) error {
	return r.updateColumn(ctx, id, "tokens_valid_after", at.UTC())
}

func (r *repository) updateColumn(ctx context.Context, id, column string, value any) error {
	res := r.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Update(column, value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}
