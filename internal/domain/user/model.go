package user

import (
	"slices"
	"time"

	"github.com/lib/pq"
)

// User is a directory entry of the identity provider. ID is the token subject.
type User struct {
	ID               string         `gorm:"column:id;primaryKey;type:varchar(128)" json:"id"`
	Email            string         `gorm:"column:email" json:"email,omitempty"`
	DisplayName      string         `gorm:"column:display_name" json:"display_name,omitempty"`
	Disabled         bool           `gorm:"column:disabled;not null;default:false" json:"disabled"`
	Roles            pq.StringArray `gorm:"column:roles;type:text[]" json:"roles"`
	TokensValidAfter *time.Time     `gorm:"column:tokens_valid_after" json:"tokens_valid_after,omitempty"`
	CreatedAt        time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"column:updated_at" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// HasRole reports whether the user carries role
func (u *User) HasRole(role string) bool {
	return slices.Contains(u.Roles, role)
}

// IssuedBeforeRevocation reports whether a token authenticated at authTime
// predates the user's last forced sign-out.
func (u *User) IssuedBeforeRevocation(authTime time.Time) bool {
	if u.TokensValidAfter == nil {
		return false
	}
	return authTime.Before(u.TokensValidAfter.Truncate(time.Second))
}
