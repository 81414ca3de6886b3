package types

import "time"

const (
	RoleUser      = "user"
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
)

// User is the public profile of a member. The credentials live in a separate auth row with the same id.
type User struct {
	Id          string    `json:"id" mapstructure:"id"`
	Email       string    `json:"email" mapstructure:"email"`
	DisplayName string    `json:"displayName" mapstructure:"display_name"`
	AvatarUrl   string    `json:"avatarUrl,omitempty" mapstructure:"avatar_url"`
	Role        string    `json:"role" mapstructure:"role"`
	IsPremium   bool      `json:"isPremium" mapstructure:"is_premium"`
	Bio         string    `json:"bio,omitempty" mapstructure:"bio"`
	Location    string    `json:"location,omitempty" mapstructure:"location"`
	Phone       string    `json:"phone,omitempty" mapstructure:"phone"`
	WhatsApp    string    `json:"whatsapp,omitempty" mapstructure:"whatsapp"`
	CreatedAt   time.Time `json:"createdAt" mapstructure:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" mapstructure:"updated_at"`
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// CanModerate is true for admins and moderators.
func (u *User) CanModerate() bool {
	return u != nil && (u.Role == RoleAdmin || u.Role == RoleModerator)
}

func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAdmin, RoleModerator:
		return true
	}
	return false
}
