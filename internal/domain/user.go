package domain

import (
	"strings"
	"time"
)

// Role is the closed set of account roles.
type Role string

const (
	RoleUser    Role = "user"
	RoleShiller Role = "shiller"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleShiller
}

// UserModel is the GORM model for the users table. The counter columns are
// projections of the follows table and are only written inside the same
// transaction as the edge they account for.
type UserModel struct {
	ID             string    `gorm:"type:varchar(36);primaryKey"`
	Handle         string    `gorm:"type:varchar(50);not null"`
	HandleKey      string    `gorm:"column:handle_key;type:varchar(50);uniqueIndex;not null"`
	ProfilePicture string    `gorm:"column:profile_picture;type:varchar(512)"`
	Role           string    `gorm:"type:varchar(16);not null;index"`
	FollowersCount int64     `gorm:"column:followers_count;not null;default:0"`
	FollowingCount int64     `gorm:"column:following_count;not null;default:0"`
	ShillsCount    int64     `gorm:"column:shills_count;not null;default:0"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for UserModel.
func (UserModel) TableName() string { return "users" }

// ToDomain converts UserModel to domain User.
func (m *UserModel) ToDomain() *User {
	return &User{
		ID:             m.ID,
		Handle:         m.Handle,
		ProfilePicture: m.ProfilePicture,
		Role:           Role(m.Role),
		FollowersCount: m.FollowersCount,
		FollowingCount: m.FollowingCount,
		ShillsCount:    m.ShillsCount,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// UserToModel converts domain User to UserModel.
func UserToModel(u *User) *UserModel {
	return &UserModel{
		ID:             u.ID,
		Handle:         u.Handle,
		HandleKey:      HandleKey(u.Handle),
		ProfilePicture: u.ProfilePicture,
		Role:           string(u.Role),
		FollowersCount: u.FollowersCount,
		FollowingCount: u.FollowingCount,
		ShillsCount:    u.ShillsCount,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}
}

// HandleKey is the case-insensitive uniqueness key for a handle.
func HandleKey(handle string) string {
	return strings.ToLower(strings.TrimSpace(handle))
}

// User represents a user entity.
type User struct {
	ID             string
	Handle         string
	ProfilePicture string
	Role           Role
	FollowersCount int64
	FollowingCount int64
	ShillsCount    int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// UserSummary is the public shape of a user in listings and profiles.
// Shills is only set for shillers.
type UserSummary struct {
	ID             string    `json:"id"`
	Handle         string    `json:"handle"`
	ProfilePicture string    `json:"profile_picture,omitempty"`
	Role           Role      `json:"role"`
	Followers      int64     `json:"followers"`
	Following      int64     `json:"following"`
	Shills         *int64    `json:"shills,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ToSummary converts User to UserSummary, resolving the profile picture
// against mediaBaseURL.
func (u *User) ToSummary(mediaBaseURL string) UserSummary {
	s := UserSummary{
		ID:             u.ID,
		Handle:         u.Handle,
		ProfilePicture: ResolvePictureURL(u.ProfilePicture, mediaBaseURL),
		Role:           u.Role,
		Followers:      u.FollowersCount,
		Following:      u.FollowingCount,
		CreatedAt:      u.CreatedAt,
	}
	if u.Role == RoleShiller {
		shills := u.ShillsCount
		s.Shills = &shills
	}
	return s
}

// ResolvePictureURL turns a stored profile picture reference into something
// a client can load. Absolute http(s) URLs pass through, relative paths are
// joined onto baseURL, an empty reference stays empty.
func ResolvePictureURL(ref, baseURL string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	if baseURL == "" {
		return ref
	}
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(ref, "/")
}

// RegisterRequest creates the profile of the authenticated identity.
type RegisterRequest struct {
	Handle         string `json:"handle" binding:"required,min=2,max=50"`
	ProfilePicture string `json:"profile_picture" binding:"max=512"`
	Role           Role   `json:"role"`
}

// UpdateProfileRequest represents a partial profile update.
type UpdateProfileRequest struct {
	ProfilePicture *string `json:"profile_picture" binding:"omitempty,max=512"`
	Role           *Role   `json:"role"`
}
