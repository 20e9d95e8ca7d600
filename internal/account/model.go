package account

import (
	"fmt"
	"time"
)

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleUser      Role = "user"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleAdmin, RoleModerator, RoleUser:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

func (r Role) IsAdmin() bool {
	return r == RoleAdmin
}

type User struct {
	ID uint `gorm:"primaryKey"`
	// Email is the stable account identifier. Registered accounts without an
	// email carry their generated account id here.
	Email                       string `gorm:"uniqueIndex;not null"`
	Role                        Role   `gorm:"type:varchar(16);not null;default:user"`
	Level                       int    `gorm:"not null;default:1"`
	LastLevelUpAt               *time.Time
	LastLevelUpIP               *string
	LevelUpFailureCount         int `gorm:"not null;default:0"`
	LastLevelUpAttemptAt        *time.Time
	BannedFromLevelUp           bool `gorm:"not null;default:false"`
	IsRateLimitExempt           bool `gorm:"not null;default:false"`
	LastLinkingTokenGeneratedAt *time.Time
	CreatedAt                   time.Time
	UpdatedAt                   time.Time
}

func (User) TableName() string {
	return "users"
}

// LinkingToken is stored only as the SHA-256 of the token handed to the user.
type LinkingToken struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    uint   `gorm:"not null;index"`
	TokenHash string `gorm:"uniqueIndex;not null"`
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

func (LinkingToken) TableName() string {
	return "device_linking_tokens"
}
