package ban

import (
	"fmt"
	"time"
)

type Type string

const (
	TypeUser   Type = "user"
	TypeIP     Type = "ip"
	TypeDevice Type = "device"
)

func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeUser, TypeIP, TypeDevice:
		return t, nil
	default:
		return "", fmt.Errorf("unknown ban type %q", s)
	}
}

type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeBoard  Scope = "board"
	ScopeThread Scope = "thread"
)

// Target is where an action is happening. Both fields are optional.
type Target struct {
	BoardID *uint
	PostID  *uint
}

// Hashes are the permanent hashes probed by a ban check. Empty values are skipped.
type Hashes struct {
	User   string
	IP     string
	Device string
}

// Key is one (type, hash) pair to look up.
type Key struct {
	Type Type
	Hash string
}

func (h Hashes) Keys() []Key {
	keys := make([]Key, 0, 3)
	for _, k := range []Key{{TypeUser, h.User}, {TypeIP, h.IP}, {TypeDevice, h.Device}} {
		if k.Hash != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

type Ban struct {
	ID              uint   `gorm:"primaryKey"`
	BanType         Type   `gorm:"column:ban_type;type:varchar(16);not null"`
	HashValue       string `gorm:"not null"`
	BoardID         *uint
	PostID          *uint
	Reason          *string
	CreatedBy       uint `gorm:"not null"`
	SourcePostID    *uint
	SourceCommentID *uint
	EncryptedEmail  []byte
	EncryptedIP     []byte
	EncryptedDevice []byte
	ExpiresAt       *time.Time
	CreatedAt       time.Time
}

func (Ban) TableName() string {
	return "bans"
}

func (b *Ban) Scope() Scope {
	switch {
	case b.PostID != nil:
		return ScopeThread
	case b.BoardID != nil:
		return ScopeBoard
	default:
		return ScopeGlobal
	}
}

func (b *Ban) ActiveAt(t time.Time) bool {
	return b.ExpiresAt == nil || b.ExpiresAt.After(t)
}

// Applies reports whether the ban's scope covers target. Thread bans match on
// the post alone, irrespective of board.
func (b *Ban) Applies(target Target) bool {
	switch b.Scope() {
	case ScopeGlobal:
		return true
	case ScopeBoard:
		return target.BoardID != nil && *target.BoardID == *b.BoardID
	case ScopeThread:
		return target.PostID != nil && *target.PostID == *b.PostID
	default:
		return false
	}
}

// SameScope reports whether two bans occupy the same (board, post) tuple.
func (b *Ban) SameScope(boardID, postID *uint) bool {
	return equalID(b.BoardID, boardID) && equalID(b.PostID, postID)
}

func equalID(a, b *uint) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Details is a ban as shown to moderators. PII fields are only set for admins.
type Details struct {
	Ban
	Scope  Scope
	Email  *string
	IP     *string
	Device *string
}
