package verification

import (
	"fmt"
	"time"

	"github.com/elskow/boardguard/internal/captcha"
	"github.com/elskow/boardguard/internal/config"
	"github.com/elskow/boardguard/internal/fingerprint"
)

// Type is the action a verification run guards.
type Type string

const (
	TypeRegistration  Type = "registration"
	TypeLevelUp       Type = "level_up"
	TypeCreateBoard   Type = "create_board"
	TypeCreatePost    Type = "create_post"
	TypeCreateComment Type = "create_comment"
)

func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeRegistration, TypeLevelUp, TypeCreateBoard, TypeCreatePost, TypeCreateComment:
		return t, nil
	default:
		return "", fmt.Errorf("unknown verification type %q", s)
	}
}

// Captcha returns the provider that guards t, if any.
func (t Type) Captcha() (captcha.Provider, bool) {
	switch t {
	case TypeLevelUp:
		return captcha.ProviderTurnstile, true
	case TypeRegistration:
		return captcha.ProviderHCaptcha, true
	case TypeCreateBoard, TypeCreatePost, TypeCreateComment:
		return "", false
	default:
		return "", false
	}
}

// ReputationEnabled reports whether the IP reputation step runs for t.
func (t Type) ReputationEnabled(toggles config.ReputationToggles) bool {
	switch t {
	case TypeLevelUp:
		return toggles.LevelUp
	case TypeRegistration:
		return toggles.Registration
	case TypeCreateBoard:
		return toggles.CreateBoard
	case TypeCreatePost:
		return toggles.CreatePost
	case TypeCreateComment:
		return toggles.CreateComment
	default:
		return false
	}
}

// RequiresUser reports whether t is run for an existing account.
func (t Type) RequiresUser() bool {
	return t != TypeRegistration
}

// Attempt is the audit record of one verification run.
type Attempt struct {
	ID                   uint `gorm:"primaryKey"`
	UserID               *uint
	AttemptType          Type                 `gorm:"type:varchar(32);not null"`
	IsSuccess            bool                 `gorm:"not null"`
	IPAddress            string               `gorm:"not null"`
	FingerprintJSON      fingerprint.Document `gorm:"column:fingerprint_json;type:jsonb"`
	HashWebGLCanvasAudio *string              `gorm:"column:hash_webgl_canvas_audio"`
	HashWebGLCanvas      *string              `gorm:"column:hash_webgl_canvas"`
	HashWebGLAudio       *string              `gorm:"column:hash_webgl_audio"`
	HashCanvasAudio      *string              `gorm:"column:hash_canvas_audio"`
	ReputationJSON       *string              `gorm:"column:reputation_json;type:jsonb"`
	RejectionReason      *string
	RejectionKind        *string
	ConsumedAt           *time.Time
	CreatedAt            time.Time
}

func (Attempt) TableName() string {
	return "verification_attempts"
}

func (a *Attempt) setHashes(h *fingerprint.Hashes) {
	if h == nil {
		return
	}
	a.HashWebGLCanvasAudio = &h.WebGLCanvasAudio
	a.HashWebGLCanvas = &h.WebGLCanvas
	a.HashWebGLAudio = &h.WebGLAudio
	a.HashCanvasAudio = &h.CanvasAudio
}

// Hashes returns the stored comparison hashes, or nil when none were computed.
func (a *Attempt) Hashes() *fingerprint.Hashes {
	if a.HashWebGLCanvasAudio == nil {
		return nil
	}
	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}
	return &fingerprint.Hashes{
		WebGLCanvasAudio: *a.HashWebGLCanvasAudio,
		WebGLCanvas:      deref(a.HashWebGLCanvas),
		WebGLAudio:       deref(a.HashWebGLAudio),
		CanvasAudio:      deref(a.HashCanvasAudio),
	}
}
