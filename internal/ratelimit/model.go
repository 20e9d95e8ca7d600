package ratelimit

import (
	"fmt"
	"time"
)

// Target is the dimension a rule counts actions against.
type Target string

const (
	TargetUser          Target = "user"
	TargetIP            Target = "ip"
	TargetDevice        Target = "device"
	TargetUserAndIP     Target = "user_ip"
	TargetUserAndDevice Target = "user_device"
	TargetIPAndDevice   Target = "ip_device"
	TargetAll           Target = "all"
)

// Targets lists every dimension in a fixed order.
var Targets = []Target{
	TargetUser,
	TargetIP,
	TargetDevice,
	TargetUserAndIP,
	TargetUserAndDevice,
	TargetIPAndDevice,
	TargetAll,
}

func ParseTarget(s string) (Target, error) {
	switch t := Target(s); t {
	case TargetUser, TargetIP, TargetDevice, TargetUserAndIP, TargetUserAndDevice, TargetIPAndDevice, TargetAll:
		return t, nil
	default:
		return "", fmt.Errorf("unknown rate limit target %q", s)
	}
}

type Action string

const (
	ActionCreateBoard   Action = "create_board"
	ActionCreatePost    Action = "create_post"
	ActionCreateComment Action = "create_comment"
	ActionSearchHistory Action = "search_history"
)

func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionCreateBoard, ActionCreatePost, ActionCreateComment, ActionSearchHistory:
		return a, nil
	default:
		return "", fmt.Errorf("unknown rate limit action %q", s)
	}
}

// Subject is the actor whose action is being counted.
type Subject struct {
	UserID     uint
	IPHash     string
	DeviceHash string
}

// Key returns the dimension-tagged target key for t. The tag prefix keeps keys
// from different dimensions disjoint.
func (s Subject) Key(t Target) string {
	switch t {
	case TargetUser:
		return fmt.Sprintf("user:%d", s.UserID)
	case TargetIP:
		return "ip:" + s.IPHash
	case TargetDevice:
		return "device:" + s.DeviceHash
	case TargetUserAndIP:
		return fmt.Sprintf("user_ip:%d:%s", s.UserID, s.IPHash)
	case TargetUserAndDevice:
		return fmt.Sprintf("user_device:%d:%s", s.UserID, s.DeviceHash)
	case TargetIPAndDevice:
		return fmt.Sprintf("ip_device:%s:%s", s.IPHash, s.DeviceHash)
	case TargetAll:
		return fmt.Sprintf("all:%d:%s:%s", s.UserID, s.IPHash, s.DeviceHash)
	default:
		panic(fmt.Sprintf("ratelimit: unhandled target %q", t))
	}
}

// Keys returns the target key for every dimension.
func (s Subject) Keys() []string {
	keys := make([]string, 0, len(Targets))
	for _, t := range Targets {
		keys = append(keys, s.Key(t))
	}
	return keys
}

type Rule struct {
	ID               uint   `gorm:"primaryKey"`
	Name             string `gorm:"not null"`
	Target           Target `gorm:"type:varchar(32);not null"`
	ActionType       Action `gorm:"type:varchar(32);not null"`
	Threshold        int    `gorm:"not null"`
	TimeFrameSeconds int    `gorm:"not null"`
	LockoutSeconds   int    `gorm:"not null"`
	IsEnabled        bool   `gorm:"not null;default:true"`
	CreatedBy        *uint
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (Rule) TableName() string {
	return "rate_limit_rules"
}

func (r *Rule) Window() time.Duration {
	return time.Duration(r.TimeFrameSeconds) * time.Second
}

func (r *Rule) Lockout() time.Duration {
	return time.Duration(r.LockoutSeconds) * time.Second
}

// Event is one tracked action under one rule.
type Event struct {
	ID        uint   `gorm:"primaryKey"`
	RuleID    uint   `gorm:"not null"`
	TargetKey string `gorm:"not null"`
	CreatedAt time.Time
}

func (Event) TableName() string {
	return "rate_limit_tracker"
}

type Lock struct {
	ID        uint   `gorm:"primaryKey"`
	TargetKey string `gorm:"uniqueIndex;not null"`
	RuleID    uint   `gorm:"not null"`
	ExpiresAt time.Time
	CreatedAt time.Time
}

func (Lock) TableName() string {
	return "rate_limit_locks"
}

// LockInfo is an active lock joined with the name of the rule that set it.
type LockInfo struct {
	TargetKey string
	ExpiresAt time.Time
	RuleID    uint
	RuleName  *string
}
