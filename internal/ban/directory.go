package ban

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var ErrContentNotFound = errors.New("content not found")

type Moderation string

const (
	ModerationAlpha Moderation = "alpha"
	// ModerationBeta lets thread creators moderate their own threads.
	ModerationBeta Moderation = "beta"
)

// Content is the ban-relevant part of a post or comment.
type Content struct {
	BoardID    uint
	ThreadID   uint
	UserHash   string
	IPHash     string
	DeviceHash string
}

func (c *Content) HashFor(t Type) string {
	switch t {
	case TypeUser:
		return c.UserHash
	case TypeIP:
		return c.IPHash
	case TypeDevice:
		return c.DeviceHash
	default:
		return ""
	}
}

type Board struct {
	ID         uint
	OwnerID    *uint
	Moderation Moderation
}

// ContentDirectory reads boards, threads and comments owned by the board service.
type ContentDirectory interface {
	Post(ctx context.Context, tx *gorm.DB, postID uint) (*Content, error)
	Comment(ctx context.Context, tx *gorm.DB, commentID uint) (*Content, error)
	Board(ctx context.Context, tx *gorm.DB, boardID uint) (*Board, error)
	// ThreadCreator returns the board of a thread and the user who started it.
	ThreadCreator(ctx context.Context, tx *gorm.DB, postID uint) (boardID uint, creatorID *uint, err error)
}

type directory struct {
	db *gorm.DB
}

func NewDirectory(db *gorm.DB) ContentDirectory {
	return &directory{db: db}
}

func (d *directory) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return d.db.WithContext(ctx)
}

type contentRow struct {
	BoardID             uint
	ThreadID            uint
	PermanentUserHash   *string
	PermanentIPHash     *string
	PermanentDeviceHash *string
}

func (row contentRow) content() *Content {
	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}
	return &Content{
		BoardID:    row.BoardID,
		ThreadID:   row.ThreadID,
		UserHash:   deref(row.PermanentUserHash),
		IPHash:     deref(row.PermanentIPHash),
		DeviceHash: deref(row.PermanentDeviceHash),
	}
}

func (d *directory) Post(ctx context.Context, tx *gorm.DB, postID uint) (*Content, error) {
	var rows []contentRow
	err := d.conn(ctx, tx).Raw(`
		SELECT board_id, id AS thread_id, permanent_user_hash, permanent_ip_hash, permanent_device_hash
		FROM posts WHERE id = ?`, postID).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrContentNotFound
	}
	return rows[0].content(), nil
}

func (d *directory) Comment(ctx context.Context, tx *gorm.DB, commentID uint) (*Content, error) {
	var rows []contentRow
	err := d.conn(ctx, tx).Raw(`
		SELECT p.board_id, c.post_id AS thread_id,
		       c.permanent_user_hash, c.permanent_ip_hash, c.permanent_device_hash
		FROM comments c JOIN posts p ON p.id = c.post_id
		WHERE c.id = ?`, commentID).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrContentNotFound
	}
	return rows[0].content(), nil
}

func (d *directory) Board(ctx context.Context, tx *gorm.DB, boardID uint) (*Board, error) {
	var rows []struct {
		ID             uint
		CreatedBy      *uint
		ModerationType string
	}
	err := d.conn(ctx, tx).Raw(
		`SELECT id, created_by, moderation_type FROM boards WHERE id = ?`, boardID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrContentNotFound
	}
	return &Board{
		ID:         rows[0].ID,
		OwnerID:    rows[0].CreatedBy,
		Moderation: Moderation(rows[0].ModerationType),
	}, nil
}

func (d *directory) ThreadCreator(ctx context.Context, tx *gorm.DB, postID uint) (uint, *uint, error) {
	var rows []struct {
		BoardID uint
		UserID  *uint
	}
	err := d.conn(ctx, tx).Raw(`SELECT board_id, user_id FROM posts WHERE id = ?`, postID).Scan(&rows).Error
	if err != nil {
		return 0, nil, err
	}
	if len(rows) == 0 {
		return 0, nil, ErrContentNotFound
	}
	return rows[0].BoardID, rows[0].UserID, nil
}
