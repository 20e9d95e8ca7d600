package ban

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/elskow/boardguard/internal/account"
	"github.com/elskow/boardguard/internal/apperr"
	"github.com/elskow/boardguard/internal/encryption"
	"github.com/elskow/boardguard/internal/validation"
)

const maxPageSize = 100

// Actor is the moderator performing a ban operation.
type Actor struct {
	UserID uint
	Role   account.Role
}

// CreateRequest names exactly one source: a post, a comment, or a raw hash.
type CreateRequest struct {
	BanType         Type   `validate:"required,oneof=user ip device"`
	Scope           Scope  `validate:"required,oneof=global board thread"`
	SourcePostID    *uint  `validate:"omitempty,gt=0"`
	SourceCommentID *uint  `validate:"omitempty,gt=0"`
	HashValue       string `validate:"omitempty,len=64,hexadecimal"`
	BoardID         *uint  `validate:"omitempty,gt=0"`
	ThreadID        *uint  `validate:"omitempty,gt=0"`
	Reason          string `validate:"max=1000"`
	ExpiresAt       *time.Time
	SourceEmail     string `validate:"max=255"`
	SourceIP        string `validate:"max=64"`
	SourceDevice    string
}

type Page struct {
	Items      []Details
	TotalCount int64
}

type Service struct {
	log        *zap.Logger
	repository Repository
	directory  ContentDirectory
	encryptor  encryption.Encryptor
	now        func() time.Time
}

func NewService(log *zap.Logger, repo Repository, directory ContentDirectory, encryptor encryption.Encryptor) *Service {
	return &Service{
		log:        log,
		repository: repo,
		directory:  directory,
		encryptor:  encryptor,
		now:        time.Now,
	}
}

// Create checks permissions, refuses duplicates for the same scope, then
// stores the ban with its source PII encrypted.
func (s *Service) Create(ctx context.Context, tx *gorm.DB, actor Actor, req CreateRequest) (*Ban, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	isAdmin := actor.Role.IsAdmin()
	hash, source, err := s.resolveSource(ctx, tx, isAdmin, req)
	if err != nil {
		return nil, err
	}

	if req.BanType == TypeDevice && !isAdmin {
		return nil, apperr.Forbidden("device bans are restricted to admins")
	}

	boardID, postID, err := s.resolveScope(ctx, tx, actor, req, source)
	if err != nil {
		return nil, err
	}

	repo := s.repository.WithTx(tx)
	now := s.now()
	existing, err := repo.FindActive(ctx, []Key{{Type: req.BanType, Hash: hash}}, now)
	if err != nil {
		return nil, apperr.Internal("duplicate ban lookup", err)
	}
	for i := range existing {
		if existing[i].SameScope(boardID, postID) {
			return nil, apperr.Conflict(duplicateMessage(req.Scope))
		}
	}

	ban := &Ban{
		BanType:   req.BanType,
		HashValue: hash,
		BoardID:   boardID,
		PostID:    postID,
		CreatedBy: actor.UserID,
		ExpiresAt: req.ExpiresAt,
		CreatedAt: now,
	}
	if req.Reason != "" {
		reason := req.Reason
		ban.Reason = &reason
	}
	if source != nil {
		ban.SourcePostID = req.SourcePostID
		ban.SourceCommentID = req.SourceCommentID
	}
	if ban.EncryptedEmail, err = s.seal(req.SourceEmail); err != nil {
		return nil, err
	}
	if ban.EncryptedIP, err = s.seal(req.SourceIP); err != nil {
		return nil, err
	}
	if ban.EncryptedDevice, err = s.seal(req.SourceDevice); err != nil {
		return nil, err
	}

	if err := repo.Create(ctx, ban); err != nil {
		return nil, apperr.Internal("create ban", err)
	}

	s.log.Info("ban created",
		zap.Uint("ban_id", ban.ID),
		zap.String("type", string(ban.BanType)),
		zap.String("scope", string(ban.Scope())),
		zap.Uint("created_by", actor.UserID))
	return ban, nil
}

func (s *Service) resolveSource(ctx context.Context, tx *gorm.DB, isAdmin bool, req CreateRequest) (string, *Content, error) {
	sources := 0
	for _, set := range []bool{req.SourcePostID != nil, req.SourceCommentID != nil, req.HashValue != ""} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		return "", nil, apperr.Validation("exactly one of post, comment or hash must be given")
	}

	var (
		content *Content
		err     error
	)
	switch {
	case req.SourcePostID != nil:
		content, err = s.directory.Post(ctx, tx, *req.SourcePostID)
	case req.SourceCommentID != nil:
		content, err = s.directory.Comment(ctx, tx, *req.SourceCommentID)
	default:
		if !isAdmin {
			return "", nil, apperr.Forbidden("bans by raw hash are restricted to admins")
		}
		return req.HashValue, nil, nil
	}
	if errors.Is(err, ErrContentNotFound) {
		return "", nil, apperr.NotFound("ban source not found")
	}
	if err != nil {
		return "", nil, apperr.Internal("load ban source", err)
	}

	hash := content.HashFor(req.BanType)
	if hash == "" {
		return "", nil, apperr.Validation(fmt.Sprintf("source has no %s hash", req.BanType))
	}
	return hash, content, nil
}

func (s *Service) resolveScope(ctx context.Context, tx *gorm.DB, actor Actor, req CreateRequest, source *Content) (*uint, *uint, error) {
	isAdmin := actor.Role.IsAdmin()

	switch req.Scope {
	case ScopeGlobal:
		if !isAdmin {
			return nil, nil, apperr.Forbidden("global bans are restricted to admins")
		}
		return nil, nil, nil

	case ScopeBoard:
		boardID := req.BoardID
		if source != nil {
			boardID = &source.BoardID
		}
		if boardID == nil {
			return nil, nil, apperr.Validation("board bans need a source or a board id")
		}
		if !isAdmin {
			board, err := s.board(ctx, tx, *boardID)
			if err != nil {
				return nil, nil, err
			}
			if !owns(board, actor.UserID) {
				return nil, nil, apperr.Forbidden("you do not moderate this board")
			}
		}
		return boardID, nil, nil

	case ScopeThread:
		threadID := req.ThreadID
		if source != nil {
			threadID = &source.ThreadID
		}
		if threadID == nil {
			return nil, nil, apperr.Validation("thread bans need a source or a thread id")
		}

		boardID, creatorID, err := s.directory.ThreadCreator(ctx, tx, *threadID)
		if errors.Is(err, ErrContentNotFound) {
			return nil, nil, apperr.NotFound("thread not found")
		}
		if err != nil {
			return nil, nil, apperr.Internal("load thread", err)
		}

		if !isAdmin {
			board, err := s.board(ctx, tx, boardID)
			if err != nil {
				return nil, nil, err
			}
			threadOwner := board.Moderation == ModerationBeta && creatorID != nil && *creatorID == actor.UserID
			if !owns(board, actor.UserID) && !threadOwner {
				return nil, nil, apperr.Forbidden("you do not moderate this thread")
			}
		}
		return &boardID, threadID, nil

	default:
		return nil, nil, apperr.Validation("unknown ban scope")
	}
}

func (s *Service) board(ctx context.Context, tx *gorm.DB, boardID uint) (*Board, error) {
	board, err := s.directory.Board(ctx, tx, boardID)
	if errors.Is(err, ErrContentNotFound) {
		return nil, apperr.NotFound("board not found")
	}
	if err != nil {
		return nil, apperr.Internal("load board", err)
	}
	return board, nil
}

func owns(board *Board, userID uint) bool {
	return board.OwnerID != nil && *board.OwnerID == userID
}

func duplicateMessage(scope Scope) string {
	switch scope {
	case ScopeThread:
		return "This user/IP/device is already banned in this thread."
	case ScopeBoard:
		return "This user/IP/device is already banned on this board."
	default:
		return "This user/IP/device is already banned globally."
	}
}

func (s *Service) seal(plaintext string) ([]byte, error) {
	if plaintext == "" {
		return nil, nil
	}
	sealed, err := s.encryptor.Encrypt(plaintext)
	if err != nil {
		return nil, apperr.Internal("encrypt ban source", err)
	}
	return sealed, nil
}

// Delete is allowed for admins, the ban's creator and the owner of its board.
func (s *Service) Delete(ctx context.Context, tx *gorm.DB, actor Actor, banID uint) error {
	repo := s.repository.WithTx(tx)
	ban, err := repo.Get(ctx, banID)
	if errors.Is(err, ErrBanNotFound) {
		return apperr.NotFound("ban not found")
	}
	if err != nil {
		return apperr.Internal("load ban", err)
	}

	allowed := actor.Role.IsAdmin() || ban.CreatedBy == actor.UserID
	if !allowed && ban.BoardID != nil {
		board, err := s.directory.Board(ctx, tx, *ban.BoardID)
		if err != nil && !errors.Is(err, ErrContentNotFound) {
			return apperr.Internal("load board", err)
		}
		allowed = board != nil && owns(board, actor.UserID)
	}
	if !allowed {
		return apperr.Forbidden("you may not remove this ban")
	}

	if err := repo.Delete(ctx, banID); err != nil {
		if errors.Is(err, ErrBanNotFound) {
			return apperr.NotFound("ban not found")
		}
		return apperr.Internal("delete ban", err)
	}
	s.log.Info("ban deleted", zap.Uint("ban_id", banID), zap.Uint("deleted_by", actor.UserID))
	return nil
}

// ListAll is the admin view, with source PII decrypted where possible.
func (s *Service) ListAll(ctx context.Context, actor Actor, page, perPage int) (*Page, error) {
	if !actor.Role.IsAdmin() {
		return nil, apperr.Forbidden("admin only")
	}
	return s.list(ctx, nil, page, perPage, true)
}

// ListMine returns bans the actor created, without PII.
func (s *Service) ListMine(ctx context.Context, actor Actor, page, perPage int) (*Page, error) {
	return s.list(ctx, &actor.UserID, page, perPage, false)
}

func (s *Service) list(ctx context.Context, createdBy *uint, page, perPage int, withPII bool) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > maxPageSize {
		perPage = 20
	}

	bans, total, err := s.repository.List(ctx, createdBy, (page-1)*perPage, perPage)
	if err != nil {
		return nil, apperr.Internal("list bans", err)
	}

	items := make([]Details, 0, len(bans))
	for _, b := range bans {
		d := Details{Ban: b, Scope: b.Scope()}
		if withPII {
			d.Email = s.open(b.ID, "email", b.EncryptedEmail)
			d.IP = s.open(b.ID, "ip", b.EncryptedIP)
			d.Device = s.open(b.ID, "device", b.EncryptedDevice)
		}
		d.EncryptedEmail, d.EncryptedIP, d.EncryptedDevice = nil, nil, nil
		items = append(items, d)
	}
	return &Page{Items: items, TotalCount: total}, nil
}

func (s *Service) open(banID uint, field string, sealed []byte) *string {
	if len(sealed) == 0 {
		return nil
	}
	plain, err := s.encryptor.Decrypt(sealed)
	if err != nil {
		s.log.Warn("could not decrypt ban source field",
			zap.Uint("ban_id", banID),
			zap.String("field", field),
			zap.Error(err))
		return nil
	}
	return &plain
}
