package chat

import (
	"context"
	"strings"
	"unicode/utf8"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100

	MaxContentLen  = 4000
	MaxRoomNameLen = 100
)

type Service struct {
	repo *Repo
}

func NewService(repo *Repo) *Service {
	return &Service{repo: repo}
}

func (s *Service) Repo() *Repo { return s.repo }

func (s *Service) CreateRoom(ctx context.Context, name string) (*Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyRoomName
	}
	if utf8.RuneCountInString(name) > MaxRoomNameLen {
		return nil, ErrRoomNameTooLong
	}
	return s.repo.CreateRoom(ctx, name)
}

func (s *Service) ListRooms(ctx context.Context) ([]Room, error) {
	return s.repo.ListRooms(ctx)
}

func (s *Service) GetRoom(ctx context.Context, id uint64) (*Room, error) {
	return s.repo.GetRoom(ctx, id)
}

type HistoryPage struct {
	Messages []Message
	Total    int64
	HasMore  bool
}

// History returns page (1-based) of a room's messages in ascending id order.
func (s *Service) History(ctx context.Context, roomID uint64, page, limit int) (*HistoryPage, error) {
	page, limit = NormalizePage(page, limit)

	if _, err := s.repo.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}

	offset := (page - 1) * limit
	msgs, err := s.repo.ListMessagesDesc(ctx, roomID, limit, offset)
	if err != nil {
		return nil, err
	}
	total, err := s.repo.CountMessages(ctx, roomID)
	if err != nil {
		return nil, err
	}

	// reverse to ASC (oldest -> newest)
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	return &HistoryPage{
		Messages: msgs,
		Total:    total,
		HasMore:  int64(offset+len(msgs)) < total,
	}, nil
}

func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return page, limit
}

// ValidateContent rejects content that is blank after trimming or too long.
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentLen {
		return ErrContentTooLong
	}
	return nil
}
