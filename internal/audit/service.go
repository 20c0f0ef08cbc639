package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
)

// WindowParams are the query arguments for one timeline page. Invalid fields are unfiltered.
type WindowParams struct {
	FromAt     pgtype.Timestamptz
	ToAt       pgtype.Timestamptz
	Actor      pgtype.Text
	Entity     pgtype.Text
	EntityID   pgtype.Text
	Action     pgtype.Text
	OffsetRows int32
	LimitRows  int32
}

// Repository reads audit_logs.
type Repository interface {
	TimelineWindow(ctx context.Context, arg WindowParams) ([]Entry, error)
}

// Service pages through the audit trail.
type Service struct {
	repo Repository
}

// NewService builds the audit timeline service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page of entries, newest first.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, errors.New("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	params := WindowParams{
		FromAt:     toPgTime(filters.From),
		ToAt:       toPgTime(filters.To),
		Actor:      optionalText(filters.Actor),
		Entity:     optionalText(filters.Entity),
		EntityID:   optionalText(filters.EntityID),
		Action:     optionalText(filters.Action),
		OffsetRows: int32((page - 1) * pageSize),
		LimitRows:  int32(pageSize + 1),
	}
	entries, err := s.repo.TimelineWindow(ctx, params)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(entries) > pageSize
	if hasNext {
		entries = entries[:pageSize]
	}
	if entries == nil {
		entries = []Entry{}
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Entries: entries, Paging: paging}, nil
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}
