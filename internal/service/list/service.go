package list

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/acme/power-dialer/internal/domain"
	"github.com/acme/power-dialer/internal/repository"
	apperrors "github.com/acme/power-dialer/pkg/errors"
)

// Service manages contact lists and the call history recorded against them.
type Service struct {
	contacts     repository.ContactRepository
	dispositions repository.DispositionStore
	events       repository.LineEventStore
	now          func() time.Time
}

// NewService builds the list service.
func NewService(
	contacts repository.ContactRepository,
	dispositions repository.DispositionStore,
	events repository.LineEventStore,
) *Service {
	return &Service{
		contacts:     contacts,
		dispositions: dispositions,
		events:       events,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// ContactInput describes one contact to import.
type ContactInput struct {
	Name         string
	Phones       []string
	Organization string
	Properties   map[string]any
}

// CreateListInput encapsulates a list import.
type CreateListInput struct {
	Name     string
	Contacts []ContactInput
}

// CreateList stores a new list. Contacts are dialed in the order given.
func (s *Service) CreateList(ctx context.Context, input CreateListInput) (*repository.ContactList, error) {
	if err := validateCreateInput(input); err != nil {
		return nil, err
	}

	now := s.now()
	list := repository.ContactList{
		ID:        uuid.New(),
		Name:      strings.TrimSpace(input.Name),
		Size:      len(input.Contacts),
		CreatedAt: now,
	}
	contacts := make([]domain.Contact, 0, len(input.Contacts))
	for _, c := range input.Contacts {
		contacts = append(contacts, domain.Contact{
			ID:           uuid.New(),
			Name:         strings.TrimSpace(c.Name),
			Phones:       trimAll(c.Phones),
			Organization: c.Organization,
			Properties:   c.Properties,
		})
	}

	if err := s.contacts.CreateList(ctx, list, contacts); err != nil {
		return nil, fmt.Errorf("list service: create list: %w", err)
	}
	return &list, nil
}

// GetList fetches list metadata.
func (s *Service) GetList(ctx context.Context, id uuid.UUID) (*repository.ContactList, error) {
	return s.contacts.GetList(ctx, id)
}

// DispositionPage is one page of a list's dispositions.
type DispositionPage struct {
	Dispositions []domain.Disposition
	PagingState  []byte
}

// ListDispositions pages through the dispositions recorded for a list.
func (s *Service) ListDispositions(ctx context.Context, listID uuid.UUID, limit int, pagingState []byte) (*DispositionPage, error) {
	items, next, err := s.dispositions.ListByList(ctx, listID, clampLimit(limit), pagingState)
	if err != nil {
		return nil, err
	}
	return &DispositionPage{Dispositions: items, PagingState: next}, nil
}

// LineEventPage is one page of a run's line transitions.
type LineEventPage struct {
	Events      []domain.LineEvent
	PagingState []byte
}

// ListLineEvents pages through the transitions recorded for a run.
func (s *Service) ListLineEvents(ctx context.Context, runID uuid.UUID, limit int, pagingState []byte) (*LineEventPage, error) {
	items, next, err := s.events.ListByRun(ctx, runID, clampLimit(limit), pagingState)
	if err != nil {
		return nil, err
	}
	return &LineEventPage{Events: items, PagingState: next}, nil
}

// EncodePagingState turns a Scylla paging state into an opaque page token.
// The last page has no token.
func EncodePagingState(state []byte) string {
	if len(state) == 0 {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(state)
}

// DecodePagingState reverses EncodePagingState. An empty token reads the
// first page.
func DecodePagingState(token string) ([]byte, error) {
	if token == "" {
		return nil, nil
	}
	state, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed page token", apperrors.ErrValidation)
	}
	return state, nil
}

func validateCreateInput(input CreateListInput) error {
	if strings.TrimSpace(input.Name) == "" {
		return fmt.Errorf("%w: list name is required", apperrors.ErrValidation)
	}
	if len(input.Contacts) == 0 {
		return fmt.Errorf("%w: a list needs at least one contact", apperrors.ErrValidation)
	}
	for i, c := range input.Contacts {
		if len(trimAll(c.Phones)) == 0 {
			return fmt.Errorf("%w: contact %d has no phone number", apperrors.ErrValidation, i)
		}
	}
	return nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 500:
		return 500
	}
	return limit
}
