package subscribers

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/jmehdipour/newsletter/internal/model"
	"github.com/jmehdipour/newsletter/internal/repository"
	"github.com/jmehdipour/newsletter/internal/util"
	"go.uber.org/zap"
)

var (
	ErrAlreadySubscribed = errors.New("email already subscribed")
	ErrInvalidEmail      = errors.New("invalid email")
	ErrNotFound          = errors.New("subscriber not found")
)

type Service struct {
	repo repository.SubscribersRepository
	log  *zap.Logger

	Now func() time.Time
}

func New(repo repository.SubscribersRepository, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, log: log, Now: time.Now}
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// Subscribe adds a new subscriber or re-activates one that left.
// The bool is true when a new row was created.
func (s *Service) Subscribe(ctx context.Context, rawEmail string) (*model.Subscriber, bool, error) {
	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return nil, false, err
	}
	now := s.Now().UTC()

	existing, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return nil, false, fmt.Errorf("get subscriber: %w", err)
	}
	if existing != nil {
		if existing.Subscribed {
			return nil, false, ErrAlreadySubscribed
		}
		if _, err := s.repo.SetSubscribed(ctx, email, true, now); err != nil {
			return nil, false, fmt.Errorf("resubscribe: %w", err)
		}
		existing.Subscribed = true
		existing.UpdatedAt = now
		s.log.Info("subscriber re-activated", zap.String("subscriber_id", existing.ID))
		return existing, false, nil
	}

	sub := model.Subscriber{
		ID:         util.NewIDAt(now),
		Email:      email,
		Subscribed: true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, false, ErrAlreadySubscribed
		}
		return nil, false, fmt.Errorf("create subscriber: %w", err)
	}
	s.log.Info("subscriber created", zap.String("subscriber_id", sub.ID))
	return &sub, true, nil
}

// Unsubscribe is idempotent for known emails. It does not cancel sends already snapshotted.
func (s *Service) Unsubscribe(ctx context.Context, rawEmail string) error {
	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return err
	}
	existing, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("get subscriber: %w", err)
	}
	if existing == nil {
		return ErrNotFound
	}
	if _, err := s.repo.SetSubscribed(ctx, email, false, s.Now().UTC()); err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	return nil
}
