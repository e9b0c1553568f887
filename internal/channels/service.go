package channels

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/tphakala/notifyroute/internal/datastore/entities"
	"github.com/tphakala/notifyroute/internal/datastore/repository"
	"github.com/tphakala/notifyroute/internal/errors"
	"github.com/tphakala/notifyroute/internal/logger"
)

// Channel defaults applied when a create request leaves a field unset.
const (
	DefaultRetryAttempts    = 3
	DefaultRetryIntervalSec = 30
	DefaultTimeoutSec       = 10
	DefaultStatus           = "ok"
)

// TestEventPrefix marks the event ids of test sends in the delivery log.
const TestEventPrefix = "test-"

// ErrChannelDisabled rejects test sends on disabled channels.
var ErrChannelDisabled = errors.New("channel disabled")

// ChannelInput is a create request.
type ChannelInput struct {
	Name             string           `json:"name" validate:"required,max=255"`
	Type             string           `json:"type" validate:"required"`
	Config           entities.JSONMap `json:"config"`
	Enabled          *bool            `json:"enabled"`
	Status           *string          `json:"status" validate:"omitempty,max=32"`
	ConcurrencyLimit *int             `json:"concurrency_limit" validate:"omitempty,min=1"`
	RetryAttempts    *int             `json:"retry_attempts" validate:"omitempty,min=0"`
	RetryIntervalSec *int             `json:"retry_interval_sec" validate:"omitempty,min=0"`
	TimeoutSec       *int             `json:"timeout_sec" validate:"omitempty,min=1"`
	IsPrimary        *bool            `json:"is_primary"`
}

// ChannelPatch is a partial update. Nil fields are left unchanged.
type ChannelPatch struct {
	Name             *string          `json:"name" validate:"omitempty,min=1,max=255"`
	Type             *string          `json:"type"`
	Config           entities.JSONMap `json:"config"`
	Enabled          *bool            `json:"enabled"`
	Status           *string          `json:"status" validate:"omitempty,max=32"`
	ConcurrencyLimit *int             `json:"concurrency_limit" validate:"omitempty,min=1"`
	RetryAttempts    *int             `json:"retry_attempts" validate:"omitempty,min=0"`
	RetryIntervalSec *int             `json:"retry_interval_sec" validate:"omitempty,min=0"`
	TimeoutSec       *int             `json:"timeout_sec" validate:"omitempty,min=1"`
	IsPrimary        *bool            `json:"is_primary"`
}

// TestTask is a single test send to one address through one channel.
type TestTask struct {
	EventID   string         `json:"event_id"`
	ChannelID string         `json:"channel_id"`
	Recipient string         `json:"recipient"`
	Subject   string         `json:"subject,omitempty"`
	Body      string         `json:"body,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// TestSender performs a test send in the calling goroutine. It reports
// whether the transport accepted the message; the error is reserved for
// sends that could not be attempted.
type TestSender interface {
	SendTest(ctx context.Context, task TestTask) (bool, error)
}

// TestScheduler queues a test send for the delivery workers.
type TestScheduler interface {
	ScheduleTest(ctx context.Context, task TestTask) error
}

// TestRequest is the body of a channel test call.
type TestRequest struct {
	Recipient string         `json:"recipient" validate:"required"`
	Subject   string         `json:"subject"`
	Body      string         `json:"body"`
	Context   map[string]any `json:"context"`
}

// TestResult reports how a test send was handled.
type TestResult struct {
	Status  string `json:"status"`
	EventID string `json:"event_id"`
}

// Service owns channel writes so that every stored config is valid.
type Service struct {
	repo      repository.ChannelRepository
	sender    TestSender
	scheduler TestScheduler
	log       logger.Logger
}

// NewService builds a channel service. sender and scheduler may be nil when
// the caller never runs test sends.
func NewService(repo repository.ChannelRepository, sender TestSender, scheduler TestScheduler, log logger.Logger) *Service {
	return &Service{
		repo:      repo,
		sender:    sender,
		scheduler: scheduler,
		log:       log.Module("channels"),
	}
}

// List returns channels matching filter.
func (s *Service) List(ctx context.Context, filter repository.ChannelFilter) ([]entities.Channel, error) {
	return s.repo.ListChannels(ctx, filter)
}

// Get returns one channel.
func (s *Service) Get(ctx context.Context, id string) (*entities.Channel, error) {
	return s.repo.GetChannel(ctx, id)
}

// Delete removes a channel and its rule attachments.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.DeleteChannel(ctx, id); err != nil {
		return err
	}
	s.log.Info("channel deleted", logger.String("channel_id", id))
	return nil
}

// Create validates and stores a new channel.
func (s *Service) Create(ctx context.Context, in ChannelInput) (*entities.Channel, error) {
	kind, err := ParseKind(in.Type)
	if err != nil {
		return nil, invalid(Kind(in.Type), err.Error())
	}
	config := in.Config
	if config == nil {
		config = entities.JSONMap{}
	}
	if err := ValidateConfig(kind, config); err != nil {
		return nil, err
	}

	ch := &entities.Channel{
		Name:             strings.TrimSpace(in.Name),
		Type:             string(kind),
		Config:           config,
		Enabled:          valueOr(in.Enabled, true),
		Status:           valueOr(in.Status, DefaultStatus),
		ConcurrencyLimit: in.ConcurrencyLimit,
		RetryAttempts:    valueOr(in.RetryAttempts, DefaultRetryAttempts),
		RetryIntervalSec: valueOr(in.RetryIntervalSec, DefaultRetryIntervalSec),
		TimeoutSec:       valueOr(in.TimeoutSec, DefaultTimeoutSec),
		IsPrimary:        valueOr(in.IsPrimary, false),
	}
	if ch.Name == "" {
		return nil, invalid(kind, "Channel name is required", "name")
	}
	if err := s.repo.CreateChannel(ctx, ch); err != nil {
		return nil, uniqueName(kind, err)
	}

	s.log.Info("channel created",
		logger.String("channel_id", ch.ID),
		logger.String("type", ch.Type))
	return ch, nil
}

// Update applies patch and re-validates the resulting config.
func (s *Service) Update(ctx context.Context, id string, patch ChannelPatch) (*entities.Channel, error) {
	ch, err := s.repo.GetChannel(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		ch.Name = strings.TrimSpace(*patch.Name)
		if ch.Name == "" {
			return nil, invalid(Kind(ch.Type), "Channel name is required", "name")
		}
	}
	if patch.Type != nil {
		ch.Type = *patch.Type
	}
	if patch.Config != nil {
		ch.Config = patch.Config
	}
	kind, err := ParseKind(ch.Type)
	if err != nil {
		return nil, invalid(Kind(ch.Type), err.Error())
	}
	ch.Type = string(kind)
	if err := ValidateConfig(kind, ch.Config); err != nil {
		return nil, err
	}

	if patch.Enabled != nil {
		ch.Enabled = *patch.Enabled
	}
	if patch.Status != nil {
		ch.Status = *patch.Status
	}
	if patch.ConcurrencyLimit != nil {
		ch.ConcurrencyLimit = patch.ConcurrencyLimit
	}
	if patch.RetryAttempts != nil {
		ch.RetryAttempts = *patch.RetryAttempts
	}
	if patch.RetryIntervalSec != nil {
		ch.RetryIntervalSec = *patch.RetryIntervalSec
	}
	if patch.TimeoutSec != nil {
		ch.TimeoutSec = *patch.TimeoutSec
	}
	if patch.IsPrimary != nil {
		ch.IsPrimary = *patch.IsPrimary
	}

	if err := s.repo.UpdateChannel(ctx, ch); err != nil {
		return nil, uniqueName(kind, err)
	}
	s.log.Info("channel updated", logger.String("channel_id", ch.ID))
	return ch, nil
}

// TestChannel sends a test message to req.Recipient through channel id. With
// sync set the send runs inline and its error is returned; otherwise it is
// queued for the delivery workers.
func (s *Service) TestChannel(ctx context.Context, id string, req TestRequest, sync bool) (*TestResult, error) {
	ch, err := s.repo.GetChannel(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ch.Enabled {
		return nil, errors.WithMessage(ErrChannelDisabled, errors.CategoryValidation, "test channel", "Channel disabled")
	}
	if strings.TrimSpace(req.Recipient) == "" {
		return nil, invalid(Kind(ch.Type), "Test recipient is required", "recipient")
	}

	task := TestTask{
		EventID:   TestEventPrefix + uuid.NewString(),
		ChannelID: ch.ID,
		Recipient: strings.TrimSpace(req.Recipient),
		Subject:   req.Subject,
		Body:      req.Body,
		Context:   req.Context,
	}

	if sync {
		if s.sender == nil {
			return nil, errors.New("test sender not configured")
		}
		ok, err := s.sender.SendTest(ctx, task)
		if err != nil {
			return nil, err
		}
		status := "success"
		if !ok {
			status = "fail"
		}
		return &TestResult{Status: status, EventID: task.EventID}, nil
	}

	if s.scheduler == nil {
		return nil, errors.New("test scheduler not configured")
	}
	if err := s.scheduler.ScheduleTest(ctx, task); err != nil {
		return nil, errors.WithCategory(err, errors.CategoryTransient, "schedule test send")
	}
	s.log.Info("test send queued",
		logger.String("channel_id", ch.ID),
		logger.String("event_id", task.EventID))
	return &TestResult{Status: "queued", EventID: task.EventID}, nil
}

// uniqueName turns a duplicate-name conflict into a client validation error.
func uniqueName(kind Kind, err error) error {
	if errors.Is(err, repository.ErrDuplicateName) {
		return invalid(kind, "Channel name must be unique", "name")
	}
	return err
}

func valueOr[T any](p *T, fallback T) T {
	if p == nil {
		return fallback
	}
	return *p
}
