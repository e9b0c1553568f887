package routing

import (
	"context"

	"github.com/google/uuid"
	"github.com/tphakala/notifyroute/internal/errors"
	"github.com/tphakala/notifyroute/internal/logger"
)

var (
	// ErrNoMatch means no enabled rule with recipients and channels matched.
	ErrNoMatch = errors.New("no matching rules or recipients")
	// ErrRuleEmpty rejects a rule test when the rule cannot deliver anywhere.
	ErrRuleEmpty = errors.New("rule has no channels or recipients")
)

// Client-facing messages for the sentinels above.
const (
	MsgNoMatch   = "No matching rules or recipients"
	MsgRuleEmpty = "Rule has no channels or recipients"
)

// Receipt reports an accepted event.
type Receipt struct {
	Status        string `json:"status"`
	EventID       string `json:"event_id"`
	TasksEnqueued int    `json:"tasks_enqueued"`
}

// Service is the ingress entry point: route, plan, and schedule.
type Service struct {
	router    *Router
	scheduler *Scheduler
	log       logger.Logger
}

// NewService wires a router and a scheduler.
func NewService(router *Router, scheduler *Scheduler, log logger.Logger) *Service {
	return &Service{router: router, scheduler: scheduler, log: log.Module("ingest")}
}

// Ingest routes event and enqueues its plan. A missing event id is
// generated. ErrNoMatch is returned when the plan is empty.
func (s *Service) Ingest(ctx context.Context, event Event) (*Receipt, error) {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}

	plan, err := s.router.BuildDeliveryPlan(ctx, event)
	if err != nil {
		return nil, err
	}
	if len(plan) == 0 {
		return nil, errors.WithMessage(ErrNoMatch, errors.CategoryNotFound, "ingest event", MsgNoMatch)
	}

	n := s.scheduler.Schedule(ctx, plan)
	s.log.Info("event accepted",
		logger.String("event_id", event.EventID),
		logger.String("severity", event.Severity),
		logger.Int("plan_items", len(plan)),
		logger.Int("tasks_enqueued", n))
	return &Receipt{Status: "queued", EventID: event.EventID, TasksEnqueued: n}, nil
}

// TestRule schedules event through a single rule, skipping rule matching.
func (s *Service) TestRule(ctx context.Context, ruleID string, event Event) (*Receipt, error) {
	rule, err := s.router.rules.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}

	plan, err := s.router.PlanForRule(ctx, rule, event)
	if err != nil {
		return nil, err
	}
	if len(plan) == 0 {
		return nil, errors.WithMessage(ErrRuleEmpty, errors.CategoryValidation, "test rule", MsgRuleEmpty)
	}

	n := s.scheduler.Schedule(ctx, plan)
	s.log.Info("rule test queued",
		logger.String("rule_id", rule.ID),
		logger.String("event_id", event.EventID),
		logger.Int("tasks_enqueued", n))
	return &Receipt{Status: "queued", EventID: event.EventID, TasksEnqueued: n}, nil
}
