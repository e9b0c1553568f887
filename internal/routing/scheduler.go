package routing

import (
	"context"
	"time"

	"github.com/tphakala/notifyroute/internal/channels"
	"github.com/tphakala/notifyroute/internal/delivery"
	"github.com/tphakala/notifyroute/internal/logger"
	"github.com/tphakala/notifyroute/internal/queue"
)

// Scheduler turns plan items into delayed delivery tasks.
type Scheduler struct {
	enq       queue.Enqueuer
	queueName string
	log       logger.Logger
}

// NewScheduler creates a scheduler that enqueues onto queueName.
func NewScheduler(enq queue.Enqueuer, queueName string, log logger.Logger) *Scheduler {
	return &Scheduler{enq: enq, queueName: queueName, log: log.Module("scheduler")}
}

// Schedule enqueues one task per channel of every item. The channel at index
// i is delayed by i × failover_timeout_sec. Every step fires on its own
// schedule whatever the outcome of earlier steps. Returns the number of
// tasks actually enqueued; enqueue failures are logged and skipped.
func (s *Scheduler) Schedule(ctx context.Context, plan []PlanItem) int {
	enqueued := 0
	for _, item := range plan {
		step := time.Duration(item.FailoverTimeoutSec) * time.Second
		var delay time.Duration
		for _, channelID := range item.ChannelIDs {
			task := delivery.Task{
				EventID:     item.EventID,
				RuleID:      item.RuleID,
				ChannelID:   channelID,
				RecipientID: item.RecipientID,
				Context:     item.Context,
				Subject:     item.Subject,
				Body:        item.Body,
			}
			if _, err := s.enq.Enqueue(ctx, delivery.TaskProcessEvent, task, s.queueName, delay); err != nil {
				s.log.Error("failed to enqueue delivery task",
					logger.String("event_id", item.EventID),
					logger.String("rule_id", item.RuleID),
					logger.String("channel_id", channelID),
					logger.Error(err))
			} else {
				enqueued++
			}
			delay += step
		}
	}
	return enqueued
}

// ScheduleTest queues a channel test send.
func (s *Scheduler) ScheduleTest(ctx context.Context, task channels.TestTask) error {
	_, err := s.enq.Enqueue(ctx, delivery.TaskSendTest, task, s.queueName, 0)
	return err
}
