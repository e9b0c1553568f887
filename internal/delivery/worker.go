// Package delivery runs one notification attempt per (event, rule, channel,
// recipient): the suppression checks, rendering, dispatch and the audit log.
package delivery

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/tphakala/notifyroute/internal/channels"
	"github.com/tphakala/notifyroute/internal/controls"
	"github.com/tphakala/notifyroute/internal/datastore/entities"
	"github.com/tphakala/notifyroute/internal/datastore/repository"
	"github.com/tphakala/notifyroute/internal/errors"
	"github.com/tphakala/notifyroute/internal/logger"
	"github.com/tphakala/notifyroute/internal/metrics"
	"github.com/tphakala/notifyroute/internal/transport"
)

// Defaults applied when Options leaves a field zero.
const (
	DefaultTimeout             = 10 * time.Second
	DefaultStormBatchSize      = 10
	DefaultStormWindowFallback = 120 * time.Second
)

// Log messages written for terminal outcomes.
const (
	msgMissingEntities = "Missing required entities"
	msgChannelDisabled = "Channel disabled"
	msgSilenced        = "Silenced by window"
	msgDuplicate       = "Duplicate within dedup window"
)

// unknownEventID stands in for a task that arrived without an event id.
const unknownEventID = "unknown"

// ErrorReporter receives failures that escaped the pipeline.
type ErrorReporter interface {
	CaptureError(err error, tags map[string]string)
}

// Options tunes a Worker.
type Options struct {
	DefaultTimeout      time.Duration
	StormBatchSize      int
	StormWindowFallback time.Duration
	Reporter            ErrorReporter
	Now                 func() time.Time
}

// Worker executes delivery tasks.
type Worker struct {
	store      *repository.Store
	controls   *controls.Controls
	resolver   channels.Resolver
	dispatcher transport.Dispatcher
	metrics    *metrics.Metrics
	opts       Options
	log        logger.Logger
}

// NewWorker wires a Worker. m may be nil.
func NewWorker(
	store *repository.Store,
	ctrl *controls.Controls,
	resolver channels.Resolver,
	dispatcher transport.Dispatcher,
	m *metrics.Metrics,
	opts Options,
	log logger.Logger,
) *Worker {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.StormBatchSize <= 0 {
		opts.StormBatchSize = DefaultStormBatchSize
	}
	if opts.StormWindowFallback <= 0 {
		opts.StormWindowFallback = DefaultStormWindowFallback
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Worker{
		store:      store,
		controls:   ctrl,
		resolver:   resolver,
		dispatcher: dispatcher,
		metrics:    m,
		opts:       opts,
		log:        log.Module("delivery"),
	}
}

// delivery is the entity snapshot one task runs against.
type delivery struct {
	task      Task
	rule      *entities.Rule
	channel   *entities.Channel
	recipient *entities.Recipient

	// dedupClaimed is set once this run recorded the dedup key.
	dedupClaimed bool
}

// Process runs task through the gauntlet and writes exactly one outcome row
// (two when a storm batch boundary is crossed). Unexpected failures also
// write a fail row and come back as a *RetryableError.
func (w *Worker) Process(ctx context.Context, task Task) (res Result) {
	log := w.log.With(
		logger.String("event_id", task.EventID),
		logger.String("rule_id", task.RuleID),
		logger.String("channel_id", task.ChannelID),
		logger.String("recipient_id", task.RecipientID))

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("delivery panicked: %v", r)
			log.Error("delivery panicked",
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())))
			res = w.unexpected(ctx, task, err, log)
		}
		w.metrics.RecordDelivery(res.Outcome.Status)
	}()

	res, err := w.process(ctx, task, log)
	if err != nil {
		return w.unexpected(ctx, task, err, log)
	}
	return res
}

func (w *Worker) process(ctx context.Context, task Task, log logger.Logger) (Result, error) {
	d, missing, err := w.load(ctx, task)
	if err != nil {
		return Result{}, err
	}
	if missing {
		log.Warn("delivery entities missing, dropping task")
		return w.finish(ctx, task, terminal(msgMissingEntities, errors.New(msgMissingEntities)), nil)
	}

	// A dedup claim taken by this run is dropped again when the run ends in a
	// retry, so the retry is not mistaken for a duplicate.
	keepClaim := false
	defer func() {
		if d.dedupClaimed && !keepClaim {
			w.releaseDedup(ctx, d, log)
		}
	}()

	res, err := w.deliver(ctx, d, log)
	keepClaim = err == nil
	return res, err
}

// deliver runs the suppression checks, renders, resolves and dispatches.
func (w *Worker) deliver(ctx context.Context, d *delivery, log logger.Logger) (Result, error) {
	task := d.task
	if res, ok, err := w.suppress(ctx, d, log); err != nil || ok {
		return res, err
	}

	kind, err := channels.ParseKind(d.channel.Type)
	if err != nil {
		return w.finish(ctx, task, terminal(err.Error(), err), nil)
	}

	msg, err := w.render(ctx, d, kind)
	if err != nil {
		return Result{}, err
	}

	urls, err := w.resolver.ResolveURLs(kind, d.channel.Config, d.recipient.Address)
	if err != nil {
		log.Warn("no transport url for delivery", logger.Error(err))
		msgText := channels.MsgNoTransportURL
		if !errors.Is(err, channels.ErrNoTransportURL) {
			msgText = err.Error()
		}
		return w.finish(ctx, task, terminal(msgText, err), nil)
	}

	return w.dispatch(ctx, d, kind, urls, msg, log)
}

// load reads the task's entities. missing is set when any of them no longer
// exists; err is reserved for store failures worth retrying.
func (w *Worker) load(ctx context.Context, task Task) (d *delivery, missing bool, err error) {
	d = &delivery{task: task}
	if task.EventID == "" || task.RuleID == "" || task.ChannelID == "" || task.RecipientID == "" {
		return nil, true, nil
	}

	if d.rule, err = w.store.Rules.GetRule(ctx, task.RuleID); err != nil {
		return nil, repository.IsNotFound(err), notFoundIsNil(err)
	}
	if d.channel, err = w.store.Channels.GetChannel(ctx, task.ChannelID); err != nil {
		return nil, repository.IsNotFound(err), notFoundIsNil(err)
	}
	if d.recipient, err = w.store.Recipients.GetRecipient(ctx, task.RecipientID); err != nil {
		return nil, repository.IsNotFound(err), notFoundIsNil(err)
	}
	return d, false, nil
}

func notFoundIsNil(err error) error {
	if repository.IsNotFound(err) {
		return nil
	}
	return err
}

// suppress runs the channel, recipient, silence, dedup and rate-limit
// checks in that order. ok reports that the task was handled.
func (w *Worker) suppress(ctx context.Context, d *delivery, log logger.Logger) (res Result, ok bool, err error) {
	handle := func(reason, status, message string) (Result, bool, error) {
		log.Info("delivery suppressed",
			logger.String("reason", reason),
			logger.String("message", message))
		w.metrics.Suppressed(reason)
		res, err := w.finish(ctx, d.task, handled(status, message), nil)
		return res, true, err
	}

	if !d.channel.Enabled {
		return handle("channel_disabled", entities.StatusSuppressed, msgChannelDisabled)
	}
	if d.recipient.Suppressed() {
		return handle("recipient_status", entities.StatusSuppressed,
			fmt.Sprintf("Recipient status=%s", d.recipient.Status))
	}

	windows := controls.EffectiveWindows(d.recipient.SilenceWindows, d.rule.SilenceWindows)
	if w.controls.IsSilenced(ctx, d.recipient.ID, windows) {
		return handle("silence_window", entities.StatusSuppressed, msgSilenced)
	}

	if d.rule.DedupWindowSec > 0 {
		dup, err := w.controls.IsDuplicate(ctx, d.task.EventID, d.rule.ID, d.recipient.ID, d.rule.DedupWindowSec)
		if err != nil {
			return Result{}, false, err
		}
		if dup {
			if err := w.aggregateStorm(ctx, d, log); err != nil {
				return Result{}, false, err
			}
			return handle("dedup", entities.StatusDeduped, msgDuplicate)
		}
		d.dedupClaimed = true
	}

	if d.rule.RateLimit.Enabled() {
		scope := d.recipient.ID + ":" + d.channel.Type
		limit := d.rule.RateLimit
		decision, err := w.controls.CheckRateLimit(ctx, scope, limit.Limit, limit.WindowSec)
		if err != nil {
			return Result{}, false, err
		}
		if !decision.Allowed {
			return handle("rate_limit", entities.StatusRateLimited,
				fmt.Sprintf("count=%d limit=%d/%ds", decision.Count, limit.Limit, limit.WindowSec))
		}
	}

	return Result{}, false, nil
}

func (w *Worker) releaseDedup(ctx context.Context, d *delivery, log logger.Logger) {
	err := w.controls.ReleaseDuplicate(context.WithoutCancel(ctx), d.task.EventID, d.rule.ID, d.recipient.ID)
	if err != nil {
		log.Warn("failed to release dedup key, retry may be deduped", logger.Error(err))
	}
}

// aggregateStorm counts the duplicate and writes one summary row per full
// batch. The summary row carries no channel since it covers all of them.
func (w *Worker) aggregateStorm(ctx context.Context, d *delivery, log logger.Logger) error {
	window := d.rule.DedupWindowSec
	if window <= 0 {
		window = int(w.opts.StormWindowFallback / time.Second)
	}
	count, err := w.controls.AggregateStorm(ctx, d.rule.ID, d.recipient.ID, d.task.EventID, window)
	if err != nil {
		return err
	}
	if count == 0 || count%int64(w.opts.StormBatchSize) != 0 {
		return nil
	}

	log.Info("duplicate storm aggregated", logger.Int64("count", count))
	message := fmt.Sprintf("storm aggregated count=%d window=%ds", count, window)
	return w.store.Logs.CreateDeliveryLog(ctx, &entities.DeliveryLog{
		EventID:      d.task.EventID,
		RuleID:       strPtr(d.rule.ID),
		RecipientID:  strPtr(d.recipient.ID),
		Status:       entities.StatusDeduped,
		Attempt:      d.task.attempt(),
		ErrorMessage: &message,
	})
}

// render builds the message from the rule template, falling back to the
// subject and body carried on the event.
func (w *Worker) render(ctx context.Context, d *delivery, kind channels.Kind) (Message, error) {
	tmpl, err := w.template(ctx, d.rule)
	if err != nil {
		return Message{}, err
	}

	vars := d.task.Context
	body := deref(d.task.Body)
	subject := d.task.Subject
	if tmpl != nil {
		vars = mergeVars(tmpl.Variables, d.task.Context)
		body = tmpl.Body
		subject = tmpl.Subject
	}
	return RenderMessage(kind, subject, body, vars), nil
}

func (w *Worker) template(ctx context.Context, rule *entities.Rule) (*entities.Template, error) {
	if rule.Template != nil {
		return rule.Template, nil
	}
	if rule.TemplateID == nil || *rule.TemplateID == "" {
		return nil, nil
	}
	tmpl, err := w.store.Templates.GetTemplate(ctx, *rule.TemplateID)
	if errors.Is(err, repository.ErrTemplateNotFound) {
		return nil, nil
	}
	return tmpl, err
}

func (w *Worker) dispatch(ctx context.Context, d *delivery, kind channels.Kind, urls []string, msg Message, log logger.Logger) (Result, error) {
	timeout := w.opts.DefaultTimeout
	if d.channel.TimeoutSec > 0 {
		timeout = time.Duration(d.channel.TimeoutSec) * time.Second
	}
	limit := 0
	if d.channel.ConcurrencyLimit != nil {
		limit = *d.channel.ConcurrencyLimit
	}

	start := w.opts.Now()
	ok, err := w.dispatcher.Send(ctx, transport.Request{
		ChannelID:        d.channel.ID,
		ConcurrencyLimit: limit,
		URLs:             urls,
		Title:            msg.Title,
		Body:             msg.Body,
		Timeout:          timeout,
	})
	elapsed := w.opts.Now().Sub(start)
	w.metrics.ObserveDispatch(kind.String(), elapsed)

	if ok {
		log.Info("notification delivered", logger.Duration("latency", elapsed))
		return w.finish(ctx, d.task, handled(entities.StatusSuccess, ""), &elapsed)
	}

	if err == nil {
		err = errors.New("transport rejected the message")
	}
	log.Warn("notification dispatch failed", logger.Error(err))
	return w.finish(ctx, d.task, terminal(err.Error(), err), &elapsed)
}

// finish writes res as the task's log row.
func (w *Worker) finish(ctx context.Context, task Task, res Result, latency *time.Duration) (Result, error) {
	entry := task.logEntry(res.Outcome)
	if latency != nil {
		ms := int(latency.Milliseconds())
		entry.LatencyMs = &ms
	}
	if err := w.store.Logs.CreateDeliveryLog(ctx, entry); err != nil {
		return Result{}, fmt.Errorf("failed to write delivery log: %w", err)
	}
	return res, nil
}

// unexpected records err as a fail row and marks it retryable. The log write
// is best effort since the store itself may be what failed.
func (w *Worker) unexpected(ctx context.Context, task Task, err error, log logger.Logger) Result {
	res := retryable(err)
	log.Error("delivery failed unexpectedly, will retry",
		logger.Int("attempt", task.attempt()),
		logger.Error(err))

	if logErr := w.store.Logs.CreateDeliveryLog(context.WithoutCancel(ctx), task.logEntry(res.Outcome)); logErr != nil {
		log.Error("failed to write delivery log", logger.Error(logErr))
	}
	if w.opts.Reporter != nil {
		w.opts.Reporter.CaptureError(err, map[string]string{
			"component": "delivery",
			"event_id":  task.EventID,
			"rule_id":   task.RuleID,
		})
	}
	return res
}

func (t Task) logEntry(o Outcome) *entities.DeliveryLog {
	entry := &entities.DeliveryLog{
		EventID:     t.EventID,
		RuleID:      strPtr(t.RuleID),
		ChannelID:   strPtr(t.ChannelID),
		RecipientID: strPtr(t.RecipientID),
		Status:      o.Status,
		Attempt:     t.attempt(),
	}
	if entry.EventID == "" {
		entry.EventID = unknownEventID
	}
	if o.Message != "" {
		msg := o.Message
		entry.ErrorMessage = &msg
	}
	return entry
}

func (t Task) attempt() int {
	if t.Attempt < 1 {
		return 1
	}
	return t.Attempt
}

func mergeVars(defaults entities.JSONMap, vars map[string]any) map[string]any {
	if len(defaults) == 0 {
		return vars
	}
	merged := make(map[string]any, len(defaults)+len(vars))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range vars {
		merged[k] = v
	}
	return merged
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
