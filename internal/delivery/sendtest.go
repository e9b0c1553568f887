package delivery

import (
	"context"
	"time"

	"github.com/tphakala/notifyroute/internal/channels"
	"github.com/tphakala/notifyroute/internal/datastore/entities"
	"github.com/tphakala/notifyroute/internal/errors"
	"github.com/tphakala/notifyroute/internal/logger"
	"github.com/tphakala/notifyroute/internal/transport"
)

const (
	defaultTestText   = "Test notification"
	msgSendTestFailed = "send_test failed"
)

// SendTest dispatches a one-off message through a single channel to an ad
// hoc address. It skips every suppression check and logs under the test
// event id with only the channel attached. The bool reports whether the
// transport accepted the message; errors are limited to a missing channel,
// an unresolvable address and store failures.
func (w *Worker) SendTest(ctx context.Context, t channels.TestTask) (bool, error) {
	log := w.log.With(
		logger.String("event_id", t.EventID),
		logger.String("channel_id", t.ChannelID))

	ch, err := w.store.Channels.GetChannel(ctx, t.ChannelID)
	if err != nil {
		return false, err
	}
	kind, err := channels.ParseKind(ch.Type)
	if err != nil {
		return false, errors.WithCategory(err, errors.CategoryValidation, "send test")
	}

	urls, err := w.resolver.ResolveURLs(kind, ch.Config, t.Recipient)
	if err != nil {
		log.Warn("test send has no transport url", logger.Error(err))
		if logErr := w.logTest(ctx, t, entities.StatusFail, err.Error(), nil); logErr != nil {
			return false, logErr
		}
		return false, errors.WithCategory(err, errors.CategoryValidation, "send test")
	}

	subject := t.Subject
	if subject == "" {
		subject = defaultTestText
	}
	body := t.Body
	if body == "" {
		body = defaultTestText
	}
	msg := RenderMessage(kind, &subject, body, t.Context)

	timeout := w.opts.DefaultTimeout
	if ch.TimeoutSec > 0 {
		timeout = time.Duration(ch.TimeoutSec) * time.Second
	}

	start := w.opts.Now()
	ok, sendErr := w.dispatcher.Send(ctx, transport.Request{
		URLs:    urls,
		Title:   msg.Title,
		Body:    msg.Body,
		Timeout: timeout,
	})
	elapsed := w.opts.Now().Sub(start)
	w.metrics.ObserveDispatch(kind.String(), elapsed)

	status, message := entities.StatusSuccess, ""
	if !ok {
		status, message = entities.StatusFail, msgSendTestFailed
		log.Warn("test send failed", logger.Error(sendErr))
	} else {
		log.Info("test send delivered", logger.Duration("latency", elapsed))
	}
	w.metrics.RecordDelivery(status)

	if err := w.logTest(ctx, t, status, message, &elapsed); err != nil {
		return false, err
	}
	if err := w.store.Channels.MarkTested(ctx, ch.ID, w.opts.Now()); err != nil {
		log.Warn("failed to stamp channel test time", logger.Error(err))
	}
	return ok, nil
}

func (w *Worker) logTest(ctx context.Context, t channels.TestTask, status, message string, latency *time.Duration) error {
	entry := &entities.DeliveryLog{
		EventID:   t.EventID,
		ChannelID: strPtr(t.ChannelID),
		Status:    status,
		Attempt:   1,
	}
	if message != "" {
		entry.ErrorMessage = &message
	}
	if latency != nil {
		ms := int(latency.Milliseconds())
		entry.LatencyMs = &ms
	}
	return w.store.Logs.CreateDeliveryLog(ctx, entry)
}
