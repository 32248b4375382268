package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rcourtman/storefront/internal/logging"
	"github.com/rcourtman/storefront/internal/storefront/issues"
	"github.com/rcourtman/storefront/internal/storefront/sfmetrics"
)

// ErrClosed is returned by SendNow once the dispatcher has been closed.
var ErrClosed = errors.New("notification dispatcher closed")

// Notification is one email waiting to be rendered and sent.
type Notification struct {
	Template    Template
	To          string
	ReplyTo     string
	Data        any
	Attachments []Attachment
	// Attach builds extra attachments on the delivering worker, off the
	// request path. It may return nil.
	Attach func(ctx context.Context) []Attachment

	// Context for the issue sink when delivery fails.
	OrganizationID  string
	PurchaseID      string
	ClientReference string
}

// DispatcherConfig controls the worker pool.
type DispatcherConfig struct {
	From      string
	SiteName  string
	Workers   int
	QueueSize int
}

// Dispatcher sends notifications from a bounded in-process queue. Enqueue
// never blocks; a full queue drops the notification and reports an issue.
type Dispatcher struct {
	sender Sender
	issues issues.Reporter
	cfg    DispatcherConfig

	queue chan queued

	mu      sync.RWMutex
	closed  bool
	started bool
	group   *errgroup.Group
}

type queued struct {
	n   Notification
	ctx context.Context
}

// NewDispatcher creates a dispatcher. Call Start before enqueueing.
func NewDispatcher(cfg DispatcherConfig, sender Sender, reporter issues.Reporter) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if sender == nil {
		sender = &LogSender{}
	}
	return &Dispatcher{
		sender: sender,
		issues: reporter,
		cfg:    cfg,
		queue:  make(chan queued, cfg.QueueSize),
	}
}

// Start launches the workers. They exit when the queue is closed by Close.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	g := new(errgroup.Group)
	for i := 0; i < d.cfg.Workers; i++ {
		g.Go(func() error {
			for item := range d.queue {
				_ = d.deliver(item.ctx, item.n)
			}
			return nil
		})
	}
	d.group = g

	logging.FromContext(ctx).Info().
		Int("workers", d.cfg.Workers).
		Int("queue_size", d.cfg.QueueSize).
		Msg("Notification workers started")
}

// Enqueue schedules n for delivery. The request context is detached so
// delivery outlives the request that triggered it.
func (d *Dispatcher) Enqueue(ctx context.Context, n Notification) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(ctx, n, ErrClosed)
		return
	}

	select {
	case d.queue <- queued{n: n, ctx: context.WithoutCancel(ctx)}:
		sfmetrics.NotificationsTotal.WithLabelValues(string(n.Template), "queued").Inc()
	default:
		d.drop(ctx, n, errors.New("notification queue is full"))
	}
}

// SendNow renders and sends n synchronously. Failures are reported to the
// issue sink and returned.
func (d *Dispatcher) SendNow(ctx context.Context, n Notification) error {
	d.mu.RLock()
	closed := d.closed
	d.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	return d.deliver(ctx, n)
}

// Close stops accepting notifications and waits for queued ones to be sent
// or for ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	g := d.group
	d.mu.Unlock()

	if g == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain notification queue: %w", ctx.Err())
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification) error {
	logger := logging.FromContext(ctx)

	attachments := n.Attachments
	if n.Attach != nil {
		attachments = append(attachments[:len(attachments):len(attachments)], n.Attach(ctx)...)
	}

	subject, html, text, err := Render(n.Template, d.cfg.SiteName, n.Data)
	if err == nil {
		err = d.sender.Send(ctx, Message{
			From:        d.cfg.From,
			To:          n.To,
			ReplyTo:     n.ReplyTo,
			Subject:     subject,
			HTML:        html,
			Text:        text,
			Attachments: attachments,
		})
	}

	if err != nil {
		sfmetrics.NotificationsTotal.WithLabelValues(string(n.Template), "failed").Inc()
		logger.Warn().Err(err).
			Str("template", string(n.Template)).
			Str("client_reference", n.ClientReference).
			Msg("Notification delivery failed")
		d.report(ctx, n, "Notification delivery failed", err)
		return err
	}

	sfmetrics.NotificationsTotal.WithLabelValues(string(n.Template), "sent").Inc()
	logger.Debug().
		Str("template", string(n.Template)).
		Str("client_reference", n.ClientReference).
		Msg("Notification sent")
	return nil
}

func (d *Dispatcher) drop(ctx context.Context, n Notification, err error) {
	sfmetrics.NotificationsTotal.WithLabelValues(string(n.Template), "dropped").Inc()
	logging.FromContext(ctx).Warn().Err(err).
		Str("template", string(n.Template)).
		Msg("Notification dropped")
	d.report(ctx, n, "Notification dropped", err)
}

func (d *Dispatcher) report(ctx context.Context, n Notification, title string, err error) {
	if d.issues == nil {
		return
	}
	d.issues.Report(ctx, issues.Issue{
		Severity:        issues.SeverityWarning,
		Category:        issues.CategoryNotification,
		Title:           title,
		Err:             err,
		Component:       "notify",
		OrganizationID:  n.OrganizationID,
		PurchaseID:      n.PurchaseID,
		ClientReference: n.ClientReference,
		Request:         map[string]string{"template": string(n.Template)},
	})
}
