package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultBatchSize = 10
	DefaultPace      = time.Second
)

// Dispatcher sends messages through a Sender in batches, pausing between
// batches so providers with rate limits are not flooded.
type Dispatcher struct {
	sender    Sender
	batchSize int
	pace      time.Duration
	logger    *slog.Logger

	// background sends started by Go
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithBatchSize sets how many messages go out before pausing.
func WithBatchSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

// WithPace sets the pause between batches. Zero disables pausing.
func WithPace(p time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if p >= 0 {
			d.pace = p
		}
	}
}

// WithLogger sets the logger used for send failures.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

func NewDispatcher(sender Sender, opts ...DispatcherOption) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		sender:    sender,
		batchSize: DefaultBatchSize,
		pace:      DefaultPace,
		logger:    slog.Default(),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Report counts the outcome of one Dispatch call.
type Report struct {
	Sent    int
	Failed  int
	Skipped int // not attempted because the context ended
}

// Dispatch sends msgs and blocks until all were attempted or ctx is done.
func (d *Dispatcher) Dispatch(ctx context.Context, msgs []Message) Report {
	var rep Report
	for start := 0; start < len(msgs); start += d.batchSize {
		if start > 0 && d.pace > 0 {
			timer := time.NewTimer(d.pace)
			select {
			case <-ctx.Done():
				timer.Stop()
				rep.Skipped = len(msgs) - start
				return rep
			case <-timer.C:
			}
		}

		end := min(start+d.batchSize, len(msgs))
		for i, msg := range msgs[start:end] {
			if ctx.Err() != nil {
				rep.Skipped = len(msgs) - (start + i)
				return rep
			}
			if err := d.sender.Send(ctx, msg); err != nil {
				rep.Failed++
				d.logger.Warn("notification failed",
					"sender", d.sender.Name(),
					"kind", msg.Kind,
					"entry_id", msg.EntryID,
					"recipient", msg.To.UserID,
					"error", err)
				continue
			}
			rep.Sent++
		}
	}
	if len(msgs) > 0 {
		d.logger.Debug("notifications dispatched",
			"sender", d.sender.Name(), "sent", rep.Sent, "failed", rep.Failed)
	}
	return rep
}

// Go dispatches msgs in the background so callers are not held up by
// delivery. Close waits for outstanding sends.
func (d *Dispatcher) Go(msgs ...Message) {
	if len(msgs) == 0 {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Dispatch(d.ctx, msgs)
	}()
}

// Wait blocks until every background dispatch has finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// Close cancels pending background sends and waits for them to stop.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}
