// Package notify доставляет письма поставщикам и заказчикам в фоне.
//
// Письма попадают в ограниченную очередь; воркеры отправляют их с таймаутом
// и повторами, а итог каждой отправки пишется в лог и в журнал.
// Ошибка доставки никогда не становится ошибкой HTTP-запроса.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Message одно письмо
type Message struct {
	ID      string
	Kind    string // reply_confirmation, award_requester, award_vendor
	RFQID   string
	To      string
	Subject string
	Body    string
}

// Mailer внешний сервис отправки почты
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Outcome итог доставки одного письма
type Outcome struct {
	Message  Message
	Status   string // sent, failed
	Attempts int
	Err      error
	At       time.Time
}

const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Journal хранит итоги доставки
type Journal interface {
	Record(ctx context.Context, o Outcome) error
}

type Options struct {
	QueueSize   int
	Workers     int
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
}

// Dispatcher очередь писем с пулом воркеров
type Dispatcher struct {
	mailer  Mailer
	journal Journal
	opts    Options

	queue   chan Message
	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
	quit    chan struct{}

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

func NewDispatcher(mailer Mailer, journal Journal, opts Options) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if journal == nil {
		journal = LogJournal{}
	}
	return &Dispatcher{
		mailer:  mailer,
		journal: journal,
		opts:    opts,
		queue:   make(chan Message, opts.QueueSize),
		quit:    make(chan struct{}),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// Start запускает воркеры
func (d *Dispatcher) Start() {
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	slog.Info("notification dispatcher started", "workers", d.opts.Workers, "queue_size", d.opts.QueueSize)
}

// Enqueue кладёт письмо в очередь, не блокируясь.
// false: очередь полна или диспетчер остановлен; письмо не будет отправлено.
func (d *Dispatcher) Enqueue(msg Message) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		slog.Warn("notification dropped: dispatcher stopped", "kind", msg.Kind, "to", msg.To, "rfq_id", msg.RFQID)
		return false
	}
	if msg.ID == "" {
		msg.ID = d.newID()
	}
	select {
	case d.queue <- msg:
		return true
	default:
		slog.Warn("notification dropped: queue full", "kind", msg.Kind, "to", msg.To, "rfq_id", msg.RFQID)
		return false
	}
}

// Stop перестаёт принимать письма и ждёт, пока воркеры разберут очередь.
// Если ctx истёк раньше, недоставленные письма остаются только в логе.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		close(d.quit)
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for msg := range d.queue {
		d.deliver(msg)
	}
}

func (d *Dispatcher) deliver(msg Message) {
	var err error
	attempts := 0
	for attempts < d.opts.MaxAttempts {
		attempts++
		err = d.sendOnce(msg)
		if err == nil {
			break
		}
		slog.Warn("notification attempt failed",
			"id", msg.ID,
			"kind", msg.Kind,
			"to", msg.To,
			"attempt", attempts,
			"error", err,
		)
		if attempts < d.opts.MaxAttempts && !d.sleep(time.Duration(attempts)*d.opts.Backoff) {
			break
		}
	}

	o := Outcome{Message: msg, Status: StatusSent, Attempts: attempts, At: time.Now().UTC()}
	if err != nil {
		o.Status = StatusFailed
		o.Err = err
		slog.Error("notification failed",
			"id", msg.ID,
			"kind", msg.Kind,
			"rfq_id", msg.RFQID,
			"to", msg.To,
			"attempts", attempts,
			"error", err,
		)
	} else {
		slog.Info("notification sent", "id", msg.ID, "kind", msg.Kind, "rfq_id", msg.RFQID, "to", msg.To)
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.opts.Timeout)
	defer cancel()
	if jerr := d.journal.Record(ctx, o); jerr != nil {
		slog.Error("failed to journal notification outcome", "id", msg.ID, "error", jerr)
	}
}

func (d *Dispatcher) sendOnce(msg Message) error {
	if d.mailer == nil {
		return errors.New("mailer is not configured")
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.Timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- d.mailer.Send(ctx, msg) }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sleep ждёт backoff; false, если диспетчер принудительно остановлен
func (d *Dispatcher) sleep(dur time.Duration) bool {
	if dur <= 0 {
		return true
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-d.quit:
		return false
	}
}

func (d *Dispatcher) newID() string {
	d.entropyMu.Lock()
	defer d.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), d.entropy).String()
}

// LogJournal пишет итоги только в лог
type LogJournal struct{}

func (LogJournal) Record(_ context.Context, o Outcome) error {
	slog.Debug("notification outcome", "id", o.Message.ID, "status", o.Status, "attempts", o.Attempts)
	return nil
}
