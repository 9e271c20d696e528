package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// --- Mock mailer ---

type mockMailer struct {
	mu       sync.Mutex
	sent     []Message
	failures int // сколько первых вызовов завершить ошибкой
	calls    int
	block    bool
}

func (m *mockMailer) Send(ctx context.Context, msg Message) error {
	m.mu.Lock()
	m.calls++
	call := m.calls
	block := m.block
	m.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if call <= m.failures {
		return errors.New("smtp unavailable")
	}
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	return nil
}

// --- Mock journal ---

type mockJournal struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (j *mockJournal) Record(_ context.Context, o Outcome) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.outcomes = append(j.outcomes, o)
	return nil
}

func (j *mockJournal) all() []Outcome {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Outcome(nil), j.outcomes...)
}

func stop(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))
}

func TestDispatcherDelivers(t *testing.T) {
	mailer := &mockMailer{}
	journal := &mockJournal{}
	d := NewDispatcher(mailer, journal, Options{Workers: 2, MaxAttempts: 1})
	d.Start()

	require.True(t, d.Enqueue(ReplyConfirmation("RFQ-1", "a@example.com", "Acme", "35.00", 2, "")))
	require.True(t, d.Enqueue(AwardVendor("RFQ-1", "a@example.com", "Stud", "Acme")))
	stop(t, d)

	require.Len(t, mailer.sent, 2)
	outcomes := journal.all()
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		require.Equal(t, StatusSent, o.Status)
		require.NotEmpty(t, o.Message.ID)
	}
}

func TestDispatcherRetries(t *testing.T) {
	mailer := &mockMailer{failures: 2}
	journal := &mockJournal{}
	d := NewDispatcher(mailer, journal, Options{Workers: 1, MaxAttempts: 3, Backoff: time.Millisecond})
	d.Start()

	require.True(t, d.Enqueue(Message{Kind: KindAwardRequester, To: "buyer@example.com"}))
	stop(t, d)

	outcomes := journal.all()
	require.Len(t, outcomes, 1)
	require.Equal(t, StatusSent, outcomes[0].Status)
	require.Equal(t, 3, outcomes[0].Attempts)
}

func TestDispatcherGivesUp(t *testing.T) {
	mailer := &mockMailer{failures: 10}
	journal := &mockJournal{}
	d := NewDispatcher(mailer, journal, Options{Workers: 1, MaxAttempts: 2, Backoff: time.Millisecond})
	d.Start()

	require.True(t, d.Enqueue(Message{Kind: KindAwardVendor, To: "v@example.com"}))
	stop(t, d)

	outcomes := journal.all()
	require.Len(t, outcomes, 1)
	require.Equal(t, StatusFailed, outcomes[0].Status)
	require.Equal(t, 2, outcomes[0].Attempts)
	require.Error(t, outcomes[0].Err)
}

func TestDispatcherTimeout(t *testing.T) {
	mailer := &mockMailer{block: true}
	journal := &mockJournal{}
	d := NewDispatcher(mailer, journal, Options{Workers: 1, MaxAttempts: 1, Timeout: 20 * time.Millisecond})
	d.Start()

	require.True(t, d.Enqueue(Message{Kind: KindAwardVendor, To: "slow@example.com"}))
	stop(t, d)

	outcomes := journal.all()
	require.Len(t, outcomes, 1)
	require.Equal(t, StatusFailed, outcomes[0].Status)
	require.ErrorIs(t, outcomes[0].Err, context.DeadlineExceeded)
}

func TestEnqueueNeverBlocks(t *testing.T) {
	// воркеры не запущены, очередь на одно письмо
	d := NewDispatcher(&mockMailer{}, &mockJournal{}, Options{QueueSize: 1})

	require.True(t, d.Enqueue(Message{To: "a@example.com"}))
	require.False(t, d.Enqueue(Message{To: "b@example.com"}))

	d.Start()
	stop(t, d)
	require.False(t, d.Enqueue(Message{To: "c@example.com"}))
}

func TestBuildRFC822(t *testing.T) {
	msg := AwardVendor("RFQ-9", "v@example.com", "Stud", "Acme")
	raw := string(buildRFC822("quotes@example.com", msg, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)))

	require.Contains(t, raw, "From: quotes@example.com\r\n")
	require.Contains(t, raw, "To: v@example.com\r\n")
	require.Contains(t, raw, "Subject: You have been awarded Stud (RFQ RFQ-9)\r\n")
	require.True(t, strings.Contains(raw, "\r\n\r\nHello Acme,"))
}

func TestJournalItem(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	it := toJournalItem(Outcome{
		Message:  Message{ID: "01J", Kind: KindAwardVendor, RFQID: "RFQ-1", To: "v@example.com"},
		Status:   StatusFailed,
		Attempts: 3,
		Err:      errors.New("quota exceeded"),
		At:       at,
	})
	require.Equal(t, "01J", it.ID)
	require.Equal(t, "quota exceeded", it.Error)
	require.Equal(t, "2026-03-01T09:00:00Z", it.CreatedAt)
}
