package mailbox

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mixelka/tempmailbot/pkg/models"
)

// fakeProvider is a scripted in-memory Provider
type fakeProvider struct {
	mu sync.Mutex

	domains    []string
	domainsErr error

	createErrs []error // consumed one per CreateAccount call
	created    []string

	validToken  string
	issueTokens []string // consumed one per IssueToken call
	issueErr    error
	issueCalls  int

	messages  []models.MessageSummary
	listErr   error // returned once, then cleared
	rejectAll bool  // every token is rejected
	listCalls int

	details  map[string]*models.MessageDetail
	fetchErr error
	deleted  []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		domains:    []string{"example.test"},
		validToken: "token-1",
		details:    make(map[string]*models.MessageDetail),
	}
}

func (f *fakeProvider) ListDomains(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.domains, f.domainsErr
}

func (f *fakeProvider) CreateAccount(ctx context.Context, address, secret string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		if err != nil {
			return err
		}
	}
	f.created = append(f.created, address)
	return nil
}

func (f *fakeProvider) IssueToken(ctx context.Context, address, secret string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.issueCalls++
	if f.issueErr != nil {
		return "", f.issueErr
	}
	if len(f.issueTokens) > 0 {
		f.validToken = f.issueTokens[0]
		f.issueTokens = f.issueTokens[1:]
	}
	return f.validToken, nil
}

func (f *fakeProvider) ListMessages(ctx context.Context, token string) ([]models.MessageSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listCalls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.listErr != nil {
		err := f.listErr
		f.listErr = nil
		return nil, err
	}
	if f.rejectAll || token != f.validToken {
		return nil, ErrAuth
	}
	out := make([]models.MessageSummary, len(f.messages))
	copy(out, f.messages)
	return out, nil
}

func (f *fakeProvider) FetchMessage(ctx context.Context, token, id string) (*models.MessageDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if token != f.validToken {
		return nil, ErrAuth
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	detail, ok := f.details[id]
	if !ok {
		return nil, ErrNotFound
	}
	return detail, nil
}

func (f *fakeProvider) DeleteMessage(ctx context.Context, token, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if token != f.validToken {
		return ErrAuth
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeProvider) setMessages(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.messages = f.messages[:0]
	for _, id := range ids {
		f.messages = append(f.messages, models.MessageSummary{ID: id, From: id + "@sender.test", Subject: "subject " + id})
	}
}

func (f *fakeProvider) setValidToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validToken = token
}

func (f *fakeProvider) issueCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issueCalls
}

func (f *fakeProvider) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

type terminatedEvent struct {
	userID int64
	reason TerminationReason
}

// fakeSink records delivered events
type fakeSink struct {
	mu         sync.Mutex
	messages   map[int64][]models.Notification
	terminated []terminatedEvent
	notify     chan struct{}
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		messages: make(map[int64][]models.Notification),
		notify:   make(chan struct{}, 128),
	}
}

func (s *fakeSink) OnNewMessage(ctx context.Context, userID int64, n models.Notification) {
	s.mu.Lock()
	s.messages[userID] = append(s.messages[userID], n)
	s.mu.Unlock()
	s.notify <- struct{}{}
}

func (s *fakeSink) OnSessionTerminated(ctx context.Context, userID int64, reason TerminationReason) {
	s.mu.Lock()
	s.terminated = append(s.terminated, terminatedEvent{userID: userID, reason: reason})
	s.mu.Unlock()
	s.notify <- struct{}{}
}

func (s *fakeSink) messagesFor(userID int64) []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Notification(nil), s.messages[userID]...)
}

func (s *fakeSink) terminations() []terminatedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]terminatedEvent(nil), s.terminated...)
}

// fakeSaver records persisted tokens
type fakeSaver struct {
	mu       sync.Mutex
	tokens   map[int64]string
	accessed map[int64]time.Time
}

func (s *fakeSaver) UpdateSessionToken(ctx context.Context, userID int64, token string, lastAccess time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens == nil {
		s.tokens = make(map[int64]string)
		s.accessed = make(map[int64]time.Time)
	}
	s.tokens[userID] = token
	s.accessed[userID] = lastAccess
	return nil
}

func (s *fakeSaver) lastAccess(userID int64) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessed[userID]
}

func (s *fakeSaver) token(userID int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[userID]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
