package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/identity-service/internal/core/domain"
	"github.com/arklim/identity-service/internal/core/port"
	"github.com/arklim/identity-service/internal/infra/security"
	"github.com/arklim/identity-service/internal/repository/memory"
)

const (
	testPassword  = "Passw0rd"
	testSecret    = "0123456789abcdef0123456789abcdef"
	testSessionTT = 7 * 24 * time.Hour
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentNotification struct {
	Kind     domain.NotificationKind
	Email    string
	Token    string
	Username string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

func (n *recordingNotifier) SendVerification(_ context.Context, email, token, username string) error {
	return n.record(sentNotification{Kind: domain.NotificationVerification, Email: email, Token: token, Username: username})
}

func (n *recordingNotifier) SendPasswordReset(_ context.Context, email, token, username string) error {
	return n.record(sentNotification{Kind: domain.NotificationPasswordReset, Email: email, Token: token, Username: username})
}

func (n *recordingNotifier) SendWelcome(_ context.Context, email, username string) error {
	return n.record(sentNotification{Kind: domain.NotificationWelcome, Email: email, Username: username})
}

func (n *recordingNotifier) record(s sentNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, s)
	return nil
}

func (n *recordingNotifier) ofKind(kind domain.NotificationKind) []sentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentNotification
	for _, s := range n.sent {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

func (n *recordingNotifier) last(t *testing.T, kind domain.NotificationKind) sentNotification {
	t.Helper()
	sent := n.ofKind(kind)
	if len(sent) == 0 {
		t.Fatalf("expected a %s notification", kind)
	}
	return sent[len(sent)-1]
}

type flowRecorder struct {
	mu     sync.Mutex
	events map[string]int
}

func (r *flowRecorder) ObserveFlow(flow, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		r.events = make(map[string]int)
	}
	r.events[flow+"/"+outcome]++
}

func (r *flowRecorder) count(flow, outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[flow+"/"+outcome]
}

type testEnv struct {
	service    *CredentialService
	accounts   *memory.AccountRepository
	hasher     port.PasswordHasher
	sessions   *security.SessionCodec
	minter     *security.TokenMinter
	notifier   *recordingNotifier
	dispatcher *AsyncDispatcher
	metrics    *flowRecorder
	clock      *testClock
}

func newTestEnv(t *testing.T, settings CredentialSettings) *testEnv {
	t.Helper()

	clock := newTestClock()
	log := zaptest.NewLogger(t)

	argon, err := security.NewArgon2Hasher(security.Argon2Config{
		Memory:      8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}
	hasher := security.NewHasherPool(argon, 4, nil)

	sessions, err := security.NewSessionCodec([]byte(testSecret), "identity-test", testSessionTT)
	if err != nil {
		t.Fatalf("new session codec: %v", err)
	}
	sessions.WithClock(clock.Now)

	minter := security.NewTokenMinter().WithClock(clock.Now)
	accounts := memory.NewAccountRepository()
	notifier := &recordingNotifier{}
	dispatcher := NewAsyncDispatcher(notifier, time.Second, nil, log)
	metrics := &flowRecorder{}

	service := NewCredentialService(CredentialDependencies{
		Accounts:      accounts,
		Hasher:        hasher,
		Minter:        minter,
		Sessions:      sessions,
		Policy:        security.NewPasswordPolicy(0),
		Notifications: dispatcher,
		Metrics:       metrics,
		Logger:        log,
	}, settings).WithClock(clock.Now)

	t.Cleanup(dispatcher.Wait)

	return &testEnv{
		service:    service,
		accounts:   accounts,
		hasher:     hasher,
		sessions:   sessions,
		minter:     minter,
		notifier:   notifier,
		dispatcher: dispatcher,
		metrics:    metrics,
		clock:      clock,
	}
}

func (e *testEnv) register(t *testing.T, email, username, password string) AuthResult {
	t.Helper()
	result, err := e.service.Register(context.Background(), RegisterInput{Email: email, Username: username, Password: password})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	e.dispatcher.Wait()
	return result
}

func (e *testEnv) createOAuthAccount(t *testing.T, email, username string, provider domain.Provider, providerID string) *domain.Account {
	t.Helper()
	id := providerID
	account, err := e.accounts.Create(context.Background(), domain.NewAccount{
		ID:         "oauth-" + providerID,
		Email:      email,
		Username:   username,
		Provider:   provider,
		ProviderID: &id,
		IsVerified: true,
		CreatedAt:  e.clock.Now(),
	})
	if err != nil {
		t.Fatalf("create oauth account: %v", err)
	}
	return account
}
