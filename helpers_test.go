package identity_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	identity "github.com/catconnect/go-identity"
	"github.com/catconnect/go-identity/notification"
)

const (
	sqliteCreateUsers = `CREATE TABLE users (
    id TEXT NOT NULL PRIMARY KEY,
    user_role TEXT NOT NULL,
    username TEXT NOT NULL UNIQUE,
    email TEXT NOT NULL UNIQUE,
    phone_number TEXT,
    password_hash TEXT,
    is_email_verified BOOLEAN DEFAULT FALSE,
    login_attempts INTEGER DEFAULT 0,
    login_attempt_at TIMESTAMP,
    loggedin_at TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP,
    deleted_at TIMESTAMP
);`
	sqliteCreateVerificationTokens = `CREATE TABLE verification_tokens (
    id TEXT NOT NULL PRIMARY KEY,
    recipient TEXT NOT NULL,
    purpose TEXT NOT NULL,
    secret TEXT NOT NULL,
    verified BOOLEAN DEFAULT FALSE,
    used BOOLEAN DEFAULT FALSE,
    pending_username TEXT,
    pending_password_hash TEXT,
    expires_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP
);`
)

func setupTestDB(t *testing.T) (identity.RepositoryManager, *bun.DB) {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = db.Exec(sqliteCreateUsers)
	require.NoError(t, err)
	_, err = db.Exec(sqliteCreateVerificationTokens)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return identity.NewRepositoryManager(db), db
}

func seedUser(t *testing.T, repo identity.RepositoryManager, username, email, phone, password string) *identity.User {
	t.Helper()

	hash, err := identity.HashPassword(password)
	require.NoError(t, err)

	user, err := repo.Users().Register(context.Background(), &identity.User{
		Username:     username,
		Email:        email,
		Phone:        phone,
		PasswordHash: hash,
	})
	require.NoError(t, err)
	require.NotNil(t, user)

	return user
}

// stubChannel records every dispatch and can be told to fail.
type stubChannel struct {
	mu        sync.Mutex
	kind      notification.Kind
	templated bool
	failWith  error
	sent      []notification.Message
	templates []string
}

func (s *stubChannel) Kind() notification.Kind { return s.kind }

func (s *stubChannel) SupportsTemplates() bool { return s.templated }

func (s *stubChannel) Send(ctx context.Context, msg notification.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWith != nil {
		return s.failWith
	}
	s.sent = append(s.sent, msg)
	s.templates = append(s.templates, "")
	return nil
}

func (s *stubChannel) SendTemplate(ctx context.Context, msg notification.Message, template string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWith != nil {
		return s.failWith
	}
	s.sent = append(s.sent, msg)
	s.templates = append(s.templates, template)
	return nil
}

func (s *stubChannel) lastMessage(t *testing.T) notification.Message {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.sent)
	return s.sent[len(s.sent)-1]
}

func (s *stubChannel) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// capturingSink collects activity events for assertions.
type capturingSink struct {
	mu     sync.Mutex
	events []identity.ActivityEvent
}

func (c *capturingSink) Record(ctx context.Context, event identity.ActivityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *capturingSink) byType(eventType identity.ActivityEventType) []identity.ActivityEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []identity.ActivityEvent
	for _, e := range c.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// testConfig satisfies identity.Config for wiring tests.
type testConfig struct {
	signingKey        string
	tokenExpiration   int
	extendedDuration  int
	contextKey        string
	cookieName        string
	tokenLookup       string
	authScheme        string
	issuer            string
	audience          []string
	verifyBaseURL     string
	signingMethodName string
}

func newTestConfig() *testConfig {
	return &testConfig{
		signingKey:        "test-signing-key-please-rotate",
		tokenExpiration:   1,
		extendedDuration:  72,
		contextKey:        "user",
		cookieName:        "jwtToken",
		tokenLookup:       "header:Authorization,cookie:jwtToken",
		authScheme:        "Bearer",
		issuer:            "catconnect",
		verifyBaseURL:     "https://board.example.com",
		signingMethodName: "HS256",
	}
}

func (c *testConfig) GetSigningKey() string        { return c.signingKey }
func (c *testConfig) GetSigningMethod() string     { return c.signingMethodName }
func (c *testConfig) GetContextKey() string        { return c.contextKey }
func (c *testConfig) GetCookieName() string        { return c.cookieName }
func (c *testConfig) GetTokenExpiration() int      { return c.tokenExpiration }
func (c *testConfig) GetExtendedTokenDuration() int { return c.extendedDuration }
func (c *testConfig) GetTokenLookup() string       { return c.tokenLookup }
func (c *testConfig) GetAuthScheme() string        { return c.authScheme }
func (c *testConfig) GetIssuer() string            { return c.issuer }
func (c *testConfig) GetAudience() []string        { return c.audience }
func (c *testConfig) GetVerifyBaseURL() string     { return c.verifyBaseURL }

// testIdentity satisfies identity.Identity.
type testIdentity struct {
	id       string
	username string
	email    string
	role     string
}

func (i testIdentity) ID() string       { return i.id }
func (i testIdentity) Username() string { return i.username }
func (i testIdentity) Email() string    { return i.email }
func (i testIdentity) Role() string     { return i.role }

// newTestVerifier wires a Verifier over sqlite with stub channels.
func newTestVerifier(t *testing.T, opts ...identity.VerifierOption) (*identity.Verifier, identity.RepositoryManager, *stubChannel, *stubChannel) {
	t.Helper()

	repo, _ := setupTestDB(t)

	email := &stubChannel{kind: notification.KindEmail, templated: true}
	sms := &stubChannel{kind: notification.KindSMS}
	dispatcher := notification.NewDispatcher(nil, email, sms)

	options := append([]identity.VerifierOption{
		identity.WithVerifyBaseURL("https://board.example.com"),
	}, opts...)

	verifier := identity.NewVerifier(repo, dispatcher, options...)
	return verifier, repo, email, sms
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}
