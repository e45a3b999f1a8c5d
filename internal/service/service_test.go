package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"marketplace-auth/internal/audit"
	"marketplace-auth/internal/client"
	"marketplace-auth/internal/hashing"
	"marketplace-auth/internal/models"
	"marketplace-auth/internal/notification"
	"marketplace-auth/internal/otp"
	"marketplace-auth/internal/repository/memory"
	"marketplace-auth/internal/token"
)

const testCode = "4821"

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type outbox struct {
	mu   sync.Mutex
	msgs []notification.Message
}

func (o *outbox) Send(ctx context.Context, msg notification.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, msg)
	return nil
}

func (o *outbox) last(kind notification.Kind) (notification.Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.msgs) - 1; i >= 0; i-- {
		if o.msgs[i].Kind == kind {
			return o.msgs[i], true
		}
	}
	return notification.Message{}, false
}

type events struct {
	mu  sync.Mutex
	got []models.SecurityEvent
}

func (e *events) Record(ev models.SecurityEvent) {
	e.mu.Lock()
	e.got = append(e.got, ev)
	e.mu.Unlock()
}

func (e *events) count(typ models.SecurityEventType, success bool) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.got {
		if ev.Type == typ && ev.Success == success {
			n++
		}
	}
	return n
}

var _ audit.Recorder = (*events)(nil)

type fakeGoogle struct {
	identity *client.GoogleIdentity
	err      error
}

func (f *fakeGoogle) VerifyIDToken(ctx context.Context, idToken string) (*client.GoogleIdentity, error) {
	return f.identity, f.err
}

func (f *fakeGoogle) ExchangeCode(ctx context.Context, code string) (*client.GoogleIdentity, error) {
	return f.identity, f.err
}

type harness struct {
	auth        *AuthService
	invitations *InvitationService
	admin       *AdminService
	users       *memory.UserRepository
	invites     *memory.InvitationRepository
	hasher      *hashing.Hasher
	tokens      *token.Service
	outbox      *outbox
	events      *events
	google      *fakeGoogle
	clock       *clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		users:   memory.NewUserRepository(),
		invites: memory.NewInvitationRepository(),
		outbox:  &outbox{},
		events:  &events{},
		google:  &fakeGoogle{},
		clock:   &clock{t: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)},
	}
	var err error
	h.hasher, err = hashing.NewHasher(hashing.MinCost)
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	h.tokens, err = token.NewService([]byte("test-secret-test-secret"), time.Hour, "test", token.WithClock(h.clock.Now))
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	engine := otp.NewEngine(h.users, h.outbox,
		otp.Config{PhoneTTL: 5 * time.Minute, ResetTTL: 15 * time.Minute},
		zap.NewNop(),
		otp.WithClock(h.clock.Now),
		otp.WithCodeSource(func() (string, error) { return testCode, nil }),
	)
	h.auth = NewAuthService(h.users, h.hasher, h.tokens, engine, h.outbox, h.google, h.events, zap.NewNop(),
		WithAuthClock(h.clock.Now))
	h.invitations = NewInvitationService(h.invites, h.users, h.hasher, h.outbox, h.events,
		InvitationConfig{TTL: 72 * time.Hour, AcceptURL: "https://shop.example/admin/accept"},
		zap.NewNop(), WithInvitationClock(h.clock.Now))
	h.admin = NewAdminService(h.users, h.events, zap.NewNop())
	return h
}

func (h *harness) register(t *testing.T, email, username, phone string) *models.User {
	t.Helper()
	res, err := h.auth.Register(context.Background(), RegisterInput{
		Email:       email,
		Username:    username,
		Password:    "s3cretpass",
		PhoneNumber: phone,
	}, RequestMeta{IPAddress: "10.0.0.1"})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return res.User
}

// seedAdmin stores an active admin and returns its principal.
func (h *harness) seedAdmin(t *testing.T, id string, adminType models.AdminType) *models.User {
	t.Helper()
	hash, err := h.hasher.Hash("adminpass1")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := &models.User{
		ID:           id,
		Email:        id + "@shop.example",
		Username:     id,
		PasswordHash: hash,
		Profile:      models.NewAdminProfile(adminType, "ops"),
		IsActive:     true,
		AuthMethod:   models.AuthMethodEmail,
	}
	if err := h.users.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	return u
}
