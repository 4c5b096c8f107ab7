package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	cacheredis "github.com/aegis-id/aegis/internal/auth/cache/redis"
	"github.com/aegis-id/aegis/internal/auth/domain"
	"github.com/aegis-id/aegis/internal/auth/notify"
	"github.com/aegis-id/aegis/internal/auth/store/drivers/sqlite"
	"github.com/aegis-id/aegis/pkg/cryptox"
	"github.com/aegis-id/aegis/pkg/idx"
)

// testEnv wires a real store and cache for service tests: in-memory
// sqlite plus a miniredis-backed cache client.
type testEnv struct {
	Store *sqlite.Store
	Cache *cacheredis.Client
	Redis *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	s, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.ApplyMigrations())
	t.Cleanup(func() { _ = s.Close() })

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return &testEnv{
		Store: s,
		Cache: cacheredis.NewFromClient(rdb),
		Redis: mr,
	}
}

func seedRole(t *testing.T, env *testEnv) domain.Role {
	t.Helper()

	role := domain.Role{
		ID:     idx.New().String(),
		Name:   "member",
		Scopes: []string{"openid", "profile"},
	}
	require.NoError(t, env.Store.Roles().CreateRole(context.Background(), role))
	return role
}

type seedUserOpts struct {
	Email      string
	Password   string
	Phone      string
	Mechanisms []domain.Mechanism
	OTPSecret  string
	Locale     string
}

func seedUser(t *testing.T, env *testEnv, roleID string, opts seedUserOpts) domain.User {
	t.Helper()

	now := time.Now().UTC()
	user := domain.User{
		ID:            idx.New().String(),
		AuthID:        idx.New().String(),
		RoleID:        roleID,
		MFAMechanisms: opts.Mechanisms,
		Locale:        opts.Locale,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if opts.Email != "" {
		email := opts.Email
		user.Email = &email
	}
	if opts.Password != "" {
		hash, err := cryptox.HashPassword(opts.Password)
		require.NoError(t, err)
		user.PasswordHash = &hash
	}
	if opts.Phone != "" {
		phone := opts.Phone
		user.SMSPhoneNumber = &phone
		user.SMSVerified = true
	}
	if opts.OTPSecret != "" {
		secret := opts.OTPSecret
		user.OTPSecret = &secret
		user.OTPVerified = true
	}
	require.NoError(t, env.Store.Users().CreateUser(context.Background(), user))
	return user
}

func seedApp(t *testing.T, env *testEnv, appType domain.AppType, secretHash string) domain.App {
	t.Helper()

	app := domain.App{
		ID:           idx.New().String(),
		ClientID:     idx.New().String(),
		Name:         "Test App",
		SecretHash:   secretHash,
		Type:         appType,
		RedirectURIs: []string{"https://app.example.com/callback"},
		Scopes:       []string{"openid", "profile"},
		Active:       true,
	}
	require.NoError(t, env.Store.Apps().CreateApp(context.Background(), app))
	return app
}

// fakeSender records outbound messages; optionally fails every send.
type fakeSender struct {
	mu   sync.Mutex
	sent []notify.Message
	fail bool
}

func (f *fakeSender) Send(_ context.Context, msg notify.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return context.DeadlineExceeded
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) last(t *testing.T) notify.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}
