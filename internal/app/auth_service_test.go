package app

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"credvault/internal/event"
	"credvault/internal/metrics"
	"credvault/internal/model"
	"credvault/internal/pkg/jwtutil"
	"credvault/internal/pkg/passhash"
	"credvault/internal/repository"
	"credvault/internal/validation"
)

const testSecret = "test-secret"

type countingStore struct {
	UserStore
	calls atomic.Int32

	findErr   error
	existsErr error
	insertErr error
}

func (c *countingStore) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	c.calls.Add(1)
	if c.findErr != nil {
		return nil, c.findErr
	}
	return c.UserStore.FindByEmail(ctx, email)
}

func (c *countingStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	c.calls.Add(1)
	if c.existsErr != nil {
		return false, c.existsErr
	}
	return c.UserStore.ExistsByEmail(ctx, email)
}

func (c *countingStore) Insert(ctx context.Context, name, email, hash string) (*model.User, error) {
	c.calls.Add(1)
	if c.insertErr != nil {
		return nil, c.insertErr
	}
	return c.UserStore.Insert(ctx, name, email, hash)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []event.AuthEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evt event.AuthEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

type failingIssuer struct{}

func (failingIssuer) Issue(string) (string, error) { return "", errors.New("signing key unavailable") }

type failingHasher struct{ PasswordHasher }

func (failingHasher) Hash(context.Context, string) (string, error) {
	return "", errors.New("entropy exhausted")
}

type countingHasher struct {
	*passhash.Hasher
	dummies atomic.Int32
}

func (h *countingHasher) VerifyDummy(ctx context.Context, plaintext string) error {
	h.dummies.Add(1)
	return h.Hasher.VerifyDummy(ctx, plaintext)
}

type fixture struct {
	svc     *AuthService
	store   *countingStore
	mem     *repository.MemoryUserRepository
	events  *recordingPublisher
	metrics *metrics.Metrics
	logs    *bytes.Buffer
	hasher  *countingHasher
}

func newFixture(t *testing.T, mutate ...func(*AuthDeps)) *fixture {
	t.Helper()

	inner, err := passhash.New(bcrypt.MinCost, 4)
	require.NoError(t, err)
	hasher := &countingHasher{Hasher: inner}
	issuer, err := jwtutil.NewIssuer(testSecret, jwtutil.DefaultTTL)
	require.NoError(t, err)

	mem := repository.NewMemoryUserRepository()
	store := &countingStore{UserStore: mem}
	events := &recordingPublisher{}
	m := metrics.New()

	logs := &bytes.Buffer{}
	log := logrus.New()
	log.SetOutput(logs)

	deps := AuthDeps{
		Users:   store,
		Hasher:  hasher,
		Tokens:  issuer,
		Events:  events,
		Metrics: m,
		Log:     log,
	}
	for _, fn := range mutate {
		fn(&deps)
	}

	return &fixture{
		svc:     NewAuthService(deps),
		store:   store,
		mem:     mem,
		events:  events,
		metrics: m,
		logs:    logs,
		hasher:  hasher,
	}
}

var alice = validation.RegisterInput{Name: "Alice", Email: "alice@example.com", Password: "longenough1"}

func TestRegister_ThenDuplicateConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Register(ctx, alice))
	assert.ErrorIs(t, f.svc.Register(ctx, alice), ErrEmailExists)
	assert.Equal(t, 1, f.mem.Count())

	stored, err := f.mem.FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, alice.Password, stored.PasswordHash)
	ok, err := f.hasher.Verify(ctx, alice.Password, stored.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AuthOutcomes.WithLabelValues("register", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AuthOutcomes.WithLabelValues("register", "conflict")))
}

func TestRegister_EmailIsNormalized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Register(ctx, alice))

	shouty := alice
	shouty.Email = "  ALICE@Example.com "
	assert.ErrorIs(t, f.svc.Register(ctx, shouty), ErrEmailExists)

	res, err := f.svc.Login(ctx, validation.LoginInput{Email: "Alice@EXAMPLE.com", Password: alice.Password})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
}

func TestRegister_ConcurrentSameEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- f.svc.Register(ctx, alice)
		}()
	}
	wg.Wait()
	close(results)

	var success, conflict int
	for err := range results {
		switch {
		case err == nil:
			success++
		case errors.Is(err, ErrEmailExists):
			conflict++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, success)
	assert.Equal(t, 1, conflict)
	assert.Equal(t, 1, f.mem.Count())
}

func TestRegister_LateUniqueViolationIsConflict(t *testing.T) {
	f := newFixture(t)
	f.store.insertErr = repository.ErrDuplicateEmail

	assert.ErrorIs(t, f.svc.Register(context.Background(), alice), ErrEmailExists)
}

func TestRegister_ValidationSkipsStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []validation.RegisterInput{
		{Name: "", Email: "alice@example.com", Password: "longenough1"},
		{Name: "Alice", Email: "not-an-email", Password: "longenough1"},
		{Name: "Bob", Email: "bob@example.com", Password: "short"},
		{Name: "Carol", Email: strings.Repeat("c", 288) + "@example.com", Password: "longenough1"},
	}
	for _, in := range cases {
		err := f.svc.Register(ctx, in)
		var verr *validation.Error
		assert.True(t, errors.As(err, &verr), "expected validation error for %+v, got %v", in, err)
	}
	assert.Equal(t, int32(0), f.store.calls.Load())
}

func TestRegister_InternalFailuresAreMasked(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*fixture)
		mutate func(*AuthDeps)
		step   string
	}{
		{name: "exists check", setup: func(f *fixture) { f.store.existsErr = errors.New("pq: connection reset") }, step: "check_uniqueness"},
		{name: "insert", setup: func(f *fixture) { f.store.insertErr = errors.New("pq: connection reset") }, step: "persist"},
		{name: "hash", mutate: func(d *AuthDeps) { d.Hasher = failingHasher{} }, step: "hash"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mutators []func(*AuthDeps)
			if tt.mutate != nil {
				mutators = append(mutators, tt.mutate)
			}
			f := newFixture(t, mutators...)
			if tt.setup != nil {
				tt.setup(f)
			}

			err := f.svc.Register(context.Background(), alice)
			assert.ErrorIs(t, err, ErrInternal)
			assert.Equal(t, ErrInternal.Error(), err.Error())
			assert.Contains(t, f.logs.String(), tt.step)
			assert.NotContains(t, f.logs.String(), alice.Password)
		})
	}
}

func TestLogin_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Register(ctx, alice))

	before := time.Now()
	res, err := f.svc.Login(ctx, validation.LoginInput{Email: alice.Email, Password: alice.Password})
	require.NoError(t, err)

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(res.Token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(testSecret), nil
	})
	require.NoError(t, err)
	assert.Equal(t, alice.Email, claims.Subject)
	assert.WithinDuration(t, before.Add(24*time.Hour), claims.ExpiresAt.Time, 2*time.Second)

	require.Len(t, f.events.events, 2)
	assert.Equal(t, event.UserRegistered, f.events.events[0].Type)
	assert.Equal(t, event.LoginSucceeded, f.events.events[1].Type)
}

func TestLogin_UnknownEmailAndWrongPasswordAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Register(ctx, alice))

	_, errUnknown := f.svc.Login(ctx, validation.LoginInput{Email: "ghost@example.com", Password: alice.Password})
	_, errWrong := f.svc.Login(ctx, validation.LoginInput{Email: alice.Email, Password: "wrongpass1"})

	assert.ErrorIs(t, errUnknown, ErrInvalidCredentials)
	assert.ErrorIs(t, errWrong, ErrInvalidCredentials)
	assert.Equal(t, errUnknown.Error(), errWrong.Error())
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.AuthOutcomes.WithLabelValues("login", "unauthorized")))
}

func TestLogin_UnknownEmailStillComparesPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Register(ctx, alice))

	_, err := f.svc.Login(ctx, validation.LoginInput{Email: "ghost@example.com", Password: alice.Password})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, int32(1), f.hasher.dummies.Load())

	_, err = f.svc.Login(ctx, validation.LoginInput{Email: alice.Email, Password: "wrongpass1"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, int32(1), f.hasher.dummies.Load(), "existing accounts use the stored digest")
}

func TestLogin_UnknownEmailIsNotPublished(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Login(context.Background(), validation.LoginInput{Email: "ghost@example.com", Password: "longenough1"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Empty(t, f.events.events)
}

func TestLogin_ValidationSkipsStore(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Login(context.Background(), validation.LoginInput{Email: "not-an-email", Password: "short"})
	var verr *validation.Error
	require.True(t, errors.As(err, &verr))
	assert.True(t, verr.Has("email"))
	assert.True(t, verr.Has("password"))
	assert.Equal(t, int32(0), f.store.calls.Load())
}

func TestLogin_MalformedDigestIsInternal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.mem.Insert(ctx, "Alice", alice.Email, "corrupted")
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, validation.LoginInput{Email: alice.Email, Password: alice.Password})
	assert.ErrorIs(t, err, ErrInternal)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_StoreFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	f.store.findErr = errors.New("pq: too many connections")

	_, err := f.svc.Login(context.Background(), validation.LoginInput{Email: alice.Email, Password: alice.Password})
	assert.ErrorIs(t, err, ErrInternal)
	assert.NotContains(t, err.Error(), "pq")
}

func TestLogin_SigningFailureIsInternal(t *testing.T) {
	f := newFixture(t, func(d *AuthDeps) { d.Tokens = failingIssuer{} })
	ctx := context.Background()
	require.NoError(t, f.svc.Register(ctx, alice))

	_, err := f.svc.Login(ctx, validation.LoginInput{Email: alice.Email, Password: alice.Password})
	assert.ErrorIs(t, err, ErrInternal)
}

func TestPublishFailureDoesNotChangeOutcome(t *testing.T) {
	f := newFixture(t)
	f.events.err = errors.New("broker down")

	assert.NoError(t, f.svc.Register(context.Background(), alice))
	assert.Contains(t, f.logs.String(), "publish auth event failed")
}

func TestEventsNeverCarryPasswords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Register(ctx, alice))
	_, _ = f.svc.Login(ctx, validation.LoginInput{Email: alice.Email, Password: "wrongpass1"})

	require.Len(t, f.events.events, 2)
	assert.Equal(t, event.LoginFailed, f.events.events[1].Type)
	for _, evt := range f.events.events {
		assert.Equal(t, alice.Email, evt.Email)
	}
}
