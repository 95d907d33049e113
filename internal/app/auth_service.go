package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"credvault/internal/event"
	"credvault/internal/metrics"
	"credvault/internal/model"
	"credvault/internal/repository"
	"credvault/internal/validation"
)

var (
	ErrEmailExists        = errors.New("email already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInternal           = errors.New("internal error")
)

const eventPublishTimeout = 2 * time.Second

type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Insert(ctx context.Context, name, email, passwordHash string) (*model.User, error)
}

type PasswordHasher interface {
	Hash(ctx context.Context, plaintext string) (string, error)
	Verify(ctx context.Context, plaintext, digest string) (bool, error)
	VerifyDummy(ctx context.Context, plaintext string) error
}

type TokenIssuer interface {
	Issue(subject string) (string, error)
}

type AuthDeps struct {
	Users     UserStore
	Hasher    PasswordHasher
	Tokens    TokenIssuer
	Validator *validation.Validator
	Events    event.Publisher
	Metrics   *metrics.Metrics
	Log       logrus.FieldLogger
}

type AuthService struct {
	users     UserStore
	hasher    PasswordHasher
	tokens    TokenIssuer
	validator *validation.Validator
	events    event.Publisher
	metrics   *metrics.Metrics
	log       logrus.FieldLogger
	now       func() time.Time
}

type LoginResult struct {
	Token string
}

func NewAuthService(d AuthDeps) *AuthService {
	events := d.Events
	if events == nil {
		events = event.NopPublisher{}
	}
	validator := d.Validator
	if validator == nil {
		validator = validation.New()
	}
	var log logrus.FieldLogger = logrus.StandardLogger()
	if d.Log != nil {
		log = d.Log
	}
	return &AuthService{
		users:     d.Users,
		hasher:    d.Hasher,
		tokens:    d.Tokens,
		validator: validator,
		events:    events,
		metrics:   d.Metrics,
		log:       log.WithField("component", "auth_service"),
		now:       time.Now,
	}
}

// Register validates the payload, checks uniqueness, hashes the password and
// stores the user. The store's unique constraint has the final word on
// duplicates that race past the existence check.
func (s *AuthService) Register(ctx context.Context, in validation.RegisterInput) error {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)

	if err := s.validator.ValidateRegister(in); err != nil {
		return s.fail("register", "validation", err)
	}

	exists, err := s.users.ExistsByEmail(ctx, in.Email)
	if err != nil {
		return s.internal("register", "check_uniqueness", err)
	}
	if exists {
		s.metrics.RecordAuth("register", "conflict")
		return ErrEmailExists
	}

	digest, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return s.internal("register", "hash", err)
	}

	if _, err := s.users.Insert(ctx, in.Name, in.Email, digest); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			s.metrics.RecordAuth("register", "conflict")
			return ErrEmailExists
		}
		return s.internal("register", "persist", err)
	}

	s.metrics.RecordAuth("register", "success")
	s.publish(ctx, event.UserRegistered, in.Email)
	return nil
}

// Login returns a signed token for valid credentials. An unknown email and a
// wrong password both yield ErrInvalidCredentials after one bcrypt compare.
// Only failures against an existing account are published as login.failed.
func (s *AuthService) Login(ctx context.Context, in validation.LoginInput) (*LoginResult, error) {
	in.Email = normalizeEmail(in.Email)

	if err := s.validator.ValidateLogin(in); err != nil {
		return nil, s.fail("login", "validation", err)
	}

	user, err := s.users.FindByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			if err := s.hasher.VerifyDummy(ctx, in.Password); err != nil {
				s.log.WithError(err).Debug("dummy password compare skipped")
			}
			s.metrics.RecordAuth("login", "unauthorized")
			return nil, ErrInvalidCredentials
		}
		return nil, s.internal("login", "fetch_user", err)
	}

	ok, err := s.hasher.Verify(ctx, in.Password, user.PasswordHash)
	if err != nil {
		return nil, s.internal("login", "verify_password", err)
	}
	if !ok {
		return nil, s.unauthorized(ctx, in.Email)
	}

	token, err := s.tokens.Issue(user.Email)
	if err != nil {
		return nil, s.internal("login", "issue_token", err)
	}

	s.metrics.RecordAuth("login", "success")
	s.publish(ctx, event.LoginSucceeded, user.Email)
	return &LoginResult{Token: token}, nil
}

func (s *AuthService) fail(flow, outcome string, err error) error {
	s.metrics.RecordAuth(flow, outcome)
	return err
}

func (s *AuthService) unauthorized(ctx context.Context, email string) error {
	s.metrics.RecordAuth("login", "unauthorized")
	s.publish(ctx, event.LoginFailed, email)
	return ErrInvalidCredentials
}

// internal logs the cause and hands back only ErrInternal.
func (s *AuthService) internal(flow, step string, cause error) error {
	s.metrics.RecordAuth(flow, "internal")
	s.log.WithError(cause).WithFields(logrus.Fields{"flow": flow, "step": step}).Error("auth flow failed")
	return ErrInternal
}

func (s *AuthService) publish(ctx context.Context, typ event.Type, email string) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventPublishTimeout)
	defer cancel()

	evt := event.AuthEvent{Type: typ, Email: email, At: s.now().UTC()}
	if err := s.events.Publish(pubCtx, evt); err != nil {
		s.log.WithError(err).WithField("event", typ).Warn("publish auth event failed")
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
