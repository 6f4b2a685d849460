package service

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vibast-solutions/ms-go-credentials/app/dto"
	"github.com/vibast-solutions/ms-go-credentials/app/entity"
	"github.com/vibast-solutions/ms-go-credentials/app/notify"
	"github.com/vibast-solutions/ms-go-credentials/app/repository"
	"github.com/vibast-solutions/ms-go-credentials/app/security"
	"github.com/vibast-solutions/ms-go-credentials/app/types"
	"github.com/vibast-solutions/ms-go-credentials/config"

	"github.com/sirupsen/logrus"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrWeakPassword       = errors.New("password does not meet policy requirements")
	ErrUserExists         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidOrExpired   = errors.New("invalid or expired code or token")
	ErrDeliveryFailed     = errors.New("notification delivery failed")
)

// Used to spend a comparable amount of work when the login email is unknown.
const dummyPassword = "credentials-timing-equalizer"

type userRepository interface {
	Create(ctx context.Context, user *entity.User) error
	FindByEmail(ctx context.Context, email string) (*entity.User, error)
	FindByID(ctx context.Context, id uint64) (*entity.User, error)
	SetTwoFAChallenge(ctx context.Context, userID uint64, code string, expiresAt int64) error
	ConsumeTwoFAChallenge(ctx context.Context, userID uint64, code string, expiresAt int64) (bool, error)
	SetResetChallenge(ctx context.Context, email, token string, expiresAt int64) error
	ConsumeResetChallenge(ctx context.Context, email, token string, expiresAt int64, passwordHash string) (bool, error)
	UpdatePasswordHash(ctx context.Context, email, passwordHash string) error
}

type sessionIssuer interface {
	Issue(userID uint64, email string) (string, time.Time, error)
	Parse(tokenString string) (*security.Claims, error)
}

type AuthService interface {
	Register(ctx context.Context, req *types.RegisterRequest) (*dto.RegisterResult, error)
	Login(ctx context.Context, req *types.LoginRequest) (*dto.LoginResult, error)
	VerifyTwoFactor(ctx context.Context, req *types.VerifyTwoFactorRequest) (*dto.SessionResult, error)
	ForgotPassword(ctx context.Context, req *types.ForgotPasswordRequest) error
	ResetPassword(ctx context.Context, req *types.ResetPasswordRequest) error
	ValidateSessionToken(tokenString string) (*security.Claims, error)
}

type AsyncRunner func(task func())

type AuthServiceOption func(*authService)

type authService struct {
	userRepo    userRepository
	hasher      security.PasswordHasher
	secrets     security.SecretGenerator
	sessions    sessionIssuer
	notifier    notify.Notifier
	cfg         *config.Config
	now         func() time.Time
	asyncRunner AsyncRunner

	dummyOnce sync.Once
	dummyHash string
}

func NewAuthService(
	userRepo userRepository,
	hasher security.PasswordHasher,
	secrets security.SecretGenerator,
	sessions sessionIssuer,
	notifier notify.Notifier,
	cfg *config.Config,
	opts ...AuthServiceOption,
) AuthService {
	svc := &authService{
		userRepo: userRepo,
		hasher:   hasher,
		secrets:  secrets,
		sessions: sessions,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
		asyncRunner: func(task func()) {
			go task()
		},
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

func WithAsyncRunner(runner AsyncRunner) AuthServiceOption {
	return func(s *authService) {
		if runner != nil {
			s.asyncRunner = runner
		}
	}
}

func WithClock(now func() time.Time) AuthServiceOption {
	return func(s *authService) {
		if now != nil {
			s.now = now
		}
	}
}

func (s *authService) Register(ctx context.Context, req *types.RegisterRequest) (*dto.RegisterResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}
	if err := s.cfg.Password.Policy.Validate(req.Password); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrWeakPassword, err.Error())
	}

	hashedPassword, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	user := &entity.User{
		Name:         sql.NullString{String: name, Valid: name != ""},
		Email:        req.Email,
		PasswordHash: hashedPassword,
		TwoFAEnabled: true,
		CreatedAt:    s.now().Unix(),
	}

	if err = s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrUserExists
		}
		return nil, err
	}

	logrus.WithField("user_id", user.ID).Info("User registered")

	result := &dto.RegisterResult{
		User: dto.UserSummary{ID: user.ID, Email: user.Email},
	}

	err = s.notify(ctx, user.Email, "Welcome!", fmt.Sprintf("Hello %s, your account has been created.", name))
	return result, err
}

func (s *authService) Login(ctx context.Context, req *types.LoginRequest) (*dto.LoginResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}

	user, err := s.userRepo.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		_, _ = s.hasher.Verify(req.Password, s.timingHash())
		return nil, ErrInvalidCredentials
	}

	ok, err := s.hasher.Verify(req.Password, user.PasswordHash)
	if err != nil {
		logrus.WithError(err).WithField("user_id", user.ID).Error("Stored password hash is unreadable")
		return nil, ErrInvalidCredentials
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		s.upgradeHash(user, req.Password)
	}

	summary := dto.UserSummary{ID: user.ID, Email: user.Email}

	if !user.TwoFAEnabled {
		token, expiresAt, err := s.sessions.Issue(user.ID, user.Email)
		if err != nil {
			return nil, err
		}
		return &dto.LoginResult{
			Token:     token,
			ExpiresAt: expiresAt,
			User:      summary,
		}, nil
	}

	code, err := s.secrets.TwoFACode()
	if err != nil {
		return nil, err
	}
	expiresAt := s.now().Add(s.cfg.Tokens.TwoFATTL).Unix()

	if err = s.userRepo.SetTwoFAChallenge(ctx, user.ID, code, expiresAt); err != nil {
		return nil, err
	}

	result := &dto.LoginResult{
		TwoFARequired: true,
		User:          summary,
	}

	body := fmt.Sprintf("Your verification code is: %s (valid %s)", code, humanMinutes(s.cfg.Tokens.TwoFATTL))
	err = s.notify(ctx, user.Email, "Your 2FA Code", body)
	return result, err
}

func (s *authService) VerifyTwoFactor(ctx context.Context, req *types.VerifyTwoFactorRequest) (*dto.SessionResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}

	user, err := s.userRepo.FindByID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	if !user.HasTwoFAChallenge() {
		return nil, ErrInvalidOrExpired
	}
	if subtle.ConstantTimeCompare([]byte(user.TwoFACode.String), []byte(req.Code)) != 1 {
		return nil, ErrInvalidOrExpired
	}
	if s.expired(user.TwoFAExpires.Int64) {
		return nil, ErrInvalidOrExpired
	}

	token, expiresAt, err := s.sessions.Issue(user.ID, user.Email)
	if err != nil {
		return nil, err
	}

	consumed, err := s.userRepo.ConsumeTwoFAChallenge(ctx, user.ID, user.TwoFACode.String, user.TwoFAExpires.Int64)
	if err != nil {
		return nil, err
	}
	if !consumed {
		return nil, ErrInvalidOrExpired
	}

	return &dto.SessionResult{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      dto.UserSummary{ID: user.ID, Email: user.Email},
	}, nil
}

func (s *authService) ForgotPassword(ctx context.Context, req *types.ForgotPasswordRequest) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}

	user, err := s.userRepo.FindByEmail(ctx, req.Email)
	if err != nil {
		return err
	}
	if user == nil {
		return nil
	}

	token, err := s.secrets.ResetToken()
	if err != nil {
		return err
	}
	expiresAt := s.now().Add(s.cfg.Tokens.ResetTTL).Unix()

	if err = s.userRepo.SetResetChallenge(ctx, user.Email, token, expiresAt); err != nil {
		return err
	}

	body := fmt.Sprintf("Use the following token to reset your password: %s. It expires in %s.", token, humanMinutes(s.cfg.Tokens.ResetTTL))
	return s.notify(ctx, user.Email, "Password reset", body)
}

func (s *authService) ResetPassword(ctx context.Context, req *types.ResetPasswordRequest) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}
	if err := s.cfg.Password.Policy.Validate(req.NewPassword); err != nil {
		return fmt.Errorf("%w: %s", ErrWeakPassword, err.Error())
	}

	user, err := s.userRepo.FindByEmail(ctx, req.Email)
	if err != nil {
		return err
	}
	if user == nil || !user.HasResetChallenge() {
		return ErrInvalidOrExpired
	}
	if subtle.ConstantTimeCompare([]byte(user.ResetToken.String), []byte(req.ResetToken)) != 1 {
		return ErrInvalidOrExpired
	}
	if s.expired(user.ResetExpires.Int64) {
		return ErrInvalidOrExpired
	}

	hashedPassword, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return err
	}

	consumed, err := s.userRepo.ConsumeResetChallenge(ctx, user.Email, user.ResetToken.String, user.ResetExpires.Int64, hashedPassword)
	if err != nil {
		return err
	}
	if !consumed {
		return ErrInvalidOrExpired
	}

	logrus.WithField("user_id", user.ID).Info("Password reset completed")

	return s.notify(ctx, user.Email, "Password changed", "Your password was successfully changed.")
}

func (s *authService) ValidateSessionToken(tokenString string) (*security.Claims, error) {
	return s.sessions.Parse(tokenString)
}

// notify runs after the state change is stored. A failure is reported as
// ErrDeliveryFailed so callers can tell it apart from a failed operation.
// Delivery is detached from request cancellation; the notifier's own timeout bounds it.
func (s *authService) notify(ctx context.Context, to, subject, body string) error {
	if err := s.notifier.Send(context.WithoutCancel(ctx), to, subject, body); err != nil {
		logrus.WithError(err).WithField("subject", subject).Warn("Notification delivery failed")
		return fmt.Errorf("%w: %s", ErrDeliveryFailed, err.Error())
	}
	return nil
}

// A challenge is expired once the current second reaches its stored expiry.
func (s *authService) expired(expiresAt int64) bool {
	return s.now().Unix() >= expiresAt
}

func (s *authService) timingHash() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash(dummyPassword)
		if err != nil {
			logrus.WithError(err).Error("Failed to prepare timing hash")
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

func (s *authService) upgradeHash(user *entity.User, password string) {
	userID, email := user.ID, user.Email
	s.asyncRunner(func() {
		hash, err := s.hasher.Hash(password)
		if err != nil {
			logrus.WithError(err).WithField("user_id", userID).Error("Failed to rehash password")
			return
		}

		updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err = s.userRepo.UpdatePasswordHash(updateCtx, email, hash); err != nil {
			logrus.WithError(err).WithField("user_id", userID).Error("Failed to store upgraded password hash")
			return
		}
		logrus.WithField("user_id", userID).Info("Password hash upgraded")
	})
}

func humanMinutes(d time.Duration) string {
	minutes := int(d.Minutes())
	if minutes == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}
