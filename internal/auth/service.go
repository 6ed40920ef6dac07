package auth

import (
	"context"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/slotline/slotline/internal/shared"
)

// Service implements credential checks and login-audit bookkeeping.
type Service struct {
	repo Repository
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// unknownUserHash is compared when the email has no account so that
// login timing does not reveal which emails exist.
var unknownUserHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// Authenticate checks an email/password pair. Unknown accounts,
// deactivated accounts and wrong passwords all surface as
// shared.ErrInvalidCredentials; callers cannot tell them apart.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		_ = bcrypt.CompareHashAndPassword(unknownUserHash, []byte(password))
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// RecordLogin writes the postgres audit row for a fresh login. The row
// outlives the redis session and is what the sessions listing shows.
func (s *Service) RecordLogin(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// RemoveLogin drops the audit row after an explicit logout.
func (s *Service) RemoveLogin(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}
