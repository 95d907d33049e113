package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"credvault/internal/model"
)

// MemoryUserRepository keeps users in process memory. It backs the
// "memory://" database URL used for local runs and tests; uniqueness is
// enforced under the same lock as the insert.
type MemoryUserRepository struct {
	mu      sync.RWMutex
	byEmail map[string]model.User
	now     func() time.Time
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		byEmail: make(map[string]model.User),
		now:     time.Now,
	}
}

func (r *MemoryUserRepository) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byEmail[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &user, nil
}

func (r *MemoryUserRepository) ExistsByEmail(_ context.Context, email string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.byEmail[email]
	return ok, nil
}

func (r *MemoryUserRepository) Insert(_ context.Context, name, email, passwordHash string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byEmail[email]; ok {
		return nil, ErrDuplicateEmail
	}
	now := r.now().UTC()
	user := model.User{
		ID:           uuid.New(),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.byEmail[email] = user
	return &user, nil
}

// Count returns the number of stored users.
func (r *MemoryUserRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byEmail)
}
