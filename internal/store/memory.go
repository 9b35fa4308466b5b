package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/secure-ingress-home/apiserver/types"
)

// MemoryAuthorizationRepository keeps authorizations in process memory.
// It backs STORE_BACKEND=memory and the service tests.
type MemoryAuthorizationRepository struct {
	mu    sync.Mutex
	items map[uuid.UUID]types.Authorization
}

func NewMemoryAuthorizationRepository() *MemoryAuthorizationRepository {
	return &MemoryAuthorizationRepository{items: make(map[uuid.UUID]types.Authorization)}
}

func (r *MemoryAuthorizationRepository) Create(_ context.Context, auth types.Authorization) (types.Authorization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[auth.ID]; exists {
		return types.Authorization{}, fmt.Errorf("%w: authorization %s", ErrDuplicate, auth.ID)
	}
	for _, existing := range r.items {
		if existing.Number == auth.Number {
			return types.Authorization{}, fmt.Errorf("%w: number %d", ErrDuplicate, auth.Number)
		}
		if existing.AccessCode == auth.AccessCode && existing.Active(auth.DateGenerated) {
			return types.Authorization{}, ErrCodeInUse
		}
	}

	auth.GuardID = nil
	auth.DateUsed = nil
	r.items[auth.ID] = auth
	return auth, nil
}

func (r *MemoryAuthorizationRepository) List(context.Context) ([]types.Authorization, error) {
	return r.filter(func(types.Authorization) bool { return true }), nil
}

func (r *MemoryAuthorizationRepository) ListByUser(_ context.Context, userID uuid.UUID) ([]types.Authorization, error) {
	return r.filter(func(a types.Authorization) bool { return a.UserID == userID }), nil
}

func (r *MemoryAuthorizationRepository) GetByID(_ context.Context, id uuid.UUID) (types.Authorization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	auth, ok := r.items[id]
	if !ok {
		return types.Authorization{}, ErrNotFound
	}
	return auth, nil
}

func (r *MemoryAuthorizationRepository) GetByCode(_ context.Context, code int, at time.Time) (types.Authorization, error) {
	matches := r.filter(func(a types.Authorization) bool { return a.AccessCode == code })
	if len(matches) == 0 {
		return types.Authorization{}, ErrNotFound
	}
	sort.SliceStable(matches, func(i, j int) bool {
		ai, aj := matches[i].Active(at), matches[j].Active(at)
		if ai != aj {
			return ai
		}
		return matches[i].DateGenerated.After(matches[j].DateGenerated)
	})
	return matches[0], nil
}

func (r *MemoryAuthorizationRepository) ActiveCodes(_ context.Context, at time.Time) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	codes := make([]int, 0, len(r.items))
	for _, auth := range r.items {
		if auth.Active(at) {
			codes = append(codes, auth.AccessCode)
		}
	}
	return codes, nil
}

func (r *MemoryAuthorizationRepository) MarkUsed(_ context.Context, id, guardID uuid.UUID, usedAt time.Time) (types.Authorization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	auth, ok := r.items[id]
	if !ok {
		return types.Authorization{}, ErrNotFound
	}
	if auth.Used() {
		return types.Authorization{}, ErrAlreadyUsed
	}
	auth.GuardID = &guardID
	auth.DateUsed = &usedAt
	r.items[id] = auth
	return auth, nil
}

func (r *MemoryAuthorizationRepository) Delete(_ context.Context, id uuid.UUID) (types.Authorization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	auth, ok := r.items[id]
	if !ok {
		return types.Authorization{}, ErrNotFound
	}
	delete(r.items, id)
	return auth, nil
}

func (r *MemoryAuthorizationRepository) filter(keep func(types.Authorization) bool) []types.Authorization {
	r.mu.Lock()
	defer r.mu.Unlock()

	auths := make([]types.Authorization, 0, len(r.items))
	for _, auth := range r.items {
		if keep(auth) {
			auths = append(auths, auth)
		}
	}
	sort.Slice(auths, func(i, j int) bool { return auths[i].Number < auths[j].Number })
	return auths
}

// MemoryUserRepository keeps users in process memory. Writes made through
// WithinTx are staged and only applied when the callback succeeds. WithinTx
// calls run one at a time, so a staged username or email cannot be claimed by
// a second transaction before the first one commits or rolls back.
type MemoryUserRepository struct {
	txMu  sync.Mutex
	mu    sync.Mutex
	users map[uuid.UUID]types.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[uuid.UUID]types.User)}
}

func (r *MemoryUserRepository) GetByID(_ context.Context, id uuid.UUID) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return types.User{}, ErrNotFound
	}
	return user, nil
}

func (r *MemoryUserRepository) GetByUsername(_ context.Context, username string) (types.User, error) {
	return r.find(func(u types.User) bool { return u.Username == username })
}

func (r *MemoryUserRepository) GetByEmail(_ context.Context, email string) (types.User, error) {
	return r.find(func(u types.User) bool { return strings.EqualFold(u.Email, email) })
}

func (r *MemoryUserRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, users UserWriter) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	staged := &memoryUserTx{repo: r}
	if err := fn(ctx, staged); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range staged.users {
		if err := r.conflictLocked(user); err != nil {
			return err
		}
	}
	for _, user := range staged.users {
		r.users[user.ID] = user
	}
	return nil
}

func (r *MemoryUserRepository) UpdateLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	user.LastLogin = at
	user.UpdatedAt = at
	r.users[id] = user
	return nil
}

func (r *MemoryUserRepository) MarkVerified(_ context.Context, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, user := range r.users {
		if strings.EqualFold(user.Email, email) {
			user.Verified = true
			user.UpdatedAt = time.Now()
			r.users[id] = user
			return nil
		}
	}
	return ErrNotFound
}

// Count returns the number of committed users.
func (r *MemoryUserRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

func (r *MemoryUserRepository) find(match func(types.User) bool) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, user := range r.users {
		if match(user) {
			return user, nil
		}
	}
	return types.User{}, ErrNotFound
}

func (r *MemoryUserRepository) conflictLocked(user types.User) error {
	for _, existing := range r.users {
		if existing.ID == user.ID ||
			existing.Username == user.Username ||
			strings.EqualFold(existing.Email, user.Email) {
			return fmt.Errorf("%w: username or email already registered", ErrDuplicate)
		}
	}
	return nil
}

type memoryUserTx struct {
	repo  *MemoryUserRepository
	users []types.User
}

func (t *memoryUserTx) Create(_ context.Context, user types.User) (types.User, error) {
	now := time.Now()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.CreatedAt = now
	user.UpdatedAt = now

	t.repo.mu.Lock()
	err := t.repo.conflictLocked(user)
	t.repo.mu.Unlock()
	if err != nil {
		return types.User{}, err
	}
	t.users = append(t.users, user)
	return user, nil
}
