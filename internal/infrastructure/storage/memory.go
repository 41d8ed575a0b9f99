package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"intake-bot/internal/domain/entity"
	"intake-bot/internal/domain/port"
)

// MemoryUserRepository in-memory хранилище пользователей
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[int64]*entity.User
}

// NewMemoryUserRepository создаёт новое in-memory хранилище
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[int64]*entity.User)}
}

func (r *MemoryUserRepository) Get(ctx context.Context, telegramID int64) (*entity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.users[telegramID], nil
}

func (r *MemoryUserRepository) Add(ctx context.Context, user *entity.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.users[user.TelegramID]; !exists {
		r.users[user.TelegramID] = user
	}
	return nil
}

func (r *MemoryUserRepository) Update(ctx context.Context, user *entity.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user.LastActivity = time.Now()
	r.users[user.TelegramID] = user
	return nil
}

func (r *MemoryUserRepository) All(ctx context.Context) ([]*entity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]*entity.User, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].TelegramID < users[j].TelegramID })
	return users, nil
}

func (r *MemoryUserRepository) ByRole(ctx context.Context, role entity.Role) ([]*entity.User, error) {
	all, _ := r.All(ctx)
	users := all[:0:0]
	for _, u := range all {
		if u.Role == role {
			users = append(users, u)
		}
	}
	return users, nil
}

func (r *MemoryUserRepository) SetBlocked(ctx context.Context, telegramID int64, blocked bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, exists := r.users[telegramID]; exists {
		u.IsBlocked = blocked
	}
	return nil
}

// MemoryRecordRepository in-memory кэш лидов/сделок
type MemoryRecordRepository struct {
	mu      sync.RWMutex
	records []*entity.Record
}

// NewMemoryRecordRepository создаёт новый in-memory кэш записей
func NewMemoryRecordRepository() *MemoryRecordRepository {
	return &MemoryRecordRepository{}
}

func (r *MemoryRecordRepository) Add(ctx context.Context, record *entity.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record.CreatedDate.IsZero() {
		record.CreatedDate = time.Now()
	}
	r.records = append(r.records, record)
	return nil
}

func (r *MemoryRecordRepository) ByOwner(ctx context.Context, telegramID int64) ([]*entity.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var owned []*entity.Record
	// Новые записи первыми.
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].OwnerTelegramID == telegramID {
			owned = append(owned, r.records[i])
		}
	}
	return owned, nil
}

func (r *MemoryRecordRepository) ByNumber(ctx context.Context, leadNumber string) (*entity.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.records {
		if rec.LeadNumber == leadNumber {
			return rec, nil
		}
	}
	return nil, nil
}

func (r *MemoryRecordRepository) UpdateStatus(ctx context.Context, leadNumber, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.LeadNumber == leadNumber {
			rec.Status = status
			return nil
		}
	}
	return nil
}

func (r *MemoryRecordRepository) Delete(ctx context.Context, leadNumber string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, rec := range r.records {
		if rec.LeadNumber == leadNumber {
			r.records = append(r.records[:i], r.records[i+1:]...)
			return nil
		}
	}
	return nil
}

// MemoryStateRepository in-memory хранилище состояний диалогов
type MemoryStateRepository struct {
	mu     sync.RWMutex
	states map[int64]*entity.Conversation
}

// NewMemoryStateRepository создаёт новое in-memory хранилище состояний
func NewMemoryStateRepository() *MemoryStateRepository {
	return &MemoryStateRepository{states: make(map[int64]*entity.Conversation)}
}

func (r *MemoryStateRepository) Get(ctx context.Context, telegramID int64) (*entity.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.states[telegramID], nil
}

func (r *MemoryStateRepository) Set(ctx context.Context, conv *entity.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[conv.TelegramID] = conv
	return nil
}

func (r *MemoryStateRepository) Clear(ctx context.Context, telegramID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, telegramID)
	return nil
}

// Проверка реализации интерфейсов
var (
	_ port.UserRepository   = (*MemoryUserRepository)(nil)
	_ port.RecordRepository = (*MemoryRecordRepository)(nil)
	_ port.StateRepository  = (*MemoryStateRepository)(nil)
)
