package port

import (
	"context"

	"intake-bot/internal/domain/entity"
)

// UserRepository хранилище пользователей
type UserRepository interface {
	// Get возвращает пользователя, nil без ошибки — не найден.
	Get(ctx context.Context, telegramID int64) (*entity.User, error)

	// Add добавляет нового пользователя; повторное добавление не ошибка.
	Add(ctx context.Context, user *entity.User) error

	// Update сохраняет изменённые поля пользователя.
	Update(ctx context.Context, user *entity.User) error

	// All возвращает всех пользователей.
	All(ctx context.Context) ([]*entity.User, error)

	// ByRole возвращает пользователей с указанной ролью.
	ByRole(ctx context.Context, role entity.Role) ([]*entity.User, error)

	// SetBlocked отмечает, что пользователь заблокировал бота.
	SetBlocked(ctx context.Context, telegramID int64, blocked bool) error
}

// RecordRepository локальный кэш лидов/сделок
type RecordRepository interface {
	// Add сохраняет созданную запись.
	Add(ctx context.Context, record *entity.Record) error

	// ByOwner возвращает записи пользователя, новые первыми.
	ByOwner(ctx context.Context, telegramID int64) ([]*entity.Record, error)

	// ByNumber возвращает запись по бизнес-номеру, nil — не найдена.
	ByNumber(ctx context.Context, leadNumber string) (*entity.Record, error)

	// UpdateStatus обновляет последний известный статус записи.
	UpdateStatus(ctx context.Context, leadNumber, status string) error

	// Delete удаляет запись из кэша.
	Delete(ctx context.Context, leadNumber string) error
}

// StateRepository хранилище состояний диалогов
type StateRepository interface {
	// Get возвращает активный диалог пользователя, nil — диалога нет.
	Get(ctx context.Context, telegramID int64) (*entity.Conversation, error)

	// Set сохраняет диалог, перезаписывая предыдущий шаг.
	Set(ctx context.Context, conv *entity.Conversation) error

	// Clear завершает диалог пользователя.
	Clear(ctx context.Context, telegramID int64) error
}
