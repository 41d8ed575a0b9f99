package port

import (
	"context"

	"intake-bot/internal/domain/entity"
)

// Contact контакт, найденный или созданный в CRM.
type Contact struct {
	ID    int64
	Phone string
	Email string
}

// ContactFields данные для создания контакта в CRM.
type ContactFields struct {
	LastName    string
	FirstName   string
	MiddleName  string
	Phone       string
	Email       string
	CompanyName string
	Position    string
	TelegramID  int64
}

// RecordFields данные для создания лида или сделки в CRM.
type RecordFields struct {
	OwnerName        string
	OwnerBitrixID    int64
	OwnerRole        entity.Role
	ClientFullName   string
	ClientPhone      string // каноническая десятизначная форма
	ProjectFileName  string
	ProjectFileBytes []byte // nil, если файл скачать не удалось
	Comment          string
	SourceID         string
	SourceName       string
	InitialStage     string // только для сделок партнёров
}

// CreatedRecord результат создания записи в CRM.
type CreatedRecord struct {
	ID         int64
	Number     string
	Status     string
	EntityType entity.RecordType
}

// CRM клиент внешней CRM. Все вызовы синхронны с точки зрения
// обработчика; отсутствие результата выражается nil/пустой строкой,
// а не ошибкой, когда это определённое состояние (см. LeadStatus).
type CRM interface {
	// FindContactByName ищет контакт по полному имени. nil без ошибки — не найден.
	FindContactByName(ctx context.Context, fullName string) (*Contact, error)

	// CreateContact создаёт контакт и возвращает его идентификатор.
	CreateContact(ctx context.Context, fields ContactFields) (int64, error)

	// CreateLead создаёт лид (воронка дизайнеров).
	CreateLead(ctx context.Context, fields RecordFields) (*CreatedRecord, error)

	// CreatePartnerDeal создаёт сделку в партнёрской воронке.
	CreatePartnerDeal(ctx context.Context, fields RecordFields) (*CreatedRecord, error)

	// LeadStatus возвращает код текущего статуса лида, "" если лид не найден.
	LeadStatus(ctx context.Context, id int64) (string, error)

	// DealStatus возвращает код текущей стадии сделки, "" если сделка не найдена.
	DealStatus(ctx context.Context, id int64) (string, error)

	// StatusList возвращает справочник статусов CRM.
	StatusList(ctx context.Context) ([]StatusEntry, error)
}

// StatusEntry элемент справочника статусов CRM.
type StatusEntry struct {
	StatusID string // бизнес-код, возможно с префиксом воронки ("C1:NEW")
	Name     string // отображаемое имя
	ID       string // числовой идентификатор в CRM
	Sort     string // порядок сортировки
}
