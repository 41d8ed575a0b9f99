package entity

import "time"

// RecordType тип записи в CRM
type RecordType string

const (
	RecordLead RecordType = "lead" // Лид (воронка дизайнеров)
	RecordDeal RecordType = "deal" // Сделка (воронка партнёров)
)

// SyncStatus итог сверки локальной записи с CRM
type SyncStatus string

const (
	SyncValid             SyncStatus = "valid"              // Статус не изменился
	SyncUpdated           SyncStatus = "updated"            // Статус обновлён из CRM
	SyncUnsupportedStatus SyncStatus = "unsupported_status" // Статус вне воронки роли
	SyncNotFound          SyncStatus = "not_found"          // Запись не найдена в CRM
)

// Record локальная копия лида/сделки, созданной через бота.
// LeadNumber — единственный стабильный идентификатор, который видит
// пользователь; BitrixLeadID для него непрозрачен.
type Record struct {
	LeadNumber      string
	BitrixLeadID    int64
	OwnerTelegramID int64
	EntityType      RecordType
	OwnerRole       Role
	ClientFullName  string
	ClientPhone     string
	ProjectFileID   string
	ProjectFileName string
	Comment         string
	Status          string
	CreatedDate     time.Time
}

// SyncedRecord запись, обогащённая результатом сверки с CRM.
type SyncedRecord struct {
	Record     *Record
	SyncStatus SyncStatus
	StatusName string // Отображаемое имя статуса либо заглушка
}
