package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"intake-bot/internal/domain/entity"
	"intake-bot/internal/domain/port"
)

// RecordsCallbackPrefix пространство имён callback-токенов списка записей.
const RecordsCallbackPrefix = "records"

// PageToken токен навигации по страницам списка записей. Кодируется в
// callback-данные кнопки и разбирается обратно при нажатии.
type PageToken struct {
	Namespace string
	Role      entity.Role
	Page      int
	Noop      bool // кнопка-индикатор текущей страницы
}

// String сериализует токен в формат "records:<role>:<page|noop>".
func (t PageToken) String() string {
	target := strconv.Itoa(t.Page)
	if t.Noop {
		target = "noop"
	}
	return fmt.Sprintf("%s:%s:%s", t.Namespace, t.Role, target)
}

// ParsePageToken разбирает callback-данные кнопки навигации.
func ParsePageToken(raw string) (PageToken, bool) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return PageToken{}, false
	}

	token := PageToken{Namespace: parts[0], Role: entity.Role(parts[1])}
	if parts[2] == "noop" {
		token.Noop = true
		return token, true
	}

	page, err := strconv.Atoi(parts[2])
	if err != nil {
		return PageToken{}, false
	}
	token.Page = page
	return token, true
}

// SyncService сверяет локальный кэш лидов/сделок с актуальным состоянием
// CRM: записи могут быть удалены или объединены в CRM без ведома бота,
// кэш должен вычищаться сам, а не показывать фантомные записи.
type SyncService struct {
	records  port.RecordRepository
	crm      port.CRM
	resolver *StageResolver
	log      *zap.Logger

	placeholder     string
	designerAllowed map[string]struct{}
	partnerAllowed  map[string]struct{}
	pageSize        int
}

// NewSyncService создаёт движок сверки. Списки допустимых статусов
// строятся из ключей таблиц воронок, нормализованных для сравнения.
func NewSyncService(
	records port.RecordRepository,
	crm port.CRM,
	resolver *StageResolver,
	designerStages, partnerStages map[string]string,
	placeholder string,
	pageSize int,
	log *zap.Logger,
) *SyncService {
	if pageSize < 1 {
		pageSize = 1
	}
	return &SyncService{
		records:         records,
		crm:             crm,
		resolver:        resolver,
		log:             log,
		placeholder:     placeholder,
		designerAllowed: normalizedKeySet(designerStages),
		partnerAllowed:  normalizedKeySet(partnerStages),
		pageSize:        pageSize,
	}
}

func normalizedKeySet(stages map[string]string) map[string]struct{} {
	set := make(map[string]struct{}, len(stages))
	for code := range stages {
		set[NormalizeStatusCode(code)] = struct{}{}
	}
	return set
}

// PageSize возвращает размер страницы списка записей.
func (s *SyncService) PageSize() int {
	return s.pageSize
}

// statusAllowed сообщает, входит ли статус в воронку роли.
func (s *SyncService) statusAllowed(code string, role entity.Role) bool {
	allowed := s.designerAllowed
	if role == entity.RolePartner {
		allowed = s.partnerAllowed
	}
	_, ok := allowed[NormalizeStatusCode(code)]
	return ok
}

// SyncRecordsForUser перечитывает статусы всех записей пользователя из CRM
// и возвращает актуальные записи отдельно от не найденных в CRM. При
// dropMissing не найденные записи удаляются из локального кэша.
func (s *SyncService) SyncRecordsForUser(ctx context.Context, telegramID int64, role entity.Role, dropMissing bool) (valid, invalid []entity.SyncedRecord, err error) {
	records, err := s.records.ByOwner(ctx, telegramID)
	if err != nil {
		return nil, nil, fmt.Errorf("get user records: %w", err)
	}

	for _, rec := range records {
		synced := s.syncRecord(ctx, rec, role)
		if synced.SyncStatus == entity.SyncNotFound {
			invalid = append(invalid, synced)
			continue
		}
		valid = append(valid, synced)
	}

	if dropMissing {
		for _, rec := range invalid {
			if err := s.records.Delete(ctx, rec.Record.LeadNumber); err != nil {
				s.log.Warn("не удалось удалить запись из кэша",
					zap.String("lead_number", rec.Record.LeadNumber), zap.Error(err))
			}
		}
	}

	return valid, invalid, nil
}

// syncRecord сверяет одну запись с CRM и классифицирует итог.
func (s *SyncService) syncRecord(ctx context.Context, rec *entity.Record, fallbackRole entity.Role) entity.SyncedRecord {
	role := rec.OwnerRole
	if !role.Known() {
		role = fallbackRole
	}

	current, err := s.fetchStatus(ctx, rec)
	if err != nil {
		s.log.Warn("не удалось получить статус из CRM",
			zap.String("lead_number", rec.LeadNumber), zap.Error(err))
		current = ""
	}

	if current == "" {
		return entity.SyncedRecord{Record: rec, SyncStatus: entity.SyncNotFound}
	}

	if !s.statusAllowed(current, role) {
		// Сырой статус сохраняется, чтобы кэш знал реальное положение дел,
		// но пользователю показывается заглушка: внутренние стадии CRM
		// не предназначены для его глаз.
		s.persistStatus(ctx, rec, current)
		return entity.SyncedRecord{
			Record:     rec,
			SyncStatus: entity.SyncUnsupportedStatus,
			StatusName: s.placeholder,
		}
	}

	syncStatus := entity.SyncValid
	if current != rec.Status {
		s.persistStatus(ctx, rec, current)
		syncStatus = entity.SyncUpdated
	}

	name := s.resolver.Resolve(ctx, current, role)
	if name == "" {
		name = s.placeholder
	}
	return entity.SyncedRecord{Record: rec, SyncStatus: syncStatus, StatusName: name}
}

// fetchStatus запрашивает статус записи согласно её типу: у лидов и сделок
// в CRM разные справочники.
func (s *SyncService) fetchStatus(ctx context.Context, rec *entity.Record) (string, error) {
	if rec.EntityType == entity.RecordDeal {
		return s.crm.DealStatus(ctx, rec.BitrixLeadID)
	}
	return s.crm.LeadStatus(ctx, rec.BitrixLeadID)
}

func (s *SyncService) persistStatus(ctx context.Context, rec *entity.Record, status string) {
	if err := s.records.UpdateStatus(ctx, rec.LeadNumber, status); err != nil {
		s.log.Warn("не удалось сохранить статус записи",
			zap.String("lead_number", rec.LeadNumber), zap.Error(err))
		return
	}
	rec.Status = status
}

// Page возвращает страницу списка записей. Номер страницы прижимается к
// допустимому диапазону: запрос заведомо несуществующей страницы не
// ошибка, а последняя доступная страница.
func (s *SyncService) Page(records []entity.SyncedRecord, page int) (items []entity.SyncedRecord, clamped, totalPages int) {
	totalPages = (len(records) + s.pageSize - 1) / s.pageSize
	if totalPages < 1 {
		totalPages = 1
	}

	clamped = page
	if clamped < 0 {
		clamped = 0
	}
	if clamped > totalPages-1 {
		clamped = totalPages - 1
	}

	start := clamped * s.pageSize
	end := start + s.pageSize
	if start > len(records) {
		start = len(records)
	}
	if end > len(records) {
		end = len(records)
	}
	return records[start:end], clamped, totalPages
}
