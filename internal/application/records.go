package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"intake-bot/config"
	"intake-bot/internal/domain/entity"
	"intake-bot/internal/domain/phone"
	"intake-bot/internal/domain/port"
)

// Ключи накопленных данных создания записи.
const (
	dataOwnerRole       = "owner_role"
	dataClientName      = "client_name"
	dataClientPhone     = "client_phone"
	dataProjectFileID   = "project_file_id"
	dataProjectFileName = "project_file_name"
	dataComment         = "comment"
)

const pdfMimeType = "application/pdf"

// RecordService ведёт диалог создания лида/сделки и проверку статуса по
// номеру. Дизайнеры создают лиды, партнёры — сделки в отдельной воронке.
type RecordService struct {
	users    port.UserRepository
	states   port.StateRepository
	records  port.RecordRepository
	crm      port.CRM
	files    port.FileFetcher
	resolver *StageResolver
	cfg      *config.Config
	log      *zap.Logger
}

// NewRecordService создаёт сервис работы с записями.
func NewRecordService(
	users port.UserRepository,
	states port.StateRepository,
	records port.RecordRepository,
	crm port.CRM,
	files port.FileFetcher,
	resolver *StageResolver,
	cfg *config.Config,
	log *zap.Logger,
) *RecordService {
	return &RecordService{
		users:    users,
		states:   states,
		records:  records,
		crm:      crm,
		files:    files,
		resolver: resolver,
		cfg:      cfg,
		log:      log,
	}
}

const notRegisteredText = "❌ Эта функция доступна только для зарегистрированных дизайнеров и партнеров."

// guard возвращает пользователя, если тот имеет право создавать записи.
func (s *RecordService) guard(ctx context.Context, telegramID int64) (*entity.User, []Reply, error) {
	user, err := s.users.Get(ctx, telegramID)
	if err != nil {
		return nil, nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil || !user.Role.Known() {
		return nil, []Reply{textReply(notRegisteredText)}, nil
	}
	return user, nil, nil
}

// StartCreation начинает создание записи. Доступно только пользователю с
// известной ролью и привязанным контактом CRM.
func (s *RecordService) StartCreation(ctx context.Context, telegramID int64) ([]Reply, error) {
	user, denied, err := s.guard(ctx, telegramID)
	if err != nil || denied != nil {
		return denied, err
	}

	if user.BitrixID == 0 {
		return []Reply{menuReply(
			"❌ Не удалось определить ваш Bitrix ID. Пожалуйста, завершите регистрацию или обратитесь к менеджеру.",
			user.Role)}, nil
	}

	conv := entity.NewConversation(telegramID, entity.StateAwaitingClientName)
	conv.Set(dataOwnerRole, string(user.Role))
	if err := s.states.Set(ctx, conv); err != nil {
		return nil, fmt.Errorf("set state: %w", err)
	}

	return []Reply{cancelReply("📝 Создание новой сделки\n\nВведите ФИО клиента:")}, nil
}

// SubmitClientName принимает ФИО клиента: минимум фамилия и имя.
func (s *RecordService) SubmitClientName(ctx context.Context, telegramID int64, text string) ([]Reply, error) {
	clientName := strings.TrimSpace(text)
	if len(strings.Fields(clientName)) < 2 {
		return []Reply{textReply("Пожалуйста, введите полное ФИО клиента (минимум Фамилия и Имя):")}, nil
	}

	conv, err := s.states.Get(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("get state: %w", err)
	}
	if conv == nil {
		return []Reply{textReply(notRegisteredText)}, nil
	}

	conv.Set(dataClientName, clientName)
	conv.State = entity.StateAwaitingClientPhone
	if err := s.states.Set(ctx, conv); err != nil {
		return nil, fmt.Errorf("set state: %w", err)
	}

	return []Reply{textReply("Введите номер телефона клиента:")}, nil
}

// SubmitClientPhone принимает телефон клиента. В CRM уходит каноническая
// форма, а не введённая строка.
func (s *RecordService) SubmitClientPhone(ctx context.Context, telegramID int64, text string) ([]Reply, error) {
	raw := strings.TrimSpace(text)
	if !phone.Validate(raw) {
		return []Reply{textReply(invalidPhoneText)}, nil
	}

	conv, err := s.states.Get(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("get state: %w", err)
	}
	if conv == nil {
		return []Reply{textReply(notRegisteredText)}, nil
	}

	conv.Set(dataClientPhone, phone.Normalize(raw))
	conv.State = entity.StateAwaitingProjectFile
	if err := s.states.Set(ctx, conv); err != nil {
		return nil, fmt.Errorf("set state: %w", err)
	}

	return []Reply{textReply("Прикрепите файл проекта в формате PDF:\n(Отправьте PDF-файл или документ)")}, nil
}

// AttachProjectFile принимает файл проекта. Принимается только PDF по
// заявленному типу содержимого.
func (s *RecordService) AttachProjectFile(ctx context.Context, telegramID int64, fileID, fileName, mimeType string) ([]Reply, error) {
	if mimeType != pdfMimeType {
		return []Reply{textReply("⚠️ Пожалуйста, отправьте файл в формате PDF.\n" +
			"Если хотите отменить, нажмите кнопку 'Отмена'.")}, nil
	}

	conv, err := s.states.Get(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("get state: %w", err)
	}
	if conv == nil {
		return []Reply{textReply(notRegisteredText)}, nil
	}

	conv.Set(dataProjectFileID, fileID)
	conv.Set(dataProjectFileName, fileName)
	conv.State = entity.StateAwaitingComment
	if err := s.states.Set(ctx, conv); err != nil {
		return nil, fmt.Errorf("set state: %w", err)
	}

	return []Reply{textReply("Добавьте комментарий к сделке:")}, nil
}

// RejectProjectFile отвечает на сообщение без документа на шаге файла.
func (s *RecordService) RejectProjectFile() []Reply {
	return []Reply{textReply("Пожалуйста, отправьте PDF-файл проекта.")}
}

// SubmitComment принимает комментарий (любой текст, включая пустой) и
// показывает сводку для подтверждения.
func (s *RecordService) SubmitComment(ctx context.Context, telegramID int64, text string) ([]Reply, error) {
	conv, err := s.states.Get(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("get state: %w", err)
	}
	if conv == nil {
		return []Reply{textReply(notRegisteredText)}, nil
	}

	conv.Set(dataComment, strings.TrimSpace(text))
	conv.State = entity.StateConfirmingRecord
	if err := s.states.Set(ctx, conv); err != nil {
		return nil, fmt.Errorf("set state: %w", err)
	}

	return []Reply{{Text: s.confirmationText(conv), Keyboard: KeyboardConfirm}}, nil
}

// confirmationText собирает сводку всех полей, включая источник обращения
// по умолчанию.
func (s *RecordService) confirmationText(conv *entity.Conversation) string {
	projectFile := conv.Get(dataProjectFileName)
	if projectFile == "" {
		projectFile = "—"
	}
	comment := conv.Get(dataComment)
	if comment == "" {
		comment = "—"
	}

	sourceLine := s.cfg.SourceDescription
	if s.cfg.LeadSourceID != "" {
		sourceLine = fmt.Sprintf("%s (%s)", sourceLine, s.cfg.LeadSourceID)
	}

	return "📋 Проверьте данные сделки:\n\n" +
		fmt.Sprintf("👤 Клиент: %s\n", conv.Get(dataClientName)) +
		fmt.Sprintf("📱 Телефон: %s\n", conv.Get(dataClientPhone)) +
		fmt.Sprintf("📄 Файл: %s\n", projectFile) +
		fmt.Sprintf("🏷 Источник обращения: %s\n", sourceLine) +
		fmt.Sprintf("💬 Комментарий: %s\n\n", comment) +
		"✅ Подтвердить создание сделки?"
}

// Confirm создаёт запись в CRM. Дизайнер порождает лид, партнёр — сделку
// со стартовой стадией партнёрской воронки. Файл проекта скачивается по
// возможности; его отсутствие не блокирует создание. При неудаче CRM
// частичная запись не сохраняется и повторная попытка не делается.
func (s *RecordService) Confirm(ctx context.Context, telegramID int64) ([]Reply, error) {
	conv, err := s.states.Get(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("get state: %w", err)
	}
	// Кнопка подтверждения из старого сообщения вне шага подтверждения
	// игнорируется, чтобы не собрать запись из чужих данных диалога.
	if conv == nil || conv.State != entity.StateConfirmingRecord {
		return nil, nil
	}

	user, err := s.users.Get(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return []Reply{textReply(notRegisteredText)}, nil
	}

	role, _ := entity.ParseRole(conv.Get(dataOwnerRole))
	if !role.Known() {
		role = user.Role
	}

	var fileBytes []byte
	if fileID := conv.Get(dataProjectFileID); fileID != "" {
		fileBytes, err = s.files.Fetch(ctx, fileID)
		if err != nil {
			s.log.Warn("не удалось скачать файл проекта",
				zap.String("file_id", fileID), zap.Error(err))
			fileBytes = nil
		}
	}

	fields := port.RecordFields{
		OwnerName:        user.FullName,
		OwnerBitrixID:    user.BitrixID,
		OwnerRole:        role,
		ClientFullName:   conv.Get(dataClientName),
		ClientPhone:      conv.Get(dataClientPhone),
		ProjectFileName:  conv.Get(dataProjectFileName),
		ProjectFileBytes: fileBytes,
		Comment:          conv.Get(dataComment),
		SourceID:         s.cfg.LeadSourceID,
		SourceName:       s.cfg.SourceDescription,
	}

	var created *port.CreatedRecord
	if role == entity.RolePartner {
		fields.InitialStage = s.cfg.PartnerInitialStage
		created, err = s.crm.CreatePartnerDeal(ctx, fields)
	} else {
		created, err = s.crm.CreateLead(ctx, fields)
	}

	if err != nil || created == nil {
		if err != nil {
			s.log.Error("создание записи в CRM не удалось",
				zap.Int64("telegram_id", telegramID), zap.String("role", string(role)), zap.Error(err))
		}
		if clearErr := s.states.Clear(ctx, telegramID); clearErr != nil {
			return nil, fmt.Errorf("clear state: %w", clearErr)
		}
		return []Reply{menuReply(fmt.Sprintf(
			"❌ Произошла ошибка при создании сделки в системе.\nПожалуйста, обратитесь к менеджеру: @%s",
			s.cfg.ManagerUsername), role)}, nil
	}

	entityType := created.EntityType
	if entityType == "" {
		entityType = entity.RecordLead
	}

	record := &entity.Record{
		LeadNumber:      created.Number,
		BitrixLeadID:    created.ID,
		OwnerTelegramID: telegramID,
		EntityType:      entityType,
		OwnerRole:       role,
		ClientFullName:  conv.Get(dataClientName),
		ClientPhone:     conv.Get(dataClientPhone),
		ProjectFileID:   conv.Get(dataProjectFileID),
		ProjectFileName: conv.Get(dataProjectFileName),
		Comment:         conv.Get(dataComment),
		Status:          created.Status,
	}
	if err := s.records.Add(ctx, record); err != nil {
		return nil, fmt.Errorf("add record: %w", err)
	}

	if err := s.states.Clear(ctx, telegramID); err != nil {
		return nil, fmt.Errorf("clear state: %w", err)
	}

	statusName := s.resolver.Resolve(ctx, created.Status, role)
	return []Reply{menuReply(fmt.Sprintf(
		"✅ Сделка успешно создана!\n\n📋 Номер сделки: %s\n📊 Статус: %s\n\n"+
			"Вы можете отслеживать статус через меню 'Мои сделки' или 'Узнать статус'.",
		created.Number, statusName), role)}, nil
}

// Decline отменяет создание на шаге подтверждения.
func (s *RecordService) Decline(ctx context.Context, telegramID int64) ([]Reply, error) {
	conv, err := s.states.Get(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("get state: %w", err)
	}
	if conv == nil || conv.State != entity.StateConfirmingRecord {
		return nil, nil
	}

	role := s.roleFromState(ctx, telegramID)
	if err := s.states.Clear(ctx, telegramID); err != nil {
		return nil, fmt.Errorf("clear state: %w", err)
	}
	return []Reply{
		textReply("❌ Создание сделки отменено."),
		menuReply("Возвращаюсь в главное меню.", role),
	}, nil
}

// Cancel прерывает создание записи на любом шаге.
func (s *RecordService) Cancel(ctx context.Context, telegramID int64) ([]Reply, error) {
	role := s.roleFromState(ctx, telegramID)
	if err := s.states.Clear(ctx, telegramID); err != nil {
		return nil, fmt.Errorf("clear state: %w", err)
	}
	return []Reply{menuReply("Создание сделки отменено.", role)}, nil
}

// roleFromState достаёт роль из данных диалога для выбора меню.
func (s *RecordService) roleFromState(ctx context.Context, telegramID int64) entity.Role {
	conv, err := s.states.Get(ctx, telegramID)
	if err != nil || conv == nil {
		return entity.RoleDesigner
	}
	if role, ok := entity.ParseRole(conv.Get(dataOwnerRole)); ok {
		return role
	}
	return entity.RoleDesigner
}

// StartStatusCheck начинает проверку статуса по номеру сделки.
func (s *RecordService) StartStatusCheck(ctx context.Context, telegramID int64) ([]Reply, error) {
	user, denied, err := s.guard(ctx, telegramID)
	if err != nil || denied != nil {
		return denied, err
	}

	conv := entity.NewConversation(telegramID, entity.StateAwaitingRecordNumber)
	conv.Set(dataOwnerRole, string(user.Role))
	if err := s.states.Set(ctx, conv); err != nil {
		return nil, fmt.Errorf("set state: %w", err)
	}

	return []Reply{cancelReply("🔍 Проверка статуса сделки\n\nВведите номер сделки:")}, nil
}

// SubmitRecordNumber проверяет статус конкретной записи. Чужая запись
// отклоняется; неизвестный номер оставляет шаг активным для повтора.
func (s *RecordService) SubmitRecordNumber(ctx context.Context, telegramID int64, text string) ([]Reply, error) {
	number := strings.TrimSpace(text)
	role := s.roleFromState(ctx, telegramID)

	record, err := s.records.ByNumber(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	if record == nil {
		return []Reply{textReply(fmt.Sprintf(
			"❌ Сделка с номером %s не найдена.\nПроверьте номер и попробуйте снова.", number))}, nil
	}

	if record.OwnerTelegramID != telegramID {
		if err := s.states.Clear(ctx, telegramID); err != nil {
			return nil, fmt.Errorf("clear state: %w", err)
		}
		return []Reply{textReply("❌ Эта сделка вам не принадлежит.")}, nil
	}

	recordRole := record.OwnerRole
	if !recordRole.Known() {
		recordRole = role
	}

	var current string
	if record.EntityType == entity.RecordDeal {
		current, err = s.crm.DealStatus(ctx, record.BitrixLeadID)
	} else {
		current, err = s.crm.LeadStatus(ctx, record.BitrixLeadID)
	}
	if err != nil {
		s.log.Warn("не удалось получить статус из CRM",
			zap.String("lead_number", number), zap.Error(err))
		current = ""
	}

	if clearErr := s.states.Clear(ctx, telegramID); clearErr != nil {
		return nil, fmt.Errorf("clear state: %w", clearErr)
	}

	if current == "" {
		return []Reply{menuReply(fmt.Sprintf(
			"❌ Не удалось получить актуальный статус из системы.\nОбратитесь к менеджеру: @%s",
			s.cfg.ManagerUsername), role)}, nil
	}

	if err := s.records.UpdateStatus(ctx, number, current); err != nil {
		return nil, fmt.Errorf("update record status: %w", err)
	}

	statusName := s.resolver.Resolve(ctx, current, recordRole)
	if statusName == "" {
		statusName = s.cfg.UnknownStatusPlaceholder
	}

	created := ""
	if !record.CreatedDate.IsZero() {
		created = record.CreatedDate.Format("2006-01-02")
	}

	return []Reply{menuReply(fmt.Sprintf(
		"📊 Статус сделки #%s\n\n👤 Клиент: %s\n📱 Телефон: %s\n📊 Текущий статус: %s\n📅 Дата создания: %s",
		number, record.ClientFullName, record.ClientPhone, statusName, created), role)}, nil
}
