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

// Ключи накопленных данных регистрации.
const (
	dataRole            = "role"
	dataPreselectedRole = "preselected_role"
	dataFullName        = "full_name"
	dataCompanyName     = "company_name"
	dataPhone           = "phone"
)

const invalidPhoneText = "❌ Неверный формат номера телефона.\n\n" +
	"Пожалуйста, введите номер в правильном формате:\n" +
	"• +79161234567\n" +
	"• 89161234567\n" +
	"• 79161234567\n" +
	"• 9161234567"

// RegistrationService ведёт пользователя через регистрацию: согласие на
// обработку данных, выбор роли, анкета и привязка контакта в CRM.
type RegistrationService struct {
	users  port.UserRepository
	states port.StateRepository
	crm    port.CRM
	cfg    *config.Config
	log    *zap.Logger
}

// NewRegistrationService создаёт сервис регистрации.
func NewRegistrationService(users port.UserRepository, states port.StateRepository, crm port.CRM, cfg *config.Config, log *zap.Logger) *RegistrationService {
	return &RegistrationService{users: users, states: states, crm: crm, cfg: cfg, log: log}
}

// detectRoleFromStartParam распознаёт роль в параметре диплинка /start.
func detectRoleFromStartParam(param string) (entity.Role, bool) {
	cleaned := strings.ToLower(param)
	if strings.HasPrefix(cleaned, "start=") {
		cleaned = strings.SplitN(cleaned, "=", 2)[1]
	}

	switch cleaned {
	case "designer", "desiner":
		return entity.RoleDesigner, true
	case "partner":
		return entity.RolePartner, true
	}
	return entity.RoleUnset, false
}

// Start обрабатывает /start: создаёт пользователя при первом обращении,
// фиксирует источник трафика из диплинка и либо приветствует уже
// зарегистрированного пользователя, либо начинает поток согласия.
func (s *RegistrationService) Start(ctx context.Context, telegramID int64, startParam string) ([]Reply, error) {
	if err := s.states.Clear(ctx, telegramID); err != nil {
		return nil, fmt.Errorf("clear state: %w", err)
	}

	trafficSource := ""
	preselected := entity.RoleUnset
	if startParam != "" {
		trafficSource = strings.ToUpper(startParam)
		if role, ok := detectRoleFromStartParam(startParam); ok {
			preselected = role
		}
	}

	user, err := s.users.Get(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		user = entity.NewUser(telegramID, trafficSource)
		if err := s.users.Add(ctx, user); err != nil {
			return nil, fmt.Errorf("add user: %w", err)
		}
	}

	if user.PrivacyConsent {
		name := user.FullName
		if name == "" {
			name = "пользователь"
		}
		reply := textReply(fmt.Sprintf("С возвращением, %s!", name))
		if user.Role.Known() {
			reply = menuReply(reply.Text, user.Role)
		}
		return []Reply{reply}, nil
	}

	return s.beginConsent(ctx, telegramID, preselected)
}

func (s *RegistrationService) beginConsent(ctx context.Context, telegramID int64, preselected entity.Role) ([]Reply, error) {
	conv := entity.NewConversation(telegramID, entity.StateAwaitingConsent)
	if preselected.Known() {
		conv.Set(dataPreselectedRole, string(preselected))
	}
	if err := s.states.Set(ctx, conv); err != nil {
		return nil, fmt.Errorf("set state: %w", err)
	}

	text := "👋 Добро пожаловать!\n\n" +
		"Для продолжения работы с ботом необходимо ознакомиться и принять условия " +
		"обработки персональных данных согласно 152-ФЗ.\n\n" +
		fmt.Sprintf("📄 [Политика конфиденциальности](%s)", s.cfg.PrivacyPolicyURL)

	return []Reply{{Text: text, Keyboard: KeyboardConsent, Markdown: true}}, nil
}

// AcceptConsent фиксирует согласие и переводит к выбору роли либо сразу
// к анкете, если роль была предвыбрана диплинком.
func (s *RegistrationService) AcceptConsent(ctx context.Context, telegramID int64) ([]Reply, error) {
	conv, err := s.states.Get(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("get state: %w", err)
	}
	// Кнопка согласия из старого сообщения вне шага согласия игнорируется.
	if conv == nil || conv.State != entity.StateAwaitingConsent {
		return nil, nil
	}

	user, err := s.users.Get(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return []Reply{textReply("Чтобы начать, отправьте /start")}, nil
	}

	user.PrivacyConsent = true
	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}

	if role, ok := entity.ParseRole(conv.Get(dataPreselectedRole)); ok {
		replies, err := s.beginProfile(ctx, telegramID, role)
		if err != nil {
			return nil, err
		}
		intro := textReply("✅ Спасибо! Вы приняли условия обработки персональных данных.\n\n" +
			fmt.Sprintf("Регистрируем вас как: %s.", role.Title()))
		return append([]Reply{intro}, replies...), nil
	}

	conv = entity.NewConversation(telegramID, entity.StateAwaitingRole)
	if err := s.states.Set(ctx, conv); err != nil {
		return nil, fmt.Errorf("set state: %w", err)
	}

	return []Reply{
		textReply("✅ Спасибо! Вы приняли условия обработки персональных данных."),
		{Text: "Пожалуйста, выберите вашу роль:", Keyboard: KeyboardRoleSelect},
	}, nil
}

// DeclineConsent прерывает регистрацию: без согласия бот недоступен,
// частичное состояние не сохраняется.
func (s *RegistrationService) DeclineConsent(ctx context.Context, telegramID int64) ([]Reply, error) {
	conv, err := s.states.Get(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("get state: %w", err)
	}
	if conv == nil || conv.State != entity.StateAwaitingConsent {
		return nil, nil
	}

	if err := s.states.Clear(ctx, telegramID); err != nil {
		return nil, fmt.Errorf("clear state: %w", err)
	}
	return []Reply{textReply("❌ К сожалению, без принятия условий обработки персональных данных " +
		"вы не можете использовать бота.\n\nЕсли передумаете, напишите /start")}, nil
}

// ChooseRole обрабатывает выбор роли.
func (s *RegistrationService) ChooseRole(ctx context.Context, telegramID int64, roleKey string) ([]Reply, error) {
	conv, err := s.states.Get(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("get state: %w", err)
	}
	if conv == nil || conv.State != entity.StateAwaitingRole {
		return nil, nil
	}

	role, ok := entity.ParseRole(roleKey)
	if !ok {
		return []Reply{textReply("Не удалось определить выбранную роль. Попробуйте ещё раз.")}, nil
	}

	replies, err := s.beginProfile(ctx, telegramID, role)
	if err != nil {
		return nil, err
	}
	intro := textReply(fmt.Sprintf("✅ Вы выбрали роль: %s", role.Title()))
	return append([]Reply{intro}, replies...), nil
}

// beginProfile начинает анкету для выбранной роли.
func (s *RegistrationService) beginProfile(ctx context.Context, telegramID int64, role entity.Role) ([]Reply, error) {
	conv := entity.NewConversation(telegramID, entity.StateAwaitingFullName)
	conv.Set(dataRole, string(role))
	if err := s.states.Set(ctx, conv); err != nil {
		return nil, fmt.Errorf("set state: %w", err)
	}
	return []Reply{cancelReply("Отлично! Теперь введите ваше полное ФИО (Фамилия Имя Отчество):")}, nil
}

// SubmitFullName принимает ФИО: минимум фамилия и имя.
func (s *RegistrationService) SubmitFullName(ctx context.Context, telegramID int64, text string) ([]Reply, error) {
	fullName := strings.TrimSpace(text)
	if len(strings.Fields(fullName)) < 2 {
		return []Reply{textReply("Пожалуйста, введите полное ФИО (минимум Фамилия и Имя):")}, nil
	}

	conv, err := s.states.Get(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("get state: %w", err)
	}
	if conv == nil {
		return []Reply{textReply("Чтобы начать, отправьте /start")}, nil
	}

	conv.Set(dataFullName, fullName)
	conv.State = entity.StateAwaitingCompany
	if err := s.states.Set(ctx, conv); err != nil {
		return nil, fmt.Errorf("set state: %w", err)
	}

	return []Reply{cancelReply("Теперь укажите название вашей компании:")}, nil
}

// SubmitCompany принимает название компании и ищет пользователя в CRM по
// ФИО. Найденный контакт привязывается сразу, телефон и email берутся из
// него; иначе анкета продолжается сбором телефона.
func (s *RegistrationService) SubmitCompany(ctx context.Context, telegramID int64, text string) ([]Reply, error) {
	conv, err := s.states.Get(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("get state: %w", err)
	}
	if conv == nil {
		return []Reply{textReply("Чтобы начать, отправьте /start")}, nil
	}

	companyName := strings.TrimSpace(text)
	conv.Set(dataCompanyName, companyName)

	fullName := conv.Get(dataFullName)
	role, _ := entity.ParseRole(conv.Get(dataRole))
	if !role.Known() {
		role = entity.RoleDesigner
	}

	contact, err := s.crm.FindContactByName(ctx, fullName)
	if err != nil {
		// Ошибка поиска равносильна промаху: анкета продолжится, контакт
		// будет создан на последнем шаге.
		s.log.Warn("поиск контакта в CRM не удался", zap.Int64("telegram_id", telegramID), zap.Error(err))
		contact = nil
	}

	if contact != nil {
		user, err := s.users.Get(ctx, telegramID)
		if err != nil {
			return nil, fmt.Errorf("get user: %w", err)
		}
		if user == nil {
			return []Reply{textReply("Чтобы начать, отправьте /start")}, nil
		}

		user.FullName = fullName
		user.CompanyName = companyName
		user.Phone = contact.Phone
		user.Email = contact.Email
		user.Role = role
		user.BitrixID = contact.ID
		if err := s.users.Update(ctx, user); err != nil {
			return nil, fmt.Errorf("update user: %w", err)
		}

		found := textReply(fmt.Sprintf(
			"✅ Вы найдены в системе!\n\nПроверьте данные:\nФИО: %s\nКомпания: %s\nТелефон: %s\nEmail: %s\n\nСоздаю ваш личный кабинет...",
			fullName, companyName, contact.Phone, contact.Email))

		done, err := s.complete(ctx, telegramID, role)
		if err != nil {
			return nil, err
		}
		return append([]Reply{found}, done...), nil
	}

	conv.State = entity.StateAwaitingPhone
	if err := s.states.Set(ctx, conv); err != nil {
		return nil, fmt.Errorf("set state: %w", err)
	}

	return []Reply{{
		Text:     "Вы не найдены в системе. Пожалуйста, предоставьте ваш номер телефона:",
		Keyboard: KeyboardPhoneRequest,
	}}, nil
}

// SubmitPhone принимает телефон, введённый текстом.
func (s *RegistrationService) SubmitPhone(ctx context.Context, telegramID int64, text string) ([]Reply, error) {
	raw := strings.TrimSpace(text)
	if !phone.Validate(raw) {
		return []Reply{{
			Text:     invalidPhoneText + "\n\nИли используйте кнопку 'Поделиться номером'",
			Keyboard: KeyboardPhoneRequest,
		}}, nil
	}
	return s.acceptPhone(ctx, telegramID, raw)
}

// SharePhone принимает телефон, переданный кнопкой "Поделиться номером".
func (s *RegistrationService) SharePhone(ctx context.Context, telegramID int64, phoneNumber string) ([]Reply, error) {
	return s.acceptPhone(ctx, telegramID, phoneNumber)
}

func (s *RegistrationService) acceptPhone(ctx context.Context, telegramID int64, phoneNumber string) ([]Reply, error) {
	conv, err := s.states.Get(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("get state: %w", err)
	}
	if conv == nil {
		return []Reply{textReply("Чтобы начать, отправьте /start")}, nil
	}

	// Телефон хранится в каноническом десятизначном виде, как и телефоны
	// клиентов в заявках.
	conv.Set(dataPhone, phone.Normalize(phoneNumber))
	conv.State = entity.StateAwaitingEmail
	if err := s.states.Set(ctx, conv); err != nil {
		return nil, fmt.Errorf("set state: %w", err)
	}

	return []Reply{cancelReply("Спасибо! Теперь введите ваш email:")}, nil
}

// SubmitEmail завершает анкету: создаёт контакт в CRM и сохраняет
// пользователя. Неудача создания контакта фатальна для потока —
// регистрацию придётся начать заново.
func (s *RegistrationService) SubmitEmail(ctx context.Context, telegramID int64, text string) ([]Reply, error) {
	email := strings.TrimSpace(text)
	// Минимальная проверка, намеренно снисходительная.
	if !strings.Contains(email, "@") || !strings.Contains(email, ".") {
		return []Reply{textReply("Пожалуйста, введите корректный email:")}, nil
	}

	conv, err := s.states.Get(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("get state: %w", err)
	}
	if conv == nil {
		return []Reply{textReply("Чтобы начать, отправьте /start")}, nil
	}

	role, _ := entity.ParseRole(conv.Get(dataRole))
	if !role.Known() {
		role = entity.RoleDesigner
	}

	last, first, middle := splitFullName(conv.Get(dataFullName))
	bitrixID, err := s.crm.CreateContact(ctx, port.ContactFields{
		LastName:    last,
		FirstName:   first,
		MiddleName:  middle,
		Phone:       conv.Get(dataPhone),
		Email:       email,
		CompanyName: conv.Get(dataCompanyName),
		Position:    role.Title(),
		TelegramID:  telegramID,
	})
	if err != nil || bitrixID == 0 {
		if err != nil {
			s.log.Error("создание контакта в CRM не удалось", zap.Int64("telegram_id", telegramID), zap.Error(err))
		}
		if clearErr := s.states.Clear(ctx, telegramID); clearErr != nil {
			return nil, fmt.Errorf("clear state: %w", clearErr)
		}
		return []Reply{textReply(fmt.Sprintf(
			"❌ Произошла ошибка при создании профиля в системе. Пожалуйста, обратитесь к менеджеру: @%s",
			s.cfg.ManagerUsername))}, nil
	}

	user, err := s.users.Get(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return []Reply{textReply("Чтобы начать, отправьте /start")}, nil
	}

	user.FullName = conv.Get(dataFullName)
	user.CompanyName = conv.Get(dataCompanyName)
	user.Phone = conv.Get(dataPhone)
	user.Email = email
	user.Role = role
	user.BitrixID = bitrixID
	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}

	return s.complete(ctx, telegramID, role)
}

// complete завершает регистрацию: чистит состояние и показывает меню роли.
func (s *RegistrationService) complete(ctx context.Context, telegramID int64, role entity.Role) ([]Reply, error) {
	if err := s.states.Clear(ctx, telegramID); err != nil {
		return nil, fmt.Errorf("clear state: %w", err)
	}
	return []Reply{menuReply(
		"🎉 Регистрация успешно завершена!\n\nТеперь вы можете создавать сделки и отслеживать их статус прямо в боте.",
		role)}, nil
}

// Cancel прерывает регистрацию по запросу пользователя.
func (s *RegistrationService) Cancel(ctx context.Context, telegramID int64) ([]Reply, error) {
	if err := s.states.Clear(ctx, telegramID); err != nil {
		return nil, fmt.Errorf("clear state: %w", err)
	}
	return []Reply{textReply("Регистрация отменена. Напишите /start для начала.")}, nil
}

// splitFullName делит ФИО на фамилию, имя и отчество.
func splitFullName(fullName string) (last, first, middle string) {
	parts := strings.Fields(fullName)
	if len(parts) > 0 {
		last = parts[0]
	}
	if len(parts) > 1 {
		first = parts[1]
	}
	if len(parts) > 2 {
		middle = parts[2]
	}
	return last, first, middle
}
