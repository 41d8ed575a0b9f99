package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"intake-bot/config"
	"intake-bot/internal/domain/entity"
	"intake-bot/internal/domain/port"
)

const (
	dataBroadcastTarget  = "target"
	dataBroadcastMessage = "message_text"
)

// BroadcastService административная рассылка: выбор аудитории, текст,
// подтверждение, веерная отправка с подсчётом неудач. Ошибка отправки
// одному получателю не прерывает рассылку.
type BroadcastService struct {
	users  port.UserRepository
	states port.StateRepository
	cfg    *config.Config
	log    *zap.Logger
}

// NewBroadcastService создаёт сервис рассылки.
func NewBroadcastService(users port.UserRepository, states port.StateRepository, cfg *config.Config, log *zap.Logger) *BroadcastService {
	return &BroadcastService{users: users, states: states, cfg: cfg, log: log}
}

const noAdminAccessText = "❌ У вас нет доступа к этой функции."

// Start начинает поток рассылки.
func (s *BroadcastService) Start(ctx context.Context, adminID int64) ([]Reply, error) {
	if !s.cfg.IsAdmin(adminID) {
		return []Reply{textReply(noAdminAccessText)}, nil
	}

	conv := entity.NewConversation(adminID, entity.StateAwaitingBroadcastTarget)
	if err := s.states.Set(ctx, conv); err != nil {
		return nil, fmt.Errorf("set state: %w", err)
	}

	return []Reply{{
		Text:     "📢 Рассылка сообщений\n\nВыберите целевую аудиторию:",
		Keyboard: KeyboardBroadcastTarget,
	}}, nil
}

// ChooseTarget фиксирует аудиторию и запрашивает текст сообщения.
// Callback-кнопки приходят от кого угодно, поэтому каждый шаг заново
// проверяет права и активный шаг рассылки.
func (s *BroadcastService) ChooseTarget(ctx context.Context, adminID int64, target string) ([]Reply, error) {
	if !s.cfg.IsAdmin(adminID) {
		return []Reply{textReply(noAdminAccessText)}, nil
	}
	if target == "cancel" {
		return s.Cancel(ctx, adminID)
	}

	conv, err := s.states.Get(ctx, adminID)
	if err != nil {
		return nil, fmt.Errorf("get state: %w", err)
	}
	if conv == nil || conv.State != entity.StateAwaitingBroadcastTarget {
		return nil, nil
	}

	audience, targetName, err := s.audience(ctx, target)
	if err != nil {
		return nil, err
	}

	conv.Set(dataBroadcastTarget, target)
	conv.State = entity.StateAwaitingBroadcastMessage
	if err := s.states.Set(ctx, conv); err != nil {
		return nil, fmt.Errorf("set state: %w", err)
	}

	return []Reply{
		textReply(fmt.Sprintf("✅ Выбрана аудитория: %s\n👥 Количество получателей: %d\n\n"+
			"Теперь введите текст сообщения для рассылки:", targetName, len(audience))),
		cancelReply("💬 Введите сообщение:"),
	}, nil
}

// SubmitMessage сохраняет текст и запрашивает подтверждение.
func (s *BroadcastService) SubmitMessage(ctx context.Context, adminID int64, text string) ([]Reply, error) {
	if !s.cfg.IsAdmin(adminID) {
		return []Reply{textReply(noAdminAccessText)}, nil
	}
	conv, err := s.states.Get(ctx, adminID)
	if err != nil {
		return nil, fmt.Errorf("get state: %w", err)
	}
	if conv == nil || conv.State != entity.StateAwaitingBroadcastMessage {
		return nil, nil
	}

	audience, _, err := s.audience(ctx, conv.Get(dataBroadcastTarget))
	if err != nil {
		return nil, err
	}

	conv.Set(dataBroadcastMessage, text)
	conv.State = entity.StateConfirmingBroadcast
	if err := s.states.Set(ctx, conv); err != nil {
		return nil, fmt.Errorf("set state: %w", err)
	}

	return []Reply{{
		Text: fmt.Sprintf("📢 Подтверждение рассылки\n\n👥 Получателей: %d\n💬 Сообщение:\n%s\n\nНачать рассылку?",
			len(audience), text),
		Keyboard: KeyboardBroadcastConfirm,
	}}, nil
}

// Confirm выполняет рассылку. Получатели, заблокировавшие бота,
// помечаются в базе.
func (s *BroadcastService) Confirm(ctx context.Context, adminID int64, messenger port.Messenger) ([]Reply, error) {
	if !s.cfg.IsAdmin(adminID) {
		return []Reply{textReply(noAdminAccessText)}, nil
	}
	conv, err := s.states.Get(ctx, adminID)
	if err != nil {
		return nil, fmt.Errorf("get state: %w", err)
	}
	if conv == nil || conv.State != entity.StateConfirmingBroadcast {
		return nil, nil
	}

	audience, _, err := s.audience(ctx, conv.Get(dataBroadcastTarget))
	if err != nil {
		return nil, err
	}
	messageText := conv.Get(dataBroadcastMessage)

	success, failed := 0, 0
	for _, user := range audience {
		if err := messenger.SendText(ctx, user.TelegramID, messageText); err != nil {
			failed++
			if strings.Contains(strings.ToLower(err.Error()), "blocked by the user") {
				if blockErr := s.users.SetBlocked(ctx, user.TelegramID, true); blockErr != nil {
					s.log.Warn("не удалось пометить пользователя заблокированным",
						zap.Int64("telegram_id", user.TelegramID), zap.Error(blockErr))
				}
			}
			continue
		}
		success++
	}

	if err := s.states.Clear(ctx, adminID); err != nil {
		return nil, fmt.Errorf("clear state: %w", err)
	}

	s.log.Info("рассылка завершена", zap.Int("success", success), zap.Int("failed", failed))

	return []Reply{{
		Text:     fmt.Sprintf("✅ Рассылка завершена!\n\n✅ Успешно отправлено: %d\n❌ Ошибок: %d", success, failed),
		Keyboard: KeyboardAdminMenu,
	}}, nil
}

// Cancel прерывает рассылку.
func (s *BroadcastService) Cancel(ctx context.Context, adminID int64) ([]Reply, error) {
	if !s.cfg.IsAdmin(adminID) {
		return []Reply{textReply(noAdminAccessText)}, nil
	}
	if err := s.states.Clear(ctx, adminID); err != nil {
		return nil, fmt.Errorf("clear state: %w", err)
	}
	return []Reply{{Text: "❌ Рассылка отменена.", Keyboard: KeyboardAdminMenu}}, nil
}

// audience возвращает получателей: активных пользователей с согласием на
// обработку данных, всех либо отфильтрованных по роли.
func (s *BroadcastService) audience(ctx context.Context, target string) ([]*entity.User, string, error) {
	var (
		users      []*entity.User
		targetName string
		err        error
	)

	if role, ok := entity.ParseRole(target); ok {
		users, err = s.users.ByRole(ctx, role)
		targetName = fmt.Sprintf("пользователям с ролью '%s'", role.Title())
	} else {
		users, err = s.users.All(ctx)
		targetName = "всем пользователям"
	}
	if err != nil {
		return nil, "", fmt.Errorf("get users: %w", err)
	}

	active := users[:0:0]
	for _, u := range users {
		if !u.IsBlocked && u.PrivacyConsent {
			active = append(active, u)
		}
	}
	return active, targetName, nil
}

// ExportUsers формирует CSV-выгрузку всех пользователей.
func (s *BroadcastService) ExportUsers(ctx context.Context) ([]byte, int, error) {
	users, err := s.users.All(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("get users: %w", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"Telegram ID", "ФИО", "Телефон", "Email", "Компания", "Роль",
		"Bitrix ID", "Источник трафика", "Заблокирован", "Согласие 152-ФЗ",
		"Дата регистрации", "Последняя активность",
	}
	if err := w.Write(header); err != nil {
		return nil, 0, fmt.Errorf("write csv header: %w", err)
	}

	yesNo := func(v bool) string {
		if v {
			return "Да"
		}
		return "Нет"
	}

	for _, u := range users {
		bitrixID := ""
		if u.BitrixID != 0 {
			bitrixID = strconv.FormatInt(u.BitrixID, 10)
		}
		row := []string{
			strconv.FormatInt(u.TelegramID, 10),
			u.FullName,
			u.Phone,
			u.Email,
			u.CompanyName,
			u.Role.Title(),
			bitrixID,
			u.TrafficSource,
			yesNo(u.IsBlocked),
			yesNo(u.PrivacyConsent),
			u.RegistrationDate.Format("2006-01-02 15:04:05"),
			u.LastActivity.Format("2006-01-02 15:04:05"),
		}
		if err := w.Write(row); err != nil {
			return nil, 0, fmt.Errorf("write csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, 0, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), len(users), nil
}
