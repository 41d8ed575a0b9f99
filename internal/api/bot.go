package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"intake-bot/config"
	app "intake-bot/internal/application"
	"intake-bot/internal/domain/entity"
	"intake-bot/internal/domain/port"
)

const (
	msgUnknownInput = "Не понимаю эту команду. Используйте кнопки меню или отправьте /start"

	msgNoMenuRecords = "У вас пока нет активных сделок.\n\nСоздайте новую сделку через меню 'Новая сделка'!"
	msgEmptyRecords  = "Список актуальных сделок пуст.\nСоздайте новую сделку через меню 'Новая сделка'!"
	msgSyncing       = "⏳ Синхронизирую сделки с Bitrix24..."

	msgAdminPanel    = "👨‍💼 Административная панель\n\nВыберите действие:"
	msgNoAdminPanel  = "❌ У вас нет доступа к административной панели."
	msgNoAdminAccess = "❌ У вас нет доступа к этой функции."
	msgBackToMenu    = "Возвращаюсь в основное меню."
)

// Deps сервисы и хранилища, которые бот получает после сборки.
type Deps struct {
	Registration *app.RegistrationService
	Records      *app.RecordService
	Sync         *app.SyncService
	Broadcast    *app.BroadcastService
	Users        port.UserRepository
	States       port.StateRepository
}

// Bot представляет Telegram-бота: принимает обновления длинным опросом и
// маршрутизирует их в сервисы по тексту, команде и шагу активного диалога.
type Bot struct {
	api          *tgbotapi.BotAPI
	registration *app.RegistrationService
	records      *app.RecordService
	sync         *app.SyncService
	broadcast    *app.BroadcastService
	users        port.UserRepository
	states       port.StateRepository
	cfg          *config.Config
	log          *zap.Logger
}

// NewBot создаёт нового бота. Сервисы подключаются отдельным вызовом Bind:
// API-клиент нужен раньше, чем собраны сервисы, потому что сервисам нужен
// сам бот как загрузчик файлов.
func NewBot(token string, cfg *config.Config, log *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	log.Info("бот авторизован", zap.String("username", api.Self.UserName))

	return &Bot{api: api, cfg: cfg, log: log}, nil
}

// Bind подключает собранные сервисы и хранилища.
func (b *Bot) Bind(deps Deps) {
	b.registration = deps.Registration
	b.records = deps.Records
	b.sync = deps.Sync
	b.broadcast = deps.Broadcast
	b.users = deps.Users
	b.states = deps.States
}

// Run запускает основной цикл обработки обновлений.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			switch {
			case update.Message != nil:
				b.handleMessage(ctx, update.Message)
			case update.CallbackQuery != nil:
				b.handleCallback(ctx, update.CallbackQuery)
			}
		}
	}
}

// handleMessage обрабатывает входящее сообщение.
func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	chatID := msg.Chat.ID

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	if msg.Contact != nil {
		b.handleContact(ctx, msg)
		return
	}

	if msg.Document != nil {
		b.handleDocument(ctx, msg)
		return
	}

	text := strings.TrimSpace(msg.Text)

	if text == btnCancel {
		b.handleCancel(ctx, userID, chatID)
		return
	}

	// Кнопки меню срабатывают независимо от активного диалога.
	switch text {
	case btnNewRecord:
		replies, err := b.records.StartCreation(ctx, userID)
		b.reply(chatID, userID, replies, err)
		return
	case btnMyRecords:
		b.showRecords(ctx, chatID, userID)
		return
	case btnCheckStatus:
		replies, err := b.records.StartStatusCheck(ctx, userID)
		b.reply(chatID, userID, replies, err)
		return
	case btnReferral:
		b.programInfo(ctx, chatID, userID, true)
		return
	case btnPartnerProgram:
		b.programInfo(ctx, chatID, userID, false)
		return
	case btnExportUsers:
		b.exportUsers(ctx, chatID, userID)
		return
	case btnBroadcast:
		replies, err := b.broadcast.Start(ctx, userID)
		b.reply(chatID, userID, replies, err)
		return
	case btnBackToMenu:
		b.backToMenu(ctx, chatID, userID)
		return
	}

	b.dispatchByState(ctx, msg)
}

// handleCommand обрабатывает команды бота.
func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		replies, err := b.registration.Start(ctx, userID, msg.CommandArguments())
		b.reply(chatID, userID, replies, err)

	case "admin":
		if !b.cfg.IsAdmin(userID) {
			b.sendText(chatID, msgNoAdminPanel)
			return
		}
		b.send(chatID, []app.Reply{{Text: msgAdminPanel, Keyboard: app.KeyboardAdminMenu}})

	default:
		b.sendText(chatID, msgUnknownInput)
	}
}

// dispatchByState направляет текст в сервис по шагу активного диалога.
func (b *Bot) dispatchByState(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	chatID := msg.Chat.ID
	text := msg.Text

	conv, err := b.states.Get(ctx, userID)
	if err != nil {
		b.log.Error("не удалось прочитать состояние диалога", zap.Int64("telegram_id", userID), zap.Error(err))
		return
	}
	if conv == nil {
		b.sendText(chatID, msgUnknownInput)
		return
	}

	var replies []app.Reply
	switch conv.State {
	case entity.StateAwaitingFullName:
		replies, err = b.registration.SubmitFullName(ctx, userID, text)
	case entity.StateAwaitingCompany:
		replies, err = b.registration.SubmitCompany(ctx, userID, text)
	case entity.StateAwaitingPhone:
		replies, err = b.registration.SubmitPhone(ctx, userID, text)
	case entity.StateAwaitingEmail:
		replies, err = b.registration.SubmitEmail(ctx, userID, text)

	case entity.StateAwaitingClientName:
		replies, err = b.records.SubmitClientName(ctx, userID, text)
	case entity.StateAwaitingClientPhone:
		replies, err = b.records.SubmitClientPhone(ctx, userID, text)
	case entity.StateAwaitingProjectFile:
		replies = b.records.RejectProjectFile()
	case entity.StateAwaitingComment:
		replies, err = b.records.SubmitComment(ctx, userID, text)

	case entity.StateAwaitingRecordNumber:
		replies, err = b.records.SubmitRecordNumber(ctx, userID, text)

	case entity.StateAwaitingBroadcastMessage:
		replies, err = b.broadcast.SubmitMessage(ctx, userID, text)

	default:
		b.sendText(chatID, msgUnknownInput)
		return
	}

	b.reply(chatID, userID, replies, err)
}

// handleCancel направляет отмену в сервис, владеющий активным диалогом.
func (b *Bot) handleCancel(ctx context.Context, userID, chatID int64) {
	conv, err := b.states.Get(ctx, userID)
	if err != nil {
		b.log.Error("не удалось прочитать состояние диалога", zap.Int64("telegram_id", userID), zap.Error(err))
		return
	}
	if conv == nil {
		b.backToMenu(ctx, chatID, userID)
		return
	}

	var replies []app.Reply
	state := string(conv.State)
	switch {
	case strings.HasPrefix(state, "registration:"):
		replies, err = b.registration.Cancel(ctx, userID)
	case strings.HasPrefix(state, "broadcast:"):
		replies, err = b.broadcast.Cancel(ctx, userID)
	default:
		replies, err = b.records.Cancel(ctx, userID)
	}
	b.reply(chatID, userID, replies, err)
}

// handleContact обрабатывает номер, переданный кнопкой "Поделиться номером".
func (b *Bot) handleContact(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID

	conv, err := b.states.Get(ctx, userID)
	if err != nil {
		b.log.Error("не удалось прочитать состояние диалога", zap.Int64("telegram_id", userID), zap.Error(err))
		return
	}
	if conv == nil || conv.State != entity.StateAwaitingPhone {
		b.sendText(msg.Chat.ID, msgUnknownInput)
		return
	}

	replies, err := b.registration.SharePhone(ctx, userID, msg.Contact.PhoneNumber)
	b.reply(msg.Chat.ID, userID, replies, err)
}

// handleDocument обрабатывает вложенный документ на шаге файла проекта.
func (b *Bot) handleDocument(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID

	conv, err := b.states.Get(ctx, userID)
	if err != nil {
		b.log.Error("не удалось прочитать состояние диалога", zap.Int64("telegram_id", userID), zap.Error(err))
		return
	}
	if conv == nil || conv.State != entity.StateAwaitingProjectFile {
		b.sendText(msg.Chat.ID, msgUnknownInput)
		return
	}

	doc := msg.Document
	replies, err := b.records.AttachProjectFile(ctx, userID, doc.FileID, doc.FileName, doc.MimeType)
	b.reply(msg.Chat.ID, userID, replies, err)
}

// handleCallback обрабатывает нажатия inline-кнопок.
func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	defer func() {
		if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
			b.log.Warn("не удалось подтвердить callback", zap.Error(err))
		}
	}()

	// Для callback'ов от слишком старых сообщений Telegram не присылает
	// само сообщение; ответить в чат в этом случае некуда.
	if cb.Message == nil {
		return
	}

	userID := cb.From.ID
	chatID := cb.Message.Chat.ID
	data := cb.Data

	var (
		replies []app.Reply
		err     error
	)

	switch {
	case data == "privacy_accept":
		replies, err = b.registration.AcceptConsent(ctx, userID)
	case data == "privacy_decline":
		replies, err = b.registration.DeclineConsent(ctx, userID)
	case data == "confirm_yes":
		replies, err = b.records.Confirm(ctx, userID)
	case data == "confirm_no":
		replies, err = b.records.Decline(ctx, userID)
	case data == "broadcast_confirm":
		replies, err = b.broadcast.Confirm(ctx, userID, b)
	case data == "broadcast_cancel", data == "broadcast_cancel_final":
		replies, err = b.broadcast.Cancel(ctx, userID)
	case strings.HasPrefix(data, "role_"):
		replies, err = b.registration.ChooseRole(ctx, userID, strings.TrimPrefix(data, "role_"))
	case strings.HasPrefix(data, "broadcast_"):
		replies, err = b.broadcast.ChooseTarget(ctx, userID, strings.TrimPrefix(data, "broadcast_"))
	case strings.HasPrefix(data, app.RecordsCallbackPrefix+":"):
		b.paginateRecords(ctx, cb)
		return
	default:
		return
	}

	b.reply(chatID, userID, replies, err)
}

// showRecords показывает список сделок пользователя, предварительно сверив
// его с CRM. Записи, пропавшие из CRM, удаляются из кэша с уведомлением.
func (b *Bot) showRecords(ctx context.Context, chatID, userID int64) {
	user, err := b.users.Get(ctx, userID)
	if err != nil {
		b.log.Error("не удалось получить пользователя", zap.Int64("telegram_id", userID), zap.Error(err))
		return
	}
	if user == nil || !user.Role.Known() {
		b.sendText(chatID, "❌ Эта функция доступна только для зарегистрированных дизайнеров и партнеров.")
		return
	}

	b.sendText(chatID, msgSyncing)

	valid, invalid, err := b.sync.SyncRecordsForUser(ctx, userID, user.Role, true)
	if err != nil {
		b.log.Error("сверка записей не удалась", zap.Int64("telegram_id", userID), zap.Error(err))
		b.send(chatID, []app.Reply{{
			Text:     fmt.Sprintf("❌ Не удалось получить список сделок. Обратитесь к менеджеру: @%s", b.cfg.ManagerUsername),
			Keyboard: app.KeyboardMainMenu,
			Role:     user.Role,
		}})
		return
	}

	if len(invalid) > 0 {
		b.sendText(chatID, formatInvalidRecords(invalid, b.cfg.ManagerUsername))
	}

	if len(valid) == 0 {
		text := msgEmptyRecords
		if len(invalid) == 0 {
			text = msgNoMenuRecords
		}
		b.send(chatID, []app.Reply{{Text: text, Keyboard: app.KeyboardMainMenu, Role: user.Role}})
		return
	}

	text, pager := b.renderRecordsPage(valid, 0, user.Role)
	out := tgbotapi.NewMessage(chatID, text)
	if kb := pagerKeyboard(pager); kb != nil {
		out.ReplyMarkup = kb
	}
	if _, err := b.api.Send(out); err != nil {
		b.log.Error("не удалось отправить сообщение", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// paginateRecords листает список сделок по нажатию кнопки навигации.
// Данные пересверяются с CRM, поэтому страница всегда актуальна; номер
// страницы прижимается к текущему размеру списка.
func (b *Bot) paginateRecords(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	token, ok := app.ParsePageToken(cb.Data)
	if !ok || token.Noop {
		return
	}

	userID := cb.From.ID
	chatID := cb.Message.Chat.ID

	role := token.Role
	if !role.Known() {
		role = entity.RoleDesigner
	}

	valid, _, err := b.sync.SyncRecordsForUser(ctx, userID, role, false)
	if err != nil {
		b.log.Error("сверка записей не удалась", zap.Int64("telegram_id", userID), zap.Error(err))
		return
	}

	if len(valid) == 0 {
		b.send(chatID, []app.Reply{{Text: msgEmptyRecords, Keyboard: app.KeyboardMainMenu, Role: role}})
		return
	}

	text, pager := b.renderRecordsPage(valid, token.Page, role)
	edit := tgbotapi.NewEditMessageText(chatID, cb.Message.MessageID, text)
	if kb := pagerKeyboard(pager); kb != nil {
		edit.ReplyMarkup = kb
	}
	if _, err := b.api.Send(edit); err != nil {
		b.log.Warn("не удалось обновить страницу списка", zap.Error(err))
	}
}

// renderRecordsPage собирает текст страницы списка и параметры навигации.
func (b *Bot) renderRecordsPage(records []entity.SyncedRecord, page int, role entity.Role) (string, *app.Pager) {
	items, clamped, totalPages := b.sync.Page(records, page)

	lines := []string{"📋 Ваши сделки:", ""}
	for _, rec := range items {
		lines = append(lines, formatRecordEntry(rec), strings.Repeat("─", 30), "")
	}

	pager := &app.Pager{
		Namespace:  app.RecordsCallbackPrefix,
		Role:       role,
		Page:       clamped,
		TotalPages: totalPages,
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), pager
}

// formatRecordEntry форматирует одну запись списка. Иконка отражает итог
// сверки с CRM.
func formatRecordEntry(rec entity.SyncedRecord) string {
	icon := "📊"
	switch rec.SyncStatus {
	case entity.SyncUpdated:
		icon = "🆕"
	case entity.SyncUnsupportedStatus:
		icon = "⚠️"
	}

	lines := []string{
		fmt.Sprintf("📌 Сделка #%s", rec.Record.LeadNumber),
		fmt.Sprintf("👤 Клиент: %s", rec.Record.ClientFullName),
	}
	if rec.Record.ProjectFileName != "" {
		lines = append(lines, fmt.Sprintf("📄 Файл: %s", rec.Record.ProjectFileName))
	}
	lines = append(lines,
		fmt.Sprintf("%s Статус: %s", icon, rec.StatusName),
		fmt.Sprintf("📅 Дата: %s", rec.Record.CreatedDate.Format("2006-01-02")),
	)
	return strings.Join(lines, "\n")
}

// formatInvalidRecords собирает уведомление о записях, удалённых из кэша.
func formatInvalidRecords(invalid []entity.SyncedRecord, manager string) string {
	lines := []string{"⚠️ Некоторые сделки не найдены в Bitrix24 и были удалены из списка:", ""}
	for _, rec := range invalid {
		lines = append(lines,
			fmt.Sprintf("📌 Сделка #%s", rec.Record.LeadNumber),
			fmt.Sprintf("👤 Клиент: %s", rec.Record.ClientFullName),
			fmt.Sprintf("📅 Дата: %s", rec.Record.CreatedDate.Format("2006-01-02")),
			strings.Repeat("─", 30),
		)
	}
	lines = append(lines, fmt.Sprintf("Если нужна помощь, свяжитесь с менеджером @%s.", manager))
	return strings.Join(lines, "\n")
}

// programInfo показывает заглушку реферальной/партнёрской программы.
func (b *Bot) programInfo(ctx context.Context, chatID, userID int64, referral bool) {
	role := entity.RoleDesigner
	if user, err := b.users.Get(ctx, userID); err == nil && user != nil && user.Role.Known() {
		role = user.Role
	}

	text := "🎁 Реферальная программа\n\n🚧 Данный раздел находится в разработке.\n\n" +
		fmt.Sprintf("Для подробностей свяжитесь с менеджером: @%s", b.cfg.ManagerUsername)
	if !referral {
		text = "🤝 Партнерская программа\n\n🚧 Информация появится здесь позже.\n\n" +
			fmt.Sprintf("По всем вопросам обращайтесь к менеджеру: @%s", b.cfg.ManagerUsername)
	}

	b.send(chatID, []app.Reply{{Text: text, Keyboard: app.KeyboardMainMenu, Role: role}})
}

// exportUsers отправляет администратору CSV-выгрузку пользователей.
func (b *Bot) exportUsers(ctx context.Context, chatID, userID int64) {
	if !b.cfg.IsAdmin(userID) {
		b.sendText(chatID, msgNoAdminAccess)
		return
	}

	data, total, err := b.broadcast.ExportUsers(ctx)
	if err != nil {
		b.log.Error("выгрузка пользователей не удалась", zap.Error(err))
		b.sendText(chatID, "❌ Не удалось сформировать выгрузку.")
		return
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: "users_export.csv", Bytes: data})
	doc.Caption = fmt.Sprintf("📊 Выгрузка пользователей\n\nВсего пользователей: %d", total)
	if _, err := b.api.Send(doc); err != nil {
		b.log.Error("не удалось отправить выгрузку", zap.Error(err))
		return
	}

	b.send(chatID, []app.Reply{{Text: "✅ Выгрузка завершена!", Keyboard: app.KeyboardAdminMenu}})
}

// backToMenu возвращает пользователя в главное меню его роли.
func (b *Bot) backToMenu(ctx context.Context, chatID, userID int64) {
	user, err := b.users.Get(ctx, userID)
	if err != nil {
		b.log.Error("не удалось получить пользователя", zap.Int64("telegram_id", userID), zap.Error(err))
		return
	}

	if user != nil && user.Role.Known() {
		b.send(chatID, []app.Reply{{Text: msgBackToMenu, Keyboard: app.KeyboardMainMenu, Role: user.Role}})
		return
	}
	b.sendText(chatID, msgBackToMenu)
}

// reply отправляет ответы сервиса, предварительно проверив ошибку.
func (b *Bot) reply(chatID, userID int64, replies []app.Reply, err error) {
	if err != nil {
		b.log.Error("обработка не удалась", zap.Int64("telegram_id", userID), zap.Error(err))
		b.sendText(chatID, fmt.Sprintf("❌ Произошла ошибка. Попробуйте позже или обратитесь к менеджеру: @%s",
			b.cfg.ManagerUsername))
		return
	}
	b.send(chatID, replies)
}

// send отправляет ответы, раскладывая клавиатуры по видам.
func (b *Bot) send(chatID int64, replies []app.Reply) {
	for _, r := range replies {
		msg := tgbotapi.NewMessage(chatID, r.Text)
		if r.Markdown {
			msg.ParseMode = tgbotapi.ModeMarkdown
		}

		switch r.Keyboard {
		case app.KeyboardMainMenu:
			msg.ReplyMarkup = mainMenuKeyboard(r.Role)
		case app.KeyboardCancel:
			msg.ReplyMarkup = cancelKeyboard()
		case app.KeyboardPhoneRequest:
			msg.ReplyMarkup = phoneRequestKeyboard()
		case app.KeyboardConsent:
			msg.ReplyMarkup = consentKeyboard()
		case app.KeyboardRoleSelect:
			msg.ReplyMarkup = roleSelectKeyboard()
		case app.KeyboardConfirm:
			msg.ReplyMarkup = confirmKeyboard()
		case app.KeyboardAdminMenu:
			msg.ReplyMarkup = adminMenuKeyboard()
		case app.KeyboardBroadcastTarget:
			msg.ReplyMarkup = broadcastTargetKeyboard()
		case app.KeyboardBroadcastConfirm:
			msg.ReplyMarkup = broadcastConfirmKeyboard()
		case app.KeyboardPager:
			if kb := pagerKeyboard(r.Pager); kb != nil {
				msg.ReplyMarkup = kb
			}
		}

		if _, err := b.api.Send(msg); err != nil {
			b.log.Error("не удалось отправить сообщение", zap.Int64("chat_id", chatID), zap.Error(err))
		}
	}
}

// sendText отправляет текст без клавиатуры.
func (b *Bot) sendText(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.log.Error("не удалось отправить сообщение", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// SendText отправляет текст от имени бота; используется рассылкой.
func (b *Bot) SendText(ctx context.Context, chatID int64, text string) error {
	_, err := b.api.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

// Fetch скачивает файл из Telegram по идентификатору.
func (b *Bot) Fetch(ctx context.Context, fileID string) ([]byte, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.Link(b.api.Token), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

// Проверка реализации интерфейсов
var (
	_ port.FileFetcher = (*Bot)(nil)
	_ port.Messenger   = (*Bot)(nil)
)
