package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	app "intake-bot/internal/application"
	"intake-bot/internal/domain/entity"
)

// Тексты кнопок главного меню.
const (
	btnNewRecord      = "📝 Новая сделка"
	btnMyRecords      = "📋 Мои сделки"
	btnCheckStatus    = "🔍 Узнать статус"
	btnReferral       = "🎁 Реферальная программа"
	btnPartnerProgram = "🤝 Партнерская программа"
	btnCancel         = "❌ Отмена"

	btnExportUsers = "👥 Выгрузить пользователей"
	btnBroadcast   = "📢 Рассылка"
	btnBackToMenu  = "🔙 Вернуться в основное меню"
)

// mainMenuKeyboard главное меню роли.
func mainMenuKeyboard(role entity.Role) tgbotapi.ReplyKeyboardMarkup {
	programButton := btnReferral
	if role == entity.RolePartner {
		programButton = btnPartnerProgram
	}

	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnNewRecord)),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnMyRecords),
			tgbotapi.NewKeyboardButton(btnCheckStatus),
		),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(programButton)),
	)
	kb.ResizeKeyboard = true
	return kb
}

// cancelKeyboard клавиатура отмены текущей операции.
func cancelKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnCancel)),
	)
	kb.ResizeKeyboard = true
	return kb
}

// phoneRequestKeyboard клавиатура запроса номера телефона.
func phoneRequestKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButtonContact("📱 Поделиться номером")),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

// adminMenuKeyboard меню администратора.
func adminMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnExportUsers)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnBroadcast)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnBackToMenu)),
	)
	kb.ResizeKeyboard = true
	return kb
}

// consentKeyboard согласие на обработку персональных данных.
func consentKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Принимаю условия", "privacy_accept")),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("❌ Отклонить", "privacy_decline")),
	)
}

// roleSelectKeyboard выбор роли.
func roleSelectKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(entity.RoleDesigner.Title(), "role_designer")),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(entity.RolePartner.Title(), "role_partner")),
	)
}

// confirmKeyboard подтверждение создания записи.
func confirmKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Подтвердить", "confirm_yes")),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("❌ Отменить", "confirm_no")),
	)
}

// broadcastTargetKeyboard выбор аудитории рассылки.
func broadcastTargetKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Всем пользователям", "broadcast_all")),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Только: "+entity.RoleDesigner.Title(), "broadcast_designer")),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Только: "+entity.RolePartner.Title(), "broadcast_partner")),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("❌ Отмена", "broadcast_cancel")),
	)
}

// broadcastConfirmKeyboard подтверждение рассылки.
func broadcastConfirmKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Подтвердить", "broadcast_confirm")),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("❌ Отменить", "broadcast_cancel_final")),
	)
}

// pagerKeyboard клавиатура постраничной навигации по списку записей.
// Кнопка-индикатор текущей страницы несёт noop-токен и ничего не делает.
func pagerKeyboard(p *app.Pager) *tgbotapi.InlineKeyboardMarkup {
	if p == nil || p.TotalPages <= 1 {
		return nil
	}

	var row []tgbotapi.InlineKeyboardButton
	if p.Page > 0 {
		prev := app.PageToken{Namespace: p.Namespace, Role: p.Role, Page: p.Page - 1}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("⬅️ Назад", prev.String()))
	}

	noop := app.PageToken{Namespace: p.Namespace, Role: p.Role, Noop: true}
	row = append(row, tgbotapi.NewInlineKeyboardButtonData(
		fmt.Sprintf("%d/%d", p.Page+1, p.TotalPages), noop.String()))

	if p.Page < p.TotalPages-1 {
		next := app.PageToken{Namespace: p.Namespace, Role: p.Role, Page: p.Page + 1}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("➡️ Далее", next.String()))
	}

	kb := tgbotapi.NewInlineKeyboardMarkup(row)
	return &kb
}
