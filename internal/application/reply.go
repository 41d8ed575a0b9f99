package app

import "intake-bot/internal/domain/entity"

// KeyboardKind клавиатура, которую транспорт должен приложить к ответу.
// Сервисы описывают ответы без привязки к Telegram API; раскладку кнопок
// строит транспорт.
type KeyboardKind int

const (
	KeyboardNone KeyboardKind = iota
	KeyboardMainMenu
	KeyboardCancel
	KeyboardPhoneRequest
	KeyboardConsent
	KeyboardRoleSelect
	KeyboardConfirm
	KeyboardAdminMenu
	KeyboardBroadcastTarget
	KeyboardBroadcastConfirm
	KeyboardPager
)

// Pager параметры клавиатуры постраничной навигации.
type Pager struct {
	Namespace  string
	Role       entity.Role
	Page       int
	TotalPages int
}

// Reply ответ сервиса пользователю: текст и нужная клавиатура.
type Reply struct {
	Text     string
	Keyboard KeyboardKind
	Role     entity.Role // роль для главного меню
	Pager    *Pager
	Markdown bool
}

func textReply(text string) Reply {
	return Reply{Text: text}
}

func menuReply(text string, role entity.Role) Reply {
	return Reply{Text: text, Keyboard: KeyboardMainMenu, Role: role}
}

func cancelReply(text string) Reply {
	return Reply{Text: text, Keyboard: KeyboardCancel}
}
