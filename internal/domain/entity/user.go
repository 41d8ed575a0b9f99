package entity

import "time"

// Role роль пользователя в системе
type Role string

const (
	RoleDesigner Role = "designer" // Дизайнер, создаёт лиды
	RolePartner  Role = "partner"  // Партнёр, создаёт сделки в отдельной воронке
	RoleUnset    Role = ""         // Роль ещё не выбрана
)

// ParseRole возвращает роль по ключу, если ключ известен.
func ParseRole(raw string) (Role, bool) {
	switch Role(raw) {
	case RoleDesigner:
		return RoleDesigner, true
	case RolePartner:
		return RolePartner, true
	}
	return RoleUnset, false
}

// Title возвращает отображаемое название роли.
func (r Role) Title() string {
	switch r {
	case RoleDesigner:
		return "Дизайнер"
	case RolePartner:
		return "Партнер"
	}
	return string(r)
}

// Known сообщает, является ли роль одной из рабочих ролей бота.
func (r Role) Known() bool {
	return r == RoleDesigner || r == RolePartner
}

// User представляет пользователя бота.
// BitrixID — внешняя ссылка на контакт в CRM; ноль означает, что контакт
// ещё не привязан.
type User struct {
	TelegramID       int64
	FullName         string
	Phone            string
	Email            string
	CompanyName      string
	Role             Role
	BitrixID         int64
	TrafficSource    string
	IsBlocked        bool
	PrivacyConsent   bool
	RegistrationDate time.Time
	LastActivity     time.Time
}

// NewUser создаёт пользователя при первом обращении к боту.
func NewUser(telegramID int64, trafficSource string) *User {
	now := time.Now()
	return &User{
		TelegramID:       telegramID,
		TrafficSource:    trafficSource,
		RegistrationDate: now,
		LastActivity:     now,
	}
}

// Registered сообщает, завершил ли пользователь регистрацию и привязан ли
// его контакт в CRM.
func (u *User) Registered() bool {
	return u != nil && u.Role.Known() && u.BitrixID != 0
}
