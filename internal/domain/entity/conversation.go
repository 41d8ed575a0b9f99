package entity

// State шаг активного диалога пользователя
type State string

// Состояния регистрации
const (
	StateAwaitingConsent  State = "registration:awaiting_consent"
	StateAwaitingRole     State = "registration:awaiting_role"
	StateAwaitingFullName State = "registration:awaiting_full_name"
	StateAwaitingCompany  State = "registration:awaiting_company"
	StateAwaitingPhone    State = "registration:awaiting_phone"
	StateAwaitingEmail    State = "registration:awaiting_email"
)

// Состояния создания лида/сделки
const (
	StateAwaitingClientName  State = "record:awaiting_client_name"
	StateAwaitingClientPhone State = "record:awaiting_client_phone"
	StateAwaitingProjectFile State = "record:awaiting_project_file"
	StateAwaitingComment     State = "record:awaiting_comment"
	StateConfirmingRecord    State = "record:confirming"
)

// Состояние проверки статуса по номеру
const (
	StateAwaitingRecordNumber State = "status:awaiting_record_number"
)

// Состояния административной рассылки
const (
	StateAwaitingBroadcastTarget  State = "broadcast:awaiting_target"
	StateAwaitingBroadcastMessage State = "broadcast:awaiting_message"
	StateConfirmingBroadcast      State = "broadcast:confirming"
)

// Conversation — сохранённое продолжение диалога: текущий шаг и
// накопленные данные формы. Одна строка на пользователя; процесс бота
// может перезапуститься между шагами, диалог продолжится с этой записи.
type Conversation struct {
	TelegramID int64
	State      State
	Data       map[string]string
}

// NewConversation создаёт диалог на указанном шаге.
func NewConversation(telegramID int64, state State) *Conversation {
	return &Conversation{
		TelegramID: telegramID,
		State:      state,
		Data:       make(map[string]string),
	}
}

// Set сохраняет значение в накопленных данных формы.
func (c *Conversation) Set(key, value string) {
	if c.Data == nil {
		c.Data = make(map[string]string)
	}
	c.Data[key] = value
}

// Get возвращает значение из накопленных данных формы.
func (c *Conversation) Get(key string) string {
	return c.Data[key]
}
