package port

import "context"

// Messenger отправляет текстовые сообщения в чат. Используется рассылкой,
// чтобы не зависеть от конкретного транспорта.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) error
}
