package port

import "context"

// FileFetcher скачивает файл, приложенный пользователем в чате.
type FileFetcher interface {
	Fetch(ctx context.Context, fileID string) ([]byte, error)
}
