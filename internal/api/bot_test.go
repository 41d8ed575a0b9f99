package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"intake-bot/config"
	"intake-bot/internal/container"
	"intake-bot/internal/domain/port"
	"intake-bot/internal/infrastructure/storage"
)

// stubCRM минимальная заглушка CRM для транспортных тестов.
type stubCRM struct{}

func (stubCRM) FindContactByName(ctx context.Context, fullName string) (*port.Contact, error) {
	return nil, nil
}

func (stubCRM) CreateContact(ctx context.Context, fields port.ContactFields) (int64, error) {
	return 1, nil
}

func (stubCRM) CreateLead(ctx context.Context, fields port.RecordFields) (*port.CreatedRecord, error) {
	return &port.CreatedRecord{ID: 1, Number: "1", Status: "NEW"}, nil
}

func (stubCRM) CreatePartnerDeal(ctx context.Context, fields port.RecordFields) (*port.CreatedRecord, error) {
	return &port.CreatedRecord{ID: 1, Number: "1", Status: "C1:NEW"}, nil
}

func (stubCRM) LeadStatus(ctx context.Context, id int64) (string, error) { return "", nil }

func (stubCRM) DealStatus(ctx context.Context, id int64) (string, error) { return "", nil }

func (stubCRM) StatusList(ctx context.Context) ([]port.StatusEntry, error) { return nil, nil }

var _ port.CRM = stubCRM{}

// newTestBot собирает бота поверх поддельного Telegram API.
func newTestBot(t *testing.T) *Bot {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "getMe") {
			fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"bot","username":"intake_test_bot"}}`)
			return
		}
		fmt.Fprint(w, `{"ok":true,"result":true}`)
	}))
	t.Cleanup(srv.Close)

	api, err := tgbotapi.NewBotAPIWithAPIEndpoint("42:token", srv.URL+"/bot%s/%s")
	require.NoError(t, err)

	cfg := &config.Config{
		ManagerUsername:          "manager",
		AdminIDs:                 []int64{42},
		DesignerFunnelStages:     map[string]string{"NEW": "Новая сделка (новый номер)"},
		PartnerFunnelStages:      map[string]string{},
		UnknownStatusPlaceholder: "Статус не отслеживается в боте",
		PageSize:                 5,
	}
	log := zap.NewNop()
	b := &Bot{api: api, cfg: cfg, log: log}

	users := storage.NewMemoryUserRepository()
	records := storage.NewMemoryRecordRepository()
	states := storage.NewMemoryStateRepository()
	c := container.New(users, records, states, stubCRM{}, b, cfg, log)
	b.Bind(Deps{
		Registration: c.Registration,
		Records:      c.Records,
		Sync:         c.Sync,
		Broadcast:    c.Broadcast,
		Users:        users,
		States:       states,
	})
	return b
}

// Для callback'ов от сообщений старше ~48 часов Telegram не присылает
// само сообщение; такие нажатия подтверждаются и игнорируются.
func TestCallbackWithoutMessage(t *testing.T) {
	b := newTestBot(t)
	ctx := context.Background()

	for _, data := range []string{"confirm_yes", "privacy_accept", "broadcast_all", "records:designer:1"} {
		cb := &tgbotapi.CallbackQuery{ID: "1", From: &tgbotapi.User{ID: 5}, Data: data}
		require.NotPanics(t, func() { b.handleCallback(ctx, cb) })
	}
}
