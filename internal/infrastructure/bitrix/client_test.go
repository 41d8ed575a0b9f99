package bitrix

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"intake-bot/internal/domain/entity"
	"intake-bot/internal/domain/port"
)

// newTestServer поднимает сервер-заглушку вебхука: на каждый метод отдаёт
// заранее заданный result и записывает параметры вызова.
func newTestServer(t *testing.T, results map[string]any) (*httptest.Server, map[string]map[string]any) {
	t.Helper()
	calls := map[string]map[string]any{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.URL.Path[1:]

		var params map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
		calls[method] = params

		result, ok := results[method]
		if !ok {
			json.NewEncoder(w).Encode(map[string]any{
				"error":             "NOT_FOUND",
				"error_description": "Not found",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"result": result})
	}))
	t.Cleanup(srv.Close)
	return srv, calls
}

func TestFindContactByName(t *testing.T) {
	srv, calls := newTestServer(t, map[string]any{
		"crm.contact.list": []map[string]any{{
			"ID":    "123",
			"PHONE": []map[string]string{{"VALUE": "9161234567", "VALUE_TYPE": "WORK"}},
			"EMAIL": []map[string]string{{"VALUE": "ivan@example.com", "VALUE_TYPE": "WORK"}},
		}},
	})
	client := NewClient(srv.URL, 0, "", zap.NewNop())

	contact, err := client.FindContactByName(context.Background(), "Иванов Иван")
	require.NoError(t, err)
	require.NotNil(t, contact)
	require.Equal(t, int64(123), contact.ID)
	require.Equal(t, "9161234567", contact.Phone)
	require.Equal(t, "ivan@example.com", contact.Email)

	filter := calls["crm.contact.list"]["filter"].(map[string]any)
	require.Equal(t, "Иванов Иван", filter["NAME"])
}

func TestFindContactByNameMiss(t *testing.T) {
	srv, _ := newTestServer(t, map[string]any{
		"crm.contact.list": []map[string]any{},
	})
	client := NewClient(srv.URL, 0, "", zap.NewNop())

	contact, err := client.FindContactByName(context.Background(), "Нет Такого")
	require.NoError(t, err)
	require.Nil(t, contact)
}

func TestCreateContact(t *testing.T) {
	srv, calls := newTestServer(t, map[string]any{
		"crm.contact.add": 555,
	})
	client := NewClient(srv.URL, 0, "", zap.NewNop())

	id, err := client.CreateContact(context.Background(), port.ContactFields{
		LastName:    "Иванов",
		FirstName:   "Иван",
		Phone:       "9161234567",
		Email:       "ivan@example.com",
		CompanyName: "Студия",
		Position:    "Дизайнер",
		TelegramID:  42,
	})
	require.NoError(t, err)
	require.Equal(t, int64(555), id)

	fields := calls["crm.contact.add"]["fields"].(map[string]any)
	require.Equal(t, "Иван", fields["NAME"])
	require.Equal(t, "Иванов", fields["LAST_NAME"])
	require.Equal(t, float64(42), fields[telegramIDField])
}

func TestCreateLead(t *testing.T) {
	srv, calls := newTestServer(t, map[string]any{
		"crm.lead.add": "900",
		"crm.lead.get": map[string]any{"ID": "900", "STATUS_ID": "NEW"},
	})
	client := NewClient(srv.URL, 77, "", zap.NewNop())

	created, err := client.CreateLead(context.Background(), port.RecordFields{
		OwnerName:       "Иванов Иван",
		OwnerRole:       entity.RoleDesigner,
		ClientFullName:  "Клиентов Клиент Клиентович",
		ClientPhone:     "9161234567",
		ProjectFileName: "project.pdf",
		Comment:         "Срочно",
		SourceID:        "TELEGRAM",
		SourceName:      "Телеграм бот",
	})
	require.NoError(t, err)
	require.NotNil(t, created)
	require.Equal(t, int64(900), created.ID)
	require.Equal(t, "900", created.Number)
	require.Equal(t, "NEW", created.Status)
	require.Equal(t, entity.RecordLead, created.EntityType)

	fields := calls["crm.lead.add"]["fields"].(map[string]any)
	require.Equal(t, "Заявка от дизайнера: Иванов Иван", fields["TITLE"])
	require.Equal(t, "Клиентов", fields["LAST_NAME"])
	require.Equal(t, "Клиент", fields["NAME"])
	require.Equal(t, float64(77), fields["ASSIGNED_BY_ID"])
	require.Equal(t, "Иванов Иван", fields[agentField])
	require.Equal(t, "project.pdf", fields[projectFileNameField])
}

func TestCreatePartnerDealCreatesMissingContact(t *testing.T) {
	srv, calls := newTestServer(t, map[string]any{
		"crm.contact.list": []map[string]any{},
		"crm.contact.add":  321,
		"crm.deal.add":     "901",
		"crm.deal.get":     map[string]any{"ID": "901", "STAGE_ID": "C1:NEW"},
	})
	client := NewClient(srv.URL, 0, "7", zap.NewNop())

	created, err := client.CreatePartnerDeal(context.Background(), port.RecordFields{
		OwnerName:      "Петров Петр",
		OwnerRole:      entity.RolePartner,
		ClientFullName: "Клиентов Клиент",
		ClientPhone:    "9160000000",
		InitialStage:   "C1:NEW",
	})
	require.NoError(t, err)
	require.NotNil(t, created)
	require.Equal(t, "C1:NEW", created.Status)
	require.Equal(t, entity.RecordDeal, created.EntityType)

	fields := calls["crm.deal.add"]["fields"].(map[string]any)
	require.Equal(t, float64(321), fields["CONTACT_ID"])
	require.Equal(t, "7", fields["CATEGORY_ID"])
	require.Equal(t, "C1:NEW", fields["STAGE_ID"])
}

func TestLeadStatusAPIErrorMeansMissing(t *testing.T) {
	srv, _ := newTestServer(t, map[string]any{})
	client := NewClient(srv.URL, 0, "", zap.NewNop())

	status, err := client.LeadStatus(context.Background(), 999)
	require.NoError(t, err, "отказ API означает отсутствие лида, не ошибку")
	require.Equal(t, "", status)
}

func TestStatusList(t *testing.T) {
	srv, _ := newTestServer(t, map[string]any{
		"crm.status.list": []map[string]any{
			{"ID": "17", "STATUS_ID": "NEW", "NAME": "Новая", "SORT": "10"},
			{"ID": 18, "STATUS_ID": "C1:WON", "NAME": "Успех", "SORT": 20},
		},
	})
	client := NewClient(srv.URL, 0, "", zap.NewNop())

	entries, err := client.StatusList(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, port.StatusEntry{StatusID: "NEW", Name: "Новая", ID: "17", Sort: "10"}, entries[0])
	require.Equal(t, port.StatusEntry{StatusID: "C1:WON", Name: "Успех", ID: "18", Sort: "20"}, entries[1])
}

func TestSplitName(t *testing.T) {
	last, first, middle := splitName("Иванов Иван Иванович")
	require.Equal(t, "Иванов", last)
	require.Equal(t, "Иван", first)
	require.Equal(t, "Иванович", middle)

	last, first, middle = splitName("Иванов")
	require.Equal(t, "Иванов", last)
	require.Equal(t, "", first)
	require.Equal(t, "", middle)
}
