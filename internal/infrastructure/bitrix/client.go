// Package bitrix реализует клиент вебхука Bitrix24.
package bitrix

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"intake-bot/internal/domain/entity"
	"intake-bot/internal/domain/port"
)

// Пользовательские поля CRM, заполняемые ботом.
const (
	agentField           = "UF_CRM_CRM_AGENT"
	projectFileField     = "UF_CRM_PROJECT_FILE"
	projectFileNameField = "UF_CRM_PROJECT_FILE_NAME"
	telegramIDField      = "UF_CRM_TELEGRAM_ID"
)

// Client клиент вебхука Bitrix24. Методы вызываются как
// POST <webhook>/<method> с JSON-параметрами.
type Client struct {
	webhookURL        string
	responsibleID     int64
	partnerCategoryID string
	httpClient        *http.Client
	log               *zap.Logger
}

// NewClient создаёт клиент вебхука.
func NewClient(webhookURL string, responsibleID int64, partnerCategoryID string, log *zap.Logger) *Client {
	return &Client{
		webhookURL:        strings.TrimRight(webhookURL, "/"),
		responsibleID:     responsibleID,
		partnerCategoryID: partnerCategoryID,
		httpClient:        &http.Client{Timeout: 30 * time.Second},
		log:               log,
	}
}

type envelope struct {
	Result           json.RawMessage `json:"result"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

// apiError ошибка уровня API Bitrix (метод выполнился, но вернул отказ).
type apiError struct {
	code        string
	description string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("bitrix api: %s (%s)", e.code, e.description)
}

// call выполняет метод вебхука и декодирует result в out.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.webhookURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}

	if env.Error != "" {
		return &apiError{code: env.Error, description: env.ErrorDescription}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("call %s: HTTP %d", method, resp.StatusCode)
	}

	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

// flexInt число, которое Bitrix отдаёт то числом, то строкой.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*f = flexInt(v)
	return nil
}

// multiField элемент составного поля контакта (телефон, email).
type multiField struct {
	Value     string `json:"VALUE"`
	ValueType string `json:"VALUE_TYPE"`
}

func firstValue(fields []multiField) string {
	if len(fields) == 0 {
		return ""
	}
	return fields[0].Value
}

type contactDTO struct {
	ID    flexInt      `json:"ID"`
	Phone []multiField `json:"PHONE"`
	Email []multiField `json:"EMAIL"`
}

// FindContactByName ищет контакт по полному имени. Возвращает первый
// найденный либо nil.
func (c *Client) FindContactByName(ctx context.Context, fullName string) (*port.Contact, error) {
	params := map[string]any{
		"filter": map[string]any{"NAME": fullName},
		"select": []string{"ID", "NAME", "LAST_NAME", "SECOND_NAME", "PHONE", "EMAIL", "COMPANY_TITLE"},
	}

	var result []contactDTO
	if err := c.call(ctx, "crm.contact.list", params, &result); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}

	return &port.Contact{
		ID:    int64(result[0].ID),
		Phone: firstValue(result[0].Phone),
		Email: firstValue(result[0].Email),
	}, nil
}

// findContactByPhone ищет контакт клиента по телефону.
func (c *Client) findContactByPhone(ctx context.Context, phone string) (*port.Contact, error) {
	params := map[string]any{
		"filter": map[string]any{"PHONE": phone},
		"select": []string{"ID", "PHONE", "EMAIL"},
	}

	var result []contactDTO
	if err := c.call(ctx, "crm.contact.list", params, &result); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}
	return &port.Contact{ID: int64(result[0].ID)}, nil
}

// CreateContact создаёт контакт и возвращает его идентификатор.
func (c *Client) CreateContact(ctx context.Context, fields port.ContactFields) (int64, error) {
	params := map[string]any{
		"fields": map[string]any{
			"NAME":          fields.FirstName,
			"LAST_NAME":     fields.LastName,
			"SECOND_NAME":   fields.MiddleName,
			"PHONE":         []multiField{{Value: fields.Phone, ValueType: "WORK"}},
			"EMAIL":         []multiField{{Value: fields.Email, ValueType: "WORK"}},
			"COMPANY_TITLE": fields.CompanyName,
			"POST":          fields.Position,
			telegramIDField: fields.TelegramID,
		},
	}

	var id flexInt
	if err := c.call(ctx, "crm.contact.add", params, &id); err != nil {
		return 0, err
	}
	return int64(id), nil
}

// recordFieldsPayload собирает общие поля лида/сделки.
func (c *Client) recordFieldsPayload(fields port.RecordFields) map[string]any {
	last, first, middle := splitName(fields.ClientFullName)

	payload := map[string]any{
		"TITLE": fmt.Sprintf("Заявка от %s: %s",
			strings.ToLower(fields.OwnerRole.Title()+"а"), fields.OwnerName),
		"NAME":               first,
		"LAST_NAME":          last,
		"SECOND_NAME":        middle,
		"PHONE":              []multiField{{Value: fields.ClientPhone, ValueType: "WORK"}},
		"COMMENTS":           fields.Comment,
		"SOURCE_ID":          fields.SourceID,
		"SOURCE_DESCRIPTION": fields.SourceName,
		agentField:           fields.OwnerName,
	}
	if c.responsibleID != 0 {
		payload["ASSIGNED_BY_ID"] = c.responsibleID
	}
	if fields.ProjectFileName != "" {
		payload[projectFileNameField] = fields.ProjectFileName
	}
	if len(fields.ProjectFileBytes) > 0 {
		payload[projectFileField] = map[string]any{
			"fileData": []string{
				fields.ProjectFileName,
				base64.StdEncoding.EncodeToString(fields.ProjectFileBytes),
			},
		}
	}
	return payload
}

type leadDTO struct {
	ID       flexInt `json:"ID"`
	StatusID string  `json:"STATUS_ID"`
}

type dealDTO struct {
	ID      flexInt `json:"ID"`
	StageID string  `json:"STAGE_ID"`
}

// CreateLead создаёт лид в воронке дизайнеров.
func (c *Client) CreateLead(ctx context.Context, fields port.RecordFields) (*port.CreatedRecord, error) {
	var id flexInt
	err := c.call(ctx, "crm.lead.add", map[string]any{"fields": c.recordFieldsPayload(fields)}, &id)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, nil
	}

	status := "NEW"
	var lead leadDTO
	if err := c.call(ctx, "crm.lead.get", map[string]any{"id": int64(id)}, &lead); err != nil {
		c.log.Warn("созданный лид не удалось перечитать", zap.Int64("id", int64(id)), zap.Error(err))
	} else if lead.StatusID != "" {
		status = lead.StatusID
	}

	return &port.CreatedRecord{
		ID:         int64(id),
		Number:     strconv.FormatInt(int64(id), 10),
		Status:     status,
		EntityType: entity.RecordLead,
	}, nil
}

// CreatePartnerDeal создаёт сделку в партнёрской воронке: клиент
// подвязывается контактом (ищется по телефону, при промахе создаётся).
func (c *Client) CreatePartnerDeal(ctx context.Context, fields port.RecordFields) (*port.CreatedRecord, error) {
	contact, err := c.findContactByPhone(ctx, fields.ClientPhone)
	if err != nil {
		c.log.Warn("поиск контакта клиента не удался", zap.Error(err))
	}

	var contactID int64
	if contact != nil {
		contactID = contact.ID
	} else {
		last, first, middle := splitName(fields.ClientFullName)
		contactID, err = c.CreateContact(ctx, port.ContactFields{
			LastName:   last,
			FirstName:  first,
			MiddleName: middle,
			Phone:      fields.ClientPhone,
		})
		if err != nil {
			return nil, fmt.Errorf("create client contact: %w", err)
		}
	}

	payload := c.recordFieldsPayload(fields)
	payload["CONTACT_ID"] = contactID
	if c.partnerCategoryID != "" {
		payload["CATEGORY_ID"] = c.partnerCategoryID
	}
	if fields.InitialStage != "" {
		payload["STAGE_ID"] = fields.InitialStage
	}

	var id flexInt
	if err := c.call(ctx, "crm.deal.add", map[string]any{"fields": payload}, &id); err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, nil
	}

	status := fields.InitialStage
	var deal dealDTO
	if err := c.call(ctx, "crm.deal.get", map[string]any{"id": int64(id)}, &deal); err != nil {
		c.log.Warn("созданную сделку не удалось перечитать", zap.Int64("id", int64(id)), zap.Error(err))
	} else if deal.StageID != "" {
		status = deal.StageID
	}

	return &port.CreatedRecord{
		ID:         int64(id),
		Number:     strconv.FormatInt(int64(id), 10),
		Status:     status,
		EntityType: entity.RecordDeal,
	}, nil
}

// LeadStatus возвращает код статуса лида. Отказ API (лид удалён или
// объединён) — не ошибка, а пустой статус.
func (c *Client) LeadStatus(ctx context.Context, id int64) (string, error) {
	var lead leadDTO
	if err := c.call(ctx, "crm.lead.get", map[string]any{"id": id}, &lead); err != nil {
		if isAPIError(err) {
			return "", nil
		}
		return "", err
	}
	return lead.StatusID, nil
}

// DealStatus возвращает код стадии сделки, "" если сделка не найдена.
func (c *Client) DealStatus(ctx context.Context, id int64) (string, error) {
	var deal dealDTO
	if err := c.call(ctx, "crm.deal.get", map[string]any{"id": id}, &deal); err != nil {
		if isAPIError(err) {
			return "", nil
		}
		return "", err
	}
	return deal.StageID, nil
}

func isAPIError(err error) bool {
	var apiErr *apiError
	return errors.As(err, &apiErr)
}

type statusDTO struct {
	ID       flexInt `json:"ID"`
	StatusID string  `json:"STATUS_ID"`
	Name     string  `json:"NAME"`
	Sort     flexInt `json:"SORT"`
}

// StatusList возвращает единый справочник статусов CRM.
func (c *Client) StatusList(ctx context.Context) ([]port.StatusEntry, error) {
	var result []statusDTO
	if err := c.call(ctx, "crm.status.list", map[string]any{}, &result); err != nil {
		return nil, err
	}

	entries := make([]port.StatusEntry, 0, len(result))
	for _, s := range result {
		entry := port.StatusEntry{StatusID: s.StatusID, Name: s.Name}
		if s.ID != 0 {
			entry.ID = strconv.FormatInt(int64(s.ID), 10)
		}
		if s.Sort != 0 {
			entry.Sort = strconv.FormatInt(int64(s.Sort), 10)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func splitName(fullName string) (last, first, middle string) {
	parts := strings.Fields(fullName)
	if len(parts) > 0 {
		last = parts[0]
	}
	if len(parts) > 1 {
		first = parts[1]
	}
	if len(parts) > 2 {
		middle = parts[2]
	}
	return last, first, middle
}

// Проверка реализации интерфейса
var _ port.CRM = (*Client)(nil)
