package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config содержит все настройки бота, загружаемые из окружения.
type Config struct {
	TelegramToken string
	DatabaseURL   string

	BitrixWebhookURL    string
	LeadSourceID        string
	SourceDescription   string
	ResponsibleID       int64
	PartnerCategoryID   string
	PartnerInitialStage string

	PrivacyPolicyURL string
	ManagerUsername  string

	AdminIDs []int64

	// Таблицы воронок: короткий код стадии -> отображаемое имя.
	DesignerFunnelStages map[string]string
	PartnerFunnelStages  map[string]string

	UnknownStatusPlaceholder string
	PageSize                 int
}

// Стадии воронок по умолчанию. Могут быть переопределены переменными
// окружения DESIGNER_FUNNEL_STAGES / PARTNER_FUNNEL_STAGES в формате JSON.
var defaultDesignerStages = map[string]string{
	"NEW":              "Новая сделка (новый номер)",
	"PROJECT_RECEIVED": "Получен проект на просчет",
	"ESTIMATE_DONE":    "Просчет сделан",
	"MEASUREMENT":      "Замер",
	"WON":              "Сделка успех",
	"LOSE":             "Сделка провал",
}

var defaultPartnerStages = map[string]string{
	"PROJECT_RECEIVED": "Получен проект на просчет",
	"ESTIMATE_DONE":    "Просчет сделан",
	"MEASUREMENT":      "Замер",
	"WON":              "Сделка успех",
	"LOSE":             "Сделка провал",
}

// Load читает конфигурацию из окружения.
func Load() (*Config, error) {
	// Загружаем .env файл (игнорируем ошибку если файла нет)
	_ = godotenv.Load()

	cfg := &Config{
		TelegramToken:            os.Getenv("TELEGRAM_TOKEN"),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		BitrixWebhookURL:         strings.TrimRight(os.Getenv("BITRIX_WEBHOOK_URL"), "/"),
		LeadSourceID:             envOrDefault("BITRIX_LEAD_SOURCE_ID", "TELEGRAM"),
		SourceDescription:        envOrDefault("BITRIX_SOURCE_DESCRIPTION", "Телеграм бот"),
		PartnerCategoryID:        os.Getenv("BITRIX_PARTNER_CATEGORY_ID"),
		PartnerInitialStage:      os.Getenv("BITRIX_PARTNER_INITIAL_STAGE"),
		PrivacyPolicyURL:         envOrDefault("PRIVACY_POLICY_URL", "https://example.com/privacy-policy"),
		ManagerUsername:          envOrDefault("MANAGER_USERNAME", "username_manager"),
		UnknownStatusPlaceholder: envOrDefault("UNKNOWN_STATUS_PLACEHOLDER", "Статус не отслеживается в боте"),
		PageSize:                 envInt("DEALS_PAGE_SIZE", 5),
		DesignerFunnelStages:     loadStageMapping("DESIGNER_FUNNEL_STAGES", defaultDesignerStages),
		PartnerFunnelStages:      loadStageMapping("PARTNER_FUNNEL_STAGES", defaultPartnerStages),
	}

	if cfg.PageSize < 1 {
		cfg.PageSize = 1
	}

	if v, err := strconv.ParseInt(os.Getenv("BITRIX_RESPONSIBLE_ID"), 10, 64); err == nil {
		cfg.ResponsibleID = v
	}

	for _, raw := range strings.Split(os.Getenv("ADMIN_IDS"), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		cfg.AdminIDs = append(cfg.AdminIDs, id)
	}

	return cfg, nil
}

// IsAdmin сообщает, входит ли пользователь в список администраторов.
func (c *Config) IsAdmin(telegramID int64) bool {
	for _, id := range c.AdminIDs {
		if id == telegramID {
			return true
		}
	}
	return false
}

// loadStageMapping читает таблицу стадий из окружения в формате JSON.
// При любой ошибке разбора возвращает значение по умолчанию.
func loadStageMapping(envKey string, def map[string]string) map[string]string {
	raw := os.Getenv(envKey)
	if raw == "" {
		return def
	}

	loaded := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &loaded); err != nil || len(loaded) == 0 {
		return def
	}
	return loaded
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}
