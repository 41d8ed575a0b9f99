package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"intake-bot/config"
	telegram "intake-bot/internal/api"
	"intake-bot/internal/container"
	"intake-bot/internal/domain/port"
	"intake-bot/internal/infrastructure/bitrix"
	"intake-bot/internal/infrastructure/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if cfg.TelegramToken == "" {
		log.Fatal("TELEGRAM_TOKEN is required")
	}
	if cfg.BitrixWebhookURL == "" {
		log.Fatal("BITRIX_WEBHOOK_URL is required")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	// Хранилища: Postgres при наличии DATABASE_URL, иначе всё в памяти.
	var (
		users   port.UserRepository
		records port.RecordRepository
		states  port.StateRepository
	)
	if cfg.DatabaseURL != "" {
		pg, err := storage.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("подключение к Postgres не удалось", zap.Error(err))
		}
		defer pg.Close()
		users, records, states = pg.Users, pg.Records, pg.States
		logger.Info("хранилище: Postgres")
	} else {
		users = storage.NewMemoryUserRepository()
		records = storage.NewMemoryRecordRepository()
		states = storage.NewMemoryStateRepository()
		logger.Warn("DATABASE_URL не задан, данные хранятся в памяти")
	}

	crm := bitrix.NewClient(cfg.BitrixWebhookURL, cfg.ResponsibleID, cfg.PartnerCategoryID, logger)

	// Бот создаётся до сервисов: он же загрузчик файлов Telegram.
	bot, err := telegram.NewBot(cfg.TelegramToken, cfg, logger)
	if err != nil {
		logger.Fatal("создание бота не удалось", zap.Error(err))
	}

	c := container.New(users, records, states, crm, bot, cfg, logger)
	bot.Bind(telegram.Deps{
		Registration: c.Registration,
		Records:      c.Records,
		Sync:         c.Sync,
		Broadcast:    c.Broadcast,
		Users:        users,
		States:       states,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("бот запущен")
	if err := bot.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal("бот завершился с ошибкой", zap.Error(err))
	}
	logger.Info("бот остановлен")
}
