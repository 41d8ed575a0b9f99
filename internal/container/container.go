package container

import (
	"go.uber.org/zap"

	"intake-bot/config"
	app "intake-bot/internal/application"
	"intake-bot/internal/domain/port"
)

// Container собранные сервисы приложения.
type Container struct {
	Registration *app.RegistrationService
	Records      *app.RecordService
	Sync         *app.SyncService
	Broadcast    *app.BroadcastService
	StatusCache  *app.StatusCache
}

// New собирает сервисы приложения поверх хранилищ, CRM и загрузчика файлов.
func New(
	users port.UserRepository,
	records port.RecordRepository,
	states port.StateRepository,
	crm port.CRM,
	files port.FileFetcher,
	cfg *config.Config,
	log *zap.Logger,
) *Container {
	statusCache := app.NewStatusCache(crm, log)
	resolver := app.NewStageResolver(statusCache, cfg.DesignerFunnelStages, cfg.PartnerFunnelStages)

	registration := app.NewRegistrationService(users, states, crm, cfg, log)
	recordService := app.NewRecordService(users, states, records, crm, files, resolver, cfg, log)
	syncService := app.NewSyncService(records, crm, resolver,
		cfg.DesignerFunnelStages, cfg.PartnerFunnelStages,
		cfg.UnknownStatusPlaceholder, cfg.PageSize, log)
	broadcast := app.NewBroadcastService(users, states, cfg, log)

	return &Container{
		Registration: registration,
		Records:      recordService,
		Sync:         syncService,
		Broadcast:    broadcast,
		StatusCache:  statusCache,
	}
}
