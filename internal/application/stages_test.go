package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"intake-bot/config"
	"intake-bot/internal/domain/entity"
	"intake-bot/internal/domain/port"
)

// fakeCRM управляемый CRM-клиент для тестов. Нулевые поля означают
// "не найдено" без ошибки.
type fakeCRM struct {
	findContact   func(name string) (*port.Contact, error)
	createContact func(fields port.ContactFields) (int64, error)
	createLead    func(fields port.RecordFields) (*port.CreatedRecord, error)
	createDeal    func(fields port.RecordFields) (*port.CreatedRecord, error)
	leadStatus    func(id int64) (string, error)
	dealStatus    func(id int64) (string, error)
	statusList    func() ([]port.StatusEntry, error)

	statusListCalls int
}

func (f *fakeCRM) FindContactByName(ctx context.Context, fullName string) (*port.Contact, error) {
	if f.findContact == nil {
		return nil, nil
	}
	return f.findContact(fullName)
}

func (f *fakeCRM) CreateContact(ctx context.Context, fields port.ContactFields) (int64, error) {
	if f.createContact == nil {
		return 0, errors.New("create contact not configured")
	}
	return f.createContact(fields)
}

func (f *fakeCRM) CreateLead(ctx context.Context, fields port.RecordFields) (*port.CreatedRecord, error) {
	if f.createLead == nil {
		return nil, errors.New("create lead not configured")
	}
	return f.createLead(fields)
}

func (f *fakeCRM) CreatePartnerDeal(ctx context.Context, fields port.RecordFields) (*port.CreatedRecord, error) {
	if f.createDeal == nil {
		return nil, errors.New("create deal not configured")
	}
	return f.createDeal(fields)
}

func (f *fakeCRM) LeadStatus(ctx context.Context, id int64) (string, error) {
	if f.leadStatus == nil {
		return "", nil
	}
	return f.leadStatus(id)
}

func (f *fakeCRM) DealStatus(ctx context.Context, id int64) (string, error) {
	if f.dealStatus == nil {
		return "", nil
	}
	return f.dealStatus(id)
}

func (f *fakeCRM) StatusList(ctx context.Context) ([]port.StatusEntry, error) {
	f.statusListCalls++
	if f.statusList == nil {
		return nil, nil
	}
	return f.statusList()
}

var _ port.CRM = (*fakeCRM)(nil)

// fakeFetcher управляемый загрузчик файлов.
type fakeFetcher struct {
	data map[string][]byte
	err  error
}

func (f *fakeFetcher) Fetch(ctx context.Context, fileID string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.data[fileID], nil
}

var _ port.FileFetcher = (*fakeFetcher)(nil)

func testConfig() *config.Config {
	return &config.Config{
		LeadSourceID:        "TELEGRAM",
		SourceDescription:   "Телеграм бот",
		PartnerCategoryID:   "1",
		PartnerInitialStage: "C1:NEW",
		PrivacyPolicyURL:    "https://example.com/privacy",
		ManagerUsername:     "manager",
		AdminIDs:            []int64{42},
		DesignerFunnelStages: map[string]string{
			"NEW":              "Новая сделка (новый номер)",
			"PROJECT_RECEIVED": "Получен проект на просчет",
			"WON":              "Сделка успех",
		},
		PartnerFunnelStages: map[string]string{
			"PROJECT_RECEIVED": "Получен проект на просчет",
			"MEASUREMENT":      "Замер",
		},
		UnknownStatusPlaceholder: "Статус не отслеживается в боте",
		PageSize:                 2,
	}
}

func TestNormalizeStatusCode(t *testing.T) {
	require.Equal(t, "NEW", NormalizeStatusCode("C1:NEW"))
	require.Equal(t, "NEW", NormalizeStatusCode("new"))
	require.Equal(t, "UC_A1B2", NormalizeStatusCode("C7:uc_a1b2"))
	require.Equal(t, "", NormalizeStatusCode(""))
}

func TestStatusCacheRedundantKeys(t *testing.T) {
	crm := &fakeCRM{statusList: func() ([]port.StatusEntry, error) {
		return []port.StatusEntry{
			{StatusID: "C1:new", Name: "Новая", ID: "17", Sort: "10"},
		}, nil
	}}
	cache := NewStatusCache(crm, zap.NewNop())

	m := cache.Map(context.Background(), false)
	for _, key := range []string{"C1:new", "C1:NEW", "NEW", "17", "10"} {
		require.Equal(t, "Новая", m[key], "key %q", key)
	}
}

func TestStatusCacheLazyAndForceRefresh(t *testing.T) {
	crm := &fakeCRM{statusList: func() ([]port.StatusEntry, error) {
		return []port.StatusEntry{{StatusID: "NEW", Name: "Новая"}}, nil
	}}
	cache := NewStatusCache(crm, zap.NewNop())
	ctx := context.Background()

	cache.Map(ctx, false)
	cache.Map(ctx, false)
	require.Equal(t, 1, crm.statusListCalls)

	cache.Map(ctx, true)
	require.Equal(t, 2, crm.statusListCalls)

	cache.Invalidate()
	cache.Map(ctx, false)
	require.Equal(t, 3, crm.statusListCalls)
}

func TestStatusCacheKeepsPreviousOnFailure(t *testing.T) {
	failing := false
	crm := &fakeCRM{statusList: func() ([]port.StatusEntry, error) {
		if failing {
			return nil, errors.New("crm down")
		}
		return []port.StatusEntry{{StatusID: "NEW", Name: "Новая"}}, nil
	}}
	cache := NewStatusCache(crm, zap.NewNop())
	ctx := context.Background()

	require.Equal(t, "Новая", cache.Map(ctx, false)["NEW"])

	failing = true
	m := cache.Map(ctx, true)
	require.Equal(t, "Новая", m["NEW"], "при ошибке остаётся предыдущий кэш")
}

func TestStatusCacheEmptyOnFirstFailure(t *testing.T) {
	crm := &fakeCRM{statusList: func() ([]port.StatusEntry, error) {
		return nil, errors.New("crm down")
	}}
	cache := NewStatusCache(crm, zap.NewNop())

	m := cache.Map(context.Background(), false)
	require.NotNil(t, m)
	require.Empty(t, m)
}

func TestStageResolverPrefersLiveCatalog(t *testing.T) {
	cfg := testConfig()
	crm := &fakeCRM{statusList: func() ([]port.StatusEntry, error) {
		return []port.StatusEntry{{StatusID: "NEW", Name: "Имя из CRM"}}, nil
	}}
	resolver := NewStageResolver(NewStatusCache(crm, zap.NewNop()), cfg.DesignerFunnelStages, cfg.PartnerFunnelStages)

	require.Equal(t, "Имя из CRM", resolver.Resolve(context.Background(), "C1:NEW", entity.RoleDesigner))
}

func TestStageResolverFallsBackToRoleTable(t *testing.T) {
	cfg := testConfig()
	crm := &fakeCRM{}
	resolver := NewStageResolver(NewStatusCache(crm, zap.NewNop()), cfg.DesignerFunnelStages, cfg.PartnerFunnelStages)
	ctx := context.Background()

	require.Equal(t, "Новая сделка (новый номер)", resolver.Resolve(ctx, "NEW", entity.RoleDesigner))
	// MEASUREMENT есть только в партнёрской таблице, но находится и для дизайнера.
	require.Equal(t, "Замер", resolver.Resolve(ctx, "MEASUREMENT", entity.RoleDesigner))
	// NEW есть только в дизайнерской таблице, но находится и для партнёра.
	require.Equal(t, "Новая сделка (новый номер)", resolver.Resolve(ctx, "C1:NEW", entity.RolePartner))
}

func TestStageResolverUnknownCodeReturnedAsIs(t *testing.T) {
	cfg := testConfig()
	resolver := NewStageResolver(NewStatusCache(&fakeCRM{}, zap.NewNop()), cfg.DesignerFunnelStages, cfg.PartnerFunnelStages)

	require.Equal(t, "C5:MYSTERY", resolver.Resolve(context.Background(), "C5:MYSTERY", entity.RoleDesigner))
	require.Equal(t, "", resolver.Resolve(context.Background(), "", entity.RoleDesigner))
}
