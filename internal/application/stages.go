package app

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"intake-bot/internal/domain/entity"
	"intake-bot/internal/domain/port"
)

// NormalizeStatusCode приводит код статуса к сравнимой форме: отбрасывает
// префикс воронки до первого двоеточия ("C1:NEW" -> "NEW") и переводит
// в верхний регистр.
func NormalizeStatusCode(code string) string {
	if code == "" {
		return ""
	}
	if i := strings.Index(code, ":"); i >= 0 {
		code = code[i+1:]
	}
	return strings.ToUpper(code)
}

// StatusCache процессный кэш справочника статусов CRM.
// Заполняется лениво при первом обращении; справочник в CRM может
// измениться во время работы бота, поэтому поддерживается принудительное
// обновление. Обновление — замена карты целиком.
type StatusCache struct {
	crm port.CRM
	log *zap.Logger

	mu     sync.RWMutex
	cache  map[string]string
	loaded bool
}

// NewStatusCache создаёт кэш справочника статусов.
func NewStatusCache(crm port.CRM, log *zap.Logger) *StatusCache {
	return &StatusCache{crm: crm, log: log}
}

// Map возвращает карту "представление кода статуса -> имя". Каждый статус
// попадает в карту под всеми известными представлениями: код, код в
// верхнем регистре, код без префикса воронки, числовой идентификатор и
// порядок сортировки — разные места CRM ссылаются на один статус
// по-разному. Ошибка загрузки не выходит наружу: возвращается предыдущий
// кэш либо пустая карта.
func (c *StatusCache) Map(ctx context.Context, forceRefresh bool) map[string]string {
	c.mu.RLock()
	if c.loaded && !forceRefresh {
		cached := c.cache
		c.mu.RUnlock()
		return cached
	}
	c.mu.RUnlock()

	entries, err := c.crm.StatusList(ctx)
	if err != nil {
		c.log.Warn("не удалось загрузить справочник статусов", zap.Error(err))
		c.mu.RLock()
		defer c.mu.RUnlock()
		if c.cache != nil {
			return c.cache
		}
		return map[string]string{}
	}

	fresh := make(map[string]string, len(entries)*6)
	for _, e := range entries {
		if e.Name == "" {
			continue
		}
		normalized := NormalizeStatusCode(e.StatusID)
		for _, key := range []string{
			e.StatusID,
			strings.ToUpper(e.StatusID),
			normalized,
			strings.ToUpper(normalized),
			e.ID,
			e.Sort,
		} {
			if key != "" {
				fresh[key] = e.Name
			}
		}
	}

	c.mu.Lock()
	c.cache = fresh
	c.loaded = true
	c.mu.Unlock()

	return fresh
}

// Invalidate сбрасывает кэш; следующее обращение перечитает справочник.
func (c *StatusCache) Invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.mu.Unlock()
}

// StageResolver переводит сырой код статуса CRM в отображаемое имя.
// Порядок источников: живой справочник CRM, затем статические таблицы
// воронок с приоритетом таблицы роли, затем сам код без изменений.
// Живые данные отражают настройки CRM, статические таблицы — базовый
// комплект бота.
type StageResolver struct {
	cache          *StatusCache
	designerStages map[string]string
	partnerStages  map[string]string
}

// NewStageResolver создаёт резолвер имён стадий.
func NewStageResolver(cache *StatusCache, designerStages, partnerStages map[string]string) *StageResolver {
	return &StageResolver{
		cache:          cache,
		designerStages: designerStages,
		partnerStages:  partnerStages,
	}
}

// Resolve возвращает отображаемое имя для кода статуса. Пустой код
// возвращается как есть; неизвестный код тоже — пользователь увидит
// сырой код вместо ошибки.
func (r *StageResolver) Resolve(ctx context.Context, rawCode string, role entity.Role) string {
	if rawCode == "" {
		return rawCode
	}

	normalized := NormalizeStatusCode(rawCode)

	live := r.cache.Map(ctx, false)
	for _, key := range []string{rawCode, strings.ToUpper(rawCode), normalized, strings.ToUpper(normalized)} {
		if name, ok := live[key]; ok {
			return name
		}
	}

	// Таблица роли проверяется первой, затем таблица другой роли.
	tables := []map[string]string{r.designerStages, r.partnerStages}
	if role == entity.RolePartner {
		tables = []map[string]string{r.partnerStages, r.designerStages}
	}
	for _, table := range tables {
		for _, key := range []string{rawCode, normalized} {
			if name, ok := table[key]; ok {
				return name
			}
		}
	}

	return rawCode
}
