package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arkacitra/bimbel-portal-api/internal/models"
	appErrors "github.com/arkacitra/bimbel-portal-api/pkg/errors"
)

type programRepository interface {
	FindByID(ctx context.Context, id string) (*models.Program, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.Program, error)
	List(ctx context.Context, filter models.ProgramFilter) ([]models.Program, int, error)
}

type catalogCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type cacheMetrics interface {
	RecordCacheOperation(hit bool, duration time.Duration)
}

// CatalogService is the read-only view over the program catalog, with a
// redis read-through cache. Programs never change through this API, so no
// invalidation path is needed beyond the TTL.
type CatalogService struct {
	programs programRepository
	cache    catalogCache
	metrics  cacheMetrics
	ttl      time.Duration
	logger   *zap.Logger
}

// NewCatalogService constructs CatalogService. Cache and metrics may be nil.
func NewCatalogService(programs programRepository, cache catalogCache, metrics cacheMetrics, ttl time.Duration, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{programs: programs, cache: cache, metrics: metrics, ttl: ttl, logger: logger}
}

// GetProgram returns a single program, consulting the cache first.
func (s *CatalogService) GetProgram(ctx context.Context, id string) (*models.Program, error) {
	key := fmt.Sprintf("catalog:program:%s", id)
	if s.cache != nil {
		start := time.Now()
		var cached models.Program
		err := s.cache.Get(ctx, key, &cached)
		if s.metrics != nil {
			s.metrics.RecordCacheOperation(err == nil, time.Since(start))
		}
		if err == nil {
			return &cached, nil
		}
		if !appErrors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("catalog cache read failed", zap.String("program_id", id), zap.Error(err))
		}
	}

	program, err := s.programs.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "program not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load program")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, program, s.ttl); err != nil {
			s.logger.Warn("catalog cache write failed", zap.String("program_id", id), zap.Error(err))
		}
	}
	return program, nil
}

// GetPrograms loads several programs at once, bypassing the cache.
func (s *CatalogService) GetPrograms(ctx context.Context, ids []string) ([]models.Program, error) {
	programs, err := s.programs.FindByIDs(ctx, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load programs")
	}
	return programs, nil
}

// List returns programs with pagination metadata.
func (s *CatalogService) List(ctx context.Context, filter models.ProgramFilter) ([]models.Program, *models.Pagination, error) {
	programs, total, err := s.programs.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list programs")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return programs, pagination, nil
}
