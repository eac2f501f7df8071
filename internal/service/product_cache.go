package service

import (
	"context"

	"go.uber.org/zap"

	"storefront-service/internal/models"
	"storefront-service/internal/redisclient"
	"storefront-service/internal/util"
)

// CachedProductReader serves product reads redis-first with a database
// fallback. Cart-side stock snapshots tolerate the cache TTL; finalize
// goes through the store's conditional decrements and never reads here.
type CachedProductReader struct {
	db     ProductReader
	redis  *redisclient.Client
	logger *zap.Logger
}

func NewCachedProductReader(db ProductReader, redis *redisclient.Client) *CachedProductReader {
	return &CachedProductReader{
		db:     db,
		redis:  redis,
		logger: util.GetLogger(),
	}
}

func (r *CachedProductReader) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	if cached, err := r.redis.GetProduct(ctx, id); err != nil {
		r.logger.Warn("Product cache read failed, falling back to database",
			zap.Int64("product_id", id),
			zap.Error(err))
	} else if cached != nil {
		return cached, nil
	}

	product, err := r.db.GetProductByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := r.redis.SetProduct(ctx, product); err != nil {
		r.logger.Warn("Product cache write failed",
			zap.Int64("product_id", id),
			zap.Error(err))
	}
	return product, nil
}

func (r *CachedProductReader) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	products := make([]models.Product, 0, len(ids))
	var misses []int64

	for _, id := range ids {
		cached, err := r.redis.GetProduct(ctx, id)
		if err != nil || cached == nil {
			misses = append(misses, id)
			continue
		}
		products = append(products, *cached)
	}

	if len(misses) == 0 {
		return products, nil
	}

	fetched, err := r.db.GetProductsByIDs(ctx, misses)
	if err != nil {
		return nil, err
	}
	for i := range fetched {
		if err := r.redis.SetProduct(ctx, &fetched[i]); err != nil {
			r.logger.Warn("Product cache write failed",
				zap.Int64("product_id", fetched[i].ID),
				zap.Error(err))
		}
	}

	return append(products, fetched...), nil
}

var _ ProductReader = (*CachedProductReader)(nil)
