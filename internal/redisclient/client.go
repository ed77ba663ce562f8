// Package redisclient caches completed aggregate reads. All methods are nil
// receiver safe so the service runs unchanged without Redis configured;
// cache misses and cache errors both fall through to the database.
package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"sales-service/internal/models"
)

const cacheTTL = 5 * time.Minute

type Client struct {
	rdb *redis.Client
}

// New connects to Redis and verifies the connection.
func New(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}

func saleKey(id int64) string  { return fmt.Sprintf("sale:%d", id) }
func orderKey(id int64) string { return fmt.Sprintf("order:%d", id) }

// CacheSale stores the sale JSON under its key.
func (c *Client) CacheSale(ctx context.Context, sale *models.Sale) {
	if c == nil {
		return
	}
	data, err := json.Marshal(sale)
	if err != nil {
		return
	}
	c.rdb.Set(ctx, saleKey(sale.ID), data, cacheTTL)
}

// GetCachedSale returns the cached sale or nil on miss or error.
func (c *Client) GetCachedSale(ctx context.Context, id int64) *models.Sale {
	if c == nil {
		return nil
	}
	data, err := c.rdb.Get(ctx, saleKey(id)).Bytes()
	if err != nil {
		return nil
	}
	var sale models.Sale
	if err := json.Unmarshal(data, &sale); err != nil {
		return nil
	}
	return &sale
}

// CacheOrder stores the order JSON under its key.
func (c *Client) CacheOrder(ctx context.Context, order *models.Order) {
	if c == nil {
		return
	}
	data, err := json.Marshal(order)
	if err != nil {
		return
	}
	c.rdb.Set(ctx, orderKey(order.ID), data, cacheTTL)
}

// GetCachedOrder returns the cached order or nil on miss or error.
func (c *Client) GetCachedOrder(ctx context.Context, id int64) *models.Order {
	if c == nil {
		return nil
	}
	data, err := c.rdb.Get(ctx, orderKey(id)).Bytes()
	if err != nil {
		return nil
	}
	var order models.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil
	}
	return &order
}

// InvalidateSale drops the cached sale after a mutation.
func (c *Client) InvalidateSale(ctx context.Context, id int64) {
	if c == nil {
		return
	}
	c.rdb.Del(ctx, saleKey(id))
}

// InvalidateOrder drops the cached order after a mutation.
func (c *Client) InvalidateOrder(ctx context.Context, id int64) {
	if c == nil {
		return
	}
	c.rdb.Del(ctx, orderKey(id))
}
