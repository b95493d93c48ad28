package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"seedtrace/internal/registry"
)

// Gateway decorates a registry.Gateway with a redis cache in front of
// LookupApplicator. Reads only: pushes always go straight through, and a
// cache failure never fails a lookup — the Registry stays authoritative.
type Gateway struct {
	inner  registry.Gateway
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func New(inner registry.Gateway, client *redis.Client, ttl time.Duration, logger *slog.Logger) *Gateway {
	return &Gateway{inner: inner, client: client, ttl: ttl, logger: logger}
}

func key(serialNumber string) string {
	return "registry:applicator:" + serialNumber
}

func (g *Gateway) LookupApplicator(ctx context.Context, serialNumber string) (registry.ApplicatorRecord, error) {
	if cached, ok := g.fetch(ctx, serialNumber); ok {
		return cached, nil
	}

	rec, err := g.inner.LookupApplicator(ctx, serialNumber)
	if err != nil {
		// Not-found answers are deliberately not cached: an applicator can
		// be registered between scans.
		return registry.ApplicatorRecord{}, err
	}
	g.store(ctx, rec)
	return rec, nil
}

func (g *Gateway) fetch(ctx context.Context, serialNumber string) (registry.ApplicatorRecord, bool) {
	raw, err := g.client.Get(ctx, key(serialNumber)).Bytes()
	if err != nil {
		if err != redis.Nil && g.logger != nil {
			g.logger.WarnContext(ctx, "registry cache read failed", "error", err.Error())
		}
		return registry.ApplicatorRecord{}, false
	}
	var rec registry.ApplicatorRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return registry.ApplicatorRecord{}, false
	}
	return rec, true
}

func (g *Gateway) store(ctx context.Context, rec registry.ApplicatorRecord) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := g.client.Set(ctx, key(rec.SerialNumber), raw, g.ttl).Err(); err != nil && g.logger != nil {
		g.logger.WarnContext(ctx, "registry cache write failed", "error", err.Error())
	}
}

// Invalidate drops the cached record after a usage push changes it.
func (g *Gateway) Invalidate(ctx context.Context, serialNumber string) {
	if err := g.client.Del(ctx, key(serialNumber)).Err(); err != nil && g.logger != nil {
		g.logger.WarnContext(ctx, "registry cache invalidate failed", "error", err.Error())
	}
}

func (g *Gateway) TreatmentsForSiteWindow(ctx context.Context, siteID string, from, to time.Time) ([]registry.TreatmentSummary, error) {
	return g.inner.TreatmentsForSiteWindow(ctx, siteID, from, to)
}

func (g *Gateway) PushApplicatorUsage(ctx context.Context, push registry.UsagePush) error {
	if err := g.inner.PushApplicatorUsage(ctx, push); err != nil {
		return err
	}
	g.Invalidate(ctx, push.SerialNumber)
	return nil
}

func (g *Gateway) PushTreatmentStatus(ctx context.Context, treatmentOrderID, status string) error {
	return g.inner.PushTreatmentStatus(ctx, treatmentOrderID, status)
}
