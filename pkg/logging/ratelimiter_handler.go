package logging

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// NewRateLimiterHandler wraps next with a per-level token bucket. Records over
// the limit are dropped rather than delayed.
func NewRateLimiterHandler(ctx context.Context, next slog.Handler, cfg RateLimiterConfig) slog.Handler {
	h := &rateLimiterHandler{
		next: next,
		rt: map[slog.Level]*rate.Limiter{
			slog.LevelDebug: rate.NewLimiter(cfg.Limit, cfg.Burst),
			slog.LevelInfo:  rate.NewLimiter(cfg.Limit, cfg.Burst),
			slog.LevelWarn:  rate.NewLimiter(cfg.Limit, cfg.Burst),
			slog.LevelError: rate.NewLimiter(cfg.Limit, cfg.Burst),
		},
		dropped: &atomic.Uint64{},
	}
	if cfg.Inform {
		go h.informDropped(ctx)
	}
	return h
}

type rateLimiterHandler struct {
	next    slog.Handler
	rt      map[slog.Level]*rate.Limiter
	dropped *atomic.Uint64
}

func (h *rateLimiterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if !h.next.Enabled(ctx, level) {
		return false
	}
	if !h.rt[level].Allow() {
		h.dropped.Add(1)
		return false
	}
	return true
}

func (h *rateLimiterHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.next.Handle(ctx, record)
}

func (h *rateLimiterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &rateLimiterHandler{next: h.next.WithAttrs(attrs), rt: h.rt, dropped: h.dropped}
}

func (h *rateLimiterHandler) WithGroup(name string) slog.Handler {
	return &rateLimiterHandler{next: h.next.WithGroup(name), rt: h.rt, dropped: h.dropped}
}

func (h *rateLimiterHandler) informDropped(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if count := h.dropped.Swap(0); count > 0 {
				slog.Warn(fmt.Sprintf("logs rate limit, dropped %d lines", count))
			}
		}
	}
}
