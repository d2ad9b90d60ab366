// Package blacklist keeps an in-memory snapshot of banned client IPs.
//
// The snapshot is the only shared mutable state in the service. A background
// refresher reloads it from the store on a fixed interval, so an address
// added to the table may keep passing the gate for up to one interval; that
// staleness window is the documented SLA, not a bug.
package blacklist

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/tavolo/backend/internal/models"
	"github.com/tavolo/backend/pkg/logger"
)

type List struct {
	db       *gorm.DB
	interval time.Duration

	mu  sync.RWMutex
	ips map[string]struct{}
}

func New(db *gorm.DB, interval time.Duration) *List {
	return &List{
		db:       db,
		interval: interval,
		ips:      map[string]struct{}{},
	}
}

func (l *List) Contains(ip string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, blocked := l.ips[ip]
	return blocked
}

// Refresh swaps in a fresh snapshot. On a load error the previous snapshot
// stays in place.
func (l *List) Refresh() error {
	var rows []models.BlacklistedIP
	if err := l.db.Find(&rows).Error; err != nil {
		return err
	}

	next := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		next[row.IPAddress] = struct{}{}
	}

	l.mu.Lock()
	l.ips = next
	l.mu.Unlock()

	return nil
}

// Run refreshes immediately, then on every interval tick until ctx is done.
func (l *List) Run(ctx context.Context) {
	if err := l.Refresh(); err != nil {
		logger.Error("blacklist_refresh_failed", err, nil)
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Refresh(); err != nil {
				logger.Error("blacklist_refresh_failed", err, nil)
				continue
			}
			logger.Info("blacklist_refreshed", map[string]interface{}{
				"size": l.size(),
			})
		}
	}
}

func (l *List) size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ips)
}
