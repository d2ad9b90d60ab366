package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tavolo/backend/internal/models"
	"github.com/tavolo/backend/internal/period"
	"github.com/tavolo/backend/internal/push"
	"github.com/tavolo/backend/pkg/logger"
)

// NotificationService gates and performs completion notifications. The
// ledger write and the dispatch are deliberately separate steps: the ledger
// row must be committed before any push I/O starts, so a slow or failing
// push provider never holds a database transaction open. Once recorded, a
// notification counts as sent even if every delivery fails.
type NotificationService struct {
	DB     *gorm.DB
	Sender push.Sender
}

func NewNotificationService(db *gorm.DB, sender push.Sender) *NotificationService {
	return &NotificationService{DB: db, Sender: sender}
}

// AlreadySent reports whether a completion notification went out for this
// restaurant and group during the current quarter. The check range-queries
// NotifiedAt rather than trusting the period key, matching how the rest of
// the system scopes by time.
func (s *NotificationService) AlreadySent(groupID uuid.UUID, restaurantID string, info period.Info) (bool, error) {
	var count int64
	err := s.DB.Model(&models.RatingNotification{}).
		Where("group_id = ? AND restaurant_id = ?", groupID, restaurantID).
		Where("notified_at >= ? AND notified_at < ?", info.Range.Start, info.Range.End).
		Count(&count).Error
	return count > 0, err
}

// Record writes the dedup ledger row. Two requests completing the same round
// near-simultaneously can both pass AlreadySent; the unique index on
// (restaurant, group, period key) then rejects the loser, surfaced as
// ErrAlreadyExists so the caller skips its dispatch.
func (s *NotificationService) Record(groupID uuid.UUID, restaurantID string, info period.Info) error {
	row := models.RatingNotification{
		RestaurantID: restaurantID,
		GroupID:      groupID,
		PeriodKey:    info.Key(),
		NotifiedAt:   time.Now().UTC(),
	}
	if err := s.DB.Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

// Dispatch fans the message out to every push subscription held by members
// of the group. It is called from a detached goroutine after the ledger row
// is durable and never reports back to the triggering request. Sends run
// concurrently and fail independently; an endpoint reported permanently gone
// is deleted, every other failure is only logged.
func (s *NotificationService) Dispatch(ctx context.Context, groupID uuid.UUID, groupName, message string) {
	var subs []models.PushSubscription
	err := s.DB.
		Joins("JOIN group_memberships ON group_memberships.user_id = push_subscriptions.user_id").
		Where("group_memberships.group_id = ?", groupID).
		Find(&subs).Error
	if err != nil {
		logger.Error("push_dispatch_load_failed", err, map[string]interface{}{
			"group_id": groupID.String(),
		})
		return
	}

	seen := map[string]bool{}
	body := fmt.Sprintf("%s: %s", groupName, message)

	var wg sync.WaitGroup
	for _, sub := range subs {
		if seen[sub.Endpoint] {
			continue
		}
		seen[sub.Endpoint] = true

		wg.Add(1)
		go func(sub models.PushSubscription) {
			defer wg.Done()
			s.send(ctx, sub, body)
		}(sub)
	}
	wg.Wait()

	logger.Info("push_dispatch_finished", map[string]interface{}{
		"group_id":      groupID.String(),
		"subscriptions": len(seen),
	})
}

func (s *NotificationService) send(ctx context.Context, sub models.PushSubscription, body string) {
	err := s.Sender.Send(ctx, push.Subscription{
		Endpoint: sub.Endpoint,
		P256dh:   sub.P256dh,
		Auth:     sub.Auth,
	}, body)
	if err == nil {
		return
	}

	if push.IsPermanent(err) {
		if delErr := s.DB.Where("endpoint = ?", sub.Endpoint).Delete(&models.PushSubscription{}).Error; delErr != nil {
			logger.Error("push_subscription_cleanup_failed", delErr, map[string]interface{}{
				"endpoint": sub.Endpoint,
			})
		} else {
			logger.Info("push_subscription_removed", map[string]interface{}{
				"endpoint": sub.Endpoint,
				"user_id":  sub.UserID.String(),
			})
		}
		return
	}

	logger.Warn("push_delivery_failed", map[string]interface{}{
		"endpoint": sub.Endpoint,
		"error":    err.Error(),
	})
}
