package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"subgate/internal/domain"
)

const nodeInsertBatchSize = 500

var (
	ErrSubscriptionNotFound  = errors.New("database: subscription not found")
	ErrDuplicateSubscription = errors.New("database: subscription url already exists")
)

// CreateSubscription inserts sub. The URL must not be registered yet.
func CreateSubscription(ctx context.Context, sub *domain.Subscription) error {
	sub.URL = strings.TrimSpace(sub.URL)

	var count int64
	if err := DB.WithContext(ctx).Model(&domain.Subscription{}).
		Where("url = ?", sub.URL).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateSubscription, sub.URL)
	}

	if err := DB.WithContext(ctx).Create(sub).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s", ErrDuplicateSubscription, sub.URL)
		}
		return err
	}
	return nil
}

func GetSubscription(ctx context.Context, id string) (domain.Subscription, error) {
	var sub domain.Subscription
	err := DB.WithContext(ctx).First(&sub, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Subscription{}, ErrSubscriptionNotFound
	}
	return sub, err
}

func ListSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	var subs []domain.Subscription
	err := DB.WithContext(ctx).Order("created_at ASC, id ASC").Find(&subs).Error
	return subs, err
}

func ListEnabledSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	var subs []domain.Subscription
	err := DB.WithContext(ctx).
		Where("enabled = ?", true).
		Order("created_at ASC, id ASC").
		Find(&subs).Error
	return subs, err
}

func SetSubscriptionEnabled(ctx context.Context, id string, enabled bool) error {
	res := DB.WithContext(ctx).Model(&domain.Subscription{}).
		Where("id = ?", id).
		Update("enabled", enabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// DisableBlockedSubscriptions turns off every enabled subscription whose URL
// blocked rejects and returns their ids.
func DisableBlockedSubscriptions(ctx context.Context, blocked func(string) bool) ([]string, error) {
	if blocked == nil {
		return nil, nil
	}
	subs, err := ListEnabledSubscriptions(ctx)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, sub := range subs {
		if blocked(sub.URL) {
			ids = append(ids, sub.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	err = DB.WithContext(ctx).Model(&domain.Subscription{}).
		Where("id IN ?", ids).
		Update("enabled", false).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// DeleteSubscription removes the subscription and its nodes.
func DeleteSubscription(ctx context.Context, id string) error {
	return DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("subscription_id = ?", id).Delete(&domain.Node{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&domain.Subscription{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrSubscriptionNotFound
		}
		return nil
	})
}

// ReplaceSubscriptionNodes swaps the stored node set for nodes and records a
// successful refresh, all in one transaction.
func ReplaceSubscriptionNodes(ctx context.Context, id, format string, nodes []domain.Node) error {
	return DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&domain.Subscription{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrSubscriptionNotFound
		}

		if err := tx.Where("subscription_id = ?", id).Delete(&domain.Node{}).Error; err != nil {
			return err
		}

		if len(nodes) > 0 {
			rows := make([]domain.Node, len(nodes))
			copy(rows, nodes)
			for i := range rows {
				rows[i].ID = 0
				rows[i].SubscriptionID = id
			}
			if err := tx.CreateInBatches(&rows, nodeInsertBatchSize).Error; err != nil {
				return err
			}
		}

		return tx.Model(&domain.Subscription{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"last_format":     format,
				"last_error":      "",
				"node_count":      len(nodes),
				"last_updated_at": time.Now().UTC(),
			}).Error
	})
}

// RecordSubscriptionError stores the failure of the last refresh. Stored
// nodes are kept.
func RecordSubscriptionError(ctx context.Context, id string, cause error) error {
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	res := DB.WithContext(ctx).Model(&domain.Subscription{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":      message,
			"last_updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func ListNodes(ctx context.Context, subscriptionID string) ([]domain.Node, error) {
	if _, err := GetSubscription(ctx, subscriptionID); err != nil {
		return nil, err
	}
	var nodes []domain.Node
	err := DB.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("id ASC").
		Find(&nodes).Error
	return nodes, err
}
