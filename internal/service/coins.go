package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/numisworks/coindex/internal/model"
	"github.com/numisworks/coindex/internal/store"
)

// CreateCoin persists a new coin and appends its created event. A blank
// id is filled in.
func (s *Service) CreateCoin(ctx context.Context, coin *model.Coin) (*model.Coin, error) {
	if coin.ID == "" {
		coin.ID = uuid.New().String()
	}
	if err := s.store.CreateCoin(ctx, coin); err != nil {
		return nil, eris.Wrapf(err, "service: create coin %s", coin.ID)
	}
	s.appendLifecycleEvent(ctx, coin.ID, model.EventCoinCreated, nil)
	return coin, nil
}

// GetCoin fetches one coin by id.
func (s *Service) GetCoin(ctx context.Context, id string) (*model.Coin, error) {
	return s.store.GetCoin(ctx, id)
}

// ListCoins pages through the collection.
func (s *Service) ListCoins(ctx context.Context, limit, offset int) ([]model.Coin, error) {
	return s.store.ListCoins(ctx, limit, offset)
}

// DeleteCoin removes a coin and appends its deleted event. The coin's
// history stays in the log; only the derived record goes away.
func (s *Service) DeleteCoin(ctx context.Context, id string) error {
	if err := s.store.DeleteCoin(ctx, id); err != nil {
		return eris.Wrapf(err, "service: delete coin %s", id)
	}
	s.appendLifecycleEvent(ctx, id, model.EventCoinDeleted, nil)
	return nil
}

// AddImage records an image attachment for a coin. The image itself
// lives elsewhere; the log keeps the reference.
func (s *Service) AddImage(ctx context.Context, coinID, imageID, side string) error {
	if _, err := s.store.GetCoin(ctx, coinID); err != nil {
		return eris.Wrapf(err, "service: add image to coin %s", coinID)
	}
	event, err := model.NewEvent(coinID, model.EventImageAdded, model.ImageAddedPayload{
		ImageID: imageID,
		Side:    side,
	})
	if err != nil {
		return err
	}
	if _, err := s.store.AppendEvent(ctx, event); err != nil {
		return eris.Wrapf(err, "service: append image event for %s", coinID)
	}
	return nil
}

// Migrate runs the store's schema migration.
func (s *Service) Migrate(ctx context.Context) error {
	return s.store.Migrate(ctx)
}

// Store exposes the underlying store for surfaces that need direct
// reads, such as the export command.
func (s *Service) Store() store.Store {
	return s.store
}

func (s *Service) appendLifecycleEvent(ctx context.Context, coinID string, typ model.EventType, payload any) {
	event, err := model.NewEvent(coinID, typ, payload)
	if err == nil {
		_, err = s.store.AppendEvent(ctx, event)
	}
	if err != nil {
		zap.L().Warn("service: failed to append lifecycle event",
			zap.String("coin_id", coinID),
			zap.String("event_type", string(typ)),
			zap.Error(err),
		)
	}
}
