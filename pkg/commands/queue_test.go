package commands

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/catalogsync/pkg/db/dbtest"
	"github.com/angelmondragon/catalogsync/pkg/enums"
	"github.com/angelmondragon/catalogsync/pkg/logger"
)

func TestEnqueuePersistsPendingCommand(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	queue := NewQueue(repo, logger.Nop())
	ctx := context.Background()

	payload := WithdrawListingPayload{
		Reason:            ReasonSupplierRemoved,
		ListingID:         "ebay-123",
		SupplierProductID: uuid.New(),
		InternalProductID: uuid.New(),
	}
	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := queue.Enqueue(ctx, tx, Command{Type: enums.CommandWithdrawListing, Payload: payload})
		return err
	})
	require.NoError(t, err)

	pending, err := repo.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, enums.CommandWithdrawListing, pending[0].Type)
	assert.Equal(t, enums.CommandStatusPending, pending[0].Status)

	var decoded WithdrawListingPayload
	require.NoError(t, json.Unmarshal(pending[0].Payload, &decoded))
	assert.Equal(t, payload, decoded)

	require.NoError(t, repo.MarkDispatched(ctx, pending[0].ID))
	pending, err = repo.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.ErrorIs(t, repo.MarkFailed(ctx, decoded.SupplierProductID), gorm.ErrRecordNotFound)
}

func TestEnqueueRollsBackWithTransaction(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	queue := NewQueue(repo, nil)
	ctx := context.Background()

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := queue.Enqueue(ctx, tx, Command{Type: enums.CommandWithdrawListing, Payload: map[string]string{"reason": "x"}}); err != nil {
			return err
		}
		return errors.New("status update failed")
	})
	require.Error(t, err)

	pending, err := repo.ListPending(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestEnqueueValidation(t *testing.T) {
	queue := NewQueue(NewRepository(nil), nil)
	_, err := queue.Enqueue(context.Background(), nil, Command{Type: enums.CommandWithdrawListing})
	require.Error(t, err)

	client := dbtest.Open(t)
	err = client.WithTx(context.Background(), func(tx *gorm.DB) error {
		_, err := queue.Enqueue(context.Background(), tx, Command{Type: "PUBLISH"})
		return err
	})
	require.Error(t, err)
}

func TestEnqueueHonorsCallerContext(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	queue := NewQueue(repo, nil)

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		_, err := queue.Enqueue(canceled, tx, Command{Type: enums.CommandWithdrawListing, Payload: map[string]string{"reason": "x"}})
		return err
	})
	require.ErrorIs(t, err, context.Canceled)

	pending, err := repo.ListPending(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
