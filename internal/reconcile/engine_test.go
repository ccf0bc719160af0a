package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/catalogsync/internal/audit"
	"github.com/angelmondragon/catalogsync/internal/catalog"
	"github.com/angelmondragon/catalogsync/pkg/commands"
	"github.com/angelmondragon/catalogsync/pkg/db"
	"github.com/angelmondragon/catalogsync/pkg/db/dbtest"
	"github.com/angelmondragon/catalogsync/pkg/db/models"
	"github.com/angelmondragon/catalogsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/catalogsync/pkg/errors"
	"github.com/angelmondragon/catalogsync/pkg/logger"
)

var acme = catalog.Supplier{ID: "acme", SKUPrefix: "ACME"}

type tickClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type engineEnv struct {
	client   *db.Client
	clock    *tickClock
	upserter *catalog.Upserter
	engine   *Engine
	commands *commands.Repository
}

func newEngineEnv(t *testing.T) *engineEnv {
	t.Helper()
	client := dbtest.Open(t)
	clock := &tickClock{now: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)}
	logg := logger.Nop()

	upserter, err := catalog.NewUpserter(catalog.UpserterParams{
		Logger: logg,
		DB:     client,
		Repo:   catalog.NewRepository(client.DB()),
		Audit:  audit.NewWriter(),
		Now:    clock.Now,
	})
	require.NoError(t, err)

	cmdRepo := commands.NewRepository(client.DB())
	engine, err := NewEngine(EngineParams{
		Logger:   logg,
		DB:       client,
		Repo:     NewRepository(client.DB()),
		Audit:    audit.NewWriter(),
		Commands: commands.NewQueue(cmdRepo, logg),
		Now:      clock.Now,
	})
	require.NoError(t, err)
	return &engineEnv{client: client, clock: clock, upserter: upserter, engine: engine, commands: cmdRepo}
}

// run simulates one supplier run that sees only skus, then reconciles.
func (e *engineEnv) run(t *testing.T, skus ...string) *Report {
	t.Helper()
	ctx := context.Background()
	runStart := e.clock.Now()
	for _, sku := range skus {
		_, err := e.upserter.Upsert(ctx, acme, sku, catalog.Record{ExternalID: sku, Title: "Item " + sku, Price: "19.99"})
		require.NoError(t, err)
	}
	report, err := e.engine.ProcessOrphans(ctx, acme.ID, runStart)
	require.NoError(t, err)
	return report
}

func (e *engineEnv) product(t *testing.T, sku string) models.SupplierProduct {
	t.Helper()
	var row models.SupplierProduct
	require.NoError(t, e.client.DB().Where("supplier_id = ? AND external_sku = ?", acme.ID, sku).Take(&row).Error)
	return row
}

func (e *engineEnv) statusAudits(t *testing.T, id uuid.UUID) []models.AuditLog {
	t.Helper()
	rows, err := audit.ListForEntity(context.Background(), e.client.DB(), enums.AuditEntitySupplierProduct, id)
	require.NoError(t, err)
	out := rows[:0]
	for _, row := range rows {
		if row.Action == string(enums.AuditActionStatusChange) {
			out = append(out, row)
		}
	}
	return out
}

func (e *engineEnv) addListing(t *testing.T, sku string, state enums.ListingState, listingID string, createdAt time.Time) {
	t.Helper()
	var internal models.InternalProduct
	require.NoError(t, e.client.DB().Where("sku = ?", catalog.InternalSKU(acme.SKUPrefix, sku)).Take(&internal).Error)
	row := &models.MarketplaceListing{
		ID:                uuid.New(),
		InternalProductID: internal.ID,
		Marketplace:       "ebay",
		State:             state,
		CreatedAt:         createdAt,
	}
	if listingID != "" {
		row.ExternalListingID = &listingID
	}
	require.NoError(t, e.client.DB().Create(row).Error)
}

func TestLifecycleAcrossFourRuns(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()

	report := env.run(t, "A", "B")
	assert.Equal(t, Report{}, *report)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	env.addListing(t, "B", enums.ListingStateEnded, "ebay-old", base)
	env.addListing(t, "B", enums.ListingStateLive, "", base.Add(time.Hour))
	env.addListing(t, "B", enums.ListingStateLive, "ebay-live-1", base.Add(2*time.Hour))
	env.addListing(t, "B", enums.ListingStateLive, "ebay-live-2", base.Add(3*time.Hour))

	report = env.run(t, "A")
	assert.Equal(t, 1, report.MarkedMissing)
	assert.Equal(t, enums.SyncStatusMissingOnce, env.product(t, "B").SyncStatus)
	assert.Equal(t, enums.SyncStatusPresent, env.product(t, "A").SyncStatus)

	report = env.run(t, "A")
	assert.Equal(t, 1, report.Removed)
	assert.Equal(t, 1, report.Withdrawals)
	assert.Equal(t, enums.SyncStatusRemoved, env.product(t, "B").SyncStatus)

	pending, err := env.commands.ListPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, enums.CommandWithdrawListing, pending[0].Type)
	var payload commands.WithdrawListingPayload
	require.NoError(t, json.Unmarshal(pending[0].Payload, &payload))
	assert.Equal(t, "ebay-live-1", payload.ListingID)
	assert.Equal(t, commands.ReasonSupplierRemoved, payload.Reason)
	assert.Equal(t, env.product(t, "B").ID, payload.SupplierProductID)

	// A further absence leaves a removed product alone.
	report = env.run(t, "A")
	assert.Equal(t, Report{}, *report)
	pending, err = env.commands.ListPending(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	report = env.run(t, "A", "B")
	assert.Equal(t, 1, report.Healed)
	assert.Equal(t, enums.SyncStatusPresent, env.product(t, "B").SyncStatus)

	audits := env.statusAudits(t, env.product(t, "B").ID)
	require.Len(t, audits, 3)
	transitions := make([][2]string, 0, len(audits))
	for _, a := range audits {
		assert.Equal(t, Actor, a.Actor)
		transitions = append(transitions, [2]string{*a.OldValue, *a.NewValue})
	}
	assert.Equal(t, [][2]string{
		{"PRESENT", "MISSING_ONCE"},
		{"MISSING_ONCE", "REMOVED"},
		{"REMOVED", "PRESENT"},
	}, transitions)
	assert.Empty(t, env.statusAudits(t, env.product(t, "A").ID))
}

func TestRemovalWithoutLiveListingQueuesNothing(t *testing.T) {
	env := newEngineEnv(t)
	env.run(t, "A", "B")
	env.addListing(t, "B", enums.ListingStateDraft, "ebay-draft", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	env.run(t, "A")
	report := env.run(t, "A")
	assert.Equal(t, 1, report.Removed)
	assert.Zero(t, report.Withdrawals)

	pending, err := env.commands.ListPending(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRemovalWithoutInternalProductQueuesNothing(t *testing.T) {
	env := newEngineEnv(t)
	env.run(t, "A", "B")
	require.NoError(t, env.client.DB().Exec("DELETE FROM internal_products").Error)

	env.run(t, "A")
	report := env.run(t, "A")
	assert.Equal(t, 1, report.Removed)
	assert.Zero(t, report.Withdrawals)
}

func TestHealingFromMissingOnce(t *testing.T) {
	env := newEngineEnv(t)
	env.run(t, "A", "B")
	env.run(t, "A")
	require.Equal(t, enums.SyncStatusMissingOnce, env.product(t, "B").SyncStatus)

	report := env.run(t, "A", "B")
	assert.Equal(t, 1, report.Healed)
	assert.Zero(t, report.MarkedMissing)
	assert.Equal(t, enums.SyncStatusPresent, env.product(t, "B").SyncStatus)
}

func TestEmptyStatusTreatedAsPresent(t *testing.T) {
	env := newEngineEnv(t)
	env.run(t, "A", "B")
	require.NoError(t, env.client.DB().Model(&models.SupplierProduct{}).
		Where("external_sku = ?", "B").Update("sync_status", "").Error)

	report := env.run(t, "A")
	assert.Equal(t, 1, report.MarkedMissing)
	assert.Equal(t, enums.SyncStatusMissingOnce, env.product(t, "B").SyncStatus)

	audits := env.statusAudits(t, env.product(t, "B").ID)
	require.Len(t, audits, 1)
	assert.Equal(t, "PRESENT", *audits[0].OldValue)
}

func TestOtherSuppliersAreUntouched(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()
	_, err := env.upserter.Upsert(ctx, catalog.Supplier{ID: "globex"}, "G1", catalog.Record{ExternalID: "G1", Title: "Globex item"})
	require.NoError(t, err)

	env.run(t, "A")
	env.run(t, "A")

	var row models.SupplierProduct
	require.NoError(t, env.client.DB().Where("supplier_id = ?", "globex").Take(&row).Error)
	assert.Equal(t, enums.SyncStatusPresent, row.SyncStatus)
}

func TestStaleReadIsSkipped(t *testing.T) {
	env := newEngineEnv(t)
	env.run(t, "A", "B")
	b := env.product(t, "B")

	applied, withdrawn, err := env.engine.transition(context.Background(), &b, enums.SyncStatusMissingOnce, enums.SyncStatusRemoved)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.False(t, withdrawn)
	assert.Equal(t, enums.SyncStatusPresent, env.product(t, "B").SyncStatus)
	assert.Empty(t, env.statusAudits(t, b.ID))
}

type failingAppender struct{}

func (failingAppender) Append(context.Context, *gorm.DB, audit.Entry) error {
	return errors.New("audit table unavailable")
}

func TestAuditFailureRollsBackTransitionAndContinues(t *testing.T) {
	env := newEngineEnv(t)
	env.run(t, "A", "B", "C")

	broken, err := NewEngine(EngineParams{
		Logger:   logger.Nop(),
		DB:       env.client,
		Repo:     NewRepository(env.client.DB()),
		Audit:    failingAppender{},
		Commands: commands.NewQueue(env.commands, logger.Nop()),
		Now:      env.clock.Now,
	})
	require.NoError(t, err)

	runStart := env.clock.Now()
	_, err = env.upserter.Upsert(context.Background(), acme, "A", catalog.Record{ExternalID: "A", Title: "Item A", Price: "19.99"})
	require.NoError(t, err)

	report, err := broken.ProcessOrphans(context.Background(), acme.ID, runStart)
	require.Error(t, err)
	assert.Equal(t, 2, report.Failed)
	assert.Zero(t, report.MarkedMissing)
	assert.Equal(t, enums.SyncStatusPresent, env.product(t, "B").SyncStatus)
	assert.Equal(t, enums.SyncStatusPresent, env.product(t, "C").SyncStatus)
}

func TestProcessOrphansValidation(t *testing.T) {
	env := newEngineEnv(t)
	_, err := env.engine.ProcessOrphans(context.Background(), "", time.Now())
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	_, err = env.engine.ProcessOrphans(context.Background(), "acme", time.Time{})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestNewEngineRequiresDependencies(t *testing.T) {
	_, err := NewEngine(EngineParams{})
	assert.Error(t, err)
	_, err = NewEngine(EngineParams{Logger: logger.Nop()})
	assert.Error(t, err)
}
