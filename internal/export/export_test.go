package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/lottery-keeper/internal/keeper"
	"github.com/rovshanmuradov/lottery-keeper/internal/storage"
	"github.com/rovshanmuradov/lottery-keeper/internal/storage/gormstore"
	"github.com/rovshanmuradov/lottery-keeper/internal/storage/models"
)

func seedStore(t *testing.T) *gormstore.Store {
	t.Helper()
	store, err := gormstore.Open(gormstore.DriverSQLite, gormstore.InMemorySQLiteDSN, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, store.RunMigrations())
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	base := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
	for i, addr := range []string{"PoolA", "PoolB"} {
		p := &models.Pool{Address: addr, Mint: "Mint", LockDuration: 300, Status: "WinnerSelected"}
		require.NoError(t, store.CreatePool(ctx, p))
		_, err := store.CompletePool(ctx, p.ID, storage.PoolCompletion{
			Winner:   "Winner" + addr,
			TotalPot: 1_000_000_000,
			EndedAt:  base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
		require.NoError(t, store.SaveEconomics(ctx, p.ID, []models.PoolEconomics{
			{Action: "unlock", Attempts: 1, Lamports: 5_000},
			{Action: "payout", Attempts: 2, Failures: 1, Lamports: 10_000},
		}))
		require.NoError(t, store.SaveRewardAllocations(ctx, []models.RewardAllocation{
			{PoolID: p.ID, Recipient: "Winner" + addr, Kind: keeper.RewardKindWinner, Amount: 860_000_000},
			{PoolID: p.ID, Recipient: "Treasury", Kind: keeper.RewardKindTreasury, Amount: 90_000_000},
			{PoolID: p.ID, Recipient: "Operator", Kind: keeper.RewardKindOperator, Amount: 35_000_000},
			{PoolID: p.ID, Recipient: "Treasury", Kind: keeper.RewardKindRewardPool, Amount: 15_000_000},
		}))
	}
	require.NoError(t, store.CreatePool(ctx, &models.Pool{Address: "PoolLive", Mint: "Mint", LockDuration: 300, Status: "Locked"}))
	return store
}

func newExporter(t *testing.T, store *gormstore.Store) *PoolExporter {
	e := NewPoolExporter(store, zaptest.NewLogger(t))
	e.now = func() time.Time { return time.Date(2026, 5, 11, 0, 0, 0, 0, time.UTC) }
	return e
}

func TestRecords(t *testing.T) {
	records, err := newExporter(t, seedStore(t)).Records(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, records, 2)

	r := records[0]
	assert.Equal(t, "PoolA", r.Address)
	assert.Equal(t, "WinnerPoolA", r.Winner)
	assert.Equal(t, int64(15_000), r.FeeLamports)
	assert.Equal(t, "0.000015", r.FeeSOL)
	assert.Equal(t, 3, r.Attempts)
	assert.Equal(t, 1, r.Failures)
	assert.Equal(t, uint64(860_000_000), r.WinnerShare)
	assert.Equal(t, uint64(15_000_000), r.RewardShare)
}

func TestExport_CSV(t *testing.T) {
	dir := t.TempDir()
	path, err := newExporter(t, seedStore(t)).Export(context.Background(), ExportOptions{Format: FormatCSV, OutputDir: dir})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "pools_20260511_000000.csv"), path)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 3)
	assert.Equal(t, CSVHeaders(), rows[0])
	assert.Equal(t, "PoolB", rows[2][1])
	assert.Equal(t, "2026-05-10T09:00:00Z", rows[2][4])
}

func TestExport_JSONWindow(t *testing.T) {
	dir := t.TempDir()
	from := time.Date(2026, 5, 10, 8, 30, 0, 0, time.UTC)
	path, err := newExporter(t, seedStore(t)).Export(context.Background(), ExportOptions{
		Format: FormatJSON, StartTime: from, OutputDir: dir,
	})
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var out struct {
		PoolCount int           `json:"pool_count"`
		Pools     []PoolRecord  `json:"pools"`
		Summary   ExportSummary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, 1, out.PoolCount)
	assert.Equal(t, "PoolB", out.Pools[0].Address)
	assert.Equal(t, int64(15_000), out.Summary.TotalFees)
	assert.Equal(t, uint64(1_000_000_000), out.Summary.TotalPot)
}

func TestExport_NoMatchesAndBadFormat(t *testing.T) {
	e := newExporter(t, seedStore(t))
	_, err := e.Export(context.Background(), ExportOptions{
		Format: FormatCSV, StartTime: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), OutputDir: t.TempDir(),
	})
	assert.ErrorContains(t, err, "no finished pools")

	_, err = e.Export(context.Background(), ExportOptions{Format: "xml", OutputDir: t.TempDir()})
	assert.ErrorContains(t, err, "unsupported format")
}

func TestSummarize(t *testing.T) {
	s := Summarize([]PoolRecord{{FeeLamports: 10_000, TotalPot: 5}, {FeeLamports: 20_000, TotalPot: 7, Failures: 2}})
	assert.Equal(t, int64(30_000), s.TotalFees)
	assert.Equal(t, int64(15_000), s.AvgFeeLamports)
	assert.Equal(t, "0.00003", s.TotalFeesSOL)
	assert.Equal(t, 2, s.TotalFailures)
	assert.Equal(t, "0", Summarize(nil).TotalFeesSOL)
}
