package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/lottery-keeper/internal/economics"
	"github.com/rovshanmuradov/lottery-keeper/internal/keeper"
	"github.com/rovshanmuradov/lottery-keeper/internal/storage/models"
)

// ExportFormat represents the export file format
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
)

// ExportOptions configures the export behavior
type ExportOptions struct {
	Format    ExportFormat
	StartTime time.Time
	EndTime   time.Time
	OutputDir string
}

// Reader is the part of the mirror the exporter reads.
type Reader interface {
	ListEndedPools(ctx context.Context, from, to time.Time) ([]*models.Pool, error)
	ListEconomics(ctx context.Context, poolID uint) ([]models.PoolEconomics, error)
	ListRewardAllocations(ctx context.Context, poolID uint) ([]models.RewardAllocation, error)
}

// PoolRecord is one finished pool with its cost and pot shares.
type PoolRecord struct {
	PoolID        uint      `json:"pool_id"`
	Address       string    `json:"address"`
	Winner        string    `json:"winner"`
	TotalPot      uint64    `json:"total_pot"`
	EndedAt       time.Time `json:"ended_at"`
	FeeLamports   int64     `json:"fee_lamports"`
	FeeSOL        string    `json:"fee_sol"`
	Attempts      int       `json:"attempts"`
	Failures      int       `json:"failures"`
	WinnerShare   uint64    `json:"winner_share"`
	TreasuryShare uint64    `json:"treasury_share"`
	OperatorShare uint64    `json:"operator_share"`
	RewardShare   uint64    `json:"reward_pool_share"`
}

// CSVHeaders returns the header row matching PoolRecord.ToCSV.
func CSVHeaders() []string {
	return []string{
		"pool_id", "address", "winner", "total_pot", "ended_at",
		"fee_lamports", "fee_sol", "attempts", "failures",
		"winner_share", "treasury_share", "operator_share", "reward_pool_share",
	}
}

func (r PoolRecord) ToCSV() []string {
	u := func(v uint64) string { return strconv.FormatUint(v, 10) }
	return []string{
		strconv.FormatUint(uint64(r.PoolID), 10),
		r.Address,
		r.Winner,
		u(r.TotalPot),
		r.EndedAt.UTC().Format(time.RFC3339),
		strconv.FormatInt(r.FeeLamports, 10),
		r.FeeSOL,
		strconv.Itoa(r.Attempts),
		strconv.Itoa(r.Failures),
		u(r.WinnerShare),
		u(r.TreasuryShare),
		u(r.OperatorShare),
		u(r.RewardShare),
	}
}

// ExportSummary contains summary statistics for exported pools
type ExportSummary struct {
	TotalPools     int       `json:"total_pools"`
	TotalPot       uint64    `json:"total_pot"`
	TotalFees      int64     `json:"total_fee_lamports"`
	TotalFeesSOL   string    `json:"total_fee_sol"`
	AvgFeeLamports int64     `json:"avg_fee_lamports"`
	TotalFailures  int       `json:"total_failures"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
}

// PoolExporter writes finished-pool reports from the mirror.
type PoolExporter struct {
	reader Reader
	logger *zap.Logger
	now    func() time.Time
}

// NewPoolExporter creates a new exporter
func NewPoolExporter(reader Reader, logger *zap.Logger) *PoolExporter {
	return &PoolExporter{
		reader: reader,
		logger: logger.Named("export"),
		now:    time.Now,
	}
}

// Records loads finished pools in the window with their economics.
func (e *PoolExporter) Records(ctx context.Context, from, to time.Time) ([]PoolRecord, error) {
	pools, err := e.reader.ListEndedPools(ctx, from, to)
	if err != nil {
		return nil, err
	}

	records := make([]PoolRecord, 0, len(pools))
	for _, p := range pools {
		rec := PoolRecord{
			PoolID:   p.ID,
			Address:  p.Address,
			Winner:   p.Winner,
			TotalPot: p.TotalPot,
		}
		if p.EndedAt != nil {
			rec.EndedAt = *p.EndedAt
		}

		costs, err := e.reader.ListEconomics(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("pool %d economics: %w", p.ID, err)
		}
		for _, c := range costs {
			rec.FeeLamports += c.Lamports
			rec.Attempts += c.Attempts
			rec.Failures += c.Failures
		}
		rec.FeeSOL = economics.LamportsToSOL(rec.FeeLamports)

		allocations, err := e.reader.ListRewardAllocations(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("pool %d allocations: %w", p.ID, err)
		}
		for _, a := range allocations {
			switch a.Kind {
			case keeper.RewardKindWinner:
				rec.WinnerShare += a.Amount
			case keeper.RewardKindTreasury:
				rec.TreasuryShare += a.Amount
			case keeper.RewardKindOperator:
				rec.OperatorShare += a.Amount
			case keeper.RewardKindRewardPool:
				rec.RewardShare += a.Amount
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// Export writes the finished pools matching options and returns the file path.
func (e *PoolExporter) Export(ctx context.Context, options ExportOptions) (string, error) {
	records, err := e.Records(ctx, options.StartTime, options.EndTime)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", fmt.Errorf("no finished pools match the export criteria")
	}

	if err := os.MkdirAll(options.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	outputPath := filepath.Join(options.OutputDir,
		fmt.Sprintf("pools_%s.%s", e.now().Format("20060102_150405"), options.Format))

	switch options.Format {
	case FormatCSV:
		err = exportToCSV(records, outputPath)
	case FormatJSON:
		err = e.exportToJSON(records, outputPath)
	default:
		err = fmt.Errorf("unsupported format: %s", options.Format)
	}
	if err != nil {
		return "", err
	}

	e.logger.Info("Pools exported",
		zap.String("file", outputPath),
		zap.Int("count", len(records)),
		zap.String("format", string(options.Format)))
	return outputPath, nil
}

func exportToCSV(records []PoolRecord, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(CSVHeaders()); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, r := range records {
		if err := writer.Write(r.ToCSV()); err != nil {
			return fmt.Errorf("failed to write pool %d: %w", r.PoolID, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func (e *PoolExporter) exportToJSON(records []PoolRecord, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create JSON file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")

	exportData := struct {
		ExportTime time.Time     `json:"export_time"`
		PoolCount  int           `json:"pool_count"`
		Pools      []PoolRecord  `json:"pools"`
		Summary    ExportSummary `json:"summary"`
	}{
		ExportTime: e.now().UTC(),
		PoolCount:  len(records),
		Pools:      records,
		Summary:    Summarize(records),
	}
	if err := encoder.Encode(exportData); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// Summarize aggregates records; they are expected in ended_at order.
func Summarize(records []PoolRecord) ExportSummary {
	summary := ExportSummary{TotalPools: len(records)}
	if len(records) == 0 {
		summary.TotalFeesSOL = economics.LamportsToSOL(0)
		return summary
	}

	summary.StartDate = records[0].EndedAt
	summary.EndDate = records[len(records)-1].EndedAt
	for _, r := range records {
		summary.TotalPot += r.TotalPot
		summary.TotalFees += r.FeeLamports
		summary.TotalFailures += r.Failures
	}
	summary.TotalFeesSOL = economics.LamportsToSOL(summary.TotalFees)
	summary.AvgFeeLamports = summary.TotalFees / int64(len(records))
	return summary
}
