package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"TxnPipeline/internal/ports"
)

// GeneratorConfig sizes the synthetic daily feed.
type GeneratorConfig struct {
	RecordsPerDay int
	UpdateRatio   float64
	ProductCount  int
	CustomerCount int
}

var generatorStatuses = []string{"SUCCESS", "FAILED", "PENDING"}

// Generator writes a synthetic daily_transactions_<ts>.csv into the drop
// directory: a set of brand-new transactions plus a slice of the previous
// file's rows mutated with fresh amounts, statuses, and updated_at stamps.
// The mutated rows are what exercises the upsert path downstream.
type Generator struct {
	dataDir string
	cfg     GeneratorConfig
	rand    *rand.Rand
}

// NewGenerator builds a generator over the drop directory.
func NewGenerator(dataDir string, cfg GeneratorConfig) *Generator {
	if cfg.RecordsPerDay <= 0 {
		cfg.RecordsPerDay = 20
	}
	if cfg.UpdateRatio <= 0 {
		cfg.UpdateRatio = 0.2
	}
	if cfg.ProductCount <= 0 {
		cfg.ProductCount = 10
	}
	if cfg.CustomerCount <= 0 {
		cfg.CustomerCount = 100
	}
	return &Generator{
		dataDir: dataDir,
		cfg:     cfg,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Generate writes one day's file and returns its path.
func (g *Generator) Generate(now time.Time) (string, error) {
	if err := os.MkdirAll(g.dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}

	previous, err := g.loadPrevious()
	if err != nil {
		return "", err
	}

	rows := g.newTransactions(now)
	rows = append(rows, g.mutate(previous, now)...)

	name := fmt.Sprintf("daily_transactions_%s.csv", now.UTC().Format("2006-01-02_15-04-05"))
	path := filepath.Join(g.dataDir, name)

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", name, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(csvColumns); err != nil {
		return "", fmt.Errorf("write header: %w", err)
	}
	if err := writer.WriteAll(rows); err != nil {
		return "", fmt.Errorf("write rows: %w", err)
	}
	writer.Flush()
	return path, writer.Error()
}

func (g *Generator) newTransactions(now time.Time) [][]string {
	rows := make([][]string, 0, g.cfg.RecordsPerDay)
	for i := 0; i < g.cfg.RecordsPerDay; i++ {
		rows = append(rows, []string{
			uuid.NewString(),
			fmt.Sprintf("C%d", g.rand.Intn(g.cfg.CustomerCount)+1),
			fmt.Sprintf("P%d", g.rand.Intn(g.cfg.ProductCount)+1),
			g.randomAmount(),
			now.UTC().Format("2006-01-02"),
			generatorStatuses[g.rand.Intn(len(generatorStatuses))],
			now.UTC().Format(time.RFC3339Nano),
		})
	}
	return rows
}

// mutate re-emits a sample of previous rows with new amount, status, and
// updated_at, keeping id and date stable so they collide with existing facts.
func (g *Generator) mutate(previous [][]string, now time.Time) [][]string {
	if len(previous) == 0 {
		return nil
	}

	count := int(float64(len(previous)) * g.cfg.UpdateRatio)
	if count < 1 {
		count = 1
	}
	if count > len(previous) {
		count = len(previous)
	}

	picked := g.rand.Perm(len(previous))[:count]
	rows := make([][]string, 0, count)
	for _, idx := range picked {
		row := append([]string(nil), previous[idx]...)
		if len(row) != len(csvColumns) {
			continue
		}
		row[3] = g.randomAmount()
		row[5] = generatorStatuses[g.rand.Intn(len(generatorStatuses))]
		row[6] = now.UTC().Format(time.RFC3339Nano)
		rows = append(rows, row)
	}
	return rows
}

func (g *Generator) randomAmount() string {
	amount := 100 + g.rand.Float64()*4900
	return strconv.FormatFloat(amount, 'f', 2, 64)
}

// GeneratingFeed runs the synthetic generator before delegating to the real
// feed. Demo and test environments only.
type GeneratingFeed struct {
	generator *Generator
	next      ports.Feed
	logger    *slog.Logger
}

var _ ports.Feed = (*GeneratingFeed)(nil)

// NewGeneratingFeed decorates next with a generation step.
func NewGeneratingFeed(generator *Generator, next ports.Feed, logger *slog.Logger) *GeneratingFeed {
	if logger == nil {
		logger = slog.Default()
	}
	return &GeneratingFeed{generator: generator, next: next, logger: logger}
}

// Ingest writes one synthetic file, then ingests as usual.
func (f *GeneratingFeed) Ingest(ctx context.Context, now time.Time) (int, error) {
	if f.generator != nil {
		path, err := f.generator.Generate(now)
		if err != nil {
			return 0, fmt.Errorf("generate sample data: %w", err)
		}
		f.logger.Info("sample data generated", "file", filepath.Base(path))
	}
	return f.next.Ingest(ctx, now)
}

// loadPrevious reads the rows of the newest generated file, if any.
func (g *Generator) loadPrevious() ([][]string, error) {
	entries, err := os.ReadDir(g.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read data dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, "daily_transactions_") && strings.HasSuffix(name, ".csv") {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, nil
	}
	sort.Strings(names)

	file, err := os.Open(filepath.Join(g.dataDir, names[len(names)-1]))
	if err != nil {
		return nil, fmt.Errorf("open previous file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read previous file: %w", err)
	}
	if len(rows) <= 1 {
		return nil, nil
	}
	return rows[1:], nil
}
