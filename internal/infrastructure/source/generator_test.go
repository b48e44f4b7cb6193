package source

import (
	"encoding/csv"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestGeneratorWritesDailyFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	gen := NewGenerator(dir, GeneratorConfig{RecordsPerDay: 5})

	path, err := gen.Generate(time.Date(2026, 1, 14, 6, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	rows := readRows(t, path)
	require.Len(t, rows, 6, "header plus five records")
	assert.Equal(t, csvColumns, rows[0])

	for _, row := range rows[1:] {
		require.Len(t, row, len(csvColumns))
		assert.NotEmpty(t, row[0])
		assert.Equal(t, "2026-01-14", row[4])
	}
}

func TestGeneratorMutatesPreviousDay(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	gen := NewGenerator(dir, GeneratorConfig{RecordsPerDay: 10, UpdateRatio: 0.2})

	first, err := gen.Generate(time.Date(2026, 1, 14, 6, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	second, err := gen.Generate(time.Date(2026, 1, 15, 6, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	firstIDs := map[string]bool{}
	for _, row := range readRows(t, first)[1:] {
		firstIDs[row[0]] = true
	}

	secondRows := readRows(t, second)[1:]
	require.Len(t, secondRows, 12, "ten new records plus two mutated replays")

	replayed := 0
	for _, row := range secondRows {
		if firstIDs[row[0]] {
			replayed++
			assert.Equal(t, "2026-01-15T06:00:00Z", row[6],
				"mutated rows carry a fresh updated_at")
		}
	}
	assert.Equal(t, 2, replayed)
}
