package clean

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, rows int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.WriteString("id,name\n")
	require.NoError(t, err)
	for i := 0; i < rows; i++ {
		_, err := f.WriteString("1,a\n")
		require.NoError(t, err)
	}
	return path
}

func TestChunkSplitter_Split_EmptyFile(t *testing.T) {
	path := writeCSV(t, 0)

	chunks, err := NewChunkSplitter().Split(path, 4)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunkSplitter_Split_FewerRowsThanWorkers(t *testing.T) {
	path := writeCSV(t, 2)

	chunks, err := NewChunkSplitter().Split(path, 4)
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
	for _, c := range chunks {
		assert.Equal(t, 1, c.RowCount)
	}
}

func TestChunkSplitter_Split_BalancedSpread(t *testing.T) {
	path := writeCSV(t, 1003)

	chunks, err := NewChunkSplitter().Split(path, 4)
	require.NoError(t, err)
	assert.Len(t, chunks, 4)

	total := 0
	minRows, maxRows := chunks[0].RowCount, chunks[0].RowCount
	for _, c := range chunks {
		total += c.RowCount
		if c.RowCount < minRows {
			minRows = c.RowCount
		}
		if c.RowCount > maxRows {
			maxRows = c.RowCount
		}
	}
	assert.Equal(t, 1003, total)
	assert.LessOrEqual(t, maxRows-minRows, 1)
}

func TestChunkSplitter_Split_ContiguousNoOverlap(t *testing.T) {
	path := writeCSV(t, 10)

	chunks, err := NewChunkSplitter().Split(path, 3)
	require.NoError(t, err)

	next := 0
	for _, c := range chunks {
		assert.Equal(t, next, c.StartRow)
		next = c.EndRow
	}
	assert.Equal(t, 10, next)
}
