package main

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriteCampaignReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.csv")
	state := &CampaignState{
		RunID: "run-1",
		Queue: []QueueEntry{
			{Phone: "5511999998888", Status: StatusSent, Valid: true},
			{Phone: "5521988887777", Status: StatusFailed, Valid: true, Retries: 2, ErrorReason: "number not found"},
			{Phone: "987654", Status: StatusFailed, ErrorReason: "too short: missing area code"},
		},
	}

	require.NoError(t, WriteCampaignReport(path, state))

	rows := readCSV(t, path)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"phone", "status", "retries", "timestamp"}, rows[0])
	assert.Equal(t, "5511999998888", rows[1][0])
	assert.Equal(t, "sent", rows[1][1])
	assert.Equal(t, "failed: number not found", rows[2][1])
	assert.Equal(t, "2", rows[2][2])
	assert.Equal(t, "failed: too short: missing area code", rows[3][1])
}

func TestWriteExtractionReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extracted.csv")
	results := &ExtractionResults{
		Normal:   []string{"5511999998888", "5521988887777"},
		Archived: []string{"5531977776666"},
		Blocked:  []string{"5541966665555"},
	}

	require.NoError(t, WriteExtractionReport(path, results))

	rows := readCSV(t, path)
	require.Len(t, rows, 5)
	assert.Equal(t, []string{"number", "category"}, rows[0])
	assert.Equal(t, []string{"5511999998888", "normal"}, rows[1])
	assert.Equal(t, []string{"5521988887777", "normal"}, rows[2])
	assert.Equal(t, []string{"5531977776666", "archived"}, rows[3])
	assert.Equal(t, []string{"5541966665555", "blocked"}, rows[4])
}

func TestWriteCampaignReportBadPath(t *testing.T) {
	err := WriteCampaignReport(filepath.Join(t.TempDir(), "missing", "report.csv"), &CampaignState{})
	assert.Error(t, err)
}
