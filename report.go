package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"
)

// WriteCampaignReport writes the per-entry outcome of a campaign run:
// one row of (phone, status, retries, timestamp) per queue entry, stamped
// with the run ID in a leading comment-style header row.
func WriteCampaignReport(filePath string, state *CampaignState) error {
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"phone", "status", "retries", "timestamp"}); err != nil {
		return fmt.Errorf("failed to write report header: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	for _, entry := range state.Queue {
		status := string(entry.Status)
		if entry.ErrorReason != "" {
			status = status + ": " + entry.ErrorReason
		}
		record := []string{
			entry.Phone,
			status,
			strconv.Itoa(entry.Retries),
			timestamp,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write report record: %w", err)
		}
	}

	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush report: %w", err)
	}
	Logf("info", "Campaign report written to %s (run %s, %d entries)", filePath, state.RunID, len(state.Queue))
	return nil
}

// WriteExtractionReport writes the categorized extraction results as
// (number, category) rows.
func WriteExtractionReport(filePath string, results *ExtractionResults) error {
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create extraction report: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"number", "category"}); err != nil {
		return fmt.Errorf("failed to write extraction header: %w", err)
	}

	write := func(numbers []string, category string) error {
		for _, number := range numbers {
			if err := writer.Write([]string{number, category}); err != nil {
				return err
			}
		}
		return nil
	}
	if err := write(results.Normal, string(TypeNormal)); err != nil {
		return fmt.Errorf("failed to write extraction rows: %w", err)
	}
	if err := write(results.Archived, string(TypeArchived)); err != nil {
		return fmt.Errorf("failed to write extraction rows: %w", err)
	}
	if err := write(results.Blocked, string(TypeBlocked)); err != nil {
		return fmt.Errorf("failed to write extraction rows: %w", err)
	}

	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush extraction report: %w", err)
	}
	Logf("info", "Extraction results written to %s", filePath)
	return nil
}
