package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openquant/backtest/internal/domain"
)

// DataLoader loads historical bar data for backtesting.
type DataLoader struct{}

// NewDataLoader creates a new data loader
func NewDataLoader() *DataLoader {
	return &DataLoader{}
}

// LoadFromCSV loads historical bar data from a CSV file and annotates gaps
// for the given timeframe.
// Expected CSV format: timestamp,open,high,low,close,volume
// timestamp can be a Unix timestamp (seconds or milliseconds) or RFC3339.
func (dl *DataLoader) LoadFromCSV(filename string, timeframe string) ([]domain.Bar, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Skip header if exists
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if _, err := strconv.ParseFloat(header[1], 64); err == nil {
		// First row is data, seek back
		file.Seek(0, 0)
		reader = csv.NewReader(file)
	}

	bars := make([]domain.Bar, 0)

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}

		if len(record) < 6 {
			continue // Skip invalid records
		}

		bar, err := dl.parseCSVRecord(record)
		if err != nil {
			continue // Skip invalid records
		}

		bars = append(bars, bar)
	}

	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})

	AnnotateGaps(bars, timeframe)
	return bars, nil
}

// parseCSVRecord parses a single CSV record into a Bar.
func (dl *DataLoader) parseCSVRecord(record []string) (domain.Bar, error) {
	timestamp, err := dl.parseTimestamp(record[0])
	if err != nil {
		return domain.Bar{}, err
	}

	open, err := decimal.NewFromString(record[1])
	if err != nil {
		return domain.Bar{}, fmt.Errorf("invalid open price: %w", err)
	}

	high, err := decimal.NewFromString(record[2])
	if err != nil {
		return domain.Bar{}, fmt.Errorf("invalid high price: %w", err)
	}

	low, err := decimal.NewFromString(record[3])
	if err != nil {
		return domain.Bar{}, fmt.Errorf("invalid low price: %w", err)
	}

	close, err := decimal.NewFromString(record[4])
	if err != nil {
		return domain.Bar{}, fmt.Errorf("invalid close price: %w", err)
	}

	volume, err := decimal.NewFromString(record[5])
	if err != nil {
		return domain.Bar{}, fmt.Errorf("invalid volume: %w", err)
	}

	return domain.Bar{
		Timestamp: timestamp,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    volume,
	}, nil
}

// parseTimestamp parses timestamp from string
// Supports Unix timestamp (seconds or milliseconds) and RFC3339 format
func (dl *DataLoader) parseTimestamp(s string) (time.Time, error) {
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil {
		// 13 digits is milliseconds, 10 is seconds
		if ts > 10000000000 {
			return time.Unix(ts/1000, (ts%1000)*1000000), nil
		}
		return time.Unix(ts, 0), nil
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}

	formats := []string{
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", s)
}

// AnnotateGaps marks bars whose predecessor is further away than 1.5× the
// timeframe duration. The engine logs and skips gap bars instead of failing
// the run.
func AnnotateGaps(bars []domain.Bar, timeframe string) {
	interval := domain.TimeframeDuration(timeframe)
	tolerance := interval + interval/2

	for i := 1; i < len(bars); i++ {
		if bars[i].Timestamp.Sub(bars[i-1].Timestamp) > tolerance {
			bars[i].Gap = true
		}
	}
}

// GenerateSampleData generates deterministic sample bars for testing and
// demos.
func (dl *DataLoader) GenerateSampleData(startTime time.Time, count int, basePrice float64, timeframe string) []domain.Bar {
	bars := make([]domain.Bar, 0, count)
	interval := domain.TimeframeDuration(timeframe)

	currentTime := startTime
	currentPrice := decimal.NewFromFloat(basePrice)

	for i := 0; i < count; i++ {
		// Deterministic zig-zag movement, ±0.5% per bar
		change := decimal.NewFromFloat((float64(i%10) - 5) * 0.001)
		open := currentPrice
		close := currentPrice.Add(currentPrice.Mul(change))

		high := decimal.Max(open, close).Mul(decimal.NewFromFloat(1.001))
		low := decimal.Min(open, close).Mul(decimal.NewFromFloat(0.999))
		volume := decimal.NewFromFloat(1000 + float64(i%500))

		bars = append(bars, domain.Bar{
			Timestamp: currentTime,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    volume,
		})

		currentTime = currentTime.Add(interval)
		currentPrice = close
	}

	return bars
}
