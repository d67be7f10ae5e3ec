// Package codec reads and writes observation exports in the formats the
// file and object-store backends accept.
package codec

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/models"
)

// FormatFromPath infers the export format from a file extension
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return constants.OutputFormatCSV
	default:
		return constants.OutputFormatJSON
	}
}

// DecodeObservations parses a JSON or CSV export. JSON may be a bare array
// or an object with an "observations" array. CSV needs a header naming the
// timestamp, value and category columns in any order.
func DecodeObservations(r io.Reader, format string) ([]models.Observation, error) {
	switch format {
	case constants.OutputFormatCSV:
		return decodeCSV(r)
	case constants.OutputFormatJSON, "":
		return decodeJSON(r)
	default:
		return nil, fmt.Errorf("unsupported observation format: %s", format)
	}
}

// EncodeObservations writes observations in the given format
func EncodeObservations(w io.Writer, observations []models.Observation, format string) error {
	switch format {
	case constants.OutputFormatCSV:
		writer := csv.NewWriter(w)
		if err := writer.Write([]string{"timestamp", "value", "category"}); err != nil {
			return err
		}
		for _, obs := range observations {
			record := []string{
				obs.Timestamp.UTC().Format(time.RFC3339Nano),
				strconv.FormatFloat(obs.Value, 'f', -1, 64),
				obs.Category,
			}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
		writer.Flush()
		return writer.Error()
	case constants.OutputFormatJSON, "":
		return json.NewEncoder(w).Encode(observations)
	default:
		return fmt.Errorf("unsupported observation format: %s", format)
	}
}

type observationEnvelope struct {
	Observations []models.Observation `json:"observations"`
}

func decodeJSON(r io.Reader) ([]models.Observation, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read observations: %w", err)
	}

	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var observations []models.Observation
		if err := json.Unmarshal(data, &observations); err != nil {
			return nil, fmt.Errorf("failed to decode observations: %w", err)
		}
		return observations, nil
	}

	var envelope observationEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode observations: %w", err)
	}
	return envelope.Observations, nil
}

func decodeCSV(r io.Reader) ([]models.Observation, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return []models.Observation{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	columns := map[string]int{"timestamp": -1, "value": -1, "category": -1}
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, ok := columns[key]; ok {
			columns[key] = i
		}
	}
	for name, idx := range columns {
		if idx < 0 {
			return nil, fmt.Errorf("CSV header is missing the %q column", name)
		}
	}

	observations := make([]models.Observation, 0)
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV line %d: %w", line, err)
		}

		ts, err := models.ParseTimestamp(record[columns["timestamp"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(record[columns["value"]]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid value: %w", line, err)
		}

		observations = append(observations, models.Observation{
			Timestamp: ts,
			Value:     value,
			Category:  record[columns["category"]],
		})
	}

	return observations, nil
}
