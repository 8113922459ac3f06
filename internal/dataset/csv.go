package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// csvHeader is the column layout written by WriteCSV and expected by ReadCSV.
var csvHeader = []string{"timestamp", "temperature", "vibration", "pressure", "speed", "load", "label"}

// WriteCSV writes d with a header row. Timestamps are RFC 3339.
func (d Dataset) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	row := make([]string, len(csvHeader))
	for _, s := range d {
		row[0] = s.CreatedAt.UTC().Format(time.RFC3339Nano)
		for j, v := range s.Features {
			row[1+j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		row[len(row)-1] = strconv.Itoa(s.Label)
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV reads samples written by WriteCSV. Every feature is checked
// against its physical domain and labels must be 0 or 1.
func ReadCSV(r io.Reader) (Dataset, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(csvHeader)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("dataset: csv is empty")
		}
		return nil, fmt.Errorf("dataset: csv header: %w", err)
	}
	for i, name := range csvHeader {
		if header[i] != name {
			return nil, fmt.Errorf("dataset: csv column %d is %q, want %q", i+1, header[i], name)
		}
	}

	var d Dataset
	values := make([]float64, NumFeatures)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("dataset: csv: %w", err)
		}

		ts, err := time.Parse(time.RFC3339Nano, rec[0])
		if err != nil {
			return nil, fmt.Errorf("dataset: csv line %d: timestamp: %w", line, err)
		}
		for j := range values {
			if values[j], err = strconv.ParseFloat(rec[1+j], 64); err != nil {
				return nil, fmt.Errorf("dataset: csv line %d: %s: %w", line, Specs[j].Name, err)
			}
		}
		f, err := Validate(values)
		if err != nil {
			return nil, fmt.Errorf("dataset: csv line %d: %w", line, err)
		}
		label, err := strconv.Atoi(rec[len(rec)-1])
		if err != nil || (label != 0 && label != 1) {
			return nil, fmt.Errorf("dataset: csv line %d: label %q is not 0 or 1", line, rec[len(rec)-1])
		}
		d = append(d, Sample{Features: f, Label: label, CreatedAt: ts})
	}
	if len(d) == 0 {
		return nil, errors.New("dataset: csv has no data rows")
	}
	return d, nil
}

// LoadCSV reads a dataset file.
func LoadCSV(path string) (Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// SaveCSV writes d to path, replacing any existing file.
func (d Dataset) SaveCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("dataset: %w", err)
	}
	if err := d.WriteCSV(f); err != nil {
		f.Close()
		return fmt.Errorf("dataset: write %s: %w", path, err)
	}
	return f.Close()
}
