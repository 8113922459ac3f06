package dataset

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestCSVRoundTrip(t *testing.T) {
	data, err := seeded().Generate(25)
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "readings.csv")
	if err := data.SaveCSV(path); err != nil {
		t.Fatalf("SaveCSV: %v", err)
	}
	got, err := LoadCSV(path)
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}

	if len(got) != len(data) {
		t.Fatalf("got %d samples, want %d", len(got), len(data))
	}
	for i := range data {
		if got[i].Features != data[i].Features || got[i].Label != data[i].Label {
			t.Errorf("sample %d: got %+v, want %+v", i, got[i], data[i])
		}
		if !got[i].CreatedAt.Equal(data[i].CreatedAt) {
			t.Errorf("sample %d: timestamp %v, want %v", i, got[i].CreatedAt, data[i].CreatedAt)
		}
	}
}

func TestWriteCSVHeader(t *testing.T) {
	var buf bytes.Buffer
	if err := (Dataset{}).WriteCSV(&buf); err != nil {
		t.Fatal(err)
	}
	want := "timestamp,temperature,vibration,pressure,speed,load,label\n"
	if buf.String() != want {
		t.Errorf("header = %q, want %q", buf.String(), want)
	}
}

func TestReadCSVRejects(t *testing.T) {
	const header = "timestamp,temperature,vibration,pressure,speed,load,label\n"
	const ts = "2024-03-01T12:00:00Z"
	tests := []struct {
		name    string
		input   string
		invalid bool
	}{
		{"empty", "", false},
		{"header only", header, false},
		{"wrong header", "time,temperature,vibration,pressure,speed,load,label\n", false},
		{"short row", header + ts + ",75,0.2,120,1800\n", false},
		{"bad timestamp", header + "yesterday,75,0.2,120,1800,85,0\n", false},
		{"bad number", header + ts + ",hot,0.2,120,1800,85,0\n", false},
		{"bad label", header + ts + ",75,0.2,120,1800,85,2\n", false},
		{"below absolute zero", header + ts + ",-300,0.2,120,1800,85,0\n", true},
		{"negative speed", header + ts + ",75,0.2,120,-1,85,0\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.input))
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := errors.Is(err, ErrInvalidInput); got != tt.invalid {
				t.Errorf("errors.Is(err, ErrInvalidInput) = %v, want %v (%v)", got, tt.invalid, err)
			}
		})
	}
}

func TestReadCSV(t *testing.T) {
	input := "timestamp,temperature,vibration,pressure,speed,load,label\n" +
		"2024-03-01T12:00:00Z,75,0.2,120,1800,85,0\n" +
		"2024-03-01T12:00:01Z,95,0.2,120,1800,85,1\n"
	d, err := ReadCSV(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if len(d) != 2 {
		t.Fatalf("got %d samples, want 2", len(d))
	}
	if d[0].Features != DefaultInput {
		t.Errorf("features = %v, want %v", d[0].Features, DefaultInput)
	}
	if d[1].Label != 1 || d[1].Features[Temperature] != 95 {
		t.Errorf("second sample = %+v", d[1])
	}
}
