package train

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"
)

// CSVLogger logs per-epoch metrics to a CSV file.
type CSVLogger struct {
	BaseCallback
	Filename string
	Append   bool
	Log      *zap.Logger

	file   *os.File
	writer *csv.Writer
}

// NewCSVLogger creates a new CSVLogger.
func NewCSVLogger(filename string, append bool, log *zap.Logger) *CSVLogger {
	if log == nil {
		log = zap.NewNop()
	}
	return &CSVLogger{
		Filename: filename,
		Append:   append,
		Log:      log,
	}
}

func (c *CSVLogger) OnTrainBegin(r *Run) {
	mode := os.O_CREATE | os.O_WRONLY
	if c.Append {
		mode |= os.O_APPEND
	} else {
		mode |= os.O_TRUNC
	}

	file, err := os.OpenFile(c.Filename, mode, 0644)
	if err != nil {
		c.Log.Warn("csv logger: open failed", zap.String("file", c.Filename), zap.Error(err))
		return
	}
	c.file = file
	c.writer = csv.NewWriter(file)

	// Write header if not appending or if file is empty
	info, err := file.Stat()
	if err == nil && (info.Size() == 0 || !c.Append) {
		c.writer.Write([]string{"run", "epoch", "train_loss", "val_loss", "val_accuracy", "time_seconds"})
		c.writer.Flush()
	}
}

func (c *CSVLogger) OnEpochEnd(r *Run, m Metrics) {
	if c.writer == nil {
		return
	}

	record := []string{
		r.ID(),
		strconv.Itoa(m.Epoch),
		fmt.Sprintf("%.6f", m.TrainLoss),
		fmt.Sprintf("%.6f", m.ValLoss),
		fmt.Sprintf("%.4f", m.ValAccuracy),
		fmt.Sprintf("%.2f", m.Elapsed.Seconds()),
	}

	if err := c.writer.Write(record); err != nil {
		c.Log.Warn("csv logger: write failed", zap.Error(err))
	}
	c.writer.Flush()
}

func (c *CSVLogger) OnTrainEnd(*Run, *Result) {
	if c.file != nil {
		c.writer.Flush()
		c.file.Close()
		c.file = nil
		c.writer = nil
	}
}
