// Command train runs one training session in the terminal and scores the
// default sensor reading with the resulting model.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/FlavioCFOliveira/FailSight/failsight"
	"github.com/FlavioCFOliveira/FailSight/internal/config"
	"github.com/FlavioCFOliveira/FailSight/internal/dataset"
	"github.com/FlavioCFOliveira/FailSight/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration")
	samples := flag.Int("samples", 0, "number of synthetic samples (overrides config)")
	epochs := flag.Int("epochs", 0, "number of epochs (overrides config)")
	seed := flag.Uint64("seed", 0, "random seed (overrides config; 0 keeps it)")
	dataPath := flag.String("data", "", "train on readings from this CSV instead of synthesizing them")
	exportPath := flag.String("export", "", "write the training readings to this CSV")
	preview := flag.Int("preview", 10, "preview rows to print")
	verbose := flag.Bool("v", false, "log at debug level")
	flag.Parse()

	opts := options{
		configPath: *configPath,
		dataPath:   *dataPath,
		exportPath: *exportPath,
		samples:    *samples,
		epochs:     *epochs,
		seed:       *seed,
		preview:    *preview,
		verbose:    *verbose,
	}
	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, "train:", err)
		os.Exit(1)
	}
}

type options struct {
	configPath, dataPath, exportPath string
	samples, epochs, preview         int
	seed                             uint64
	verbose                          bool
}

func run(o options) error {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return err
		}
	}
	if o.samples > 0 {
		cfg.Training.Samples = o.samples
	}
	if o.epochs > 0 {
		cfg.Training.Epochs = o.epochs
	}
	if o.seed != 0 {
		cfg.Training.Seed = o.seed
	}
	// progress is printed below; keep the log for warnings
	cfg.Training.LogInterval = 0
	cfg.Log.Format, cfg.Log.Level, cfg.Log.File = "console", "warn", ""
	if o.verbose {
		cfg.Log.Level = "debug"
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Close()

	svc, err := failsight.New(cfg, failsight.WithLogger(logger.Logger))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("=============================================================")
	fmt.Println("  FailSight - Predictive Failure Classifier")
	fmt.Println("=============================================================")
	fmt.Println()

	var data failsight.Dataset
	if o.dataPath != "" {
		data, err = dataset.LoadCSV(o.dataPath)
		fmt.Printf("Loaded %d readings from %s\n", len(data), o.dataPath)
	} else {
		data, err = svc.Synthesize()
	}
	if err != nil {
		return err
	}
	if o.exportPath != "" {
		if err := data.SaveCSV(o.exportPath); err != nil {
			return err
		}
		fmt.Printf("Readings saved to %s\n", o.exportPath)
	}
	fmt.Printf("Failure rate: %.2f%%\n", data.FailureRate()*100)

	session, err := svc.TrainOn(ctx, data)
	if err != nil {
		return err
	}
	snap := session.Snapshot()
	fmt.Printf("Samples: %d (train %d, validation %d)\n", len(data), snap.TrainSize, snap.ValidationSize)
	fmt.Printf("Epochs: %d, batch size %d, optimizer %s (lr=%g)\n",
		cfg.Training.Epochs, cfg.Training.BatchSize, cfg.Training.Optimizer, cfg.Training.LearningRate)
	fmt.Println()
	fmt.Println("Training progress:")

	for m := range session.Progress() {
		fmt.Printf("  Epoch %3d/%d  loss %.4f  val_loss %.4f  val_acc %.2f%%  [%s]\n",
			m.Epoch, m.Epochs, m.TrainLoss, m.ValLoss, m.ValAccuracy*100, m.Elapsed.Round(time.Millisecond))
	}

	res, err := session.Wait(context.Background())
	if err != nil {
		return err
	}
	fmt.Println()
	if res.Err != nil {
		return fmt.Errorf("run %s %s: %w", res.RunID, res.Status, res.Err)
	}

	sum := res.Summary()
	fmt.Println("--- Model Summary ---")
	fmt.Printf("Accuracy: %.2f%%\n", sum.Accuracy)
	fmt.Printf("Loss: %.4f\n", sum.Loss)
	fmt.Printf("Epochs: %d\n", sum.Epochs)
	fmt.Printf("Training time: %s\n", sum.TrainingTime.Round(time.Millisecond))
	fmt.Println()
	if err := svc.SummarizeModel(os.Stdout); err != nil {
		return err
	}
	fmt.Println()

	if n := min(o.preview, len(res.Preview)); n > 0 {
		fmt.Println("--- Preview (fresh samples) ---")
		fmt.Printf("%-8s %-10s %s\n", "actual", "predicted", "features")
		for _, c := range res.Preview[:n] {
			fmt.Printf("%-8d %-10.4f %s\n", c.Actual, c.Predicted, formatFeatures(c.Features))
		}
		fmt.Println()
	}

	pred, err := svc.Predict(ctx, failsight.DefaultInput[:])
	if err != nil {
		return err
	}
	fmt.Println("--- Prediction for default input ---")
	fmt.Println(formatFeatures(failsight.DefaultInput))
	fmt.Printf("Failure probability: %.2f%%\n", pred.Probability*100)
	fmt.Printf("Risk level: %s\n", strings.ToUpper(pred.RiskLevel.String()))
	fmt.Printf("Confidence: %.2f%%\n", pred.Confidence*100)
	return nil
}

func formatFeatures(f dataset.Features) string {
	parts := make([]string, dataset.NumFeatures)
	for i, spec := range dataset.Specs {
		parts[i] = fmt.Sprintf("%s=%g%s", spec.Name, f[i], spec.Unit)
	}
	return strings.Join(parts, " ")
}
