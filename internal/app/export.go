package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"validator-watch/internal/storage"
)

// defaultExportWindow applies when --from is omitted.
const defaultExportWindow = 30 * 24 * time.Hour

// Export renders a validator's balance history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.VoteAddress == "" {
		return errors.New("a vote account is required")
	}
	if opts.Kind == "" {
		opts.Kind = storage.BalanceIdentity
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-defaultExportWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	store, closeStore, err := a.requireStore(ctx, "export")
	if err != nil {
		return err
	}
	defer closeStore()

	samples, err := store.ListBalanceSamples(ctx, opts.VoteAddress, opts.Kind, from, to)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		a.Logger.Info().Str("vote_address", opts.VoteAddress).Msg("no balance samples found for export window")
		return nil
	}

	downsampled := downsampleSamples(samples, opts.MaxPoints)
	a.Logger.Info().Int("total", len(samples)).Int("exported", len(downsampled)).Msg("exporting balance samples")

	if opts.CSVPath != "" {
		if err := writeSamplesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSamplesPNG(opts.PNGPath, opts.VoteAddress, opts.Kind, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleSamples(samples []storage.BalanceSample, max int) []storage.BalanceSample {
	if max <= 0 || len(samples) <= max {
		return samples
	}
	if max == 1 {
		return samples[len(samples)-1:]
	}

	result := make([]storage.BalanceSample, 0, max)
	step := float64(len(samples)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		result = append(result, samples[idx])
	}
	return result
}

func writeSamplesCSV(path string, samples []storage.BalanceSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"sampled_at", "network", "vote_address", "kind", "address", "balance_sol"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, sample := range samples {
		record := []string{
			sample.SampledAt.UTC().Format(time.RFC3339),
			string(sample.Network),
			sample.VoteAddress,
			string(sample.Kind),
			sample.Address,
			sample.BalanceSOL.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeSamplesPNG(path, voteAddress string, kind storage.BalanceKind, samples []storage.BalanceSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(samples))
	balance := make([]float64, len(samples))
	for i, sample := range samples {
		x[i] = sample.SampledAt
		balance[i] = sample.BalanceSOL.InexactFloat64()
	}

	solFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.3f")
	}
	graph := chart.Chart{
		Title:  fmt.Sprintf("%s balance of %s", kind, voteAddress),
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Balance (SOL)",
			ValueFormatter: solFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Balance",
				XValues: x,
				YValues: balance,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
