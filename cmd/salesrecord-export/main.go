// Command salesrecord-export writes one year of sales records as CSV or XLSX,
// reading the same store the server uses.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"salesrecord/internal/backend"
	"salesrecord/internal/cli"
	"salesrecord/internal/config"
	"salesrecord/internal/export"
	applog "salesrecord/internal/log"
	"salesrecord/internal/projection"
)

func main() {
	year := flag.Int("year", time.Now().Year(), "year to export")
	format := flag.String("format", "csv", "output format: csv or xlsx")
	out := flag.String("o", "", "output file (default: sales_<year>.<format>, - for stdout)")
	flag.Parse()

	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	// Logs go to stderr so stdout can carry the export.
	logger := applog.New(applog.Config{
		Level:     slog.LevelWarn,
		Format:    cfg.LogFormat,
		Component: applog.ComponentExport,
		Output:    os.Stderr,
	})

	if err := run(context.Background(), cfg, logger, *year, *format, *out); err != nil {
		logger.Error("Export failed", applog.FieldError, err, applog.FieldYear, *year)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *applog.Logger, year int, format, out string) error {
	if format != "csv" && format != "xlsx" {
		return fmt.Errorf("unsupported format %q", format)
	}

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	bcfg.AMQPURL = ""
	res, err := backend.NewFactory(logger.Slog()).CreateBackend(ctx, bcfg)
	if err != nil {
		return err
	}
	defer res.Close()

	snap, err := res.Store.Load(ctx, cfg.Collection)
	if err != nil {
		return fmt.Errorf("load %s: %w", cfg.Collection, err)
	}
	view := projection.Project(snap.List(), year)

	if out == "" {
		out = export.Filename(year, format)
	}
	var w io.Writer = os.Stdout
	if out != "-" {
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("create %s: %w", out, err)
		}
		defer f.Close()
		w = f
	}

	bw := bufio.NewWriter(w)
	if format == "xlsx" {
		err = export.WriteXLSX(bw, year, view.Filtered)
	} else {
		err = export.WriteDelimited(bw, view.Filtered)
	}
	if err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	if out != "-" {
		fmt.Fprintf(os.Stderr, "Wrote %d records to %s\n", len(view.Filtered), out)
	}
	return nil
}
