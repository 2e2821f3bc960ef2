package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"CoinPull/internal/di"
	"CoinPull/internal/domain/models"
	"CoinPull/pkg/config"
	"CoinPull/pkg/util"
)

const usage = `usage: coinpull [-config path] <mode> [flags]

modes:
  serve                                   HTTP API, plus the scheduler when ingest.schedule_interval is set
  ingest-csv -file path [-snapshot time]  ingest one CSV export
  ingest-history [-ids a,b] [-days n]     ingest market charts (defaults from config)
  query [-ids a,b] [-start t] [-end t] [-limit n]
  reset                                   delete all stored rows
`

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()

	mode := "serve"
	args := flag.Args()
	if len(args) > 0 {
		mode, args = args[0], args[1:]
	}

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}
	defer cleanup()

	if mode == "serve" {
		if err := app.Run(); err != nil {
			log.Printf("app error: %v", err)
			cleanup()
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runOnce(ctx, app, mode, args); err != nil {
		log.Printf("%s failed: %v", mode, err)
		stop()
		cleanup()
		os.Exit(1)
	}
}

// appModes is the part of *server.App the one-shot modes drive.
type appModes interface {
	IngestCSV(ctx context.Context, path string, snapshot time.Time) (*models.IngestReport, error)
	IngestHistory(ctx context.Context, ids []string, days int) (*models.IngestReport, error)
	Query(ctx context.Context, ids []string, start, end *time.Time, limit int) ([]models.PriceRecord, error)
	Reset(ctx context.Context) error
}

func runOnce(ctx context.Context, app appModes, mode string, args []string) error {
	fs := flag.NewFlagSet(mode, flag.ContinueOnError)
	switch mode {
	case "ingest-csv":
		file := fs.String("file", "", "CSV file to ingest")
		snapshot := fs.String("snapshot", "", "snapshot time (RFC3339, date or unix seconds); default now")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *file == "" {
			return fmt.Errorf("-file is required")
		}
		var snap time.Time
		if *snapshot != "" {
			t, ok := util.ParseTime(*snapshot)
			if !ok {
				return fmt.Errorf("invalid -snapshot %q", *snapshot)
			}
			snap = t
		}
		report, err := app.IngestCSV(ctx, *file, snap)
		printJSON(report)
		return err

	case "ingest-history":
		ids := fs.String("ids", "", "comma separated asset ids; default ingest.assets")
		days := fs.Int("days", 0, "days of history; default ingest.history_days")
		if err := fs.Parse(args); err != nil {
			return err
		}
		report, err := app.IngestHistory(ctx, util.SplitList(*ids), *days)
		printJSON(report)
		return err

	case "query":
		ids := fs.String("ids", "", "comma separated asset ids; default all")
		start := fs.String("start", "", "inclusive lower bound")
		end := fs.String("end", "", "inclusive upper bound")
		limit := fs.Int("limit", 0, "max rows")
		if err := fs.Parse(args); err != nil {
			return err
		}
		s, ok := util.ParseTimePtr(*start)
		if !ok {
			return fmt.Errorf("invalid -start %q", *start)
		}
		e, ok := util.ParseTimePtr(*end)
		if !ok {
			return fmt.Errorf("invalid -end %q", *end)
		}
		rows, err := app.Query(ctx, util.SplitList(*ids), s, e, *limit)
		if err != nil {
			return err
		}
		printJSON(rows)
		return nil

	case "reset":
		return app.Reset(ctx)

	default:
		flag.Usage()
		return fmt.Errorf("unknown mode %q", mode)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
