package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"icscsv/internal/config"
	"icscsv/internal/convert"
	"icscsv/internal/export"
	"icscsv/internal/ics"
	appLog "icscsv/internal/log"
	"icscsv/internal/metric"
	"icscsv/internal/model"
	"icscsv/internal/web"
)

const version = "0.1.0"

func main() {
	// .env is optional.
	_ = godotenv.Load()

	if err := newApp().Run(os.Args); err != nil {
		appLog.Error("icscsv failed", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "icscsv",
		Usage:   "Convert iCalendar (.ics) files and feeds to CSV.",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "debug, info, warn or error",
				EnvVars: []string{"ICSCSV_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "cache-dir",
				Value:   "./var/ics-cache",
				Usage:   "cache directory for URL inputs",
				EnvVars: []string{"ICSCSV_CACHE_DIR"},
			},
		},
		Before: func(c *cli.Context) error {
			appLog.SetLevel(appLog.ParseLevel(c.String("log-level")))
			return nil
		},
		Commands: []*cli.Command{
			convertCommand(),
			previewCommand(),
			inspectCommand(),
			exportCommand(),
			serveCommand(),
		},
	}
}

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   "./icscsv.yaml",
		Usage:   "path to the YAML config (created with defaults if missing)",
		EnvVars: []string{"ICSCSV_CONFIG"},
	}
}

func convertCommand() *cli.Command {
	return &cli.Command{
		Name:      "convert",
		Usage:     "Convert a calendar file or URL to CSV.",
		ArgsUsage: "<file.ics|url>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "output file (default: input name with .csv)"},
			&cli.BoolFlag{Name: "stdout", Usage: "write CSV to stdout instead of a file"},
			&cli.BoolFlag{Name: "no-bom", Usage: "omit the UTF-8 byte-order mark from the output file"},
		},
		Action: func(c *cli.Context) error {
			start := time.Now()
			in, events, err := load(c)
			if err != nil {
				result := metric.ResultError
				if errors.Is(err, ics.ErrNoEvents) {
					result = metric.ResultNoEvents
				}
				metric.ObserveConversion(metric.SourceCLI, result, 0, start)
				return err
			}
			csvText := convert.ToCSV(events)
			metric.ObserveConversion(metric.SourceCLI, metric.ResultOK, len(events), start)

			if c.Bool("stdout") {
				_, err := io.WriteString(c.App.Writer, csvText+"\n")
				return err
			}

			out := []byte(csvText)
			if !c.Bool("no-bom") {
				if out, err = convert.WithBOM(csvText); err != nil {
					return err
				}
			}
			path := c.String("output")
			if path == "" {
				path = convert.Filename(in.Name)
			}
			if err := os.WriteFile(path, out, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			appLog.Info("converted", "input", in.Name, "output", path, "event_count", len(events), "from_cache", in.FromCache)
			return nil
		},
	}
}

func previewCommand() *cli.Command {
	return &cli.Command{
		Name:      "preview",
		Usage:     "Show the first events of a calendar as a table.",
		ArgsUsage: "<file.ics|url>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "rows", Aliases: []string{"n"}, Value: 5, Usage: "number of events to show"},
		},
		Action: func(c *cli.Context) error {
			_, events, err := load(c)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TITLE\tSTART\tEND\tLOCATION")
			n := min(max(c.Int("rows"), 0), len(events))
			for _, ev := range events[:n] {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ev.Summary, ev.DTStart, ev.DTEnd, ev.Location)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if n < len(events) {
				fmt.Fprintf(c.App.Writer, "... and %d more events\n", len(events)-n)
			}
			return nil
		},
	}
}

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Print calendar metadata as JSON.",
		ArgsUsage: "<file.ics|url>",
		Action: func(c *cli.Context) error {
			in, err := open(c)
			if err != nil {
				return err
			}
			info, err := ics.Inspect(in.Body)
			if err != nil {
				return err
			}
			out := struct {
				ics.CalendarInfo
				File   string `json:"file"`
				Events int    `json:"events"`
			}{info, in.Name, len(ics.Parse(ics.DecodeText(in.Body)))}

			enc := json.NewEncoder(c.App.Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export every configured feed to CSV once and exit.",
		Flags: []cli.Flag{configFlag()},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			sources := cfg.Sources()
			if len(sources) == 0 {
				return errors.New("no feeds configured")
			}
			return export.FromConfig(cfg).RunOnce(c.Context, sources)
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP converter and the scheduled feed exporter.",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{Name: "listen", Usage: "HTTP listen address (overrides config)", EnvVars: []string{"ICSCSV_LISTEN"}},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if l := c.String("listen"); l != "" {
				cfg.Listen = l
			}

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			exp := export.FromConfig(cfg)
			if sources := cfg.Sources(); len(sources) > 0 {
				// First export right away; the schedule takes over after that.
				go func() {
					if err := exp.RunOnce(ctx, sources); err != nil {
						appLog.Error("initial export finished with errors", err)
					}
				}()
				if _, err := exp.Schedule(ctx, cfg.RefreshCron, sources); err != nil {
					return err
				}
			}

			err = web.NewServer(cfg, exp).Run(ctx)
			appLog.Info("icscsv exiting")
			return err
		},
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	// The global flag wins only when it was set explicitly.
	if !c.IsSet("log-level") {
		appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	}
	appLog.Info("effective config",
		"config_path", path,
		"listen", cfg.Listen,
		"refresh", cfg.RefreshCron,
		"output_dir", cfg.OutputDir,
		"feeds", len(cfg.Feeds),
		"write_bom", cfg.WriteBOM,
	)
	return cfg, nil
}

// open acquires the single positional argument as a file path or URL.
func open(c *cli.Context) (ics.Input, error) {
	if c.NArg() != 1 {
		return ics.Input{}, fmt.Errorf("expected exactly one input, got %d", c.NArg())
	}
	input := c.Args().First()
	return ics.Open(c.Context, ics.NewFetcher(c.String("cache-dir")), input)
}

// load acquires and parses the input, treating an empty calendar as an error.
func load(c *cli.Context) (ics.Input, []model.Event, error) {
	in, err := open(c)
	if err != nil {
		return in, nil, err
	}
	events := ics.Parse(ics.DecodeText(in.Body))
	if len(events) == 0 {
		name := in.Name
		if name == "" {
			name = "input"
		}
		return in, nil, fmt.Errorf("%s: %w", name, ics.ErrNoEvents)
	}
	return in, events, nil
}
