package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/richfilter/internal"
	"github.com/starford/richfilter/internal/filter"
	"github.com/starford/richfilter/internal/index"
	"github.com/starford/richfilter/internal/render"
	pkgconfig "github.com/starford/richfilter/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	load := pkgconfig.Load[internal.Config]
	if cmd.Name == "filter" {
		// One-shot filtering works without a config file.
		load = pkgconfig.LoadOptional[internal.Config]
	}
	if err := load(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg), internal.WithVersion(version)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.RunMCP(ctx, internal.WithConfig(cfg), internal.WithVersion(version)); err != nil {
		return fmt.Errorf("mcp run error: %w", err)
	}
	return nil
}

// filterOptions mirrors the flags of the filter command.
type filterOptions struct {
	Out    string
	Report bool
	HTML   bool
	Check  bool
}

// filterOnce sanitizes a single document from a file or stdin.
func filterOnce(_ context.Context, cmd *cli.Command) error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var data []byte
	if src := cmd.Args().First(); src != "" && src != "-" {
		data, err = os.ReadFile(src)
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	return runFilter(cfg.Filter, data, os.Stdout, os.Stderr, filterOptions{
		Out:    cmd.String("out"),
		Report: cmd.Bool("report"),
		HTML:   cmd.Bool("html"),
		Check:  cmd.Bool("check"),
	})
}

// runFilter sanitizes data and writes the result to opts.Out or stdout.
// With opts.Check it writes nothing and returns an exit code 2 error when
// the document would change.
func runFilter(cfg filter.Config, data []byte, stdout, stderr io.Writer, opts filterOptions) error {
	prep, err := index.Prepare(filter.New(cfg), opts.Out, data)
	if err != nil {
		return err
	}

	if opts.Report {
		enc := json.NewEncoder(stderr)
		enc.SetIndent("", "  ")
		if err := enc.Encode(prep.Report); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}

	if opts.Check {
		if prep.Changed {
			return cli.Exit(fmt.Sprintf("document needs sanitizing (%d rewrites)", prep.Report.Total()), 2)
		}
		return nil
	}

	body := prep.Data
	if opts.HTML {
		body = []byte(render.New().HTML(prep.Result.Snapshot))
	}

	if opts.Out != "" {
		if err := os.WriteFile(opts.Out, body, 0o644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		return nil
	}
	_, err = stdout.Write(body)
	return err
}

func main() {
	cmd := &cli.Command{
		Name:    "richfilter",
		Usage:   "Sanitize rich-text documents against an editor's capabilities",
		Version: version,
		Action:  serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API and watch the vault",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: serveMCP,
			},
			{
				Name:      "filter",
				Usage:     "Sanitize one document from a file or stdin",
				ArgsUsage: "[file]",
				Action:    filterOnce,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "out",
						Aliases: []string{"o"},
						Usage:   "Write to this file; its extension selects JSON or YAML",
					},
					&cli.BoolFlag{
						Name:  "report",
						Usage: "Print the change report to stderr",
					},
					&cli.BoolFlag{
						Name:  "html",
						Usage: "Emit the sanitized document as HTML",
					},
					&cli.BoolFlag{
						Name:  "check",
						Usage: "Exit with status 2 if the document would change",
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
