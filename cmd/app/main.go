package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/linkledger/internal"
	"github.com/starford/linkledger/internal/linkservice"
	pkgconfig "github.com/starford/linkledger/pkg/config"
)

var version = "dev"

func options(cmd *cli.Command) ([]internal.Option, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, opts...)
}

// oneShot runs fn against the configured ledger and prints its result.
func oneShot(fn func(context.Context, *cli.Command, *linkservice.Service) (any, error)) func(context.Context, *cli.Command) error {
	return func(ctx context.Context, cmd *cli.Command) error {
		opts, err := options(cmd)
		if err != nil {
			return err
		}
		return internal.Exec(ctx, func(ctx context.Context, svc *linkservice.Service) error {
			out, err := fn(ctx, cmd, svc)
			if err != nil {
				return err
			}
			if s, ok := out.(string); ok {
				_, err = fmt.Fprint(os.Stdout, s)
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}, opts...)
	}
}

func show(ctx context.Context, cmd *cli.Command, svc *linkservice.Service) (any, error) {
	if cmd.Bool("json") {
		return svc.Ledger(ctx)
	}
	content, _, err := svc.RawLedger(ctx)
	return string(content), err
}

func add(ctx context.Context, cmd *cli.Command, svc *linkservice.Service) (any, error) {
	return svc.AddLink(ctx, linkservice.AddLinkRequest{
		URL:         cmd.String("url"),
		Title:       cmd.String("title"),
		Description: cmd.String("description"),
		Category:    cmd.String("category"),
	})
}

func remove(ctx context.Context, cmd *cli.Command, svc *linkservice.Service) (any, error) {
	return svc.DeleteLink(ctx, linkservice.DeleteLinkRequest{
		URL:   cmd.String("url"),
		Title: cmd.String("title"),
	})
}

func repair(ctx context.Context, _ *cli.Command, svc *linkservice.Service) (any, error) {
	return svc.Repair(ctx)
}

func main() {
	cmd := &cli.Command{
		Name:    "linkledger",
		Usage:   "Categorized link list kept in a single Markdown document with optimistic-concurrency sync",
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
				Usage:  "Run the HTTP API",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools on stdin/stdout",
				Action: mcp,
			},
			{
				Name:   "show",
				Usage:  "Print the ledger",
				Action: oneShot(show),
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "Print the parsed ledger as JSON"},
				},
			},
			{
				Name:   "add",
				Usage:  "Add a link",
				Action: oneShot(add),
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "url", Aliases: []string{"u"}, Required: true},
					&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Required: true},
					&cli.StringFlag{Name: "description", Aliases: []string{"d"}},
					&cli.StringFlag{Name: "category", Aliases: []string{"C"}},
				},
			},
			{
				Name:   "delete",
				Usage:  "Delete the first link matching url or title",
				Action: oneShot(remove),
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "url", Aliases: []string{"u"}},
					&cli.StringFlag{Name: "title", Aliases: []string{"t"}},
				},
			},
			{
				Name:   "repair",
				Usage:  "Remove duplicate links",
				Action: oneShot(repair),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
