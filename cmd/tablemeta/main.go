package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/akmistry/tablemeta/internal/catalog"
	"github.com/akmistry/tablemeta/internal/config"
	"github.com/akmistry/tablemeta/internal/storage"
	"github.com/akmistry/tablemeta/internal/table"
)

var (
	configFlag  string
	verboseFlag bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "tablemeta",
	Short: "Inspect and update versioned table metadata",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verboseFlag {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(
			os.Stderr, &slog.HandlerOptions{Level: level})))

		if configFlag == "" {
			cfg = config.Default()
			return nil
		}
		var err error
		cfg, err = config.LoadFromFile(configFlag)
		return err
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "YAML config file")
	rootCmd.PersistentFlags().BoolVar(&verboseFlag, "verbose", false, "Verbose logging")

	rootCmd.AddCommand(createCmd, listCmd, dropCmd, showCmd, historyCmd,
		appendCmd, setPropertyCmd, serveMetricsCmd)
}

type env struct {
	catalog catalog.Catalog
	io      storage.FileIO
	close   func()
}

func openEnv(ctx context.Context) (*env, error) {
	cat, closeCat, err := cfg.OpenCatalog(ctx, slog.Default())
	if err != nil {
		return nil, err
	}
	fio, err := cfg.OpenFileIO()
	if err != nil {
		closeCat()
		return nil, err
	}
	return &env{catalog: cat, io: fio, close: closeCat}, nil
}

func (e *env) open(ctx context.Context, name string) (*table.Operations, error) {
	return table.Open(ctx, e.catalog, e.io, name, slog.Default())
}

// parseKeyValues parses "k=v" arguments.
func parseKeyValues(args []string) (map[string]string, error) {
	kv := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid property %q, expected key=value", arg)
		}
		kv[k] = v
	}
	return kv, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
