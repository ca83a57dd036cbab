package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/akmistry/tablemeta/internal/metadata"
	"github.com/akmistry/tablemeta/internal/table"
	"github.com/akmistry/tablemeta/internal/util"
)

const defaultMetricsListen = "localhost:9090"

var (
	createColumns    []string
	createPartitions []string
	createLocation   string
	createProps      []string
)

// Columns are name:type[:required], e.g. "id:long:required".
func parseColumns(specs []string) (metadata.Schema, error) {
	var schema metadata.Schema
	for i, spec := range specs {
		parts := strings.Split(spec, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
			return schema, fmt.Errorf("invalid column %q, expected name:type[:required]", spec)
		}
		f := metadata.Field{ID: i + 1, Name: parts[0], Type: metadata.Type(parts[1])}
		if len(parts) == 3 {
			if parts[2] != "required" {
				return schema, fmt.Errorf("invalid column %q, expected name:type[:required]", spec)
			}
			f.Required = true
		}
		schema.Fields = append(schema.Fields, f)
	}
	return schema, nil
}

// Partition fields are column:transform, e.g. "ts:day".
func parsePartitions(schema metadata.Schema, specs []string) (metadata.PartitionSpec, error) {
	var spec metadata.PartitionSpec
	for i, s := range specs {
		col, transform, ok := strings.Cut(s, ":")
		if !ok || transform == "" {
			return spec, fmt.Errorf("invalid partition %q, expected column:transform", s)
		}
		sourceID := -1
		for _, f := range schema.Fields {
			if f.Name == col {
				sourceID = f.ID
			}
		}
		if sourceID < 0 {
			return spec, fmt.Errorf("partition column %q not in schema", col)
		}
		spec.Fields = append(spec.Fields, metadata.PartitionField{
			SourceID:  sourceID,
			FieldID:   metadata.PartitionFieldIDStart + i,
			Name:      col + "_" + transform,
			Transform: transform,
		})
	}
	return spec, nil
}

var createCmd = &cobra.Command{
	Use:   "create <table>",
	Short: "Create a table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		schema, err := parseColumns(createColumns)
		if err != nil {
			return err
		}
		spec, err := parsePartitions(schema, createPartitions)
		if err != nil {
			return err
		}
		props, err := parseKeyValues(createProps)
		if err != nil {
			return err
		}
		location := createLocation
		if location == "" {
			location = strings.ReplaceAll(name, ".", "/")
		}
		m, err := metadata.New(location, schema, spec, props)
		if err != nil {
			return err
		}

		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()
		o, err := table.Create(cmd.Context(), e.catalog, e.io, name, m, slog.Default())
		if err != nil {
			return err
		}
		fmt.Println(o.Current().MetadataFileLocation())
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()
		names, err := e.catalog.List(cmd.Context())
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

var dropCmd = &cobra.Command{
	Use:   "drop <table>",
	Short: "Remove a table from the catalog, keeping its metadata files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()
		return e.catalog.Drop(cmd.Context(), args[0])
	},
}

var showCmd = &cobra.Command{
	Use:   "show <table>",
	Short: "Print the current metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()
		o, err := e.open(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		b, err := metadata.Marshal(o.Current())
		if err != nil {
			return err
		}
		slog.Debug("metadata", "location", o.Current().MetadataFileLocation(), "size", util.Bytes(len(b)))
		_, err = os.Stdout.Write(append(b, '\n'))
		return err
	},
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

var historyCmd = &cobra.Command{
	Use:   "history <table>",
	Short: "Print the snapshot and metadata history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()
		o, err := e.open(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		m := o.Current()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SNAPSHOT\tPARENT\tSEQ\tTIME\tOPERATION\tCURRENT")
		for _, s := range m.Snapshots() {
			parent := "-"
			if s.ParentSnapshotID != nil {
				parent = fmt.Sprint(*s.ParentSnapshotID)
			}
			current := ""
			if s.SnapshotID == m.CurrentSnapshotID() {
				current = "*"
			}
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\n", s.SnapshotID, parent, s.SequenceNumber,
				formatMillis(s.TimestampMS), s.Summary["operation"], current)
		}
		w.Flush()

		fmt.Println()
		for _, entry := range m.MetadataLog() {
			fmt.Printf("%s  %s\n", formatMillis(entry.TimestampMS), entry.MetadataFile)
		}
		fmt.Printf("%s  %s (current)\n", formatMillis(m.LastUpdatedMillis()), m.MetadataFileLocation())
		return nil
	},
}

var (
	appendManifestList string
	appendSummary      []string
)

var appendCmd = &cobra.Command{
	Use:   "append <table>",
	Short: "Commit a new snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		summary, err := parseKeyValues(appendSummary)
		if err != nil {
			return err
		}
		if _, ok := summary["operation"]; !ok {
			summary["operation"] = "append"
		}

		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()
		o, err := e.open(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		id := o.NewSnapshotID()
		m, err := table.CommitWithRetry(cmd.Context(), o, func(base *metadata.TableMetadata) (*metadata.TableMetadata, error) {
			return base.WithSnapshot(metadata.Snapshot{
				SnapshotID:   id,
				ManifestList: appendManifestList,
				Summary:      summary,
			})
		}, cfg.RetryOptions())
		if err != nil {
			return err
		}
		fmt.Printf("%d %s\n", id, m.MetadataFileLocation())
		return nil
	},
}

var setPropertyRemove []string

var setPropertyCmd = &cobra.Command{
	Use:   "set-property <table> [key=value]...",
	Short: "Set or remove table properties",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		set, err := parseKeyValues(args[1:])
		if err != nil {
			return err
		}
		if len(set) == 0 && len(setPropertyRemove) == 0 {
			return errors.New("nothing to change")
		}

		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()
		o, err := e.open(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		m, err := table.CommitWithRetry(cmd.Context(), o, func(base *metadata.TableMetadata) (*metadata.TableMetadata, error) {
			return base.WithProperties(set, setPropertyRemove), nil
		}, cfg.RetryOptions())
		if err != nil {
			return err
		}
		fmt.Println(m.MetadataFileLocation())
		return nil
	},
}

var serveMetricsCmd = &cobra.Command{
	Use:   "serve-metrics",
	Short: "Serve Prometheus metrics over HTTP until interrupted",
	Long: `Serve the tablemeta_* Prometheus metrics of this process on /metrics.

Counters are per process. Each other tablemeta command runs in its own
process, so its commits and refreshes never appear here. The endpoint is
meant for checking a deployment's scrape setup; programs that embed the
table package register the same metrics and serve them from their own
long-running process.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := util.DefaultIfZero(cfg.Metrics.Listen, defaultMetricsListen)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: addr, Handler: mux}

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.ListenAndServe()
		}()
		slog.Info("serving metrics", "addr", addr)

		select {
		case err := <-errCh:
			return err
		case <-cmd.Context().Done():
			return srv.Close()
		}
	},
}

func init() {
	createCmd.Flags().StringArrayVar(&createColumns, "column", nil, "Column as name:type[:required], repeatable")
	createCmd.Flags().StringArrayVar(&createPartitions, "partition", nil, "Partition field as column:transform, repeatable")
	createCmd.Flags().StringVar(&createLocation, "location", "", "Table location (default: table name with dots as slashes)")
	createCmd.Flags().StringArrayVar(&createProps, "property", nil, "Table property as key=value, repeatable")
	createCmd.MarkFlagRequired("column")

	appendCmd.Flags().StringVar(&appendManifestList, "manifest-list", "", "Manifest list location of the new snapshot")
	appendCmd.Flags().StringArrayVar(&appendSummary, "summary", nil, "Snapshot summary entry as key=value, repeatable")

	setPropertyCmd.Flags().StringArrayVar(&setPropertyRemove, "remove", nil, "Property to remove, repeatable")
}
