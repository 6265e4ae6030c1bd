package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/animus-labs/animus-evals/internal/app"
	"github.com/animus-labs/animus-evals/internal/platform/objectstore"
	"github.com/animus-labs/animus-evals/internal/service/export"
)

var (
	exportVersion       string
	exportEnsureBuckets bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write snapshots and experiment results to object storage",
	Long: `Write JSON lines exports to the MinIO or S3 buckets configured through the
ANIMUS_MINIO_* environment variables.`,
}

var exportSnapshotCmd = &cobra.Command{
	Use:   "snapshot <dataset>",
	Short: "Export the live examples of a dataset version",
	Args:  cobra.ExactArgs(1),
	RunE:  runExportSnapshot,
}

var exportExperimentCmd = &cobra.Command{
	Use:   "experiment <experiment_id>",
	Short: "Export the runs and annotations of an experiment",
	Args:  cobra.ExactArgs(1),
	RunE:  runExportExperiment,
}

func init() {
	exportCmd.PersistentFlags().BoolVar(&exportEnsureBuckets, "ensure-buckets", true, "create missing buckets before writing")
	exportSnapshotCmd.Flags().StringVar(&exportVersion, "version", "", "version id (default latest)")

	exportCmd.AddCommand(exportSnapshotCmd)
	exportCmd.AddCommand(exportExperimentCmd)
}

func openExporter(cmd *cobra.Command) (*app.App, *export.Exporter, error) {
	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("object store config: %w", err)
	}
	a, err := openApp(cmd, autoMigrate)
	if err != nil {
		return nil, nil, err
	}
	exporter, _, err := a.Exporter(cmd.Context(), storeCfg, exportEnsureBuckets)
	if err != nil {
		_ = a.Close()
		return nil, nil, err
	}
	return a, exporter, nil
}

func runExportSnapshot(cmd *cobra.Command, args []string) error {
	a, exporter, err := openExporter(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	dataset, err := a.Datasets.FindDataset(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	snapshot, err := a.Datasets.Snapshot(cmd.Context(), dataset.ID, exportVersion)
	if err != nil {
		return err
	}
	res, err := exporter.ExportSnapshot(cmd.Context(), snapshot)
	if err != nil {
		return err
	}
	printExport(cmd.OutOrStdout(), res)
	return nil
}

func runExportExperiment(cmd *cobra.Command, args []string) error {
	a, exporter, err := openExporter(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	res, err := exporter.ExportExperiment(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	printExport(cmd.OutOrStdout(), res)
	return nil
}

func printExport(w io.Writer, res export.Result) {
	fmt.Fprintf(w, "Wrote s3://%s/%s\n", res.Bucket, res.Key)
	fmt.Fprintf(w, "  lines: %d  size: %d bytes  sha256: %s\n", res.Lines, res.Size, res.SHA256)
}
