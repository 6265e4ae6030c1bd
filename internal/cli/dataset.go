package cli

import (
	"bytes"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/animus-labs/animus-evals/internal/domain"
	"github.com/animus-labs/animus-evals/internal/httpapi"
	"github.com/animus-labs/animus-evals/internal/repo"
	"github.com/animus-labs/animus-evals/internal/service/datasets"
)

var (
	datasetDescription string
	datasetListLimit   int
	importFormat       string
	importInputKeys    string
	importOutputKeys   string
	importMetadataKeys string
	importDescription  string
	snapshotVersion    string
	exampleVersion     string
	exampleDefaultVer  string
	deleteDescription  string
)

var datasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "Manage datasets, versions and examples",
}

var datasetCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an empty dataset",
	Args:  cobra.ExactArgs(1),
	RunE:  runDatasetCreate,
}

var datasetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List datasets",
	Args:  cobra.NoArgs,
	RunE:  runDatasetList,
}

var datasetVersionsCmd = &cobra.Command{
	Use:   "versions <dataset>",
	Short: "List the versions of a dataset, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runDatasetVersions,
}

var datasetImportCmd = &cobra.Command{
	Use:   "import <dataset> <file>",
	Short: "Import examples from a JSONL or CSV file as one new version",
	Long: `Import examples from a JSONL or CSV file. All rows land in a single new
dataset version. Use "-" to read from stdin.

Without key flags each JSONL line must hold "input" and optional "output" and
"metadata" objects, and every CSV column becomes input.

Examples:
  evalctl dataset import qa questions.jsonl
  evalctl dataset import qa rows.csv --format csv --input-keys question --output-keys answer`,
	Args: cobra.ExactArgs(2),
	RunE: runDatasetImport,
}

var datasetDeleteExamplesCmd = &cobra.Command{
	Use:   "delete-examples <dataset> <example_id>...",
	Short: "Record a new version that deletes the given examples",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runDatasetDeleteExamples,
}

var datasetSnapshotCmd = &cobra.Command{
	Use:   "snapshot <dataset>",
	Short: "Print the live examples of a dataset as of a version",
	Args:  cobra.ExactArgs(1),
	RunE:  runDatasetSnapshot,
}

var datasetExampleCmd = &cobra.Command{
	Use:   "example <example_id>",
	Short: "Resolve the effective revision of an example",
	Args:  cobra.ExactArgs(1),
	RunE:  runDatasetExample,
}

var datasetHistoryCmd = &cobra.Command{
	Use:   "history <example_id>",
	Short: "Print every revision of an example in version order",
	Args:  cobra.ExactArgs(1),
	RunE:  runDatasetHistory,
}

func init() {
	datasetCreateCmd.Flags().StringVarP(&datasetDescription, "description", "d", "", "dataset description")
	datasetListCmd.Flags().IntVar(&datasetListLimit, "limit", 100, "maximum datasets to list")

	datasetImportCmd.Flags().StringVar(&importFormat, "format", "", "file format: jsonl or csv (default from the file extension)")
	datasetImportCmd.Flags().StringVar(&importInputKeys, "input-keys", "", "comma-separated keys mapped to input")
	datasetImportCmd.Flags().StringVar(&importOutputKeys, "output-keys", "", "comma-separated keys mapped to output")
	datasetImportCmd.Flags().StringVar(&importMetadataKeys, "metadata-keys", "", "comma-separated keys mapped to metadata")
	datasetImportCmd.Flags().StringVarP(&importDescription, "description", "d", "", "version description")

	datasetDeleteExamplesCmd.Flags().StringVarP(&deleteDescription, "description", "d", "", "version description")
	datasetSnapshotCmd.Flags().StringVar(&snapshotVersion, "version", "", "version id (default latest)")
	datasetExampleCmd.Flags().StringVar(&exampleVersion, "version", "", "version id to resolve at")
	datasetExampleCmd.Flags().StringVar(&exampleDefaultVer, "default-version", "", "version id used when --version is not set")

	datasetCmd.AddCommand(datasetCreateCmd)
	datasetCmd.AddCommand(datasetListCmd)
	datasetCmd.AddCommand(datasetVersionsCmd)
	datasetCmd.AddCommand(datasetImportCmd)
	datasetCmd.AddCommand(datasetDeleteExamplesCmd)
	datasetCmd.AddCommand(datasetSnapshotCmd)
	datasetCmd.AddCommand(datasetExampleCmd)
	datasetCmd.AddCommand(datasetHistoryCmd)
}

func runDatasetCreate(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, autoMigrate)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	dataset, err := a.Datasets.CreateDataset(cmd.Context(), datasets.CreateDatasetInput{Name: args[0], Description: datasetDescription})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created dataset %s (%s)\n", dataset.Name, dataset.ID)
	return nil
}

func runDatasetList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, autoMigrate)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	list, err := a.Datasets.ListDatasets(cmd.Context(), repo.DatasetFilter{Limit: datasetListLimit})
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No datasets found.")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCREATED\tDESCRIPTION")
	for _, d := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.ID, d.Name, d.CreatedAt.Format(time.RFC3339), d.Description)
	}
	return w.Flush()
}

func runDatasetVersions(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, autoMigrate)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	dataset, err := a.Datasets.FindDataset(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	versions, err := a.Datasets.ListVersions(cmd.Context(), repo.DatasetVersionFilter{DatasetID: dataset.ID})
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Dataset %s has no versions.\n", dataset.Name)
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ORDINAL\tID\tCREATED\tDESCRIPTION")
	for _, v := range versions {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", v.Ordinal, v.ID, v.CreatedAt.Format(time.RFC3339), v.Description)
	}
	return w.Flush()
}

func runDatasetImport(cmd *cobra.Command, args []string) error {
	format := strings.ToLower(strings.TrimSpace(importFormat))
	if format == "" {
		format = "jsonl"
		if strings.HasSuffix(strings.ToLower(args[1]), ".csv") {
			format = "csv"
		}
	}
	mapping := datasets.KeyMapping{
		InputKeys:    splitKeys(importInputKeys),
		OutputKeys:   splitKeys(importOutputKeys),
		MetadataKeys: splitKeys(importMetadataKeys),
	}
	data, err := readInput(cmd, args[1])
	if err != nil {
		return err
	}
	var changes []datasets.Change
	switch format {
	case "jsonl":
		changes, err = datasets.ParseJSONL(bytes.NewReader(data), mapping)
	case "csv":
		changes, err = datasets.ParseCSV(bytes.NewReader(data), mapping)
	default:
		return fmt.Errorf("unsupported format %q (want jsonl or csv)", importFormat)
	}
	if err != nil {
		return err
	}

	a, err := openApp(cmd, autoMigrate)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	dataset, err := a.Datasets.FindDataset(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	set, err := a.Datasets.ApplyChanges(cmd.Context(), dataset.ID, datasets.VersionInput{Description: importDescription}, changes)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d example(s) into %s as version %d (%s)\n", len(set.Revisions), dataset.Name, set.Version.Ordinal, set.Version.ID)
	return nil
}

func runDatasetDeleteExamples(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, autoMigrate)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	dataset, err := a.Datasets.FindDataset(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	changes := make([]datasets.Change, 0, len(args)-1)
	for _, id := range args[1:] {
		changes = append(changes, datasets.Change{Kind: domain.RevisionDelete, ExampleID: id})
	}
	set, err := a.Datasets.ApplyChanges(cmd.Context(), dataset.ID, datasets.VersionInput{Description: deleteDescription}, changes)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d example(s) from %s in version %d (%s)\n", len(set.Revisions), dataset.Name, set.Version.Ordinal, set.Version.ID)
	return nil
}

func runDatasetSnapshot(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, autoMigrate)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	dataset, err := a.Datasets.FindDataset(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	snapshot, err := a.Datasets.Snapshot(cmd.Context(), dataset.ID, snapshotVersion)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), httpapi.SnapshotFrom(snapshot))
}

func runDatasetExample(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, autoMigrate)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	rev, err := a.Datasets.Resolve(cmd.Context(), args[0], datasets.ResolveOptions{
		VersionID:        exampleVersion,
		DefaultVersionID: exampleDefaultVer,
	})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), httpapi.RevisionFrom(rev))
}

func runDatasetHistory(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, autoMigrate)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	revs, err := a.Datasets.History(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ORDINAL\tVERSION\tKIND\tREVISION")
	for _, rev := range revs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", rev.VersionOrdinal, rev.VersionID, rev.Kind, rev.ID)
	}
	return w.Flush()
}
