package cli

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/animus-labs/animus-evals/internal/domain"
	"github.com/animus-labs/animus-evals/internal/experimentspec"
	"github.com/animus-labs/animus-evals/internal/repo"
	"github.com/animus-labs/animus-evals/internal/service/experiments"
)

var (
	experimentSpecFile   string
	experimentDataset    string
	experimentListLimit  int
	evaluateSpecFile     string
	annotateName         string
	annotateLabel        string
	annotateScore        float64
	annotateExplanation  string
	annotateKind         string
	experimentShowFormat string
)

var experimentCmd = &cobra.Command{
	Use:   "experiment",
	Short: "Run, evaluate and compare experiments",
}

var experimentRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an experiment described by a spec file",
	Long: `Snapshot the spec's dataset, invoke its task on every example and apply its
evaluators to the recorded runs.

Examples:
  evalctl experiment run -f experiment.yaml
  cat experiment.yaml | evalctl experiment run -f -`,
	Args: cobra.NoArgs,
	RunE: runExperimentRun,
}

var experimentEvaluateCmd = &cobra.Command{
	Use:   "evaluate <experiment_id>",
	Short: "Apply evaluators to the runs of an existing experiment",
	Long: `Apply the evaluators listed under "evaluators:" in a YAML or JSON file to an
existing experiment. Each pass appends new annotations and never replaces old ones.
An experiment spec file can be passed as is.`,
	Args: cobra.ExactArgs(1),
	RunE: runExperimentEvaluate,
}

var experimentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List experiments",
	Args:  cobra.NoArgs,
	RunE:  runExperimentList,
}

var experimentShowCmd = &cobra.Command{
	Use:   "show <experiment_id>",
	Short: "Print the summary of an experiment",
	Args:  cobra.ExactArgs(1),
	RunE:  runExperimentShow,
}

var experimentCompareCmd = &cobra.Command{
	Use:   "compare <experiment_id> <experiment_id>...",
	Short: "Compare experiments run over the same dataset, example by example",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runExperimentCompare,
}

var experimentAnnotateCmd = &cobra.Command{
	Use:   "annotate <run_id>",
	Short: "Record a manual annotation on a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runExperimentAnnotate,
}

func init() {
	experimentRunCmd.Flags().StringVarP(&experimentSpecFile, "file", "f", "", "experiment spec file (YAML or JSON, - for stdin)")
	_ = experimentRunCmd.MarkFlagRequired("file")

	experimentEvaluateCmd.Flags().StringVarP(&evaluateSpecFile, "file", "f", "", "file listing evaluators (YAML or JSON, - for stdin)")
	_ = experimentEvaluateCmd.MarkFlagRequired("file")

	experimentListCmd.Flags().StringVar(&experimentDataset, "dataset", "", "only list experiments of this dataset (id or name)")
	experimentListCmd.Flags().IntVar(&experimentListLimit, "limit", 100, "maximum experiments to list")

	experimentShowCmd.Flags().StringVarP(&experimentShowFormat, "output", "o", "table", "output format: table or json")

	experimentAnnotateCmd.Flags().StringVar(&annotateName, "name", "", "annotation name")
	experimentAnnotateCmd.Flags().StringVar(&annotateLabel, "label", "", "annotation label")
	experimentAnnotateCmd.Flags().Float64Var(&annotateScore, "score", 0, "annotation score")
	experimentAnnotateCmd.Flags().StringVar(&annotateExplanation, "explanation", "", "free-form explanation")
	experimentAnnotateCmd.Flags().StringVar(&annotateKind, "kind", string(domain.AnnotatorHuman), "annotator kind: HUMAN, LLM or CODE")
	_ = experimentAnnotateCmd.MarkFlagRequired("name")

	experimentCmd.AddCommand(experimentRunCmd)
	experimentCmd.AddCommand(experimentEvaluateCmd)
	experimentCmd.AddCommand(experimentListCmd)
	experimentCmd.AddCommand(experimentShowCmd)
	experimentCmd.AddCommand(experimentCompareCmd)
	experimentCmd.AddCommand(experimentAnnotateCmd)
}

func runExperimentRun(cmd *cobra.Command, args []string) error {
	data, err := readInput(cmd, experimentSpecFile)
	if err != nil {
		return err
	}
	spec, err := experimentspec.ParseSpec(data)
	if err != nil {
		return err
	}

	a, err := openApp(cmd, autoMigrate)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	out, runErr := experimentspec.Execute(cmd.Context(), spec, a.Datasets, a.Experiments)
	if out.Run.Experiment.ID == "" {
		return runErr
	}
	w := cmd.OutOrStdout()
	exp := out.Run.Experiment
	fmt.Fprintf(w, "Experiment %s #%d (%s)\n", exp.Name, exp.SequenceNumber, exp.ID)
	fmt.Fprintf(w, "  runs: %d  failed: %d\n", len(out.Run.Runs), out.Run.Failed())
	for _, ev := range out.Evaluations {
		fmt.Fprintf(w, "  evaluator %s: %d annotation(s), %d failed, %d skipped\n", ev.Evaluator, len(ev.Annotations), ev.Failed, ev.Skipped)
	}
	if runErr != nil {
		return runErr
	}
	summary, err := a.Experiments.Summarize(cmd.Context(), exp.ID)
	if err != nil {
		return err
	}
	fmt.Fprintln(w)
	return printSummary(w, summary)
}

// evaluatorFile is the subset of a spec file read by evaluate.
type evaluatorFile struct {
	Evaluators []experimentspec.EvaluatorSpec `yaml:"evaluators"`
}

func runExperimentEvaluate(cmd *cobra.Command, args []string) error {
	data, err := readInput(cmd, evaluateSpecFile)
	if err != nil {
		return err
	}
	var file evaluatorFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("decode evaluators: %w", err)
	}
	if len(file.Evaluators) == 0 {
		return errors.New("no evaluators listed")
	}
	if err := experimentspec.ValidateEvaluators(file.Evaluators); err != nil {
		return err
	}
	evaluators, err := experimentspec.BuildEvaluators(file.Evaluators)
	if err != nil {
		return err
	}

	a, err := openApp(cmd, autoMigrate)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	w := cmd.OutOrStdout()
	for _, evaluator := range evaluators {
		res, err := a.Experiments.Evaluate(cmd.Context(), args[0], evaluator)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "evaluator %s: %d annotation(s), %d failed, %d skipped\n", res.Evaluator, len(res.Annotations), res.Failed, res.Skipped)
	}
	return nil
}

func runExperimentList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, autoMigrate)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	filter := repo.ExperimentFilter{Limit: experimentListLimit}
	if experimentDataset != "" {
		dataset, err := a.Datasets.FindDataset(cmd.Context(), experimentDataset)
		if err != nil {
			return err
		}
		filter.DatasetID = dataset.ID
	}
	list, err := a.Experiments.ListExperiments(cmd.Context(), filter)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No experiments found.")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSEQ\tNAME\tDATASET\tVERSION\tREPS\tCREATED")
	for _, e := range list {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%d\t%s\n", e.ID, e.SequenceNumber, e.Name, e.DatasetID, e.DatasetVersionID, e.Repetitions, e.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runExperimentShow(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, autoMigrate)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	summary, err := a.Experiments.Summarize(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	switch strings.ToLower(experimentShowFormat) {
	case "json":
		return printJSON(cmd.OutOrStdout(), summaryJSON(summary))
	case "table", "":
		return printSummary(cmd.OutOrStdout(), summary)
	default:
		return fmt.Errorf("unsupported output format %q", experimentShowFormat)
	}
}

func runExperimentCompare(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, autoMigrate)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	cmp, err := a.Experiments.Compare(cmd.Context(), args)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprint(w, "EXAMPLE")
	for _, e := range cmp.Experiments {
		fmt.Fprintf(w, "\t%s #%d", e.Name, e.SequenceNumber)
	}
	fmt.Fprintln(w)
	for _, row := range cmp.Rows {
		fmt.Fprint(w, row.Example.Example.ID)
		for _, e := range cmp.Experiments {
			fmt.Fprintf(w, "\t%s", compareCell(row.Runs[e.ID]))
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}

func runExperimentAnnotate(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, autoMigrate)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	annotation := domain.ExperimentAnnotation{
		ExperimentRunID: args[0],
		Name:            annotateName,
		AnnotatorKind:   domain.AnnotatorKind(annotateKind),
		Label:           annotateLabel,
		Explanation:     annotateExplanation,
	}
	if cmd.Flags().Changed("score") {
		score := annotateScore
		annotation.Score = &score
	}
	created, err := a.Experiments.CreateAnnotation(cmd.Context(), annotation)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Recorded annotation %s on run %s\n", created.ID, created.ExperimentRunID)
	return nil
}

func printSummary(w io.Writer, s experiments.Summary) error {
	fmt.Fprintf(w, "Experiment %s #%d (%s)\n", s.Experiment.Name, s.Experiment.SequenceNumber, s.Experiment.ID)
	fmt.Fprintf(w, "  dataset version: %s\n", s.Experiment.DatasetVersionID)
	fmt.Fprintf(w, "  runs: %d  errors: %d (%.1f%%)  mean latency: %s\n", s.RunCount, s.ErrorCount, s.ErrorRate*100, s.MeanLatency.Round(time.Millisecond))
	if len(s.Annotations) == 0 {
		fmt.Fprintln(w, "  no annotations")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  ANNOTATION\tCOUNT\tERRORS\tMEAN SCORE\tLABELS")
	for _, a := range s.Annotations {
		fmt.Fprintf(tw, "  %s\t%d\t%d\t%s\t%s\n", a.Name, a.Count, a.Errors, formatScore(a.MeanScore), formatLabels(a.Labels))
	}
	return tw.Flush()
}

type summaryOutput struct {
	ExperimentID  string                          `json:"experiment_id"`
	Name          string                          `json:"name"`
	RunCount      int                             `json:"run_count"`
	ErrorCount    int                             `json:"error_count"`
	ErrorRate     float64                         `json:"error_rate"`
	MeanLatencyMS int64                           `json:"mean_latency_ms"`
	Annotations   []experiments.AnnotationSummary `json:"annotations"`
}

func summaryJSON(s experiments.Summary) summaryOutput {
	annotations := s.Annotations
	if annotations == nil {
		annotations = []experiments.AnnotationSummary{}
	}
	return summaryOutput{
		ExperimentID:  s.Experiment.ID,
		Name:          s.Experiment.Name,
		RunCount:      s.RunCount,
		ErrorCount:    s.ErrorCount,
		ErrorRate:     s.ErrorRate,
		MeanLatencyMS: s.MeanLatency.Milliseconds(),
		Annotations:   annotations,
	}
}

func formatScore(score *float64) string {
	if score == nil {
		return "-"
	}
	return fmt.Sprintf("%.3f", *score)
}

func formatLabels(labels map[string]int) string {
	if len(labels) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, labels[k]))
	}
	return strings.Join(parts, " ")
}

// compareCell renders the runs of one example in one experiment, such as
// "ok correct=1.00" or "error(timeout)".
func compareCell(runs []experiments.ComparisonRun) string {
	if len(runs) == 0 {
		return "-"
	}
	cells := make([]string, 0, len(runs))
	for _, cr := range runs {
		if cr.Run.Failed() {
			cells = append(cells, fmt.Sprintf("error(%s)", cr.Run.Error.Kind))
			continue
		}
		parts := []string{"ok"}
		for _, ann := range cr.Annotations {
			switch {
			case ann.Error != "":
				parts = append(parts, ann.Name+"=error")
			case ann.Score != nil:
				parts = append(parts, fmt.Sprintf("%s=%.2f", ann.Name, *ann.Score))
			case ann.Label != "":
				parts = append(parts, ann.Name+"="+ann.Label)
			}
		}
		cells = append(cells, strings.Join(parts, " "))
	}
	return strings.Join(cells, " | ")
}
