// zeroshot.go - noisyclip-zeroshot: Zero-Shot Evaluation eines Checkpoints
// Hauptfunktionen: NewZeroShotCLI, ZeroShotHandler, renderReport, renderClassReport
package cmd

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ollama/noisyclip/train"
)

var errCkptFlag = errors.New("--" + flagCkptFile + " is required")

// NewZeroShotCLI - Erstellt den Zero-Shot-Command
func NewZeroShotCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	cmd := &cobra.Command{
		Use:              "noisyclip-zeroshot --config_file FILE --ckpt_file FILE",
		Short:            "Evaluate a trained student with zero-shot classification",
		Args:             cobra.NoArgs,
		SilenceUsage:     true,
		SilenceErrors:    true,
		PersistentPreRun: initLogging,
		RunE:             ZeroShotHandler,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	addConfigFlags(cmd)
	cmd.Flags().String(flagCkptFile, "", "Checkpoint of the trained student (.gguf)")
	cmd.Flags().Bool(flagPerClass, false, "Also print top-1 accuracy per class")

	appendEnvDocs(cmd, envDocs())
	return cmd
}

// ZeroShotHandler - Laedt den Checkpoint und evaluiert den Validierungs-Split
func ZeroShotHandler(cmd *cobra.Command, _ []string) error {
	ckpt, _ := cmd.Flags().GetString(flagCkptFile)
	if ckpt == "" {
		return errCkptFlag
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	run, err := train.Setup(ctx, cfg, train.StageTest)
	if err != nil {
		return err
	}
	defer run.Close()

	state, err := run.LoadStudent(ckpt)
	if err != nil {
		return err
	}

	report, err := run.Evaluator(progressWriter(cmd)).Evaluate(ctx, run.Val, 0)
	if err != nil {
		return err
	}

	renderReport(cmd.OutOrStdout(), cfg.ExperimentName, state.Epoch, report)
	if perClass, _ := cmd.Flags().GetBool(flagPerClass); perClass {
		fmt.Fprintln(cmd.OutOrStdout())
		renderClassReport(cmd.OutOrStdout(), run.ClassNames, report)
	}
	return nil
}

// newTable - Tabelle im Stil von "ollama list"
func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

// renderReport - Gibt das Ergebnis als Tabelle aus
func renderReport(w io.Writer, experiment string, epoch int, r train.Report) {
	table := newTable(w, []string{"EXPERIMENT", "EPOCH", "TEST_TOP_1", "TEST_TOP_5", "SAMPLES"})
	table.Append([]string{
		experiment,
		strconv.Itoa(epoch),
		fmt.Sprintf("%.4f", r.Top1),
		fmt.Sprintf("%.4f", r.Top5),
		strconv.Itoa(r.Total),
	})
	table.Render()
}

// renderClassReport - Top-1 Genauigkeit pro Klasse, Klassen ohne Samples werden ausgelassen
func renderClassReport(w io.Writer, names []string, r train.Report) {
	table := newTable(w, []string{"CLASS", "TOP_1", "CORRECT", "SAMPLES"})
	for c, total := range r.ClassTotal {
		if total == 0 {
			continue
		}
		name := strconv.Itoa(c)
		if c < len(names) {
			name = names[c]
		}
		table.Append([]string{
			name,
			fmt.Sprintf("%.4f", r.ClassAccuracy(c)),
			strconv.Itoa(r.ClassCorrect[c]),
			strconv.Itoa(total),
		})
	}
	table.Render()
}
