// train.go - noisyclip-train: Student-Teacher Training
// Hauptfunktionen: NewTrainCLI, TrainHandler
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ollama/noisyclip/checkpoint"
	"github.com/ollama/noisyclip/train"
)

// NewTrainCLI - Erstellt den Train-Command
func NewTrainCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	cmd := &cobra.Command{
		Use:              "noisyclip-train --config_file FILE",
		Short:            "Train a student image encoder on distorted images",
		Args:             cobra.NoArgs,
		SilenceUsage:     true,
		SilenceErrors:    true,
		PersistentPreRun: initLogging,
		RunE:             TrainHandler,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	addConfigFlags(cmd)
	cmd.Flags().String(flagResume, "", "Resume from a checkpoint (e.g. last.gguf)")

	appendEnvDocs(cmd, envDocs())
	return cmd
}

// TrainHandler - Fuehrt Setup und Training aus
func TrainHandler(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	run, err := train.Setup(ctx, cfg, train.StageFit)
	if err != nil {
		return err
	}
	defer run.Close()

	trainer, err := train.New(run.TrainerOptions(progressWriter(cmd)))
	if err != nil {
		return err
	}

	if resume, _ := cmd.Flags().GetString(flagResume); resume != "" {
		state, err := checkpoint.Load(resume)
		if err != nil {
			return err
		}
		if err := trainer.Restore(state); err != nil {
			return err
		}
	}

	_, err = trainer.Fit(ctx)
	return err
}
