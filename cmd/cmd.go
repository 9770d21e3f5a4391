// cmd.go - Gemeinsames CLI-Setup fuer noisyclip-train und noisyclip-zeroshot
// Hauptfunktionen: appendEnvDocs, addConfigFlags, loadConfig, initLogging
package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ollama/noisyclip/config"
	"github.com/ollama/noisyclip/envconfig"
	"github.com/ollama/noisyclip/logutil"
)

// Flag-Namen wie in den urspruenglichen Skripten
const (
	flagConfigFile = "config_file"
	flagCkptFile   = "ckpt_file"
	flagSet        = "set"
	flagResume     = "resume"
	flagPerClass   = "per_class"
)

var errConfigFlag = errors.New("--" + flagConfigFile + " is required")

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-30s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// envDocs - Dokumentierte Variablen in fester Reihenfolge
func envDocs() []envconfig.EnvVar {
	vars := envconfig.AsMap()
	var envs []envconfig.EnvVar
	for _, name := range []string{
		"NOISYCLIP_DEBUG",
		"NOISYCLIP_DEVICES",
		"NOISYCLIP_THREADS",
		"NOISYCLIP_ORT_LIBRARY",
		"NOISYCLIP_NO_PROGRESS",
	} {
		envs = append(envs, vars[name])
	}
	return envs
}

// addConfigFlags - --config_file und wiederholbares --set key=value
func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().String(flagConfigFile, "", "Path to the run configuration (YAML)")
	cmd.Flags().StringArray(flagSet, nil, "Override a configuration key (key=value, repeatable)")
}

// loadConfig - Liest die Konfiguration inklusive Overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString(flagConfigFile)
	if path == "" {
		return nil, errConfigFlag
	}
	overrides, _ := cmd.Flags().GetStringArray(flagSet)
	return config.Load(path, overrides)
}

// initLogging - Setzt den Default-Logger auf stderr
func initLogging(cmd *cobra.Command, _ []string) {
	slog.SetDefault(logutil.NewLogger(cmd.ErrOrStderr(), envconfig.LogLevel()))
}

// progressWriter - stdout fuer Fortschrittszeilen, nil wenn kein Terminal
func progressWriter(cmd *cobra.Command) io.Writer {
	out := cmd.OutOrStdout()
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return f
	}
	return nil
}
