package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

// rootCmd runs the server when invoked without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "subtitle-orchestrator",
	Short: "Chunked upload, transcription tracking and subtitle translation service",
	Long: `subtitle-orchestrator accepts chunked media uploads, watches per-chunk
transcripts land in storage, and translates the assembled subtitles exactly
once per file.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the configuration file")
}
