package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "content-orch",
		Short: "Content pipeline orchestrator",
		Long: `content-orch runs multi-stage content generation pipelines: it evaluates
a prompt, derives a strategy and visual style, renders image variants and
refines individual outputs on request. Runs persist across restarts and
stream live progress to attached clients.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
