// Package main implements the scenes CLI.
//
// Every command operates on one or more .ipynb files. Mutating commands load
// the notebook, run the scene operation, write the notebook back and record
// the operation in the workspace journal.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"nbscenes/internal/config"
	"nbscenes/internal/logging"
)

var (
	// Global flags
	verbose   bool
	workspace string

	// Loaded in PersistentPreRunE
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "scenes",
	Short: "Manage named groups of notebook cells",
	Long: `scenes keeps named groups of cells ("scenes") in Jupyter notebooks.

A scene can be run as a unit, one scene can be marked to run whenever a
kernel connects, and the active scene is projected onto cell tags so other
tools can see which cells belong to it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ws, err := resolveWorkspace()
		if err != nil {
			return err
		}
		workspace = ws

		loaded, err := config.Load(config.DefaultPath(ws))
		if err != nil {
			return err
		}
		if err := loaded.Validate(); err != nil {
			return err
		}
		cfg = loaded

		opts := cfg.LoggingOptions()
		if verbose {
			opts.Level = "debug"
		}
		if err := logging.Initialize(opts); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		logging.Get(logging.CategoryBoot).Debug("workspace %s", ws)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")

	// Command flags
	toggleCmd.Flags().IntSliceVar(&toggleCells, "cells", nil, "Cell indices to toggle; the first one is the focused cell")
	toggleCmd.MarkFlagRequired("cells")
	jumpCmd.Flags().IntVar(&jumpFrom, "from", 0, "Index of the focused cell")
	jumpCmd.Flags().BoolVar(&jumpPrev, "prev", false, "Jump backwards")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of records (0 for all)")
	historyCmd.Flags().BoolVar(&historyExecutions, "executions", false, "List cell executions instead of scene operations")
	historyCmd.Flags().DurationVar(&historyPrune, "prune", 0, "Delete records older than this before listing")
	showCmd.Flags().StringVar(&showStyle, "style", "notty", "glamour style (notty, dark, light, auto)")
	showCmd.Flags().IntVar(&showWidth, "width", 100, "Word wrap width")

	// Subcommands
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)

	// Add commands to root
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(duplicateCmd)
	rootCmd.AddCommand(activateCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(moveCmd)
	rootCmd.AddCommand(toggleCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(jumpCmd)
	rootCmd.AddCommand(importLegacyCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveWorkspace() (string, error) {
	if workspace != "" {
		return workspace, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace: %w", err)
	}
	return cwd, nil
}
