package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"nbscenes/internal/journal"
	"nbscenes/internal/notebook"
	"nbscenes/internal/scenes"
)

var (
	showStyle string
	showWidth int

	historyLimit      int
	historyExecutions bool
	historyPrune      time.Duration
)

// statusParallelism bounds concurrent notebook loads in status.
const statusParallelism = 8

var showCmd = &cobra.Command{
	Use:   "show <notebook>",
	Short: "Render a notebook with its active-scene cells marked",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openNotebook(args[0], false)
		if err != nil {
			return err
		}
		defer s.Close()

		out, err := renderMarkdown(notebookMarkdown(s), showStyle, showWidth)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	},
}

// notebookStatus summarizes one notebook for status.
type notebookStatus struct {
	Name        string
	Scenes      int
	Active      string
	Init        string
	ActiveCells int
	LegacyCells int
}

var statusCmd = &cobra.Command{
	Use:   "status <notebook>...",
	Short: "Summarize the scenes of several notebooks",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		results := make([]notebookStatus, len(args))
		g, ctx := errgroup.WithContext(cmd.Context())
		g.SetLimit(statusParallelism)
		for i, path := range args {
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				st, err := loadStatus(resolvePath(path))
				if err != nil {
					return err
				}
				results[i] = st
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		rows := make([][]string, 0, len(results))
		for _, st := range results {
			initScene := st.Init
			if initScene == "" {
				initScene = "-"
			}
			rows = append(rows, []string{
				st.Name, strconv.Itoa(st.Scenes), st.Active, initScene,
				strconv.Itoa(st.ActiveCells), strconv.Itoa(st.LegacyCells),
			})
		}
		printTable(cmd.OutOrStdout(), []string{"NOTEBOOK", "SCENES", "ACTIVE", "INIT", "CELLS", "LEGACY"}, rows)
		return nil
	},
}

// loadStatus reads path without attaching a controller, so nothing is
// migrated or projected.
func loadStatus(path string) (notebookStatus, error) {
	doc, err := notebook.Load(path)
	if err != nil {
		return notebookStatus{}, err
	}
	store := scenes.NewStore(cfg.Scenes.DefaultScene)
	md := doc.Metadata()
	set, _ := store.Load(md)

	st := notebookStatus{
		Name:   doc.Name(),
		Scenes: len(set.Scenes),
		Active: set.ActiveScene,
		Init:   set.InitScene,
	}
	key := scenes.SceneTag(set.ActiveScene)
	for _, c := range doc.Cells() {
		if notebook.Flag(c.Metadata(), key) {
			st.ActiveCells++
		}
		if c.IsCode() && notebook.Flag(c.Metadata(), scenes.LegacyInitKey) {
			st.LegacyCells++
		}
	}
	return st, nil
}

var historyCmd = &cobra.Command{
	Use:   "history [notebook]",
	Short: "Show journaled scene operations or executions",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		j, err := journal.Open(cfg.JournalPath(workspace))
		if err != nil {
			return err
		}
		defer j.Close()

		ctx := cmd.Context()
		if historyPrune > 0 {
			if _, err := j.Prune(ctx, historyPrune); err != nil {
				return err
			}
		}

		var filter string
		if len(args) == 1 {
			filter = resolvePath(args[0])
		}

		out := cmd.OutOrStdout()
		if historyExecutions {
			list, err := j.Executions(ctx, filter, historyLimit)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(list))
			for _, e := range list {
				rows = append(rows, []string{
					e.StartedAt.Local().Format(time.DateTime), displayName(e.Notebook),
					strconv.Itoa(e.CellIndex), e.Status, e.Elapsed.Round(time.Millisecond).String(), e.Error,
				})
			}
			printTable(out, []string{"STARTED", "NOTEBOOK", "CELL", "STATUS", "ELAPSED", "ERROR"}, rows)
			return nil
		}

		list, err := j.Events(ctx, filter, historyLimit)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(list))
		for _, e := range list {
			rows = append(rows, []string{
				e.CreatedAt.Local().Format(time.DateTime), displayName(e.Notebook),
				e.Operation, e.Scene, e.Detail,
			})
		}
		printTable(out, []string{"WHEN", "NOTEBOOK", "OPERATION", "SCENE", "DETAIL"}, rows)
		return nil
	},
}

func displayName(path string) string {
	if rel, err := relativeToWorkspace(path); err == nil {
		return rel
	}
	return path
}
