package main

import (
	"bytes"
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"nbscenes/internal/logging"
	"nbscenes/internal/notebook"
	"nbscenes/internal/scenes"
	"nbscenes/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch <notebook>...",
	Short: "Keep notebooks reconciled while they are edited elsewhere",
	Long: `Watch notebooks on disk. Whenever a notebook changes, legacy init
cells are migrated and the active scene is projected onto cell tags again;
the notebook is written back only if that changed it.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		sessions := make([]*notebookSession, 0, len(args))
		defer func() {
			for _, s := range sessions {
				s.Close()
			}
		}()
		for _, path := range args {
			s, err := openNotebook(path, false)
			if err != nil {
				return err
			}
			sessions = append(sessions, s)
		}

		w, err := watch.New(cfg.GetWatchDebounce())
		if err != nil {
			return err
		}
		defer w.Stop()

		byDoc := make(map[*notebook.Document]*notebookSession, len(sessions))
		for _, s := range sessions {
			if s.imported {
				if err := w.Save(s.doc); err != nil {
					return err
				}
				s.record(ctx, "import-legacy", cfg.Scenes.LegacyScene, "")
			}
			if err := w.Add(s.doc); err != nil {
				return err
			}
			byDoc[s.doc] = s
		}
		w.OnReload(func(doc *notebook.Document) {
			s, ok := byDoc[doc]
			if !ok {
				return
			}
			if err := reconcile(ctx, w, s); err != nil {
				logging.Get(logging.CategoryWatch).Error("reconcile %s: %v", doc.Name(), err)
			}
		})

		if err := w.Start(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "watching %d notebook(s), press Ctrl+C to stop\n", len(sessions))
		<-ctx.Done()
		return nil
	},
}

// reconcile reapplies migration and projection to every view of a reloaded
// document and writes it back when that changed anything.
func reconcile(ctx context.Context, w *watch.NotebookWatcher, s *notebookSession) error {
	before, err := s.doc.Encode()
	if err != nil {
		return err
	}
	imported := false
	for _, v := range s.tracker.ViewsOf(s.doc) {
		if reconcileView(s.ctrl, v) {
			imported = true
		}
	}
	after, err := s.doc.Encode()
	if err != nil {
		return err
	}
	if bytes.Equal(before, after) {
		return nil
	}
	if err := w.Save(s.doc); err != nil {
		return err
	}
	op := "reconcile"
	if imported {
		op = "import-legacy"
	}
	s.record(ctx, op, s.ctrl.ActiveScene(s.view), "")
	logging.Watch("%s %s after external edit", op, s.doc.Name())
	return nil
}

func reconcileView(ctrl *scenes.Controller, v *notebook.View) bool {
	if ctrl.ImportLegacyInitializationCells(v) {
		return true
	}
	ctrl.UpdateCellClassesAndTags(v, "", nil)
	return false
}
