package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"nbscenes/internal/execution"
	"nbscenes/internal/journal"
	"nbscenes/internal/logging"
	"nbscenes/internal/notebook"
	"nbscenes/internal/scenes"
)

// notebookSession is one loaded notebook with a single view, a controller
// and the execution queue behind it.
type notebookSession struct {
	doc     *notebook.Document
	tracker *notebook.Tracker
	view    *notebook.View
	ctrl    *scenes.Controller
	queue   *execution.Queue
	journal *journal.Journal

	// imported is set when opening migrated legacy init cells.
	imported bool
}

// openNotebook loads path and attaches a view to a fresh controller. With
// a kernel the view gets a session that is not ready yet; callers drive it.
func openNotebook(path string, withKernel bool) (*notebookSession, error) {
	path = resolvePath(path)
	doc, err := notebook.Load(path)
	if err != nil {
		return nil, err
	}

	s := &notebookSession{doc: doc, tracker: notebook.NewTracker()}

	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.JournalPath(workspace))
		if err != nil {
			logging.Get(logging.CategoryBoot).Warn("journal disabled: %v", err)
		} else {
			s.journal = j
		}
	}

	runner := execution.NewProcessRunner(cfg.Execution.Interpreter, cfg.GetExecutionTimeout())
	s.queue = execution.NewQueue(runner, cfg.Execution.QueueSize)
	s.queue.SetObserver(s.recordExecution)

	s.ctrl = scenes.NewController(s.tracker, s.queue, scenes.Options{
		DefaultScene: cfg.Scenes.DefaultScene,
		LegacyScene:  cfg.Scenes.LegacyScene,
		MarkerClass:  cfg.Scenes.MarkerClass,
		ActiveTag:    cfg.Scenes.ActiveTag,
	})

	var session *notebook.Session
	if withKernel {
		session = notebook.NewSession(doc.Name(), notebook.NewKernel())
	}
	s.view = notebook.NewView(doc, session)
	s.view.SetRecordTiming(cfg.Execution.RecordTiming)

	// Attaching happens on Add; a change notification during it can only
	// come from the legacy migration.
	unsubscribe := s.ctrl.Subscribe(func() { s.imported = true })
	s.tracker.Add(s.view)
	unsubscribe()

	return s, nil
}

func resolvePath(path string) string {
	if filepath.IsAbs(path) || workspace == "" {
		return path
	}
	return filepath.Join(workspace, path)
}

// commit writes the notebook and journals op.
func (s *notebookSession) commit(ctx context.Context, op, scene, detail string) error {
	if err := s.doc.Save(); err != nil {
		return err
	}
	s.record(ctx, op, scene, detail)
	return nil
}

func (s *notebookSession) record(ctx context.Context, op, scene, detail string) {
	if s.journal == nil {
		return
	}
	err := s.journal.RecordEvent(ctx, journal.SceneEvent{
		Notebook:  s.doc.Path(),
		Operation: op,
		Scene:     scene,
		Detail:    detail,
	})
	if err != nil {
		logging.Get(logging.CategoryJournal).Warn("%v", err)
	}
}

// recordExecution runs on the queue worker.
func (s *notebookSession) recordExecution(e execution.Event) {
	if s.journal == nil {
		return
	}
	index := -1
	for i, m := range s.doc.Cells() {
		if m.ID() == e.CellID {
			index = i
			break
		}
	}
	err := s.journal.RecordExecution(context.Background(), journal.Execution{
		ID:         e.ID,
		Notebook:   s.doc.Path(),
		KernelID:   e.KernelID,
		CellID:     e.CellID,
		CellIndex:  index,
		Status:     string(e.Status),
		StartedAt:  e.StartedAt,
		FinishedAt: e.FinishedAt,
		Error:      e.Err,
	})
	if err != nil {
		logging.Get(logging.CategoryJournal).Warn("%v", err)
	}
}

// Close cancels pending executions and releases the journal.
func (s *notebookSession) Close() {
	s.queue.Close()
	s.ctrl.Close()
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			logging.Get(logging.CategoryJournal).Warn("failed to close journal: %v", err)
		}
	}
}

// cellAt returns the cell at index i of the view.
func (s *notebookSession) cellAt(i int) (*notebook.Cell, error) {
	c := s.view.CellAt(i)
	if c == nil {
		return nil, fmt.Errorf("cell index %d out of range (notebook has %d cells)", i, len(s.view.Cells()))
	}
	return c, nil
}

func relativeToWorkspace(path string) (string, error) {
	if workspace == "" {
		return "", fmt.Errorf("no workspace")
	}
	rel, err := filepath.Rel(workspace, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%s is outside the workspace", path)
	}
	return rel, nil
}
