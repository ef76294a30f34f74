package scenes

import (
	"nbscenes/internal/logging"
	"nbscenes/internal/notebook"
)

// RunSceneInNotebook submits every code cell of view tagged with name, in
// document order, and returns how many were submitted. It does not wait for
// any of them to finish.
func (c *Controller) RunSceneInNotebook(view *notebook.View, name string) int {
	if view == nil || c.executor == nil {
		return 0
	}
	timer := logging.StartTimer(logging.CategoryScenes, "run scene "+name)
	defer timer.Stop()

	tag := SceneTag(name)
	opts := ExecuteOptions{RecordTiming: view.RecordTiming()}
	submitted := 0
	for _, cell := range view.Cells() {
		if !cell.IsCode() || !notebook.Flag(cell.Metadata(), tag) {
			continue
		}
		if err := c.executor.Submit(cell, view.Session(), opts); err != nil {
			logging.Get(logging.CategoryScenes).Warn("submit cell %s of scene %q: %v", cell.Model().ID(), name, err)
			continue
		}
		submitted++
	}
	logging.Scenes("submitted %d cells of scene %q in %s", submitted, name, view.Document().Name())
	return submitted
}

// RunSceneInCurrentNotebook runs name in the focused notebook.
func (c *Controller) RunSceneInCurrentNotebook(name string) int {
	return c.RunSceneInNotebook(c.current(), name)
}

// RunActiveSceneInCurrentNotebook runs the focused notebook's active scene.
func (c *Controller) RunActiveSceneInCurrentNotebook() int {
	v := c.current()
	if v == nil {
		return 0
	}
	return c.RunSceneInNotebook(v, c.ActiveScene(v))
}
