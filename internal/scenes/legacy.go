package scenes

import (
	"nbscenes/internal/logging"
	"nbscenes/internal/notebook"
)

// ImportLegacyInitializationCells migrates init_cell flags into the scene
// model. Only code cells are compared, since only they carry the legacy flag.
// When any code cell carries it and the flags disagree with init-scene
// membership on at least one code cell, every legacy cell joins the
// legacy scene, which becomes both init and active. It reports whether the
// migration ran.
func (c *Controller) ImportLegacyInitializationCells(view *notebook.View) bool {
	if view == nil {
		return false
	}
	var imported bool
	_ = c.mutate(func() (bool, error) {
		imported = c.importLegacyLocked(view)
		return imported, nil
	})
	return imported
}

func (c *Controller) importLegacyLocked(view *notebook.View) bool {
	md := view.Metadata()
	set, _ := c.store.Load(md)
	initTag := ""
	if set.InitScene != "" {
		initTag = SceneTag(set.InitScene)
	}

	cells := view.Cells()
	var legacyCells []*notebook.Cell
	disagree := false
	for _, cell := range cells {
		if !cell.IsCode() {
			continue
		}
		legacy := notebook.Flag(cell.Metadata(), LegacyInitKey)
		inScene := initTag != "" && notebook.Flag(cell.Metadata(), initTag)
		if legacy {
			legacyCells = append(legacyCells, cell)
		}
		if legacy != inScene {
			disagree = true
		}
	}
	if len(legacyCells) == 0 || !disagree {
		return false
	}

	name := c.opts.LegacyScene
	if !set.Has(name) {
		set.Scenes = append(set.Scenes, name)
	}
	set.InitScene = name
	set.ActiveScene = name
	c.store.Save(md, set)

	tag := SceneTag(name)
	for _, cell := range legacyCells {
		cell.Metadata().Set(tag, true)
	}
	logging.Scenes("imported %d legacy init cells of %s into %q", len(legacyCells), view.Document().Name(), name)
	c.resyncLocked(view.Document())
	return true
}
