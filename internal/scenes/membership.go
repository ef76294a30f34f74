package scenes

import (
	"slices"

	"nbscenes/internal/logging"
	"nbscenes/internal/notebook"
)

// ToggleSceneMembershipOfSelectedCells flips active-scene membership of the
// selected cells plus the focused cell. The direction comes from the focused
// cell alone.
func (c *Controller) ToggleSceneMembershipOfSelectedCells() {
	_ = c.mutate(func() (bool, error) {
		v := c.current()
		if v == nil {
			return false, nil
		}
		focus := v.ActiveCell()
		if focus == nil {
			return false, nil
		}

		set, _ := c.store.Load(v.Metadata())
		tag := SceneTag(set.ActiveScene)
		legacy := set.InitScene != "" && set.InitScene == set.ActiveScene
		join := !notebook.Flag(focus.Metadata(), tag)

		targets := v.SelectedCells()
		if !slices.Contains(targets, focus) {
			targets = append(targets, focus)
		}
		for _, cell := range targets {
			md := cell.Metadata()
			if join {
				md.Set(tag, true)
			} else {
				md.Delete(tag)
			}
			if legacy && cell.IsCode() {
				if join {
					md.Set(LegacyInitKey, true)
				} else {
					md.Delete(LegacyInitKey)
				}
			}
		}
		logging.ScenesDebug("toggled %d cells in scene %q (join=%v)", len(targets), set.ActiveScene, join)
		c.resyncLocked(v.Document())
		return true, nil
	})
}

// UpdateCellClassesAndTags projects membership of scene onto the marker
// class and display tag of cell. An empty scene means the active scene of
// view; a nil cell means every cell of view.
func (c *Controller) UpdateCellClassesAndTags(view *notebook.View, scene string, cell *notebook.Cell) {
	if view == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if scene == "" {
		scene = c.store.ActiveScene(view.Metadata())
	}
	c.updateLocked(view, scene, cell)
}

func (c *Controller) updateLocked(view *notebook.View, scene string, cell *notebook.Cell) {
	cells := []*notebook.Cell{cell}
	if cell == nil {
		cells = view.Cells()
	}
	tag := SceneTag(scene)
	for _, cl := range cells {
		member := notebook.Flag(cl.Metadata(), tag)
		if member {
			cl.AddClass(c.opts.MarkerClass)
		} else {
			cl.RemoveClass(c.opts.MarkerClass)
		}
		c.projectTag(cl.Metadata(), member)
	}
}

// projectTag adds or removes the active-scene entry of the tags list and
// writes only when the list actually changes.
func (c *Controller) projectTag(md notebook.Metadata, member bool) {
	raw, _ := md.Get(TagsKey)
	tags, _ := notebook.StringSlice(raw)
	has := slices.Contains(tags, c.opts.ActiveTag)
	switch {
	case member && !has:
		md.Set(TagsKey, append(tags, c.opts.ActiveTag))
	case !member && has:
		kept := make([]string, 0, len(tags)-1)
		for _, t := range tags {
			if t != c.opts.ActiveTag {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			md.Delete(TagsKey)
		} else {
			md.Set(TagsKey, kept)
		}
	}
}

// JumpToNextSceneCell focuses the next active-scene member after the
// focused cell and returns it, or nil when there is none.
func (c *Controller) JumpToNextSceneCell() *notebook.Cell {
	return c.jump(1)
}

// JumpToPreviousSceneCell focuses the previous active-scene member before
// the focused cell and returns it, or nil when there is none.
func (c *Controller) JumpToPreviousSceneCell() *notebook.Cell {
	return c.jump(-1)
}

func (c *Controller) jump(step int) *notebook.Cell {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := c.current()
	if v == nil {
		return nil
	}
	focus := v.ActiveCell()
	if focus == nil {
		return nil
	}
	cells := v.Cells()
	start := v.IndexOf(focus)
	if start < 0 {
		return nil
	}
	tag := SceneTag(c.store.ActiveScene(v.Metadata()))
	for i := start + step; i >= 0 && i < len(cells); i += step {
		if notebook.Flag(cells[i].Metadata(), tag) {
			v.ExpandParent(cells[i])
			v.Activate(cells[i])
			return cells[i]
		}
	}
	return nil
}
