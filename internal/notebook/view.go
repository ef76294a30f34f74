package notebook

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Cell is one view's widget for a CellModel: the model is shared with every
// other view of the document, the annotation state is not.
type Cell struct {
	model     *CellModel
	mu        sync.RWMutex
	classes   map[string]struct{}
	selected  bool
	collapsed bool
}

func newCell(model *CellModel) *Cell {
	return &Cell{model: model, classes: make(map[string]struct{})}
}

func (c *Cell) Model() *CellModel  { return c.model }
func (c *Cell) Type() CellType     { return c.model.cellType }
func (c *Cell) IsCode() bool       { return c.model.IsCode() }
func (c *Cell) Metadata() Metadata { return c.model.metadata }
func (c *Cell) HeadingLevel() int  { return c.model.HeadingLevel() }

func (c *Cell) AddClass(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.classes[name] = struct{}{}
}

func (c *Cell) RemoveClass(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.classes, name)
}

func (c *Cell) HasClass(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.classes[name]
	return ok
}

// Classes returns the class list sorted.
func (c *Cell) Classes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.classes))
	for k := range c.classes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (c *Cell) Selected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selected
}

func (c *Cell) SetSelected(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = v
}

// Collapsed reports whether a heading cell hides its section.
func (c *Cell) Collapsed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collapsed
}

func (c *Cell) SetCollapsed(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collapsed = v
}

// View is one open rendering of a Document.
type View struct {
	id      string
	doc     *Document
	session *Session

	mu           sync.Mutex
	cells        []*Cell
	byModel      map[*CellModel]*Cell
	active       *Cell
	recordTiming bool
}

// NewView opens a view over doc bound to session (may be nil).
func NewView(doc *Document, session *Session) *View {
	v := &View{
		id:      uuid.NewString(),
		doc:     doc,
		session: session,
		byModel: make(map[*CellModel]*Cell),
	}
	v.Cells()
	return v
}

func (v *View) ID() string          { return v.id }
func (v *View) Document() *Document { return v.doc }
func (v *View) Session() *Session   { return v.session }
func (v *View) Metadata() Metadata  { return v.doc.metadata }

func (v *View) RecordTiming() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.recordTiming
}

func (v *View) SetRecordTiming(on bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.recordTiming = on
}

// Cells returns the widgets in document order, reconciled against the
// document's current cell list.
func (v *View) Cells() []*Cell {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.syncLocked()
	out := make([]*Cell, len(v.cells))
	copy(out, v.cells)
	return out
}

func (v *View) syncLocked() {
	models := v.doc.Cells()
	if len(models) == len(v.cells) {
		same := true
		for i, m := range models {
			if v.cells[i].model != m {
				same = false
				break
			}
		}
		if same {
			return
		}
	}

	byModel := make(map[*CellModel]*Cell, len(models))
	cells := make([]*Cell, 0, len(models))
	for _, m := range models {
		c, ok := v.byModel[m]
		if !ok {
			c = newCell(m)
		}
		byModel[m] = c
		cells = append(cells, c)
	}
	v.cells = cells
	v.byModel = byModel
	if v.active != nil {
		if _, ok := byModel[v.active.model]; !ok {
			v.active = nil
		}
	}
}

// CellAt returns the widget at index i, or nil when out of range.
func (v *View) CellAt(i int) *Cell {
	cells := v.Cells()
	if i < 0 || i >= len(cells) {
		return nil
	}
	return cells[i]
}

// IndexOf returns the position of c, or -1.
func (v *View) IndexOf(c *Cell) int {
	for i, cell := range v.Cells() {
		if cell == c {
			return i
		}
	}
	return -1
}

// ActiveCell returns the focused cell, or nil.
func (v *View) ActiveCell() *Cell {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.syncLocked()
	return v.active
}

// Activate focuses c.
func (v *View) Activate(c *Cell) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.syncLocked()
	if _, ok := v.byModel[c.model]; ok {
		v.active = c
	}
}

// SelectedCells returns every selected cell in document order.
func (v *View) SelectedCells() []*Cell {
	var out []*Cell
	for _, c := range v.Cells() {
		if c.Selected() {
			out = append(out, c)
		}
	}
	return out
}

// ExpandParent uncollapses every heading above c that currently hides it.
func (v *View) ExpandParent(c *Cell) {
	cells := v.Cells()
	idx := -1
	for i, cell := range cells {
		if cell == c {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	level := c.HeadingLevel()
	if level == 0 {
		level = 7
	}
	for i := idx - 1; i >= 0 && level > 1; i-- {
		h := cells[i].HeadingLevel()
		if h == 0 || h >= level {
			continue
		}
		cells[i].SetCollapsed(false)
		level = h
	}
}

// IsHidden reports whether c sits under a collapsed heading.
func (v *View) IsHidden(c *Cell) bool {
	cells := v.Cells()
	idx := -1
	for i, cell := range cells {
		if cell == c {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	level := c.HeadingLevel()
	if level == 0 {
		level = 7
	}
	for i := idx - 1; i >= 0 && level > 1; i-- {
		h := cells[i].HeadingLevel()
		if h == 0 || h >= level {
			continue
		}
		if cells[i].Collapsed() {
			return true
		}
		level = h
	}
	return false
}
