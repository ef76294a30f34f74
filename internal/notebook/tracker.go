package notebook

import "sync"

// Tracker keeps the open views and which one has focus.
type Tracker struct {
	mu      sync.RWMutex
	views   []*View
	current *View

	viewAdded      Signal[*View]
	currentChanged Signal[*View]
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Add registers v, focuses it when nothing else is focused, and emits
// ViewAdded.
func (t *Tracker) Add(v *View) {
	t.mu.Lock()
	for _, existing := range t.views {
		if existing == v {
			t.mu.Unlock()
			return
		}
	}
	t.views = append(t.views, v)
	focus := t.current == nil
	if focus {
		t.current = v
	}
	t.mu.Unlock()

	t.viewAdded.Emit(v)
	if focus {
		t.currentChanged.Emit(v)
	}
}

// Remove forgets v; focus moves to the first remaining view.
func (t *Tracker) Remove(v *View) {
	t.mu.Lock()
	for i, existing := range t.views {
		if existing == v {
			t.views = append(t.views[:i:i], t.views[i+1:]...)
			break
		}
	}
	changed := false
	if t.current == v {
		t.current = nil
		if len(t.views) > 0 {
			t.current = t.views[0]
		}
		changed = true
	}
	current := t.current
	t.mu.Unlock()

	if changed {
		t.currentChanged.Emit(current)
	}
}

// SetCurrent focuses v, which must already be tracked.
func (t *Tracker) SetCurrent(v *View) {
	t.mu.Lock()
	found := false
	for _, existing := range t.views {
		if existing == v {
			found = true
			break
		}
	}
	if !found || t.current == v {
		t.mu.Unlock()
		return
	}
	t.current = v
	t.mu.Unlock()
	t.currentChanged.Emit(v)
}

// CurrentView returns the focused view, or nil.
func (t *Tracker) CurrentView() *View {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// ActiveCell returns the focused cell of the focused view, or nil.
func (t *Tracker) ActiveCell() *Cell {
	v := t.CurrentView()
	if v == nil {
		return nil
	}
	return v.ActiveCell()
}

// Views returns every open view.
func (t *Tracker) Views() []*View {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*View, len(t.views))
	copy(out, t.views)
	return out
}

// ViewsOf returns the open views over doc.
func (t *Tracker) ViewsOf(doc *Document) []*View {
	var out []*View
	for _, v := range t.Views() {
		if v.doc == doc {
			out = append(out, v)
		}
	}
	return out
}

func (t *Tracker) ViewAdded() *Signal[*View]      { return &t.viewAdded }
func (t *Tracker) CurrentChanged() *Signal[*View] { return &t.currentChanged }
