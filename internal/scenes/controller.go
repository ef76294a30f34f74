package scenes

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"nbscenes/internal/logging"
	"nbscenes/internal/notebook"
)

// Workspace is the set of open views the controller keeps in sync.
// *notebook.Tracker implements it.
type Workspace interface {
	CurrentView() *notebook.View
	Views() []*notebook.View
	ViewAdded() *notebook.Signal[*notebook.View]
}

// ExecuteOptions are passed with every cell submission.
type ExecuteOptions struct {
	RecordTiming bool
}

// Executor submits a code cell for asynchronous execution. Submit must not
// block on the cell finishing.
type Executor interface {
	Submit(cell *notebook.Cell, session *notebook.Session, opts ExecuteOptions) error
}

// Options configures naming and the visual projection.
type Options struct {
	DefaultScene string
	LegacyScene  string
	MarkerClass  string
	ActiveTag    string
}

// DefaultOptions returns the stock names.
func DefaultOptions() Options {
	return Options{
		DefaultScene: DefaultSceneName,
		LegacyScene:  "Legacy Init",
		MarkerClass:  "scene-cell",
		ActiveTag:    "ActiveScene",
	}
}

// Controller runs scene lifecycle operations for the focused notebook and
// propagates them into cell metadata and every view of the same document.
//
// Public methods are serialized; change notifications are delivered after the
// lock is released, so subscribers may call back into the controller.
type Controller struct {
	mu        sync.Mutex
	workspace Workspace
	store     *Store
	executor  Executor
	opts      Options

	changed notebook.Signal[struct{}]

	kernelStates    map[string]kernelState
	kernelListeners map[string]func()
	attached        map[string]<-chan struct{}

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	detachView func()
}

// NewController wires a controller to workspace. Views added to the
// workspace afterwards are attached automatically.
func NewController(workspace Workspace, executor Executor, opts Options) *Controller {
	defaults := DefaultOptions()
	if opts.DefaultScene == "" {
		opts.DefaultScene = defaults.DefaultScene
	}
	if opts.LegacyScene == "" {
		opts.LegacyScene = defaults.LegacyScene
	}
	if opts.MarkerClass == "" {
		opts.MarkerClass = defaults.MarkerClass
	}
	if opts.ActiveTag == "" {
		opts.ActiveTag = defaults.ActiveTag
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		workspace:       workspace,
		store:           NewStore(opts.DefaultScene),
		executor:        executor,
		opts:            opts,
		kernelStates:    make(map[string]kernelState),
		kernelListeners: make(map[string]func()),
		attached:        make(map[string]<-chan struct{}),
		ctx:             ctx,
		cancel:          cancel,
	}
	c.detachView = workspace.ViewAdded().Connect(func(v *notebook.View) {
		c.AttachView(c.ctx, v)
	})
	return c
}

// Store exposes the underlying SceneStore.
func (c *Controller) Store() *Store { return c.store }

// Subscribe registers fn for the "scenes changed" notification.
func (c *Controller) Subscribe(fn func()) (unsubscribe func()) {
	return c.changed.Connect(func(struct{}) { fn() })
}

// mutate runs fn under the lock and emits one notification if fn reports a
// change.
func (c *Controller) mutate(fn func() (bool, error)) error {
	c.mu.Lock()
	changed, err := fn()
	c.mu.Unlock()
	if changed {
		c.changed.Emit(struct{}{})
	}
	return err
}

func (c *Controller) current() *notebook.View {
	return c.workspace.CurrentView()
}

func metadataOf(v *notebook.View) notebook.Metadata {
	if v == nil {
		return nil
	}
	return v.Metadata()
}

// NotebookTitle is the file name of the focused notebook, "" when none.
func (c *Controller) NotebookTitle() string {
	v := c.current()
	if v == nil {
		return ""
	}
	return v.Document().Name()
}

// Scenes returns the focused notebook's scene names.
func (c *Controller) Scenes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Scenes(metadataOf(c.current()))
}

// ActiveScene returns the active scene of target, or of the focused
// notebook when target is nil.
func (c *Controller) ActiveScene(target *notebook.View) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if target == nil {
		target = c.current()
	}
	return c.store.ActiveScene(metadataOf(target))
}

// InitScene returns the focused notebook's init scene, "" when unset.
func (c *Controller) InitScene() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.InitScene(metadataOf(c.current()))
}

// ToggleInitScene sets or clears name as the init scene.
func (c *Controller) ToggleInitScene(name string) error {
	return c.mutate(func() (bool, error) {
		v := c.current()
		if v == nil {
			return false, nil
		}
		set, _ := c.store.Load(v.Metadata())
		if set.InitScene != name && !set.Has(name) {
			return false, fmt.Errorf("%w: %q", ErrSceneNotFound, name)
		}
		c.store.ToggleInitScene(v.Metadata(), name)
		logging.Scenes("toggled init scene %q in %s (now %q)", name, v.Document().Name(), c.store.InitScene(v.Metadata()))
		c.resyncLocked(v.Document())
		return true, nil
	})
}

// SetActiveScene selects name in the focused notebook.
func (c *Controller) SetActiveScene(name string) error {
	return c.mutate(func() (bool, error) {
		v := c.current()
		if v == nil {
			return false, nil
		}
		set, _ := c.store.Load(v.Metadata())
		if !set.Has(name) {
			return false, fmt.Errorf("%w: %q", ErrSceneNotFound, name)
		}
		c.store.SetActiveScene(v.Metadata(), name)
		logging.ScenesDebug("active scene of %s is %q", v.Document().Name(), name)
		c.resyncLocked(v.Document())
		return true, nil
	})
}

// RenameScene renames oldName to newName, carrying init/active selection
// and every cell's membership over.
func (c *Controller) RenameScene(oldName, newName string) error {
	return c.mutate(func() (bool, error) {
		v := c.current()
		if v == nil {
			return false, nil
		}
		md := v.Metadata()
		set, _ := c.store.Load(md)
		if set.Has(newName) {
			return false, fmt.Errorf("%w: %q", ErrSceneExists, newName)
		}
		if err := ValidateSceneName(newName); err != nil {
			return false, err
		}
		idx := slices.Index(set.Scenes, oldName)
		if idx < 0 {
			return false, fmt.Errorf("%w: %q", ErrSceneNotFound, oldName)
		}

		if set.InitScene == oldName {
			set.InitScene = newName
		}
		if set.ActiveScene == oldName {
			set.ActiveScene = newName
		}
		set.Scenes[idx] = newName
		c.store.Save(md, set)

		oldTag, newTag := SceneTag(oldName), SceneTag(newName)
		moved := 0
		for _, cell := range v.Cells() {
			cmd := cell.Metadata()
			member := notebook.Flag(cmd, oldTag)
			cmd.Delete(oldTag)
			if member {
				cmd.Set(newTag, true)
				moved++
			}
		}
		logging.Scenes("renamed scene %q to %q in %s (%d cells)", oldName, newName, v.Document().Name(), moved)
		c.resyncLocked(v.Document())
		return true, nil
	})
}

// DeleteScene removes name and its membership tags. The last remaining
// scene cannot be deleted.
func (c *Controller) DeleteScene(name string) error {
	return c.mutate(func() (bool, error) {
		v := c.current()
		if v == nil {
			return false, nil
		}
		md := v.Metadata()
		set, _ := c.store.Load(md)
		if len(set.Scenes) == 1 {
			logging.ScenesDebug("refusing to delete the last scene %q", set.Scenes[0])
			return false, nil
		}
		idx := slices.Index(set.Scenes, name)
		if idx < 0 {
			return false, fmt.Errorf("%w: %q", ErrSceneNotFound, name)
		}

		if set.InitScene == name {
			set.InitScene = ""
		}
		tag := SceneTag(name)
		for _, cell := range v.Cells() {
			cell.Metadata().Delete(tag)
		}

		set.Scenes = append(set.Scenes[:idx:idx], set.Scenes[idx+1:]...)
		if set.ActiveScene == name {
			if idx < len(set.Scenes) {
				set.ActiveScene = set.Scenes[idx]
			} else {
				set.ActiveScene = set.Scenes[len(set.Scenes)-1]
			}
		}
		c.store.Save(md, set)

		logging.Scenes("deleted scene %q from %s (active now %q)", name, v.Document().Name(), set.ActiveScene)
		c.resyncLocked(v.Document())
		return true, nil
	})
}

// CreateNewEmptyScene appends a scene without members.
func (c *Controller) CreateNewEmptyScene(name string) error {
	return c.mutate(func() (bool, error) {
		return c.createLocked(name)
	})
}

func (c *Controller) createLocked(name string) (bool, error) {
	v := c.current()
	if v == nil {
		return false, nil
	}
	md := v.Metadata()
	set, _ := c.store.Load(md)
	if set.Has(name) {
		return false, fmt.Errorf("%w: %q", ErrSceneExists, name)
	}
	if err := ValidateSceneName(name); err != nil {
		return false, err
	}
	set.Scenes = append(set.Scenes, name)
	c.store.Save(md, set)
	logging.Scenes("created scene %q in %s", name, v.Document().Name())
	return true, nil
}

// DuplicateActiveScene creates newName holding every member of the active
// scene. Existing memberships are untouched.
func (c *Controller) DuplicateActiveScene(newName string) error {
	return c.mutate(func() (bool, error) {
		changed, err := c.createLocked(newName)
		if err != nil || !changed {
			return changed, err
		}
		v := c.current()
		source := SceneTag(c.store.ActiveScene(v.Metadata()))
		target := SceneTag(newName)
		copied := 0
		for _, cell := range v.Cells() {
			if notebook.Flag(cell.Metadata(), source) {
				cell.Metadata().Set(target, true)
				copied++
			}
		}
		logging.ScenesDebug("duplicated %d memberships into %q", copied, newName)
		c.resyncLocked(v.Document())
		return true, nil
	})
}

// MoveActiveSceneUp swaps the active scene with its predecessor.
func (c *Controller) MoveActiveSceneUp() {
	_ = c.mutate(func() (bool, error) { return c.moveLocked(-1), nil })
}

// MoveActiveSceneDown swaps the active scene with its successor.
func (c *Controller) MoveActiveSceneDown() {
	_ = c.mutate(func() (bool, error) { return c.moveLocked(1), nil })
}

func (c *Controller) moveLocked(delta int) bool {
	v := c.current()
	if v == nil {
		return false
	}
	md := v.Metadata()
	set, _ := c.store.Load(md)
	idx := slices.Index(set.Scenes, set.ActiveScene)
	other := idx + delta
	if idx < 0 || other < 0 || other >= len(set.Scenes) {
		return false
	}
	set.Scenes[idx], set.Scenes[other] = set.Scenes[other], set.Scenes[idx]
	c.store.Save(md, set)
	c.resyncLocked(v.Document())
	return true
}

// resyncLocked projects the active scene onto every view of doc.
func (c *Controller) resyncLocked(doc *notebook.Document) {
	var views []*notebook.View
	for _, v := range c.workspace.Views() {
		if v.Document() == doc {
			views = append(views, v)
		}
	}
	if len(views) == 0 {
		return
	}
	active := c.store.ActiveScene(doc.Metadata())
	if active == "" {
		return
	}
	for _, v := range views {
		c.updateLocked(v, active, nil)
	}
}

// Close stops pending session waits and drops kernel listeners.
func (c *Controller) Close() {
	c.cancel()
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detachView != nil {
		c.detachView()
		c.detachView = nil
	}
	for id, off := range c.kernelListeners {
		off()
		delete(c.kernelListeners, id)
	}
	c.kernelStates = make(map[string]kernelState)
	c.attached = make(map[string]<-chan struct{})
}
