package scenes

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"nbscenes/internal/notebook"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func (c *Controller) stateOf(k *notebook.Kernel) kernelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kernelStates[k.ID()]
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel")
	}
}

// kernelFixture attaches a view bound to a fresh kernel whose session is
// ready, with init scene "Setup" containing cell 0.
func kernelFixture(t *testing.T) (*fixture, *notebook.Kernel) {
	t.Helper()
	doc := newDoc("nb.ipynb", codeCells(2)...)
	NewStore("").Save(doc.Metadata(), SceneSet{Scenes: []string{"Setup", "Main"}, ActiveScene: "Main", InitScene: "Setup"})
	doc.Cells()[0].Metadata().Set(SceneTag("Setup"), true)

	f := &fixture{tracker: notebook.NewTracker(), exec: &recordingExecutor{}, doc: doc}
	f.ctrl = NewController(f.tracker, f.exec, DefaultOptions())
	t.Cleanup(f.ctrl.Close)

	kernel := notebook.NewKernel()
	session := notebook.NewSession("nb", kernel)
	f.view = notebook.NewView(doc, session)

	session.MarkReady()
	waitClosed(t, f.ctrl.AttachView(context.Background(), f.view))
	f.tracker.Add(f.view)
	return f, kernel
}

// =============================================================================
// STATE MACHINE
// =============================================================================

func TestKernel_ReadySessionIsConnecting(t *testing.T) {
	f, kernel := kernelFixture(t)
	assert.Equal(t, kernelConnecting, f.ctrl.stateOf(kernel))
}

func TestKernel_ConnectedAfterConnectingRunsInitScene(t *testing.T) {
	f, kernel := kernelFixture(t)

	kernel.SetStatus(notebook.StatusConnected)
	assert.Equal(t, []string{"c0"}, f.exec.sources())
	assert.Equal(t, kernelUntracked, f.ctrl.stateOf(kernel))

	kernel.SetStatus(notebook.StatusConnected)
	assert.Equal(t, []string{"c0"}, f.exec.sources(), "connected while untracked does nothing")

	kernel.SetStatus(notebook.StatusConnecting)
	kernel.SetStatus(notebook.StatusConnected)
	assert.Equal(t, []string{"c0", "c0"}, f.exec.sources(), "restart runs again")
}

func TestKernel_OtherStatusKeepsState(t *testing.T) {
	f, kernel := kernelFixture(t)

	kernel.SetStatus(notebook.StatusDisconnected)
	assert.Equal(t, kernelConnecting, f.ctrl.stateOf(kernel))

	kernel.SetStatus(notebook.StatusConnected)
	assert.Equal(t, []string{"c0"}, f.exec.sources())
}

func TestKernel_NoInitSceneDoesNotRun(t *testing.T) {
	f, kernel := kernelFixture(t)
	require.NoError(t, f.ctrl.ToggleInitScene("Setup"))
	require.Equal(t, "", f.ctrl.InitScene())

	kernel.SetStatus(notebook.StatusConnected)
	assert.Empty(t, f.exec.sources())
	assert.Equal(t, kernelUntracked, f.ctrl.stateOf(kernel))
}

func TestKernel_RunsInFirstViewOfKernel(t *testing.T) {
	f, kernel := kernelFixture(t)

	// A second view of a different document on the same kernel is never
	// chosen because the first one was registered earlier.
	otherDoc := newDoc("other.ipynb", codeCells(1)...)
	NewStore("").Save(otherDoc.Metadata(), SceneSet{Scenes: []string{"Setup"}, ActiveScene: "Setup", InitScene: "Setup"})
	otherDoc.Cells()[0].SetSource("other")
	otherDoc.Cells()[0].Metadata().Set(SceneTag("Setup"), true)
	other := notebook.NewView(otherDoc, f.view.Session())
	waitClosed(t, f.ctrl.AttachView(context.Background(), other))
	f.tracker.Add(other)

	kernel.SetStatus(notebook.StatusConnected)
	assert.Equal(t, []string{"c0"}, f.exec.sources())
}

func TestKernel_ListenerInstalledOnce(t *testing.T) {
	f, kernel := kernelFixture(t)
	second := notebook.NewView(f.doc, f.view.Session())
	waitClosed(t, f.ctrl.AttachView(context.Background(), second))

	assert.Equal(t, 1, kernel.StatusChanged().Len())

	kernel.SetStatus(notebook.StatusConnected)
	assert.Equal(t, []string{"c0"}, f.exec.sources(), "one run per connect")
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestAttachView_WaitsForSession(t *testing.T) {
	f := newFixture(t, newDoc("nb.ipynb", codeCells(1)...), "A")
	kernel := notebook.NewKernel()
	session := notebook.NewSession("late", kernel)
	view := notebook.NewView(f.doc, session)

	done := f.ctrl.AttachView(context.Background(), view)
	select {
	case <-done:
		t.Fatal("attached before the session was ready")
	default:
	}
	assert.Equal(t, 0, kernel.StatusChanged().Len())

	session.MarkReady()
	waitClosed(t, done)
	assert.Equal(t, 1, kernel.StatusChanged().Len())
}

func TestAttachView_ContextCancelled(t *testing.T) {
	f := newFixture(t, newDoc("nb.ipynb"), "A")
	kernel := notebook.NewKernel()
	view := notebook.NewView(f.doc, notebook.NewSession("never", kernel))

	ctx, cancel := context.WithCancel(context.Background())
	done := f.ctrl.AttachView(ctx, view)
	cancel()
	waitClosed(t, done)
	assert.Equal(t, 0, kernel.StatusChanged().Len())
}

func TestClose_StopsPendingWaitsAndListeners(t *testing.T) {
	f, kernel := kernelFixture(t)
	pending := notebook.NewSession("pending", notebook.NewKernel())
	done := f.ctrl.AttachView(context.Background(), notebook.NewView(f.doc, pending))

	f.ctrl.Close()
	waitClosed(t, done)
	assert.Equal(t, 0, kernel.StatusChanged().Len())

	kernel.SetStatus(notebook.StatusConnected)
	assert.Empty(t, f.exec.sources())

	// Close is safe to call again from t.Cleanup.
	f.ctrl.Close()
}

func TestTrackerAddAttachesView(t *testing.T) {
	tracker := notebook.NewTracker()
	exec := &recordingExecutor{}
	ctrl := NewController(tracker, exec, DefaultOptions())
	defer ctrl.Close()

	doc := newDoc("nb.ipynb", codeCells(1)...)
	NewStore("").Save(doc.Metadata(), SceneSet{Scenes: []string{"A"}, ActiveScene: "A", InitScene: "A"})
	doc.Cells()[0].Metadata().Set(SceneTag("A"), true)
	kernel := notebook.NewKernel()
	session := notebook.NewSession("nb", kernel)
	view := notebook.NewView(doc, session)

	tracker.Add(view)
	assert.True(t, view.CellAt(0).HasClass("scene-cell"))

	session.MarkReady()
	require.Eventually(t, func() bool { return kernel.StatusChanged().Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	kernel.SetStatus(notebook.StatusConnecting)
	kernel.SetStatus(notebook.StatusConnected)
	assert.Equal(t, []string{"c0"}, exec.sources())
}
