package scenes

import (
	"context"

	"nbscenes/internal/logging"
	"nbscenes/internal/notebook"
)

// kernelState is the transient per-kernel auto-run state. A kernel without
// an entry is untracked.
type kernelState int

const (
	kernelUntracked kernelState = iota
	kernelConnecting
)

// AttachView reconciles legacy init cells of view, projects the active scene
// onto it and, once its session is ready, starts following its kernel. The
// returned channel is closed when the kernel is followed or the wait was
// abandoned because ctx or the controller was closed. Attaching a view again
// returns the channel of the first attach.
func (c *Controller) AttachView(ctx context.Context, view *notebook.View) <-chan struct{} {
	done := make(chan struct{})
	if view == nil {
		close(done)
		return done
	}
	c.mu.Lock()
	if prev, ok := c.attached[view.ID()]; ok {
		c.mu.Unlock()
		return prev
	}
	c.attached[view.ID()] = done
	c.mu.Unlock()

	if !c.ImportLegacyInitializationCells(view) {
		c.UpdateCellClassesAndTags(view, "", nil)
	}

	session := view.Session()
	if session == nil || session.Kernel() == nil {
		close(done)
		return done
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(done)
		select {
		case <-session.Ready():
			c.followKernel(session.Kernel())
		case <-ctx.Done():
			logging.KernelDebug("stopped waiting for session %s: %v", session.Name(), ctx.Err())
		case <-c.ctx.Done():
		}
	}()
	return done
}

// followKernel records k as connecting and installs its status listener.
// Each kernel gets at most one listener.
func (c *Controller) followKernel(k *notebook.Kernel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		return
	}
	c.kernelStates[k.ID()] = kernelConnecting
	if _, ok := c.kernelListeners[k.ID()]; ok {
		return
	}
	c.kernelListeners[k.ID()] = k.StatusChanged().Connect(func(change notebook.StatusChange) {
		c.onKernelStatus(change.Kernel, change.Status)
	})
	logging.KernelDebug("following kernel %s", k.ID())
}

// onKernelStatus advances the state machine. Only a connected event that
// follows a connecting one runs the init scene.
func (c *Controller) onKernelStatus(k *notebook.Kernel, status notebook.ConnectionStatus) {
	c.mu.Lock()
	var (
		target *notebook.View
		scene  string
	)
	switch status {
	case notebook.StatusConnecting:
		c.kernelStates[k.ID()] = kernelConnecting
	case notebook.StatusConnected:
		if c.kernelStates[k.ID()] == kernelConnecting {
			target = c.firstViewOfKernel(k)
			if target != nil {
				scene = c.store.InitScene(target.Metadata())
			}
		}
		delete(c.kernelStates, k.ID())
	}
	c.mu.Unlock()

	if target == nil || scene == "" {
		return
	}
	logging.Kernel("kernel %s connected, running init scene %q in %s", k.ID(), scene, target.Document().Name())
	c.RunSceneInNotebook(target, scene)
}

func (c *Controller) firstViewOfKernel(k *notebook.Kernel) *notebook.View {
	for _, v := range c.workspace.Views() {
		if s := v.Session(); s != nil && s.Kernel() == k {
			return v
		}
	}
	return nil
}
