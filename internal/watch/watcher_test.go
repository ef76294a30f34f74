package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nbscenes/internal/notebook"
)

const initial = `{"nbformat": 4, "nbformat_minor": 5, "metadata": {}, "cells": [
 {"cell_type": "code", "id": "a", "metadata": {}, "outputs": [], "source": "x = 1", "execution_count": null}
]}`

const edited = `{"nbformat": 4, "nbformat_minor": 5, "metadata": {}, "cells": [
 {"cell_type": "code", "id": "a", "metadata": {"init_cell": true}, "outputs": [], "source": "x = 2", "execution_count": null}
]}`

func setup(t *testing.T) (*NotebookWatcher, *notebook.Document, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nb.ipynb")
	require.NoError(t, os.WriteFile(path, []byte(initial), 0644))
	doc, err := notebook.Load(path)
	require.NoError(t, err)

	w, err := New(20 * time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, w.Add(doc))
	return w, doc, path
}

func TestWatcher_ReloadsExternalEdit(t *testing.T) {
	w, doc, path := setup(t)
	var reloads atomic.Int32
	w.OnReload(func(d *notebook.Document) {
		assert.Same(t, doc, d)
		reloads.Add(1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte(edited), 0644))

	require.Eventually(t, func() bool { return reloads.Load() >= 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "x = 2", doc.Cells()[0].Source())
	assert.True(t, notebook.Flag(doc.Cells()[0].Metadata(), "init_cell"))
	assert.GreaterOrEqual(t, w.Stats().Reloads, 1)
}

func TestWatcher_SkipsOwnSave(t *testing.T) {
	w, doc, _ := setup(t)
	var reloads atomic.Int32
	w.OnReload(func(*notebook.Document) { reloads.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	doc.Cells()[0].SetSource("x = 3")
	require.NoError(t, w.Save(doc))

	require.Eventually(t, func() bool { return w.Stats().Events > 0 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return w.Stats().SkippedOwn > 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(0), reloads.Load())
	assert.Equal(t, "x = 3", doc.Cells()[0].Source())
}

func TestWatcher_IgnoresInvalidContent(t *testing.T) {
	w, doc, path := setup(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
	require.Eventually(t, func() bool { return w.Stats().Errors > 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "x = 1", doc.Cells()[0].Source())
}

func TestWatcher_IgnoresUnrelatedFiles(t *testing.T) {
	w, _, path := setup(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	require.NoError(t, w.Start(ctx))

	other := filepath.Join(filepath.Dir(path), "notes.txt")
	require.NoError(t, os.WriteFile(other, []byte("hi"), 0644))
	time.Sleep(100 * time.Millisecond)

	w.Stop()
	assert.Equal(t, 0, w.Stats().Events)
}
