package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nbscenes/internal/config"
	"nbscenes/internal/notebook"
	"nbscenes/internal/scenes"
	"nbscenes/internal/watch"
)

// resetFlags restores every flag to its default so consecutive Execute calls
// do not see each other's values.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func runCLI(t *testing.T, ws string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	t.Cleanup(func() { workspace = "" })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--workspace", ws}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, ws string, args ...string) string {
	t.Helper()
	out, err := runCLI(t, ws, args...)
	require.NoError(t, err, out)
	return out
}

func codeCell(src string, meta map[string]any) *notebook.CellModel {
	c := notebook.NewCellModel(notebook.CellCode, src)
	for k, v := range meta {
		c.Metadata().Set(k, v)
	}
	return c
}

func writeNotebook(t *testing.T, dir, name string, cells ...*notebook.CellModel) string {
	t.Helper()
	path := filepath.Join(dir, name)
	doc := notebook.NewDocument(path)
	for _, c := range cells {
		doc.AppendCell(c)
	}
	require.NoError(t, doc.Save())
	return path
}

func reload(t *testing.T, path string) (*notebook.Document, scenes.SceneSet) {
	t.Helper()
	doc, err := notebook.Load(path)
	require.NoError(t, err)
	set, ok := scenes.NewStore("").Load(doc.Metadata())
	require.True(t, ok)
	return doc, set
}

func flagged(doc *notebook.Document, scene string) []int {
	var out []int
	for i, c := range doc.Cells() {
		if notebook.Flag(c.Metadata(), scenes.SceneTag(scene)) {
			out = append(out, i)
		}
	}
	return out
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	t.Setenv("SCENES_INTERPRETER", "sh")
}

// =============================================================================
// SCENE LIFECYCLE
// =============================================================================

func TestCLI_SceneLifecycle(t *testing.T) {
	ws := t.TempDir()
	path := writeNotebook(t, ws, "nb.ipynb", codeCell("a", nil), codeCell("b", nil))

	out := mustRun(t, ws, "list", path)
	assert.Contains(t, out, "nb.ipynb")
	assert.Contains(t, out, scenes.DefaultSceneName)

	mustRun(t, ws, "create", path, "Plots")
	mustRun(t, ws, "create", path, "Setup")
	mustRun(t, ws, "rename", path, "Plots", "Charts")
	mustRun(t, ws, "init", path, "Setup")
	mustRun(t, ws, "activate", path, "Setup")
	mustRun(t, ws, "move", path, "up")
	out = mustRun(t, ws, "duplicate", path, "Setup copy")
	assert.Contains(t, out, "(init)")

	_, set := reload(t, path)
	want := scenes.SceneSet{
		Scenes:      []string{scenes.DefaultSceneName, "Setup", "Charts", "Setup copy"},
		ActiveScene: "Setup",
		InitScene:   "Setup",
	}
	if diff := cmp.Diff(want, set); diff != "" {
		t.Errorf("scene set mismatch (-want +got):\n%s", diff)
	}

	mustRun(t, ws, "activate", path, "Setup copy")
	mustRun(t, ws, "delete", path, "Setup copy")
	_, set = reload(t, path)
	assert.Equal(t, "Charts", set.ActiveScene, "deleting the last scene falls back to the new last")
	assert.NotContains(t, set.Scenes, "Setup copy")
}

func TestCLI_Errors(t *testing.T) {
	ws := t.TempDir()
	path := writeNotebook(t, ws, "nb.ipynb", codeCell("a", nil))

	mustRun(t, ws, "create", path, "A")
	_, err := runCLI(t, ws, "create", path, "A")
	assert.ErrorIs(t, err, scenes.ErrSceneExists)

	_, err = runCLI(t, ws, "delete", path, "nope")
	assert.ErrorIs(t, err, scenes.ErrSceneNotFound)

	_, err = runCLI(t, ws, "rename", path, "A", " ")
	assert.ErrorIs(t, err, scenes.ErrInvalidSceneName)

	_, err = runCLI(t, ws, "move", path, "sideways")
	assert.Error(t, err)

	_, err = runCLI(t, ws, "toggle", path, "--cells", "7")
	assert.Error(t, err)

	_, err = runCLI(t, ws, "list", filepath.Join(ws, "missing.ipynb"))
	assert.Error(t, err)
}

// =============================================================================
// MEMBERSHIP
// =============================================================================

func TestCLI_ToggleAndJump(t *testing.T) {
	ws := t.TempDir()
	path := writeNotebook(t, ws, "nb.ipynb",
		codeCell("a", nil), codeCell("b", nil), codeCell("c", nil), codeCell("d", nil))

	mustRun(t, ws, "toggle", path, "--cells", "1,3")
	doc, set := reload(t, path)
	assert.Equal(t, []int{1, 3}, flagged(doc, set.ActiveScene))
	tags, _ := notebook.StringSlice(mustGet(t, doc.Cells()[1].Metadata(), scenes.TagsKey))
	assert.Contains(t, tags, "ActiveScene")

	out := mustRun(t, ws, "jump", path, "--from", "1")
	assert.Equal(t, "3", strings.TrimSpace(out))
	out = mustRun(t, ws, "jump", path, "--from", "3", "--prev")
	assert.Equal(t, "1", strings.TrimSpace(out))
	out = mustRun(t, ws, "jump", path, "--from", "3")
	assert.Contains(t, out, "no scene cell")

	// Focus on a member: both leave.
	mustRun(t, ws, "toggle", path, "--cells", "3,1")
	doc, set = reload(t, path)
	assert.Empty(t, flagged(doc, set.ActiveScene))
	assert.False(t, doc.Cells()[1].Metadata().Has(scenes.TagsKey))
}

func mustGet(t *testing.T, md notebook.Metadata, key string) any {
	t.Helper()
	v, ok := md.Get(key)
	require.True(t, ok, key)
	return v
}

func TestCLI_ImportLegacy(t *testing.T) {
	ws := t.TempDir()
	path := writeNotebook(t, ws, "nb.ipynb",
		codeCell("setup", map[string]any{"init_cell": true}), codeCell("work", nil))

	out := mustRun(t, ws, "import-legacy", path)
	assert.Contains(t, out, "imported")

	doc, set := reload(t, path)
	assert.Equal(t, "Legacy Init", set.InitScene)
	assert.Equal(t, "Legacy Init", set.ActiveScene)
	assert.Equal(t, []int{0}, flagged(doc, "Legacy Init"))

	out = mustRun(t, ws, "import-legacy", path)
	assert.Contains(t, out, "nothing to import")
}

func TestCLI_ImportLegacyRunsOnce(t *testing.T) {
	ws := t.TempDir()
	path := writeNotebook(t, ws, "nb.ipynb",
		codeCell("setup", map[string]any{"init_cell": true}),
		notebook.NewCellModel(notebook.CellMarkdown, "# notes"))

	mustRun(t, ws, "import-legacy", path)
	mustRun(t, ws, "create", path, "A")
	mustRun(t, ws, "toggle", path, "--cells", "1")
	mustRun(t, ws, "activate", path, "A")

	out := mustRun(t, ws, "import-legacy", path)
	assert.Contains(t, out, "nothing to import")
	doc, set := reload(t, path)
	assert.Equal(t, "A", set.ActiveScene)
	assert.Equal(t, []int{0, 1}, flagged(doc, "Legacy Init"))
}

// =============================================================================
// EXECUTION
// =============================================================================

func TestCLI_RunWritesOutputs(t *testing.T) {
	requireShell(t)
	ws := t.TempDir()
	path := writeNotebook(t, ws, "nb.ipynb", codeCell("echo one", nil), codeCell("echo two", nil))

	mustRun(t, ws, "toggle", path, "--cells", "1")
	out := mustRun(t, ws, "run", path)
	assert.Contains(t, out, "ran 1 cells")

	doc, _ := reload(t, path)
	assert.Empty(t, doc.Cells()[0].Outputs())
	outputs := doc.Cells()[1].Outputs()
	require.Len(t, outputs, 1)
	assert.Contains(t, fmt.Sprint(outputs[0]["text"]), "two")
	n, ok := doc.Cells()[1].ExecutionCount()
	require.True(t, ok)
	assert.Equal(t, 1, n)

	out = mustRun(t, ws, "history", "--executions", path)
	assert.Contains(t, out, "nb.ipynb")
	assert.Contains(t, out, "ok")
}

func TestCLI_StartRunsInitScene(t *testing.T) {
	requireShell(t)
	ws := t.TempDir()
	path := writeNotebook(t, ws, "nb.ipynb", codeCell("echo boot", nil), codeCell("echo other", nil))

	mustRun(t, ws, "create", path, "Boot")
	mustRun(t, ws, "activate", path, "Boot")
	mustRun(t, ws, "toggle", path, "--cells", "0")
	mustRun(t, ws, "init", path, "Boot")

	out := mustRun(t, ws, "start", path)
	assert.Contains(t, out, `ran init scene "Boot"`)

	doc, _ := reload(t, path)
	require.Len(t, doc.Cells()[0].Outputs(), 1)
	assert.Contains(t, fmt.Sprint(doc.Cells()[0].Outputs()[0]["text"]), "boot")
	assert.Empty(t, doc.Cells()[1].Outputs())
}

func TestCLI_StartWithoutInitScene(t *testing.T) {
	ws := t.TempDir()
	path := writeNotebook(t, ws, "nb.ipynb", codeCell("x", nil))

	out := mustRun(t, ws, "start", path)
	assert.Contains(t, out, "no init scene")
	doc, _ := reload(t, path)
	assert.Empty(t, doc.Cells()[0].Outputs())
}

// =============================================================================
// INSPECTION
// =============================================================================

func TestCLI_StatusAcrossNotebooks(t *testing.T) {
	ws := t.TempDir()
	var paths []string
	for i := 0; i < 5; i++ {
		paths = append(paths, writeNotebook(t, ws, "nb"+strconv.Itoa(i)+".ipynb",
			codeCell("x", map[string]any{"init_cell": i%2 == 0})))
	}

	out := mustRun(t, ws, append([]string{"status"}, paths...)...)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 6)
	assert.Contains(t, lines[0], "NOTEBOOK")
	for i, line := range lines[1:] {
		assert.True(t, strings.HasPrefix(line, "nb"+strconv.Itoa(i)+".ipynb"), line)
		fields := strings.Fields(line)
		assert.Equal(t, strconv.Itoa((i+1)%2), fields[len(fields)-1], "legacy cell count")
	}

	// status does not write anything back.
	doc, err := notebook.Load(paths[0])
	require.NoError(t, err)
	assert.False(t, doc.Metadata().Has(scenes.MetadataKey))
}

func TestPrintTable_PlainColumns(t *testing.T) {
	var buf bytes.Buffer
	printTable(&buf, []string{"NAME", "N"}, [][]string{{"alpha", "1"}, {"b", "22"}})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"NAME", "N"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"alpha", "1"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"b", "22"}, strings.Fields(lines[2]))
	assert.Equal(t, strings.Index(lines[1], "1"), strings.Index(lines[2], "22"), "columns are aligned")
	assert.NotContains(t, buf.String(), "│")
}

func TestCLI_ShowMarksSceneCells(t *testing.T) {
	ws := t.TempDir()
	path := writeNotebook(t, ws, "nb.ipynb",
		notebook.NewCellModel(notebook.CellMarkdown, "## Intro"), codeCell("print(1)", nil))

	mustRun(t, ws, "toggle", path, "--cells", "1")
	out := mustRun(t, ws, "show", path)
	assert.Contains(t, out, "Intro")
	assert.Contains(t, out, "in scene")
	assert.Contains(t, out, "print(1)")
}

func TestCLI_HistoryListsOperations(t *testing.T) {
	ws := t.TempDir()
	path := writeNotebook(t, ws, "nb.ipynb", codeCell("x", nil))

	mustRun(t, ws, "create", path, "A")
	mustRun(t, ws, "rename", path, "A", "B")

	out := mustRun(t, ws, "history", path)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "rename")
	assert.Contains(t, lines[2], "create")

	out = mustRun(t, ws, "history", "--limit", "1")
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 2)
}

func TestCLI_Config(t *testing.T) {
	ws := t.TempDir()

	out := mustRun(t, ws, "config", "init")
	assert.Contains(t, out, "wrote")
	_, err := os.Stat(config.DefaultPath(ws))
	require.NoError(t, err)

	out = mustRun(t, ws, "config", "init")
	assert.Contains(t, out, "already exists")

	out = mustRun(t, ws, "config", "show")
	assert.Contains(t, out, "default_scene: Default Scene")
}

func TestCLI_ConfigRenamesDefaults(t *testing.T) {
	ws := t.TempDir()
	c := config.DefaultConfig()
	c.Scenes.DefaultScene = "Main"
	c.Journal.Enabled = false
	require.NoError(t, c.Save(config.DefaultPath(ws)))

	path := writeNotebook(t, ws, "nb.ipynb", codeCell("x", nil))
	mustRun(t, ws, "toggle", path, "--cells", "0")

	doc, err := notebook.Load(path)
	require.NoError(t, err)
	assert.True(t, notebook.Flag(doc.Cells()[0].Metadata(), scenes.SceneTag("Main")))
	_, err = os.Stat(c.JournalPath(ws))
	assert.True(t, os.IsNotExist(err), "journal disabled")
}

// =============================================================================
// WATCH
// =============================================================================

func TestReconcile_ExternalLegacyEdit(t *testing.T) {
	ws := t.TempDir()
	workspace = ws
	cfg = config.DefaultConfig()
	t.Cleanup(func() { workspace = "" })

	path := writeNotebook(t, ws, "nb.ipynb", codeCell("a", nil), codeCell("b", nil))
	s, err := openNotebook(path, false)
	require.NoError(t, err)
	defer s.Close()

	w, err := watch.New(0)
	require.NoError(t, err)
	defer w.Stop()
	require.NoError(t, w.Add(s.doc))

	// Another tool flags cell 1 as an init cell.
	external := notebook.NewDocument(path)
	external.AppendCell(codeCell("a", nil))
	external.AppendCell(codeCell("b", map[string]any{"init_cell": true}))
	data, err := external.Encode()
	require.NoError(t, err)
	require.NoError(t, s.doc.Reload(data))

	require.NoError(t, reconcile(context.Background(), w, s))

	doc, set := reload(t, path)
	assert.Equal(t, "Legacy Init", set.InitScene)
	assert.Equal(t, []int{1}, flagged(doc, "Legacy Init"))

	// Nothing left to change: the file is not rewritten.
	before, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, reconcile(context.Background(), w, s))
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
