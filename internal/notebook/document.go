// Package notebook is the headless host model scenes operate on: nbformat v4
// documents shared by one or more views, per-view cell annotation, a tracker
// of open views, and kernel sessions with connection-status events.
package notebook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"nbscenes/internal/logging"

	"github.com/google/uuid"
)

// CellType discriminates notebook cells.
type CellType string

const (
	CellCode     CellType = "code"
	CellMarkdown CellType = "markdown"
	CellRaw      CellType = "raw"
)

// CellModel is the shared, persisted part of a cell.
type CellModel struct {
	mu             sync.RWMutex
	id             string
	writeID        bool
	cellType       CellType
	metadata       *MapMetadata
	source         string
	outputs        []map[string]any
	executionCount *int
	extra          map[string]json.RawMessage
}

// NewCellModel creates a cell with a fresh nbformat id.
func NewCellModel(cellType CellType, source string) *CellModel {
	return &CellModel{
		id:       newCellID(),
		writeID:  true,
		cellType: cellType,
		metadata: NewMapMetadata(),
		source:   source,
	}
}

func newCellID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func (c *CellModel) ID() string         { return c.id }
func (c *CellModel) Type() CellType     { return c.cellType }
func (c *CellModel) IsCode() bool       { return c.cellType == CellCode }
func (c *CellModel) Metadata() Metadata { return c.metadata }

func (c *CellModel) Source() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.source
}

func (c *CellModel) SetSource(src string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.source = src
}

// Outputs returns a copy of the output list.
func (c *CellModel) Outputs() []map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]map[string]any, len(c.outputs))
	copy(out, c.outputs)
	return out
}

func (c *CellModel) AppendOutput(output map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs = append(c.outputs, output)
}

func (c *CellModel) ClearOutputs() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs = nil
}

// ExecutionCount returns the count and whether one is set.
func (c *CellModel) ExecutionCount() (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.executionCount == nil {
		return 0, false
	}
	return *c.executionCount, true
}

func (c *CellModel) SetExecutionCount(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executionCount = &n
}

// HeadingLevel returns 1-6 for a markdown cell whose first line is an ATX
// heading, 0 otherwise.
func (c *CellModel) HeadingLevel() int {
	if c.cellType != CellMarkdown {
		return 0
	}
	line := strings.TrimLeft(c.Source(), " \n")
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level == 0 || level > 6 {
		return 0
	}
	if len(line) > level && line[level] != ' ' && line[level] != '\t' {
		return 0
	}
	return level
}

// Document is one notebook file. Views of the same file share one Document.
type Document struct {
	mu            sync.RWMutex
	path          string
	metadata      *MapMetadata
	cells         []*CellModel
	nbformat      int
	nbformatMinor int
	extra         map[string]json.RawMessage

	reloaded Signal[*Document]
}

// NewDocument returns an empty nbformat 4.5 document bound to path.
func NewDocument(path string) *Document {
	return &Document{
		path:          path,
		metadata:      NewMapMetadata(),
		nbformat:      4,
		nbformatMinor: 5,
	}
}

func (d *Document) Path() string { return d.path }

// Name is the file's base name, used as the notebook title.
func (d *Document) Name() string {
	if d.path == "" {
		return ""
	}
	return filepath.Base(d.path)
}

func (d *Document) Metadata() Metadata { return d.metadata }

// Cells returns the cells in document order.
func (d *Document) Cells() []*CellModel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*CellModel, len(d.cells))
	copy(out, d.cells)
	return out
}

// AppendCell adds c at the end of the document.
func (d *Document) AppendCell(c *CellModel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cells = append(d.cells, c)
}

// Reloaded fires after Reload swapped in new content.
func (d *Document) Reloaded() *Signal[*Document] { return &d.reloaded }

// Load reads and parses an .ipynb file.
func Load(path string) (*Document, error) {
	timer := logging.StartTimer(logging.CategoryNotebook, "Load "+path)
	defer timer.Stop()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read notebook: %w", err)
	}
	doc, err := Parse(path, data)
	if err != nil {
		return nil, err
	}
	logging.NotebookDebug("loaded %s: %d cells", path, len(doc.cells))
	return doc, nil
}

// Parse decodes nbformat v4 JSON.
func Parse(path string, data []byte) (*Document, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse notebook %s: %w", path, err)
	}

	doc := NewDocument(path)
	doc.nbformatMinor = 0
	for key, value := range raw {
		var err error
		switch key {
		case "nbformat":
			err = json.Unmarshal(value, &doc.nbformat)
		case "nbformat_minor":
			err = json.Unmarshal(value, &doc.nbformatMinor)
		case "metadata":
			err = json.Unmarshal(value, doc.metadata)
		case "cells":
			var cells []json.RawMessage
			if err = json.Unmarshal(value, &cells); err == nil {
				for i, rc := range cells {
					cell, cerr := parseCell(rc)
					if cerr != nil {
						return nil, fmt.Errorf("notebook %s cell %d: %w", path, i, cerr)
					}
					doc.cells = append(doc.cells, cell)
				}
			}
		default:
			if doc.extra == nil {
				doc.extra = make(map[string]json.RawMessage)
			}
			doc.extra[key] = value
		}
		if err != nil {
			return nil, fmt.Errorf("notebook %s field %q: %w", path, key, err)
		}
	}
	if doc.nbformat != 4 {
		return nil, fmt.Errorf("notebook %s: unsupported nbformat %d", path, doc.nbformat)
	}
	return doc, nil
}

func parseCell(data []byte) (*CellModel, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	c := &CellModel{metadata: NewMapMetadata()}
	for key, value := range raw {
		var err error
		switch key {
		case "id":
			err = json.Unmarshal(value, &c.id)
			c.writeID = true
		case "cell_type":
			err = json.Unmarshal(value, &c.cellType)
		case "metadata":
			err = json.Unmarshal(value, c.metadata)
		case "source":
			c.source, err = decodeMultiline(value)
		case "outputs":
			err = unmarshalJSON(value, &c.outputs)
		case "execution_count":
			err = json.Unmarshal(value, &c.executionCount)
		default:
			if c.extra == nil {
				c.extra = make(map[string]json.RawMessage)
			}
			c.extra[key] = value
		}
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
	}
	if c.cellType == "" {
		return nil, fmt.Errorf("missing cell_type")
	}
	if c.id == "" {
		c.id = newCellID()
	}
	return c, nil
}

// decodeMultiline accepts nbformat's string or list-of-strings forms.
func decodeMultiline(value json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(value, &s); err == nil {
		return s, nil
	}
	var lines []string
	if err := json.Unmarshal(value, &lines); err != nil {
		return "", err
	}
	return strings.Join(lines, ""), nil
}

// splitLines produces nbformat's list form, each line keeping its newline.
func splitLines(s string) []string {
	lines := []string{}
	for s != "" {
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			lines = append(lines, s)
			break
		}
		lines = append(lines, s[:i+1])
		s = s[i+1:]
	}
	return lines
}

func (c *CellModel) toJSON() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]any, len(c.extra)+6)
	for k, v := range c.extra {
		out[k] = v
	}
	out["cell_type"] = c.cellType
	out["metadata"] = c.metadata
	out["source"] = splitLines(c.source)
	if c.writeID {
		out["id"] = c.id
	}
	if c.cellType == CellCode {
		outputs := c.outputs
		if outputs == nil {
			outputs = []map[string]any{}
		}
		out["outputs"] = outputs
		out["execution_count"] = c.executionCount
	}
	return out
}

// MarshalJSON encodes the document as nbformat v4.
func (d *Document) MarshalJSON() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]any, len(d.extra)+4)
	for k, v := range d.extra {
		out[k] = v
	}
	cells := make([]map[string]any, 0, len(d.cells))
	for _, c := range d.cells {
		cells = append(cells, c.toJSON())
	}
	out["cells"] = cells
	out["metadata"] = d.metadata
	out["nbformat"] = d.nbformat
	out["nbformat_minor"] = d.nbformatMinor
	return marshalJSON(out)
}

// Encode returns the document formatted the way Jupyter writes files.
func (d *Document) Encode() ([]byte, error) {
	data, err := d.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", " "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Save writes the document to its path via a temp file and rename.
func (d *Document) Save() error {
	if d.path == "" {
		return fmt.Errorf("document has no path")
	}
	data, err := d.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode notebook: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(d.path), ".nbscenes-*.ipynb")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write notebook: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write notebook: %w", err)
	}
	if err := os.Rename(tmp.Name(), d.path); err != nil {
		return fmt.Errorf("failed to replace notebook: %w", err)
	}
	logging.NotebookDebug("saved %s (%d bytes)", d.path, len(data))
	return nil
}

// Reload replaces the content with data, keeping CellModel identity for
// cells whose id survived so per-view widget state is preserved. Cells
// without a stored id (nbformat < 4.5) are matched by position and type.
func (d *Document) Reload(data []byte) error {
	fresh, err := Parse(d.path, data)
	if err != nil {
		return err
	}

	d.mu.Lock()
	byID := make(map[string]*CellModel, len(d.cells))
	for _, c := range d.cells {
		byID[c.id] = c
	}
	cells := make([]*CellModel, 0, len(fresh.cells))
	for i, fc := range fresh.cells {
		old, ok := byID[fc.id]
		if !fc.writeID && i < len(d.cells) {
			old = d.cells[i]
			_, ok = byID[old.id]
			ok = ok && !old.writeID
		}
		if ok && old.cellType == fc.cellType {
			delete(byID, old.id)
			old.mu.Lock()
			old.source = fc.source
			old.outputs = fc.outputs
			old.executionCount = fc.executionCount
			old.extra = fc.extra
			old.writeID = fc.writeID
			old.mu.Unlock()
			old.metadata.Replace(fc.metadata.values)
			cells = append(cells, old)
			continue
		}
		cells = append(cells, fc)
	}
	d.cells = cells
	d.nbformat = fresh.nbformat
	d.nbformatMinor = fresh.nbformatMinor
	d.extra = fresh.extra
	d.metadata.Replace(fresh.metadata.values)
	d.mu.Unlock()

	logging.Notebook("reloaded %s: %d cells", d.path, len(cells))
	d.reloaded.Emit(d)
	return nil
}
