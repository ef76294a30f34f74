// Package scenes implements the scene membership and state model: named,
// possibly overlapping subsets of a notebook's cells, one of which is active
// and one of which may run automatically whenever a kernel connects.
//
// Scene state lives in the notebook metadata under MetadataKey and is owned by
// Store. Membership is a per-cell boolean under SceneTag(name) and is owned by
// Controller, which also keeps every view of a document visually in sync.
package scenes

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const (
	// MetadataKey holds the SceneSet in notebook metadata.
	MetadataKey = "scenes_data"

	// TagPrefix starts every per-cell membership key.
	TagPrefix = "scene__"

	// LegacyInitKey is the scene-unaware per-cell init flag.
	LegacyInitKey = "init_cell"

	// TagsKey is the per-cell display tag list.
	TagsKey = "tags"
)

var (
	// ErrSceneExists is returned when a create, rename or duplicate targets a
	// name already in use.
	ErrSceneExists = errors.New("scene already exists")

	// ErrSceneNotFound is returned when an operation names an unknown scene.
	ErrSceneNotFound = errors.New("scene not found")

	// ErrInvalidSceneName is returned for names that cannot be stored.
	ErrInvalidSceneName = errors.New("invalid scene name")
)

// SceneTag maps a scene name to its cell metadata key. The fixed prefix
// makes the mapping injective.
func SceneTag(name string) string {
	return TagPrefix + name
}

// SceneFromTag is the inverse of SceneTag.
func SceneFromTag(key string) (string, bool) {
	if !strings.HasPrefix(key, TagPrefix) || len(key) == len(TagPrefix) {
		return "", false
	}
	return key[len(TagPrefix):], true
}

// ValidateSceneName rejects empty names, names with surrounding whitespace
// and names containing control characters.
func ValidateSceneName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidSceneName)
	}
	if strings.TrimSpace(name) != name {
		return fmt.Errorf("%w: %q has leading or trailing whitespace", ErrInvalidSceneName, name)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: %q contains a control character", ErrInvalidSceneName, name)
		}
	}
	return nil
}
