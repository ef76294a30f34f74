package scenes

import (
	"slices"

	"nbscenes/internal/logging"
	"nbscenes/internal/notebook"
)

// DefaultSceneName is bootstrapped into notebooks without scene data.
const DefaultSceneName = "Default Scene"

// SceneSet is the persisted scene state of one notebook.
type SceneSet struct {
	Scenes      []string
	ActiveScene string
	InitScene   string // empty when no init scene is configured
}

// Has reports whether name is one of the scenes.
func (s SceneSet) Has(name string) bool {
	return slices.Contains(s.Scenes, name)
}

// Store reads and writes SceneSets in notebook metadata. Every method
// accepts nil metadata, meaning no notebook is available, and then does
// nothing.
type Store struct {
	defaultScene string
}

// NewStore returns a Store bootstrapping defaultScene, or DefaultSceneName
// when empty.
func NewStore(defaultScene string) *Store {
	if defaultScene == "" {
		defaultScene = DefaultSceneName
	}
	return &Store{defaultScene: defaultScene}
}

// Load returns the SceneSet in md, bootstrapping the default when absent.
func (s *Store) Load(md notebook.Metadata) (SceneSet, bool) {
	if md == nil {
		return SceneSet{}, false
	}

	raw, ok := md.Get(MetadataKey)
	if !ok {
		set := SceneSet{Scenes: []string{s.defaultScene}, ActiveScene: s.defaultScene}
		s.Save(md, set)
		logging.StoreDebug("bootstrapped default scene data (%q)", s.defaultScene)
		return set, true
	}
	return s.decode(raw), true
}

// decode reads stored data, repairing anything that breaks the invariants.
func (s *Store) decode(raw any) SceneSet {
	var set SceneSet
	obj, _ := raw.(map[string]any)
	if obj == nil {
		logging.StoreWarn("scene data is not an object, using defaults")
	}

	names, _ := notebook.StringSlice(obj["scenes"])
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		set.Scenes = append(set.Scenes, n)
	}
	if len(set.Scenes) != len(names) {
		logging.StoreWarn("dropped %d empty or duplicate scene names", len(names)-len(set.Scenes))
	}
	if len(set.Scenes) == 0 {
		set.Scenes = []string{s.defaultScene}
	}

	set.ActiveScene, _ = obj["active_scene"].(string)
	if !set.Has(set.ActiveScene) {
		if set.ActiveScene != "" {
			logging.StoreWarn("active scene %q is not a scene, falling back to %q", set.ActiveScene, set.Scenes[0])
		}
		set.ActiveScene = set.Scenes[0]
	}

	set.InitScene, _ = obj["init_scene"].(string)
	if set.InitScene != "" && !set.Has(set.InitScene) {
		logging.StoreWarn("init scene %q is not a scene, clearing it", set.InitScene)
		set.InitScene = ""
	}
	return set
}

// Save writes set to md as-is.
func (s *Store) Save(md notebook.Metadata, set SceneSet) {
	if md == nil {
		return
	}
	var initScene any
	if set.InitScene != "" {
		initScene = set.InitScene
	}
	md.Set(MetadataKey, map[string]any{
		"scenes":       append([]string(nil), set.Scenes...),
		"active_scene": set.ActiveScene,
		"init_scene":   initScene,
	})
}

// Scenes returns the ordered scene names, empty without a notebook.
func (s *Store) Scenes(md notebook.Metadata) []string {
	set, ok := s.Load(md)
	if !ok {
		return []string{}
	}
	return set.Scenes
}

// ActiveScene returns the active scene, "" without a notebook.
func (s *Store) ActiveScene(md notebook.Metadata) string {
	set, _ := s.Load(md)
	return set.ActiveScene
}

// InitScene returns the init scene, "" when none is set.
func (s *Store) InitScene(md notebook.Metadata) string {
	set, _ := s.Load(md)
	return set.InitScene
}

// SetScenes replaces the scene list. Empty and duplicate names are dropped;
// an empty result is ignored. Active and init follow the new list.
func (s *Store) SetScenes(md notebook.Metadata, names []string) {
	set, ok := s.Load(md)
	if !ok {
		return
	}
	var clean []string
	for _, n := range names {
		if n != "" && !slices.Contains(clean, n) {
			clean = append(clean, n)
		}
	}
	if len(clean) == 0 {
		logging.StoreWarn("refusing to store an empty scene list")
		return
	}
	set.Scenes = clean
	if !set.Has(set.ActiveScene) {
		set.ActiveScene = clean[0]
	}
	if set.InitScene != "" && !set.Has(set.InitScene) {
		set.InitScene = ""
	}
	s.Save(md, set)
}

// SetActiveScene selects name. Unknown names are ignored.
func (s *Store) SetActiveScene(md notebook.Metadata, name string) {
	set, ok := s.Load(md)
	if !ok {
		return
	}
	if !set.Has(name) {
		logging.StoreWarn("ignoring unknown active scene %q", name)
		return
	}
	set.ActiveScene = name
	s.Save(md, set)
}

// ToggleInitScene makes name the init scene, or clears it when name
// already is. Unknown names are ignored.
func (s *Store) ToggleInitScene(md notebook.Metadata, name string) {
	set, ok := s.Load(md)
	if !ok {
		return
	}
	if set.InitScene == name {
		set.InitScene = ""
	} else if set.Has(name) {
		set.InitScene = name
	} else {
		logging.StoreWarn("ignoring unknown init scene %q", name)
		return
	}
	s.Save(md, set)
}
