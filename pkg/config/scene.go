package config

// SceneConfig controls scene graph loading.
type SceneConfig struct {
	// Path to the JSON scene document.
	Path string `yaml:"path,omitempty"`

	// StartScene overrides the document's start_scene.
	StartScene string `yaml:"start_scene,omitempty"`

	// StrictSchema rejects unknown fields on scenes, transitions, and
	// overrides. Lenient mode preserves and ignores them.
	StrictSchema bool `yaml:"strict_schema,omitempty"`

	// Watch enables the fsnotify watcher on top of explicit reloads.
	Watch bool `yaml:"watch,omitempty"`
}

func (c *SceneConfig) SetDefaults() {}

// Validate accepts an empty path: the scene file can arrive as a CLI
// argument after the config file is loaded, so commands that need one check
// for it once their overrides are applied.
func (c *SceneConfig) Validate() error {
	return nil
}
