package workflow

// ToolPermissions grants an agent session access to tools. Every key
// defaults to false when omitted from the document.
type ToolPermissions struct {
	Read      bool `yaml:"read,omitempty" json:"read,omitempty"`
	Write     bool `yaml:"write,omitempty" json:"write,omitempty"`
	Edit      bool `yaml:"edit,omitempty" json:"edit,omitempty"`
	Bash      bool `yaml:"bash,omitempty" json:"bash,omitempty"`
	Grep      bool `yaml:"grep,omitempty" json:"grep,omitempty"`
	Glob      bool `yaml:"glob,omitempty" json:"glob,omitempty"`
	List      bool `yaml:"list,omitempty" json:"list,omitempty"`
	Patch     bool `yaml:"patch,omitempty" json:"patch,omitempty"`
	TodoWrite bool `yaml:"todowrite,omitempty" json:"todowrite,omitempty"`
	TodoRead  bool `yaml:"todoread,omitempty" json:"todoread,omitempty"`
	WebFetch  bool `yaml:"webfetch,omitempty" json:"webfetch,omitempty"`
}

// Enabled returns the granted tool keys in a stable order.
func (p ToolPermissions) Enabled() []string {
	var keys []string
	for _, entry := range []struct {
		key     string
		granted bool
	}{
		{"read", p.Read},
		{"write", p.Write},
		{"edit", p.Edit},
		{"bash", p.Bash},
		{"grep", p.Grep},
		{"glob", p.Glob},
		{"list", p.List},
		{"patch", p.Patch},
		{"todowrite", p.TodoWrite},
		{"todoread", p.TodoRead},
		{"webfetch", p.WebFetch},
	} {
		if entry.granted {
			keys = append(keys, entry.key)
		}
	}
	return keys
}
