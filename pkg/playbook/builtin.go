package playbook

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/convergeops/converge/pkg/engine"
)

//go:embed playbooks/*.yaml
var builtinFS embed.FS

// Builtins returns the names of the playbooks embedded in the binary.
func Builtins() []string {
	entries, err := fs.ReadDir(builtinFS, "playbooks")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, strings.TrimSuffix(entry.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

// LoadBuiltin loads one of the embedded playbooks by name.
func LoadBuiltin(name string) (*engine.Playbook, error) {
	data, err := builtinFS.ReadFile(path.Join("playbooks", name+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("built-in playbook %q not found", name)
	}
	return Parse(data)
}

// Resolve loads a playbook by name or path: names with a path separator or a
// YAML extension are loaded from disk, anything else from the built-in set.
func Resolve(nameOrPath string) (*engine.Playbook, error) {
	if strings.ContainsRune(nameOrPath, '/') || strings.HasSuffix(nameOrPath, ".yaml") || strings.HasSuffix(nameOrPath, ".yml") {
		return Load(nameOrPath)
	}
	return LoadBuiltin(nameOrPath)
}
