package plugin

import (
	"fmt"
	goplugin "plugin"
	"path/filepath"
)

// DiscoverDir performs the one-shot filesystem walk spec.md §4.7 calls
// for: every "*.so" file under dir is opened as a Go plugin (the
// standard library's closest analogue to the source's dynamic
// imp.load_module + introspection), and its exported "Hooks" symbol — a
// map[string]Handler — is registered into reg, one hook at a time.
//
// DiscoverDir is meant to run once at process startup, before any
// session begins serving; it does not watch dir for later changes.
func DiscoverDir(reg *Registry, dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "*.so"))
	if err != nil {
		return fmt.Errorf("glob plugin dir %q: %w", dir, err)
	}
	for _, path := range matches {
		if err := loadOne(reg, path); err != nil {
			return fmt.Errorf("load plugin %q: %w", path, err)
		}
	}
	return nil
}

func loadOne(reg *Registry, path string) error {
	p, err := goplugin.Open(path)
	if err != nil {
		return err
	}
	sym, err := p.Lookup("Hooks")
	if err != nil {
		return err
	}
	hooks, ok := sym.(*map[string]Handler)
	if !ok {
		return fmt.Errorf("exported Hooks symbol has unexpected type %T", sym)
	}
	for name, h := range *hooks {
		reg.Register(name, h)
	}
	return nil
}
