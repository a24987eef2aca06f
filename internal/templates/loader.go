package templates

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/filigree-dev/filigree/internal/configfile"
	"github.com/filigree-dev/filigree/internal/types"
)

//go:embed builtin/*.json
var builtinFS embed.FS

// loadSnapshot builds the merged template view: builtin packs, then project
// packs (same-name packs replace builtins), then per-type overrides.
func loadSnapshot(dir string, enabled []string) (*snapshot, error) {
	packs, err := loadBuiltinPacks()
	if err != nil {
		return nil, err
	}

	if dir != "" {
		projectPacks, err := loadProjectPacks(configfile.PacksDir(dir))
		if err != nil {
			return nil, err
		}
		for _, p := range projectPacks {
			packs[p.Name] = p
		}
	}

	enabledSet := make(map[string]bool, len(enabled))
	for _, name := range enabled {
		enabledSet[name] = true
	}

	snap := &snapshot{templates: make(map[string]*types.Template)}
	names := make([]string, 0, len(packs))
	for name := range packs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		pack := packs[name]
		pack.Enabled = enabledSet[name] || len(enabled) == 0
		snap.packs = append(snap.packs, pack)
		if !pack.Enabled {
			continue
		}
		for i := range pack.Templates {
			tpl := &pack.Templates[i]
			tpl.Pack = pack.Name
			if err := tpl.Validate(); err != nil {
				return nil, fmt.Errorf("pack %s: %w", pack.Name, err)
			}
			snap.templates[tpl.Type] = tpl
		}
	}

	if dir != "" {
		overrides, err := loadOverrides(configfile.TemplatesDir(dir))
		if err != nil {
			return nil, err
		}
		for _, tpl := range overrides {
			snap.templates[tpl.Type] = tpl
		}
	}

	if len(snap.templates) == 0 {
		return nil, fmt.Errorf("no templates loaded (enabled packs: %s)", strings.Join(enabled, ", "))
	}
	return snap, nil
}

func loadBuiltinPacks() (map[string]*types.Pack, error) {
	entries, err := builtinFS.ReadDir("builtin")
	if err != nil {
		return nil, fmt.Errorf("reading builtin packs: %w", err)
	}
	packs := make(map[string]*types.Pack, len(entries))
	for _, entry := range entries {
		data, err := builtinFS.ReadFile("builtin/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading builtin pack %s: %w", entry.Name(), err)
		}
		var pack types.Pack
		if err := json.Unmarshal(data, &pack); err != nil {
			return nil, fmt.Errorf("parsing builtin pack %s: %w", entry.Name(), err)
		}
		pack.IsBuiltin = true
		packs[pack.Name] = &pack
	}
	return packs, nil
}

// loadProjectPacks reads .filigree/packs/*.json and *.toml
func loadProjectPacks(packsDir string) ([]*types.Pack, error) {
	entries, err := os.ReadDir(packsDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading packs dir: %w", err)
	}

	var packs []*types.Pack
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(packsDir, entry.Name())
		pack, err := parsePackFile(path)
		if err != nil {
			return nil, err
		}
		if pack != nil {
			packs = append(packs, pack)
		}
	}
	return packs, nil
}

func parsePackFile(path string) (*types.Pack, error) {
	var pack types.Pack
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err := os.ReadFile(path) // #nosec G304 - project-controlled path
		if err != nil {
			return nil, fmt.Errorf("reading pack %s: %w", path, err)
		}
		if err := json.Unmarshal(data, &pack); err != nil {
			return nil, fmt.Errorf("parsing pack %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.DecodeFile(path, &pack); err != nil {
			return nil, fmt.Errorf("parsing pack %s: %w", path, err)
		}
	default:
		return nil, nil
	}
	if pack.Name == "" {
		return nil, fmt.Errorf("pack %s has no name", path)
	}
	return &pack, nil
}

// loadOverrides reads single-template files from .filigree/templates/
func loadOverrides(overridesDir string) ([]*types.Template, error) {
	entries, err := os.ReadDir(overridesDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading templates dir: %w", err)
	}

	var out []*types.Template
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(overridesDir, entry.Name())
		var tpl types.Template
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json":
			data, err := os.ReadFile(path) // #nosec G304 - project-controlled path
			if err != nil {
				return nil, fmt.Errorf("reading template %s: %w", path, err)
			}
			if err := json.Unmarshal(data, &tpl); err != nil {
				return nil, fmt.Errorf("parsing template %s: %w", path, err)
			}
		case ".toml":
			if _, err := toml.DecodeFile(path, &tpl); err != nil {
				return nil, fmt.Errorf("parsing template %s: %w", path, err)
			}
		default:
			continue
		}
		if err := tpl.Validate(); err != nil {
			return nil, fmt.Errorf("template override %s: %w", path, err)
		}
		tpl.Pack = "override"
		out = append(out, &tpl)
	}
	return out, nil
}
