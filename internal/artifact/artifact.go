// Package artifact compiles authored YAML option fragments into the
// per-namespace JSON values artifacts the resolution engine consumes.
//
// Fragments live at <root>/<namespace>/<target>/<file>.yaml, each holding a
// single top-level "options" mapping. Every namespace must provide a
// "default" target; other targets override the default tier key by key.
// Two files within the same namespace/target may not set the same key.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	options "github.com/getsentry/sentry-options"
	"gopkg.in/yaml.v3"
)

// DefaultTarget is the tier every namespace must provide; target-specific
// tiers are layered on top of it.
const DefaultTarget = "default"

// Fragment is one authored YAML file's worth of option values.
type Fragment struct {
	Path    string
	Options map[string]options.Value
}

// FragmentSet groups loaded fragments by namespace, then target.
type FragmentSet map[string]map[string][]Fragment

// Load walks root and parses every fragment, validating each value against
// the schema registry. Files not ending in .yaml are ignored, except .yml,
// which is rejected to keep the authored tree uniform.
func Load(root string, registry *options.SchemaRegistry) (FragmentSet, error) {
	set := FragmentSet{}

	namespaces, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading values root %s: %w", root, err)
	}
	for _, nsEntry := range namespaces {
		if !nsEntry.IsDir() {
			return nil, fmt.Errorf("unexpected file %s: expected namespace/target/file.yaml layout", filepath.Join(root, nsEntry.Name()))
		}
		namespace := nsEntry.Name()
		targets, err := os.ReadDir(filepath.Join(root, namespace))
		if err != nil {
			return nil, fmt.Errorf("reading namespace %s: %w", namespace, err)
		}
		for _, targetEntry := range targets {
			if !targetEntry.IsDir() {
				return nil, fmt.Errorf("unexpected file %s: expected namespace/target/file.yaml layout", filepath.Join(root, namespace, targetEntry.Name()))
			}
			target := targetEntry.Name()
			dir := filepath.Join(root, namespace, target)
			files, err := os.ReadDir(dir)
			if err != nil {
				return nil, fmt.Errorf("reading target %s/%s: %w", namespace, target, err)
			}
			for _, file := range files {
				if file.IsDir() {
					return nil, fmt.Errorf("unexpected directory %s below a target", filepath.Join(dir, file.Name()))
				}
				name := file.Name()
				if strings.HasSuffix(name, ".yml") {
					return nil, fmt.Errorf("invalid extension for %s: expected .yaml, found .yml", filepath.Join(dir, name))
				}
				if !strings.HasSuffix(name, ".yaml") {
					continue
				}
				frag, err := loadFragment(filepath.Join(dir, name), namespace, registry)
				if err != nil {
					return nil, err
				}
				if set[namespace] == nil {
					set[namespace] = map[string][]Fragment{}
				}
				set[namespace][target] = append(set[namespace][target], frag)
			}
		}
	}

	// Deterministic merge order within a target.
	for _, targets := range set {
		for _, fragments := range targets {
			sort.Slice(fragments, func(i, j int) bool {
				return fragments[i].Path < fragments[j].Path
			})
		}
	}
	return set, nil
}

func loadFragment(path, namespace string, registry *options.SchemaRegistry) (Fragment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fragment{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Fragment{}, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	if len(doc) != 1 {
		keys := make([]string, 0, len(doc))
		for k := range doc {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return Fragment{}, fmt.Errorf("invalid structure in %s: expected exactly one top level key %q, found %v", path, "options", keys)
	}
	rawOptions, ok := doc["options"]
	if !ok {
		return Fragment{}, fmt.Errorf("invalid structure in %s: missing top level key %q", path, "options")
	}
	mapping, ok := rawOptions.(map[string]any)
	if !ok {
		return Fragment{}, fmt.Errorf("invalid structure in %s: expected %q to be a mapping", path, "options")
	}

	frag := Fragment{Path: path, Options: make(map[string]options.Value, len(mapping))}
	for key, raw := range mapping {
		v, err := options.ValueOf(raw)
		if err != nil {
			return Fragment{}, fmt.Errorf("in file %s, option %q: %w", path, key, err)
		}
		if err := registry.ValidateValue(namespace, key, v); err != nil {
			return Fragment{}, fmt.Errorf("in file %s: %w", path, err)
		}
		frag.Options[key] = v
	}
	return frag, nil
}

// CheckDuplicateKeys rejects a key set by two files within the same
// namespace/target: authored fragments must partition the key space.
func CheckDuplicateKeys(set FragmentSet) error {
	for namespace, targets := range set {
		for target, fragments := range targets {
			seen := map[string]string{}
			for _, frag := range fragments {
				for key := range frag.Options {
					if first, ok := seen[key]; ok {
						return fmt.Errorf("duplicate key %q in %s/%s: set by both %s and %s", key, namespace, target, first, frag.Path)
					}
					seen[key] = frag.Path
				}
			}
		}
	}
	return nil
}

// Merge resolves the effective options for one namespace/target: the default
// tier first, then the target tier overriding key by key.
func Merge(set FragmentSet, namespace, target string) (map[string]options.Value, error) {
	targets, ok := set[namespace]
	if !ok {
		return nil, fmt.Errorf("namespace %q not found in values", namespace)
	}
	defaults, ok := targets[DefaultTarget]
	if !ok {
		return nil, fmt.Errorf("namespace %q is missing required %q target", namespace, DefaultTarget)
	}

	merged := map[string]options.Value{}
	for _, frag := range defaults {
		for key, v := range frag.Options {
			merged[key] = v
		}
	}
	if target != DefaultTarget {
		fragments, ok := targets[target]
		if !ok {
			return nil, fmt.Errorf("target %q not found in namespace %q", target, namespace)
		}
		for _, frag := range fragments {
			for key, v := range frag.Options {
				merged[key] = v
			}
		}
	}
	return merged, nil
}
