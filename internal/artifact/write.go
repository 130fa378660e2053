package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	options "github.com/getsentry/sentry-options"
)

// Output is one generated artifact file.
type Output struct {
	Filename string
	Data     []byte
}

type artifactDoc struct {
	Options     map[string]options.Value `json:"options"`
	GeneratedAt string                   `json:"generated_at"`
}

// Generate merges every namespace/target combination into its artifact
// document, named sentry-options-<namespace>-<target>.json. Outputs are
// sorted by namespace then target.
func Generate(set FragmentSet, generatedAt string) ([]Output, error) {
	var outputs []Output
	for _, namespace := range sortedKeys(set) {
		targets := set[namespace]
		targetNames := make([]string, 0, len(targets))
		for target := range targets {
			targetNames = append(targetNames, target)
		}
		sort.Strings(targetNames)

		for _, target := range targetNames {
			merged, err := Merge(set, namespace, target)
			if err != nil {
				return nil, err
			}
			data, err := json.Marshal(artifactDoc{Options: merged, GeneratedAt: generatedAt})
			if err != nil {
				return nil, fmt.Errorf("encoding artifact for %s/%s: %w", namespace, target, err)
			}
			outputs = append(outputs, Output{
				Filename: fmt.Sprintf("sentry-options-%s-%s.json", namespace, target),
				Data:     data,
			})
		}
	}
	return outputs, nil
}

// Write places generated artifacts under dir, creating it if needed.
func Write(dir string, outputs []Output) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory %s: %w", dir, err)
	}
	for _, out := range outputs {
		path := filepath.Join(dir, out.Filename)
		if err := os.WriteFile(path, out.Data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	return nil
}

func sortedKeys(set FragmentSet) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
