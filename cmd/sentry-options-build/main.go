// Command sentry-options-build compiles authored YAML option fragments into
// the per-namespace JSON values artifacts consumed by the resolution engine.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	options "github.com/getsentry/sentry-options"
	"github.com/getsentry/sentry-options/internal/artifact"
	"github.com/getsentry/sentry-options/internal/logging"
)

func main() {
	app := kingpin.New("sentry-options-build", "Compile YAML option fragments into deployable JSON value artifacts")
	schemas := app.Flag("schemas", "Directory holding <namespace>/schema.json documents").Required().String()

	validateSchemasCmd := app.Command("validate-schemas", "Check that every schema document parses and is internally consistent")

	validateValuesCmd := app.Command("validate-values", "Check authored fragments against the schemas without writing anything")
	validateRoot := validateValuesCmd.Flag("root", "Directory holding <namespace>/<target>/*.yaml fragments").Required().String()

	writeCmd := app.Command("write", "Merge fragments and write per-namespace artifacts")
	writeRoot := writeCmd.Flag("root", "Directory holding <namespace>/<target>/*.yaml fragments").Required().String()
	writeOut := writeCmd.Flag("out", "Output directory for generated artifacts").Required().String()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	logger, err := logging.New()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		_ = logger.Sync()
	}()

	switch command {
	case validateSchemasCmd.FullCommand():
		err = runValidateSchemas(*schemas)
	case validateValuesCmd.FullCommand():
		err = runValidateValues(*schemas, *validateRoot)
	case writeCmd.FullCommand():
		err = runWrite(logger, *schemas, *writeRoot, *writeOut)
	}
	if err != nil {
		logger.Fatal("build failed", zap.Error(err))
	}
}

func runValidateSchemas(schemasDir string) error {
	_, err := options.LoadSchemas(schemasDir)
	return err
}

func loadFragments(schemasDir, root string) (artifact.FragmentSet, error) {
	registry, err := options.LoadSchemas(schemasDir)
	if err != nil {
		return nil, err
	}
	set, err := artifact.Load(root, registry)
	if err != nil {
		return nil, err
	}
	if err := artifact.CheckDuplicateKeys(set); err != nil {
		return nil, err
	}
	return set, nil
}

func runValidateValues(schemasDir, root string) error {
	_, err := loadFragments(schemasDir, root)
	return err
}

func runWrite(logger *zap.Logger, schemasDir, root, out string) error {
	set, err := loadFragments(schemasDir, root)
	if err != nil {
		return err
	}
	outputs, err := artifact.Generate(set, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return err
	}
	if err := artifact.Write(out, outputs); err != nil {
		return err
	}
	logger.Info("wrote artifacts",
		zap.Int("files", len(outputs)),
		zap.String("out", out),
	)
	return nil
}
