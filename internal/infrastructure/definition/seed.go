package definition

import (
	"context"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"github.com/garyjia/loan-workflow/internal/application/port"
	"github.com/garyjia/loan-workflow/internal/domain/workflow"
)

// Seed saves each definition whose graph differs from the active version of
// its application type. Unchanged definitions are skipped, so seeding on every
// start does not pile up versions. It returns how many versions were saved.
func Seed(ctx context.Context, repo port.DefinitionRepository, defs []*workflow.Definition, logger *zap.Logger) (int, error) {
	saved := 0
	for _, def := range defs {
		active, err := repo.GetActive(ctx, def.ApplicationType)
		if err != nil {
			return saved, fmt.Errorf("failed to load active definition for %s: %w", def.ApplicationType, err)
		}

		if active != nil && sameGraph(active, def) {
			logger.Debug("Workflow definition unchanged, skipping",
				zap.String("application_type", def.ApplicationType),
				zap.Int("version", active.Version))
			continue
		}

		if err := repo.Save(ctx, def); err != nil {
			return saved, fmt.Errorf("failed to save definition for %s: %w", def.ApplicationType, err)
		}
		saved++

		logger.Info("Workflow definition seeded",
			zap.String("application_type", def.ApplicationType),
			zap.String("name", def.Name),
			zap.Int("version", def.Version),
			zap.Int("stages", len(def.Stages())),
			zap.Int("transitions", len(def.Transitions())))
	}
	return saved, nil
}

func sameGraph(a, b *workflow.Definition) bool {
	return a.Name == b.Name &&
		reflect.DeepEqual(a.Stages(), b.Stages()) &&
		reflect.DeepEqual(a.Transitions(), b.Transitions())
}
