package monitor

import (
	"context"

	"go.uber.org/zap"

	"github.com/cognicore/autoflair/pkg/autoflair/catalog"
)

// CheckDrift compares the live catalog with the one the model was trained on
// and logs a warning when they differ. It reports whether drift was found.
func CheckDrift(ctx context.Context, src catalog.Source, trained *catalog.Catalog, logger *zap.Logger) (bool, error) {
	live, err := catalog.Build(ctx, src)
	if err != nil {
		return false, err
	}
	if live.Fingerprint() == trained.Fingerprint() {
		return false, nil
	}

	var missing []string
	for _, e := range trained.Entries() {
		le, ok := live.Lookup(e.Text)
		if !ok || le.TemplateID != e.TemplateID {
			missing = append(missing, e.Text)
		}
	}
	logger.Warn("live flair catalog differs from the trained catalog; retrain to pick up changes",
		zap.Int("live", live.Len()),
		zap.Int("trained", trained.Len()),
		zap.Strings("changed", missing))
	return true, nil
}
