package syncer

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/evgenich/amosheets/internal/amocrm"
)

// PipelineLister is the slice of the CRM client the filter needs.
type PipelineLister interface {
	GetPipelines(ctx context.Context) ([]amocrm.Pipeline, error)
}

// PipelineFilter decides whether a deal belongs to the monitored pipeline.
// The target pipeline id is resolved once per process by case-insensitive
// substring match over pipeline names (CRM names may carry decoration) and
// memoized only on success. An unresolvable target fails closed.
type PipelineFilter struct {
	crm    PipelineLister
	target string
	bypass bool

	mu         sync.Mutex
	resolvedID int64
	resolved   bool
}

// NewPipelineFilter creates a filter for the named pipeline. When
// debugBypass is set every deal passes, regardless of pipeline.
func NewPipelineFilter(crm PipelineLister, targetName string, debugBypass bool) *PipelineFilter {
	return &PipelineFilter{
		crm:    crm,
		target: targetName,
		bypass: debugBypass,
	}
}

// IsMonitored reports whether the deal should be synced.
func (f *PipelineFilter) IsMonitored(ctx context.Context, deal *amocrm.Deal) bool {
	if f.bypass {
		slog.Info("debug mode: skipping pipeline filter", "component", "syncer", "deal_id", deal.ID)
		return true
	}

	if deal.PipelineID == 0 {
		slog.Warn("deal has no pipeline id", "component", "syncer", "deal_id", deal.ID)
		return false
	}

	targetID, ok := f.targetPipelineID(ctx)
	if !ok {
		return false
	}

	monitored := deal.PipelineID == targetID
	slog.Info("deal pipeline check",
		"component", "syncer",
		"deal_id", deal.ID,
		"deal_pipeline_id", deal.PipelineID,
		"target_pipeline_id", targetID,
		"monitored", monitored,
	)
	return monitored
}

// targetPipelineID resolves and memoizes the monitored pipeline's id.
func (f *PipelineFilter) targetPipelineID(ctx context.Context) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.resolved {
		return f.resolvedID, true
	}

	pipelines, err := f.crm.GetPipelines(ctx)
	if err != nil {
		slog.Error("failed to resolve target pipeline", "component", "syncer", "error", err)
		return 0, false
	}

	want := strings.ToLower(f.target)
	for _, p := range pipelines {
		if strings.Contains(strings.ToLower(p.Name), want) {
			slog.Info("target pipeline resolved",
				"component", "syncer",
				"pipeline", p.Name,
				"pipeline_id", p.ID,
			)
			f.resolvedID = p.ID
			f.resolved = true
			return p.ID, true
		}
	}

	slog.Error("target pipeline not found", "component", "syncer", "pipeline", f.target)
	return 0, false
}
