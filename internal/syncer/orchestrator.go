package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/evgenich/amosheets/internal/amocrm"
	"github.com/evgenich/amosheets/internal/journal"
	"github.com/evgenich/amosheets/internal/sheets"
)

// Skip reasons reported as successful outcomes.
const (
	ReasonNotFound     = "not_found"
	ReasonNotMonitored = "not_monitored"
)

// Trigger identifies what initiated a sync, for audit and journal tagging.
type Trigger string

const (
	TriggerWebhook Trigger = "webhook"
	TriggerManual  Trigger = "manual_api"
)

// auditActions returns the success and error audit tags for the trigger.
func (t Trigger) auditActions() (success, failure string) {
	if t == TriggerManual {
		return "MANUAL_SYNC", "MANUAL_SYNC_ERROR"
	}
	return "WEBHOOK_SYNC", "WEBHOOK_ERROR"
}

// DealFetcher is the slice of the CRM client the orchestrator needs.
type DealFetcher interface {
	GetDeal(ctx context.Context, dealID int64) (*amocrm.Deal, error)
}

// DealFilter decides whether a deal is in the monitored pipeline.
type DealFilter interface {
	IsMonitored(ctx context.Context, deal *amocrm.Deal) bool
}

// RowFormatter flattens a deal into a sheet row.
type RowFormatter interface {
	Format(ctx context.Context, deal *amocrm.Deal) (sheets.Row, error)
}

// RowStore is the slice of the sheet store the orchestrator mutates.
type RowStore interface {
	Upsert(ctx context.Context, row sheets.Row) (sheets.Result, error)
	SoftDelete(ctx context.Context, dealID int64) (sheets.Result, error)
}

// Retryer wraps store mutations with the retry policy.
type Retryer interface {
	Do(ctx context.Context, op func(ctx context.Context) error) error
}

// Auditor records best-effort audit entries.
type Auditor interface {
	Record(ctx context.Context, action string, dealID int64, details any)
}

// SyncJournal records outcomes in the local ledger. Optional.
type SyncJournal interface {
	RecordSync(ctx context.Context, e journal.Entry) error
}

// LeadResult is the outcome for one lead of a delivery.
type LeadResult struct {
	LeadID   int64  `json:"leadId"`
	Success  bool   `json:"success"`
	Action   string `json:"action,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Row      int    `json:"row,omitempty"`
	DealName string `json:"dealName,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Summary aggregates per-lead outcomes for one delivery.
type Summary struct {
	Processed  int          `json:"processed"`
	Successful int          `json:"successful"`
	Errors     int          `json:"errors"`
	Results    []LeadResult `json:"results"`
}

// Orchestrator runs the per-event sync flow: fetch → filter → format →
// upsert-with-retry → audit. Leads within one delivery are processed
// sequentially in input order; each lead is isolated, so one lead's failure
// never prevents processing of the rest.
type Orchestrator struct {
	crm       DealFetcher
	filter    DealFilter
	formatter RowFormatter
	store     RowStore
	retry     Retryer
	audit     Auditor
	journal   SyncJournal // may be nil

	// Writes for the same deal id are serialized to keep the store's
	// findRow→append sequence from racing itself across deliveries.
	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex
}

// NewOrchestrator wires the sync flow. journal may be nil.
func NewOrchestrator(
	crm DealFetcher,
	filter DealFilter,
	formatter RowFormatter,
	store RowStore,
	retry Retryer,
	audit Auditor,
	jrnl SyncJournal,
) *Orchestrator {
	return &Orchestrator{
		crm:       crm,
		filter:    filter,
		formatter: formatter,
		store:     store,
		retry:     retry,
		audit:     audit,
		journal:   jrnl,
		locks:     make(map[int64]*sync.Mutex),
	}
}

// ProcessDelivery syncs every lead of a webhook delivery and aggregates the
// outcomes. Audit entry order matches input order.
func (o *Orchestrator) ProcessDelivery(ctx context.Context, leadIDs []int64) Summary {
	summary := Summary{
		Processed: len(leadIDs),
		Results:   make([]LeadResult, 0, len(leadIDs)),
	}

	for _, leadID := range leadIDs {
		result := o.SyncLead(ctx, leadID, TriggerWebhook)
		if result.Success {
			summary.Successful++
		} else {
			summary.Errors++
		}
		summary.Results = append(summary.Results, result)
	}

	return summary
}

// SyncLead syncs one deal end to end. Absent deals and deals outside the
// monitored pipeline are terminal skips reported as success with a reason.
func (o *Orchestrator) SyncLead(ctx context.Context, leadID int64, trigger Trigger) LeadResult {
	unlock := o.lockDeal(leadID)
	defer unlock()

	successTag, errorTag := trigger.auditActions()

	deal, err := o.crm.GetDeal(ctx, leadID)
	if err != nil {
		if errors.Is(err, amocrm.ErrDealNotFound) {
			slog.Info("deal not found, skipping", "component", "syncer", "deal_id", leadID)
			o.recordJournal(ctx, leadID, "skipped", true, ReasonNotFound, trigger)
			return LeadResult{LeadID: leadID, Success: true, Action: "skipped", Reason: ReasonNotFound}
		}
		return o.failLead(ctx, leadID, errorTag, trigger, err)
	}

	if !o.filter.IsMonitored(ctx, deal) {
		slog.Info("deal not in monitored pipeline, skipping",
			"component", "syncer",
			"deal_id", leadID,
			"pipeline_id", deal.PipelineID,
		)
		o.recordJournal(ctx, leadID, "skipped", true, ReasonNotMonitored, trigger)
		return LeadResult{
			LeadID:   leadID,
			Success:  true,
			Action:   "skipped",
			Reason:   ReasonNotMonitored,
			DealName: deal.Name,
		}
	}

	row, err := o.formatter.Format(ctx, deal)
	if err != nil {
		return o.failLead(ctx, leadID, errorTag, trigger, err)
	}

	var res sheets.Result
	err = o.retry.Do(ctx, func(ctx context.Context) error {
		var opErr error
		res, opErr = o.store.Upsert(ctx, row)
		return opErr
	})
	if err != nil {
		return o.failLead(ctx, leadID, errorTag, trigger, err)
	}

	o.audit.Record(ctx, successTag, leadID, map[string]any{
		"action":   res.Action,
		"row":      res.Position,
		"dealName": deal.Name,
		"pipeline": deal.PipelineID,
	})
	o.recordJournal(ctx, leadID, string(res.Action), true, "", trigger)

	slog.Info("deal synced",
		"component", "syncer",
		"deal_id", leadID,
		"action", res.Action,
		"row", res.Position,
	)

	return LeadResult{
		LeadID:   leadID,
		Success:  true,
		Action:   string(res.Action),
		Row:      res.Position,
		DealName: deal.Name,
	}
}

// DeleteLead soft-deletes the deal's row. An unknown id is a not-found
// outcome, not an error.
func (o *Orchestrator) DeleteLead(ctx context.Context, leadID int64) (sheets.Result, error) {
	unlock := o.lockDeal(leadID)
	defer unlock()

	var res sheets.Result
	err := o.retry.Do(ctx, func(ctx context.Context) error {
		var opErr error
		res, opErr = o.store.SoftDelete(ctx, leadID)
		return opErr
	})
	if err != nil {
		o.audit.Record(ctx, "DELETE_ERROR", leadID, map[string]any{"error": err.Error()})
		o.recordJournal(ctx, leadID, "delete_failed", false, err.Error(), TriggerManual)
		return sheets.Result{}, err
	}

	o.audit.Record(ctx, "DEAL_DELETED", leadID, res)
	o.recordJournal(ctx, leadID, string(res.Action), true, "", TriggerManual)
	return res, nil
}

// failLead records a lead failure in the audit log and journal. The failure
// stays contained to this lead's result.
func (o *Orchestrator) failLead(ctx context.Context, leadID int64, errorTag string, trigger Trigger, err error) LeadResult {
	slog.Error("lead sync failed",
		"component", "syncer",
		"deal_id", leadID,
		"trigger", string(trigger),
		"error", err,
	)
	o.audit.Record(ctx, errorTag, leadID, map[string]any{"error": err.Error()})
	o.recordJournal(ctx, leadID, "failed", false, err.Error(), trigger)
	return LeadResult{LeadID: leadID, Success: false, Error: err.Error()}
}

// recordJournal writes to the local ledger, best effort.
func (o *Orchestrator) recordJournal(ctx context.Context, dealID int64, action string, success bool, reason string, trigger Trigger) {
	if o.journal == nil {
		return
	}
	err := o.journal.RecordSync(ctx, journal.Entry{
		DealID:  dealID,
		Action:  action,
		Success: success,
		Reason:  reason,
		Trigger: string(trigger),
	})
	if err != nil {
		slog.Warn("journal write failed", "component", "syncer", "deal_id", dealID, "error", err)
	}
}

// lockDeal serializes writes per deal id. Mutexes are retained for the
// process lifetime; the key space is bounded by the set of synced deals.
func (o *Orchestrator) lockDeal(dealID int64) func() {
	o.locksMu.Lock()
	mu, ok := o.locks[dealID]
	if !ok {
		mu = &sync.Mutex{}
		o.locks[dealID] = mu
	}
	o.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}
