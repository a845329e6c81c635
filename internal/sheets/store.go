package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// The sheet layout is fixed: columns A–M in the order of Row's fields, with
// the header occupying row 1 and deal ids in column A.
const (
	headerRange = "A1:M1"
	keyRange    = "A:A"
	dataRange   = "A:M"

	statusColumn = 11 // zero-based index of the status column (L)
)

// StatusActive and StatusDeleted are the values of the status column.
const (
	StatusActive  = "Активна"
	StatusDeleted = "Удалена"
)

// headers is the fixed header row.
var headers = []any{
	"ID сделки",
	"Название сделки",
	"Бюджет",
	"Дата создания",
	"Дата изменения",
	"Этап",
	"Ответственный",
	"Контакт",
	"Телефон",
	"Email",
	"Компания",
	"Статус",
	"Источник",
}

// Row is the flattened, 13-column projection of a deal. One Row maps to
// exactly one stored row.
type Row struct {
	DealID       int64
	Name         string
	Price        int64
	CreatedAt    string
	UpdatedAt    string
	Stage        string
	Responsible  string
	ContactName  string
	ContactPhone string
	ContactEmail string
	Company      string
	Status       string
	Source       string
}

// values returns the row in the fixed A–M column order.
func (r Row) values() []any {
	return []any{
		r.DealID,
		r.Name,
		r.Price,
		r.CreatedAt,
		r.UpdatedAt,
		r.Stage,
		r.Responsible,
		r.ContactName,
		r.ContactPhone,
		r.ContactEmail,
		r.Company,
		r.Status,
		r.Source,
	}
}

// Action reports what an upsert or delete did.
type Action string

const (
	ActionCreated  Action = "created"
	ActionUpdated  Action = "updated"
	ActionDeleted  Action = "deleted"
	ActionNotFound Action = "not_found"
)

// Result is the outcome of a mutating store operation. Position is the
// 1-based row position when known; appends do not report one.
type Result struct {
	Action   Action `json:"action"`
	Position int    `json:"row,omitempty"`
}

// Stats summarizes the sheet's contents.
type Stats struct {
	TotalRows    int       `json:"totalRows"`
	DataRows     int       `json:"dataRows"`
	ActiveDeals  int       `json:"activeDeals"`
	DeletedDeals int       `json:"deletedDeals"`
	LastUpdated  time.Time `json:"lastUpdated"`
}

// Store finds, inserts, updates and soft-deletes deal rows, keyed by the
// deal id in column A. At most one row exists per deal id under sequential
// use; concurrent upserts for the same new id can race findRow→append, so
// callers serialize writes per deal id.
type Store struct {
	api ValuesAPI
}

// NewStore creates a store over the given values API.
func NewStore(api ValuesAPI) *Store {
	return &Store{api: api}
}

// EnsureHeaders idempotently writes the header row when row 1 is empty.
func (s *Store) EnsureHeaders(ctx context.Context) error {
	values, err := s.api.Get(ctx, headerRange)
	if err != nil {
		return fmt.Errorf("check headers: %w", err)
	}
	if len(values) > 0 {
		return nil
	}

	if err := s.api.Update(ctx, headerRange, [][]any{headers}); err != nil {
		return fmt.Errorf("write headers: %w", err)
	}
	slog.Info("header row created", "component", "sheets", "range", headerRange)
	return nil
}

// FindRow scans the key column for the deal id and returns its 1-based
// position, or ErrRowNotFound. Ids are compared by string form to tolerate
// number/text cell formatting.
func (s *Store) FindRow(ctx context.Context, dealID int64) (int, error) {
	values, err := s.api.Get(ctx, keyRange)
	if err != nil {
		return 0, fmt.Errorf("scan key column: %w", err)
	}

	want := strconv.FormatInt(dealID, 10)
	for i := 1; i < len(values); i++ { // skip header row
		if len(values[i]) == 0 {
			continue
		}
		if cellString(values[i][0]) == want {
			return i + 1, nil // sheet positions are 1-based
		}
	}
	return 0, ErrRowNotFound
}

// Upsert writes the row under its deal id: an existing row is overwritten in
// place, otherwise the row is appended at the end.
func (s *Store) Upsert(ctx context.Context, row Row) (Result, error) {
	if err := s.EnsureHeaders(ctx); err != nil {
		return Result{}, err
	}

	pos, err := s.FindRow(ctx, row.DealID)
	switch {
	case err == nil:
		writeRange := fmt.Sprintf("A%d:M%d", pos, pos)
		if err := s.api.Update(ctx, writeRange, [][]any{row.values()}); err != nil {
			return Result{}, fmt.Errorf("update deal %d: %w", row.DealID, err)
		}
		slog.Info("deal row updated", "component", "sheets", "deal_id", row.DealID, "row", pos)
		return Result{Action: ActionUpdated, Position: pos}, nil

	case err == ErrRowNotFound:
		if err := s.api.Append(ctx, dataRange, [][]any{row.values()}); err != nil {
			return Result{}, fmt.Errorf("append deal %d: %w", row.DealID, err)
		}
		slog.Info("deal row appended", "component", "sheets", "deal_id", row.DealID)
		return Result{Action: ActionCreated}, nil

	default:
		return Result{}, err
	}
}

// SoftDelete overwrites only the status column of the deal's row with the
// deleted marker. An unknown id reports ActionNotFound without error.
func (s *Store) SoftDelete(ctx context.Context, dealID int64) (Result, error) {
	pos, err := s.FindRow(ctx, dealID)
	if err == ErrRowNotFound {
		slog.Warn("deal not found for deletion", "component", "sheets", "deal_id", dealID)
		return Result{Action: ActionNotFound}, nil
	}
	if err != nil {
		return Result{}, err
	}

	statusRange := fmt.Sprintf("L%d", pos)
	if err := s.api.Update(ctx, statusRange, [][]any{{StatusDeleted}}); err != nil {
		return Result{}, fmt.Errorf("soft delete deal %d: %w", dealID, err)
	}
	slog.Info("deal row marked deleted", "component", "sheets", "deal_id", dealID, "row", pos)
	return Result{Action: ActionDeleted, Position: pos}, nil
}

// Stats scans all rows once and classifies each by its status column.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	values, err := s.api.Get(ctx, dataRange)
	if err != nil {
		return nil, fmt.Errorf("scan sheet: %w", err)
	}

	stats := &Stats{
		TotalRows:   len(values),
		LastUpdated: time.Now().UTC(),
	}
	if stats.TotalRows > 0 {
		stats.DataRows = stats.TotalRows - 1 // exclude header
	}

	for i := 1; i < len(values); i++ {
		status := ""
		if len(values[i]) > statusColumn {
			status = cellString(values[i][statusColumn])
		}
		if status == StatusDeleted {
			stats.DeletedDeals++
		} else {
			stats.ActiveDeals++
		}
	}
	return stats, nil
}

// cellString renders a cell value the way the sheet displays it. The values
// API returns numbers as float64 or formatted strings depending on the cell.
func cellString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	default:
		return fmt.Sprintf("%v", v)
	}
}
