package sheets

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"
)

// ValuesAPI is the slice of the Google Sheets values API the store uses.
// This abstraction enables testing against an in-memory grid instead of the
// real spreadsheet.
type ValuesAPI interface {
	Get(ctx context.Context, readRange string) ([][]any, error)
	Update(ctx context.Context, writeRange string, values [][]any) error
	Append(ctx context.Context, appendRange string, values [][]any) error
}

// CredentialReiniter rebuilds the API authorization from stored credentials.
// The retry executor invokes it on authorization failures.
type CredentialReiniter interface {
	ReinitAuth(ctx context.Context) error
}

// Compile-time interface checks
var (
	_ ValuesAPI          = (*GoogleValues)(nil)
	_ CredentialReiniter = (*GoogleValues)(nil)
)

// GoogleValues implements ValuesAPI against one spreadsheet using a
// service-account authorized sheets/v4 client.
type GoogleValues struct {
	credentialsJSON []byte
	spreadsheetID   string

	mu  sync.RWMutex
	svc *sheetsapi.Service
}

// NewGoogleValues builds an authorized values client for the spreadsheet.
func NewGoogleValues(ctx context.Context, credentialsJSON []byte, spreadsheetID string) (*GoogleValues, error) {
	g := &GoogleValues{
		credentialsJSON: credentialsJSON,
		spreadsheetID:   spreadsheetID,
	}
	if err := g.ReinitAuth(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

// ReinitAuth rebuilds the authorized service from the stored credentials.
func (g *GoogleValues) ReinitAuth(ctx context.Context) error {
	jwt, err := google.JWTConfigFromJSON(g.credentialsJSON, sheetsapi.SpreadsheetsScope)
	if err != nil {
		return fmt.Errorf("parse google credentials: %w", err)
	}

	svc, err := sheetsapi.NewService(ctx, option.WithHTTPClient(jwt.Client(ctx)))
	if err != nil {
		return fmt.Errorf("create sheets service: %w", err)
	}

	g.mu.Lock()
	g.svc = svc
	g.mu.Unlock()
	return nil
}

func (g *GoogleValues) service() *sheetsapi.Service {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.svc
}

// Get reads the values of a range. Empty cells beyond the data are omitted,
// matching the API's trailing-empty trimming.
func (g *GoogleValues) Get(ctx context.Context, readRange string) ([][]any, error) {
	resp, err := g.service().Spreadsheets.Values.Get(g.spreadsheetID, readRange).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sheets get %s: %w", readRange, err)
	}
	return resp.Values, nil
}

// Update overwrites a range with raw (unparsed) values.
func (g *GoogleValues) Update(ctx context.Context, writeRange string, values [][]any) error {
	vr := &sheetsapi.ValueRange{Values: values}
	_, err := g.service().Spreadsheets.Values.
		Update(g.spreadsheetID, writeRange, vr).
		ValueInputOption("RAW").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sheets update %s: %w", writeRange, err)
	}
	return nil
}

// Append inserts rows after the last data row of the range.
func (g *GoogleValues) Append(ctx context.Context, appendRange string, values [][]any) error {
	vr := &sheetsapi.ValueRange{Values: values}
	_, err := g.service().Spreadsheets.Values.
		Append(g.spreadsheetID, appendRange, vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sheets append %s: %w", appendRange, err)
	}
	return nil
}
