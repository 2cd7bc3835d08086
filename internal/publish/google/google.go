// Package google publishes dashboards as tabs of a Google Sheets spreadsheet.
// Each group owns one tab; the pointer is the tab's numeric sheet id. The
// dashboard text is written one line per row in column A.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"hisob/internal/log"
	"hisob/internal/publish"

	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

const DefaultTitlePrefix = "Dashboard"

type Target struct {
	svc           *gsheet.Service
	spreadsheetID string
	titlePrefix   string
	now           func() time.Time
}

// Ensure interface conformance
var (
	_ publish.Target = (*Target)(nil)
	_ publish.Pinner = (*Target)(nil)
)

// New wraps an existing Sheets service.
func New(svc *gsheet.Service, spreadsheetID, titlePrefix string) *Target {
	if strings.TrimSpace(titlePrefix) == "" {
		titlePrefix = DefaultTitlePrefix
	}
	return &Target{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		titlePrefix:   strings.TrimSpace(titlePrefix),
		now:           time.Now,
	}
}

// NewFromEnv creates a Sheets target using a service account.
// Required: GOOGLE_SPREADSHEET_ID
// Credentials: GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or
// GOOGLE_APPLICATION_CREDENTIALS.
// Optional: DASHBOARD_SHEET_PREFIX (default "Dashboard").
func NewFromEnv(ctx context.Context) (*Target, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return New(svc, spreadsheetID, os.Getenv("DASHBOARD_SHEET_PREFIX")), nil
}

func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		data, err := os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = data
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	slog.InfoContext(ctx, "Google Sheets service created",
		log.FieldComponent, log.ComponentPublish,
		"credentials_size", len(credentialsJSON))
	return svc, nil
}

// Create adds a new tab for key and writes text into it.
func (t *Target) Create(ctx context.Context, key int64, text string) (string, error) {
	if t.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	title := fmt.Sprintf("%s %d %s", t.titlePrefix, key, t.now().UTC().Format("20060102-150405"))
	resp, err := t.svc.Spreadsheets.BatchUpdate(t.spreadsheetID, &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{
				Properties: &gsheet.SheetProperties{Title: title},
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("add sheet %q: %w", title, err)
	}
	if len(resp.Replies) == 0 || resp.Replies[0].AddSheet == nil || resp.Replies[0].AddSheet.Properties == nil {
		return "", fmt.Errorf("add sheet %q: empty reply", title)
	}
	sheetID := resp.Replies[0].AddSheet.Properties.SheetId

	if err := t.write(ctx, title, text); err != nil {
		// No pointer is returned, so nothing else would ever delete the tab.
		if derr := t.deleteSheet(ctx, sheetID); derr != nil {
			slog.WarnContext(ctx, "Failed to remove half-created dashboard tab",
				log.FieldComponent, log.ComponentPublish,
				log.FieldGroupID, key,
				"sheet_id", sheetID,
				log.FieldError, derr)
		}
		return "", err
	}
	return strconv.FormatInt(sheetID, 10), nil
}

// Edit rewrites the tab behind pointer. A missing tab or a pointer that is
// not a sheet id yields publish.ErrTargetGone, identical content
// publish.ErrNotModified.
func (t *Target) Edit(ctx context.Context, _ int64, pointer, text string) error {
	if t.svc == nil {
		return errors.New("sheets service not initialized")
	}
	sheetID, err := parsePointer(pointer)
	if err != nil {
		return err
	}

	title, err := t.sheetTitle(ctx, sheetID)
	if err != nil {
		return err
	}

	current, err := t.read(ctx, title)
	if err != nil {
		return err
	}
	if normalize(current) == normalize(text) {
		return publish.ErrNotModified
	}

	if _, err := t.svc.Spreadsheets.Values.Clear(t.spreadsheetID, columnRange(title), &gsheet.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear %s: %w", title, classify(err))
	}
	return t.write(ctx, title, text)
}

// Retire deletes the tab. A tab that is already gone, or a pointer that
// never named one, is not an error.
func (t *Target) Retire(ctx context.Context, _ int64, pointer string) error {
	if t.svc == nil {
		return errors.New("sheets service not initialized")
	}
	sheetID, err := parsePointer(pointer)
	if err != nil {
		return nil
	}
	return t.deleteSheet(ctx, sheetID)
}

func (t *Target) deleteSheet(ctx context.Context, sheetID int64) error {
	_, err := t.svc.Spreadsheets.BatchUpdate(t.spreadsheetID, &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			DeleteSheet: &gsheet.DeleteSheetRequest{SheetId: sheetID, ForceSendFields: []string{"SheetId"}},
		}},
	}).Context(ctx).Do()
	if err != nil && !errors.Is(classify(err), publish.ErrTargetGone) {
		return fmt.Errorf("delete sheet %d: %w", sheetID, err)
	}
	return nil
}

// Pin moves the tab to the first position.
func (t *Target) Pin(ctx context.Context, _ int64, pointer string) error {
	if t.svc == nil {
		return errors.New("sheets service not initialized")
	}
	sheetID, err := parsePointer(pointer)
	if err != nil {
		return err
	}
	_, err = t.svc.Spreadsheets.BatchUpdate(t.spreadsheetID, &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			UpdateSheetProperties: &gsheet.UpdateSheetPropertiesRequest{
				Properties: &gsheet.SheetProperties{
					SheetId:         sheetID,
					Index:           0,
					ForceSendFields: []string{"SheetId", "Index"},
				},
				Fields: "index",
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("pin sheet %d: %w", sheetID, classify(err))
	}
	return nil
}

func (t *Target) sheetTitle(ctx context.Context, sheetID int64) (string, error) {
	ss, err := t.svc.Spreadsheets.Get(t.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("get spreadsheet: %w", classify(err))
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.SheetId == sheetID {
			return sh.Properties.Title, nil
		}
	}
	return "", fmt.Errorf("sheet %d: %w", sheetID, publish.ErrTargetGone)
}

func (t *Target) read(ctx context.Context, title string) (string, error) {
	resp, err := t.svc.Spreadsheets.Values.Get(t.spreadsheetID, columnRange(title)).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("read %s: %w", title, classify(err))
	}
	lines := make([]string, len(resp.Values))
	for i, row := range resp.Values {
		if len(row) > 0 {
			lines[i] = fmt.Sprint(row[0])
		}
	}
	return strings.Join(lines, "\n"), nil
}

func (t *Target) write(ctx context.Context, title, text string) error {
	lines := strings.Split(text, "\n")
	values := make([][]any, len(lines))
	for i, line := range lines {
		values[i] = []any{line}
	}
	_, err := t.svc.Spreadsheets.Values.Update(t.spreadsheetID, quoteTitle(title)+"!A1", &gsheet.ValueRange{Values: values}).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write %s: %w", title, classify(err))
	}
	return nil
}

func parsePointer(pointer string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(pointer), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid sheet pointer %q: %w", pointer, publish.ErrTargetGone)
	}
	return id, nil
}

func quoteTitle(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

func columnRange(title string) string {
	return quoteTitle(title) + "!A:A"
}

// normalize drops trailing blank lines, which Sheets does not return.
func normalize(s string) string {
	return strings.TrimRight(s, "\n")
}

// classify maps a 404 from the API to publish.ErrTargetGone.
func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %v", publish.ErrTargetGone, err)
	}
	return err
}
