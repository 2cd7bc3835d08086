package google

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"hisob/internal/publish"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

type fakeSheet struct {
	title string
	index int64
	rows  []string
}

// fakeSheets implements the handful of Sheets v4 endpoints the target uses.
type fakeSheets struct {
	mu       sync.Mutex
	nextID   int64
	sheets   map[int64]*fakeSheet
	updates    int
	notFound   bool
	failWrites bool
}

func newFakeSheets() *fakeSheets {
	return &fakeSheets{nextID: 100, sheets: map[int64]*fakeSheet{}}
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.notFound {
		writeError(w, http.StatusNotFound, "Requested entity was not found.")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v4/spreadsheets/")
	switch {
	case strings.HasSuffix(path, ":batchUpdate"):
		f.batchUpdate(w, r)
	case strings.Contains(path, "/values/"):
		rng := path[strings.Index(path, "/values/")+len("/values/"):]
		switch {
		case strings.HasSuffix(rng, ":clear"):
			f.clear(w, strings.TrimSuffix(rng, ":clear"))
		case r.Method == http.MethodGet:
			f.getValues(w, rng)
		default:
			f.update(w, r, rng)
		}
	default:
		var out gsheet.Spreadsheet
		for id, sh := range f.sheets {
			out.Sheets = append(out.Sheets, &gsheet.Sheet{Properties: &gsheet.SheetProperties{SheetId: id, Title: sh.title, Index: sh.index}})
		}
		writeJSON(w, &out)
	}
}

// get returns a copy of the sheet, or nil.
func (f *fakeSheets) get(id int64) *fakeSheet {
	f.mu.Lock()
	defer f.mu.Unlock()
	sh, ok := f.sheets[id]
	if !ok {
		return nil
	}
	cp := *sh
	cp.rows = append([]string(nil), sh.rows...)
	return &cp
}

func (f *fakeSheets) remove(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sheets, id)
}

func (f *fakeSheets) batchUpdate(w http.ResponseWriter, r *http.Request) {
	var req gsheet.BatchUpdateSpreadsheetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var resp gsheet.BatchUpdateSpreadsheetResponse
	for _, rq := range req.Requests {
		switch {
		case rq.AddSheet != nil:
			f.nextID++
			f.sheets[f.nextID] = &fakeSheet{title: rq.AddSheet.Properties.Title, index: int64(len(f.sheets))}
			resp.Replies = append(resp.Replies, &gsheet.Response{AddSheet: &gsheet.AddSheetResponse{
				Properties: &gsheet.SheetProperties{SheetId: f.nextID, Title: rq.AddSheet.Properties.Title},
			}})
		case rq.DeleteSheet != nil:
			if _, ok := f.sheets[rq.DeleteSheet.SheetId]; !ok {
				writeError(w, http.StatusBadRequest, "No sheet with id")
				return
			}
			delete(f.sheets, rq.DeleteSheet.SheetId)
			resp.Replies = append(resp.Replies, &gsheet.Response{})
		case rq.UpdateSheetProperties != nil:
			if sh, ok := f.sheets[rq.UpdateSheetProperties.Properties.SheetId]; ok {
				sh.index = rq.UpdateSheetProperties.Properties.Index
			}
			resp.Replies = append(resp.Replies, &gsheet.Response{})
		}
	}
	writeJSON(w, &resp)
}

func (f *fakeSheets) byRange(rng string) *fakeSheet {
	title := rng
	if i := strings.LastIndex(rng, "!"); i >= 0 {
		title = rng[:i]
	}
	title = strings.ReplaceAll(strings.Trim(title, "'"), "''", "'")
	for _, sh := range f.sheets {
		if sh.title == title {
			return sh
		}
	}
	return nil
}

func (f *fakeSheets) getValues(w http.ResponseWriter, rng string) {
	sh := f.byRange(rng)
	if sh == nil {
		writeError(w, http.StatusBadRequest, "Unable to parse range")
		return
	}
	rows := sh.rows
	for len(rows) > 0 && rows[len(rows)-1] == "" {
		rows = rows[:len(rows)-1]
	}
	vr := gsheet.ValueRange{Range: rng}
	for _, line := range rows {
		if line == "" {
			vr.Values = append(vr.Values, []any{})
			continue
		}
		vr.Values = append(vr.Values, []any{line})
	}
	writeJSON(w, &vr)
}

func (f *fakeSheets) update(w http.ResponseWriter, r *http.Request, rng string) {
	sh := f.byRange(rng)
	if sh == nil {
		writeError(w, http.StatusBadRequest, "Unable to parse range")
		return
	}
	if f.failWrites {
		writeError(w, http.StatusBadRequest, "write rejected")
		return
	}
	var vr gsheet.ValueRange
	if err := json.NewDecoder(r.Body).Decode(&vr); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sh.rows = sh.rows[:0]
	for _, row := range vr.Values {
		line := ""
		if len(row) > 0 {
			line, _ = row[0].(string)
		}
		sh.rows = append(sh.rows, line)
	}
	f.updates++
	writeJSON(w, &gsheet.UpdateValuesResponse{UpdatedRows: int64(len(vr.Values))})
}

func (f *fakeSheets) clear(w http.ResponseWriter, rng string) {
	if sh := f.byRange(rng); sh != nil {
		sh.rows = nil
	}
	writeJSON(w, &gsheet.ClearValuesResponse{ClearedRange: rng})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": code, "message": msg},
	})
}

func newTestTarget(t *testing.T) (*Target, *fakeSheets) {
	t.Helper()
	fake := newFakeSheets()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithoutAuthentication())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	tg := New(svc, "sheet-id", "")
	tg.now = func() time.Time { return time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC) }
	return tg, fake
}

func TestTarget_CreateEditRetire(t *testing.T) {
	ctx := context.Background()
	tg, fake := newTestTarget(t)

	pointer, err := tg.Create(ctx, 7, "Balances\n\nalice +1.00")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if pointer != "101" {
		t.Fatalf("expected pointer 101, got %q", pointer)
	}
	sh := fake.get(101)
	if sh.title != "Dashboard 7 20260501-093000" {
		t.Fatalf("unexpected title %q", sh.title)
	}
	if len(sh.rows) != 3 || sh.rows[2] != "alice +1.00" {
		t.Fatalf("unexpected rows %#v", sh.rows)
	}

	if err := tg.Edit(ctx, 7, pointer, "Balances\n\nalice +1.00\n"); !errors.Is(err, publish.ErrNotModified) {
		t.Fatalf("expected ErrNotModified, got %v", err)
	}

	if err := tg.Edit(ctx, 7, pointer, "Balances\n\nbob -2.00"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if sh := fake.get(101); sh.rows[2] != "bob -2.00" {
		t.Fatalf("edit not applied: %#v", sh.rows)
	}

	if err := tg.Pin(ctx, 7, pointer); err != nil {
		t.Fatalf("pin: %v", err)
	}

	if err := tg.Retire(ctx, 7, pointer); err != nil {
		t.Fatalf("retire: %v", err)
	}
	if fake.get(101) != nil {
		t.Fatal("sheet should be deleted")
	}
}

func TestTarget_EditMissingSheetIsGone(t *testing.T) {
	tg, _ := newTestTarget(t)
	err := tg.Edit(context.Background(), 7, "555", "x")
	if !errors.Is(err, publish.ErrTargetGone) {
		t.Fatalf("expected ErrTargetGone, got %v", err)
	}
}

func TestTarget_NotFoundMapsToGone(t *testing.T) {
	tg, fake := newTestTarget(t)
	fake.mu.Lock()
	fake.notFound = true
	fake.mu.Unlock()
	err := tg.Edit(context.Background(), 7, "101", "x")
	if !errors.Is(err, publish.ErrTargetGone) {
		t.Fatalf("expected ErrTargetGone, got %v", err)
	}
}

func TestTarget_InvalidPointerIsGone(t *testing.T) {
	tg, _ := newTestTarget(t)
	if err := tg.Edit(context.Background(), 7, "mem:1", "x"); !errors.Is(err, publish.ErrTargetGone) {
		t.Fatalf("expected ErrTargetGone, got %v", err)
	}
	if err := tg.Retire(context.Background(), 7, "mem:1"); err != nil {
		t.Fatalf("retire of a foreign pointer should be a no-op, got %v", err)
	}
}

func TestTarget_UpserterReplacesForeignPointer(t *testing.T) {
	ctx := context.Background()
	tg, fake := newTestTarget(t)
	pointers := &mapPointers{m: map[int64]string{3: "mem:1"}}
	u := publish.NewUpserter(tg, pointers)

	p, err := u.Upsert(ctx, 3, "fresh")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if p != "101" || pointers.m[3] != "101" {
		t.Fatalf("expected the new tab to be stored, got %q / %q", p, pointers.m[3])
	}
	if sh := fake.get(101); sh == nil || sh.rows[0] != "fresh" {
		t.Fatalf("unexpected tab %#v", sh)
	}
}

func TestTarget_CreateRemovesTabWhenWriteFails(t *testing.T) {
	tg, fake := newTestTarget(t)
	fake.mu.Lock()
	fake.failWrites = true
	fake.mu.Unlock()

	if _, err := tg.Create(context.Background(), 7, "x"); err == nil {
		t.Fatal("expected the write error")
	}
	fake.mu.Lock()
	left := len(fake.sheets)
	fake.mu.Unlock()
	if left != 0 {
		t.Fatalf("expected the half-created tab to be deleted, %d left", left)
	}
}

func TestTarget_WorksWithUpserter(t *testing.T) {
	ctx := context.Background()
	tg, fake := newTestTarget(t)
	u := publish.NewUpserter(tg, &mapPointers{m: map[int64]string{}})

	p1, err := u.Upsert(ctx, 3, "one")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	fake.remove(101)

	p2, err := u.Upsert(ctx, 3, "two")
	if err != nil {
		t.Fatalf("upsert after delete: %v", err)
	}
	if p1 == p2 {
		t.Fatalf("expected a new pointer after the tab vanished")
	}
}

func TestNewFromEnv_MissingSpreadsheetID(t *testing.T) {
	t.Setenv("GOOGLE_SPREADSHEET_ID", "")
	_, err := NewFromEnv(context.Background())
	if err == nil || err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewFromEnv_MissingCredentials(t *testing.T) {
	t.Setenv("GOOGLE_SPREADSHEET_ID", "abc")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_JSON", "")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")
	_, err := NewFromEnv(context.Background())
	if err == nil || !strings.Contains(err.Error(), "missing service account credentials") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewFromEnv_UnreadableCredentialsFile(t *testing.T) {
	t.Setenv("GOOGLE_SPREADSHEET_ID", "abc")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_JSON", "")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", os.DevNull+"/missing.json")
	_, err := NewFromEnv(context.Background())
	if err == nil || !strings.Contains(err.Error(), "read service account file") {
		t.Fatalf("unexpected error: %v", err)
	}
}

type mapPointers struct {
	m map[int64]string
}

func (p *mapPointers) GetPublishPointer(_ context.Context, key int64) (string, error) {
	return p.m[key], nil
}

func (p *mapPointers) SetPublishPointer(_ context.Context, key int64, pointer string) error {
	p.m[key] = pointer
	return nil
}
