package trial

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mmloader/internal/matchminer"
)

type fakeAPI struct {
	inserted    []matchminer.Document
	rejectTitle string
	trials      []matchminer.Document
	replaced    []matchminer.Document
	replaceID   string
	replaceEtag string
	engineRuns  int
	lastQuery   matchminer.Query
}

func (f *fakeAPI) InsertTrial(_ context.Context, trial matchminer.Document) (matchminer.Document, error) {
	if f.rejectTitle != "" && trial["title"] == f.rejectTitle {
		return nil, &matchminer.APIError{StatusCode: 422, Body: "invalid"}
	}
	f.inserted = append(f.inserted, trial)
	return matchminer.Document{"_id": "new"}, nil
}

func (f *fakeAPI) FindTrials(_ context.Context, q matchminer.Query) ([]matchminer.Document, error) {
	f.lastQuery = q
	return f.trials, nil
}

func (f *fakeAPI) ReplaceTrial(_ context.Context, id, etag string, _ matchminer.Query, trial matchminer.Document) error {
	f.replaceID, f.replaceEtag = id, etag
	f.replaced = append(f.replaced, trial)
	return nil
}

func (f *fakeAPI) RunMatchEngine(context.Context) error {
	f.engineRuns++
	return nil
}

func newTestLoader(t *testing.T, api API) *Loader {
	t.Helper()
	root := t.TempDir()
	dataDir := filepath.Join(root, "trial_data_reviewed")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		t.Fatal(err)
	}
	counterPath := filepath.Join(root, "env.json")
	if err := os.WriteFile(counterPath, []byte(`{"current_date":"20240601","protocol_no_counter":"01","protocol_id_counter":5}`), 0o644); err != nil {
		t.Fatal(err)
	}
	return &Loader{
		API:          api,
		DataDir:      dataDir,
		ProcessedDir: filepath.Join(root, "trial_data_processed"),
		Counter:      CounterStore{Path: counterPath},
		Now:          func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.Local) },
		MoveAttempts: 1,
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestInsertAllStampsMovesAndRunsEngineOnce(t *testing.T) {
	api := &fakeAPI{}
	loader := newTestLoader(t, api)
	writeFile(t, filepath.Join(loader.DataDir, "a.json"), `{"title":"a","protocol_id":0,"protocol_no":""}`)
	writeFile(t, filepath.Join(loader.DataDir, "b.yaml"), "title: b\nprotocol_no: \"\"\ntreatment_list:\n  step: []\n")
	writeFile(t, filepath.Join(loader.DataDir, "notes.txt"), "ignored")

	summary, err := loader.InsertAll(context.Background())
	if err != nil {
		t.Fatalf("InsertAll: %v", err)
	}
	if len(summary.Inserted) != 2 || len(summary.Failed) != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if api.engineRuns != 1 {
		t.Fatalf("expected one match engine run, got %d", api.engineRuns)
	}
	if api.inserted[0]["protocol_no"] != "2024060102" || api.inserted[0]["protocol_id"] != 6 {
		t.Fatalf("unexpected first stamp %v", api.inserted[0])
	}
	if api.inserted[1]["protocol_no"] != "2024060103" {
		t.Fatalf("unexpected second stamp %v", api.inserted[1])
	}
	if _, ok := api.inserted[1]["protocol_id"]; ok {
		t.Fatal("yaml trial without protocol_id should not gain one")
	}
	if _, err := json.Marshal(api.inserted[1]); err != nil {
		t.Fatalf("yaml trial should be JSON encodable: %v", err)
	}

	for _, name := range []string{"a.json", "b.yaml"} {
		if _, err := os.Stat(filepath.Join(loader.ProcessedDir, name)); err != nil {
			t.Fatalf("expected %s moved: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(loader.DataDir, "notes.txt")); err != nil {
		t.Fatalf("non-document file should stay: %v", err)
	}

	c, err := loader.Counter.Load()
	if err != nil {
		t.Fatal(err)
	}
	if c.ProtocolNo != "2024060103" || c.ProtocolIDCounter != 7 {
		t.Fatalf("unexpected persisted counter %+v", c)
	}
}

func TestInsertAllKeepsEarlierProcessedCopy(t *testing.T) {
	api := &fakeAPI{}
	loader := newTestLoader(t, api)
	if err := os.MkdirAll(loader.ProcessedDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(loader.ProcessedDir, "a.json"), `{"title":"first"}`)
	writeFile(t, filepath.Join(loader.DataDir, "a.json"), `{"title":"second","protocol_no":""}`)

	if _, err := loader.InsertAll(context.Background()); err != nil {
		t.Fatalf("InsertAll: %v", err)
	}
	first, err := os.ReadFile(filepath.Join(loader.ProcessedDir, "a.json"))
	if err != nil || string(first) != `{"title":"first"}` {
		t.Fatalf("earlier processed copy overwritten: %q (%v)", first, err)
	}
	second, err := os.ReadFile(filepath.Join(loader.ProcessedDir, "a.1.json"))
	if err != nil {
		t.Fatalf("expected resubmitted copy beside the first: %v", err)
	}
	if string(second) != `{"title":"second","protocol_no":""}` {
		t.Fatalf("unexpected resubmitted copy %q", second)
	}
}

func TestInsertAllRejectedTrialKeepsCounterAndFile(t *testing.T) {
	api := &fakeAPI{rejectTitle: "bad"}
	loader := newTestLoader(t, api)
	writeFile(t, filepath.Join(loader.DataDir, "bad.json"), `{"title":"bad","protocol_no":""}`)

	summary, err := loader.InsertAll(context.Background())
	if err != nil {
		t.Fatalf("InsertAll: %v", err)
	}
	if summary.Success() || len(summary.Failed) != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if api.engineRuns != 0 {
		t.Fatal("match engine should not run without inserts")
	}
	if _, err := os.Stat(filepath.Join(loader.DataDir, "bad.json")); err != nil {
		t.Fatalf("rejected file should stay: %v", err)
	}
	c, _ := loader.Counter.Load()
	if c.ProtocolIDCounter != 5 {
		t.Fatalf("counter should be unchanged, got %+v", c)
	}
}

func TestInsertAllMissingDataDir(t *testing.T) {
	loader := newTestLoader(t, &fakeAPI{})
	loader.DataDir = filepath.Join(t.TempDir(), "missing")

	summary, err := loader.InsertAll(context.Background())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if summary.Success() {
		t.Fatal("expected unsuccessful summary")
	}
}

func TestGetByProtocolNoNotFound(t *testing.T) {
	loader := newTestLoader(t, &fakeAPI{})
	if _, err := loader.GetByProtocolNo(context.Background(), "2024060101"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateByProtocolNoStripsServerFields(t *testing.T) {
	api := &fakeAPI{trials: []matchminer.Document{{"_id": "t1", "_etag": "e1", "protocol_no": "2024060101"}}}
	loader := newTestLoader(t, api)
	file := filepath.Join(t.TempDir(), "updated.json")
	writeFile(t, file, `{"_id":"t1","_etag":"old","_links":{},"_updated":"x","title":"new"}`)

	if err := loader.UpdateByProtocolNo(context.Background(), "2024060101", file); err != nil {
		t.Fatalf("UpdateByProtocolNo: %v", err)
	}
	if api.replaceID != "t1" || api.replaceEtag != "e1" {
		t.Fatalf("unexpected target %s/%s", api.replaceID, api.replaceEtag)
	}
	sent := api.replaced[0]
	for _, key := range []string{"_id", "_etag", "_links", "_updated"} {
		if _, ok := sent[key]; ok {
			t.Fatalf("server field %s should be stripped: %v", key, sent)
		}
	}
	if sent["title"] != "new" || api.engineRuns != 1 {
		t.Fatalf("unexpected update %v runs=%d", sent, api.engineRuns)
	}
	if api.lastQuery.Where["protocol_no"] != "2024060101" {
		t.Fatalf("unexpected lookup query %+v", api.lastQuery)
	}
}

func TestMaxProtocol(t *testing.T) {
	api := &fakeAPI{trials: []matchminer.Document{
		{"protocol_id": float64(7), "protocol_no": "2024060101"},
		{"protocol_id": float64(12), "protocol_no": "2024060203"},
		{"protocol_id": float64(3), "protocol_no": "2024050100"},
	}}
	got, err := newTestLoader(t, api).MaxProtocol(context.Background())
	if err != nil {
		t.Fatalf("MaxProtocol: %v", err)
	}
	if got.ID != 12 || got.No != "2024060203" {
		t.Fatalf("unexpected max %+v", got)
	}

	if _, err := newTestLoader(t, &fakeAPI{}).MaxProtocol(context.Background()); !errors.Is(err, ErrNoTrials) {
		t.Fatalf("expected ErrNoTrials, got %v", err)
	}
}

func TestNCTIDsFiltersAndSaves(t *testing.T) {
	api := &fakeAPI{trials: []matchminer.Document{{"nct_id": "NCT001"}, {"nct_id": "LOCAL-1"}, {"nct_id": "NCT002"}, {}}}
	loader := newTestLoader(t, api)
	ids, err := loader.NCTIDs(context.Background())
	if err != nil {
		t.Fatalf("NCTIDs: %v", err)
	}
	if len(ids) != 2 || ids[0] != "NCT001" || ids[1] != "NCT002" {
		t.Fatalf("unexpected ids %v", ids)
	}
	path, err := loader.SaveNCTIDs(ids)
	if err != nil {
		t.Fatalf("SaveNCTIDs: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `["NCT001","NCT002"]` {
		t.Fatalf("unexpected file %s", data)
	}
}
