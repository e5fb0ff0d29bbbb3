package trial

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"mmloader/internal/config"
	"mmloader/internal/fileutil"
	"mmloader/internal/logging"
	"mmloader/internal/matchminer"
)

// NCTIDsFile is written into the trial data dir by SaveNCTIDs.
const NCTIDsFile = "all_nct_ids.json"

var (
	// ErrNotFound reports that no trial carries the requested protocol_no.
	ErrNotFound = errors.New("trial not found")
	// ErrNoTrials reports an empty trial collection.
	ErrNoTrials = errors.New("no trials on server")
)

// API is the subset of the MatchMiner client used by Loader.
type API interface {
	InsertTrial(ctx context.Context, trial matchminer.Document) (matchminer.Document, error)
	FindTrials(ctx context.Context, q matchminer.Query) ([]matchminer.Document, error)
	ReplaceTrial(ctx context.Context, id, etag string, q matchminer.Query, trial matchminer.Document) error
	RunMatchEngine(ctx context.Context) error
}

// Summary describes one InsertAll pass.
type Summary struct {
	Inserted []string
	Failed   []string
}

// Success reports whether at least one trial was inserted.
func (s Summary) Success() bool { return len(s.Inserted) > 0 }

// Protocol is a trial's allocated identifiers.
type Protocol struct {
	ID int
	No string
}

// Loader inserts and maintains trials.
type Loader struct {
	API          API
	DataDir      string
	ProcessedDir string
	Counter      CounterStore
	Logger       *slog.Logger

	Now          func() time.Time
	MoveAttempts int
	MoveDelay    time.Duration
}

// NewLoader wires a Loader from the [trial] section.
func NewLoader(cfg *config.Config, api API, logger *slog.Logger) *Loader {
	return &Loader{
		API:          api,
		DataDir:      cfg.Trial.DataDir,
		ProcessedDir: cfg.Trial.ProcessedDir,
		Counter:      CounterStore{Path: cfg.Trial.EnvConfigPath},
		Logger:       logging.NewComponentLogger(logger, "trial"),
		MoveAttempts: 3,
		MoveDelay:    time.Second,
	}
}

func (l *Loader) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l *Loader) logger() *slog.Logger {
	if l.Logger == nil {
		return logging.NewNop()
	}
	return l.Logger
}

// InsertAll posts every trial document in the data dir. Each accepted file
// advances the counter and is moved to the processed dir; the match engine
// runs once afterwards when anything was inserted. A missing data dir is
// logged and yields an empty summary.
func (l *Loader) InsertAll(ctx context.Context) (Summary, error) {
	logger := l.logger()
	var summary Summary

	entries, err := os.ReadDir(l.DataDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logging.ErrorWithContext(logger, "trial folder does not exist", "trial_dir_missing",
				logging.String(logging.FieldPath, l.DataDir),
				logging.String(logging.FieldErrorHint, "create the directory or fix trial.data_dir"),
			)
			return summary, nil
		}
		return summary, fmt.Errorf("list trial dir: %w", err)
	}
	if err := os.MkdirAll(l.ProcessedDir, 0o755); err != nil {
		return summary, fmt.Errorf("create processed dir: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if !entry.Type().IsRegular() || !IsDocumentFile(entry.Name()) || entry.Name() == NCTIDsFile {
			continue
		}
		if err := l.insertFile(ctx, entry.Name()); err != nil {
			logging.ErrorWithContext(logger, "trial insert failed", "trial_insert_failed",
				logging.String("file", entry.Name()),
				logging.Error(err),
				logging.String(logging.FieldImpact, "file left in place for the next run"),
			)
			summary.Failed = append(summary.Failed, entry.Name())
			continue
		}
		summary.Inserted = append(summary.Inserted, entry.Name())
	}

	if summary.Success() {
		l.runMatchEngine(ctx)
	}
	return summary, nil
}

func (l *Loader) insertFile(ctx context.Context, name string) error {
	path := filepath.Join(l.DataDir, name)
	doc, err := ReadDocument(path)
	if err != nil {
		return err
	}
	counter, err := l.Counter.Load()
	if err != nil {
		return err
	}
	counter = Advance(counter, l.now())
	Stamp(doc, counter)

	l.logger().Info("posting trial",
		logging.String("file", name),
		logging.Any("protocol_id", doc["protocol_id"]),
		logging.Any("protocol_no", doc["protocol_no"]),
	)
	if _, err := l.API.InsertTrial(ctx, matchminer.Document(doc)); err != nil {
		return err
	}
	if err := l.Counter.Save(counter); err != nil {
		return err
	}
	dest := fileutil.UniqueDestination(l.ProcessedDir, name)
	if err := fileutil.MoveWithRetry(path, dest, l.MoveAttempts, l.MoveDelay); err != nil {
		return err
	}
	l.logger().Info("trial inserted", logging.String("file", name), logging.String("moved_to", dest))
	return nil
}

func (l *Loader) runMatchEngine(ctx context.Context) {
	if err := l.API.RunMatchEngine(ctx); err != nil {
		logging.WarnWithContext(l.logger(), "match engine request failed", "matchengine_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run `mmloader matchengine run` once the server is reachable"),
			logging.String(logging.FieldImpact, "new trials are stored but not yet matched"),
		)
		return
	}
	l.logger().Info("match engine run requested")
}

func byProtocolNo(protocolNo string) matchminer.Query {
	return matchminer.Query{Where: map[string]any{"protocol_no": protocolNo}}
}

// GetByProtocolNo returns the trial with protocolNo. When several match, the
// first is returned and a warning logged.
func (l *Loader) GetByProtocolNo(ctx context.Context, protocolNo string) (matchminer.Document, error) {
	items, err := l.API.FindTrials(ctx, byProtocolNo(protocolNo))
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: protocol_no %s", ErrNotFound, protocolNo)
	}
	if len(items) > 1 {
		logging.WarnWithContext(l.logger(), "multiple trials share protocol_no", "trial_duplicate_protocol_no",
			logging.String("protocol_no", protocolNo),
			logging.Int("count", len(items)),
			logging.String(logging.FieldImpact, "using the first match"),
		)
	}
	return items[0], nil
}

// UpdateByProtocolNo replaces the trial identified by protocolNo with the
// contents of file, then requests a match engine run.
func (l *Loader) UpdateByProtocolNo(ctx context.Context, protocolNo, file string) error {
	if strings.TrimSpace(file) == "" {
		return errors.New("updated trial file must be provided")
	}
	existing, err := l.GetByProtocolNo(ctx, protocolNo)
	if err != nil {
		return err
	}
	doc, err := ReadDocument(file)
	if err != nil {
		return err
	}
	stripServerFields(doc)

	id := existing.String("_id")
	etag := existing.String("_etag")
	if err := l.API.ReplaceTrial(ctx, id, etag, byProtocolNo(protocolNo), matchminer.Document(doc)); err != nil {
		return err
	}
	l.logger().Info("trial updated", logging.String("protocol_no", protocolNo), logging.String("id", id))
	l.runMatchEngine(ctx)
	return nil
}

// MaxProtocol returns the identifiers of the trial with the highest protocol_id.
func (l *Loader) MaxProtocol(ctx context.Context) (Protocol, error) {
	items, err := l.API.FindTrials(ctx, matchminer.Query{
		Projection: map[string]int{"protocol_id": 1, "protocol_no": 1},
	})
	if err != nil {
		return Protocol{}, err
	}
	protocols := make([]Protocol, 0, len(items))
	for _, item := range items {
		id, ok := asInt(item["protocol_id"])
		if !ok {
			continue
		}
		protocols = append(protocols, Protocol{ID: id, No: fmt.Sprint(item["protocol_no"])})
	}
	if len(protocols) == 0 {
		return Protocol{}, ErrNoTrials
	}
	sort.SliceStable(protocols, func(i, j int) bool { return protocols[i].ID < protocols[j].ID })
	return protocols[len(protocols)-1], nil
}

// NCTIDs lists the nct_id of every ClinicalTrials.gov trial on the server.
func (l *Loader) NCTIDs(ctx context.Context) ([]string, error) {
	items, err := l.API.FindTrials(ctx, matchminer.Query{Projection: map[string]int{"nct_id": 1}})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if id := item.String("nct_id"); strings.HasPrefix(id, "NCT") {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// SaveNCTIDs writes ids to all_nct_ids.json in the data dir and returns the path.
func (l *Loader) SaveNCTIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(l.DataDir, 0o755); err != nil {
		return "", fmt.Errorf("create trial dir: %w", err)
	}
	path := filepath.Join(l.DataDir, NCTIDsFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", NCTIDsFile, err)
	}
	return path, nil
}

func asInt(value any) (int, bool) {
	switch v := value.(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case string:
		var n int
		if _, err := fmt.Sscan(v, &n); err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
