package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/anvilworks/anvil/internal/fault"
)

const (
	stateDirName    = ".anvil"
	contextFileName = "context.json"
	archiveFileName = "transcript.db"

	// DefaultHistoryWindow is how many recent turns a prompt snapshot carries.
	DefaultHistoryWindow = 10
	// DefaultHistoryCap is the live-history length that triggers compaction.
	DefaultHistoryCap = 20
	// DefaultFileListLimit bounds the project file listing in snapshots.
	DefaultFileListLimit = 200

	saveRetries = 3
)

// Options configure a Store. Zero values select the defaults above.
type Options struct {
	HistoryWindow int
	HistoryCap    int
	FileListLimit int
	// Archive enables the SQLite transcript archive alongside the JSON
	// document. Archive failures are logged, never fatal.
	Archive bool
	Logger  zerolog.Logger
}

// Store owns the persisted Context for one project root. All methods must be
// called from the coordination goroutine; the Store itself does no locking.
type Store struct {
	dir  string // project root
	path string // JSON document path
	doc  *Context

	window    int
	cap       int
	fileLimit int

	archive *Archive
	log     zerolog.Logger
}

// Open loads the project record from dir, or starts a fresh one. A missing or
// unreadable document is not an error: the loader warns and falls back to an
// empty context. Open fails only when the state directory cannot be created,
// since nothing could be persisted afterwards.
func Open(dir string, opts Options) (*Store, error) {
	stateDir := filepath.Join(dir, stateDirName)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fault.Wrap(fault.KindPersistence, err, "create state directory")
	}

	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = DefaultHistoryWindow
	}
	if opts.HistoryCap <= 0 {
		opts.HistoryCap = DefaultHistoryCap
	}
	if opts.HistoryCap < opts.HistoryWindow {
		opts.HistoryCap = opts.HistoryWindow
	}
	if opts.FileListLimit <= 0 {
		opts.FileListLimit = DefaultFileListLimit
	}

	s := &Store{
		dir:       dir,
		path:      filepath.Join(stateDir, contextFileName),
		window:    opts.HistoryWindow,
		cap:       opts.HistoryCap,
		fileLimit: opts.FileListLimit,
		log:       opts.Logger,
	}

	removeStaleTemps(stateDir, s.log)
	s.doc = s.loadOrFresh()

	if opts.Archive {
		archive, err := OpenArchive(filepath.Join(stateDir, archiveFileName))
		if err != nil {
			s.log.Warn().Err(err).Msg("transcript archive unavailable")
		} else {
			s.archive = archive
		}
	}

	return s, nil
}

// Close releases the transcript archive, if any. The JSON document needs no
// teardown; every mutation already persisted it.
func (s *Store) Close() error {
	if s.archive == nil {
		return nil
	}
	return s.archive.Close()
}

// Dir returns the project root this store records.
func (s *Store) Dir() string { return s.dir }

// Path returns the JSON document location, for display.
func (s *Store) Path() string { return s.path }

func (s *Store) loadOrFresh() *Context {
	now := time.Now().UTC()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.log.Info().Str("path", s.path).Msg("no existing context, starting fresh")
		return newContext(now)
	}
	if err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("context unreadable, starting fresh")
		return newContext(now)
	}

	var doc Context
	if err := json.Unmarshal(data, &doc); err != nil {
		// Keep the bad document around rather than silently discarding it.
		backup := s.path + ".corrupt"
		if renameErr := os.Rename(s.path, backup); renameErr == nil {
			s.log.Warn().Err(err).Str("backup", backup).Msg("context corrupt, moved aside; starting fresh")
		} else {
			s.log.Warn().Err(err).Msg("context corrupt, starting fresh")
		}
		return newContext(now)
	}

	normalize(&doc, now, s.log)
	s.log.Info().Int("turns", len(doc.History)).Int("todos", len(doc.TodoList)).Msg("context loaded")
	return &doc
}

// normalize repairs a loaded document: nil slices become empty, and statuses
// that only make sense mid-flight reset to idle because nothing is in flight
// after a restart.
func normalize(doc *Context, now time.Time, log zerolog.Logger) {
	if doc.History == nil {
		doc.History = []Turn{}
	}
	if doc.TodoList == nil {
		doc.TodoList = []TodoItem{}
	}
	if doc.FileLog == nil {
		doc.FileLog = []FileLogEntry{}
	}
	if doc.BuildLog == nil {
		doc.BuildLog = []BuildLogEntry{}
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	switch doc.Status {
	case StatusIdle, StatusError:
		// Stable across restarts.
	case StatusAwaitingConfirmation, StatusBuilding:
		log.Warn().Str("status", string(doc.Status)).Msg("in-flight status after restart, resetting to idle")
		doc.Status = StatusIdle
	default:
		log.Warn().Str("status", string(doc.Status)).Msg("unknown status, resetting to idle")
		doc.Status = StatusIdle
	}
}

// removeStaleTemps deletes temp files left behind by a crash mid-persist.
// The rename in save is atomic, so a leftover temp is always a discard.
func removeStaleTemps(stateDir string, log zerolog.Logger) {
	matches, err := filepath.Glob(filepath.Join(stateDir, "context-*.tmp"))
	if err != nil {
		return
	}
	for _, m := range matches {
		if err := os.Remove(m); err == nil {
			log.Debug().Str("path", m).Msg("removed stale temp file")
		}
	}
}

// save writes the full document atomically: temp file in the same directory,
// sync, rename. Retried a few times before reporting a persistence fault;
// the in-memory document is never dropped.
func (s *Store) save() error {
	s.doc.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fault.Wrap(fault.KindPersistence, err, "encode context")
	}

	var lastErr error
	for attempt := 0; attempt < saveRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
		}
		if lastErr = s.writeAtomic(data); lastErr == nil {
			return nil
		}
		s.log.Warn().Err(lastErr).Int("attempt", attempt+1).Msg("context persist failed")
	}
	return fault.Wrap(fault.KindPersistence, lastErr, fmt.Sprintf("persist context after %d attempts", saveRetries))
}

func (s *Store) writeAtomic(data []byte) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "context-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Mutations. Each one persists the full document before returning.
// ---------------------------------------------------------------------------

// AddTurn appends a history turn, archives it, compacts when the live history
// exceeds the cap, and persists.
func (s *Store) AddTurn(role Role, text string) error {
	turn := Turn{Role: role, Text: text, Timestamp: time.Now().UTC()}
	s.doc.History = append(s.doc.History, turn)
	s.archiveTurn(turn)
	s.compactIfNeeded()
	return s.save()
}

// SetGoal replaces the project goal.
func (s *Store) SetGoal(goal string) error {
	s.doc.Goal = goal
	return s.save()
}

// MergeTodos folds validated todo updates into the list: unknown descriptions
// are appended, known ones have their done flag raised. Done is never lowered
// and items are never removed. Returns how many items were added and how many
// newly completed.
func (s *Store) MergeTodos(updates []TodoItem) (added, completed int, err error) {
	for _, u := range updates {
		idx := -1
		for i, existing := range s.doc.TodoList {
			if existing.Description == u.Description {
				idx = i
				break
			}
		}
		if idx < 0 {
			s.doc.TodoList = append(s.doc.TodoList, u)
			added++
			if u.Done {
				completed++
			}
			continue
		}
		if u.Done && !s.doc.TodoList[idx].Done {
			s.doc.TodoList[idx].Done = true
			completed++
		}
	}
	if added == 0 && completed == 0 {
		return 0, 0, nil
	}
	return added, completed, s.save()
}

// AddFileLog appends a file-operation record.
func (s *Store) AddFileLog(e FileLogEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	s.doc.FileLog = append(s.doc.FileLog, e)
	return s.save()
}

// AddBuildLog appends a command-run record.
func (s *Store) AddBuildLog(e BuildLogEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	s.doc.BuildLog = append(s.doc.BuildLog, e)
	return s.save()
}

// SetStatus records a status transition. Statuses follow confirmation and
// build state; callers only invoke this from those transitions.
func (s *Store) SetStatus(st Status) error {
	if s.doc.Status == st {
		return nil
	}
	s.doc.Status = st
	return s.save()
}

// ClearHistory resets the live conversation to a single marker turn. Every
// cleared turn was already archived when it was appended.
func (s *Store) ClearHistory(reason string) error {
	cleared := len(s.doc.History)
	marker := Turn{
		Role:      RoleSystem,
		Text:      fmt.Sprintf("history cleared (%s): %d turns archived", reason, cleared),
		Timestamp: time.Now().UTC(),
	}
	s.doc.History = []Turn{marker}
	s.archiveTurn(marker)
	return s.save()
}

// compactIfNeeded bounds the live history. Turns beyond the snapshot window
// are dropped from the document and replaced by an explicit marker turn; the
// archive retains every turn.
func (s *Store) compactIfNeeded() {
	if len(s.doc.History) <= s.cap {
		return
	}
	dropped := len(s.doc.History) - s.window
	marker := Turn{
		Role:      RoleSystem,
		Text:      fmt.Sprintf("history compacted: %d earlier turns archived", dropped),
		Timestamp: time.Now().UTC(),
	}
	kept := make([]Turn, 0, s.window+1)
	kept = append(kept, marker)
	kept = append(kept, s.doc.History[len(s.doc.History)-s.window:]...)
	s.doc.History = kept
	s.archiveTurn(marker)
	s.log.Info().Int("dropped", dropped).Msg("history compacted")
}

func (s *Store) archiveTurn(turn Turn) {
	if s.archive == nil {
		return
	}
	if err := s.archive.AppendTurn(turn); err != nil {
		s.log.Warn().Err(err).Msg("transcript archive append failed")
	}
}

// ---------------------------------------------------------------------------
// Read access. Slices are copied so callers cannot bypass the mutators.
// ---------------------------------------------------------------------------

// Goal returns the project goal.
func (s *Store) Goal() string { return s.doc.Goal }

// Status returns the current status.
func (s *Store) Status() Status { return s.doc.Status }

// HistoryLen returns the live history length.
func (s *Store) HistoryLen() int { return len(s.doc.History) }

// Todos returns a copy of the todo list.
func (s *Store) Todos() []TodoItem {
	out := make([]TodoItem, len(s.doc.TodoList))
	copy(out, s.doc.TodoList)
	return out
}

// FileLog returns a copy of the file-operation log.
func (s *Store) FileLog() []FileLogEntry {
	out := make([]FileLogEntry, len(s.doc.FileLog))
	copy(out, s.doc.FileLog)
	return out
}

// BuildLog returns a copy of the build log.
func (s *Store) BuildLog() []BuildLogEntry {
	out := make([]BuildLogEntry, len(s.doc.BuildLog))
	copy(out, s.doc.BuildLog)
	return out
}

// DoneCount returns how many todos are done.
func (s *Store) DoneCount() int { return s.doc.DoneCount() }
