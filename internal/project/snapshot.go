package project

// Snapshot is the bounded, serializable view of a project used to compose
// model prompts. History is limited to the snapshot window; the todo list and
// log counts are always complete. Anything dropped from history was replaced
// by an explicit compaction marker, so the model sees that truncation
// happened.
type Snapshot struct {
	Dir            string         `json:"dir"`
	Goal           string         `json:"goal"`
	Status         Status         `json:"status"`
	TodoList       []TodoItem     `json:"todoList"`
	RecentHistory  []Turn         `json:"recentHistory"`
	HistoryLen     int            `json:"historyLen"`
	FileOpCount    int            `json:"fileOpCount"`
	BuildCount     int            `json:"buildCount"`
	LastBuild      *BuildLogEntry `json:"lastBuild,omitempty"`
	Files          []string       `json:"files"`
	FilesTruncated bool           `json:"filesTruncated"`
}

// Snapshot builds the prompt view: last window turns, full todo list, log
// counts, the most recent build result, and a bounded project file listing.
func (s *Store) Snapshot() Snapshot {
	snap := Snapshot{
		Dir:         s.dir,
		Goal:        s.doc.Goal,
		Status:      s.doc.Status,
		TodoList:    s.Todos(),
		HistoryLen:  len(s.doc.History),
		FileOpCount: len(s.doc.FileLog),
		BuildCount:  len(s.doc.BuildLog),
	}

	start := 0
	if len(s.doc.History) > s.window {
		start = len(s.doc.History) - s.window
	}
	snap.RecentHistory = make([]Turn, len(s.doc.History)-start)
	copy(snap.RecentHistory, s.doc.History[start:])

	if n := len(s.doc.BuildLog); n > 0 {
		last := s.doc.BuildLog[n-1]
		snap.LastBuild = &last
	}

	files, truncated, err := ListFiles(s.dir, s.fileLimit)
	if err != nil {
		s.log.Warn().Err(err).Msg("project file listing failed")
	} else {
		snap.Files = files
		snap.FilesTruncated = truncated
	}

	return snap
}
