package state

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	appLog "ttcal/internal/log"
)

// recordJSON is the on-disk shape. Field names match the historical
// event-state.json layout so existing state files keep working.
type recordJSON struct {
	Hash         string `json:"hash"`
	Sequence     *int   `json:"sequence,omitempty"`
	Created      string `json:"created,omitempty"`
	LastModified string `json:"lastModified,omitempty"`
	MatchKey     string `json:"matchKey"`
	Start        string `json:"start,omitempty"`
	End          string `json:"end,omitempty"`
}

// FileStore keeps a RecordSet in a single JSON file.
type FileStore struct {
	path string
	// now stamps records whose created/lastModified are missing on load.
	now func() time.Time
}

// NewFileStore returns a store backed by path. The file and its parent
// directory are created on first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Load reads the record set. A missing, unreadable or corrupt file yields
// an empty set; Load never fails startup.
func (s *FileStore) Load() RecordSet {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			appLog.Error("state load failed, starting empty", err, "path", s.path)
		}
		return RecordSet{}
	}

	var raw map[string]recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		appLog.Error("state file corrupt, starting empty", err, "path", s.path)
		return RecordSet{}
	}

	now := s.now()
	rs := make(RecordSet, len(raw))
	for id, v := range raw {
		if id == "" {
			continue
		}
		r := Record{
			Hash:         v.Hash,
			MatchKey:     v.MatchKey,
			Created:      parseTimeOr(v.Created, now),
			LastModified: parseTimeOr(v.LastModified, now),
			Start:        parseTimeOr(v.Start, time.Time{}),
			End:          parseTimeOr(v.End, time.Time{}),
		}
		if v.Sequence != nil && *v.Sequence > 0 {
			r.Sequence = *v.Sequence
		}
		rs[id] = r
	}

	appLog.Info("state loaded", "path", s.path, "records", len(rs))
	return rs
}

// Save writes rs atomically: temp file in the same directory, fsync, then
// rename over the target. On failure the previous file is left intact.
func (s *FileStore) Save(rs RecordSet) error {
	if s.path == "" {
		return errors.New("state path is empty")
	}

	out := make(map[string]recordJSON, len(rs))
	for id, r := range rs {
		seq := r.Sequence
		out[id] = recordJSON{
			Hash:         r.Hash,
			Sequence:     &seq,
			Created:      formatTime(r.Created),
			LastModified: formatTime(r.LastModified),
			MatchKey:     r.MatchKey,
			Start:        formatTime(r.Start),
			End:          formatTime(r.End),
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".ttcal-state-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}

func parseTimeOr(v string, def time.Time) time.Time {
	if v == "" {
		return def
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return def
	}
	return t.UTC()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
