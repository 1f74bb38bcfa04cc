package persist

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"pkt.systems/eclkernel/schema"
	"pkt.systems/pslog"
)

// SessionSnapshot captures the durable state of a kernel session.
type SessionSnapshot struct {
	ExecutionCount int                   `json:"execution_count"`
	History        []schema.HistoryEntry `json:"history,omitempty"`
}

// Store persists session snapshots to disk, one JSON file per session.
type Store struct {
	dir string
	log pslog.Logger
}

// NewStore constructs a persistent store at the given directory.
func NewStore(dir string) (*Store, error) {
	return NewStoreWithLogger(dir, nil)
}

// NewStoreWithLogger constructs a persistent store with logging.
func NewStoreWithLogger(dir string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("state_dir", dir)
	}
	return &Store{dir: dir, log: logger}, nil
}

// Load reads a session snapshot from disk.
func (s *Store) Load(sessionID schema.SessionID) (SessionSnapshot, bool, error) {
	data, err := os.ReadFile(s.pathForSession(sessionID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.debug("state load miss", "session", sessionID)
			return SessionSnapshot{}, false, nil
		}
		s.warn("state load failed", sessionID, err)
		return SessionSnapshot{}, false, err
	}
	var snapshot SessionSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		s.warn("state load failed", sessionID, err)
		return SessionSnapshot{}, false, err
	}
	s.debug("state load ok", "session", sessionID, "history", len(snapshot.History), "execution_count", snapshot.ExecutionCount)
	return snapshot, true, nil
}

// Save writes a session snapshot to disk atomically.
func (s *Store) Save(sessionID schema.SessionID, snapshot SessionSnapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		s.warn("state save failed", sessionID, err)
		return err
	}
	if err := writeFileAtomic(s.pathForSession(sessionID), data); err != nil {
		s.warn("state save failed", sessionID, err)
		return err
	}
	if s.log != nil {
		s.log.Trace("state save ok", "session", sessionID, "history", len(snapshot.History))
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "state-*.json")
	if err != nil {
		return err
	}
	cleanup := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *Store) debug(msg string, kv ...any) {
	if s.log != nil {
		s.log.Debug(msg, kv...)
	}
}

func (s *Store) warn(msg string, sessionID schema.SessionID, err error) {
	if s.log != nil {
		s.log.Warn(msg, "session", sessionID, "err", err)
	}
}

func (s *Store) pathForSession(sessionID schema.SessionID) string {
	name := sanitize(string(sessionID))
	if name == "" {
		name = "unknown"
	}
	return filepath.Join(s.dir, name+".json")
}

func sanitize(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}
