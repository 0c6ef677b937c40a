package archive

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/cockroachdb/pebble"

	"ridechat/pkg/logger"
	"ridechat/pkg/models"
)

// Archive is an opt-in durable transcript of confirmed messages, kept next
// to the session so a later session can warm-start when the backend history
// fetch fails. It never feeds back into reconciliation semantics: the live
// feed stays in-memory and session-scoped.
type Archive struct {
	db   *pebble.DB
	path string
	// seq reduces key collisions when multiple messages share the same
	// nanosecond timestamp.
	seq uint64
}

// Open opens (or creates) the pebble database at path.
func Open(path string) (*Archive, error) {
	logger.Info("opening_archive", "path", path)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("archive_open_failed", "path", path, "error", err)
		return nil, err
	}
	return &Archive{db: db, path: path}, nil
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	logger.Info("archive_closed", "path", a.path)
	return err
}

// Append stores a confirmed message under a sortable timestamp key.
// Key format: conv:<conversationID>:msg:<unix_nano_padded>-<seq>
func (a *Archive) Append(conversationID string, m models.Message) error {
	if a.db == nil {
		return fmt.Errorf("archive not opened")
	}
	ts := m.TS
	s := atomic.AddUint64(&a.seq, 1)
	key := fmt.Sprintf("conv:%s:msg:%020d-%06d", conversationID, ts, s)
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := a.db.Set([]byte(key), data, pebble.Sync); err != nil {
		logger.Error("archive_append_failed", "conversation", conversationID, "key", key, "error", err)
		return err
	}
	logger.Debug("archive_appended", "conversation", conversationID, "key", key)
	return nil
}

// List returns the archived messages of a conversation in key (timestamp)
// order. A limit of 0 means all; otherwise the newest `limit` entries.
func (a *Archive) List(conversationID string, limit int) ([]models.Message, error) {
	if a.db == nil {
		return nil, fmt.Errorf("archive not opened")
	}
	prefix := []byte(fmt.Sprintf("conv:%s:msg:", conversationID))
	iter, err := a.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: append(append([]byte{}, prefix...), 0xff),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []models.Message
	for iter.First(); iter.Valid(); iter.Next() {
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Warn("archive_entry_invalid", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, m)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Purge removes archived entries older than the given cutoff (nanoseconds
// since epoch) across all conversations and reports how many were deleted.
func (a *Archive) Purge(cutoffNS int64) (int, error) {
	if a.db == nil {
		return 0, fmt.Errorf("archive not opened")
	}
	iter, err := a.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("conv:"),
		UpperBound: []byte("conw"),
	})
	if err != nil {
		return 0, err
	}
	var victims [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		ts, ok := keyTimestamp(string(iter.Key()))
		if ok && ts < cutoffNS {
			victims = append(victims, append([]byte{}, iter.Key()...))
		}
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	for _, k := range victims {
		if err := a.db.Delete(k, pebble.Sync); err != nil {
			return 0, fmt.Errorf("delete %s: %w", string(k), err)
		}
	}
	if len(victims) > 0 {
		logger.Info("archive_purged", "deleted", len(victims))
	}
	return len(victims), nil
}

// SizeBytes reports the on-disk size of the archive directory, best effort.
func (a *Archive) SizeBytes() int64 {
	var total int64
	_ = filepath.WalkDir(a.path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			total += fi.Size()
		}
		return nil
	})
	return total
}

// keyTimestamp parses the padded nanosecond timestamp out of an archive key.
func keyTimestamp(key string) (int64, bool) {
	i := strings.LastIndex(key, ":msg:")
	if i < 0 {
		return 0, false
	}
	rest := key[i+len(":msg:"):]
	j := strings.IndexByte(rest, '-')
	if j < 0 {
		return 0, false
	}
	ts, err := strconv.ParseInt(rest[:j], 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}
