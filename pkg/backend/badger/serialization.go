package badger

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"time"
)

// entry is the persisted record for one path.
type entry struct {
	Dir       bool      `json:"dir"`
	Mode      uint32    `json:"mode"`
	Size      int64     `json:"size"`
	ModTime   time.Time `json:"mtime"`
	Owner     string    `json:"owner,omitempty"`
	ContentID string    `json:"content_id,omitempty"`
	Chunks    int       `json:"chunks,omitempty"`
}

func (e *entry) fileMode() fs.FileMode {
	mode := fs.FileMode(e.Mode).Perm()
	if e.Dir {
		mode |= fs.ModeDir
	}
	return mode
}

func encodeEntry(e *entry) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entry: %w", err)
	}
	return data, nil
}

func decodeEntry(data []byte) (*entry, error) {
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode entry: %w", err)
	}
	return &e, nil
}
