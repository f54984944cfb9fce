package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/corralhq/corral/pkg/types"
)

const backupSuffix = ".bak"

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}

// readDocument parses one JSON state document into out. A missing file
// reads as the zero value; an unparseable file is CORRUPT_STATE, never
// silently repaired here (recovery runs at Open, repair belongs to
// maintenance).
func readDocument(dir, name string, out interface{}) error {
	path := filepath.Join(dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return types.WrapError(types.ErrIO, err, "reading %s", name)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return types.WrapError(types.ErrCorruptState, err, "parsing %s", name)
	}
	return nil
}

// writeDocument atomically replaces one JSON state document. The new
// content lands in a temp file in the same directory, is fsynced, and
// renamed over the original, so readers always observe a complete
// document. The previous content is kept as a .bak for crash recovery.
func writeDocument(dir, name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return types.WrapError(types.ErrIO, err, "encoding %s", name)
	}
	data = append(data, '\n')

	path := filepath.Join(dir, name)
	tmp := fmt.Sprintf("%s.tmp.%d", path, os.Getpid())

	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return types.WrapError(types.ErrIO, err, "writing %s", tmp)
	}
	if err := syncFile(tmp); err != nil {
		os.Remove(tmp)
		return types.WrapError(types.ErrIO, err, "syncing %s", tmp)
	}

	// Keep the pre-image for recovery. Best effort: a first write has
	// no pre-image.
	if prev, err := os.ReadFile(path); err == nil {
		_ = os.WriteFile(path+backupSuffix, prev, 0644)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return types.WrapError(types.ErrIO, err, "replacing %s", name)
	}
	return nil
}

// ReadSideFile reads an auxiliary JSON document (archives, reports)
// next to the state documents. Missing files read as the zero value.
func ReadSideFile(dir, name string, out interface{}) error {
	return readDocument(dir, name, out)
}

// WriteSideFile writes an auxiliary JSON document with the same
// temp-fsync-rename discipline as the state documents
func WriteSideFile(dir, name string, v interface{}) error {
	return writeDocument(dir, name, v)
}

func syncFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	err = f.Sync()
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
