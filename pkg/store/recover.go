package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// recoverDir runs once at Open: it deletes temp files orphaned by a
// crashed rename and restores any corrupt or missing document from its
// most recent backup.
func recoverDir(dir string, logger zerolog.Logger) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	for _, e := range entries {
		if strings.Contains(e.Name(), ".json.tmp.") {
			path := filepath.Join(dir, e.Name())
			if err := os.Remove(path); err == nil {
				logger.Warn().Str("file", e.Name()).Msg("removed orphaned temp file")
			}
		}
	}

	for _, name := range []string{ActiveClaimsFile, AgentRegistryFile, CompletedLogFile} {
		restoreFromBackup(dir, name, logger)
	}
	return nil
}

func restoreFromBackup(dir, name string, logger zerolog.Logger) {
	path := filepath.Join(dir, name)

	data, err := os.ReadFile(path)
	if err == nil && json.Valid(data) {
		return
	}
	if os.IsNotExist(err) {
		// Never written; nothing to restore
		if _, berr := os.Stat(path + backupSuffix); berr != nil {
			return
		}
	}

	backup, berr := os.ReadFile(path + backupSuffix)
	if berr != nil || !json.Valid(backup) {
		if err == nil {
			logger.Error().Str("file", name).Msg("document corrupt and no usable backup")
		}
		return
	}

	if werr := os.WriteFile(path, backup, 0644); werr == nil {
		logger.Warn().Str("file", name).Msg("restored document from backup")
	}
}
