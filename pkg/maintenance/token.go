package maintenance

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/corralhq/corral/pkg/clock"
	"github.com/corralhq/corral/pkg/types"
)

// TokenFileName is the maintenance mutual-exclusion token inside the
// coordination directory. Exactly one maintenance job runs at a time
// across every process sharing the directory.
const TokenFileName = "maintenance.token"

// tokenRecord is the on-disk token content
type tokenRecord struct {
	Token      string    `json:"token"`
	Job        string    `json:"job"`
	HolderPID  int       `json:"holder_pid"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (r *tokenRecord) expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Token is a held maintenance token. Release removes it; the TTL bounds
// how long a crashed holder can wedge maintenance.
type Token struct {
	path   string
	record tokenRecord
}

// acquireToken takes the maintenance token for one job run. An expired
// token left by a crashed holder is force-released first; the returned
// stale record, when non-nil, lets the caller report the takeover. A
// live token means maintenance is already running: BUSY.
func acquireToken(dir, job string, ttl time.Duration, clk *clock.Clock) (*Token, *tokenRecord, error) {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	path := filepath.Join(dir, TokenFileName)
	now := clk.NowWall()

	var stale *tokenRecord
	if existing, err := readToken(path); err == nil {
		switch {
		case existing == nil:
			// A file that exists but does not parse is a torn write;
			// break it rather than wedge maintenance
			if _, statErr := os.Stat(path); statErr == nil {
				os.Remove(path)
			}
		case existing.expired(now):
			// Watchdog: the holder exceeded its TTL, break the token
			stale = existing
			os.Remove(path)
		default:
			return nil, nil, types.NewError(types.ErrBusy,
				"maintenance already running: job %s, pid %d, expires %s",
				existing.Job, existing.HolderPID, existing.ExpiresAt.Format(time.RFC3339))
		}
	}

	record := tokenRecord{
		Token:      clk.NewTraceID(),
		Job:        job,
		HolderPID:  os.Getpid(),
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	data, err := json.Marshal(&record)
	if err != nil {
		return nil, stale, types.WrapError(types.ErrIO, err, "encoding maintenance token")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			// Lost the race to another maintenance process
			return nil, stale, types.NewError(types.ErrBusy, "maintenance token contended")
		}
		return nil, stale, types.WrapError(types.ErrIO, err, "creating maintenance token")
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return nil, stale, types.WrapError(types.ErrIO, err, "writing maintenance token")
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, stale, types.WrapError(types.ErrIO, err, "closing maintenance token")
	}

	return &Token{path: path, record: record}, stale, nil
}

// Release removes the token if this holder still owns it. A token
// broken and re-acquired by someone else after TTL expiry is left
// alone.
func (t *Token) Release() error {
	current, err := readToken(t.path)
	if err != nil || current == nil {
		return nil
	}
	if current.Token != t.record.Token {
		return nil
	}
	if err := os.Remove(t.path); err != nil && !os.IsNotExist(err) {
		return types.WrapError(types.ErrIO, err, "releasing maintenance token")
	}
	return nil
}

// readToken returns the current token record, nil when absent. A
// malformed token reads as absent so a torn write cannot wedge
// maintenance forever.
func readToken(path string) (*tokenRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, types.WrapError(types.ErrIO, err, "reading maintenance token")
	}
	var record tokenRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, nil
	}
	return &record, nil
}
