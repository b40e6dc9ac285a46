package purge

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// SaveTenantQueue writes tenant's operations to <dir>/<tenant>.json via a
// write-temp-then-rename, so a crash mid-write never leaves a corrupt
// queue file (spec §4.4.1 "Persistence"). No library in the example
// pack addresses this narrow atomic-file-replace mechanic, so this uses
// os.CreateTemp + os.Rename directly, the idiomatic stdlib way to get a
// same-filesystem atomic replace on POSIX.
func SaveTenantQueue(dir, tenant string, ops []*Operation) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(ops)
	if err != nil {
		return err
	}

	final := filepath.Join(dir, tenant+".json")
	tmp, err := os.CreateTemp(dir, tenant+".json.tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, final)
}

// LoadTenantQueue reads a previously persisted queue file, reverting any
// "processing" entries to pending with attempts incremented (spec
// §4.4.1), matching what ResumeFromRestart would do to an in-memory
// queue that stayed up.
func LoadTenantQueue(dir, tenant string) ([]*Operation, error) {
	path := filepath.Join(dir, tenant+".json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ops []*Operation
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, err
	}
	for _, op := range ops {
		if op.Status == StatusProcessing {
			op.Status = StatusPending
			op.Attempts++
		}
	}
	return ops, nil
}

// PersistLoop periodically (and on stop) saves every tenant's queue to
// dir, spec §4.4.1's "every 10 seconds, and on shutdown" requirement.
func PersistLoop(q *Queue, dir string, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	save := func() {
		for _, tenant := range q.Tenants() {
			if err := SaveTenantQueue(dir, tenant, q.Snapshot(tenant)); err != nil {
				log.Error().Err(err).Str("tenant", tenant).Msg("failed to persist purge queue")
			}
		}
	}
	for {
		select {
		case <-ticker.C:
			save()
		case <-stop:
			save()
			return
		}
	}
}
