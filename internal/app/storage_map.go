package app

import (
	"strings"
	"time"

	"jobsched/internal/admin"
	"jobsched/internal/config"
	"jobsched/internal/storage"
)

const defaultBusyTimeout = time.Second

// mapStorageConfig reports false when the journal is disabled.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	if storage.Disabled(sc.Driver) {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultBusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      sc.Driver,
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
		Retain:      sc.Retain,
	}, true, nil
}

func mapAdminConfig(cfg *config.Config) admin.Config {
	ac := cfg.Admin
	return admin.Config{
		Enabled:      ac.Enabled,
		Addr:         strings.TrimSpace(ac.Address),
		Token:        ac.Token,
		Pprof:        ac.Pprof,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second, // pprof profiles stream for up to 30s
		IdleTimeout:  60 * time.Second,
	}
}
