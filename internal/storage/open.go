package storage

import (
	"fmt"
	"sort"
	"strings"

	logx "jobsched/pkg/logx"
)

type opener func(cfg Config, log logx.Logger) (Store, error)

var drivers = map[string]opener{
	"file":    openFile,
	"sqlite":  openSQLite,
	"sqlite3": openSQLite,
}

// Drivers lists the driver names Open accepts, besides "" and "none".
func Drivers() []string {
	names := make([]string, 0, len(drivers))
	for n := range drivers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func normDriver(d string) string { return strings.ToLower(strings.TrimSpace(d)) }

// Disabled reports whether driver turns the journal off.
func Disabled(driver string) bool {
	d := normDriver(driver)
	return d == "" || d == "none"
}

// Open returns the store for cfg, or (nil, nil) when storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if Disabled(cfg.Driver) {
		return nil, nil
	}
	driver := normDriver(cfg.Driver)
	open, ok := drivers[driver]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("%w (driver %s)", ErrPathRequired, driver)
	}
	return open(cfg, log.With(logx.String("driver", driver)))
}
