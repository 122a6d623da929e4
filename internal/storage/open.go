package storage

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	logx "tagbot/pkg/logx"
)

// ErrUnknownDriver is returned by Open for a driver name with no opener.
var ErrUnknownDriver = errors.New("unknown storage driver")

type opener func(cfg Config, log logx.Logger) (Store, error)

var drivers = map[string]opener{
	"sqlite":  openSQLite,
	"sqlite3": openSQLite,
	"file":    openFile,
	"memory":  func(Config, logx.Logger) (Store, error) { return NewMemory(), nil },
	"mem":     func(Config, logx.Logger) (Store, error) { return NewMemory(), nil },
}

// Drivers lists the accepted driver names, "none" excluded.
func Drivers() []string {
	out := make([]string, 0, len(drivers))
	for name := range drivers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Open returns the store for cfg.Driver. An empty driver means sqlite.
// "none" yields (nil, nil) and callers fall back to memory.
func Open(cfg Config, log logx.Logger) (Store, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch name {
	case "none":
		return nil, nil
	case "":
		name = "sqlite"
	}
	open, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (want one of %s)", ErrUnknownDriver, name, strings.Join(Drivers(), ", "))
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	st, err := open(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("storage %s: %w", name, err)
	}
	return st, nil
}
