package sqlite

import (
	"net/url"
	"strconv"
	"strings"
)

// Options tunes the SQLite connection
type Options struct {
	BusyTimeoutMS int
	JournalMode   string
}

// DefaultOptions returns WAL with a 5s busy timeout
func DefaultOptions() Options {
	return Options{
		BusyTimeoutMS: 5000,
		JournalMode:   "WAL",
	}
}

// buildDSN appends go-sqlite3 connection parameters to path, keeping any query the caller supplied.
// Write transactions take the lock up front (_txlock=immediate) so two writers never deadlock on upgrade.
func buildDSN(path string, opts Options) string {
	base, rawQuery, _ := strings.Cut(path, "?")
	query, _ := url.ParseQuery(rawQuery)

	if opts.BusyTimeoutMS > 0 && query.Get("_busy_timeout") == "" {
		query.Set("_busy_timeout", strconv.Itoa(opts.BusyTimeoutMS))
	}
	if mode := normalizeJournalMode(opts.JournalMode); mode != "" && query.Get("_journal_mode") == "" {
		query.Set("_journal_mode", mode)
	}
	if query.Get("_foreign_keys") == "" {
		query.Set("_foreign_keys", "1")
	}
	if query.Get("_txlock") == "" {
		query.Set("_txlock", "immediate")
	}

	if !strings.HasPrefix(base, "file:") {
		base = "file:" + base
	}
	return base + "?" + query.Encode()
}

// normalizeJournalMode returns an accepted uppercase journal mode or "" when value is invalid
func normalizeJournalMode(value string) string {
	value = strings.ToUpper(strings.TrimSpace(value))
	switch value {
	case "WAL", "DELETE", "TRUNCATE", "PERSIST", "MEMORY", "OFF":
		return value
	default:
		return ""
	}
}
