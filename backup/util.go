package backup

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"unicode"
)

var log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
	Level:     slog.LevelInfo,
	AddSource: true,
}))

// SetLogger sets the global logger used throughout the backup package.
func SetLogger(logger *slog.Logger) {
	if logger != nil {
		log = logger
	}
}

// parseStartArgs splits the start argument blob into the leading
// "generate manifests" integer and the free-text volume list.
// An unparsable leading token is skipped.
func parseStartArgs(args string) (manifests bool, volumes string) {
	rest := strings.TrimLeftFunc(args, unicode.IsSpace)
	if rest == "" {
		return false, ""
	}
	token, tail := rest, ""
	if i := strings.IndexFunc(rest, unicode.IsSpace); i >= 0 {
		token, tail = rest[:i], rest[i:]
	}
	if n, err := strconv.Atoi(token); err == nil {
		manifests = n != 0
	}
	return manifests, strings.TrimLeftFunc(tail, unicode.IsSpace)
}
