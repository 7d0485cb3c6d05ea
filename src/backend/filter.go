package backend

import (
	"path"
	"strings"
)

// NormalizeFilter cleans a restore filter to a slash-separated relative
// path. Empty and "." filters are collapsed to "" which matches everything.
func NormalizeFilter(f string) string {
	f = strings.TrimSpace(strings.ReplaceAll(f, "\\", "/"))
	f = path.Clean("/" + f)
	return strings.TrimPrefix(f, "/")
}

// MatchFilter reports whether the entry at rel (relative to the backup's
// data root) should be restored given the filter set. The rule is the same
// for every backend: an entry matches when it equals a filter, lies under a
// filter, or is an ancestor directory of a filter. An empty filter set
// matches everything.
func MatchFilter(rel string, filters []string) bool {
	if len(filters) == 0 {
		return true
	}
	rel = NormalizeFilter(rel)
	for _, f := range filters {
		f = NormalizeFilter(f)
		if f == "" || rel == f {
			return true
		}
		if strings.HasPrefix(rel, f+"/") || strings.HasPrefix(f, rel+"/") {
			return true
		}
	}
	return false
}

// SyncFilterArgs renders the filter rule as rsync/rclone include/exclude
// arguments: for each filter its ancestor directories, itself, and its
// subtree are included, then everything else excluded. With no filters it
// returns nil so the sync transfers the whole tree.
func SyncFilterArgs(filters []string) []string {
	if len(filters) == 0 {
		return nil
	}
	var args []string
	seen := map[string]struct{}{}
	include := func(pattern string) {
		if _, ok := seen[pattern]; ok {
			return
		}
		seen[pattern] = struct{}{}
		args = append(args, "--include", pattern)
	}
	for _, f := range filters {
		f = NormalizeFilter(f)
		if f == "" {
			return nil
		}
		// Parent directories must be included for the transfer to recurse.
		parts := strings.Split(f, "/")
		for i := 1; i < len(parts); i++ {
			include("/" + strings.Join(parts[:i], "/") + "/")
		}
		include("/" + f)
		include("/" + f + "/**")
	}
	args = append(args, "--exclude", "*")
	return args
}
