package metadata

import (
	"sort"
	"strings"
)

// SplitDirectory derives the virtual directory view at prefix from a set of file
// paths. folders holds the names of immediate sub-folders (a folder exists iff some
// path continues past it with "/"); files holds the full paths stored directly in
// prefix. Both are sorted. An empty prefix is the root; a trailing slash is ignored.
func SplitDirectory(paths []string, prefix string) (folders []string, files []string) {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}

	seen := make(map[string]struct{})
	folders = []string{}
	files = []string{}

	for _, p := range paths {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := p[len(prefix):]
		if rest == "" {
			continue
		}
		if slash := strings.IndexByte(rest, '/'); slash >= 0 {
			name := rest[:slash]
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				folders = append(folders, name)
			}
			continue
		}
		files = append(files, p)
	}

	sort.Strings(folders)
	sort.Strings(files)
	return folders, files
}
