package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitDirectory(t *testing.T) {
	all := []string{
		"readme.md",
		"docs/report.txt",
		"docs/2024/q1.txt",
		"docs/2024/q2.txt",
		"docs/archive/old/x.txt",
		"docsextra/y.txt",
	}

	tests := []struct {
		prefix  string
		folders []string
		files   []string
	}{
		{"", []string{"docs", "docsextra"}, []string{"readme.md"}},
		{"/", []string{"docs", "docsextra"}, []string{"readme.md"}},
		{"docs", []string{"2024", "archive"}, []string{"docs/report.txt"}},
		{"docs/", []string{"2024", "archive"}, []string{"docs/report.txt"}},
		{"docs/2024", []string{}, []string{"docs/2024/q1.txt", "docs/2024/q2.txt"}},
		{"docs/archive", []string{"old"}, []string{}},
		{"missing", []string{}, []string{}},
	}

	for _, tt := range tests {
		t.Run("prefix_"+tt.prefix, func(t *testing.T) {
			folders, files := SplitDirectory(all, tt.prefix)
			assert.Equal(t, tt.folders, folders)
			assert.Equal(t, tt.files, files)
		})
	}
}
