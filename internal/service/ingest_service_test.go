package service

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"普通文件名", "report.pdf", "report.pdf"},
		{"保留相对路径", "docs/2026/report.pdf", "docs/2026/report.pdf"},
		{"去掉路径穿越段", "../../etc/passwd", "etc/passwd"},
		{"统一 Windows 分隔符", `C:\docs\file.pdf`, "C:/docs/file.pdf"},
		{"去掉开头的斜杠", "/var/data/a.md", "var/data/a.md"},
		{"去掉 NUL 字节", "re\x00port.pdf", "report.pdf"},
		{"丢弃单点段", "./a/./b.txt", "a/b.txt"},
		{"首尾空白", "  name.txt  ", "name.txt"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, sanitizeFilename(tc.raw, "fallback-id"))
		})
	}
}

func TestSanitizeFilenameFallsBack(t *testing.T) {
	for _, raw := range []string{"", "   ", "..", "././..", "///"} {
		assert.Equal(t, "fallback-id", sanitizeFilename(raw, "fallback-id"), "raw=%q", raw)
	}
}

func TestSanitizeFilenameTruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("文", maxFilenameLen)
	got := sanitizeFilename(long, "fallback-id")

	assert.LessOrEqual(t, len(got), maxFilenameLen)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasPrefix(long, got))
}
