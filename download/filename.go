package download

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const maxBaseNameRunes = 120

func sanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == utf8.RuneError, unicode.IsControl(r):
			b.WriteRune('_')
		case strings.ContainsRune(`/\:*?"<>|`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Trim(strings.TrimSpace(b.String()), ".")
	if out == "" {
		return "file"
	}
	return out
}

// fileName builds a sanitized name with a millisecond timestamp before the extension.
func fileName(declared string, kind Kind, mimeType string, now time.Time) string {
	name := sanitizeName(declared)
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if base == "" {
		base, ext = name, ""
	}
	if ext == "" {
		ext = extension(kind, mimeType)
	}
	if utf8.RuneCountInString(base) > maxBaseNameRunes {
		base = string([]rune(base)[:maxBaseNameRunes])
	}
	return base + "_" + strconv.FormatInt(now.UnixMilli(), 10) + ext
}

// createExclusive creates dir/name, adding a numeric suffix while the name is taken.
func createExclusive(dir, name string) (*os.File, string, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	candidate := name
	for i := 1; ; i++ {
		p := filepath.Join(dir, candidate)
		f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o0644)
		if nil == err {
			return f, p, nil
		}
		if !errors.Is(err, os.ErrExist) || i > 1000 {
			return nil, "", err
		}
		candidate = fmt.Sprintf("%s_%d%s", base, i, ext)
	}
}
