package templates

import (
	_ "embed"
	"html/template"
	"strings"
	"time"
)

//go:embed conflict_digest.html
var conflictDigestHTML string

var conflictDigestTmpl = template.Must(template.New("conflict_digest").Parse(conflictDigestHTML))

type ConflictRow struct {
	Table      string
	RecordID   string
	Kind       string
	DetectedAt string
}

type ConflictDigestData struct {
	Count       int
	Conflicts   []ConflictRow
	GeneratedAt string // Auto-set if empty
	Year        int    // Auto-set if 0
}

func RenderConflictDigest(data ConflictDigestData) (string, error) {
	if data.Year == 0 {
		data.Year = time.Now().Year()
	}
	if data.GeneratedAt == "" {
		data.GeneratedAt = time.Now().UTC().Format(time.RFC1123)
	}
	if data.Count == 0 {
		data.Count = len(data.Conflicts)
	}

	var sb strings.Builder
	if err := conflictDigestTmpl.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}
