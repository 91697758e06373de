package migrate

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"text/template"
	"time"
)

const versionLayout = "20060102150405"

var unsafeNameChars = regexp.MustCompile(`[^a-z0-9]+`)

var migrationTemplate = template.Must(template.New("migration").Parse(`-- +goose Up
-- +goose StatementBegin
-- {{.Name}}
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- revert {{.Name}}
-- +goose StatementEnd
`))

// CreateSQLMigration writes an empty goose migration into dir and returns its
// path. The version is the current UTC time, bumped past the newest existing
// version so files created on a skewed clock still sort last.
func CreateSQLMigration(dir, name string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("migrate: dir is required")
	}
	slug := strings.Trim(unsafeNameChars.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if slug == "" {
		return "", fmt.Errorf("migrate: name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("migrate: mkdir %q: %w", dir, err)
	}

	version, err := nextVersion(os.DirFS(dir), time.Now().UTC())
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, version+"_"+slug+".sql")

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("migrate: create %q: %w", path, err)
	}
	defer f.Close()
	if err := migrationTemplate.Execute(f, struct{ Name string }{slug}); err != nil {
		return "", fmt.Errorf("migrate: write %q: %w", path, err)
	}
	return path, nil
}

func nextVersion(existing fs.FS, now time.Time) (string, error) {
	entries, err := fs.ReadDir(existing, ".")
	if err != nil {
		return "", fmt.Errorf("migrate: list migrations: %w", err)
	}
	var versions []string
	for _, entry := range entries {
		if m := migrationName.FindStringSubmatch(entry.Name()); m != nil {
			versions = append(versions, m[1])
		}
	}
	candidate := now.Format(versionLayout)
	if len(versions) == 0 {
		return candidate, nil
	}
	sort.Strings(versions)
	latest := versions[len(versions)-1]
	if candidate > latest {
		return candidate, nil
	}
	last, err := time.Parse(versionLayout, latest)
	if err != nil {
		return "", fmt.Errorf("migrate: unreadable version %s: %w", latest, err)
	}
	return last.Add(time.Second).Format(versionLayout), nil
}
