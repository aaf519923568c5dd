package templates

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/neurospicy/routinekit/internal/routine"
)

// LoadDirectory parses every .json file in dir and saves the resulting
// templates. Files that fail to parse are skipped with a warning; the
// returned count is the number of templates saved.
func LoadDirectory(ctx context.Context, dir string, store routine.TemplateStore) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read template directory %s: %w", dir, err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("Failed to read template file", "path", path, "error", err)
			continue
		}
		tmpl, err := ParseTemplate(data)
		if err != nil {
			slog.Warn("Skipping unusable template file", "path", path, "error", err)
			continue
		}
		if err := store.SaveTemplate(ctx, tmpl); err != nil {
			return loaded, fmt.Errorf("failed to save template %s: %w", tmpl.ID, err)
		}
		slog.Debug("Loaded routine template", "template_id", string(tmpl.ID), "title", tmpl.Title, "path", path)
		loaded++
	}
	return loaded, nil
}
