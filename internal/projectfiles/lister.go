// Package projectfiles enumerates and watches the source files of a project tree.
package projectfiles

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// DefaultExtensions lists the source-code extensions included by default.
var DefaultExtensions = []string{
	".js", ".jsx", ".ts", ".tsx", ".mjs", ".cjs",
	".py", ".java", ".kt", ".go", ".rs", ".rb", ".php",
	".c", ".h", ".cpp", ".hpp", ".cc", ".cs", ".swift", ".m", ".scala",
	".html", ".css", ".scss", ".vue", ".svelte", ".sql", ".sh",
}

// DefaultIgnoredDirs lists directory names skipped by default.
var DefaultIgnoredDirs = []string{
	"node_modules", ".git", ".svn", ".hg",
	"dist", "build", "out", ".next", "coverage",
	"vendor", "target", "__pycache__", ".venv",
	".idea", ".vscode",
}

// ListerOption configures a Lister.
type ListerOption func(*Lister)

// WithExtensions replaces the extension allow-list. Extensions are matched
// case-insensitively; a missing leading dot is added.
func WithExtensions(exts ...string) ListerOption {
	return func(l *Lister) {
		l.extensions = make(map[string]struct{}, len(exts))
		for _, ext := range exts {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext == "" {
				continue
			}
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			l.extensions[ext] = struct{}{}
		}
	}
}

// WithIgnoredDirs replaces the directory ignore-list. Names are matched exactly.
func WithIgnoredDirs(names ...string) ListerOption {
	return func(l *Lister) {
		l.ignoredDirs = make(map[string]struct{}, len(names))
		for _, name := range names {
			if name = strings.TrimSpace(name); name != "" {
				l.ignoredDirs[name] = struct{}{}
			}
		}
	}
}

// Lister finds project source files.
type Lister struct {
	extensions  map[string]struct{}
	ignoredDirs map[string]struct{}
}

// NewLister creates a Lister with the default allow-list and ignore-list.
func NewLister(opts ...ListerOption) *Lister {
	l := &Lister{}
	WithExtensions(DefaultExtensions...)(l)
	WithIgnoredDirs(DefaultIgnoredDirs...)(l)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Extensions returns the sorted allow-list.
func (l *Lister) Extensions() []string {
	exts := make([]string, 0, len(l.extensions))
	for ext := range l.extensions {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}

// Includes reports whether a file name carries an allow-listed extension.
func (l *Lister) Includes(name string) bool {
	_, ok := l.extensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Ignores reports whether a directory name is on the ignore-list.
func (l *Lister) Ignores(name string) bool {
	_, ok := l.ignoredDirs[name]
	return ok
}

// List returns the absolute paths of all allow-listed files under root,
// skipping ignored directories at any depth.
//
// Directories are walked with an explicit stack. Symbolic links are followed,
// and each directory is visited once by canonical path; a link leading back to
// an ancestor is skipped with a warning, a second path to an already visited
// directory is skipped silently. Any unreadable directory fails
// the whole call. Paths are reported under root as reached, in directory
// enumeration order.
func (l *Lister) List(ctx context.Context, root string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	absRoot, canonicalRoot, err := resolveRoot(root)
	if err != nil {
		return nil, err
	}

	type pending struct {
		path      string
		canonical string
	}

	visited := map[string]struct{}{canonicalRoot: {}}
	stack := []pending{{path: absRoot, canonical: canonicalRoot}}
	var files []string

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(dir.path)
		if err != nil {
			return nil, fmt.Errorf("reading directory %s: %w", dir.path, err)
		}

		var subdirs []pending
		for _, entry := range entries {
			path := filepath.Join(dir.path, entry.Name())

			isDir := entry.IsDir()
			if entry.Type()&fs.ModeSymlink != 0 {
				info, err := os.Stat(path)
				if err != nil {
					slog.DebugContext(ctx, "skipping unresolvable symlink", "path", path, "error", err)
					continue
				}
				isDir = info.IsDir()
			} else if !isDir && !entry.Type().IsRegular() {
				continue
			}

			if !isDir {
				if l.Includes(entry.Name()) {
					files = append(files, path)
				}
				continue
			}

			if l.Ignores(entry.Name()) {
				continue
			}

			canonical, err := filepath.EvalSymlinks(path)
			if err != nil {
				return nil, fmt.Errorf("resolving directory %s: %w", path, err)
			}
			if _, seen := visited[canonical]; seen {
				if isAncestor(canonical, dir.canonical) {
					slog.WarnContext(ctx, "skipping symlink cycle", "path", path, "target", canonical)
				} else {
					slog.DebugContext(ctx, "skipping directory reached through another path", "path", path, "target", canonical)
				}
				continue
			}
			visited[canonical] = struct{}{}
			subdirs = append(subdirs, pending{path: path, canonical: canonical})
		}

		// Push in reverse so the first subdirectory is walked next.
		for i := len(subdirs) - 1; i >= 0; i-- {
			stack = append(stack, subdirs[i])
		}
	}

	return files, nil
}

// isAncestor reports whether dir is ancestor or equal to path. Both must be
// canonical.
func isAncestor(dir, path string) bool {
	if dir == path {
		return true
	}
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// resolveRoot validates root and returns its absolute and canonical forms.
func resolveRoot(root string) (string, string, error) {
	if root == "" {
		return "", "", errors.New("project root cannot be empty")
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", "", fmt.Errorf("resolving project root %s: %w", root, err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return "", "", fmt.Errorf("project root %s: %w", absRoot, err)
	}
	if !info.IsDir() {
		return "", "", fmt.Errorf("project root %s is not a directory", absRoot)
	}

	canonical, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return "", "", fmt.Errorf("resolving project root %s: %w", absRoot, err)
	}
	return absRoot, canonical, nil
}
