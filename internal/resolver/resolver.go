package resolver

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// IndexFile is served for targets naming a directory.
const IndexFile = "index.html"

var (
	ErrNoLeadingSlash = errors.New("path should start with a slash")
	ErrOutsideRoot    = errors.New("resource points outside the document root")
	ErrBadEscape      = errors.New("malformed percent-encoding in path")
)

// Resolver maps request targets onto files below a canonical document root.
// It is immutable and safe for concurrent use.
type Resolver struct {
	documentRoot string
}

// New canonicalises documentRoot. The directory must exist.
func New(documentRoot string) (*Resolver, error) {
	abs, err := filepath.Abs(documentRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve document root %s: %w", documentRoot, err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve document root %s: %w", documentRoot, err)
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return nil, fmt.Errorf("failed to stat document root %s: %w", canonical, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("document root %s is not a directory", canonical)
	}
	return &Resolver{documentRoot: canonical}, nil
}

func (r *Resolver) DocumentRoot() string {
	return r.documentRoot
}

// Resolve returns the absolute file path for target. Directory targets map to
// their index file. The returned path may not exist; existence is the
// caller's concern, containment is not.
func (r *Resolver) Resolve(target string) (string, error) {
	if i := strings.IndexAny(target, "?#"); i >= 0 {
		target = target[:i]
	}
	if !strings.HasPrefix(target, "/") {
		return "", fmt.Errorf("%w: %q", ErrNoLeadingSlash, target)
	}

	decoded, err := url.PathUnescape(target)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrBadEscape, target)
	}
	if strings.ContainsRune(decoded, 0) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, target)
	}

	// Raw segments are checked before cleaning so "/a/../../x" is refused
	// rather than silently clamped to the root.
	depth := 0
	for _, seg := range strings.Split(decoded, "/") {
		switch seg {
		case "", ".":
		case "..":
			depth--
			if depth < 0 {
				return "", fmt.Errorf("%w: %q", ErrOutsideRoot, target)
			}
		default:
			depth++
		}
	}

	cleaned := path.Clean(decoded)
	resolved := filepath.Join(r.documentRoot, filepath.FromSlash(strings.TrimPrefix(cleaned, "/")))

	if strings.HasSuffix(decoded, "/") {
		resolved = filepath.Join(resolved, IndexFile)
	} else if info, err := os.Stat(resolved); err == nil && info.IsDir() {
		resolved = filepath.Join(resolved, IndexFile)
	}

	if err := r.checkContained(resolved); err != nil {
		return "", fmt.Errorf("%w: %q", err, target)
	}
	return resolved, nil
}

// checkContained follows symlinks on the existing part of p and verifies the
// result still lies below the document root.
func (r *Resolver) checkContained(p string) error {
	actual, err := filepath.EvalSymlinks(p)
	if err != nil {
		// Unreadable leaf: check the parent instead. If that fails too the
		// lexical path, already below the root, is all that can be opened.
		actual, err = filepath.EvalSymlinks(filepath.Dir(p))
		if err != nil {
			actual = p
		}
	}
	if !within(r.documentRoot, actual) {
		return ErrOutsideRoot
	}
	return nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
