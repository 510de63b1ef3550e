package content

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"turbine/internal/protocol/httpwire"
)

var (
	ErrNotFound = errors.New("resource not found")
	ErrTooLarge = errors.New("resource exceeds size limit")
)

// WelcomePage is served for the root index when the document root has none.
const WelcomePage = `<html>
<head>
<title>
    Turbine
</title>
</head>

<body>
    Welcome to turbine
</body>

</html>`

type Resource struct {
	Path        string
	ContentType string
	Body        []byte
}

// Loader reads resolved resources from disk.
type Loader struct {
	rootIndex string
	maxSize   int64
}

// NewLoader returns a loader whose built-in welcome page stands in for
// documentRoot/index.html.
func NewLoader(documentRoot string, maxSize int64) *Loader {
	return &Loader{
		rootIndex: filepath.Join(documentRoot, "index.html"),
		maxSize:   maxSize,
	}
}

func (l *Loader) Load(path string) (*Resource, error) {
	f, err := os.Open(path)
	if err != nil {
		if isMissing(err) {
			if path == l.rootIndex {
				return &Resource{Path: path, ContentType: httpwire.ContentTypeHTML, Body: []byte(WelcomePage)}, nil
			}
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if info.Size() > l.maxSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, path, info.Size())
	}

	body, err := io.ReadAll(io.LimitReader(f, l.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if int64(len(body)) > l.maxSize {
		return nil, fmt.Errorf("%w: %s grew while reading", ErrTooLarge, path)
	}
	return &Resource{Path: path, ContentType: TypeByPath(path), Body: body}, nil
}

// TypeByPath infers a Content-Type from the file extension.
func TypeByPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".html" || ext == ".htm" {
		return httpwire.ContentTypeHTML
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

func isMissing(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}
