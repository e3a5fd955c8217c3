// Package loader finds template files under a root directory and reads
// them through an afero filesystem. Contents are cached by name together
// with a CRC32 hash so callers can tell whether a file really changed.
package loader

import (
	stderrors "errors"
	"fmt"
	"hash/crc32"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/conneroisu/nanorender/internal/errors"
)

// Template is one loaded template file.
type Template struct {
	// Name is the slash-separated path relative to the root.
	Name    string
	Source  string
	Hash    string
	Size    int64
	ModTime time.Time
}

// Options selects which files count as templates.
type Options struct {
	Root       string
	Extensions []string
	Exclude    []string
}

// Loader reads templates below one root directory.
type Loader struct {
	fs      afero.Fs
	root    string
	exts    map[string]bool
	exclude []string

	mutex sync.RWMutex
	cache map[string]*Template
}

// New creates a loader over fsys. A nil fsys means the OS filesystem.
func New(fsys afero.Fs, opts Options) *Loader {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	root := opts.Root
	if root == "" {
		root = "."
	}

	exts := make(map[string]bool, len(opts.Extensions))
	for _, ext := range opts.Extensions {
		exts[strings.ToLower(ext)] = true
	}

	return &Loader{
		fs:      fsys,
		root:    filepath.Clean(root),
		exts:    exts,
		exclude: opts.Exclude,
		cache:   make(map[string]*Template),
	}
}

// Root returns the cleaned root directory.
func (l *Loader) Root() string {
	return l.root
}

// Clean validates name and returns its canonical slash form. Absolute
// names and names that climb out of the root are rejected.
func Clean(name string) (string, error) {
	slashed := filepath.ToSlash(name)
	if slashed == "" || strings.HasPrefix(slashed, "/") || filepath.IsAbs(name) {
		return "", errors.ErrPathTraversal(name)
	}
	for _, part := range strings.Split(slashed, "/") {
		if part == ".." {
			return "", errors.ErrPathTraversal(name)
		}
	}
	cleaned := path.Clean(slashed)
	if cleaned == "." {
		return "", errors.ErrPathTraversal(name)
	}
	return cleaned, nil
}

// IsTemplate reports whether name has a template extension and is not
// excluded.
func (l *Loader) IsTemplate(name string) bool {
	if len(l.exts) > 0 && !l.exts[strings.ToLower(path.Ext(name))] {
		return false
	}
	return !l.excluded(name)
}

func (l *Loader) excluded(name string) bool {
	base := path.Base(name)
	for _, pattern := range l.exclude {
		if ok, _ := path.Match(pattern, name); ok {
			return true
		}
		if ok, _ := path.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

// Name converts a filesystem path below the root into a template name.
func (l *Loader) Name(file string) (string, error) {
	rel, err := filepath.Rel(l.root, file)
	if err != nil {
		return "", errors.ErrPathTraversal(file)
	}
	return Clean(rel)
}

// Load returns the template called name, reading it on first use.
func (l *Loader) Load(name string) (*Template, error) {
	cleaned, err := Clean(name)
	if err != nil {
		return nil, err
	}

	l.mutex.RLock()
	cached, ok := l.cache[cleaned]
	l.mutex.RUnlock()
	if ok {
		return cached, nil
	}

	tmpl, err := l.read(cleaned)
	if err != nil {
		return nil, err
	}

	l.mutex.Lock()
	l.cache[cleaned] = tmpl
	l.mutex.Unlock()

	return tmpl, nil
}

func (l *Loader) read(name string) (*Template, error) {
	file := filepath.Join(l.root, filepath.FromSlash(name))
	info, err := l.fs.Stat(file)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.ErrTemplateNotFound(name)
		}
		return nil, errors.NewIOError(errors.ErrCodeFileNotFound, "stat "+name, err)
	}
	if info.IsDir() {
		return nil, errors.ErrTemplateNotFound(name)
	}

	content, err := afero.ReadFile(l.fs, file)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeFileNotFound, "reading "+name, err)
	}

	return &Template{
		Name:    name,
		Source:  string(content),
		Hash:    fmt.Sprintf("%x", crc32.ChecksumIEEE(content)),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// Cached returns the cached copy of name without touching the filesystem.
func (l *Loader) Cached(name string) (*Template, bool) {
	cleaned, err := Clean(name)
	if err != nil {
		return nil, false
	}
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	tmpl, ok := l.cache[cleaned]
	return tmpl, ok
}

// Reload drops the cached copy of name and reads it again. It reports
// whether the contents changed.
func (l *Loader) Reload(name string) (*Template, bool, error) {
	cleaned, err := Clean(name)
	if err != nil {
		return nil, false, err
	}

	l.mutex.RLock()
	previous := l.cache[cleaned]
	l.mutex.RUnlock()

	tmpl, err := l.read(cleaned)
	if err != nil {
		l.Invalidate(cleaned)
		return nil, previous != nil, err
	}

	l.mutex.Lock()
	l.cache[cleaned] = tmpl
	l.mutex.Unlock()

	return tmpl, previous == nil || previous.Hash != tmpl.Hash, nil
}

// Invalidate drops name from the cache.
func (l *Loader) Invalidate(name string) {
	cleaned, err := Clean(name)
	if err != nil {
		return
	}
	l.mutex.Lock()
	delete(l.cache, cleaned)
	l.mutex.Unlock()
}

// Clear empties the cache.
func (l *Loader) Clear() {
	l.mutex.Lock()
	l.cache = make(map[string]*Template)
	l.mutex.Unlock()
}

// List walks the root and returns the names of every template file,
// sorted.
func (l *Loader) List() ([]string, error) {
	var names []string
	err := afero.Walk(l.fs, l.root, func(file string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		name, nameErr := l.Name(file)
		if info.IsDir() {
			if nameErr == nil && l.excluded(name) {
				return filepath.SkipDir
			}
			return nil
		}
		if nameErr != nil {
			return nil
		}
		if l.IsTemplate(name) {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeFileNotFound, "listing "+l.root, err)
	}

	sort.Strings(names)
	return names, nil
}
