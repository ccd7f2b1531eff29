// Package loader handles object file loading operations.
package loader

import (
	"fmt"
	"os"

	"github.com/retroenv/retrogolib/log"
	"github.com/retroenv/retrolink/internal/object"
)

// Loader handles loading object files from disk.
type Loader struct {
	logger *log.Logger
}

// New creates a new object file loader.
func New(logger *log.Logger) *Loader {
	return &Loader{
		logger: logger,
	}
}

// Load reads all object files in the given order. The first file that can not
// be read or parsed aborts loading.
func (l *Loader) Load(paths []string) ([]*object.File, error) {
	files := make([]*object.File, 0, len(paths))
	for i, path := range paths {
		f, err := l.LoadFile(path, i)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// LoadFile reads one object file, index being its position in the list of
// linked object files.
func (l *Loader) LoadFile(path string, index int) (*object.File, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	f, err := object.Read(file, path, index)
	if err != nil {
		return nil, fmt.Errorf("reading object file %s: %w", path, err)
	}

	l.logger.Debug("Loaded object file",
		log.String("file", path),
		log.Int("symbols", len(f.Symbols)),
		log.Int("sections", len(f.Sections)),
		log.Int("assertions", len(f.Assertions)))
	return f, nil
}
