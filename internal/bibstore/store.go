// Package bibstore resolves board ids against a directory of YAML board
// files. A board id maps to <dir>/<id>.yaml; discovery is a directory
// listing. Reads are idempotent: the engine may load the same board many
// times and always sees the current file content.
package bibstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/prodline/prodline/internal/model"
)

const ext = ".yaml"

type Store struct {
	dir string
}

func New(dir string) (*Store, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("opening boards directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("boards path %s is not a directory", dir)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the watched directory path.
func (s *Store) Dir() string {
	return s.dir
}

// Discover lists the currently known board ids, sorted.
func (s *Store) Discover() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing boards directory: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ext))
	}
	sort.Strings(ids)
	return ids, nil
}

// Load reads and validates the configuration of one board.
// Returns model.ErrNotFound when no file exists for the id.
func (s *Store) Load(boardID string) (model.BoardConfig, error) {
	f, err := os.Open(filepath.Join(s.dir, boardID+ext))
	if err != nil {
		if os.IsNotExist(err) {
			return model.BoardConfig{}, fmt.Errorf("board %s: %w", boardID, model.ErrNotFound)
		}
		return model.BoardConfig{}, fmt.Errorf("opening board %s: %w", boardID, err)
	}
	defer func() {
		_ = f.Close()
	}()

	board, err := model.LoadBoard(f)
	if err != nil {
		return model.BoardConfig{}, fmt.Errorf("board %s: %w", boardID, err)
	}

	// The file name is authoritative; an id mismatch inside the file is a
	// configuration error rather than a silent rename.
	if board.ID != boardID {
		return model.BoardConfig{}, fmt.Errorf("%w: board file %s%s declares id %q",
			model.ErrInvalidConfig, boardID, ext, board.ID)
	}
	return board, nil
}

// BoardID translates a file path inside the boards directory into a board
// id, or "" when the path is not a board file.
func BoardID(path string) string {
	name := filepath.Base(path)
	if !strings.HasSuffix(name, ext) {
		return ""
	}
	return strings.TrimSuffix(name, ext)
}
