package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/use-agent/glance/models"
)

// maxNameAttempts bounds the suffix search when files already exist on disk.
const maxNameAttempts = 100

// kindDirs are the subfolders used when artifacts are split by kind.
var kindDirs = map[models.ArtifactKind]string{
	models.ArtifactScreenshot: "screenshots",
	models.ArtifactVideo:      "videos",
	models.ArtifactResults:    "results",
	models.ArtifactPage:       "pages",
}

// Store writes artifacts below a root directory. Directories are created
// on demand and files are never overwritten. It is safe for concurrent use.
type Store struct {
	root  string
	split bool
	namer *Namer
}

// NewStore returns a Store rooted at root. With split set, each artifact
// kind gets its own subdirectory.
func NewStore(root string, split bool, namer *Namer) *Store {
	if namer == nil {
		namer = NewNamer()
	}
	return &Store{root: root, split: split, namer: namer}
}

// Root returns the output directory.
func (s *Store) Root() string { return s.root }

// Dir returns the directory artifacts of kind are written to.
func (s *Store) Dir(kind models.ArtifactKind) string {
	if s.split {
		if sub, ok := kindDirs[kind]; ok {
			return filepath.Join(s.root, sub)
		}
	}
	return s.root
}

// Write persists data as a new file named after base and kind.
func (s *Store) Write(kind models.ArtifactKind, base, ext string, data []byte) (models.Artifact, error) {
	arts, err := s.writeSet(kind, base, []string{ext}, [][]byte{data})
	if err != nil {
		return models.Artifact{}, err
	}
	return arts[0], nil
}

// writeSet creates one file per extension sharing a single unique stem.
func (s *Store) writeSet(kind models.ArtifactKind, base string, exts []string, data [][]byte) ([]models.Artifact, error) {
	dir := s.Dir(kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, models.NewFetchError(models.ErrCodeCapture, "failed to create output directory "+dir, err)
	}

	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		stem := s.namer.Next(dir, base, kind)
		files, err := createExclusive(stem, exts)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, models.NewFetchError(models.ErrCodeCapture, "failed to create artifact file", err)
		}
		return writeFiles(kind, files, data)
	}
	return nil, models.NewFetchError(models.ErrCodeCapture,
		fmt.Sprintf("no free file name for %s after %d attempts", base, maxNameAttempts), nil)
}

// createExclusive opens stem+ext for every ext with O_EXCL. On any failure the
// files created so far are removed.
func createExclusive(stem string, exts []string) ([]*os.File, error) {
	files := make([]*os.File, 0, len(exts))
	for _, ext := range exts {
		f, err := os.OpenFile(stem+ext, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			for _, created := range files {
				created.Close()
				os.Remove(created.Name())
			}
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

func writeFiles(kind models.ArtifactKind, files []*os.File, data [][]byte) ([]models.Artifact, error) {
	arts := make([]models.Artifact, 0, len(files))
	var firstErr error
	for i, f := range files {
		n, err := f.Write(data[i])
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil && firstErr == nil {
			firstErr = models.NewFetchError(models.ErrCodeCapture, "failed to write "+f.Name(), err)
		}
		arts = append(arts, models.Artifact{Kind: kind, Path: f.Name(), Bytes: int64(n)})
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return arts, nil
}
