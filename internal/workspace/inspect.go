package workspace

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// PreviewRows is how many cleaned rows the UI shows.
const PreviewRows = 5

// maxResultRows caps rows read from each analysis CSV.
const maxResultRows = 200

// ArtifactKind classifies files found in the layout
type ArtifactKind string

const (
	KindTable ArtifactKind = "table"
	KindText  ArtifactKind = "text"
	KindImage ArtifactKind = "image"
)

// Artifact is one file a stage produced.
type Artifact struct {
	Name string       `json:"name"`
	Rel  string       `json:"path"` // Relative to the root
	Kind ArtifactKind `json:"kind"`
}

// ResultFile is an analysis artifact with its content loaded.
type ResultFile struct {
	Artifact
	Table *Table `json:"table,omitempty"`
	Text  string `json:"text,omitempty"`
	Err   string `json:"error,omitempty"`
}

// Snapshot is everything the presentation layer renders for one working directory.
// A nil Preview or empty slice means the stage produced nothing.
type Snapshot struct {
	Preview *Table       `json:"preview,omitempty"`
	Results []ResultFile `json:"results"`
	Visuals []Artifact   `json:"visuals"`
}

// Empty reports whether no stage left anything behind.
func (s *Snapshot) Empty() bool {
	return s.Preview == nil && len(s.Results) == 0 && len(s.Visuals) == 0
}

func kindOf(name string) (ArtifactKind, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return KindTable, true
	case ".txt":
		return KindText, true
	case ".png", ".jpg", ".jpeg":
		return KindImage, true
	}
	return "", false
}

// AnalysisFiles lists the .csv and .txt files in the results folder, sorted by name.
func (l Layout) AnalysisFiles() ([]Artifact, error) {
	return l.list(ResultsDir, KindTable, KindText)
}

// Visuals lists the .png and .jpg files in the visuals folder, sorted by name.
func (l Layout) Visuals() ([]Artifact, error) {
	return l.list(VisualsDir, KindImage)
}

func (l Layout) list(dir string, kinds ...ArtifactKind) ([]Artifact, error) {
	entries, err := os.ReadDir(filepath.Join(l.Root, dir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var artifacts []Artifact
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		kind, ok := kindOf(entry.Name())
		if !ok || !containsKind(kinds, kind) {
			continue
		}
		artifacts = append(artifacts, Artifact{
			Name: entry.Name(),
			Rel:  filepath.ToSlash(filepath.Join(dir, entry.Name())),
			Kind: kind,
		})
	}
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Name < artifacts[j].Name })
	return artifacts, nil
}

func containsKind(kinds []ArtifactKind, kind ArtifactKind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Inspect reads back the layout. Missing files and folders are not errors; an
// unreadable analysis file is reported on its ResultFile.
func (l Layout) Inspect() (*Snapshot, error) {
	snapshot := &Snapshot{}

	if l.HasCleaned() {
		preview, err := ReadTable(l.CleanedPath(), PreviewRows)
		if err != nil {
			return nil, err
		}
		snapshot.Preview = preview
	}

	files, err := l.AnalysisFiles()
	if err != nil {
		return nil, err
	}
	snapshot.Results = make([]ResultFile, len(files))

	var g errgroup.Group
	g.SetLimit(4)
	for i, file := range files {
		g.Go(func() error {
			snapshot.Results[i] = l.load(file)
			return nil
		})
	}
	_ = g.Wait()

	snapshot.Visuals, err = l.Visuals()
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (l Layout) load(file Artifact) ResultFile {
	result := ResultFile{Artifact: file}
	path := filepath.Join(l.Root, filepath.FromSlash(file.Rel))

	switch file.Kind {
	case KindTable:
		table, err := ReadTable(path, maxResultRows)
		if err != nil {
			result.Err = err.Error()
			return result
		}
		result.Table = table
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			result.Err = err.Error()
			return result
		}
		result.Text = string(data)
	}
	return result
}
