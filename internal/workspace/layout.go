// Package workspace describes the on-disk layout a pipeline run works in and reads
// back whatever the stages left there.
package workspace

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Well-known names inside the working directory.
const (
	DefaultRoot = "analysis"
	CleanedFile = "cleaned_data.csv"
	ResultsDir  = "analysis_results"
	VisualsDir  = "visuals"
)

// ErrEmptyInput is returned when the uploaded CSV has no rows at all.
var ErrEmptyInput = errors.New("input file is empty")

// ErrInputInWorkDir is returned for an input file inside the working directory,
// which Prepare would delete.
var ErrInputInWorkDir = errors.New("input file is inside the working directory")

// inputPrefix renames an input whose name is taken by a stage artifact.
const inputPrefix = "input_"

// Layout resolves paths under a working directory root.
type Layout struct {
	Root string
}

// New returns the layout rooted at root, or DefaultRoot when root is empty.
func New(root string) Layout {
	if root == "" {
		root = DefaultRoot
	}
	return Layout{Root: root}
}

// CleanedPath is where the cleaning stage writes its output.
func (l Layout) CleanedPath() string { return filepath.Join(l.Root, CleanedFile) }

// ResultsPath is the folder the analysis stage fills.
func (l Layout) ResultsPath() string { return filepath.Join(l.Root, ResultsDir) }

// VisualsPath is the folder the visualization stage fills.
func (l Layout) VisualsPath() string { return filepath.Join(l.Root, VisualsDir) }

// Path joins rel onto the root. It fails if rel escapes the root.
func (l Layout) Path(rel string) (string, error) {
	clean := filepath.Clean("/" + rel)
	if clean == "/" {
		return "", fmt.Errorf("empty path")
	}
	return filepath.Join(l.Root, clean[1:]), nil
}

// Prepare wipes the working directory and creates it again, empty.
func (l Layout) Prepare() error {
	if err := os.RemoveAll(l.Root); err != nil {
		return fmt.Errorf("failed to clear working directory %s: %w", l.Root, err)
	}
	if err := os.MkdirAll(l.Root, 0o755); err != nil {
		return fmt.Errorf("failed to create working directory %s: %w", l.Root, err)
	}
	return nil
}

// Input is a parsed CSV waiting to be written into a prepared working directory.
type Input struct {
	// Name is the file name the agents are told to load.
	Name    string
	Records [][]string
}

// LoadInput parses src as CSV. It runs before Prepare, so it refuses a source that
// Prepare would delete, and it never touches the working directory.
func (l Layout) LoadInput(src string) (*Input, error) {
	inside, err := l.contains(src)
	if err != nil {
		return nil, err
	}
	if inside {
		return nil, fmt.Errorf("%s (%s): %w", src, l.Root, ErrInputInWorkDir)
	}

	in, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("failed to open input %s: %w", src, err)
	}
	defer in.Close()

	reader := csv.NewReader(in)
	reader.LazyQuotes = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse input %s as CSV: %w", src, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: %w", src, ErrEmptyInput)
	}

	return &Input{Name: inputName(filepath.Base(src)), Records: records}, nil
}

// inputName keeps the source's base name unless a stage owns it.
func inputName(base string) string {
	for _, reserved := range []string{CleanedFile, ResultsDir, VisualsDir} {
		if strings.EqualFold(base, reserved) {
			return inputPrefix + base
		}
	}
	return base
}

// contains reports whether path resolves to the root or somewhere beneath it.
func (l Layout) contains(path string) (bool, error) {
	root, err := resolve(l.Root)
	if err != nil {
		return false, fmt.Errorf("failed to resolve working directory %s: %w", l.Root, err)
	}
	target, err := resolve(path)
	if err != nil {
		return false, fmt.Errorf("failed to resolve input %s: %w", path, err)
	}
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false, nil
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))), nil
}

// resolve returns the absolute path with symlinks followed as far as they exist.
func resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	parent, err := filepath.EvalSymlinks(filepath.Dir(abs))
	if err != nil {
		return abs, nil
	}
	return filepath.Join(parent, filepath.Base(abs)), nil
}

// WriteInput writes in into the prepared working directory under in.Name.
func (l Layout) WriteInput(in *Input) (err error) {
	out, err := os.Create(filepath.Join(l.Root, in.Name))
	if err != nil {
		return fmt.Errorf("failed to create input copy: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close input copy: %w", cerr)
		}
	}()

	writer := csv.NewWriter(out)
	if err := writer.WriteAll(in.Records); err != nil {
		return fmt.Errorf("failed to write input copy: %w", err)
	}
	return nil
}

// HasCleaned reports whether the cleaning stage left a non-empty cleaned file.
func (l Layout) HasCleaned() bool {
	info, err := os.Stat(l.CleanedPath())
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// Table is a parsed CSV file.
type Table struct {
	Header    []string   `json:"header"`
	Rows      [][]string `json:"rows"`
	Truncated bool       `json:"truncated,omitempty"`
}

// ReadTable reads the header and at most limit data rows of a CSV file. A limit of
// zero or less reads every row.
func ReadTable(path string, limit int) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return &Table{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	table := &Table{Header: header}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if limit > 0 && len(table.Rows) == limit {
			table.Truncated = true
			break
		}
		table.Rows = append(table.Rows, record)
	}
	return table, nil
}
