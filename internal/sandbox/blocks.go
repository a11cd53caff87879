// Package sandbox extracts code blocks from agent replies and runs them inside the
// pipeline working directory.
package sandbox

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Language is a normalized code block language
type Language string

// Supported languages
const (
	LanguagePython Language = "python"
	LanguageShell  Language = "sh"
)

var codeBlockPattern = regexp.MustCompile("(?s)```[ \\t]*(\\w+)?[ \\t]*\\r?\\n(.*?)\\r?\\n?[ \\t]*```")

var filenamePattern = regexp.MustCompile(`^\s*#\s*filename:\s*(\S+)\s*$`)

// CodeBlock is one fenced block from an assistant reply.
type CodeBlock struct {
	Language Language
	Tag      string // Language tag as written, before normalization
	Code     string
}

// ExtractCodeBlocks returns the fenced code blocks in text, in order.
// Untagged blocks are treated as python.
func ExtractCodeBlocks(text string) []CodeBlock {
	matches := codeBlockPattern.FindAllStringSubmatch(text, -1)
	blocks := make([]CodeBlock, 0, len(matches))
	for _, m := range matches {
		code := m[2]
		if strings.TrimSpace(code) == "" {
			continue
		}
		blocks = append(blocks, CodeBlock{
			Language: normalizeLanguage(m[1]),
			Tag:      m[1],
			Code:     code,
		})
	}
	return blocks
}

func normalizeLanguage(tag string) Language {
	switch strings.ToLower(tag) {
	case "", "python", "py", "python3":
		return LanguagePython
	case "sh", "bash", "shell", "console":
		return LanguageShell
	default:
		return Language(strings.ToLower(tag))
	}
}

// Filename returns the file the block is saved under: the name given by a leading
// "# filename: x" comment, otherwise tmp_code_<md5>.<ext>.
func (b CodeBlock) Filename() (string, error) {
	first, _, _ := strings.Cut(b.Code, "\n")
	if m := filenamePattern.FindStringSubmatch(first); m != nil {
		name := filepath.Clean(m[1])
		if filepath.IsAbs(name) || name == ".." || strings.HasPrefix(name, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("code block filename %q is outside the working directory", m[1])
		}
		return name, nil
	}

	sum := md5.Sum([]byte(b.Code))
	ext := "py"
	if b.Language == LanguageShell {
		ext = "sh"
	}
	return fmt.Sprintf("tmp_code_%s.%s", hex.EncodeToString(sum[:]), ext), nil
}
