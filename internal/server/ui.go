package server

import (
	"embed"
	"html/template"
	"net/http"
	"os"

	"github.com/jonathan/auto-analyzer/internal/pipeline"
	"github.com/jonathan/auto-analyzer/internal/workspace"
)

//go:embed templates/*.html.tmpl
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html.tmpl"))

// pageData is what the index template renders. Error replaces everything else.
type pageData struct {
	Error    string
	Run      *pipeline.RunResult
	Snapshot *workspace.Snapshot
}

// handleIndex renders the upload form and whatever the working directory holds.
func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	snapshot, err := s.layout.Inspect()
	if err != nil {
		s.renderPage(w, http.StatusInternalServerError, pageData{Error: err.Error()})
		return
	}
	s.renderPage(w, http.StatusOK, pageData{Snapshot: snapshot})
}

// handleAnalyze runs the pipeline on an uploaded CSV and renders the results.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	release, err := s.acquireRun()
	if err != nil {
		s.renderPage(w, HTTPStatus(err), pageData{Error: err.Error()})
		return
	}
	defer release()

	input, cleanup, err := s.saveUpload(w, r)
	defer cleanup()
	if err != nil {
		s.renderPage(w, HTTPStatus(err), pageData{Error: err.Error()})
		return
	}

	run, err := s.runner.RunWithProgress(r.Context(), input, nil)
	if err != nil {
		s.logger.Error("analysis failed", "error", err)
		s.renderPage(w, HTTPStatus(err), pageData{Error: err.Error()})
		return
	}

	snapshot, err := s.layout.Inspect()
	if err != nil {
		s.renderPage(w, http.StatusInternalServerError, pageData{Error: err.Error()})
		return
	}
	s.renderPage(w, http.StatusOK, pageData{Run: run, Snapshot: snapshot})
}

// handleFile serves one file from the working directory.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	path, err := s.layout.Path(r.PathValue("path"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	http.ServeFile(w, r, path)
}

func (s *Server) renderPage(w http.ResponseWriter, status int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTemplate.ExecuteTemplate(w, "index.html.tmpl", data); err != nil {
		s.logger.Warn("error rendering page", "error", err)
	}
}
