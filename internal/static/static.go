// Package static serves the site's assets for every path the API does not
// claim.
package static

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
)

const indexFile = "index.html"

// blockedPaths are repository files that must never be served even though
// they live in the asset root.
var blockedPaths = map[string]struct{}{
	"/server.js":         {},
	"/package.json":      {},
	"/package-lock.json": {},
	"/Dockerfile":        {},
	"/.dockerignore":     {},
	"/.gitignore":        {},
	"/CLAUDE.md":         {},
	"/README.md":         {},
	"/go.mod":            {},
	"/go.sum":            {},
}

var blockedPrefixes = []string{"/.git", "/node_modules"}

// Blocked reports whether urlPath is on the blocklist. The path is cleaned
// first, so trailing slashes, doubled slashes and dot segments cannot reach a
// blocked file.
func Blocked(urlPath string) bool {
	urlPath = cleanPath(urlPath)
	if _, ok := blockedPaths[urlPath]; ok {
		return true
	}
	for _, p := range blockedPrefixes {
		if strings.HasPrefix(urlPath, p) {
			return true
		}
	}
	return false
}

// Server serves files from an fs.FS. A path that resolves to nothing gets
// index.html with status 404 so the client-side router can render it.
type Server struct {
	fsys   fs.FS
	logger *slog.Logger
}

// New creates a Server rooted at fsys.
func New(fsys fs.FS, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{fsys: fsys, logger: log}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p := cleanPath(r.URL.Path)
	if Blocked(p) {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		if f, info, ok := s.resolve(p); ok {
			defer f.Close()
			if rs, ok := f.(io.ReadSeeker); ok {
				http.ServeContent(w, r, info.Name(), info.ModTime(), rs)
				return
			}
			s.logger.Warn("static file is not seekable", slog.String("path", p))
		}
	}

	s.notFound(w, r)
}

// resolve maps a cleaned path to a regular file, trying the path itself, a
// directory index, then the .html extension. Dot-prefixed segments are
// hidden.
func (s *Server) resolve(cleaned string) (fs.File, fs.FileInfo, bool) {
	name := strings.TrimPrefix(cleaned, "/")
	if hidden(name) {
		return nil, nil, false
	}

	var candidates []string
	if name == "" {
		candidates = []string{indexFile}
	} else {
		candidates = []string{name, name + "/" + indexFile, name + ".html"}
	}

	for _, c := range candidates {
		f, err := s.fsys.Open(c)
		if err != nil {
			continue
		}
		info, err := f.Stat()
		if err != nil || !info.Mode().IsRegular() {
			f.Close()
			continue
		}
		return f, info, true
	}
	return nil, nil, false
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	body, err := fs.ReadFile(s.fsys, indexFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Error("failed to read index page", slog.String("error", err.Error()))
		}
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	if r.Method != http.MethodHead {
		w.Write(body)
	}
}

func cleanPath(urlPath string) string {
	return path.Clean("/" + urlPath)
}

func hidden(name string) bool {
	for _, seg := range strings.Split(name, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
