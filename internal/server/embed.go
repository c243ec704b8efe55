package server

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

//go:embed web
var webFS embed.FS

func pagesFS() fs.FS {
	sub, err := fs.Sub(webFS, "web")
	if err != nil {
		panic(err)
	}
	return sub
}

func (s *Server) servePage(w http.ResponseWriter, r *http.Request, name string) {
	data, err := fs.ReadFile(pagesFS(), name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(data)
}

// servePages serves the embedded static pages. /logged-in resolves to
// logged-in.html; anything else under /api is a plain 404.
func (s *Server) servePages() {
	sub := pagesFS()
	fileServer := http.FileServer(http.FS(sub))

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api") {
			http.NotFound(w, r)
			return
		}
		name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
		if path.Ext(name) == "" {
			if _, err := fs.Stat(sub, name+".html"); err == nil {
				s.servePage(w, r, name+".html")
				return
			}
		}
		fileServer.ServeHTTP(w, r)
	})
}
