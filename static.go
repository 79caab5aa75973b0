package main

import (
	"bytes"
	"crypto/sha256"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// attachStatic serves the built editor from dir:
//  1. Intercepts GET/HEAD requests not under /api
//  2. If a static file matches, serve it directly and Abort
//  3. If no match and path has no '.' and Accept includes text/html, treat as SPA and serve index.html
//  4. otherwise pass through
func attachStatic(engine *gin.Engine, dir string) {
	distFS := resolveFrontendFS(dir)
	if distFS == nil {
		return
	}

	index, err := loadIndex(distFS)
	if err != nil {
		return
	}

	fileServer := http.FileServer(http.FS(distFS))

	engine.Use(func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			return
		}
		p := c.Request.URL.Path
		// Let API + websocket routes fall through.
		if strings.HasPrefix(p, "/api") || p == "/healthz" {
			return
		}
		if p == "/" {
			index.serve(c)
			return
		}
		trimmed := strings.TrimPrefix(p, "/")
		if trimmed == "" {
			return
		}
		if f, err := distFS.Open(trimmed); err == nil {
			_ = f.Close()
			if fi, serr := fs.Stat(distFS, trimmed); serr == nil && fi.IsDir() {
				index.serve(c)
				return
			}
			fileServer.ServeHTTP(c.Writer, c.Request)
			c.Abort()
			return
		}

		// SPA fallback: serve index.html for client-side routes.
		if !strings.Contains(trimmed, ".") && acceptHTML(c.Request.Header.Get("Accept")) {
			index.serve(c)
			return
		}
	})
}

func resolveFrontendFS(dir string) fs.FS {
	candidates := []string{}
	if dir != "" {
		candidates = append(candidates, dir)
	}
	// Dev fallback: the frontend build next to the working directory.
	if wd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(wd, "frontend", "dist"))
	}
	for _, d := range candidates {
		if st, err := os.Stat(d); err == nil && st.IsDir() {
			dfs := os.DirFS(d)
			if _, err := fs.Stat(dfs, "index.html"); err == nil {
				return dfs
			}
		}
	}
	return nil
}

// indexPage is index.html read once at startup.
type indexPage struct {
	data    []byte
	etag    string
	modTime time.Time
}

func loadIndex(distFS fs.FS) (*indexPage, error) {
	data, err := fs.ReadFile(distFS, "index.html")
	if err != nil {
		return nil, err
	}
	page := &indexPage{data: data, modTime: time.Now()}
	if fi, statErr := fs.Stat(distFS, "index.html"); statErr == nil {
		page.modTime = fi.ModTime()
	}
	h := sha256.Sum256(data)
	page.etag = `W/"` + hexEncode(h[:8]) + `"`
	return page, nil
}

func (p *indexPage) serve(c *gin.Context) {
	if c.Request.Header.Get("If-None-Match") == p.etag {
		c.Status(http.StatusNotModified)
		c.Abort()
		return
	}
	c.Header("ETag", p.etag)
	c.Header("Cache-Control", "no-cache")
	c.Header("Content-Type", "text/html; charset=utf-8")
	http.ServeContent(c.Writer, c.Request, "index.html", p.modTime, bytes.NewReader(p.data))
	c.Abort()
}

// acceptHTML determines if the given accept header string indicates
// that the client accepts HTML content.
func acceptHTML(accept string) bool {
	// Treat missing Accept as HTML navigation (common in some embedded/webview cases).
	if accept == "" {
		return true
	}
	for _, part := range strings.Split(accept, ",") {
		p := strings.TrimSpace(strings.ToLower(part))
		if strings.HasPrefix(p, "text/html") || strings.HasPrefix(p, "application/xhtml+xml") {
			return true
		}
	}
	return false
}

// hexEncode returns a short lowercase hex string (weak ETag helper)
func hexEncode(b []byte) string {
	const hexdigits = "0123456789abcdef"
	var out strings.Builder
	for _, x := range b {
		out.WriteByte(hexdigits[x>>4])
		out.WriteByte(hexdigits[x&0x0f])
	}
	return out.String()
}
