// Package render builds the public announcement page.
package render

import (
	"bytes"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	goldmarkHTML "github.com/yuin/goldmark/renderer/html"

	"github.com/yourusername/bulletin/internal/announcement"
	"github.com/yourusername/bulletin/internal/notify"
)

// Empty-state messages shown when a collection has no records.
const (
	EmptyNews       = "目前尚無最新動態"
	EmptyActivities = "目前尚無活動紀錄"
)

// Raw HTML in content is escaped because WithUnsafe is not set.
var markdown = goldmark.New(
	goldmark.WithRendererOptions(
		goldmarkHTML.WithHardWraps(),
	),
)

const pageTemplate = `<!DOCTYPE html>
<html lang="zh-Hant">
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
{{range .Sections}}<section id="{{.ID}}">
<h2>{{.Heading}}</h2>
{{if .Cards}}{{range .Cards}}<div class="{{.Class}}">
<img src="{{.Image}}" alt="{{.Title}}">
<div class="card-body">
<h3>{{.Title}}</h3>
<p class="date">{{.Date}}</p>
<div class="content">{{.Content}}</div>
</div>
</div>
{{end}}{{else}}<p class="empty">{{.Empty}}</p>
{{end}}</section>
{{end}}</body>
</html>
`

// Source is what the page reads announcements from.
type Source interface {
	List(kind announcement.Kind) announcement.Collection
	Subscribe(fn notify.Listener) (unsubscribe func())
}

type card struct {
	Class   string
	Image   string
	Title   string
	Date    string
	Content template.HTML
}

type section struct {
	ID      string
	Heading string
	Empty   string
	Cards   []card
}

type pageData struct {
	Title    string
	Sections []section
}

// Page renders both collections and caches the latest HTML.
type Page struct {
	tmpl         *template.Template
	siteRoot     string
	defaultImage string
	title        string
	logger       *slog.Logger

	mu   sync.RWMutex
	html []byte
}

// NewPage creates a page. Images are checked for existence under siteRoot;
// an empty siteRoot disables the check.
func NewPage(siteRoot, defaultImage string) *Page {
	return NewPageWithLogger(siteRoot, defaultImage, slog.Default())
}

// NewPageWithLogger creates a page with a custom logger.
func NewPageWithLogger(siteRoot, defaultImage string, logger *slog.Logger) *Page {
	if defaultImage == "" {
		defaultImage = announcement.DefaultImage
	}
	return &Page{
		tmpl:         template.Must(template.New("page").Parse(pageTemplate)),
		siteRoot:     siteRoot,
		defaultImage: defaultImage,
		title:        "最新動態與活動紀錄",
		logger:       logger.With("component", "render.page"),
	}
}

// Render writes the page for the given collections.
func (p *Page) Render(w io.Writer, news, activities announcement.Collection) error {
	data := pageData{
		Title: p.title,
		Sections: []section{
			{ID: "news-container", Heading: "最新動態", Empty: EmptyNews, Cards: p.cards("news-card", news)},
			{ID: "activities-container", Heading: "活動紀錄", Empty: EmptyActivities, Cards: p.cards("activity-card", activities)},
		},
	}
	return p.tmpl.Execute(w, data)
}

func (p *Page) cards(class string, items announcement.Collection) []card {
	out := make([]card, 0, len(items))
	for _, item := range items {
		out = append(out, card{
			Class:   class,
			Image:   p.image(item.Image),
			Title:   item.Title,
			Date:    item.Date,
			Content: renderContent(item.Content),
		})
	}
	return out
}

// image returns src when it can be displayed and the default image otherwise.
func (p *Page) image(src string) string {
	src = strings.TrimSpace(src)
	if src == "" {
		return p.defaultImage
	}
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") || strings.HasPrefix(src, "data:") {
		return src
	}
	if p.siteRoot == "" {
		return src
	}

	rel := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(src, "/")))
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return p.defaultImage
	}
	if _, err := os.Stat(filepath.Join(p.siteRoot, rel)); err != nil {
		return p.defaultImage
	}
	return src
}

func renderContent(md string) template.HTML {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md)) // #nosec G203 -- escaped above
	}
	return template.HTML(buf.String()) // #nosec G203 -- goldmark escapes raw HTML
}

// Refresh re-renders the cached page from src.
func (p *Page) Refresh(src Source) error {
	var buf bytes.Buffer
	if err := p.Render(&buf, src.List(announcement.News), src.List(announcement.Activities)); err != nil {
		p.logger.Error("Failed to render page", "error", err)
		return err
	}
	p.mu.Lock()
	p.html = buf.Bytes()
	p.mu.Unlock()
	return nil
}

// Attach renders the page now and again after every change event from src.
func (p *Page) Attach(src Source) (detach func()) {
	_ = p.Refresh(src)
	return src.Subscribe(func(ev notify.Event) {
		p.logger.Debug("Re-rendering page", "collection", ev.Collection)
		_ = p.Refresh(src)
	})
}

// HTML returns the cached page.
func (p *Page) HTML() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.html
}

// ServeHTTP serves the cached page.
func (p *Page) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(p.HTML())
}
