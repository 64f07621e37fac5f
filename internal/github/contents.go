// Package github persists announcement collections to a repository through the GitHub contents API.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/yourusername/bulletin/internal/announcement"
	"github.com/yourusername/bulletin/internal/storage"
)

// DefaultAPIURL is the public GitHub REST endpoint.
const DefaultAPIURL = "https://api.github.com"

// Options configures the contents adapter.
type Options struct {
	APIURL  string
	Owner   string
	Repo    string
	Branch  string
	Paths   map[announcement.Kind]string
	Timeout time.Duration
	// Token is called on every request; the credential is never cached.
	Token func() string
}

// Adapter stores each collection as a JSON file in a repository. It remembers
// the blob SHA of every document it has seen and sends it back on overwrite.
type Adapter struct {
	opts   Options
	client *http.Client
	logger *slog.Logger

	mu   sync.Mutex
	shas map[announcement.Kind]string
}

// contentsFile is the subset of the contents API file object we use.
type contentsFile struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	SHA      string `json:"sha"`
}

// putRequest is the body of a create-or-update file call.
type putRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha,omitempty"`
	Branch  string `json:"branch,omitempty"`
}

// NewAdapter creates a contents adapter.
func NewAdapter(opts Options) *Adapter {
	return NewAdapterWithLogger(opts, slog.Default())
}

// NewAdapterWithLogger creates a contents adapter with a custom logger.
func NewAdapterWithLogger(opts Options, logger *slog.Logger) *Adapter {
	if opts.APIURL == "" {
		opts.APIURL = DefaultAPIURL
	}
	opts.APIURL = strings.TrimRight(opts.APIURL, "/")
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Token == nil {
		opts.Token = func() string { return "" }
	}
	return &Adapter{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger.With("component", "github.contents"),
		shas:   make(map[announcement.Kind]string),
	}
}

// Name implements storage.Adapter.
func (a *Adapter) Name() string { return "github" }

// SHA returns the last blob SHA seen for a collection, or "" when the
// document has not been loaded or does not exist yet.
func (a *Adapter) SHA(kind announcement.Kind) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.shas[kind]
}

func (a *Adapter) setSHA(kind announcement.Kind, sha string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if sha == "" {
		delete(a.shas, kind)
		return
	}
	a.shas[kind] = sha
}

func (a *Adapter) path(kind announcement.Kind) string {
	if p, ok := a.opts.Paths[kind]; ok && p != "" {
		return p
	}
	return "data/" + string(kind) + ".json"
}

func (a *Adapter) contentsURL(kind announcement.Kind) string {
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s", a.opts.APIURL,
		url.PathEscape(a.opts.Owner), url.PathEscape(a.opts.Repo), a.path(kind))
}

func (a *Adapter) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if token := a.opts.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (a *Adapter) fail(kind storage.Kind, op string, collection announcement.Kind, err error) error {
	return &storage.Error{Kind: kind, Backend: a.Name(), Op: op, Collection: collection, Err: err}
}

// Load fetches a collection document and remembers its SHA. A 404 is an
// empty collection with no SHA, so the next save creates the file.
func (a *Adapter) Load(ctx context.Context, kind announcement.Kind) (announcement.Collection, error) {
	logger := a.logger.With("collection", kind, "path", a.path(kind))

	target := a.contentsURL(kind)
	if a.opts.Branch != "" {
		target += "?ref=" + url.QueryEscape(a.opts.Branch)
	}
	req, err := a.newRequest(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, a.fail(storage.KindNetwork, "load", kind, err)
	}

	start := time.Now()
	resp, err := a.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		logger.ErrorContext(ctx, "HTTP request failed",
			"error", err,
			"duration_ms", duration.Milliseconds())
		return nil, a.fail(storage.KindNetwork, "load", kind, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	logger.DebugContext(ctx, "Received contents response",
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds())

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, a.fail(storage.KindNetwork, "load", kind, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		logger.InfoContext(ctx, "Collection document does not exist yet")
		a.setSHA(kind, "")
		return announcement.Collection{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		logger.ErrorContext(ctx, "Contents API returned non-OK status",
			"status_code", resp.StatusCode,
			"response_body", string(body))
		return nil, a.fail(storage.KindNetwork, "load", kind,
			fmt.Errorf("status %d: %s", resp.StatusCode, string(body)))
	}

	var file contentsFile
	if err := json.Unmarshal(body, &file); err != nil {
		return nil, a.fail(storage.KindMalformed, "load", kind, err)
	}

	items, err := decodeContent(file.Content)
	if err != nil {
		logger.WarnContext(ctx, "Collection document could not be decoded", "error", err)
		return nil, a.fail(storage.KindMalformed, "load", kind, err)
	}

	a.setSHA(kind, file.SHA)
	logger.DebugContext(ctx, "Loaded collection", "sha", file.SHA, "count", len(items))
	return items, nil
}

// Save writes a collection document. The last seen SHA is sent when one is
// known; a stale SHA is rejected by GitHub and reported as Conflict.
func (a *Adapter) Save(ctx context.Context, kind announcement.Kind, items announcement.Collection) error {
	sha := a.SHA(kind)
	logger := a.logger.With("collection", kind, "path", a.path(kind), "sha", sha)

	doc, err := storage.EncodeCollection(items)
	if err != nil {
		return a.fail(storage.KindMalformed, "save", kind, err)
	}
	payload := putRequest{
		Message: commitMessage(kind, len(items)),
		Content: base64.StdEncoding.EncodeToString(doc),
		SHA:     sha,
		Branch:  a.opts.Branch,
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return a.fail(storage.KindMalformed, "save", kind, err)
	}

	req, err := a.newRequest(ctx, http.MethodPut, a.contentsURL(kind), bytes.NewBuffer(jsonData))
	if err != nil {
		return a.fail(storage.KindNetwork, "save", kind, err)
	}

	logger.InfoContext(ctx, "Sending collection to GitHub", "count", len(items))
	start := time.Now()
	resp, err := a.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		logger.ErrorContext(ctx, "HTTP request failed",
			"error", err,
			"duration_ms", duration.Milliseconds())
		return a.fail(storage.KindNetwork, "save", kind, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return a.fail(storage.KindNetwork, "save", kind, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity:
		logger.WarnContext(ctx, "Concurrency token rejected, reload before retrying",
			"status_code", resp.StatusCode,
			"response_body", string(body))
		return a.fail(storage.KindConflict, "save", kind,
			fmt.Errorf("status %d: %s", resp.StatusCode, string(body)))
	default:
		logger.ErrorContext(ctx, "Save failed",
			"status_code", resp.StatusCode,
			"response_body", string(body))
		return a.fail(storage.KindNetwork, "save", kind,
			fmt.Errorf("status %d: %s", resp.StatusCode, string(body)))
	}

	var result struct {
		Content contentsFile `json:"content"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return a.fail(storage.KindMalformed, "save", kind, err)
	}

	a.setSHA(kind, result.Content.SHA)
	logger.InfoContext(ctx, "Saved collection to GitHub",
		"new_sha", result.Content.SHA,
		"duration_ms", duration.Milliseconds())
	return nil
}

// decodeContent turns the base64 body (wrapped at 60 columns by GitHub) into a collection.
func decodeContent(content string) (announcement.Collection, error) {
	cleaned := strings.NewReplacer("\n", "", "\r", "").Replace(content)
	if cleaned == "" {
		return announcement.Collection{}, nil
	}
	raw, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 content: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return announcement.Collection{}, nil
	}
	var items announcement.Collection
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	if items == nil {
		items = announcement.Collection{}
	}
	return items, nil
}

func commitMessage(kind announcement.Kind, count int) string {
	return fmt.Sprintf("Update %s (%d records)", kind, count)
}

var _ storage.Adapter = &Adapter{}
