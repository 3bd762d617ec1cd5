// Package fetch implements the filter downloader (component C): it
// retrieves a source's raw text over HTTP(S), from the local filesystem, or
// from a caller-supplied pre-fetched content map, splits it into lines, and
// expands the `!#if/!#else/!#endif`/`!#include` preprocessor grammar over
// them.
/*
 * Copyright (c) 2024, blockforge authors. All rights reserved.
 */
package fetch

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/karrick/godirwalk"
	"github.com/valyala/fasthttp"

	"github.com/blockforge/compiler/internal/errtax"
	"github.com/blockforge/compiler/internal/xlog"
)

// DefaultIncludeMaxDepth bounds `!#include` recursion (§4.2).
const DefaultIncludeMaxDepth = 32

// Options configures one Download call.
type Options struct {
	// AllowEmptyResponse treats an HTTP-200 empty body as an empty list
	// rather than an error.
	AllowEmptyResponse bool
	// Platform is passed to the conditional evaluator; empty means no
	// platform identifier ever matches.
	Platform string
	// IncludeMaxDepth overrides DefaultIncludeMaxDepth when > 0.
	IncludeMaxDepth int
	// PreFetched supplies content for "mem://<key>" sources without any
	// network or filesystem access, for tests and embedding hosts that
	// already hold the bytes.
	PreFetched map[string]string
	// FailFastIncludes makes an included file's fetch error fatal instead
	// of being downgraded to a diagnostic (§4.2, §7).
	FailFastIncludes bool
	// HTTPTimeout bounds a single HTTP(S) fetch.
	HTTPTimeout time.Duration
}

func (o Options) includeMaxDepth() int {
	if o.IncludeMaxDepth > 0 {
		return o.IncludeMaxDepth
	}
	return DefaultIncludeMaxDepth
}

func (o Options) httpTimeout() time.Duration {
	if o.HTTPTimeout > 0 {
		return o.HTTPTimeout
	}
	return 15 * time.Second
}

// Result is the outcome of Download: the final inlined, preprocessed lines
// plus any non-fatal diagnostics collected along the way (skipped cycles,
// missing includes, downgraded include errors).
type Result struct {
	Lines       []string
	Diagnostics []string
}

// Downloader fetches and preprocesses filter sources.
type Downloader struct {
	httpClient *fasthttp.Client
}

// New constructs a Downloader.
func New() *Downloader {
	return &Downloader{httpClient: &fasthttp.Client{Name: "blockforge-compiler"}}
}

// Download retrieves source and resolves its preprocessor directives,
// following `!#include` recursively. source is a URL, a local filesystem
// path, or a "mem://<key>" reference into opts.PreFetched.
func (d *Downloader) Download(ctx context.Context, source string, opts Options) (Result, error) {
	res := &Result{}
	err := d.downloadInto(ctx, source, opts, res, newAncestors(), 0)
	if err != nil {
		return Result{}, err
	}
	return *res, nil
}

// ancestors tracks the include path for cycle detection. It is a scoped
// stack, not a persisted graph: "include" forms a tree over any one root
// fetch, and only the current branch's ancestry matters (§9).
type ancestors struct {
	seen map[string]bool
	path []string
}

func newAncestors() *ancestors {
	return &ancestors{seen: make(map[string]bool)}
}

func (a *ancestors) push(source string) {
	a.seen[source] = true
	a.path = append(a.path, source)
}

func (a *ancestors) pop() {
	last := a.path[len(a.path)-1]
	a.path = a.path[:len(a.path)-1]
	delete(a.seen, last)
}

func (a *ancestors) contains(source string) bool { return a.seen[source] }

func (d *Downloader) downloadInto(ctx context.Context, source string, opts Options, res *Result, anc *ancestors, depth int) error {
	if depth > opts.includeMaxDepth() {
		res.Diagnostics = append(res.Diagnostics, fmt.Sprintf("include depth exceeded at %q", source))
		return nil
	}
	if anc.contains(source) {
		res.Diagnostics = append(res.Diagnostics, fmt.Sprintf("include cycle detected, skipping %q", source))
		return nil
	}

	isRoot := depth == 0
	raw, err := d.fetchRaw(ctx, source, opts)
	if err != nil {
		if isRoot || opts.FailFastIncludes {
			return errtax.New(errtax.SourceFetch, "fetch.Download", fmt.Errorf("fetching %q: %w", source, err))
		}
		xlog.Warnf("fetch: include %q failed, skipping: %v", source, err)
		res.Diagnostics = append(res.Diagnostics, fmt.Sprintf("include %q failed: %v", source, err))
		return nil
	}

	lines := splitLines(raw)
	if len(lines) == 0 && !opts.AllowEmptyResponse && isRoot {
		return errtax.New(errtax.SourceFetch, "fetch.Download", fmt.Errorf("empty response from %q", source))
	}

	anc.push(source)
	defer anc.pop()

	expanded, err := d.preprocess(ctx, source, lines, opts, res, anc, depth)
	if err != nil {
		if isRoot || opts.FailFastIncludes {
			return err
		}
		xlog.Warnf("fetch: preprocessing include %q failed, skipping: %v", source, err)
		res.Diagnostics = append(res.Diagnostics, fmt.Sprintf("include %q preprocessing failed: %v", source, err))
		return nil
	}
	res.Lines = append(res.Lines, expanded...)
	return nil
}

func splitLines(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")
	if raw == "" {
		return nil
	}
	lines := strings.Split(raw, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func (d *Downloader) fetchRaw(ctx context.Context, source string, opts Options) (string, error) {
	if content, ok := preFetchedLookup(source, opts.PreFetched); ok {
		return content, nil
	}
	if isHTTPURL(source) {
		return d.fetchHTTP(ctx, source, opts)
	}
	return fetchFile(source)
}

func preFetchedLookup(source string, m map[string]string) (string, bool) {
	key := strings.TrimPrefix(source, "mem://")
	if key == source && !strings.HasPrefix(source, "mem://") {
		// not a mem:// reference; still allow a direct map hit for
		// pre-fetched content keyed by the literal source string.
		v, ok := m[source]
		return v, ok
	}
	v, ok := m[key]
	return v, ok
}

func isHTTPURL(source string) bool {
	u, err := url.Parse(source)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func (d *Downloader) fetchHTTP(ctx context.Context, source string, opts Options) (string, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(source)
	req.Header.SetMethod(fasthttp.MethodGet)

	timeout := opts.httpTimeout()
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	if err := d.httpClient.DoTimeout(req, resp, timeout); err != nil {
		return "", fmt.Errorf("http get %s: %w", source, err)
	}
	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("http get %s: status %d", source, status)
	}
	return string(resp.Body()), nil
}

func fetchFile(source string) (string, error) {
	info, err := os.Stat(source)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%q is a directory, not a filter source", source)
	}
	f, err := os.Open(source)
	if err != nil {
		return "", err
	}
	defer f.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, bufio.NewReader(f)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// resolveInclude joins a `!#include` target against source's base the way
// the target's own addressing scheme requires: URL-relative for HTTP(S)
// sources, filesystem-relative for local paths, map-key-relative for
// pre-fetched sources.
func resolveInclude(source, target string) string {
	if strings.Contains(target, "://") {
		return target
	}
	if isHTTPURL(source) {
		base, err := url.Parse(source)
		if err != nil {
			return target
		}
		rel, err := url.Parse(target)
		if err != nil {
			return target
		}
		return base.ResolveReference(rel).String()
	}
	if strings.HasPrefix(source, "mem://") || !strings.ContainsAny(source, "/\\") {
		return target
	}
	if path.IsAbs(target) {
		return target
	}
	return path.Join(path.Dir(source), target)
}

// ListLocalSources enumerates filter files under a local directory,
// honoring the same convention as a single-file local source. Useful for
// embedding hosts that keep a directory of filter lists.
func ListLocalSources(root string) ([]string, error) {
	var out []string
	err := godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			out = append(out, osPathname)
			return nil
		},
		Unsorted: false,
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
