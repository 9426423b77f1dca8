package offline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strings"
)

// Fetcher retrieves a URL from the network (or whatever stands in for it).
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) (Response, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, url string) (Response, error) {
	return f(ctx, url)
}

// HTTPFetcher fetches absolute paths from an origin over HTTP.
type HTTPFetcher struct {
	Client  *http.Client
	BaseURL string // scheme://host, no trailing slash
	// Header is added to every request, e.g. Authorization.
	Header http.Header
}

// Fetch performs a GET and reads the whole body. A cancelled ctx abandons the
// request and nothing is returned.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (Response, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(f.BaseURL, "/")+url, nil)
	if err != nil {
		return Response{}, err
	}
	for k, vs := range f.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	res, err := client.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read %s: %w", url, err)
	}
	return Response{Status: res.StatusCode, Header: res.Header.Clone(), Body: body}, nil
}

// FSFetcher serves absolute paths from a file system, typically the embedded
// application shell. "/" and directories resolve to index.html.
type FSFetcher struct {
	FS fs.FS
}

// Fetch reads the file for url. Missing files yield a 404 response, not an error.
func (f *FSFetcher) Fetch(ctx context.Context, url string) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	p, _, _ := strings.Cut(url, "?")
	name := strings.TrimPrefix(path.Clean("/"+p), "/")
	if name == "" {
		name = "index.html"
	}
	if info, err := fs.Stat(f.FS, name); err == nil && info.IsDir() {
		name = path.Join(name, "index.html")
	}

	body, err := fs.ReadFile(f.FS, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Response{Status: http.StatusNotFound, Body: []byte("not found")}, nil
		}
		return Response{}, err
	}

	header := http.Header{}
	ctype := mime.TypeByExtension(path.Ext(name))
	if ctype == "" {
		ctype = http.DetectContentType(body)
	}
	header.Set("Content-Type", ctype)
	return Response{Status: http.StatusOK, Header: header, Body: body}, nil
}
