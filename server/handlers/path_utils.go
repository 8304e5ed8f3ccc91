package handlers

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ebogdum/cloudfs/internal/pathutil"
)

// wildcardPath returns the virtual path captured by a "/*" route. chi matches
// against the raw (escaped) path when the URL has one, so it is unescaped here;
// otherwise the already decoded value is used as is.
func wildcardPath(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "*")
	if r.URL.RawPath == "" {
		return raw, nil
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return "", &badRequest{message: "malformed path escape"}
	}
	return decoded, nil
}

// filePath extracts and normalizes the file path of a "/*" route
func filePath(r *http.Request) (string, error) {
	raw, err := wildcardPath(r)
	if err != nil {
		return "", err
	}
	return pathutil.Normalize(raw)
}

// queryInt parses a non-negative integer query parameter, returning def when absent
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &badRequest{message: name + " must be a non-negative integer"}
	}
	return n, nil
}

// queryTags splits a comma-separated tags parameter. Repeated parameters are
// merged; empty items are dropped.
func queryTags(r *http.Request) []string {
	var tags []string
	for _, raw := range r.URL.Query()["tags"] {
		for _, tag := range strings.Split(raw, ",") {
			if tag != "" {
				tags = append(tags, tag)
			}
		}
	}
	return tags
}
