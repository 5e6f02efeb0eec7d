package handler

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/djedi/WebHookSpy/internal/store"
)

// requestFilter holds the AND-combined predicates of a filtered read.
// Empty fields match everything.
type requestFilter struct {
	method       string
	pathContains string
	bodyContains string
	bodyKey      string
	bodyValue    string // key:value
	queryKey     string
	queryValue   string // key:value
	headerKey    string
	headerValue  string // name:substring
	limit        int
}

func filterFromQuery(q url.Values) requestFilter {
	f := requestFilter{
		method:       q.Get("method"),
		pathContains: q.Get("path"),
		bodyContains: q.Get("body"),
		bodyKey:      q.Get("body_key"),
		bodyValue:    q.Get("body_value"),
		queryKey:     q.Get("query_key"),
		queryValue:   q.Get("query_value"),
		headerKey:    q.Get("header_key"),
		headerValue:  q.Get("header_value"),
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		f.limit = n
	}
	return f
}

// splitPair separates a "key:value" predicate. The value may itself
// contain colons.
func splitPair(s string) (string, string) {
	key, value, _ := strings.Cut(s, ":")
	return key, value
}

// bodyJSON parses the request body as a JSON object. Malformed or
// missing bodies yield nil, which matches nothing.
func bodyJSON(r *store.Request) map[string]any {
	if r.Body == nil {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(*r.Body), &obj); err != nil {
		return nil
	}
	return obj
}

func (f requestFilter) matches(r *store.Request) bool {
	if f.method != "" && !strings.EqualFold(f.method, r.Method) {
		return false
	}
	if f.pathContains != "" && !strings.Contains(r.Path, f.pathContains) {
		return false
	}
	if f.bodyContains != "" {
		if r.Body == nil || !strings.Contains(*r.Body, f.bodyContains) {
			return false
		}
	}
	if f.bodyKey != "" {
		obj := bodyJSON(r)
		if _, ok := obj[f.bodyKey]; !ok {
			return false
		}
	}
	if f.bodyValue != "" {
		key, want := splitPair(f.bodyValue)
		obj := bodyJSON(r)
		val, ok := obj[key]
		if !ok || fmt.Sprintf("%v", val) != want {
			return false
		}
	}
	if f.queryKey != "" {
		if _, ok := r.Query[f.queryKey]; !ok {
			return false
		}
	}
	if f.queryValue != "" {
		key, want := splitPair(f.queryValue)
		if got, ok := r.Query[key]; !ok || got != want {
			return false
		}
	}
	if f.headerKey != "" && !headerExists(r.Headers, f.headerKey) {
		return false
	}
	if f.headerValue != "" {
		name, substr := splitPair(f.headerValue)
		if !headerContains(r.Headers, name, substr) {
			return false
		}
	}
	return true
}

// headerExists does a case-insensitive key lookup.
func headerExists(headers map[string]string, key string) bool {
	for k := range headers {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}

// headerContains matches the header name case-insensitively and the
// value by substring.
func headerContains(headers map[string]string, name, substr string) bool {
	for k, v := range headers {
		if strings.EqualFold(k, name) && strings.Contains(v, substr) {
			return true
		}
	}
	return false
}
