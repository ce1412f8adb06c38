package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/maruel/jcrdb/internal/blobstore"
	"github.com/maruel/jcrdb/internal/docstore/jsonlstore"
	"github.com/maruel/jcrdb/internal/jsonldb"
	"github.com/maruel/jcrdb/internal/repository"
	"github.com/maruel/jcrdb/internal/server/handlers"
	"github.com/maruel/jcrdb/internal/server/ratelimit"
)

var testSecret = bytes.Repeat([]byte{7}, 32)

func setupServer(t *testing.T, o *Options, users ...repository.User) http.Handler {
	t.Helper()
	dir := t.TempDir()
	docs, err := jsonlstore.Open(filepath.Join(dir, "docs"))
	if err != nil {
		t.Fatal(err)
	}
	blobs, err := blobstore.Open(filepath.Join(dir, "blobs"), jsonldb.CompressionNone)
	if err != nil {
		t.Fatal(err)
	}
	repo := repository.New(&repository.Options{Docs: docs, Blobs: blobs, Users: users})
	if o == nil {
		o = &Options{}
	}
	o.JWTSecret = testSecret
	return NewRouter(repo, o)
}

type client struct {
	t     *testing.T
	h     http.Handler
	token string
}

// do sends a request and decodes the JSON response into out when not nil.
func (c *client) do(method, path string, body any, out any) int {
	c.t.Helper()
	var r io.Reader = http.NoBody
	if body != nil {
		switch b := body.(type) {
		case string:
			r = strings.NewReader(b)
		default:
			raw, err := json.Marshal(b)
			if err != nil {
				c.t.Fatal(err)
			}
			r = bytes.NewReader(raw)
		}
	}
	req := httptest.NewRequest(method, path, r)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	w := httptest.NewRecorder()
	c.h.ServeHTTP(w, req)
	if out != nil {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			c.t.Fatalf("%s %s: %v: %s", method, path, err, w.Body.String())
		}
	}
	return w.Code
}

func (c *client) login(user, password string) {
	c.t.Helper()
	var resp handlers.LoginResponse
	if code := c.do("POST", "/api/auth/login", handlers.LoginRequest{User: user, Password: password}, &resp); code != http.StatusOK {
		c.t.Fatalf("login: %d", code)
	}
	c.token = resp.Token
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Details map[string]any `json:"details"`
}

func (c *client) fail(method, path string, body any, wantStatus int, wantCode string) {
	c.t.Helper()
	var e errorResponse
	if code := c.do(method, path, body, &e); code != wantStatus || e.Error.Code != wantCode {
		c.t.Errorf("%s %s = %d %s (%s), want %d %s", method, path, code, e.Error.Code, e.Error.Message, wantStatus, wantCode)
	}
}

func prop(name, typ string, values ...any) map[string]any {
	return map[string]any{"name": name, "type": typ, "values": values}
}

func TestHealth(t *testing.T) {
	c := &client{t: t, h: setupServer(t, nil)}
	var resp handlers.HealthResponse
	if code := c.do("GET", "/api/health", nil, &resp); code != http.StatusOK || resp.Status != "ok" {
		t.Errorf("health = %d %+v", code, resp)
	}
}

func TestAuth(t *testing.T) {
	hash, err := repository.HashPassword("secret")
	if err != nil {
		t.Fatal(err)
	}
	c := &client{t: t, h: setupServer(t, nil, repository.User{Name: "alice", PasswordHash: hash})}
	c.fail("GET", "/api/auth/me", nil, http.StatusUnauthorized, "UNAUTHORIZED")
	c.fail("POST", "/api/auth/login", handlers.LoginRequest{User: "alice", Password: "nope"}, http.StatusUnauthorized, "UNAUTHORIZED")
	c.fail("POST", "/api/auth/login", handlers.LoginRequest{User: "alice", Password: "secret", Workspace: "other"}, http.StatusNotFound, "NO_SUCH_WORKSPACE")
	c.fail("POST", "/api/auth/login", `{"user":"alice","extra":1}`, http.StatusBadRequest, "VALIDATION_FAILED")

	c.token = "garbage"
	c.fail("GET", "/api/auth/me", nil, http.StatusUnauthorized, "UNAUTHORIZED")

	c.login("alice", "secret")
	var me handlers.MeResponse
	if code := c.do("GET", "/api/auth/me", nil, &me); code != http.StatusOK {
		t.Fatalf("me = %d", code)
	}
	if me.User != "alice" || me.Workspace != "default" || !slices.Contains(me.Permissions, "read") {
		t.Errorf("me = %+v", me)
	}
}

func TestRateLimit(t *testing.T) {
	limits := ratelimit.New(ratelimit.Limits{Auth: 2})
	defer limits.Close()
	c := &client{t: t, h: setupServer(t, &Options{Limits: limits})}
	c.login("a", "")
	c.login("a", "")
	c.fail("POST", "/api/auth/login", handlers.LoginRequest{User: "a"}, http.StatusTooManyRequests, "RATE_LIMITED")
	// Reads are unlimited.
	for range 5 {
		if code := c.do("GET", "/api/descriptors", nil, nil); code != http.StatusOK {
			t.Fatalf("descriptors = %d", code)
		}
	}
}

func TestBodyLimit(t *testing.T) {
	c := &client{t: t, h: setupServer(t, &Options{MaxRequestBodyBytes: 16})}
	c.fail("POST", "/api/auth/login", handlers.LoginRequest{User: strings.Repeat("a", 32)}, http.StatusBadRequest, "VALIDATION_FAILED")
}

func TestRepositoryEndpoints(t *testing.T) {
	c := &client{t: t, h: setupServer(t, nil)}
	c.login("alice", "")

	var desc map[string]any
	if code := c.do("GET", "/api/descriptors", nil, &desc); code != http.StatusOK || desc["write.supported"] != true {
		t.Errorf("descriptors = %d %v", code, desc["write.supported"])
	}

	var ws handlers.WorkspacesResponse
	c.do("GET", "/api/workspaces", nil, &ws)
	if !slices.Equal(ws.Workspaces, []string{"default"}) {
		t.Errorf("workspaces = %v", ws.Workspaces)
	}
	if code := c.do("POST", "/api/workspaces", handlers.CreateWorkspaceRequest{Name: "tmp"}, nil); code != http.StatusOK {
		t.Errorf("create = %d", code)
	}
	c.fail("POST", "/api/workspaces", handlers.CreateWorkspaceRequest{Name: "tmp"}, http.StatusInternalServerError, "REPOSITORY_ERROR")
	c.fail("DELETE", "/api/workspaces/default", nil, http.StatusBadRequest, "VALIDATION_FAILED")
	if code := c.do("DELETE", "/api/workspaces/tmp", nil, nil); code != http.StatusOK {
		t.Errorf("delete = %d", code)
	}

	if code := c.do("PUT", "/api/namespaces/ex", map[string]string{"uri": "http://example.com/ns"}, nil); code != http.StatusOK {
		t.Errorf("register = %d", code)
	}
	var ns handlers.NamespacesResponse
	c.do("GET", "/api/namespaces", nil, &ns)
	if ns.Namespaces["ex"] != "http://example.com/ns" || ns.Namespaces["jcr"] == "" {
		t.Errorf("namespaces = %v", ns.Namespaces)
	}
	if code := c.do("DELETE", "/api/namespaces/ex", nil, nil); code != http.StatusOK {
		t.Errorf("unregister = %d", code)
	}

	var types handlers.NodeTypesResponse
	c.do("GET", "/api/nodetypes", nil, &types)
	found := false
	for _, nt := range types.NodeTypes {
		found = found || (nt.Name == "mix:referenceable" && nt.Mixin)
	}
	if !found {
		t.Errorf("node types = %+v", types.NodeTypes)
	}

	var schema map[string]any
	if code := c.do("GET", "/api/schema", nil, &schema); code != http.StatusOK || schema["properties"] == nil {
		t.Errorf("schema = %d %v", code, schema)
	}

	var history handlers.HistoryResponse
	if code := c.do("GET", "/api/history?limit=5", nil, &history); code != http.StatusOK || len(history.Commits) != 0 {
		t.Errorf("history = %d %+v", code, history)
	}
}

func TestNodeEndpoints(t *testing.T) {
	c := &client{t: t, h: setupServer(t, nil)}
	c.login("alice", "")

	var a handlers.Node
	code := c.do("PUT", "/api/nodes/a", map[string]any{
		"primary_type": "nt:unstructured",
		"mixins":       []string{"mix:referenceable"},
		"properties": []any{
			prop("title", "String", "hello"),
			prop("count", "Long", 42),
			map[string]any{"name": "tags", "type": "String", "multiple": true, "values": []string{"x", "y"}},
		},
		"children": []any{map[string]any{"name": "b", "primary_type": "nt:unstructured"}},
	}, &a)
	if code != http.StatusOK {
		t.Fatalf("put = %d", code)
	}
	if a.Identifier == "" || a.Path != "/a" || !slices.Equal(a.Children, []string{"b"}) {
		t.Errorf("put = %+v", a)
	}

	var root handlers.Node
	c.do("GET", "/api/nodes/", nil, &root)
	if root.Path != "/" || !slices.Equal(root.Children, []string{"a"}) {
		t.Errorf("root = %+v", root)
	}

	var p handlers.Property
	if code := c.do("GET", "/api/properties/a/count", nil, &p); code != http.StatusOK || p.Type.String() != "Long" || string(p.Values[0]) != "42" {
		t.Errorf("count = %d %+v", code, p)
	}
	c.fail("GET", "/api/properties/a/missing", nil, http.StatusNotFound, "NOT_FOUND")
	c.fail("GET", "/api/nodes/missing", nil, http.StatusNotFound, "NOT_FOUND")
	c.fail("PUT", "/api/nodes/missing/x", map[string]any{"primary_type": "nt:unstructured"}, http.StatusNotFound, "PATH_NOT_FOUND")
	c.fail("PUT", "/api/nodes/a/c", map[string]any{"primary_type": "nt:unstructured", "properties": []any{prop("n", "Long", "nope")}}, http.StatusBadRequest, "VALUE_FORMAT")

	// PATCH keeps what it does not name.
	var patched handlers.Node
	code = c.do("PATCH", "/api/nodes/a", map[string]any{
		"set":    []any{prop("title", "String", "bye")},
		"remove": []string{"tags"},
	}, &patched)
	if code != http.StatusOK {
		t.Fatalf("patch = %d", code)
	}
	got := map[string]string{}
	for _, p := range patched.Properties {
		got[p.Name] = string(p.Values[0])
	}
	if got["title"] != `"bye"` || got["count"] != "42" || got["tags"] != "" {
		t.Errorf("patched = %v", got)
	}
	if patched.Identifier != a.Identifier {
		t.Errorf("identifier changed: %s != %s", patched.Identifier, a.Identifier)
	}

	if code := c.do("PUT", "/api/properties/a/flag", map[string]any{"type": "Boolean", "values": []any{true}}, &p); code != http.StatusOK || string(p.Values[0]) != "true" {
		t.Errorf("put property = %d %+v", code, p)
	}
	if code := c.do("DELETE", "/api/properties/a/flag", nil, nil); code != http.StatusOK {
		t.Errorf("delete property = %d", code)
	}
	c.fail("DELETE", "/api/properties/a/flag", nil, http.StatusNotFound, "NOT_FOUND")

	var byID handlers.Node
	if code := c.do("GET", "/api/identifiers/"+a.Identifier, nil, &byID); code != http.StatusOK || byID.Path != "/a" {
		t.Errorf("by identifier = %d %+v", code, byID)
	}
	var batch handlers.NodesResponse
	c.do("POST", "/api/batch/nodes", handlers.NodesRequest{Paths: []string{"/a/b", "/nope"}, Identifiers: []string{a.Identifier}}, &batch)
	if len(batch.Nodes) != 2 || batch.Nodes["/a"] == nil || batch.Nodes["/a/b"] == nil {
		t.Errorf("batch = %v", batch.Nodes)
	}

	// References block the delete of their target.
	code = c.do("PUT", "/api/nodes/r", map[string]any{
		"primary_type": "nt:unstructured",
		"mixins":       []string{"mix:referenceable"},
		"properties":   []any{prop("ref", "Reference", a.Identifier)},
	}, nil)
	if code != http.StatusOK {
		t.Fatalf("put referrer = %d", code)
	}
	var refs handlers.ReferencesResponse
	if c.do("GET", "/api/references/a", nil, &refs); !slices.Equal(refs.References, []string{"/r/ref"}) {
		t.Errorf("references = %v", refs.References)
	}
	if c.do("GET", "/api/references/a?weak=true", nil, &refs); len(refs.References) != 0 {
		t.Errorf("weak references = %v", refs.References)
	}
	c.fail("DELETE", "/api/nodes/a", nil, http.StatusConflict, "REFERENTIAL_INTEGRITY")

	if code := c.do("POST", "/api/copy", handlers.TransferRequest{Src: "/a", Dst: "/a2"}, nil); code != http.StatusOK {
		t.Errorf("copy = %d", code)
	}
	c.fail("POST", "/api/copy", handlers.TransferRequest{Src: "/a", Dst: "/a2"}, http.StatusConflict, "ITEM_EXISTS")
	if code := c.do("POST", "/api/move", handlers.TransferRequest{Src: "/a2", Dst: "/r/a3"}, nil); code != http.StatusOK {
		t.Errorf("move = %d", code)
	}
	var moved handlers.Node
	if code := c.do("GET", "/api/nodes/r/a3/b", nil, &moved); code != http.StatusOK {
		t.Errorf("moved child = %d", code)
	}
	if code := c.do("DELETE", "/api/nodes/r", nil, nil); code != http.StatusOK {
		t.Errorf("delete referrer = %d", code)
	}
	if code := c.do("DELETE", "/api/nodes/a", nil, nil); code != http.StatusOK {
		t.Errorf("delete = %d", code)
	}
	c.fail("POST", "/api/query", handlers.QueryRequest{Language: "xpath", Statement: "//*"}, http.StatusNotImplemented, "NOT_IMPLEMENTED")
}

func TestBinaryEndpoints(t *testing.T) {
	c := &client{t: t, h: setupServer(t, nil)}
	c.login("alice", "")
	if code := c.do("PUT", "/api/nodes/f", map[string]any{"primary_type": "nt:unstructured"}, nil); code != http.StatusOK {
		t.Fatalf("put = %d", code)
	}
	if code := c.do("PUT", "/api/binary/f/data", "payload", nil); code != http.StatusOK {
		t.Fatalf("upload = %d", code)
	}
	req := httptest.NewRequest("GET", "/api/binary/f/data", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+c.token)
	w := httptest.NewRecorder()
	c.h.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "payload" {
		t.Errorf("download = %d %q", w.Code, w.Body.String())
	}
	var p handlers.Property
	if c.do("GET", "/api/properties/f/data", nil, &p); string(p.Values[0]) != `{"length":7}` {
		t.Errorf("binary property = %+v", p)
	}
	// Inline base64 payloads work too.
	if code := c.do("PUT", "/api/properties/f/inline", map[string]any{"type": "Binary", "values": []string{"aGk="}}, nil); code != http.StatusOK {
		t.Fatalf("inline = %d", code)
	}
	c.fail("GET", "/api/binary/f/data?index=3", nil, http.StatusNotFound, "NOT_FOUND")
	c.fail("GET", "/api/binary/f/data?index=x", nil, http.StatusBadRequest, "VALIDATION_FAILED")
}
