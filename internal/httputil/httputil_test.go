package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSONError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSONError(rec, http.StatusBadRequest, "test error")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "test error", resp["error"])
}

func TestStatusHelpers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		write  func(http.ResponseWriter)
		status int
	}{
		{"ok", func(w http.ResponseWriter) { WriteJSONOK(w, map[string]int{"n": 1}) }, http.StatusOK},
		{"no content", NoContent, http.StatusNoContent},
		{"forbidden", func(w http.ResponseWriter) { Forbidden(w, "x") }, http.StatusForbidden},
		{"bad request", func(w http.ResponseWriter) { BadRequest(w, "x") }, http.StatusBadRequest},
		{"internal", func(w http.ResponseWriter) { InternalServerError(w, "x") }, http.StatusInternalServerError},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "x") }, http.StatusNotFound},
		{"conflict", func(w http.ResponseWriter) { Conflict(w, "x") }, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	var v struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"rpm"}`))
	require.NoError(t, DecodeJSON(req, &v))
	assert.Equal(t, "rpm", v.Name)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"nom":"rpm"}`))
	assert.Error(t, DecodeJSON(req, &v), "unknown field")

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a"}{"name":"b"}`))
	assert.Error(t, DecodeJSON(req, &v), "trailing data")
}

func TestClient_GetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/stats", r.URL.Path)
		WriteJSONOK(w, map[string]int{"index": 7})
	}))
	defer srv.Close()

	var out struct {
		Index int `json:"index"`
	}
	require.NoError(t, NewClient(srv.URL+"/", nil).GetJSON(context.Background(), "/api/stats", &out))
	assert.Equal(t, 7, out.Index)
}

func TestClient_PostJSON(t *testing.T) {
	doer := &MockDoer{Responses: []MockResponse{{StatusCode: http.StatusOK, Body: `{"ok":true}`}}}
	c := NewClient("http://scope", doer)

	var out map[string]bool
	require.NoError(t, c.PostJSON(context.Background(), "/api/reset", map[string]string{"a": "b"}, &out))
	assert.True(t, out["ok"])

	require.Len(t, doer.Requests, 1)
	req := doer.Requests[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "http://scope/api/reset", req.URL.String())
	body, _ := io.ReadAll(req.Body)
	assert.JSONEq(t, `{"a":"b"}`, string(body))
}

func TestClient_Errors(t *testing.T) {
	boom := errors.New("connection refused")
	doer := &MockDoer{Responses: []MockResponse{
		{StatusCode: http.StatusNotFound, Body: `{"error":"unknown channel"}`},
		{StatusCode: http.StatusBadGateway, Body: `oops`},
		{Error: boom},
		{StatusCode: http.StatusOK, Body: `not json`},
	}}
	c := NewClient("http://scope", doer)
	ctx := context.Background()
	var out map[string]any

	err := c.GetJSON(ctx, "/a", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown channel")

	err = c.GetJSON(ctx, "/b", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")

	assert.ErrorIs(t, c.GetJSON(ctx, "/c", &out), boom)
	assert.Error(t, c.GetJSON(ctx, "/d", &out))

	// exhausted queue answers an empty 200
	assert.NoError(t, c.GetJSON(ctx, "/e", &out))
}
