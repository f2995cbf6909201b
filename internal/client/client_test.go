package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commissionflow/docintake/internal/api"
	"github.com/commissionflow/docintake/internal/document"
)

func TestListDocuments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/documents", r.URL.Path)
		json.NewEncoder(w).Encode([]document.Document{
			{ID: "d1", Status: document.StatusProcessing},
			{ID: "d2", Status: document.StatusCompleted},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	docs, err := c.ListDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, document.StatusProcessing, docs[0].Status)
}

func TestGetDocumentErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "document not found"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.GetDocument(context.Background(), "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "document not found")
}

func TestDocumentFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/documents/d9", r.URL.Path)
		json.NewEncoder(w).Encode(document.Document{ID: "d9", Status: document.StatusReviewPending})
	}))
	defer srv.Close()

	fetch := New(srv.URL).DocumentFetcher("d9")
	docs, err := fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "d9", docs[0].ID)
}

func TestRequestUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/uploads", r.URL.Path)
		var req api.UploadRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "statement.pdf", req.FileName)
		json.NewEncoder(w).Encode(api.UploadResponse{DocumentID: "d1"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	resp, err := c.RequestUpload(context.Background(), api.UploadRequest{FileName: "statement.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "d1", resp.DocumentID)
}
