package dochost

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certgen-cloud/internal/certificates/application"
	certificates "certgen-cloud/internal/certificates/domain"
)

const fileID = "1AbCdEfGhIjKlMn"

func newHostServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-1",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/files/" + fileID:
			if r.URL.Query().Get("alt") == "media" {
				_, _ = w.Write([]byte("raw-bytes"))
				return
			}
			_ = json.NewEncoder(w).Encode(fileResponse{
				ID:            fileID,
				Name:          "people.csv",
				MimeType:      "text/csv",
				ThumbnailLink: "https://thumb/1",
			})
		case "/files/native1234567":
			_ = json.NewEncoder(w).Encode(fileResponse{
				ID:       "native1234567",
				Name:     "Certificate",
				MimeType: "application/vnd.google-apps.document",
			})
		case "/files/native1234567/export":
			if r.URL.Query().Get("mimeType") != certificates.FormatDOCX.ContentType() {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte("exported"))
		case "/files/image12345678":
			_ = json.NewEncoder(w).Encode(fileResponse{ID: "image12345678", Name: "logo.png", MimeType: "image/png"})
		case "/files/private123456":
			w.WriteHeader(http.StatusForbidden)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := New(context.Background(), Config{
		BaseURL:      srv.URL,
		TokenURL:     srv.URL + "/token",
		ClientID:     "certgen",
		ClientSecret: "secret",
	})
	require.NoError(t, err)
	return c
}

func TestFileIDFromURL(t *testing.T) {
	c, err := NewWithHTTPClient("https://host", nil)
	require.NoError(t, err)

	id, err := c.FileIDFromURL("https://docs.example.com/document/d/" + fileID + "/edit#heading=h")
	require.NoError(t, err)
	assert.Equal(t, fileID, id)

	id, err = c.FileIDFromURL("https://drive.example.com/open?id=abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", id)

	_, err = c.FileIDFromURL("not a url")
	assert.Error(t, err)
	_, err = c.FileIDFromURL("https://docs.example.com/document/")
	assert.Error(t, err)
}

func TestMetadataAndDownload(t *testing.T) {
	c := newTestClient(t, newHostServer(t))
	ctx := context.Background()

	meta, err := c.Metadata(ctx, fileID)
	require.NoError(t, err)
	assert.Equal(t, application.RemoteFile{ID: fileID, Name: "people.csv", Format: certificates.FormatCSV, Thumbnail: "https://thumb/1"}, meta)

	data, err := c.Download(ctx, meta)
	require.NoError(t, err)
	assert.Equal(t, "raw-bytes", string(data))
}

func TestNativeDocumentsAreExported(t *testing.T) {
	c := newTestClient(t, newHostServer(t))
	ctx := context.Background()

	meta, err := c.Metadata(ctx, "native1234567")
	require.NoError(t, err)
	assert.True(t, meta.Native)
	assert.Equal(t, certificates.FormatDOCX, meta.Format)
	assert.Equal(t, "Certificate.docx", meta.Name)

	data, err := c.Download(ctx, meta)
	require.NoError(t, err)
	assert.Equal(t, "exported", string(data))
}

func TestMetadataErrors(t *testing.T) {
	c := newTestClient(t, newHostServer(t))
	ctx := context.Background()

	_, err := c.Metadata(ctx, "missing1234567")
	assert.ErrorIs(t, err, certificates.ErrNotFound)

	_, err = c.Metadata(ctx, "private123456")
	assert.ErrorIs(t, err, certificates.ErrForbidden)

	_, err = c.Metadata(ctx, "image12345678")
	assert.ErrorIs(t, err, certificates.ErrValidation)

	_, err = c.Metadata(ctx, "")
	assert.ErrorIs(t, err, certificates.ErrValidation)
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(context.Background(), Config{BaseURL: "https://host"})
	assert.Error(t, err)
	_, err = NewWithHTTPClient("", nil)
	assert.Error(t, err)
}
