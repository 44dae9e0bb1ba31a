package dochost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"certgen-cloud/internal/certificates/application"
	certificates "certgen-cloud/internal/certificates/domain"
)

const maxDownloadBytes = 64 << 20

// native document types and the format each is exported as.
var nativeExports = map[string]certificates.FileFormat{
	"application/vnd.google-apps.document":     certificates.FormatDOCX,
	"application/vnd.google-apps.presentation": certificates.FormatPPTX,
	"application/vnd.google-apps.spreadsheet":  certificates.FormatXLSX,
}

var pathID = regexp.MustCompile(`/d/([A-Za-z0-9_-]{10,})`)

// Config configures the document host client.
type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Timeout      time.Duration
}

// Client is a minimal REST client for the remote document host.
type Client struct {
	baseURL string
	client  *http.Client
}

// New builds a client authenticated with the OAuth2 client-credentials flow.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.TokenURL == "" || cfg.ClientID == "" {
		return nil, errors.New("dochost: token url and client id are required")
	}
	creds := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	httpClient := creds.Client(ctx)
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient.Timeout = timeout
	return NewWithHTTPClient(cfg.BaseURL, httpClient)
}

// NewWithHTTPClient builds a client on an already authenticated http client.
func NewWithHTTPClient(baseURL string, httpClient *http.Client) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("dochost: empty base url")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), client: httpClient}, nil
}

// FileIDFromURL extracts the file id from a document link such as
// https://docs.example.com/document/d/<id>/edit or ...?id=<id>.
func (c *Client) FileIDFromURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("dochost: not a document url: %q", rawURL)
	}
	if m := pathID.FindStringSubmatch(u.Path); m != nil {
		return m[1], nil
	}
	if id := u.Query().Get("id"); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("dochost: no file id in %q", rawURL)
}

type fileResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	MimeType      string `json:"mimeType"`
	ThumbnailLink string `json:"thumbnailLink"`
}

// Metadata reads name, format and thumbnail of a remote file.
func (c *Client) Metadata(ctx context.Context, fileID string) (application.RemoteFile, error) {
	if fileID == "" {
		return application.RemoteFile{}, certificates.Validation("remote file id required")
	}
	query := url.Values{"fields": {"id,name,mimeType,thumbnailLink"}}
	resp, err := c.get(ctx, fileID, "/files/"+url.PathEscape(fileID)+"?"+query.Encode())
	if err != nil {
		return application.RemoteFile{}, err
	}
	defer resp.Body.Close()
	var file fileResponse
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return application.RemoteFile{}, fmt.Errorf("dochost: decode metadata %s: %w", fileID, err)
	}
	if file.ID == "" {
		file.ID = fileID
	}

	remote := application.RemoteFile{ID: file.ID, Name: file.Name, Thumbnail: file.ThumbnailLink}
	if format, ok := nativeExports[file.MimeType]; ok {
		remote.Format = format
		remote.Native = true
		if path.Ext(remote.Name) == "" {
			remote.Name += "." + string(format)
		}
		return remote, nil
	}
	format, err := certificates.FormatFromContentType(file.MimeType)
	if err != nil {
		format, err = certificates.FormatFromFileName(file.Name)
		if err != nil {
			return application.RemoteFile{}, certificates.Validation("remote file %s has unsupported type %q", fileID, file.MimeType)
		}
	}
	remote.Format = format
	return remote, nil
}

// Download fetches the bytes of file, exporting native documents to their
// mapped office format.
func (c *Client) Download(ctx context.Context, file application.RemoteFile) ([]byte, error) {
	var endpoint string
	if file.Native {
		query := url.Values{"mimeType": {file.Format.ContentType()}}
		endpoint = "/files/" + url.PathEscape(file.ID) + "/export?" + query.Encode()
	} else {
		endpoint = "/files/" + url.PathEscape(file.ID) + "?alt=media"
	}
	resp, err := c.get(ctx, file.ID, endpoint)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("dochost: read %s: %w", file.ID, err)
	}
	if len(data) > maxDownloadBytes {
		return nil, certificates.Validation("remote file %s is too large", file.ID)
	}
	return data, nil
}

func (c *Client) get(ctx context.Context, fileID, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dochost: request %s: %w", fileID, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, certificates.NotFound("remote file %s not found", fileID)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, certificates.Forbidden("document host denied access to %s", fileID)
	case resp.StatusCode >= 300:
		resp.Body.Close()
		return nil, fmt.Errorf("dochost: http %d for %s", resp.StatusCode, fileID)
	}
	return resp, nil
}
