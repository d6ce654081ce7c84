// Package firestore reads configuration documents over the document store's
// REST interface.
package firestore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/devkiraa/aura-smart-home/internal/config"
	"github.com/devkiraa/aura-smart-home/internal/core/domain"
	"github.com/devkiraa/aura-smart-home/internal/core/port"

	"go.uber.org/zap"
)

const (
	DEFAULT_BASE_URL = "https://firestore.googleapis.com"

	// MAX_DOCUMENT_SIZE caps what is read from a single response.
	MAX_DOCUMENT_SIZE = 1 << 20
)

type DocumentClient struct {
	baseUrl   string
	projectId string
	apiKey    string
	http      *http.Client
	logger    *zap.Logger
}

func NewDocumentClient(cfg config.DocumentStoreConfig, timeout time.Duration, logger *zap.Logger) *DocumentClient {
	baseUrl := cfg.BaseUrl
	if baseUrl == "" {
		baseUrl = DEFAULT_BASE_URL
	}
	return &DocumentClient{
		baseUrl:   strings.TrimRight(baseUrl, "/"),
		projectId: cfg.ProjectId,
		apiKey:    cfg.ApiKey,
		http:      &http.Client{Timeout: timeout},
		logger:    logger.With(zap.String("component", "document_store")),
	}
}

func (c *DocumentClient) DocumentUrl(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	u := fmt.Sprintf("%s/v1/projects/%s/databases/(default)/documents/%s",
		c.baseUrl, url.PathEscape(c.projectId), strings.Join(segments, "/"))
	if c.apiKey != "" {
		u += "?key=" + url.QueryEscape(c.apiKey)
	}
	return u
}

// GetDocument returns the raw encoded document. A missing document is
// ErrDocumentNotFound; transport and server failures are ErrRemoteUnavailable.
func (c *DocumentClient) GetDocument(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.DocumentUrl(path), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, path)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: %s returned %s", domain.ErrRemoteUnavailable, path, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MAX_DOCUMENT_SIZE))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, err)
	}
	c.logger.Debug("document_store@get: fetched", zap.String("path", path), zap.Int("bytes", len(body)))
	return body, nil
}

// ensure interface compliance
var _ port.DocumentStore = (*DocumentClient)(nil)
