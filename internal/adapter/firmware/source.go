// Package firmware downloads update images over HTTP.
package firmware

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/devkiraa/aura-smart-home/internal/core/domain"
	"github.com/devkiraa/aura-smart-home/internal/core/port"
)

type HTTPSource struct {
	http *http.Client
}

// NewHTTPSource bounds the wait for response headers. The body is not
// bounded here; the updater aborts stalled downloads itself.
func NewHTTPSource(headerTimeout time.Duration) *HTTPSource {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = headerTimeout
	return &HTTPSource{http: &http.Client{Transport: transport}}
}

func (s *HTTPSource) Open(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", domain.ErrConnectionLost, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("%w: firmware download returned %s", domain.ErrTransportUnavailable, resp.Status)
	}
	return resp.Body, resp.ContentLength, nil
}

// ensure interface compliance
var _ port.FirmwareSource = (*HTTPSource)(nil)
