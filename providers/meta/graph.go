package meta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/goliatone/go-credentials/ratelimit"
)

const (
	maxGraphResponseBodyBytes = 1 << 20 // 1 MiB
	maxGraphPages             = 20
)

// GraphError is the error envelope the Graph API returns on failure.
type GraphError struct {
	Status  int
	Code    int
	Type    string
	Message string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return fmt.Sprintf("meta: graph request failed (%d)", e.Status)
	}
	return fmt.Sprintf("meta: graph request failed (%d, code %d): %s", e.Status, e.Code, e.Message)
}

type graphErrorPayload struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

type graphPaging struct {
	Next string `json:"next"`
}

// get issues a paced GET against a Graph path relative to the versioned base.
// The token travels in the Authorization header, never in the query.
func (p *Provider) get(ctx context.Context, path string, token string, params url.Values, out any) error {
	endpoint := p.graphBaseURL() + p.versionPrefix() + "/" + strings.TrimLeft(path, "/")
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	return p.getURL(ctx, endpoint, token, out)
}

func (p *Provider) getURL(ctx context.Context, endpoint string, token string, out any) error {
	key := p.throttleKey()
	if err := p.throttle.BeforeCall(ctx, key); err != nil {
		return err
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("meta: build graph request: invalid url")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := p.httpClient.Do(req)
	if err != nil {
		return transportError(req.URL, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxGraphResponseBodyBytes+1))
	if err != nil {
		return fmt.Errorf("meta: read graph response: %w", err)
	}
	if int64(len(body)) > maxGraphResponseBodyBytes {
		return fmt.Errorf("meta: graph response exceeds %d bytes", maxGraphResponseBodyBytes)
	}

	res := ratelimit.ResponseMeta{StatusCode: response.StatusCode, Headers: response.Header}
	var graphErr *GraphError
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		graphErr = decodeGraphError(response.StatusCode, body)
		res.ErrorCode = graphErr.Code
	}
	if err := p.throttle.AfterCall(ctx, key, res); err != nil {
		p.logger.Warn("meta: record throttle state failed", "error", err)
	}
	if graphErr != nil {
		return graphErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("meta: decode graph response: %w", err)
	}
	return nil
}

// transportError drops the request URL that net/http embeds in its errors.
// Graph queries carry tokens and the app secret.
func transportError(target *url.URL, err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	return fmt.Errorf("meta: graph request %s %s: %w", target.Host, target.Path, err)
}

func (p *Provider) throttleKey() ratelimit.Key {
	return ratelimit.Key{ProviderID: ProviderID, BucketKey: "app:" + p.cfg.AppID}
}

func decodeGraphError(status int, body []byte) *GraphError {
	graphErr := &GraphError{Status: status}
	var payload graphErrorPayload
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != nil {
		graphErr.Code = payload.Error.Code
		graphErr.Type = payload.Error.Type
		graphErr.Message = payload.Error.Message
	}
	return graphErr
}

// listAll walks a paged edge and collects every item. Cursors are only
// followed while they stay on the configured Graph host.
func listAll[T any](ctx context.Context, p *Provider, path string, token string, params url.Values) ([]T, error) {
	var page struct {
		Data   []T         `json:"data"`
		Paging graphPaging `json:"paging"`
	}
	if err := p.get(ctx, path, token, params, &page); err != nil {
		return nil, err
	}
	items := append([]T(nil), page.Data...)
	for i := 1; i < maxGraphPages && page.Paging.Next != ""; i++ {
		next := page.Paging.Next
		if err := p.checkPagingURL(next); err != nil {
			return nil, err
		}
		page.Data = nil
		page.Paging = graphPaging{}
		if err := p.getURL(ctx, next, token, &page); err != nil {
			return nil, err
		}
		items = append(items, page.Data...)
	}
	return items, nil
}

func (p *Provider) checkPagingURL(next string) error {
	base, err := url.Parse(p.graphBaseURL())
	if err != nil {
		return fmt.Errorf("meta: parse graph base url: %w", err)
	}
	target, err := url.Parse(next)
	if err != nil {
		return fmt.Errorf("meta: invalid paging cursor url")
	}
	if !strings.EqualFold(target.Scheme, base.Scheme) || !strings.EqualFold(target.Host, base.Host) {
		return fmt.Errorf("meta: paging cursor points off the graph host %q", target.Host)
	}
	return nil
}

func fieldParams(fields string) url.Values {
	params := url.Values{}
	if fields != "" {
		params.Set("fields", fields)
	}
	return params
}
