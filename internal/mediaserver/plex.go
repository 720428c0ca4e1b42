package mediaserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"mediacredits/internal/config"
)

// PlexClient 通过 plex.tv 的共享接口管理好友对受限媒体库的访问
type PlexClient struct {
	baseURL   string
	token     string
	libraryID string
	client    *http.Client
}

func NewPlexClient(cfg config.MediaServerConfig) *PlexClient {
	return &PlexClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		token:     cfg.Token,
		libraryID: cfg.LibraryID,
		client:    newHTTPClient(cfg.Timeout),
	}
}

func (p *PlexClient) do(ctx context.Context, op, method, path string, body interface{}, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("X-Plex-Token", p.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("plex %s 请求失败: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Server: "plex", Op: op, StatusCode: resp.StatusCode}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("plex %s 解析响应失败: %w", op, err)
		}
	}
	return nil
}

func (p *PlexClient) AddLibraryAccess(ctx context.Context, externalID string) error {
	body := map[string]interface{}{
		"invitedId":         externalID,
		"librarySectionIds": []string{p.libraryID},
	}
	return p.do(ctx, "add-library", http.MethodPost, "/api/v2/shared_servers", body, nil)
}

func (p *PlexClient) RemoveLibraryAccess(ctx context.Context, externalID string) error {
	path := fmt.Sprintf("/api/v2/shared_servers/%s?librarySectionId=%s",
		url.PathEscape(externalID), url.QueryEscape(p.libraryID))
	return p.do(ctx, "remove-library", http.MethodDelete, path, nil, nil)
}

func (p *PlexClient) GetUsername(ctx context.Context, externalID string) (string, error) {
	var user struct {
		Username string `json:"username"`
		Title    string `json:"title"`
	}
	if err := p.do(ctx, "get-user", http.MethodGet, "/api/v2/users/"+url.PathEscape(externalID), nil, &user); err != nil {
		return "", err
	}
	if user.Username != "" {
		return user.Username, nil
	}
	return user.Title, nil
}
