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

// EmbyClient 通过修改用户 Policy.EnabledFolders 控制受限媒体库
//
// Policy 接口是整体覆盖，所以先读出完整策略再写回，未知字段原样保留
type EmbyClient struct {
	baseURL   string
	token     string
	libraryID string
	client    *http.Client
}

func NewEmbyClient(cfg config.MediaServerConfig) *EmbyClient {
	return &EmbyClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		token:     cfg.Token,
		libraryID: cfg.LibraryID,
		client:    newHTTPClient(cfg.Timeout),
	}
}

type embyUser struct {
	Name   string                 `json:"Name"`
	Policy map[string]interface{} `json:"Policy"`
}

func (e *EmbyClient) do(ctx context.Context, op, method, path string, body interface{}, out interface{}) error {
	var payload []byte
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = raw
	}

	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("X-Emby-Token", e.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("emby %s 请求失败: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Server: "emby", Op: op, StatusCode: resp.StatusCode}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("emby %s 解析响应失败: %w", op, err)
		}
	}
	return nil
}

func (e *EmbyClient) getUser(ctx context.Context, externalID string) (*embyUser, error) {
	var user embyUser
	if err := e.do(ctx, "get-user", http.MethodGet, "/Users/"+url.PathEscape(externalID), nil, &user); err != nil {
		return nil, err
	}
	if user.Policy == nil {
		user.Policy = map[string]interface{}{}
	}
	return &user, nil
}

func (e *EmbyClient) updateFolders(ctx context.Context, externalID, op string, edit func([]string) []string) error {
	user, err := e.getUser(ctx, externalID)
	if err != nil {
		return err
	}

	var folders []string
	if raw, ok := user.Policy["EnabledFolders"].([]interface{}); ok {
		for _, f := range raw {
			if s, ok := f.(string); ok {
				folders = append(folders, s)
			}
		}
	}
	user.Policy["EnabledFolders"] = edit(folders)

	return e.do(ctx, op, http.MethodPost, "/Users/"+url.PathEscape(externalID)+"/Policy", user.Policy, nil)
}

func (e *EmbyClient) AddLibraryAccess(ctx context.Context, externalID string) error {
	return e.updateFolders(ctx, externalID, "add-library", func(folders []string) []string {
		for _, f := range folders {
			if f == e.libraryID {
				return folders
			}
		}
		return append(folders, e.libraryID)
	})
}

func (e *EmbyClient) RemoveLibraryAccess(ctx context.Context, externalID string) error {
	return e.updateFolders(ctx, externalID, "remove-library", func(folders []string) []string {
		out := folders[:0]
		for _, f := range folders {
			if f != e.libraryID {
				out = append(out, f)
			}
		}
		return out
	})
}

func (e *EmbyClient) GetUsername(ctx context.Context, externalID string) (string, error) {
	user, err := e.getUser(ctx, externalID)
	if err != nil {
		return "", err
	}
	return user.Name, nil
}
