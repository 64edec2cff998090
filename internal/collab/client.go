// Package collab is the client side of a document session. It keeps the
// editor's view of the room in sync with the presence channel, debounces
// writes back to the API, and resolves collaborator identities on demand.
package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"inkwell/api/internal/identity"
)

// DocumentPatch is a partial update. Nil fields are left untouched by the
// server.
type DocumentPatch struct {
	Title   *string         `json:"title,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

// APIClient talks to the document API on behalf of one authenticated user.
type APIClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewAPIClient(baseURL, token string) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *APIClient) UpdateDocument(ctx context.Context, docID string, patch DocumentPatch) error {
	return c.do(ctx, http.MethodPut, "/api/docs/"+docID, patch, nil)
}

func (c *APIClient) LookupUsers(ctx context.Context, userIDs []string) ([]identity.Profile, error) {
	body := struct {
		UserIDs []string `json:"userIds"`
	}{UserIDs: userIDs}
	var profiles []identity.Profile
	if err := c.do(ctx, http.MethodPost, "/api/docs/users/details", body, &profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Code != "" {
			return fmt.Errorf("%s %s: %s (%s)", method, path, apiErr.Message, apiErr.Code)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
