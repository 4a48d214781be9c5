package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// UserDirectory is the host's user registry.
type UserDirectory interface {
	ListUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, id string) (User, bool, error)
}

// ResourceDirectory enumerates the host's protectable objects of one type.
type ResourceDirectory interface {
	ListResources(ctx context.Context, t ResourceType) ([]Resource, error)
}

// HostClient talks to the host environment's directory endpoints over HTTP.
// Every payload passes through the shape adapter before leaving this package.
type HostClient struct {
	baseURL string
	secret  string
	http    *http.Client
}

// NewHostClient creates a client for the host directory API. The secret is
// sent as X-Permhub-Host on every request.
func NewHostClient(baseURL, secret string, timeout time.Duration) *HostClient {
	return &HostClient{
		baseURL: baseURL,
		secret:  secret,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *HostClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Permhub-Host", c.secret)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("host request %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return errHostNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("host request %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode host response %s: %w", path, err)
	}
	return nil
}

var errHostNotFound = fmt.Errorf("host: not found")

// ListUsers fetches all non-system users from the host.
func (c *HostClient) ListUsers(ctx context.Context) ([]User, error) {
	var raw []map[string]any
	if err := c.getJSON(ctx, "/users", &raw); err != nil {
		return nil, err
	}
	users := make([]User, 0, len(raw))
	for _, r := range raw {
		u, err := NormalizeUser(r)
		if err != nil {
			continue // one bad record must not hide the rest
		}
		users = append(users, u)
	}
	return users, nil
}

// GetUser fetches a single user. The second return is false when the host
// does not know the id.
func (c *HostClient) GetUser(ctx context.Context, id string) (User, bool, error) {
	var raw map[string]any
	err := c.getJSON(ctx, "/users/"+id, &raw)
	if err == errHostNotFound {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, err
	}
	u, err := NormalizeUser(raw)
	if err != nil {
		return User{}, false, err
	}
	return u, true, nil
}

// ListResources fetches the authoritative current set for one resource type.
func (c *HostClient) ListResources(ctx context.Context, t ResourceType) ([]Resource, error) {
	var raw []map[string]any
	if err := c.getJSON(ctx, "/"+string(t)+"s", &raw); err != nil {
		return nil, err
	}
	resources := make([]Resource, 0, len(raw))
	for _, r := range raw {
		res, err := NormalizeResource(t, r)
		if err != nil {
			continue
		}
		resources = append(resources, res)
	}
	return resources, nil
}
