package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Profile is the subset of a member profile the scheduling core needs:
// enough to validate participants and address calendar invites.
type Profile struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Verified    bool   `json:"verified"`
}

var ErrNotFound = errors.New("profile not found")

// Provider resolves member profiles by id. The HTTP implementation talks to
// the profile service; tests substitute a fake.
type Provider interface {
	GetProfile(ctx context.Context, id string) (*Profile, error)
}

type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

func NewHTTPProvider(baseURL string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (p *HTTPProvider) GetProfile(ctx context.Context, id string) (*Profile, error) {
	url := fmt.Sprintf("%s/api/v1/profiles/%s", p.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile lookup: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("profile lookup: unexpected status %d", resp.StatusCode)
	}

	var out Profile
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("profile lookup: decode: %w", err)
	}
	return &out, nil
}
