// Package compute is the cloud-provider adapter. Instance creation is
// asynchronous on the provider side: the create call answers quickly with a
// task id and the caller polls the task until the instance is ready.
package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"rackforge/internal/stories/provisioning"
)

type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	limiter    *rate.Limiter
	logger     *slog.Logger
}

type Config struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	RateRPS   float64
	RateBurst int
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	rps := cfg.RateRPS
	if rps <= 0 {
		rps = 5
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		logger:     logger,
	}
}

type instancePayload struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	IP     string `json:"main_ip"`
	Region string `json:"region"`
	Status string `json:"status"`
}

func (p *instancePayload) toModel() *provisioning.ProviderInstance {
	if p == nil {
		return nil
	}
	return &provisioning.ProviderInstance{
		ID:     p.ID,
		Name:   p.Name,
		IP:     p.IP,
		Region: p.Region,
		Ready:  p.Status == "active",
	}
}

type taskPayload struct {
	ID       string           `json:"id"`
	Status   string           `json:"status"`
	Error    string           `json:"error"`
	Instance *instancePayload `json:"instance"`
}

func (p taskPayload) toModel() *provisioning.ProviderTask {
	return &provisioning.ProviderTask{
		ID:       p.ID,
		Status:   p.Status,
		Error:    p.Error,
		Instance: p.Instance.toModel(),
	}
}

// CreateInstance issues the asynchronous create call. The order id travels as
// an instance tag so a lost response can be reconciled later.
func (c *Client) CreateInstance(ctx context.Context, params provisioning.CreateInstanceParams) (*provisioning.ProviderTask, error) {
	body, err := json.Marshal(map[string]interface{}{
		"plan":     params.PlanID,
		"image":    params.ImageID,
		"hostname": params.Hostname,
		"region":   params.Region,
		"tags":     []string{params.Tag},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Info("Creating instance",
		"plan", params.PlanID,
		"image", params.ImageID,
		"hostname", params.Hostname,
		"tag", params.Tag)

	var parsed taskPayload
	if err := c.do(ctx, http.MethodPost, "/v1/instances", body, &parsed); err != nil {
		return nil, err
	}
	return parsed.toModel(), nil
}

// GetTask fetches the state of an asynchronous provider task.
func (c *Client) GetTask(ctx context.Context, providerTaskID string) (*provisioning.ProviderTask, error) {
	var parsed taskPayload
	path := "/v1/tasks/" + url.PathEscape(providerTaskID)
	if err := c.do(ctx, http.MethodGet, path, nil, &parsed); err != nil {
		return nil, err
	}
	return parsed.toModel(), nil
}

// FindInstanceByTag returns the instance carrying the tag, or nil.
func (c *Client) FindInstanceByTag(ctx context.Context, tag string) (*provisioning.ProviderInstance, error) {
	var parsed struct {
		Instances []instancePayload `json:"instances"`
	}
	path := "/v1/instances?tag=" + url.QueryEscape(tag)
	if err := c.do(ctx, http.MethodGet, path, nil, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Instances) == 0 {
		return nil, nil
	}
	return parsed.Instances[0].toModel(), nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiting: %w", err)
	}

	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("provider answered %d for %s %s", resp.StatusCode, method, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}
