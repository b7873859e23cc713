package tui

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/chuahwb/ai-content-creation-sub005/web/api"
)

// HTTPClient talks to a running orchestrator's API
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a client against the given base URL
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Status fetches overall orchestrator status
func (c *HTTPClient) Status() (api.StatusResponse, error) {
	var status api.StatusResponse
	err := c.get("/api/status", &status)
	return status, err
}

// Runs fetches the run list, newest first
func (c *HTTPClient) Runs() ([]api.RunResponse, error) {
	var runs []api.RunResponse
	err := c.get("/api/runs", &runs)
	return runs, err
}

// Run fetches one run with its stage records
func (c *HTTPClient) Run(id string) (api.RunResponse, error) {
	var run api.RunResponse
	err := c.get("/api/runs/"+id, &run)
	return run, err
}

func (c *HTTPClient) get(path string, out any) error {
	resp, err := c.client.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
