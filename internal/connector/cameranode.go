// Package connector is the control-plane client a coordinator process
// uses to drive a pool of acquisition nodes over HTTP: setting up jobs,
// pulsing the primary node's trigger, and pulling results/media back.
// It is the Go counterpart of the teacher lineage's CameraNode/CameraPool
// client, written in the teacher lineage's HTTP camera client idiom.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// NodeConfig describes how to reach one acquisition node.
type NodeConfig struct {
	Description string
	BaseURL     string
	Timeout     time.Duration
}

// JobRequest mirrors jobqueue.JobRequest for the wire.
type JobRequest struct {
	NumberCaptures int `json:"number_captures"`
}

// JobItem mirrors jobqueue.JobItem for the wire.
type JobItem struct {
	ID       string   `json:"id"`
	Finished bool     `json:"finished"`
	MediaIDs []string `json:"mediaitem_ids"`
}

// NodeStatus is a best-effort summary used for CLI/status listings; it
// never returns an error itself, matching the teacher lineage's
// "covers runtime errors so CLI output looks nice" CameraNode.get_node_status.
type NodeStatus struct {
	Description string
	CanConnect  bool
	IsHealthy   bool
	IsPrimary   bool
	Status      string
}

// CameraNode is an HTTP client bound to a single acquisition node.
type CameraNode struct {
	cfg    NodeConfig
	client *http.Client
}

// NewCameraNode builds a client for one node.
func NewCameraNode(cfg NodeConfig) *CameraNode {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &CameraNode{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

// GetNodeStatus reports connectivity/health/role without returning an
// error, for use in human-facing pool listings.
func (n *CameraNode) GetNodeStatus(ctx context.Context) NodeStatus {
	out := NodeStatus{Description: n.cfg.Description}

	healthy, err := n.IsHealthy(ctx)
	if err != nil {
		out.Status = fmt.Sprintf("error: %v", err)
		return out
	}
	out.CanConnect = true
	out.IsHealthy = healthy

	primary, err := n.IsPrimary(ctx)
	if err != nil {
		out.Status = fmt.Sprintf("error: %v", err)
		return out
	}
	out.IsPrimary = primary
	out.Status = "OK"
	return out
}

// IsHealthy calls GET /api/system/is_healthy and reports true for a
// body whose status is "healthy" (or that carries healthy: true).
func (n *CameraNode) IsHealthy(ctx context.Context) (bool, error) {
	var body struct {
		Healthy bool   `json:"healthy"`
		Status  string `json:"status"`
	}
	if err := n.getJSON(ctx, "system/is_healthy", &body); err != nil {
		return false, err
	}
	return body.Healthy || body.Status == "healthy", nil
}

// IsPrimary calls GET /api/system/is_primary.
func (n *CameraNode) IsPrimary(ctx context.Context) (bool, error) {
	var body struct {
		Primary bool `json:"primary"`
	}
	if err := n.getJSON(ctx, "system/is_primary", &body); err != nil {
		return false, err
	}
	return body.Primary, nil
}

// CameraStill fetches a single still JPEG from the node.
func (n *CameraNode) CameraStill(ctx context.Context) ([]byte, error) {
	return n.getBytes(ctx, "camera/still")
}

// JobSetup calls POST /api/job/setup.
func (n *CameraNode) JobSetup(ctx context.Context, req JobRequest) (JobItem, error) {
	var item JobItem
	body, err := json.Marshal(req)
	if err != nil {
		return item, fmt.Errorf("marshal job request: %w", err)
	}
	err = n.postJSON(ctx, "job/setup", body, &item)
	return item, err
}

// JobTrigger calls GET /api/job/trigger. Mirrors the original's rule
// that only the primary node may be triggered; callers are expected to
// have confirmed IsPrimary beforehand (CameraPool enforces this).
func (n *CameraNode) JobTrigger(ctx context.Context) error {
	_, err := n.getBytesRaw(ctx, "job/trigger")
	return err
}

// JobReset calls GET /api/job/reset.
func (n *CameraNode) JobReset(ctx context.Context) error {
	_, err := n.getBytesRaw(ctx, "job/reset")
	return err
}

// JobResults calls GET /api/job/results/{id}.
func (n *CameraNode) JobResults(ctx context.Context, jobID string) (JobItem, error) {
	var item JobItem
	err := n.getJSON(ctx, "job/results/"+jobID, &item)
	return item, err
}

// DownloadMedia fetches one persisted image by media ID.
func (n *CameraNode) DownloadMedia(ctx context.Context, mediaID string) ([]byte, error) {
	return n.getBytes(ctx, "media/"+mediaID+"/download")
}

func (n *CameraNode) getJSON(ctx context.Context, path string, out any) error {
	data, err := n.getBytesRaw(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	return nil
}

func (n *CameraNode) getBytes(ctx context.Context, path string) ([]byte, error) {
	return n.getBytesRaw(ctx, path)
}

func (n *CameraNode) getBytesRaw(ctx context.Context, path string) ([]byte, error) {
	url := fmt.Sprintf("%s/api/%s", n.cfg.BaseURL, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request to %s: %w", path, err)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", path, err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("request %s: status %d", path, resp.StatusCode)
	}
	return data, nil
}

func (n *CameraNode) postJSON(ctx context.Context, path string, body []byte, out any) error {
	url := fmt.Sprintf("%s/api/%s", n.cfg.BaseURL, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request to %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response from %s: %w", path, err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("request %s: status %d", path, resp.StatusCode)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response from %s: %w", path, err)
		}
	}
	return nil
}
