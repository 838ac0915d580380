package connector

import (
	"context"
	"fmt"
	"sync"
)

// PoolConfig configures a CameraPool.
type PoolConfig struct {
	// Sequential capture is not implemented, matching the teacher
	// lineage's CameraPool._create_nodejobs_from_pooljob.
	Sequential bool
}

// PoolJobRequest is what a caller asks the whole pool to do.
type PoolJobRequest struct {
	NumberCaptures int
	Sequential     bool
}

// PoolJobItem records which node job IDs belong to one pool-wide job.
type PoolJobItem struct {
	Request PoolJobRequest
	NodeIDs []string
}

// ErrWrongPrimaryCount is returned when the pool's nodes don't contain
// exactly one primary.
var ErrWrongPrimaryCount = fmt.Errorf("pool must have exactly one primary node")

// CameraPool fans a job out to every node in the cluster and pulses
// the primary node's trigger line once all nodes have armed.
type CameraPool struct {
	cfg   PoolConfig
	nodes []*CameraNode

	mu      sync.Mutex
	primary *CameraNode
	history []PoolJobItem
}

// NewCameraPool builds a pool over the given nodes.
func NewCameraPool(cfg PoolConfig, nodes []*CameraNode) *CameraPool {
	return &CameraPool{cfg: cfg, nodes: nodes}
}

// GetNodesStatus queries every node's status, tolerating individual
// node failures (each failure surfaces only in that node's Status field).
func (p *CameraPool) GetNodesStatus(ctx context.Context) []NodeStatus {
	out := make([]NodeStatus, len(p.nodes))
	var wg sync.WaitGroup
	for i, node := range p.nodes {
		wg.Add(1)
		go func(i int, node *CameraNode) {
			defer wg.Done()
			out[i] = node.GetNodeStatus(ctx)
		}(i, node)
	}
	wg.Wait()
	return out
}

// IsHealthy reports whether every node in the pool reports healthy.
func (p *CameraPool) IsHealthy(ctx context.Context) bool {
	for _, node := range p.nodes {
		healthy, err := node.IsHealthy(ctx)
		if err != nil || !healthy {
			return false
		}
	}
	return true
}

func (p *CameraPool) identifyPrimary(ctx context.Context) (*CameraNode, error) {
	var primaries []*CameraNode
	for _, node := range p.nodes {
		isPrimary, err := node.IsPrimary(ctx)
		if err == nil && isPrimary {
			primaries = append(primaries, node)
		}
	}
	if len(primaries) != 1 {
		return nil, fmt.Errorf("%w: found %d", ErrWrongPrimaryCount, len(primaries))
	}
	return primaries[0], nil
}

func (p *CameraPool) ensurePrimary(ctx context.Context) (*CameraNode, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.primary != nil {
		return p.primary, nil
	}
	primary, err := p.identifyPrimary(ctx)
	if err != nil {
		return nil, err
	}
	p.primary = primary
	return primary, nil
}

type nodeJobResult struct {
	item JobItem
	err  error
}

// SetupAndTriggerPool asks every node to arm a job, then pulses the
// primary node's trigger once all nodes have acknowledged setup.
func (p *CameraPool) SetupAndTriggerPool(ctx context.Context, req PoolJobRequest) (PoolJobItem, error) {
	if req.Sequential {
		return PoolJobItem{}, fmt.Errorf("sequential capture not implemented")
	}

	primary, err := p.ensurePrimary(ctx)
	if err != nil {
		return PoolJobItem{}, err
	}

	results := make([]nodeJobResult, len(p.nodes))
	var wg sync.WaitGroup
	for i, node := range p.nodes {
		wg.Add(1)
		go func(i int, node *CameraNode) {
			defer wg.Done()
			item, err := node.JobSetup(ctx, JobRequest{NumberCaptures: req.NumberCaptures})
			results[i] = nodeJobResult{item: item, err: err}
		}(i, node)
	}
	wg.Wait()

	nodeIDs := make([]string, 0, len(results))
	for _, r := range results {
		if r.err != nil {
			return PoolJobItem{}, fmt.Errorf("job setup failed on a node: %w", r.err)
		}
		nodeIDs = append(nodeIDs, r.item.ID)
	}

	if err := primary.JobTrigger(ctx); err != nil {
		return PoolJobItem{}, fmt.Errorf("trigger primary: %w", err)
	}

	item := PoolJobItem{Request: req, NodeIDs: nodeIDs}
	p.mu.Lock()
	p.history = append(p.history, item)
	p.mu.Unlock()
	return item, nil
}

// TriggerPool pulses the primary node's trigger without any setup,
// useful only when nodes run in standalone mode (each node synthesizes
// its own single-capture job on the raw trigger edge).
func (p *CameraPool) TriggerPool(ctx context.Context) error {
	primary, err := p.ensurePrimary(ctx)
	if err != nil {
		return err
	}
	return primary.JobTrigger(ctx)
}

// GetJobResults collects every node's results for a pool job.
func (p *CameraPool) GetJobResults(ctx context.Context, item PoolJobItem) ([]JobItem, error) {
	out := make([]JobItem, len(p.nodes))
	for i, node := range p.nodes {
		if i >= len(item.NodeIDs) {
			break
		}
		result, err := node.JobResults(ctx, item.NodeIDs[i])
		if err != nil {
			return nil, fmt.Errorf("job results from node %d: %w", i, err)
		}
		out[i] = result
	}
	return out, nil
}
