package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestNodeServer(t *testing.T, primary bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/system/is_healthy", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]bool{"healthy": true})
	})
	mux.HandleFunc("/api/system/is_primary", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]bool{"primary": primary})
	})
	mux.HandleFunc("/api/job/setup", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(JobItem{ID: "job-000001"})
	})
	mux.HandleFunc("/api/job/trigger", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/job/results/job-000001", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(JobItem{ID: "job-000001", Finished: true, MediaIDs: []string{"media-1"}})
	})
	return httptest.NewServer(mux)
}

func TestCameraNodeStatusAndPrimary(t *testing.T) {
	srv := newTestNodeServer(t, true)
	defer srv.Close()

	node := NewCameraNode(NodeConfig{Description: "test", BaseURL: srv.URL})
	ctx := context.Background()

	healthy, err := node.IsHealthy(ctx)
	if err != nil || !healthy {
		t.Fatalf("IsHealthy() = %v, %v, want true, nil", healthy, err)
	}

	primary, err := node.IsPrimary(ctx)
	if err != nil || !primary {
		t.Fatalf("IsPrimary() = %v, %v, want true, nil", primary, err)
	}

	status := node.GetNodeStatus(ctx)
	if status.Status != "OK" || !status.CanConnect || !status.IsPrimary {
		t.Errorf("GetNodeStatus() = %+v, want OK/connected/primary", status)
	}
}

func TestCameraNodeJobLifecycle(t *testing.T) {
	srv := newTestNodeServer(t, true)
	defer srv.Close()

	node := NewCameraNode(NodeConfig{BaseURL: srv.URL})
	ctx := context.Background()

	item, err := node.JobSetup(ctx, JobRequest{NumberCaptures: 3})
	if err != nil {
		t.Fatalf("JobSetup: %v", err)
	}
	if item.ID != "job-000001" {
		t.Errorf("JobSetup ID = %q, want job-000001", item.ID)
	}

	if err := node.JobTrigger(ctx); err != nil {
		t.Fatalf("JobTrigger: %v", err)
	}

	results, err := node.JobResults(ctx, item.ID)
	if err != nil {
		t.Fatalf("JobResults: %v", err)
	}
	if !results.Finished || len(results.MediaIDs) != 1 {
		t.Errorf("JobResults = %+v, want finished with 1 media item", results)
	}
}

func TestCameraPoolIdentifiesExactlyOnePrimary(t *testing.T) {
	primarySrv := newTestNodeServer(t, true)
	defer primarySrv.Close()
	secondarySrv := newTestNodeServer(t, false)
	defer secondarySrv.Close()

	pool := NewCameraPool(PoolConfig{}, []*CameraNode{
		NewCameraNode(NodeConfig{BaseURL: secondarySrv.URL}),
		NewCameraNode(NodeConfig{BaseURL: primarySrv.URL}),
	})

	ctx := context.Background()
	if err := pool.TriggerPool(ctx); err != nil {
		t.Fatalf("TriggerPool: %v", err)
	}
}

func TestCameraPoolRejectsAmbiguousPrimary(t *testing.T) {
	srvA := newTestNodeServer(t, true)
	defer srvA.Close()
	srvB := newTestNodeServer(t, true)
	defer srvB.Close()

	pool := NewCameraPool(PoolConfig{}, []*CameraNode{
		NewCameraNode(NodeConfig{BaseURL: srvA.URL}),
		NewCameraNode(NodeConfig{BaseURL: srvB.URL}),
	})

	ctx := context.Background()
	if err := pool.TriggerPool(ctx); err == nil {
		t.Error("TriggerPool() with two primaries should fail")
	}
}

func TestCameraPoolSetupAndTrigger(t *testing.T) {
	srv := newTestNodeServer(t, true)
	defer srv.Close()

	pool := NewCameraPool(PoolConfig{}, []*CameraNode{
		NewCameraNode(NodeConfig{BaseURL: srv.URL}),
	})

	ctx := context.Background()
	item, err := pool.SetupAndTriggerPool(ctx, PoolJobRequest{NumberCaptures: 2})
	if err != nil {
		t.Fatalf("SetupAndTriggerPool: %v", err)
	}
	if len(item.NodeIDs) != 1 || item.NodeIDs[0] != "job-000001" {
		t.Errorf("SetupAndTriggerPool NodeIDs = %v, want [job-000001]", item.NodeIDs)
	}
}
