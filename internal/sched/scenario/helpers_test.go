// Package scenario exercises the scheduler's subsystems wired together
// against a real (miniredis-backed) Redis instance, one test per S1-S6.
package scenario

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredislib "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/xlatesched/internal/sched/dispatcher"
	"github.com/MrWong99/xlatesched/internal/sched/model"
	"github.com/MrWong99/xlatesched/internal/sched/registry"
	"github.com/MrWong99/xlatesched/internal/sched/routing"
)

// stubSender records job_cancel sends and job_timeout notifications instead
// of talking to real node/session WebSocket connections.
type stubSender struct {
	cancels []string
	failed  []string
}

func (s *stubSender) SendJobCancel(_ context.Context, nodeID, jobID, reason string) error {
	s.cancels = append(s.cancels, nodeID+"/"+jobID+"/"+reason)
	return nil
}

func (s *stubSender) SendJobFailed(_ context.Context, sessionID, jobID, code string) error {
	s.failed = append(s.failed, sessionID+"/"+jobID+"/"+code)
	return nil
}

// harness wires one instance's registry, pool manager, selector, routing
// runtime and dispatcher against a shared miniredis.
type harness struct {
	t        *testing.T
	redis    *miniredis.Miniredis
	client   *goredislib.Client
	registry *registry.Registry
	pools    *registry.PoolManager
	selector *registry.Selector
	rt       *routing.Runtime
	locker   *routing.Locker
	sender   *stubSender
	disp     *dispatcher.Dispatcher
}

func newHarness(t *testing.T, instanceID string, mr *miniredis.Miniredis) *harness {
	t.Helper()
	cfg := dispatcher.DefaultConfig()
	cfg.ScanInterval = 10 * time.Millisecond
	return newHarnessWithConfig(t, instanceID, mr, cfg)
}

func newHarnessWithConfig(t *testing.T, instanceID string, mr *miniredis.Miniredis, cfg dispatcher.Config) *harness {
	t.Helper()

	client := goredislib.NewClient(&goredislib.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	rt := routing.New(routing.DefaultConfig(instanceID), client)
	locker := routing.NewLocker(client)
	require.NoError(t, rt.EnsureInboxGroup(context.Background()))

	reg := registry.New(registry.DefaultConfig())
	pools := registry.NewPoolManager(registry.DefaultPoolConfig())
	sel := registry.NewSelector(registry.DefaultSelectorConfig(), reg, pools, 64)

	sender := &stubSender{}
	disp, err := dispatcher.New(cfg, reg, sel, pools, rt, locker, sender, sender)
	require.NoError(t, err)

	return &harness{
		t: t, redis: mr, client: client,
		registry: reg, pools: pools, selector: sel,
		rt: rt, locker: locker, sender: sender, disp: disp,
	}
}

// registerNode registers nodeID, drives it through HealthCheckCount
// heartbeats until Ready, and rebuilds the pool table so far.
func (h *harness) registerNode(nodeID string, langs []string, maxConcurrent int) *model.Node {
	h.t.Helper()
	var pairs []model.LangPair
	for _, src := range langs {
		for _, tgt := range langs {
			if src != tgt {
				pairs = append(pairs, model.LangPair{Src: src, Tgt: tgt})
			}
		}
	}
	n, err := h.registry.Register(registry.RegisterDecl{
		NodeID:            nodeID,
		Hardware:          model.Hardware{Cores: 8, GPUs: 1},
		MaxConcurrentJobs: maxConcurrent,
		AcceptPublicJobs:  true,
		Services: []model.InstalledService{
			{Type: model.ServiceASR, Status: model.ServiceRunning},
			{Type: model.ServiceNMT, Status: model.ServiceRunning},
			{Type: model.ServiceTTS, Status: model.ServiceRunning},
		},
		Languages: model.LanguageCapabilities{SemanticLanguages: langs, SupportedLanguagePairs: pairs},
	})
	require.NoError(h.t, err)
	for i := 0; i < registry.DefaultConfig().HealthCheckCount; i++ {
		require.NoError(h.t, h.registry.Heartbeat(nodeID, registry.HeartbeatUpdate{CurrentJobs: 0}))
	}
	require.True(h.t, h.registry.IsAvailable(nodeID))
	h.pools.Rebuild(h.registry.Snapshot())
	return h.registry.Node(nodeID)
}

// recordingJobCreator wraps a real *dispatcher.Dispatcher so a scenario test
// can observe every job it creates without needing a dispatcher-side query
// method, while still exercising the real create_job path end to end.
type recordingJobCreator struct {
	*dispatcher.Dispatcher
	mu   sync.Mutex
	jobs []*model.Job
}

func (r *recordingJobCreator) CreateJob(ctx context.Context, req dispatcher.CreateRequest) (*model.Job, error) {
	j, err := r.Dispatcher.CreateJob(ctx, req)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.jobs = append(r.jobs, j)
	r.mu.Unlock()
	return j, nil
}

func (r *recordingJobCreator) snapshot() []*model.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Job, len(r.jobs))
	copy(out, r.jobs)
	return out
}

func eventuallyJobStatus(t *testing.T, d *dispatcher.Dispatcher, jobID string, want model.JobStatus, timeout time.Duration) *model.Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var got *model.Job
	for time.Now().Before(deadline) {
		got = d.Lookup(jobID)
		if got != nil && got.Status == want {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %q never reached status %v, last seen %+v", jobID, want, got)
	return nil
}
