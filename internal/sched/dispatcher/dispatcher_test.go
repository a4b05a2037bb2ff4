package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredislib "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/xlatesched/internal/sched/model"
	"github.com/MrWong99/xlatesched/internal/sched/registry"
	"github.com/MrWong99/xlatesched/internal/sched/routing"
)

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

func newTestDispatcher(t *testing.T, maxConcurrentJobs int) (*Dispatcher, *registry.Registry, *stubSender) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredislib.NewClient(&goredislib.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	rt := routing.New(routing.DefaultConfig("test-instance"), client)
	locker := routing.NewLocker(client)

	reg := registry.New(registry.DefaultConfig())
	n, err := reg.Register(registry.RegisterDecl{
		NodeID:            "node-1",
		Hardware:          model.Hardware{Cores: 8, GPUs: 1},
		MaxConcurrentJobs: maxConcurrentJobs,
		AcceptPublicJobs:  true,
		Services: []model.InstalledService{
			{Type: model.ServiceASR, Status: model.ServiceRunning},
			{Type: model.ServiceNMT, Status: model.ServiceRunning},
			{Type: model.ServiceTTS, Status: model.ServiceRunning},
		},
		Languages: model.LanguageCapabilities{
			SemanticLanguages:      []string{"en", "zh"},
			SupportedLanguagePairs: []model.LangPair{{Src: "en", Tgt: "zh"}, {Src: "zh", Tgt: "en"}},
		},
	})
	require.NoError(t, err)
	for i := 0; i < registry.DefaultConfig().HealthCheckCount; i++ {
		require.NoError(t, reg.Heartbeat(n.NodeID, registry.HeartbeatUpdate{CurrentJobs: 0}))
	}
	require.True(t, reg.IsAvailable(n.NodeID))

	pools := registry.NewPoolManager(registry.DefaultPoolConfig())
	pools.Rebuild(reg.Snapshot())

	sel := registry.NewSelector(registry.DefaultSelectorConfig(), reg, pools, 64)

	sender := &stubSender{}
	cfg := DefaultConfig()
	cfg.ScanInterval = 10 * time.Millisecond
	d, err := New(cfg, reg, sel, pools, rt, locker, sender, sender)
	require.NoError(t, err)
	return d, reg, sender
}

func baseRequest() CreateRequest {
	return CreateRequest{
		SessionID:      "session-1",
		UtteranceIndex: 0,
		Languages:      model.Languages{Src: "en", Tgt: "zh"},
		Pipeline:       model.PipelineFlags{UseASR: true, UseNMT: true, UseTTS: true},
	}
}

func TestCreateJob_AssignsAvailableNode(t *testing.T) {
	d, _, _ := newTestDispatcher(t, 4)
	ctx := context.Background()

	job, err := d.CreateJob(ctx, baseRequest())
	require.NoError(t, err)
	require.Equal(t, model.JobAssigned, job.Status)
	require.Equal(t, "node-1", job.AssignedNodeID)
	require.EqualValues(t, 1, job.DispatchAttemptID)
}

func TestCreateJob_IdempotentOnRepeatedRequestID(t *testing.T) {
	d, _, _ := newTestDispatcher(t, 4)
	ctx := context.Background()

	req := baseRequest()
	req.RequestID = "fixed-request-id"

	first, err := d.CreateJob(ctx, req)
	require.NoError(t, err)

	second, err := d.CreateJob(ctx, req)
	require.NoError(t, err)
	require.Equal(t, first.JobID, second.JobID)
}

func TestCreateJob_NoAvailableNodeWhenCapacityExhausted(t *testing.T) {
	d, _, _ := newTestDispatcher(t, 1)
	ctx := context.Background()

	first, err := d.CreateJob(ctx, baseRequest())
	require.NoError(t, err)
	require.Equal(t, model.JobAssigned, first.Status)

	req := baseRequest()
	req.UtteranceIndex = 1
	second, err := d.CreateJob(ctx, req)
	require.NoError(t, err)
	require.Equal(t, model.JobPending, second.Status)
	require.Empty(t, second.AssignedNodeID)
}

func TestMarkDispatched_AdvancesFSMAndBinding(t *testing.T) {
	d, _, _ := newTestDispatcher(t, 4)
	ctx := context.Background()

	job, err := d.CreateJob(ctx, baseRequest())
	require.NoError(t, err)

	require.NoError(t, d.MarkDispatched(ctx, job.JobID, job.DispatchAttemptID))

	got := d.store.Get(job.JobID)
	require.True(t, got.DispatchedToNode)
	require.Equal(t, model.JobProcessing, got.Status)

	fsm, err := d.rt.GetFSM(ctx, job.JobID)
	require.NoError(t, err)
	require.Equal(t, model.FSMDispatched, fsm.State)
}

func TestMarkDispatched_StaleAttemptIsNoOp(t *testing.T) {
	d, _, _ := newTestDispatcher(t, 4)
	ctx := context.Background()

	job, err := d.CreateJob(ctx, baseRequest())
	require.NoError(t, err)

	require.NoError(t, d.MarkDispatched(ctx, job.JobID, job.DispatchAttemptID+1))

	got := d.store.Get(job.JobID)
	require.False(t, got.DispatchedToNode)
}

func TestAcceptResult_RejectsStaleAttemptAndTerminal(t *testing.T) {
	d, _, _ := newTestDispatcher(t, 4)
	ctx := context.Background()

	job, err := d.CreateJob(ctx, baseRequest())
	require.NoError(t, err)
	require.NoError(t, d.MarkDispatched(ctx, job.JobID, job.DispatchAttemptID))

	_, ok := d.AcceptResult(job.JobID, job.DispatchAttemptID+1)
	require.False(t, ok, "stale attempt_id must be rejected")

	got, ok := d.AcceptResult(job.JobID, job.DispatchAttemptID)
	require.True(t, ok)
	require.NotNil(t, got)

	require.NoError(t, d.Finish(ctx, job.JobID, true))
	_, ok = d.AcceptResult(job.JobID, job.DispatchAttemptID)
	require.False(t, ok, "terminal job must reject further results")
}

func TestFailover_RefusesTerminalJob(t *testing.T) {
	d, _, _ := newTestDispatcher(t, 4)
	ctx := context.Background()

	job, err := d.CreateJob(ctx, baseRequest())
	require.NoError(t, err)
	require.NoError(t, d.Finish(ctx, job.JobID, true))

	_, err = d.Failover(ctx, job.JobID, "node-2")
	require.Error(t, err)
}

func TestTimeoutScanner_FailsJobAfterBudgetExhausted(t *testing.T) {
	d, _, sender := newTestDispatcher(t, 4)
	d.cfg.FailoverMax = 0
	d.cfg.PendingTimeout = 0 // classify everything not-yet-dispatched as timed out immediately
	ctx := context.Background()

	job, err := d.CreateJob(ctx, baseRequest())
	require.NoError(t, err)
	d.store.Update(job.JobID, func(j *model.Job) { j.CreatedAt = time.Now().Add(-time.Hour) })

	d.scanOnce(ctx, nil)

	got := d.store.Get(job.JobID)
	require.Equal(t, model.JobFailed, got.Status)
	require.Empty(t, sender.cancels, "pending (never-dispatched) timeout must not send job_cancel")
	require.Equal(t, []string{"session-1/" + job.JobID + "/JOB_TIMEOUT"}, sender.failed,
		"exhausting the failover budget must notify the owning session of JOB_TIMEOUT")
}

func TestTimeoutScanner_InvokesOnFailoverAfterRedispatch(t *testing.T) {
	d, reg, _ := newTestDispatcher(t, 1)
	ctx := context.Background()

	n2, err := reg.Register(registry.RegisterDecl{
		NodeID:            "node-2",
		Hardware:          model.Hardware{Cores: 8, GPUs: 1},
		MaxConcurrentJobs: 1,
		AcceptPublicJobs:  true,
		Services: []model.InstalledService{
			{Type: model.ServiceASR, Status: model.ServiceRunning},
			{Type: model.ServiceNMT, Status: model.ServiceRunning},
			{Type: model.ServiceTTS, Status: model.ServiceRunning},
		},
		Languages: model.LanguageCapabilities{
			SemanticLanguages:      []string{"en", "zh"},
			SupportedLanguagePairs: []model.LangPair{{Src: "en", Tgt: "zh"}, {Src: "zh", Tgt: "en"}},
		},
	})
	require.NoError(t, err)
	for i := 0; i < registry.DefaultConfig().HealthCheckCount; i++ {
		require.NoError(t, reg.Heartbeat(n2.NodeID, registry.HeartbeatUpdate{CurrentJobs: 0}))
	}
	d.pools.Rebuild(reg.Snapshot())

	d.cfg.FailoverMax = 2
	d.cfg.JobTimeout = 0

	job, err := d.CreateJob(ctx, baseRequest())
	require.NoError(t, err)
	require.NoError(t, d.MarkDispatched(ctx, job.JobID, job.DispatchAttemptID))
	d.store.Update(job.JobID, func(j *model.Job) { j.DispatchedAt = time.Now().Add(-time.Hour) })

	var redispatched *model.Job
	d.scanOnce(ctx, func(_ context.Context, j *model.Job) error {
		redispatched = j
		return nil
	})

	require.NotNil(t, redispatched, "onFailover must be invoked after a successful redispatch")
	require.Equal(t, job.JobID, redispatched.JobID)
	require.NotEqual(t, job.AssignedNodeID, redispatched.AssignedNodeID)
}
