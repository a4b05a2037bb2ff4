package scenario

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/xlatesched/internal/sched/dispatcher"
	"github.com/MrWong99/xlatesched/internal/sched/model"
)

// S1 — one node registers with GPU and en/zh, a session sends one utterance,
// the job runs end to end and the node's result is attributed to it.
func TestS1_BasicDispatch(t *testing.T) {
	mr := miniredis.RunT(t)
	h := newHarness(t, "instance-a", mr)
	ctx := context.Background()

	h.registerNode("node-1", []string{"en", "zh"}, 4)

	job, err := h.disp.CreateJob(ctx, dispatcher.CreateRequest{
		SessionID:   "session-1",
		Languages:   model.Languages{Src: "en", Tgt: "zh"},
		Pipeline:    model.PipelineFlags{UseASR: true, UseNMT: true, UseTTS: true},
		Audio:       model.AudioPayload{Data: []byte("2s of audio"), Format: "pcm16", SampleRate: 16000},
		IsManualCut: true,
	})
	require.NoError(t, err)
	require.Equal(t, model.JobAssigned, job.Status)
	require.Equal(t, "node-1", job.AssignedNodeID)

	require.NoError(t, h.disp.MarkDispatched(ctx, job.JobID, job.DispatchAttemptID))
	eventuallyJobStatus(t, h.disp, job.JobID, model.JobProcessing, time.Second)

	got, ok := h.disp.AcceptResult(job.JobID, job.DispatchAttemptID)
	require.True(t, ok)
	require.Equal(t, job.JobID, got.JobID)

	require.NoError(t, h.disp.Finish(ctx, job.JobID, true))
	final := eventuallyJobStatus(t, h.disp, job.JobID, model.JobCompleted, time.Second)
	require.Equal(t, "session-1", final.SessionID)
}
