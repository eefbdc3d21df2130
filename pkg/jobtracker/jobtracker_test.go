package jobtracker_test

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyreel-server/pkg/jobtracker"
	"storyreel-server/shared/models"
)

type recordingNotifier struct {
	mu      sync.Mutex
	sent    []jobtracker.ProgressUpdate
	clients []string
}

func (n *recordingNotifier) SendToClient(clientID string, update jobtracker.ProgressUpdate) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.clients = append(n.clients, clientID)
	n.sent = append(n.sent, update)
}

func (n *recordingNotifier) Broadcast(update jobtracker.ProgressUpdate) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.clients = append(n.clients, "")
	n.sent = append(n.sent, update)
}

func TestTracker_ProgressIsMonotonic(t *testing.T) {
	tracker := jobtracker.New()
	jobID := uuid.New()
	tracker.Register(jobID, models.ArtifactPhoto, "client-1", 3)

	tracker.Update(jobID, models.JobStatusProcessing, 40, 1, "")
	tracker.Update(jobID, models.JobStatusProcessing, 20, 1, "")

	update, ok := tracker.Get(jobID)
	require.True(t, ok)
	assert.Equal(t, 40, update.Progress, "progress must never regress")
}

func TestTracker_ProgressCappedBelowTerminal(t *testing.T) {
	tracker := jobtracker.New()
	jobID := uuid.New()
	tracker.Register(jobID, models.ArtifactAudio, "", 1)

	tracker.Update(jobID, models.JobStatusProcessing, 150, 1, "almost done")

	update, _ := tracker.Get(jobID)
	assert.Equal(t, 99, update.Progress)

	tracker.Complete(jobID, []string{"https://cdn.example/audio.mp3"})
	update, _ = tracker.Get(jobID)
	assert.Equal(t, 100, update.Progress)
	assert.Equal(t, models.JobStatusCompleted, update.Status)
	assert.Equal(t, []string{"https://cdn.example/audio.mp3"}, update.ResultURLs)
}

func TestTracker_NotifierReceivesOwnerUpdates(t *testing.T) {
	tracker := jobtracker.New()
	notifier := &recordingNotifier{}
	tracker.SetNotifier(notifier)

	jobID := uuid.New()
	tracker.Register(jobID, models.ArtifactVideo, "client-7", 1)
	tracker.Update(jobID, models.JobStatusProcessing, 10, 0, "rendering")
	tracker.Fail(jobID, "all providers exhausted")

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Len(t, notifier.sent, 2)
	assert.Equal(t, []string{"client-7", "client-7"}, notifier.clients)
	assert.Equal(t, models.JobStatusFailed, notifier.sent[1].Status)
}

func TestTracker_CleanupRemovesOldTerminalJobs(t *testing.T) {
	tracker := jobtracker.New()
	done := uuid.New()
	active := uuid.New()
	tracker.Register(done, models.ArtifactPhoto, "", 1)
	tracker.Register(active, models.ArtifactPhoto, "", 1)
	tracker.Complete(done, nil)
	tracker.Update(active, models.JobStatusProcessing, 5, 0, "")

	time.Sleep(10 * time.Millisecond)
	tracker.Cleanup(time.Nanosecond)

	_, ok := tracker.Get(done)
	assert.False(t, ok, "terminal job should be cleaned up")
	_, ok = tracker.Get(active)
	assert.True(t, ok, "active job must survive cleanup")
}
