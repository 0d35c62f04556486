package chat

import (
	"strings"
	"sync"
)

type JobState string

const (
	JobPending   JobState = "pending"
	JobStreaming JobState = "streaming"
	JobCompleted JobState = "completed"
	JobErrored   JobState = "errored"
	JobCanceled  JobState = "canceled"
)

func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobErrored || s == JobCanceled
}

// StreamJob is the in-memory state of one inbound message. It is never
// persisted. Fragments are only appended by the goroutine running the job.
type StreamJob struct {
	ID        string
	SessionID string
	ConnID    string
	Content   string
	Model     string

	mu    sync.Mutex
	state JobState
	text  strings.Builder
	seq   int
}

func NewStreamJob(id, sessionID, connID, content, model string) *StreamJob {
	return &StreamJob{
		ID:        id,
		SessionID: sessionID,
		ConnID:    connID,
		Content:   content,
		Model:     model,
		state:     JobPending,
	}
}

func (j *StreamJob) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// setState moves the job forward; terminal states are sticky.
func (j *StreamJob) setState(s JobState) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return false
	}
	j.state = s
	return true
}

// appendFragment adds text to the accumulator and returns its sequence number.
func (j *StreamJob) appendFragment(text string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.text.WriteString(text)
	seq := j.seq
	j.seq++
	return seq
}

func (j *StreamJob) Text() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.text.String()
}
