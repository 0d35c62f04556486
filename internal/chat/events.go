package chat

// Events the pipeline emits for one job. The JSON shapes are the wire payloads.

type FragmentEvent struct {
	JobID     string `json:"jobId"`
	SessionID string `json:"sessionId"`
	Fragment  string `json:"fragment"`
	Sequence  int    `json:"sequence"`
}

type CompleteEvent struct {
	JobID           string           `json:"jobId"`
	SessionID       string           `json:"sessionId"`
	FullText        string           `json:"fullText"`
	Model           string           `json:"model"`
	UpdatedSessions []SessionSummary `json:"updatedSessions,omitempty"`
}

type ScamNoticeEvent struct {
	JobID      string  `json:"jobId"`
	SessionID  string  `json:"sessionId"`
	Message    string  `json:"message"`
	IsScam     bool    `json:"isScam"`
	Confidence float64 `json:"confidence"`
}

type ErrorEvent struct {
	JobID   string `json:"jobId,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`

	// Err is the internal cause; the sink decides whether it reaches the wire.
	Err error `json:"-"`
}

// Sink receives a job's events in order. For one job it sees either fragments
// followed by one Complete or Error, or exactly one ScamNotice, or one Error.
type Sink interface {
	Fragment(FragmentEvent)
	Complete(CompleteEvent)
	ScamNotice(ScamNoticeEvent)
	Error(ErrorEvent)
}
