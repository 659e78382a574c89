package webhook

import "time"

// JobName is the queue job name of an accepted webhook.
const JobName = "process-webhook"

// RequestMetadata is what the ingestion endpoint saw of the caller.
type RequestMetadata struct {
	IP           string `json:"ip,omitempty"`
	UserAgent    string `json:"user_agent,omitempty"`
	ForwardedFor string `json:"forwarded_for,omitempty"`
	RealIP       string `json:"real_ip,omitempty"`
}

// Payload is the job payload of an accepted webhook. RawEvent holds the body
// exactly as received so the signature can be checked again by the worker.
type Payload struct {
	RawEvent   string          `json:"raw_event"`
	Signature  string          `json:"signature"`
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	ReceivedAt time.Time       `json:"received_at"`
	Request    RequestMetadata `json:"request_metadata"`
}

// ClientIP prefers the proxy supplied address over the socket address.
func (m RequestMetadata) ClientIP() string {
	switch {
	case m.RealIP != "":
		return m.RealIP
	case m.ForwardedFor != "":
		return m.ForwardedFor
	default:
		return m.IP
	}
}
