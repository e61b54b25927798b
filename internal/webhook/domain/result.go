package domain

// Status is the tag returned to the gateway in every 200 response.
type Status string

const (
	StatusOK               Status = "ok"
	StatusIgnored          Status = "ignored"
	StatusAlreadyProcessed Status = "already_processed"
	StatusConfigError      Status = "config_error"
	StatusErrorLogged      Status = "error_logged"
)

// Request is one inbound delivery.
type Request struct {
	Body          []byte
	Signature     string
	EventIDHeader string
	SourceIP      string
}

// Result is the outcome of handling a delivery. Err carries the internal
// cause and is never sent to the gateway.
type Result struct {
	Status    Status
	EventID   string
	EventType string
	Err       error
}
