package health

// Status values of a Status.
const (
	// StatusHealthy indicates the component is fully operational.
	StatusHealthy = "healthy"

	// StatusDegraded indicates the component answers but is impaired.
	StatusDegraded = "degraded"

	// StatusUnhealthy indicates the component is not operational.
	StatusUnhealthy = "unhealthy"
)

// Status is the result of one health check.
type Status struct {
	// Name identifies the check, e.g. "store" or "snapshot-dir".
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Status is one of StatusHealthy, StatusDegraded or StatusUnhealthy.
	Status string `json:"status" yaml:"status"`

	// Message is a human-readable description of the result.
	Message string `json:"message,omitempty" yaml:"message,omitempty"`

	// Details carries diagnostic context such as the underlying error.
	Details map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
}

// IsHealthy returns true if the status is StatusHealthy.
func (s Status) IsHealthy() bool {
	return s.Status == StatusHealthy
}

// IsDegraded returns true if the status is StatusDegraded.
func (s Status) IsDegraded() bool {
	return s.Status == StatusDegraded
}

// IsUnhealthy returns true if the status is StatusUnhealthy.
func (s Status) IsUnhealthy() bool {
	return s.Status == StatusUnhealthy
}

// Healthy returns a healthy status.
func Healthy(name, message string) Status {
	return Status{Name: name, Status: StatusHealthy, Message: message}
}

// Degraded returns a degraded status.
func Degraded(name, message string, details map[string]any) Status {
	return Status{Name: name, Status: StatusDegraded, Message: message, Details: details}
}

// Unhealthy returns an unhealthy status.
func Unhealthy(name, message string, details map[string]any) Status {
	return Status{Name: name, Status: StatusUnhealthy, Message: message, Details: details}
}
