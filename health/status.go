// Package health provides component health statuses and a thread-safe
// monitor aggregating them for the whole control system.
package health

import "time"

// Status values
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Status represents the health state of a module, loop, or the system
type Status struct {
	Component     string    `json:"component"`
	Healthy       bool      `json:"healthy"`
	Status        string    `json:"status"`
	Message       string    `json:"message"`
	Timestamp     time.Time `json:"timestamp"`
	LastHeartbeat time.Time `json:"last_heartbeat,omitempty"`
	SubStatuses   []Status  `json:"sub_statuses,omitempty"`
}

// NewHealthy creates a healthy status
func NewHealthy(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		Status:    StatusHealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewDegraded creates a degraded status
func NewDegraded(component, message string) Status {
	return Status{
		Component: component,
		Status:    StatusDegraded,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewUnhealthy creates an unhealthy status
func NewUnhealthy(component, message string) Status {
	return Status{
		Component: component,
		Status:    StatusUnhealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool { return s.Status == StatusHealthy }

// Aggregate combines sub-statuses into a system status: unhealthy if any
// sub-status is unhealthy, degraded if any is degraded, healthy otherwise.
func Aggregate(component string, subs []Status) Status {
	agg := NewHealthy(component, "all components healthy")
	agg.SubStatuses = subs

	degraded := 0
	unhealthy := 0
	for _, s := range subs {
		switch s.Status {
		case StatusDegraded:
			degraded++
		case StatusUnhealthy:
			unhealthy++
		}
	}

	switch {
	case unhealthy > 0:
		agg.Healthy = false
		agg.Status = StatusUnhealthy
		agg.Message = "one or more components unhealthy"
	case degraded > 0:
		agg.Healthy = false
		agg.Status = StatusDegraded
		agg.Message = "one or more components degraded"
	}
	return agg
}
