// Package policy defines the per-service query-time schedules that drive
// the follow-up scheduler. A policy decides whether a service should be
// queried now, what the next scheduled delay bucket is, and whether a
// failed run earns another attempt.
package policy

import (
	"time"

	"github.com/seismo-tools/finderd/internal/types"
)

// Policy describes one service's update cadence.
type Policy interface {
	// ServiceName returns the registry key for the policy.
	ServiceName() string

	// ScheduleMinutes returns the ordered delay buckets, in minutes from
	// origin. Empty for placeholder services.
	ScheduleMinutes() []int

	// ShouldQuery reports whether the service should be queried now, with
	// a human-readable reason either way.
	ShouldQuery(meta *types.ScheduledQuery) (bool, string)

	// NextDelayMinutes returns the smallest scheduled delay strictly
	// greater than the elapsed minutes since origin, or nil if none.
	NextDelayMinutes(meta *types.ScheduledQuery) *int

	// CurrentDelayMinutes returns the largest scheduled delay at or below
	// the elapsed minutes since origin, or 0 if none.
	CurrentDelayMinutes(meta *types.ScheduledQuery) int

	// IsTerminal reports whether the series has passed its final window.
	IsTerminal(meta *types.ScheduledQuery) bool

	// ShouldRetryOnFailure reports whether a failed run may be retried.
	ShouldRetryOnFailure(meta *types.ScheduledQuery) bool
}

// Registry is the process-wide immutable service → policy mapping.
type Registry map[string]Policy

// Lookup returns the policy for a service name, or nil.
func (r Registry) Lookup(service string) Policy {
	return r[service]
}

// DefaultRegistry wires the concrete RRSM schedule plus the ESM and EMSC
// placeholders, so the scheduler stays uniform across services.
func DefaultRegistry() Registry {
	return Registry{
		types.ServiceRRSM: NewRRSMPolicy(),
		types.ServiceESM:  placeholderPolicy{service: types.ServiceESM},
		types.ServiceEMSC: placeholderPolicy{service: types.ServiceEMSC},
	}
}

// placeholderPolicy preserves the Policy contract for services whose
// follow-up schedule is not implemented yet. It never schedules anything.
type placeholderPolicy struct {
	service string
}

func (p placeholderPolicy) ServiceName() string    { return p.service }
func (p placeholderPolicy) ScheduleMinutes() []int { return nil }

func (p placeholderPolicy) ShouldQuery(*types.ScheduledQuery) (bool, string) {
	return false, "placeholder policy: " + p.service + " querying not implemented"
}

func (p placeholderPolicy) NextDelayMinutes(*types.ScheduledQuery) *int { return nil }
func (p placeholderPolicy) CurrentDelayMinutes(*types.ScheduledQuery) int {
	return 0
}
func (p placeholderPolicy) IsTerminal(*types.ScheduledQuery) bool          { return true }
func (p placeholderPolicy) ShouldRetryOnFailure(*types.ScheduledQuery) bool { return false }

// elapsedMinutes computes minutes from origin to now.
func elapsedMinutes(origin, now time.Time) float64 {
	return now.Sub(origin).Minutes()
}
