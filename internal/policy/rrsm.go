package policy

import (
	"fmt"
	"math"
	"time"

	"github.com/seismo-tools/finderd/internal/types"
)

// RRSM follow-up schedule, minutes from origin.
var rrsmSchedule = []int{0, 5, 15, 60, 180, 360, 1440, 2880}

const (
	rrsmDriftMinutes = 1
	rrsmGraceMinutes = 15
	rrsmMaxRetries   = 3
)

// RRSMPolicy queries the RRSM peak-motion service at fixed elapsed times
// from origin, with a one-minute drift window around each scheduled delay.
type RRSMPolicy struct {
	schedule []int
	now      func() time.Time
}

// NewRRSMPolicy returns the production RRSM schedule.
func NewRRSMPolicy() *RRSMPolicy {
	return &RRSMPolicy{schedule: rrsmSchedule, now: time.Now}
}

func (p *RRSMPolicy) ServiceName() string    { return types.ServiceRRSM }
func (p *RRSMPolicy) ScheduleMinutes() []int { return append([]int(nil), p.schedule...) }

func (p *RRSMPolicy) maxDelay() int {
	return p.schedule[len(p.schedule)-1]
}

// ShouldQuery is true iff the elapsed time since origin lies within the
// drift tolerance of a scheduled delay and has not passed the final window.
func (p *RRSMPolicy) ShouldQuery(meta *types.ScheduledQuery) (bool, string) {
	elapsed := elapsedMinutes(meta.OriginTime, p.now())
	if elapsed < 0 {
		return false, "negative elapsed time"
	}
	if elapsed > float64(p.maxDelay()+rrsmGraceMinutes) {
		return false, "expired beyond final schedule plus grace"
	}
	for _, scheduled := range p.schedule {
		if math.Abs(elapsed-float64(scheduled)) <= rrsmDriftMinutes {
			return true, fmt.Sprintf("within drift of t+%d min", scheduled)
		}
	}
	return false, "not within drift of any scheduled delay"
}

func (p *RRSMPolicy) NextDelayMinutes(meta *types.ScheduledQuery) *int {
	elapsed := elapsedMinutes(meta.OriginTime, p.now())
	for _, scheduled := range p.schedule {
		if elapsed < float64(scheduled) {
			return types.IntPtr(scheduled)
		}
	}
	return nil
}

func (p *RRSMPolicy) CurrentDelayMinutes(meta *types.ScheduledQuery) int {
	elapsed := elapsedMinutes(meta.OriginTime, p.now())
	current := 0
	for _, scheduled := range p.schedule {
		if float64(scheduled) <= elapsed {
			current = scheduled
		}
	}
	return current
}

func (p *RRSMPolicy) IsTerminal(meta *types.ScheduledQuery) bool {
	deadline := meta.OriginTime.Add(time.Duration(p.maxDelay()+rrsmGraceMinutes) * time.Minute)
	return p.now().After(deadline)
}

func (p *RRSMPolicy) ShouldRetryOnFailure(meta *types.ScheduledQuery) bool {
	return meta.RetryCount < rrsmMaxRetries
}
