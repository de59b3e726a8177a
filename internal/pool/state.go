package pool

import (
	"fmt"
	"strings"
	"time"
)

// State is the mutable bookkeeping of one pool. It is guarded by the owning
// pool's mutex and never shared between pools.
type State struct {
	// idle holds connections available for reuse, most recently returned first.
	idle []*PooledConn

	// active holds checked-out connections in checkout order; index 0 is the
	// longest-held one.
	active []*PooledConn

	requestCount            int64
	accumulatedRequestTime  time.Duration
	accumulatedCheckoutTime time.Duration

	claimedOverdueConnectionCount               int64
	accumulatedCheckoutTimeOfOverdueConnections time.Duration

	hadToWaitCount      int64
	accumulatedWaitTime time.Duration

	// badConnectionCount is pool-wide and never reset.
	badConnectionCount int64
}

// removeActive drops conn from the active list by identity.
func (s *State) removeActive(conn *PooledConn) bool {
	for i, c := range s.active {
		if c == conn {
			s.active = append(s.active[:i], s.active[i+1:]...)
			return true
		}
	}
	return false
}

// Stats is a point-in-time copy of a pool's state.
type Stats struct {
	Pool string

	Idle      int
	Active    int
	MaxActive int
	MaxIdle   int

	RequestCount                   int64
	AccumulatedRequestTime         time.Duration
	AccumulatedCheckoutTime        time.Duration
	ClaimedOverdueConnectionCount  int64
	AccumulatedOverdueCheckoutTime time.Duration
	HadToWaitCount                 int64
	AccumulatedWaitTime            time.Duration
	BadConnectionCount             int64
}

func (s *State) snapshot(pool string, maxActive, maxIdle int) Stats {
	return Stats{
		Pool:                           pool,
		Idle:                           len(s.idle),
		Active:                         len(s.active),
		MaxActive:                      maxActive,
		MaxIdle:                        maxIdle,
		RequestCount:                   s.requestCount,
		AccumulatedRequestTime:         s.accumulatedRequestTime,
		AccumulatedCheckoutTime:        s.accumulatedCheckoutTime,
		ClaimedOverdueConnectionCount:  s.claimedOverdueConnectionCount,
		AccumulatedOverdueCheckoutTime: s.accumulatedCheckoutTimeOfOverdueConnections,
		HadToWaitCount:                 s.hadToWaitCount,
		AccumulatedWaitTime:            s.accumulatedWaitTime,
		BadConnectionCount:             s.badConnectionCount,
	}
}

// AverageRequestTime is the mean time spent in Acquire per successful request.
func (s Stats) AverageRequestTime() time.Duration {
	return avg(s.AccumulatedRequestTime, s.RequestCount)
}

// AverageCheckoutTime is the mean time a connection was held before return.
func (s Stats) AverageCheckoutTime() time.Duration {
	return avg(s.AccumulatedCheckoutTime, s.RequestCount)
}

// AverageOverdueCheckoutTime is the mean hold time of reclaimed connections.
func (s Stats) AverageOverdueCheckoutTime() time.Duration {
	return avg(s.AccumulatedOverdueCheckoutTime, s.ClaimedOverdueConnectionCount)
}

// AverageWaitTime is the mean time a blocked request waited.
func (s Stats) AverageWaitTime() time.Duration {
	return avg(s.AccumulatedWaitTime, s.HadToWaitCount)
}

func avg(total time.Duration, n int64) time.Duration {
	if n == 0 {
		return 0
	}
	return total / time.Duration(n)
}

// String renders a multi-line report.
func (s Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "==== pool %s ====\n", s.Pool)
	fmt.Fprintf(&b, " active/max          %d/%d\n", s.Active, s.MaxActive)
	fmt.Fprintf(&b, " idle/max            %d/%d\n", s.Idle, s.MaxIdle)
	fmt.Fprintf(&b, " requests            %d (avg %s)\n", s.RequestCount, s.AverageRequestTime())
	fmt.Fprintf(&b, " avg checkout        %s\n", s.AverageCheckoutTime())
	fmt.Fprintf(&b, " overdue claimed     %d (avg %s)\n", s.ClaimedOverdueConnectionCount, s.AverageOverdueCheckoutTime())
	fmt.Fprintf(&b, " had to wait         %d (avg %s)\n", s.HadToWaitCount, s.AverageWaitTime())
	fmt.Fprintf(&b, " bad connections     %d\n", s.BadConnectionCount)
	return b.String()
}
