// Package retention runs the maintenance side-queue: periodic cache-expiry
// sweeps and dead-letter reports. Cache entries are immutable to the
// synthesis pipeline; only this policy ever removes them.
package retention

const (
	TypeCacheSweep       = "cache:sweep"
	TypeDeadLetterReport = "deadletter:report"
)

type CacheSweepPayload struct {
	Limit int `json:"limit"`
}

type DeadLetterReportPayload struct {
	Limit int `json:"limit"`
}
