package ports

// Metrics receives gateway counters. A no-op implementation keeps tests and
// minimal deployments free of a metrics registry.
type Metrics interface {
	TokenIssued()
	RequestRejected(reason string)
	TransferStarted()
	TransferFinished(status string, bytes int64)
	AuditWriteFailed()
	OutboxPublished()
	OutboxDeadLettered()
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) TokenIssued()                   {}
func (NopMetrics) RequestRejected(string)         {}
func (NopMetrics) TransferStarted()               {}
func (NopMetrics) TransferFinished(string, int64) {}
func (NopMetrics) AuditWriteFailed()              {}
func (NopMetrics) OutboxPublished()               {}
func (NopMetrics) OutboxDeadLettered()            {}
