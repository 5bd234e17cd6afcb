package wallet

// MetricsCollector receives counters about wallet activity. The no-op
// implementation is used when no metrics backend is configured.
type MetricsCollector interface {
	RecordDepositInitiated(amount int64)
	RecordDepositConfirmed(success bool)
	RecordWalletPayment(amount int64)
	RecordBalanceCacheHit(hit bool)
}

type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordDepositInitiated(int64) {}
func (NoopMetricsCollector) RecordDepositConfirmed(bool)  {}
func (NoopMetricsCollector) RecordWalletPayment(int64)    {}
func (NoopMetricsCollector) RecordBalanceCacheHit(bool)   {}
