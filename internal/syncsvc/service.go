package syncsvc

import (
	"todosync-server/internal/config"
	"todosync-server/internal/metrics"
	"todosync-server/internal/notify"
	"todosync-server/internal/quota"
	"todosync-server/internal/store"
)

// Service wires the Sync Log/Staging stores, the Quota Evaluator, and the
// best-effort change notifier behind the Push/Pull/Attachment operations.
type Service struct {
	Store    *store.Store
	Quota    *quota.Evaluator
	Quotas   config.QuotaConfig
	Notifier notify.Publisher
	Metrics  *metrics.Metrics
}

func New(st *store.Store, qe *quota.Evaluator, quotas config.QuotaConfig, notifier notify.Publisher, m *metrics.Metrics) *Service {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Service{Store: st, Quota: qe, Quotas: quotas, Notifier: notifier, Metrics: m}
}

// observe is a nil-safe recorder: Metrics may be nil in tests that don't
// care about Prometheus wiring.
func (s *Service) observe(fn func(*metrics.Metrics)) {
	if s.Metrics != nil {
		fn(s.Metrics)
	}
}
