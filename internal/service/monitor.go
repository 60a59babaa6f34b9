package service

import (
	"context"
	"sync"

	"github.com/vouchmesh/vouchmesh/internal/domain"
	"go.uber.org/zap"
)

// TrustMonitor re-runs the full evaluation pipeline whenever the
// replicated store reports a state change: reload and merge the
// snapshot, scan every active member for ejection triggers, rebuild the
// graph projection, and recompute DVR health. There is no polling;
// evaluation is driven entirely by state-change notifications.
type TrustMonitor struct {
	network *NetworkService
	store   domain.ContractStateStore
	ejector domain.Ejector
	logger  *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	lastStatus domain.HealthStatus
}

func NewTrustMonitor(network *NetworkService, st domain.ContractStateStore, ejector domain.Ejector, logger *zap.Logger) *TrustMonitor {
	return &TrustMonitor{
		network: network,
		store:   st,
		ejector: ejector,
		logger:  logger,
	}
}

// Start subscribes to state changes in a background goroutine.
func (m *TrustMonitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		changes, err := m.store.Subscribe(ctx, m.network.Contract())
		if err != nil {
			m.logger.Error("trust monitor failed to subscribe", zap.Error(err))
			return
		}
		m.logger.Info("trust monitor started", zap.String("contract", m.network.Contract()))

		for {
			select {
			case <-ctx.Done():
				m.logger.Info("trust monitor stopped")
				return
			case _, ok := <-changes:
				if !ok {
					m.logger.Info("trust monitor subscription closed")
					return
				}
				m.Evaluate(ctx)
			}
		}
	}()
}

// Stop cancels the subscription and waits for the worker to exit.
func (m *TrustMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Evaluate runs one pass of the pipeline over a fresh snapshot. Exported
// so callers can force an evaluation after seeding.
func (m *TrustMonitor) Evaluate(ctx context.Context) {
	if err := m.network.Reload(ctx); err != nil {
		m.logger.Error("failed to reload state", zap.Error(err))
		return
	}
	snapshot := m.network.Snapshot()

	for _, member := range snapshot.Members.Sorted() {
		if !ShouldEject(snapshot, member) {
			continue
		}
		reason, _ := EjectionReason(snapshot, member)
		m.logger.Warn("ejection trigger fired",
			zap.String("member", member.Short()),
			zap.String("reason", reason))
		if err := m.ejector.Eject(ctx, m.network.Contract(), member, reason); err != nil {
			m.logger.Error("ejection failed",
				zap.String("member", member.Short()),
				zap.Error(err))
		}
	}

	graph := BuildTrustGraph(snapshot)
	DetectClusters(graph)
	report := CalculateDVR(snapshot)

	// The first pass seeds the baseline; only later passes are transitions.
	if m.lastStatus == "" {
		m.lastStatus = report.Status
		m.logger.Info("network health baseline",
			zap.String("status", string(report.Status)),
			zap.Float64("ratio", report.Ratio))
	} else if report.Status != m.lastStatus {
		m.logger.Info("network health changed",
			zap.String("from", string(m.lastStatus)),
			zap.String("to", string(report.Status)),
			zap.Float64("ratio", report.Ratio),
			zap.String("guidance", report.Status.Guidance()))
		m.lastStatus = report.Status
	}

	if report.Status != domain.HealthHealthy {
		intros := SuggestIntroductions(snapshot, graph)
		m.logger.Info("introduction suggestions available",
			zap.Int("count", len(intros)),
			zap.Int("clusters", graph.ClusterCount()),
			zap.Float64("dvr", report.Ratio))
	}
}

// GroupEjector is the default ejection side effect: issue the removal
// delta through the network service. A messaging deployment would also
// drop the member from the group conversation here.
type GroupEjector struct {
	network *NetworkService
	logger  *zap.Logger
}

func NewGroupEjector(network *NetworkService, logger *zap.Logger) *GroupEjector {
	return &GroupEjector{network: network, logger: logger}
}

func (e *GroupEjector) Eject(ctx context.Context, contract string, member domain.MemberHash, reason string) error {
	e.logger.Info("ejecting member",
		zap.String("contract", contract),
		zap.String("member", member.Short()),
		zap.String("reason", reason))
	return e.network.RemoveMember(ctx, member)
}
