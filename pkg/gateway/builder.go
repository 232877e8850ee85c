package gateway

import (
	"context"
	"fmt"

	"ddx/pkg/api"
	"ddx/pkg/config"
	"ddx/pkg/knowledge"
	"ddx/pkg/llm"
	"ddx/pkg/monitor"
)

// CaseManagerBuilder assembles a CaseManager with its knowledge store,
// reasoning backend, trail channels and monitor.
//
// All components are pre-built and injected as instances; Build simply
// wires and starts them.
type CaseManagerBuilder struct {
	store      *knowledge.Store
	monitor    monitor.Monitor
	system     *config.SystemConfig
	diagnostic *config.DiagnosticConfig
	client     llm.LLMClient
	results    ResultFactory
	channels   []api.Channel
	ctx        context.Context
}

func NewCaseManagerBuilder(store *knowledge.Store) *CaseManagerBuilder {
	return &CaseManagerBuilder{store: store}
}

// WithMonitor injects a monitor, started during Build.
func (b *CaseManagerBuilder) WithMonitor(m monitor.Monitor) *CaseManagerBuilder {
	b.monitor = m
	return b
}

func (b *CaseManagerBuilder) WithSystemConfig(cfg *config.SystemConfig) *CaseManagerBuilder {
	b.system = cfg
	return b
}

func (b *CaseManagerBuilder) WithDiagnosticConfig(cfg config.DiagnosticConfig) *CaseManagerBuilder {
	b.diagnostic = &cfg
	return b
}

// WithLLM sets the reasoning backend. A nil client keeps the manager on
// keyword extraction and structured evidence only.
func (b *CaseManagerBuilder) WithLLM(client llm.LLMClient) *CaseManagerBuilder {
	b.client = client
	return b
}

func (b *CaseManagerBuilder) WithResults(f ResultFactory) *CaseManagerBuilder {
	b.results = f
	return b
}

// WithChannel adds pre-built trail channels.
func (b *CaseManagerBuilder) WithChannel(channels ...api.Channel) *CaseManagerBuilder {
	b.channels = append(b.channels, channels...)
	return b
}

// WithContext sets the parent context of channel-submitted cases.
func (b *CaseManagerBuilder) WithContext(ctx context.Context) *CaseManagerBuilder {
	b.ctx = ctx
	return b
}

// Build validates the setup, starts the monitor and every channel, and
// returns the ready manager.
func (b *CaseManagerBuilder) Build() (*CaseManager, error) {
	if b.store == nil || b.store.Current() == nil {
		return nil, fmt.Errorf("case manager needs a knowledge store")
	}
	m := NewCaseManager(b.store)

	// 0. System and loop parameters
	m.SetSystemConfig(b.system)
	if b.diagnostic != nil {
		if err := b.diagnostic.Validate(); err != nil {
			return nil, err
		}
		m.SetDiagnosticConfig(*b.diagnostic)
	}
	if b.client != nil {
		m.SetLLM(b.client)
	}
	m.SetResults(b.results)
	if b.ctx != nil {
		m.SetBaseContext(b.ctx)
	}

	// 1. Monitor
	if b.monitor != nil {
		m.SetMonitor(b.monitor)
		if err := b.monitor.Start(); err != nil {
			return nil, fmt.Errorf("failed to start monitor: %w", err)
		}
	}

	// 2. Channels
	for _, c := range b.channels {
		m.Register(c)
	}
	if err := m.StartAll(); err != nil {
		return nil, fmt.Errorf("failed to start channels: %w", err)
	}

	return m, nil
}
