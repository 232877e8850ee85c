package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"ddx/pkg/agent"
	"ddx/pkg/api"
	"ddx/pkg/config"
	apperrors "ddx/pkg/errors"
	"ddx/pkg/extract"
	"ddx/pkg/knowledge"
	"ddx/pkg/llm"
	"ddx/pkg/monitor"
	"ddx/pkg/oracle"
	"ddx/pkg/utils"

	"github.com/google/uuid"
)

// ResultFactory picks the result source for a case.
type ResultFactory func(input agent.CaseInput) api.ResultSource

// CaseManager 負責管理所有的 trail channels 並執行 case
type CaseManager struct {
	channels   map[string]api.Channel
	monitor    monitor.Monitor
	store      *knowledge.Store
	client     llm.LLMClient // optional reasoning backend
	results    ResultFactory
	diagnostic config.DiagnosticConfig
	system     *config.SystemConfig
	running    map[string]chan struct{} // case id -> cancel signal
	statuses   map[string]api.Status
	baseCtx    context.Context
	wg         sync.WaitGroup
	mu         sync.RWMutex
}

// NewCaseManager 建立一個新的 CaseManager
func NewCaseManager(store *knowledge.Store) *CaseManager {
	return &CaseManager{
		channels:   make(map[string]api.Channel),
		store:      store,
		results:    func(input agent.CaseInput) api.ResultSource { return ScriptedResults(input.Results) },
		diagnostic: config.DefaultDiagnosticConfig(),
		system:     config.DefaultSystemConfig(),
		running:    make(map[string]chan struct{}),
		statuses:   make(map[string]api.Status),
		baseCtx:    context.Background(),
	}
}

// SetMonitor 設定監控器
func (m *CaseManager) SetMonitor(mon monitor.Monitor) {
	m.monitor = mon
}

// SetLLM enables LLM-backed extraction, image classification and oracle
// scoring. Without it cases use keyword extraction and structured evidence.
func (m *CaseManager) SetLLM(client llm.LLMClient) {
	m.client = client
}

func (m *CaseManager) SetResults(f ResultFactory) {
	if f != nil {
		m.results = f
	}
}

func (m *CaseManager) SetDiagnosticConfig(cfg config.DiagnosticConfig) {
	m.diagnostic = cfg
}

func (m *CaseManager) SetSystemConfig(sys *config.SystemConfig) {
	if sys != nil {
		m.system = sys
	}
}

// SetBaseContext is the parent context of cases submitted from channels.
func (m *CaseManager) SetBaseContext(ctx context.Context) {
	m.baseCtx = ctx
}

// Register 註冊一個 Channel
func (m *CaseManager) Register(c api.Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[c.ID()] = c
}

// GetChannel 取得特定的 Channel
func (m *CaseManager) GetChannel(id string) (api.Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.channels[id]
	return c, ok
}

func (m *CaseManager) channelList() []api.Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.channels))
	for id := range m.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]api.Channel, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.channels[id])
	}
	return out
}

// StartAll 啟動所有已註冊的 Channels
func (m *CaseManager) StartAll() error {
	for _, c := range m.channelList() {
		slog.Info("Starting channel", "channel", c.ID())
		if err := c.Start(m); err != nil {
			return fmt.Errorf("failed to start channel %s: %w", c.ID(), err)
		}
	}
	return nil
}

// StopAll 停止所有 Channels 與監控器
func (m *CaseManager) StopAll() {
	for _, c := range m.channelList() {
		slog.Info("Stopping channel", "channel", c.ID())
		if err := c.Stop(); err != nil {
			slog.Error("Error stopping channel", "channel", c.ID(), "error", err)
		}
	}
	if m.monitor != nil {
		_ = m.monitor.Stop()
	}
}

// Record fans a trail event out to the monitor and every channel.
func (m *CaseManager) Record(event api.TrailEvent) {
	if event.Status != "" {
		m.mu.Lock()
		m.statuses[event.CaseID] = event.Status
		m.mu.Unlock()
	}

	if m.monitor != nil {
		m.monitor.OnEvent(event)
	}
	for _, c := range m.channelList() {
		if err := c.Publish(event); err != nil {
			slog.Warn("Channel publish failed", "channel", c.ID(), "case", event.CaseID, "error", err)
		}
	}
}

// Run executes one case to completion and publishes its summary.
func (m *CaseManager) Run(ctx context.Context, input agent.CaseInput) (api.Summary, error) {
	if err := validateInput(&input); err != nil {
		return api.Summary{}, err
	}
	cancel, err := m.track(input.ID)
	if err != nil {
		return api.Summary{}, err
	}
	defer m.untrack(input.ID)
	return m.run(ctx, input, cancel), nil
}

// Submit starts a case in the background and returns its id.
func (m *CaseManager) Submit(ctx context.Context, input agent.CaseInput) (string, error) {
	if err := validateInput(&input); err != nil {
		return "", err
	}
	cancel, err := m.track(input.ID)
	if err != nil {
		return "", err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.untrack(input.ID)
		m.run(ctx, input, cancel)
	}()
	return input.ID, nil
}

// Wait blocks until every submitted case has finished.
func (m *CaseManager) Wait() {
	m.wg.Wait()
}

// SubmitCase 實作 ChannelContext 介面，接收來自 Channel 的 case 文件
func (m *CaseManager) SubmitCase(doc []byte) (string, error) {
	input, err := DecodeCase(doc)
	if err != nil {
		return "", err
	}
	return m.Submit(m.baseCtx, input)
}

// CancelCase signals a running case to stop at its next iteration boundary.
func (m *CaseManager) CancelCase(caseID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.running[caseID]
	if !ok {
		return false
	}
	close(ch)
	delete(m.running, caseID)
	return true
}

// CaseStatus reports the last status seen for a case.
func (m *CaseManager) CaseStatus(caseID string) (api.Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[caseID]
	return s, ok
}

func (m *CaseManager) track(caseID string) (<-chan struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.running[caseID]; busy {
		return nil, apperrors.MalformedInput("case %s is already running", caseID)
	}
	ch := make(chan struct{})
	m.running[caseID] = ch
	m.statuses[caseID] = api.StatusActive
	return ch, nil
}

func (m *CaseManager) untrack(caseID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.running, caseID)
}

func (m *CaseManager) run(ctx context.Context, input agent.CaseInput, cancel <-chan struct{}) api.Summary {
	ctx = monitor.WithCaseID(ctx, input.ID)
	k := m.store.Current() // 整個 case 使用同一份 snapshot
	stepTimeout := m.system.StepTimeout()

	intake := agent.Intake{
		Symptoms:    k,
		Extractor:   extract.NewKeywordExtractor(k.Vocabulary()),
		Conditions:  k,
		ImageFloor:  m.diagnostic.ImageFloor,
		StepTimeout: stepTimeout,
	}
	var reasoner api.ReasoningOracle
	if m.client != nil {
		intake.Extractor = oracle.NewExtractor(m.client, k.Vocabulary())
		if conditions := k.Conditions(); len(conditions) > 0 {
			intake.Classifier = oracle.NewClassifier(m.client, conditions)
		}
		reasoner = oracle.New(m.client)
	}

	images, warnings := loadImages(input.Images)
	state, evidence := intake.NewCase(ctx, input, images)
	state.Warnings = append(warnings, state.Warnings...)
	if v := k.Version(); v != "" {
		slog.DebugContext(ctx, "Using knowledge pack", "version", v)
	}

	o := agent.NewOrchestrator(agent.Deps{
		Priors:   k,
		Catalog:  k,
		Results:  m.results(input),
		Oracle:   reasoner,
		Recorder: m,
	}, m.diagnostic, stepTimeout)
	final := o.Run(ctx, state, evidence, cancel)

	summary := agent.Summarize(final, k, input.Expected)
	m.Record(api.TrailEvent{
		Timestamp: time.Now(),
		CaseID:    final.CaseID,
		Iteration: final.Iteration,
		Agent:     agent.AgentOrchestrator,
		Kind:      "summary",
		Message:   fmt.Sprintf("%s %s", final.Status, summary.Diagnosis),
		Status:    final.Status,
		Summary:   &summary,
	})
	return summary
}

// validateInput rejects cases the loop cannot start with and assigns an id.
func validateInput(input *agent.CaseInput) error {
	if len(input.Symptoms) == 0 && input.Narrative == "" && len(input.Images) == 0 {
		return apperrors.MalformedInput("case has no symptoms, narrative or images")
	}
	if input.Month < 0 || input.Month > 12 {
		return apperrors.MalformedInput("month must be 1-12, got %d", input.Month)
	}
	if input.ID == "" {
		input.ID = uuid.NewString()
	}
	return nil
}

// loadImages reads image files; unreadable files become data-gap warnings.
func loadImages(paths []string) ([]api.Image, []string) {
	var images []api.Image
	var warnings []string
	for _, p := range paths {
		data, mimeType, err := utils.ReadImageFile(p)
		if err != nil {
			warnings = append(warnings, apperrors.DataGap("image skipped: %v", err).Error())
			continue
		}
		images = append(images, api.Image{Name: filepath.Base(p), MimeType: mimeType, Data: data})
	}
	return images, warnings
}
