package tabular

import (
	"context"
	"log"
	"sync"
	"time"

	"audiolibri/api/internal/catalog"
)

// FingerprintSource returns the current fingerprint of the remote document.
type FingerprintSource interface {
	Fingerprint(ctx context.Context) (catalog.Fingerprint, error)
}

// MonitorStatus is what the grid shows about remote changes.
type MonitorStatus struct {
	Active    bool      `json:"active"`
	Interval  string    `json:"interval"`
	Baseline  string    `json:"baseline"`
	Remote    string    `json:"remote,omitempty"`
	Changed   bool      `json:"changed"`
	CheckedAt time.Time `json:"checkedAt,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Monitor polls the remote fingerprint and flags when it no longer matches
// the hash the editor loaded or last saved.
type Monitor struct {
	source   FingerprintSource
	onChange func(catalog.Fingerprint)

	mu       sync.Mutex
	status   MonitorStatus
	interval time.Duration
	cancel   context.CancelFunc
	now      func() time.Time
}

func NewMonitor(source FingerprintSource, baseline string, onChange func(catalog.Fingerprint)) *Monitor {
	return &Monitor{
		source:   source,
		onChange: onChange,
		status:   MonitorStatus{Baseline: baseline},
		now:      time.Now,
	}
}

// SetBaseline records the hash of the document the editor now holds and
// clears the changed flag.
func (m *Monitor) SetBaseline(hash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.Baseline = hash
	m.status.Remote = hash
	m.status.Changed = false
}

func (m *Monitor) Status() MonitorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Check fetches the fingerprint once. Fetch errors are kept in the status
// and returned; they never clear an earlier changed flag.
func (m *Monitor) Check(ctx context.Context) (MonitorStatus, error) {
	fp, err := m.source.Fingerprint(ctx)

	m.mu.Lock()
	m.status.CheckedAt = m.now().UTC()
	if err != nil {
		m.status.Error = err.Error()
		status := m.status
		m.mu.Unlock()
		return status, err
	}
	m.status.Error = ""
	m.status.Remote = fp.Hash
	newlyChanged := false
	if fp.Hash != "" && fp.Hash != m.status.Baseline && !m.status.Changed {
		m.status.Changed = true
		newlyChanged = true
	}
	status := m.status
	m.mu.Unlock()

	if newlyChanged {
		log.Printf("tabular: remote catalog changed (%s -> %s)", status.Baseline, fp.Hash)
		if m.onChange != nil {
			m.onChange(fp)
		}
	}
	return status, nil
}

// Start polls every interval until Stop or ctx ends. A running poller is
// replaced, so Start doubles as an interval change.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	m.Stop()

	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.interval = interval
	m.status.Active = true
	m.status.Interval = interval.String()
	m.mu.Unlock()

	go m.run(ctx, interval)
}

func (m *Monitor) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.checkLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkLogged(ctx)
		}
	}
}

func (m *Monitor) checkLogged(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := m.Check(checkCtx); err != nil && ctx.Err() == nil {
		log.Printf("tabular: fingerprint check failed: %v", err)
	}
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.status.Active = false
	m.status.Interval = ""
}

// Interval is the current polling interval, zero when stopped.
func (m *Monitor) Interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel == nil {
		return 0
	}
	return m.interval
}
