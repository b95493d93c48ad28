package registry

import (
	"context"
	"time"
)

// MockGateway is a deterministic in-memory Registry for development and
// tests. A configurable latency mimics real-world calls; the error fields
// let tests simulate outages per operation.
type MockGateway struct {
	Latency time.Duration

	Records   map[string]ApplicatorRecord // keyed by serial number
	Neighbors []TreatmentSummary

	LookupErr error
	WindowErr error
	PushErr   error

	Pushes       []UsagePush
	StatusPushes map[string]string
}

func NewMockGateway() *MockGateway {
	return &MockGateway{
		Records:      make(map[string]ApplicatorRecord),
		StatusPushes: make(map[string]string),
	}
}

func (m *MockGateway) LookupApplicator(_ context.Context, serialNumber string) (ApplicatorRecord, error) {
	time.Sleep(m.Latency)
	if m.LookupErr != nil {
		return ApplicatorRecord{}, m.LookupErr
	}
	rec, ok := m.Records[serialNumber]
	if !ok {
		return ApplicatorRecord{}, NewError(ErrorNotFound, "lookup_applicator", "record not found", nil)
	}
	return rec, nil
}

func (m *MockGateway) TreatmentsForSiteWindow(_ context.Context, siteID string, from, to time.Time) ([]TreatmentSummary, error) {
	time.Sleep(m.Latency)
	if m.WindowErr != nil {
		return nil, m.WindowErr
	}
	var out []TreatmentSummary
	for _, ts := range m.Neighbors {
		if ts.SiteID != siteID {
			continue
		}
		if ts.Date.Before(from) || ts.Date.After(to) {
			continue
		}
		out = append(out, ts)
	}
	return out, nil
}

func (m *MockGateway) PushApplicatorUsage(_ context.Context, push UsagePush) error {
	time.Sleep(m.Latency)
	if m.PushErr != nil {
		return m.PushErr
	}
	m.Pushes = append(m.Pushes, push)
	return nil
}

func (m *MockGateway) PushTreatmentStatus(_ context.Context, treatmentOrderID, status string) error {
	time.Sleep(m.Latency)
	if m.PushErr != nil {
		return m.PushErr
	}
	m.StatusPushes[treatmentOrderID] = status
	return nil
}
