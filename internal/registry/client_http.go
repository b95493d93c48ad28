package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"seedtrace/internal/applicator"
)

// HTTPClient talks to the Registry over its JSON HTTP API. Every call is
// bounded by the configured timeout; on timeout the caller sees a retryable
// timeout error, never a silent fallback.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient builds a Registry client. timeout bounds each call.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type applicatorRecordDTO struct {
	SerialNumber      string `json:"serial_number"`
	DeviceType        string `json:"device_type"`
	SeedCapacity      int    `json:"seed_capacity"`
	IntendedPatientID string `json:"intended_patient_id"`
	PriorTreatmentID  string `json:"prior_treatment_id"`
	PriorUsage        string `json:"prior_usage"`
}

type treatmentSummaryDTO struct {
	OrderID     string                `json:"order_id"`
	PatientID   string                `json:"patient_id"`
	SiteID      string                `json:"site_id"`
	Date        time.Time             `json:"date"`
	Applicators []applicatorRecordDTO `json:"applicators"`
}

func (c *HTTPClient) LookupApplicator(ctx context.Context, serialNumber string) (ApplicatorRecord, error) {
	const op = "lookup_applicator"
	var dto applicatorRecordDTO
	path := "/applicators/" + url.PathEscape(serialNumber)
	if err := c.get(ctx, op, path, &dto); err != nil {
		return ApplicatorRecord{}, err
	}
	return recordFromDTO(dto), nil
}

func (c *HTTPClient) TreatmentsForSiteWindow(ctx context.Context, siteID string, from, to time.Time) ([]TreatmentSummary, error) {
	const op = "treatments_for_site_window"
	q := url.Values{}
	q.Set("site_id", siteID)
	q.Set("from", from.Format("2006-01-02"))
	q.Set("to", to.Format("2006-01-02"))
	var dtos []treatmentSummaryDTO
	if err := c.get(ctx, op, "/treatments?"+q.Encode(), &dtos); err != nil {
		// A site with no neighboring treatments is an empty list, not 404,
		// but tolerate registries that answer 404 here.
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]TreatmentSummary, 0, len(dtos))
	for _, d := range dtos {
		ts := TreatmentSummary{
			OrderID:   d.OrderID,
			PatientID: d.PatientID,
			SiteID:    d.SiteID,
			Date:      d.Date,
		}
		for _, a := range d.Applicators {
			ts.Applicators = append(ts.Applicators, recordFromDTO(a))
		}
		out = append(out, ts)
	}
	return out, nil
}

func (c *HTTPClient) PushApplicatorUsage(ctx context.Context, push UsagePush) error {
	const op = "push_applicator_usage"
	body := map[string]any{
		"serial_number":     push.SerialNumber,
		"usage":             string(push.Usage),
		"inserted_seed_qty": push.InsertedSeedQty,
		"comments":          push.Comments,
	}
	path := "/treatments/" + url.PathEscape(push.TreatmentOrderID) + "/applicator-usage"
	return c.post(ctx, op, path, body)
}

func (c *HTTPClient) PushTreatmentStatus(ctx context.Context, treatmentOrderID, status string) error {
	const op = "push_treatment_status"
	path := "/treatments/" + url.PathEscape(treatmentOrderID) + "/status"
	return c.post(ctx, op, path, map[string]any{"status": status})
}

func (c *HTTPClient) get(ctx context.Context, op, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return NewError(ErrorInternal, op, "build request", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(op, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(op, resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return NewError(ErrorBadData, op, "decode response", err)
	}
	return nil
}

func (c *HTTPClient) post(ctx context.Context, op, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return NewError(ErrorInternal, op, "encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return NewError(ErrorInternal, op, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(op, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return checkStatus(op, resp)
}

func checkStatus(op string, resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return NewError(ErrorNotFound, op, "record not found", nil)
	case resp.StatusCode >= 500:
		return NewError(ErrorOutage, op, fmt.Sprintf("registry returned %d", resp.StatusCode), nil)
	default:
		return NewError(ErrorBadData, op, fmt.Sprintf("registry returned %d", resp.StatusCode), nil)
	}
}

func transportError(op string, err error) *Error {
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return NewError(ErrorTimeout, op, "registry call timed out", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(ErrorTimeout, op, "registry call timed out", err)
	}
	return NewError(ErrorOutage, op, "registry unreachable", err)
}

func recordFromDTO(d applicatorRecordDTO) ApplicatorRecord {
	usage := applicator.Usage(d.PriorUsage)
	if usage == "" {
		usage = applicator.UsageNone
	}
	return ApplicatorRecord{
		SerialNumber:      d.SerialNumber,
		DeviceType:        d.DeviceType,
		SeedCapacity:      d.SeedCapacity,
		IntendedPatientID: d.IntendedPatientID,
		PriorTreatmentID:  d.PriorTreatmentID,
		PriorUsage:        usage,
	}
}
