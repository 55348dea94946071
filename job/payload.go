package job

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/reportflow"
)

// Payload is the work item body. It mirrors the inputs of the run so a
// consumer can log and route without a store round trip; the run record
// stays authoritative.
type Payload struct {
	RunID         string              `msgpack:"runId"`
	TenantID      string              `msgpack:"tenantId"`
	TemplateID    string              `msgpack:"templateId"`
	ScheduleID    string              `msgpack:"scheduleId,omitempty"`
	PeriodFrom    *time.Time          `msgpack:"periodFrom,omitempty"`
	PeriodTo      *time.Time          `msgpack:"periodTo,omitempty"`
	PeriodLabel   string              `msgpack:"periodLabel,omitempty"`
	Scope         reportflow.Scope    `msgpack:"scope"`
	OutputFormats []reportflow.Format `msgpack:"outputFormats"`
}

// Period returns the payload period.
func (p *Payload) Period() reportflow.Period {
	return reportflow.Period{From: p.PeriodFrom, To: p.PeriodTo, Label: p.PeriodLabel}
}

// EncodePayload serializes p.
func EncodePayload(p *Payload) ([]byte, error) {
	if p == nil || p.RunID == "" || p.TenantID == "" {
		return nil, fmt.Errorf("reportflow: job payload requires run and tenant")
	}
	data, err := msgpack.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("reportflow: encode job payload: %w", err)
	}
	return data, nil
}

// DecodePayload deserializes a payload produced by EncodePayload.
func DecodePayload(data []byte) (*Payload, error) {
	var p Payload
	if err := msgpack.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("reportflow: decode job payload: %w", err)
	}
	if p.RunID == "" || p.TenantID == "" {
		return nil, fmt.Errorf("reportflow: job payload missing run or tenant")
	}
	return &p, nil
}
