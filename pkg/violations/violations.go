// Package violations maintains the registry of confirmed violations derived
// from compliance results: record creation, status lifecycle with an audit
// trail, and an alert queue for high-severity cases.
package violations

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kass/geo-compliance/pkg/models"
)

// Status is the lifecycle state of a violation record.
type Status string

const (
	StatusOpen         Status = "OPEN"
	StatusAcknowledged Status = "ACKNOWLEDGED"
	StatusInProgress   Status = "IN_PROGRESS"
	StatusResolved     Status = "RESOLVED"
	StatusDismissed    Status = "DISMISSED"
)

// transitions lists the allowed next states per current state. Terminal
// states have no successors.
var transitions = map[Status][]Status{
	StatusOpen:         {StatusAcknowledged, StatusDismissed},
	StatusAcknowledged: {StatusInProgress, StatusDismissed},
	StatusInProgress:   {StatusResolved, StatusDismissed},
}

// legalSections maps violation types to the governing regulation clause
// attached to each record for downstream notices.
var legalSections = map[models.ViolationType]string{
	models.ViolationEncroachment:       "Section 12(1): occupation beyond allotted boundary",
	models.ViolationBoundaryExceed:     "Section 12(2): construction exceeding sanctioned extent",
	models.ViolationVacancy:            "Section 18: non-utilization of allotted plot",
	models.ViolationLandUseChange:      "Section 21: unauthorized change of land use",
	models.ViolationPartialUtilization: "Section 18(3): partial utilization below threshold",
	models.ViolationUnauthorizedConstr: "Section 14: construction without sanction",
}

// AuditEntry records one lifecycle event on a violation.
type AuditEntry struct {
	At     time.Time `json:"at"`
	Actor  string    `json:"actor"`
	From   Status    `json:"from,omitempty"`
	To     Status    `json:"to"`
	Remark string    `json:"remark,omitempty"`
}

// Record is one registered violation.
type Record struct {
	ID           string                  `json:"id"`
	PlotID       string                  `json:"plot_id"`
	Type         models.ViolationType    `json:"type"`
	Severity     models.Severity         `json:"severity"`
	RiskScore    float64                 `json:"risk_score"`
	AreaSqm      float64                 `json:"area_sqm"`
	LegalSection string                  `json:"legal_section,omitempty"`
	Result       models.ComplianceResult `json:"result"`
	Status       Status                  `json:"status"`
	CreatedAt    time.Time               `json:"created_at"`
	AuditTrail   []AuditEntry            `json:"audit_trail"`
}

// Alert is queued for every HIGH or worse violation so the notification
// collaborator can drain and dispatch it.
type Alert struct {
	ViolationID string          `json:"violation_id"`
	PlotID      string          `json:"plot_id"`
	Severity    models.Severity `json:"severity"`
	RaisedAt    time.Time       `json:"raised_at"`
}

// Registry is a thread-safe in-memory violation store.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
	byPlot  map[string][]string
	alerts  []Alert
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]*Record),
		byPlot:  make(map[string][]string),
		now:     time.Now,
	}
}

// Register creates a violation record from a VIOLATION or VACANT result.
// Results with other verdicts are rejected. Severity HIGH or worse also
// queues an alert.
func (r *Registry) Register(result models.ComplianceResult) (*Record, error) {
	if result.Verdict != models.VerdictViolation && result.Verdict != models.VerdictVacant {
		return nil, fmt.Errorf("verdict %s is not registrable", result.Verdict)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	rec := &Record{
		ID:           uuid.New().String(),
		PlotID:       result.PlotID,
		Type:         result.ViolationType,
		Severity:     result.Severity,
		RiskScore:    result.RiskScore,
		AreaSqm:      result.EncroachmentAreaSqm,
		LegalSection: legalSections[result.ViolationType],
		Result:       result,
		Status:       StatusOpen,
		CreatedAt:    now,
		AuditTrail: []AuditEntry{
			{At: now, Actor: "system", To: StatusOpen, Remark: "violation detected"},
		},
	}

	r.records[rec.ID] = rec
	r.byPlot[rec.PlotID] = append(r.byPlot[rec.PlotID], rec.ID)

	if models.SeverityRank(rec.Severity) >= models.SeverityRank(models.SeverityHigh) {
		r.alerts = append(r.alerts, Alert{
			ViolationID: rec.ID,
			PlotID:      rec.PlotID,
			Severity:    rec.Severity,
			RaisedAt:    now,
		})
	}

	return rec, nil
}

// Transition moves a record to a new status and appends an audit entry.
func (r *Registry) Transition(id string, to Status, actor, remark string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, fmt.Errorf("violation %s not found", id)
	}

	allowed := false
	for _, next := range transitions[rec.Status] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("cannot transition violation %s from %s to %s", id, rec.Status, to)
	}

	rec.AuditTrail = append(rec.AuditTrail, AuditEntry{
		At:     r.now(),
		Actor:  actor,
		From:   rec.Status,
		To:     to,
		Remark: remark,
	})
	rec.Status = to
	return rec, nil
}

// Get returns a record by id.
func (r *Registry) Get(id string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	return rec, ok
}

// ByPlot returns all records for a plot, oldest first.
func (r *Registry) ByPlot(plotID string) []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byPlot[plotID]
	out := make([]*Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.records[id])
	}
	return out
}

// Open returns all records that are not yet resolved or dismissed.
func (r *Registry) Open() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Record
	for _, rec := range r.records {
		if rec.Status != StatusResolved && rec.Status != StatusDismissed {
			out = append(out, rec)
		}
	}
	return out
}

// DrainAlerts returns the queued alerts and clears the queue.
func (r *Registry) DrainAlerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	alerts := r.alerts
	r.alerts = nil
	return alerts
}

// Count returns the number of registered violations.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
