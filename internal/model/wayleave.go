package model

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"wayleave/internal/util"
)

// Status is a wayleave lifecycle phase. Phases are ordered.
type Status string

const (
	StatusPending            Status = "Pending TSS action"
	StatusSentToMOW          Status = "Sent to M.O.W"
	StatusReceivedFromMOW    Status = "Received from M.O.W"
	StatusSentToAreaEngineer Status = "Sent to Area Engineer"
)

var Statuses = []Status{StatusPending, StatusSentToMOW, StatusReceivedFromMOW, StatusSentToAreaEngineer}

// InitialStatus is the phase every new record starts in.
const InitialStatus = StatusPending

func (s Status) String() string {
	return string(s)
}

// Phase returns the zero-based position of s, or -1 for unknown statuses.
func (s Status) Phase() int {
	return slices.Index(Statuses, s)
}

func ParseStatus(s string) (Status, error) {
	for _, status := range Statuses {
		if strings.EqualFold(strings.TrimSpace(s), string(status)) {
			return status, nil
		}
	}
	return "", fmt.Errorf("invalid status: %q", s)
}

// Record is a wayleave permit-tracking entry.
type Record struct {
	ID                 string                   `json:"id"`
	CreatedAt          time.Time                `json:"createdAt"`
	OwnerUserID        string                   `json:"ownerUserId"`
	WayleaveNumber     string                   `json:"wayleaveNumber" validate:"required,max=64"`
	USPNumber          string                   `json:"uspNumber" validate:"max=64"`
	RCCNumber          string                   `json:"rccNumber" validate:"max=64"`
	MSPNumber          string                   `json:"mspNumber" validate:"max=64"`
	Status             Status                   `json:"status"`
	ToEddDate          util.Optional[time.Time] `json:"toEddDate"`
	ToMowDate          util.Optional[time.Time] `json:"toMowDate"`
	FromMowDate        util.Optional[time.Time] `json:"fromMowDate"`
	ToAreaEngineerDate util.Optional[time.Time] `json:"toAreaEngineerDate"`
	Attachments        []string                 `json:"attachments"`
	Remarks            string                   `json:"remarks"`
	LastUpdatedBy      string                   `json:"lastUpdatedBy"`
}

func (r *Record) phaseField(s Status) *util.Optional[time.Time] {
	switch s {
	case StatusPending:
		return &r.ToEddDate
	case StatusSentToMOW:
		return &r.ToMowDate
	case StatusReceivedFromMOW:
		return &r.FromMowDate
	case StatusSentToAreaEngineer:
		return &r.ToAreaEngineerDate
	default:
		return nil
	}
}

// PhaseEnteredAt returns the entry timestamp of phase s.
func (r Record) PhaseEnteredAt(s Status) util.Optional[time.Time] {
	if f := r.phaseField(s); f != nil {
		return *f
	}
	return util.None[time.Time]()
}

// EnterPhase stamps the entry timestamp for s unless it is already set.
// It reports whether a timestamp was written.
func (r *Record) EnterPhase(s Status, now time.Time) bool {
	f := r.phaseField(s)
	if f == nil || f.IsSet {
		return false
	}
	*f = util.Some(now.UTC())
	return true
}

// PhaseDuration renders the time spent in the current phase as "<d>d <h>h".
func (r Record) PhaseDuration(now time.Time) string {
	start, ok := r.PhaseEnteredAt(r.Status).Get()
	if !ok {
		return "N/A"
	}
	diff := now.Sub(start)
	days := int(diff / (24 * time.Hour))
	hours := int((diff % (24 * time.Hour)) / time.Hour)
	return fmt.Sprintf("%dd %dh", days, hours)
}

func (r Record) Clone() Record {
	r.Attachments = slices.Clone(r.Attachments)
	return r
}
