package domain

import "strings"

// Status is the UI-facing grouping derived from a contact's funnel stage
type Status string

const (
	StatusNew        Status = "new"
	StatusContacted  Status = "contacted"
	StatusInterested Status = "interested"
	StatusScheduled  Status = "scheduled"
	StatusWon        Status = "won"
	StatusLost       Status = "lost"
)

// DefaultStatus is used for empty or unrecognized stages
const DefaultStatus = StatusNew

// Statuses lists every status in pipeline order
var Statuses = []Status{
	StatusNew,
	StatusContacted,
	StatusInterested,
	StatusScheduled,
	StatusWon,
	StatusLost,
}

// stageStatus maps every known funnel stage synonym to exactly one status.
// Keys are in canonical form (see canonicalStage).
var stageStatus = map[string]Status{
	// new
	"nuevo":          StatusNew,
	"nuevo_contacto": StatusNew,
	"nuevo_lead":     StatusNew,
	"new":            StatusNew,
	"new_contact":    StatusNew,
	"new_lead":       StatusNew,
	"lead":           StatusNew,
	"sin_contactar":  StatusNew,

	// contacted
	"contactado":      StatusContacted,
	"contacted":       StatusContacted,
	"en_conversacion": StatusContacted,
	"in_conversation": StatusContacted,
	"seguimiento":     StatusContacted,
	"en_seguimiento":  StatusContacted,
	"follow_up":       StatusContacted,

	// interested
	"interesado":  StatusInterested,
	"interested":  StatusInterested,
	"calificado":  StatusInterested,
	"qualified":   StatusInterested,
	"cotizacion":  StatusInterested,
	"propuesta":   StatusInterested,
	"proposal":    StatusInterested,
	"negociacion": StatusInterested,
	"negotiation": StatusInterested,

	// scheduled
	"cita_agendada":         StatusScheduled,
	"agendado":              StatusScheduled,
	"cita":                  StatusScheduled,
	"scheduled":             StatusScheduled,
	"appointment":           StatusScheduled,
	"appointment_scheduled": StatusScheduled,

	// won
	"cerrado_ganado": StatusWon,
	"ganado":         StatusWon,
	"venta":          StatusWon,
	"cliente":        StatusWon,
	"won":            StatusWon,
	"closed_won":     StatusWon,
	"customer":       StatusWon,

	// lost
	"cerrado_perdido": StatusLost,
	"perdido":         StatusLost,
	"no_interesado":   StatusLost,
	"descartado":      StatusLost,
	"lost":            StatusLost,
	"closed_lost":     StatusLost,
	"not_interested":  StatusLost,
}

// DeriveStatus maps a funnel stage to its status. It is total: any input,
// including empty or unknown stages, yields one of Statuses.
func DeriveStatus(stage string) Status {
	if s, ok := stageStatus[canonicalStage(stage)]; ok {
		return s
	}
	return DefaultStatus
}

// IsValid reports whether s belongs to the closed status set
func (s Status) IsValid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// canonicalStage lowercases and folds separators so "Cita Agendada",
// "cita-agendada" and "cita_agendada" resolve to the same key
func canonicalStage(stage string) string {
	s := strings.ToLower(strings.TrimSpace(stage))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return s
}
