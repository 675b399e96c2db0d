// Package history reconstructs structured processing steps from the
// free-text comments the backend writes into an order's audit trail. The
// comment format is an implicit protocol:
//
//	<role label> <full name> <phrase>[: <note>]
//
// e.g. "Сборщик Иван Петров взял заказ в работу". Comments that match no
// known template are skipped.
package history

import (
	"sort"
	"strings"
	"time"

	"github.com/vitrina-retail/api/internal/enum"
)

// Entry is one raw audit-trail row as returned by the backend.
type Entry struct {
	Status    string    `json:"status"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

// Step is a structured per-role processing step derived from the audit
// trail. IsVirtual marks a step inferred to exist but absent from history;
// IsTemporary marks an optimistic client-side step awaiting confirmation.
type Step struct {
	Status           string    `json:"status"`
	Role             string    `json:"role"`
	RoleLabel        string    `json:"role_label"`
	StepType         string    `json:"step_type"`
	EmployeeName     string    `json:"employee_name"`
	EmployeePosition string    `json:"employee_position"`
	Comment          string    `json:"comment"`
	CreatedAt        time.Time `json:"created_at"`
	IsVirtual        bool      `json:"is_virtual,omitempty"`
	IsTemporary      bool      `json:"is_temporary,omitempty"`
}

type template struct {
	role     string
	stepType string
	phrase   string
}

// Templates are ordered: longer, more specific phrases first so that a
// comment containing several phrases resolves deterministically.
var templates = []template{
	{enum.RoleCourier, enum.StepStarted, "принял заказ в доставку"},
	{enum.RolePicker, enum.StepStarted, "взял заказ в работу"},
	{enum.RolePacker, enum.StepStarted, "начал упаковку"},
	{enum.RolePacker, enum.StepCompleted, "упаковка завершена"},
	{enum.RolePicker, enum.StepCompleted, "сборка завершена"},
	{enum.RoleCourier, enum.StepCompleted, "заказ доставлен"},
}

// StartPhrase returns the comment phrase a role's "take" writes.
func StartPhrase(role string) string {
	return phraseFor(role, enum.StepStarted)
}

// CompletePhrase returns the comment phrase a role's stage completion writes.
func CompletePhrase(role string) string {
	return phraseFor(role, enum.StepCompleted)
}

func phraseFor(role, stepType string) string {
	for _, t := range templates {
		if t.role == role && t.stepType == stepType {
			return t.phrase
		}
	}
	return ""
}

// FormatComment renders the canonical comment for an actor and phrase, with
// an optional trailing note. This is the writer side of the protocol;
// ParseComment is the reader.
func FormatComment(role, fullName, phrase, note string) string {
	var b strings.Builder
	b.WriteString(enum.RoleLabel(role))
	b.WriteString(" ")
	b.WriteString(fullName)
	b.WriteString(" ")
	b.WriteString(phrase)
	if note != "" {
		b.WriteString(": ")
		b.WriteString(note)
	}
	return b.String()
}

// ParseComment matches a comment against the known templates. It is the
// single place the heuristic lives; everything downstream consumes Steps.
// ok is false for comments with no recognizable phrase.
func ParseComment(comment string) (role, stepType, employeeName string, ok bool) {
	for _, t := range templates {
		idx := strings.Index(comment, t.phrase)
		if idx < 0 {
			continue
		}
		name := strings.TrimSpace(comment[:idx])
		label := enum.RoleLabel(t.role)
		if strings.HasPrefix(name, label+" ") {
			name = strings.TrimSpace(strings.TrimPrefix(name, label+" "))
		} else if name == label {
			name = ""
		}
		return t.role, t.stepType, name, true
	}
	return "", "", "", false
}

// Parse derives steps from raw entries, skipping unparseable comments and
// sorting by creation time. Pure: the same input always yields the same
// output.
func Parse(entries []Entry) []Step {
	var steps []Step
	for _, e := range entries {
		role, stepType, name, ok := ParseComment(e.Comment)
		if !ok {
			continue
		}
		steps = append(steps, Step{
			Status:           e.Status,
			Role:             role,
			RoleLabel:        enum.RoleLabel(role),
			StepType:         stepType,
			EmployeeName:     name,
			EmployeePosition: enum.RoleLabel(role),
			Comment:          e.Comment,
			CreatedAt:        e.CreatedAt,
		})
	}
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].CreatedAt.Before(steps[j].CreatedAt)
	})
	return steps
}

// Reconstruct builds the final step list: parsed history, a virtual packer
// completion when the courier started without one logged, and the caller's
// temporary optimistic steps minus any already confirmed.
func Reconstruct(entries []Entry, temp []Step) []Step {
	steps := insertVirtualPackerCompletion(Parse(entries))

	confirmed := make(map[string]bool, len(steps))
	for _, s := range steps {
		confirmed[stepKey(s)] = true
	}
	for _, t := range temp {
		if confirmed[stepKey(t)] {
			continue
		}
		t.IsTemporary = true
		steps = append(steps, t)
	}
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].CreatedAt.Before(steps[j].CreatedAt)
	})
	return steps
}

// stepKey identifies a step for de-duplication.
func stepKey(s Step) string {
	return s.Role + "|" + s.StepType + "|" + s.EmployeeName
}

// insertVirtualPackerCompletion compensates for histories where the packer
// stage completion was never logged: a courier start implies it. Older
// backends skipped the log line; once none remain in the wild this can go.
func insertVirtualPackerCompletion(steps []Step) []Step {
	courierIdx := -1
	for i, s := range steps {
		if s.Role == enum.RoleCourier && s.StepType == enum.StepStarted {
			courierIdx = i
			break
		}
	}
	if courierIdx < 0 {
		return steps
	}
	for _, s := range steps[:courierIdx] {
		if s.Role == enum.RolePacker && s.StepType == enum.StepCompleted {
			return steps
		}
	}

	virtual := Step{
		Status:           enum.OrderStatusInDelivery,
		Role:             enum.RolePacker,
		RoleLabel:        enum.RoleLabel(enum.RolePacker),
		StepType:         enum.StepCompleted,
		EmployeePosition: enum.RoleLabel(enum.RolePacker),
		CreatedAt:        steps[courierIdx].CreatedAt,
		IsVirtual:        true,
	}
	out := make([]Step, 0, len(steps)+1)
	out = append(out, steps[:courierIdx]...)
	out = append(out, virtual)
	out = append(out, steps[courierIdx:]...)
	return out
}
