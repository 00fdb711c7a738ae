package decision

import (
	"regexp"
	"strings"
	"time"

	"github.com/foxzi/prospector/internal/models"
)

// Vars are the per-contact values substituted into persona text
type Vars map[string]string

var weekdays = [...]string{
	time.Sunday:    "Domingo",
	time.Monday:    "Segunda-feira",
	time.Tuesday:   "Terça-feira",
	time.Wednesday: "Quarta-feira",
	time.Thursday:  "Quinta-feira",
	time.Friday:    "Sexta-feira",
	time.Saturday:  "Sábado",
}

// WeekdayName returns the Portuguese name of d
func WeekdayName(d time.Weekday) string {
	return weekdays[d]
}

// NewVars builds the variables for contact at time now
func NewVars(contact *models.Contact, observations string, now time.Time) Vars {
	return Vars{
		"nome_contato":        contact.FirstName(),
		"data_atual":          now.Format("02/01/2006"),
		"dia_semana":          WeekdayName(now.Weekday()),
		"observacoes_contato": observations,
	}
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// Substitute replaces {{name}} placeholders with their values. Unknown
// names are left in place.
func Substitute(text string, vars Vars) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	return placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}

// HasPlaceholder reports whether text still carries a {{name}} placeholder
func HasPlaceholder(text string) bool {
	return placeholderRe.MatchString(text)
}

// Resolve returns a copy of p with every text field substituted
func Resolve(p *models.Persona, vars Vars) models.Persona {
	out := *p
	out.Instructions = Substitute(p.Instructions, vars)
	out.Context = Substitute(p.Context, vars)
	out.OpeningHint = Substitute(p.OpeningHint, vars)
	out.ReplyHint = Substitute(p.ReplyHint, vars)
	out.FollowupHint = Substitute(p.FollowupHint, vars)
	return out
}
