package alarms

import "strings"

// ExpandPlaceholders expands the fixed %X vocabulary against ctx: %n
// alarm name, %s annotated source, %v current value, %u units, %t
// value time, %e entrance text, %x exit text, %c condition name, %%,
// plus the supplemented %d (fire date) and %a (firing action's type).
// Any other %X is offered to ctx.UnknownPlaceholder before being
// passed through verbatim (spec §4.4, SPEC_FULL.md §C). Used by email
// subject/body rendering and exec argv expansion, which share this
// vocabulary (spec §4.4 "exec: ... using the same %X vocabulary as
// email").
func ExpandPlaceholders(template string, ctx TriggerContext) string {
	var b strings.Builder
	for i := 0; i < len(template); i++ {
		ch := template[i]
		if ch != '%' || i == len(template)-1 {
			b.WriteByte(ch)
			continue
		}
		i++
		code := template[i]
		switch code {
		case 'n':
			b.WriteString(ctx.AlarmName)
		case 's':
			b.WriteString(ctx.SourceAnnotated)
		case 'v':
			b.WriteString(ctx.LastValue.String())
		case 'u':
			b.WriteString(ctx.Units)
		case 't':
			b.WriteString(ctx.LastValue.Stamp.Format("2006-01-02T15:04:05Z07:00"))
		case 'e':
			b.WriteString(ctx.Entrance)
		case 'x':
			b.WriteString(ctx.Exit)
		case 'c':
			b.WriteString(ctx.ConditionName)
		case 'd':
			b.WriteString(ctx.FiredAt.Format("2006-01-02"))
		case 'a':
			b.WriteString(ctx.ActionType)
		case '%':
			b.WriteByte('%')
		default:
			if ctx.UnknownPlaceholder != nil {
				if repl, ok := ctx.UnknownPlaceholder(code); ok {
					b.WriteString(repl)
					continue
				}
			}
			b.WriteByte('%')
			b.WriteByte(code)
		}
	}
	return b.String()
}
