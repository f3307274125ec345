package notify

import (
	"fmt"
	"strings"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
)

// Format renders a lifecycle event as an operator message.
func Format(ev domain.LifecycleEvent) Message {
	msg := Message{Event: ev.Event, Severity: SeverityInfo}
	var b strings.Builder
	p := ev.Position

	switch ev.Event {
	case domain.EventOpened:
		msg.Title = fmt.Sprintf("Opened %s %s", direction(p), ev.Instrument)
		if p != nil {
			fmt.Fprintf(&b, "size %g @ %g\nstop %g", p.Size, p.EntryPrice, p.StopLoss)
			if p.TakeProfit > 0 {
				fmt.Fprintf(&b, "\ntake profit %g", p.TakeProfit)
			}
		}
	case domain.EventUpdated:
		msg.Title = fmt.Sprintf("Updated %s", ev.Instrument)
		if p != nil {
			fmt.Fprintf(&b, "phase %s, stop %g", p.Phase, p.ProtectivePrice())
		}
		if t := ev.Trade; t != nil && t.Partial {
			msg.Title = fmt.Sprintf("Partial exit %s", ev.Instrument)
			fmt.Fprintf(&b, "\nclosed %g @ %g, pnl %.2f", t.Size, t.ExitPrice, t.PnL)
		}
	case domain.EventClosed:
		msg.Title = fmt.Sprintf("Closed %s", ev.Instrument)
		if t := ev.Trade; t != nil {
			fmt.Fprintf(&b, "%s %g @ %g -> %g\nreason %s, pnl %.2f",
				t.Direction, t.Size, t.EntryPrice, t.ExitPrice, t.Reason, t.PnL)
			if t.Reason.IsStopOut() {
				msg.Severity = SeverityWarning
			}
		}
	case domain.EventRollback:
		msg.Title = fmt.Sprintf("Entry rolled back on %s", ev.Instrument)
		msg.Severity = SeverityWarning
	case domain.EventStopMissing:
		msg.Title = fmt.Sprintf("Stop missing on %s", ev.Instrument)
		msg.Severity = SeverityWarning
	case domain.EventRollbackFailed:
		msg.Title = fmt.Sprintf("ROLLBACK FAILED on %s: unprotected position", ev.Instrument)
		msg.Severity = SeverityCritical
	case domain.EventEmergency:
		msg.Title = fmt.Sprintf("EMERGENCY close on %s", ev.Instrument)
		msg.Severity = SeverityCritical
	case domain.EventReconciled:
		msg.Title = "Reconciliation complete"
	default:
		msg.Title = fmt.Sprintf("%s %s", ev.Event, ev.Instrument)
	}

	if ev.Message != "" {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(ev.Message)
	}
	msg.Body = b.String()
	return msg
}

func direction(p *domain.Position) string {
	if p == nil {
		return ""
	}
	return strings.ToUpper(string(p.Direction))
}
