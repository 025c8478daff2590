package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"operatorkit/internal/config"
	"operatorkit/internal/event"
	"operatorkit/internal/operator"
	"operatorkit/internal/workflow"
	pkgstrings "operatorkit/pkg/strings"
)

// maxErrorWidth bounds the error column of the resources table.
const maxErrorWidth = 80

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle(title)
	return t
}

func orDefault(v string, def string) string {
	if v == "" {
		return text.FgHiBlack.Sprint(def)
	}
	return v
}

func durationOr(d time.Duration, def string) string {
	if d <= 0 {
		return text.FgHiBlack.Sprint(def)
	}
	return d.String()
}

func describeRetry(r config.RetryConfig) string {
	p := r.Policy()
	attempts := fmt.Sprintf("%d attempts", p.MaxAttempts())
	if p.MaxAttempts() < 0 {
		attempts = "unlimited"
	}
	limit := "up to " + p.MaxInterval().String()
	if p.MaxInterval() < 0 {
		limit = "uncapped"
	}
	return fmt.Sprintf("%s, %s x%.1f %s", attempts, p.InitialInterval(), p.Multiplier(), limit)
}

func describeRateLimit(r config.RateLimitConfig) string {
	if r.Period <= 0 || r.Limit <= 0 {
		return text.FgHiBlack.Sprint("none")
	}
	return fmt.Sprintf("%d per %s", r.Limit, r.Period.D())
}

// renderSettings prints the effective settings of each named controller.
func renderSettings(w io.Writer, cfg config.OperatorConfig, controllers []string) {
	t := newTable(w, "Controllers")
	t.AppendHeader(table.Row{"Controller", "Workers", "Timeout", "Namespaces", "Retry", "Rate limit", "Max interval", "Finalizer"})
	for _, name := range controllers {
		s := cfg.For(name)
		workers := "unbounded"
		if s.Workers > 0 {
			workers = fmt.Sprint(s.Workers)
		}
		t.AppendRow(table.Row{
			text.Bold.Sprint(name),
			workers,
			durationOr(s.ReconcileTimeout, "none"),
			orDefault(strings.Join(s.Namespaces, ","), "all"),
			describeRetry(s.Retry),
			describeRateLimit(s.RateLimit),
			durationOr(s.MaxReconciliationInterval, "none"),
			orDefault(s.Finalizer, name+".operatorkit.dev/finalizer"),
		})
	}
	t.Render()
}

// renderLevels prints the dependents of a workflow level by level.
func renderLevels(w io.Writer, title string, wf *workflow.Workflow) {
	t := newTable(w, title)
	t.AppendHeader(table.Row{"Level", "Dependent", "Depends on", "Conditions"})
	for i, level := range wf.Levels() {
		for _, name := range level {
			node, _ := wf.Node(name)
			var conds []string
			for _, kind := range []workflow.ConditionKind{
				workflow.Activation,
				workflow.ReconcilePrecondition,
				workflow.ReadyPostcondition,
				workflow.DeletePostcondition,
			} {
				if _, ok := node.Condition(kind); ok {
					conds = append(conds, string(kind))
				}
			}
			t.AppendRow(table.Row{i, name, orDefault(strings.Join(node.DependsOn(), ", "), "-"), orDefault(strings.Join(conds, ", "), "-")})
		}
	}
	t.Render()
}

func colorState(s event.State) string {
	switch s {
	case event.StateSynced:
		return text.FgGreen.Sprint(s)
	case event.StatePending, event.StateReconciling:
		return text.FgYellow.Sprint(s)
	case event.StateError, event.StateFailed:
		return text.FgRed.Sprint(s)
	default:
		return string(s)
	}
}

// renderStatuses prints the reconciliation status of every known resource.
func renderStatuses(w io.Writer, statuses []operator.ResourceStatus) {
	t := newTable(w, "Resources")
	t.AppendHeader(table.Row{"Controller", "Resource", "State", "Retries", "Last reconciled", "Last error"})
	for _, st := range statuses {
		last := "-"
		if st.LastReconcileTime != nil {
			last = st.LastReconcileTime.Format(time.RFC3339)
		}
		t.AppendRow(table.Row{st.Controller, st.ID.String(), colorState(st.State), st.RetryCount, last, orDefault(pkgstrings.Truncate(st.LastError, maxErrorWidth), "-")})
	}
	t.Render()
}

// renderMetrics prints the per-controller counters.
func renderMetrics(w io.Writer, m *event.InMemoryMetrics) {
	t := newTable(w, "Metrics")
	t.AppendHeader(table.Row{"Controller", "Events", "Attempts", "Retries", "Successes", "Failures", "Exhausted", "Rate limited", "Avg duration"})
	for _, name := range m.Controllers() {
		s := m.Summary(name)
		t.AppendRow(table.Row{name, s.EventsReceived, s.ReconcileAttempts, s.ReconcileRetries, s.ReconcileSuccesses, s.ReconcileFailures, s.RetriesExhausted, s.RateLimited, s.AverageDuration})
	}
	t.Render()
}
