package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/me/clusterq/pkg/model"
)

// plan is the set of commands a job decomposed into, with the results
// reported so far. Guarded by Loop.mu.
type plan struct {
	commands []model.Command
	results  map[string]model.CommandResult // by command ID
}

func newPlan(cmds []model.Command) *plan {
	return &plan{commands: cmds, results: make(map[string]model.CommandResult)}
}

// buildCommands creates one Command per task of spec.
func buildCommands(id model.JobID, spec model.JobSpec, newID func() string, now time.Time) []model.Command {
	cmds := make([]model.Command, 0, len(spec.Tasks))
	for _, t := range spec.Tasks {
		cmds = append(cmds, model.Command{
			ID:        newID(),
			JobID:     id,
			Host:      t.Host,
			Kind:      t.Kind,
			Target:    t.Target,
			Params:    t.Params,
			CreatedAt: now,
		})
	}
	return cmds
}

// match finds the planned command a result refers to: by ID when present,
// otherwise by equality key on the reporting host.
func (p *plan) match(r model.CommandResult) (model.Command, bool) {
	for _, c := range p.commands {
		if r.CommandID != "" {
			if c.ID == r.CommandID {
				return c, true
			}
			continue
		}
		if c.Key() == r.Key() && (r.Host == "" || c.Host == r.Host) {
			return c, true
		}
	}
	return model.Command{}, false
}

// record stores a terminal result for cmd. RUNNING results are not
// recorded: they only signal progress.
func (p *plan) record(cmd model.Command, r model.CommandResult) {
	if r.Status == model.CommandRunning {
		return
	}
	p.results[cmd.ID] = r
}

// succeeded reports whether every planned command reported SUCCESS.
func (p *plan) succeeded() bool {
	for _, c := range p.commands {
		if r, ok := p.results[c.ID]; !ok || r.Status != model.CommandSuccess {
			return false
		}
	}
	return true
}

// completion builds the Completed event once every command succeeded. The
// completion time is the latest command completion. Recorded results
// always carry CompletedAt.
func (p *plan) completion(id model.JobID) model.Completed {
	var latest time.Time
	var report model.JobReport
	var stdout, stderr []string
	for _, c := range p.commands {
		r := p.results[c.ID]
		if r.CompletedAt != nil && r.CompletedAt.After(latest) {
			latest = r.CompletedAt.UTC()
		}
		if r.ExitCode > report.ExitCode {
			report.ExitCode = r.ExitCode
		}
		header := fmt.Sprintf("[%s %s %s]", c.Host, c.Kind, c.Target)
		if r.Stdout != "" {
			stdout = append(stdout, header+"\n"+strings.TrimRight(r.Stdout, "\n"))
		}
		if r.Stderr != "" {
			stderr = append(stderr, header+"\n"+strings.TrimRight(r.Stderr, "\n"))
		}
	}
	report.Stdout = strings.Join(stdout, "\n")
	report.Stderr = strings.Join(stderr, "\n")
	return model.Completed{Job: id, CompletionTime: latest, Report: report}
}

// failureReason describes a FAILED result.
func failureReason(cmd model.Command, r model.CommandResult) string {
	if r.Reason != "" {
		return fmt.Sprintf("%s %s on %s: %s", cmd.Kind, cmd.Target, cmd.Host, r.Reason)
	}
	return fmt.Sprintf("%s %s on %s exited with code %d", cmd.Kind, cmd.Target, cmd.Host, r.ExitCode)
}
