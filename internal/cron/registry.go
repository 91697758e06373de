package cron

import (
	"context"
	"fmt"
)

// Job is one step of the settlement cycle.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry holds the settlement jobs in execution order. Order matters:
// account sync must land before the payout scheduler reads readiness.
type Registry struct {
	jobs  []Job
	index map[string]int
}

// NewRegistry registers jobs in order, skipping nils.
func NewRegistry(jobs ...Job) (*Registry, error) {
	r := &Registry{index: make(map[string]int, len(jobs))}
	for _, job := range jobs {
		if err := r.Register(job); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends job to the cycle. Names key metrics and logs, so they must
// be unique and non-empty.
func (r *Registry) Register(job Job) error {
	if job == nil {
		return nil
	}
	name := job.Name()
	if name == "" {
		return fmt.Errorf("cron job %T has no name", job)
	}
	if _, dup := r.index[name]; dup {
		return fmt.Errorf("cron job %q registered twice", name)
	}
	r.index[name] = len(r.jobs)
	r.jobs = append(r.jobs, job)
	return nil
}

func (r *Registry) Lookup(name string) (Job, bool) {
	i, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.jobs[i], true
}

func (r *Registry) Names() []string {
	names := make([]string, len(r.jobs))
	for i, job := range r.jobs {
		names[i] = job.Name()
	}
	return names
}

// Jobs returns a copy of the cycle.
func (r *Registry) Jobs() []Job {
	return append([]Job(nil), r.jobs...)
}
