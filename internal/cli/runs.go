package cli

import (
	"fmt"
	"io"

	"github.com/studiowebux/taskload/internal/filter"
	"github.com/studiowebux/taskload/internal/report"
	"github.com/studiowebux/taskload/internal/stresstest"
)

// RunsOptions controls how stored runs are selected and printed
type RunsOptions struct {
	DBPath      string
	Limit       int
	Format      string // text, json or yaml
	Query       string // JMESPath applied to the JSON form; implies JSON output
	Statuses    []string
	NamePattern string
}

// ListRuns prints the most recent stored runs matching the status and name
// filters, at most opts.Limit of them when it is positive
func ListRuns(opts RunsOptions, out io.Writer) error {
	manager, err := stresstest.NewManager(opts.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	defer manager.Close()

	criteria := filter.Criteria{Statuses: opts.Statuses, NamePattern: opts.NamePattern}

	// The limit counts matching runs, so a filtered listing reads them all
	limit := opts.Limit
	if !criteria.IsZero() {
		limit = 0
	}
	runs, err := manager.ListRuns(limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	runs, err = filter.Runs(runs, criteria)
	if err != nil {
		return err
	}
	if opts.Limit > 0 && len(runs) > opts.Limit {
		runs = runs[:opts.Limit]
	}

	return printRuns(runs, opts, out, func() string { return report.Runs(runs) })
}

// ShowRun prints one stored run with its checks, requests and thresholds
func ShowRun(opts RunsOptions, id int64, out io.Writer) error {
	manager, err := stresstest.NewManager(opts.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	defer manager.Close()

	run, err := manager.GetRunDetails(id)
	if err != nil {
		return err
	}

	return printRuns(run, opts, out, func() string { return report.Run(run) })
}

func printRuns(v any, opts RunsOptions, out io.Writer, text func() string) error {
	var output string
	var err error
	if opts.Query != "" {
		output, err = filter.Apply(v, "", opts.Query)
	} else {
		output, err = formatOutput(v, opts.Format, text)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(out, output)
	return nil
}

// DeleteRun removes a stored run
func DeleteRun(dbPath string, id int64) error {
	manager, err := stresstest.NewManager(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	defer manager.Close()

	return manager.DeleteRun(id)
}
