package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
)

// CLI renders migrator operations for a terminal.
type CLI struct {
	migrator Migrator
	output   io.Writer
}

// NewCLI writes to stdout until SetOutput is called.
func NewCLI(migrator Migrator) *CLI {
	return &CLI{migrator: migrator, output: os.Stdout}
}

// SetOutput sets the output writer for CLI messages
func (c *CLI) SetOutput(w io.Writer) {
	c.output = w
}

// Commands lists the verbs accepted by Run.
var Commands = []string{"up", "down", "down-all", "steps", "goto", "force", "version", "status", "info"}

// Run dispatches a migrate sub-command. arg carries the numeric operand of
// steps, goto and force.
func (c *CLI) Run(ctx context.Context, command, arg string) error {
	switch command {
	case "up":
		return c.RunUp(ctx)
	case "down":
		return c.RunDown(ctx)
	case "down-all":
		return c.RunDownAll(ctx)
	case "version":
		return c.RunVersion(ctx)
	case "status":
		return c.RunStatus(ctx)
	case "info":
		return c.RunInfo(ctx)
	case "steps", "goto", "force":
		n, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("%s needs a numeric argument, got %q", command, arg)
		}
		switch command {
		case "steps":
			return c.RunSteps(ctx, n)
		case "goto":
			if n < 0 {
				return fmt.Errorf("goto needs a non-negative version, got %d", n)
			}
			return c.RunGoto(ctx, uint(n))
		default:
			return c.RunForce(ctx, n)
		}
	default:
		return fmt.Errorf("unknown migrate command %q (want one of %v)", command, Commands)
	}
}

// mutate prints banner, runs op and reports the resulting version.
func (c *CLI) mutate(ctx context.Context, banner string, op func(context.Context) error) error {
	fmt.Fprintln(c.output, banner)
	if err := op(ctx); err != nil {
		return err
	}
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return err
	}
	c.printVersion(version, dirty)
	return nil
}

func (c *CLI) printVersion(version uint, dirty bool) {
	if version == 0 {
		fmt.Fprintln(c.output, "No migrations applied yet.")
		return
	}
	suffix := ""
	if dirty {
		suffix = " (dirty)"
	}
	fmt.Fprintf(c.output, "Current version: %d%s\n", version, suffix)
}

func (c *CLI) RunUp(ctx context.Context) error {
	return c.mutate(ctx, "Applying pending agents-table migrations...", c.migrator.Up)
}

func (c *CLI) RunDown(ctx context.Context) error {
	return c.mutate(ctx, "Rolling back the last migration...", c.migrator.Down)
}

func (c *CLI) RunDownAll(ctx context.Context) error {
	return c.mutate(ctx, "Rolling back every migration...", c.migrator.DownAll)
}

// RunSteps applies n migrations when positive and rolls back -n otherwise.
func (c *CLI) RunSteps(ctx context.Context, n int) error {
	banner := fmt.Sprintf("Applying %d migration(s)...", n)
	if n < 0 {
		banner = fmt.Sprintf("Rolling back %d migration(s)...", -n)
	}
	return c.mutate(ctx, banner, func(ctx context.Context) error { return c.migrator.Steps(ctx, n) })
}

func (c *CLI) RunGoto(ctx context.Context, version uint) error {
	return c.mutate(ctx, fmt.Sprintf("Migrating to version %d...", version),
		func(ctx context.Context) error { return c.migrator.Goto(ctx, version) })
}

// RunForce records version without running SQL. Use it to clear a dirty
// state after fixing a failed migration by hand.
func (c *CLI) RunForce(ctx context.Context, version int) error {
	return c.mutate(ctx, fmt.Sprintf("Forcing version to %d...", version),
		func(ctx context.Context) error { return c.migrator.Force(ctx, version) })
}

func (c *CLI) RunVersion(ctx context.Context) error {
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return err
	}
	c.printVersion(version, dirty)
	return nil
}

// RunStatus prints one row per embedded migration and a summary line.
func (c *CLI) RunStatus(ctx context.Context) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		fmt.Fprintln(c.output, "No migrations found.")
		return nil
	}

	applied := 0
	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATUS")
	for _, s := range statuses {
		state := "pending"
		switch {
		case s.Dirty:
			state = "dirty"
		case s.Applied:
			state = "applied"
		}
		if s.Applied {
			applied++
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\n", s.Version, s.Name, state)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(c.output, "\nTotal: %d, Applied: %d, Pending: %d\n", len(statuses), applied, len(statuses)-applied)
	return nil
}

func (c *CLI) RunInfo(ctx context.Context) error {
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Current version:\t%d\n", info.CurrentVersion)
	fmt.Fprintf(w, "Dirty:\t%v\n", info.Dirty)
	fmt.Fprintf(w, "Total:\t%d\n", info.TotalMigrations)
	fmt.Fprintf(w, "Applied:\t%d\n", info.AppliedMigrations)
	fmt.Fprintf(w, "Pending:\t%d\n", info.PendingMigrations)
	return w.Flush()
}
