// Command liftcurator curates a LIFT lexicon held in a document store:
// loading documents, validating the range hierarchy, finding usages of range
// values, and migrating them in bulk.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"

	"github.com/mkalland/liftcurator/pkg/lift"
	"github.com/mkalland/liftcurator/pkg/logging"
	"github.com/mkalland/liftcurator/pkg/migrate"
	"github.com/mkalland/liftcurator/pkg/ranges"
	"github.com/mkalland/liftcurator/pkg/store"
	"github.com/mkalland/liftcurator/pkg/usage"
)

const version = "0.1.0"

// CLI defines the command-line interface for liftcurator.
var CLI struct {
	DB      string `name:"db" default:"lexicon.db" help:"Path to the SQLite document store"`
	Verbose bool   `short:"v" help:"Enable debug logging"`

	Load    LoadCmd      `cmd:"" help:"Load a .lift file's entries into the store"`
	Ranges  RangesGroup  `cmd:"" help:"Range registry operations (load, validate, tree, delete)"`
	Usage   UsageCmd     `cmd:"" help:"List every entry field referencing a range value"`
	Migrate MigrateGroup `cmd:"" help:"Bulk-rewrite or remove usages of a range value"`
	Version VersionCmd   `cmd:"" help:"Print version information"`
}

type appContext struct {
	ctx    context.Context
	store  *store.SQLiteStore
	logger zerolog.Logger
}

func (a *appContext) registry() (*ranges.Registry, error) {
	raw, err := a.store.GetRangesDoc(a.ctx)
	if err != nil {
		return nil, fmt.Errorf("no ranges document loaded: %w", err)
	}
	return ranges.ParseRanges(raw)
}

func (a *appContext) saveRegistry(reg *ranges.Registry) error {
	out, err := reg.SerializeRanges()
	if err != nil {
		return err
	}
	return a.store.PutRangesDoc(a.ctx, out)
}

// LoadCmd loads every entry of a .lift file into the document store, one
// document per entry, re-serialized through the codec.
type LoadCmd struct {
	Path string `arg:"" type:"existingfile" help:"Path to the .lift file"`
}

func (c *LoadCmd) Run(app *appContext) error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return err
	}
	entries, err := lift.ParseCollection(data)
	if err != nil {
		return fmt.Errorf("load %s: %w", c.Path, err)
	}
	for _, e := range entries {
		doc, err := lift.SerializeEntry(e)
		if err != nil {
			return fmt.Errorf("load %s: entry %s: %w", c.Path, e.ID, err)
		}
		if err := app.store.Put(app.ctx, e.ID, doc); err != nil {
			return err
		}
	}
	app.logger.Info().Int("entries", len(entries)).Str("file", c.Path).Msg("loaded")
	return nil
}

// RangesGroup holds the registry subcommands.
type RangesGroup struct {
	Load          RangesLoadCmd     `cmd:"" help:"Load a .lift-ranges document into the store"`
	Validate      RangesValidateCmd `cmd:"" help:"Check id uniqueness and hierarchy integrity"`
	Tree          RangesTreeCmd     `cmd:"" help:"Print a range's element tree in pre-order"`
	DeleteElement DeleteElementCmd  `cmd:"" name:"delete-element" help:"Delete a range element (usage-guarded)"`
	DeleteRange   DeleteRangeCmd    `cmd:"" name:"delete-range" help:"Delete a whole range (usage-guarded)"`
}

type RangesLoadCmd struct {
	Path string `arg:"" type:"existingfile" help:"Path to the .lift-ranges file"`
}

func (c *RangesLoadCmd) Run(app *appContext) error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return err
	}
	reg, err := ranges.ParseRanges(data)
	if err != nil {
		return fmt.Errorf("load ranges %s: %w", c.Path, err)
	}
	if err := app.store.PutRangesDoc(app.ctx, data); err != nil {
		return err
	}
	app.logger.Info().Int("ranges", len(reg.RangeIDs())).Str("file", c.Path).Msg("ranges loaded")
	return nil
}

type RangesValidateCmd struct{}

func (c *RangesValidateCmd) Run(app *appContext) error {
	reg, err := app.registry()
	if err != nil {
		return err
	}
	if err := reg.Validate(); err != nil {
		return err
	}
	fmt.Printf("ok: %d ranges valid\n", len(reg.RangeIDs()))
	return nil
}

type RangesTreeCmd struct {
	Range string `arg:"" help:"Range id"`
}

func (c *RangesTreeCmd) Run(app *appContext) error {
	reg, err := app.registry()
	if err != nil {
		return err
	}
	r := reg.Range(c.Range)
	if r == nil {
		return fmt.Errorf("unknown range %q", c.Range)
	}
	depth := make(map[string]int)
	for _, el := range r.PreOrder() {
		d := 0
		if el.Parent != "" {
			d = depth[el.Parent] + 1
		}
		depth[el.ID] = d
		fmt.Printf("%s%s\t%s\n", strings.Repeat("  ", d), el.ID, el.Label.First())
	}
	return nil
}

type DeleteElementCmd struct {
	Range   string `arg:"" help:"Range id"`
	Element string `arg:"" help:"Element id"`
	Force   bool   `help:"Delete even with live usages"`
}

func (c *DeleteElementCmd) Run(app *appContext) error {
	reg, err := app.registry()
	if err != nil {
		return err
	}
	en := migrate.NewEngine(app.store)
	en.Logger = app.logger
	if err := en.DeleteElement(app.ctx, reg, c.Range, c.Element, c.Force); err != nil {
		return err
	}
	return app.saveRegistry(reg)
}

type DeleteRangeCmd struct {
	Range string `arg:"" help:"Range id"`
	Force bool   `help:"Delete even with live usages"`
}

func (c *DeleteRangeCmd) Run(app *appContext) error {
	reg, err := app.registry()
	if err != nil {
		return err
	}
	en := migrate.NewEngine(app.store)
	en.Logger = app.logger
	if err := en.DeleteRange(app.ctx, reg, c.Range, c.Force); err != nil {
		return err
	}
	return app.saveRegistry(reg)
}

// UsageCmd streams (entry, field path) pairs for a range value.
type UsageCmd struct {
	Range   string `arg:"" help:"Range id"`
	Element string `arg:"" optional:"" help:"Element id (omit to match any value)"`
}

func (c *UsageCmd) Run(app *appContext) error {
	analyzer := usage.NewAnalyzer(app.store)
	analyzer.Logger = app.logger
	cur, err := analyzer.Scan(app.ctx, c.Range, c.Element)
	if err != nil {
		return err
	}
	defer cur.Close()
	n := 0
	for cur.Next() {
		u := cur.Usage()
		fmt.Printf("%s\t%s\n", u.EntryID, u.FieldPath)
		n++
	}
	if err := cur.Err(); err != nil {
		return err
	}
	app.logger.Info().Int("usages", n).Msg("scan complete")
	return nil
}

// MigrateGroup holds the two dispositions.
type MigrateGroup struct {
	Replace MigrateReplaceCmd `cmd:"" help:"Rewrite every usage of a value to a new value"`
	Remove  MigrateRemoveCmd  `cmd:"" help:"Remove every usage of a value"`
}

type MigrateFlags struct {
	DryRun  bool `name:"dry-run" help:"Count affected entries without writing"`
	Strict  bool `help:"Abort the batch on the first entry failure"`
	Diff    bool `help:"Show per-entry previews on dry runs"`
	Workers int  `default:"4" help:"Concurrent entry rewrites"`
}

func (f *MigrateFlags) run(app *appContext, p *migrate.Plan) error {
	en := migrate.NewEngine(app.store)
	en.Workers = f.Workers
	en.Strict = f.Strict
	en.Diff = f.Diff
	en.Logger = app.logger

	mode := migrate.Execute
	if f.DryRun {
		mode = migrate.DryRun
	}
	report, err := en.Run(app.ctx, p, mode)
	if err != nil {
		return err
	}
	fmt.Printf("%s: entries_affected=%d fields_updated=%d\n",
		report.State, report.EntriesAffected, report.FieldsUpdated)
	for id, diff := range report.Diffs {
		fmt.Printf("--- %s ---\n%s\n", id, diff)
	}
	if pf := report.PartialFailure(); pf != nil {
		return pf
	}
	if len(report.AbortedIDs) > 0 {
		fmt.Printf("aborted before dispatch: %s\n", strings.Join(report.AbortedIDs, ", "))
	}
	return nil
}

type MigrateReplaceCmd struct {
	MigrateFlags
	Range string `arg:"" help:"Range id"`
	Old   string `arg:"" help:"Value to replace"`
	New   string `arg:"" help:"Replacement value"`
}

func (c *MigrateReplaceCmd) Run(app *appContext) error {
	return c.run(app, migrate.NewPlan(c.Range, c.Old, migrate.ReplaceWith, c.New))
}

type MigrateRemoveCmd struct {
	MigrateFlags
	Range string `arg:"" help:"Range id"`
	Value string `arg:"" help:"Value to remove"`
}

func (c *MigrateRemoveCmd) Run(app *appContext) error {
	return c.run(app, migrate.NewPlan(c.Range, c.Value, migrate.Remove, ""))
}

type VersionCmd struct{}

func (c *VersionCmd) Run(app *appContext) error {
	fmt.Println("liftcurator", version)
	return nil
}

func main() {
	kctx := kong.Parse(&CLI,
		kong.Name("liftcurator"),
		kong.Description("Curate a LIFT lexicon: codecs, range integrity, usage analysis, migrations."),
		kong.UsageOnError(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := logging.Default(CLI.Verbose)
	st, err := store.OpenSQLite(CLI.DB)
	if err != nil {
		logger.Fatal().Err(err).Msg("open store")
	}
	defer st.Close()

	app := &appContext{ctx: ctx, store: st, logger: logger}
	if err := kctx.Run(app); err != nil {
		logger.Fatal().Err(err).Msg("command failed")
	}
}
