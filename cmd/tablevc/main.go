// Package main implements the tablevc binary: version control for tabular
// and geospatial datasets. Subcommands: diff, show, apply.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tablevc/tablevc/internal/app"
	"github.com/tablevc/tablevc/internal/config"
	"github.com/tablevc/tablevc/internal/diff"
	"github.com/tablevc/tablevc/internal/errors"
	"github.com/tablevc/tablevc/internal/filter"
	"github.com/tablevc/tablevc/internal/geometry"
	"github.com/tablevc/tablevc/internal/object"
	"github.com/tablevc/tablevc/internal/patch"
	"github.com/tablevc/tablevc/internal/writer"
	"github.com/tablevc/tablevc/pkg/types"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "diff":
		err = runDiff(os.Args[2:])
	case "show":
		err = runShow(os.Args[2:])
	case "apply":
		err = runApply(os.Args[2:])
	case "version", "--version":
		fmt.Printf("tablevc version %s (commit: %s)\n", version, commit)
		return
	case "help", "--help", "-h":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "tablevc: unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	if err != nil {
		if code, ok := err.(exitCode); ok {
			os.Exit(int(code))
		}
		fmt.Fprintf(os.Stderr, "tablevc: %v\n", err)
		os.Exit(errors.ExitCode(err))
	}
}

// exitCode carries a bare exit status through the error return without a
// message (the diff body already went to stdout).
type exitCode int

func (e exitCode) Error() string {
	return fmt.Sprintf("exit code %d", int(e))
}

func usage() {
	fmt.Fprintf(os.Stderr, `tablevc - version control for tabular and geospatial datasets

Usage: tablevc <command> [options]

Commands:
  diff    Show changes between commits, or a commit and the working copy
  show    Show a commit's metadata and changes
  apply   Apply a patch file to the repository
  version Show version information

Run "tablevc <command> -h" for command options.
`)
}

// loadConfig builds the session config from file, environment and flags.
func loadConfig(configFile, repoDir string) (*config.Config, error) {
	if err := config.LoadEnvFile(""); err != nil {
		return nil, err
	}
	cfg := config.DefaultConfig()
	if configFile != "" {
		loaded, err := config.LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)
	if repoDir != "" {
		cfg.RepoDir = repoDir
	}
	cfg.Resolve()
	return cfg, nil
}

func runDiff(args []string) error {
	fs := flag.NewFlagSet("diff", flag.ExitOnError)
	var (
		configFile string
		repoDir    string
		format     string
		outputDir  string
		advanced   bool
		crs        string
		bbox       string
		accuracy   string
	)
	fs.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	fs.StringVar(&repoDir, "repo", "", "Repository directory")
	fs.StringVar(&format, "output-format", "", "Output format: text, json, json-lines, geojson, html, quiet")
	fs.StringVar(&outputDir, "output", "", "Output directory for per-dataset geojson files")
	fs.BoolVar(&advanced, "advanced", false, "Use unambiguous --/++ markers in JSON output")
	fs.StringVar(&bbox, "spatial-filter", "", "Bounding-box spatial filter: minx,miny,maxx,maxy")
	fs.StringVar(&crs, "spatial-filter-crs", "", "CRS name of the spatial filter coordinates")
	fs.StringVar(&accuracy, "estimate-accuracy", "", "Feature-count estimate tier: veryfast, fast, medium, good, exact")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tablevc diff [options] [COMMIT-SPEC] [FILTER...]\n\n")
		fmt.Fprintf(os.Stderr, "COMMIT-SPEC forms:\n")
		fmt.Fprintf(os.Stderr, "  (empty)   HEAD against the working copy\n")
		fmt.Fprintf(os.Stderr, "  A         A against HEAD plus working-copy changes\n")
		fmt.Fprintf(os.Stderr, "  A..B      common ancestor of A and B, against B\n")
		fmt.Fprintf(os.Stderr, "  A...B     A against B directly\n\n")
		fmt.Fprintf(os.Stderr, "FILTER is dataset[:item-type[:key]], repeatable.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	cfg, err := loadConfig(configFile, repoDir)
	if err != nil {
		return err
	}
	if format == "" {
		format = cfg.Diff.Format
	}
	if accuracy == "" {
		accuracy = cfg.Diff.EstimateAccuracy
	}
	advanced = advanced || cfg.Diff.Advanced

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	spec, patterns := splitSpecAndFilters(fs.Args())
	keyFilter, err := filter.BuildFromUserPatterns(patterns)
	if err != nil {
		return err
	}
	spatial, err := parseSpatialFilter(bbox, crs)
	if err != nil {
		return err
	}

	wc, err := a.WorkingCopy(ctx)
	if err != nil {
		return err
	}
	var checker writer.WorkingCopyChecker
	if wc != nil {
		checker = wc
	}
	rng, err := writer.ParseCommitSpec(ctx, a.Repo(), checker, spec)
	if err != nil {
		return err
	}

	opts := writer.Options{
		Format:             writer.Format(format),
		Out:                os.Stdout,
		ErrOut:             os.Stderr,
		KeyFilter:          keyFilter,
		Spatial:            spatial,
		RecordSpatialStats: !spatial.IsMatchAll(),
		Promisor:           a.ODB().Promisor(),
		Advanced:           advanced,
		OutputDir:          outputDir,
	}
	if writer.Format(format) == writer.FormatJSONLines && accuracy != "" && accuracy != "exact" {
		opts.EstimateAccuracy = diff.Accuracy(accuracy)
		if memo, err := a.Annotations(); err == nil {
			opts.EstimateMemo = memo
		}
	}

	dw, err := writer.New(a.Repo(), rng, opts)
	if err != nil {
		return err
	}
	if err := dw.WriteDiff(ctx); err != nil {
		return err
	}
	code, err := dw.ExitCode()
	if err != nil {
		return err
	}
	if code != 0 {
		return exitCode(code)
	}
	return nil
}

func runShow(args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	var (
		configFile string
		repoDir    string
		format     string
	)
	fs.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	fs.StringVar(&repoDir, "repo", "", "Repository directory")
	fs.StringVar(&format, "output-format", "text", "Output format: text, json, json-lines, quiet")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tablevc show [options] [COMMIT]\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	cfg, err := loadConfig(configFile, repoDir)
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	rev := "HEAD"
	if fs.NArg() > 0 {
		rev = fs.Arg(0)
	}
	c, err := a.Repo().RevParse(ctx, rev)
	if err != nil {
		return err
	}

	fmt.Printf("commit %s\n", c.ID().Hex())
	fmt.Printf("Author: %s <%s>\n", c.AuthorName, c.AuthorEmail)
	fmt.Printf("Date:   %s\n\n", c.AuthorTime.Format(time.RFC3339))
	for _, line := range strings.Split(c.Message, "\n") {
		fmt.Printf("    %s\n", line)
	}
	fmt.Println()

	// Diff against the first parent, or the empty tree for a root commit.
	targetTree, err := a.Repo().TreeOf(ctx, c)
	if err != nil {
		return err
	}
	baseTree := &object.Tree{}
	if len(c.Parents) > 0 {
		parent, err := a.ODB().GetCommit(ctx, c.Parents[0])
		if err != nil {
			return err
		}
		if baseTree, err = a.Repo().TreeOf(ctx, parent); err != nil {
			return err
		}
	}
	rng := &writer.CommitRange{BaseTree: baseTree, TargetTree: targetTree, Spec: rev}

	dw, err := writer.New(a.Repo(), rng, writer.Options{
		Format:   writer.Format(format),
		Out:      os.Stdout,
		ErrOut:   os.Stderr,
		Promisor: a.ODB().Promisor(),
	})
	if err != nil {
		return err
	}
	return dw.WriteDiff(ctx)
}

func runApply(args []string) error {
	fs := flag.NewFlagSet("apply", flag.ExitOnError)
	var (
		configFile string
		repoDir    string
		noCommit   bool
	)
	fs.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	fs.StringVar(&repoDir, "repo", "", "Repository directory")
	fs.BoolVar(&noCommit, "no-commit", false, "Apply to a tree without creating a commit")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tablevc apply [options] [PATCH-FILE]\n\n")
		fmt.Fprintf(os.Stderr, "Reads the patch from PATCH-FILE, or standard input when omitted or \"-\".\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	cfg, err := loadConfig(configFile, repoDir)
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var data []byte
	if fs.NArg() == 0 || fs.Arg(0) == "-" {
		if data, err = io.ReadAll(os.Stdin); err != nil {
			return err
		}
	} else {
		if data, err = os.ReadFile(fs.Arg(0)); err != nil {
			return err
		}
	}

	p, err := patch.Parse(data)
	if err != nil {
		return err
	}

	head, err := a.Repo().RevParse(ctx, "HEAD")
	if err != nil {
		return err
	}
	headTree, err := a.Repo().TreeOf(ctx, head)
	if err != nil {
		return err
	}

	newTree, err := patch.Apply(ctx, a.ODB(), headTree, p)
	if err != nil {
		return err
	}

	if noCommit {
		fmt.Printf("applied; tree %s\n", newTree.ID().Hex())
		return nil
	}

	info, err := commitInfoFor(cfg, p.Metadata, head.ID())
	if err != nil {
		return err
	}
	c := &object.Commit{
		TreeID:              newTree.ID(),
		Parents:             info.Parents,
		AuthorName:          info.AuthorName,
		AuthorEmail:         info.AuthorEmail,
		AuthorTime:          info.AuthorTime,
		AuthorOffsetMinutes: info.OffsetMinutes,
		Message:             info.Message,
	}
	if _, err := a.ODB().PutCommit(ctx, c); err != nil {
		return err
	}
	a.Repo().SetRef("HEAD", c.ID())

	// Keep an existing working copy on the new state.
	if wc, err := a.WorkingCopy(ctx); err == nil && wc != nil {
		if err := wc.Reset(ctx, newTree); err != nil {
			return err
		}
	}

	fmt.Printf("applied; commit %s\n", c.ID().Hex())
	return nil
}

// commitInfoFor derives commit authorship from the patch metadata, falling
// back to the configured identity and the current time.
func commitInfoFor(cfg *config.Config, m *patch.Metadata, parent types.OID) (object.CommitInfo, error) {
	info := object.CommitInfo{
		AuthorName:  cfg.Author.Name,
		AuthorEmail: cfg.Author.Email,
		AuthorTime:  time.Now().UTC(),
		Message:     "apply patch",
		Parents:     []types.OID{parent},
	}
	if m == nil {
		return info, nil
	}
	if m.AuthorName != "" {
		info.AuthorName = m.AuthorName
	}
	if m.AuthorEmail != "" {
		info.AuthorEmail = m.AuthorEmail
	}
	if m.Message != "" {
		info.Message = m.Message
	}
	if m.AuthorTime != "" {
		t, err := time.Parse(time.RFC3339, m.AuthorTime)
		if err != nil {
			return info, errors.NewUsageError(errors.CodeBadCommitSpec,
				fmt.Sprintf("patch metadata has bad authorTime %q", m.AuthorTime))
		}
		info.AuthorTime = t.UTC()
	}
	if m.AuthorTimeOffset != "" {
		minutes, err := parseUTCOffset(m.AuthorTimeOffset)
		if err != nil {
			return info, err
		}
		info.OffsetMinutes = minutes
	}
	if m.Base != "" {
		id, err := types.ParseOID(m.Base)
		if err != nil {
			return info, errors.NewUsageError(errors.CodeBadCommitSpec,
				fmt.Sprintf("patch metadata has bad base commit %q", m.Base))
		}
		info.Parents = []types.OID{id}
	}
	return info, nil
}

// parseUTCOffset converts "±HH:MM" into minutes east of UTC.
func parseUTCOffset(s string) (int, error) {
	bad := func() (int, error) {
		return 0, errors.NewUsageError(errors.CodeBadCommitSpec,
			fmt.Sprintf("patch metadata has bad authorTimeOffset %q", s))
	}
	if len(s) != 6 || (s[0] != '+' && s[0] != '-') || s[3] != ':' {
		return bad()
	}
	hh, err := strconv.Atoi(s[1:3])
	if err != nil {
		return bad()
	}
	mm, err := strconv.Atoi(s[4:6])
	if err != nil {
		return bad()
	}
	minutes := hh*60 + mm
	if s[0] == '-' {
		minutes = -minutes
	}
	return minutes, nil
}

// splitSpecAndFilters separates the optional commit-spec from filter
// patterns: an argument containing ".." or resolving like a revision is
// the commit-spec; everything after is a filter.
func splitSpecAndFilters(args []string) (spec string, patterns []string) {
	if len(args) == 0 {
		return "", nil
	}
	first := args[0]
	// A filter pattern always names a dataset, possibly with :item-type.
	// A commit-spec never contains ':'.
	if strings.Contains(first, ":") {
		return "", args
	}
	return first, args[1:]
}

func parseSpatialFilter(bbox, crs string) (*filter.SpatialFilter, error) {
	if bbox == "" {
		return filter.MatchAllSpatial, nil
	}
	parts := strings.Split(bbox, ",")
	if len(parts) != 4 {
		return nil, errors.NewUsageError(errors.CodeBadFilter,
			fmt.Sprintf("spatial filter %q is not minx,miny,maxx,maxy", bbox))
	}
	coords := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, errors.NewUsageError(errors.CodeBadFilter,
				fmt.Sprintf("spatial filter coordinate %q is not a number", p))
		}
		coords[i] = v
	}
	env := geometry.Envelope{MinX: coords[0], MinY: coords[1], MaxX: coords[2], MaxY: coords[3]}
	return filter.NewBBoxFilter(env, crs, nil), nil
}
