package writer

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/tablevc/tablevc/internal/dataset"
	"github.com/tablevc/tablevc/internal/diff"
	"github.com/tablevc/tablevc/internal/errors"
	"github.com/tablevc/tablevc/internal/filter"
	"github.com/tablevc/tablevc/internal/object"
	"github.com/tablevc/tablevc/pkg/types"
)

// Format selects a diff output style.
type Format string

const (
	FormatText      Format = "text"
	FormatJSON      Format = "json"
	FormatJSONLines Format = "json-lines"
	FormatGeoJSON   Format = "geojson"
	FormatHTML      Format = "html"
	FormatQuiet     Format = "quiet"
)

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	switch f {
	case FormatText, FormatJSON, FormatJSONLines, FormatGeoJSON, FormatHTML, FormatQuiet:
		return true
	}
	return false
}

// Options configures a diff writer.
type Options struct {
	Format Format
	// Out receives the diff body; ErrOut receives the warnings footer.
	Out    io.Writer
	ErrOut io.Writer

	KeyFilter *filter.RepoKeyFilter
	Spatial   *filter.SpatialFilter
	// RecordSpatialStats makes every tested delta's match outcome
	// available for the pk-collision warnings footer.
	RecordSpatialStats bool

	// Promisor enables batched fetch-on-demand for values missing from a
	// partial clone. Nil means all objects are expected locally.
	Promisor *object.Promisor

	// Advanced switches the plus/minus rendering to the unambiguous
	// "--"/"++" form for pure deletes and inserts.
	Advanced bool

	// Patch attaches kart.patch/v1 commit metadata to JSON output.
	Patch *PatchMetadata

	// EstimateAccuracy + EstimateMemo drive the background
	// featureCountEstimate record in the JSON-lines stream. Empty accuracy
	// disables the estimate.
	EstimateAccuracy diff.Accuracy
	EstimateMemo     diff.EstimateMemo

	// OutputDir, when set for GeoJSON output, writes one file per dataset
	// instead of streaming to Out.
	OutputDir string
}

// PatchMetadata is the kart.patch/v1 sibling block attached to JSON diffs
// that represent an applicable patch.
type PatchMetadata struct {
	AuthorName       string
	AuthorEmail      string
	AuthorTime       string // ISO-8601 UTC
	AuthorTimeOffset string // ±HH:MM
	Message          string
	Base             string // parent commit id, optional
	CRS              string // optional
}

type lifecycleState int

const (
	stateConstructed lifecycleState = iota
	stateHeaderWritten
	stateBodyWritten
	stateFooterWritten
)

// formatWriter is the closed set of output variants. The base writer owns
// diff computation and filtering; variants own rendering only.
type formatWriter interface {
	writeHeader(ctx context.Context, rd *diff.RepoDiff) error
	writeDatasetDiff(ctx context.Context, dsPath string, dd *diff.DatasetDiff, features []*diff.Delta) error
	writeFooter(ctx context.Context) error
}

// DiffWriter runs one diff request end to end: resolve the commit range,
// compute and filter the diff, stream it through a format writer, then
// report warnings and the exit code. Instances are single-use.
type DiffWriter struct {
	repo *object.Repo
	odb  *object.ODB
	rng  *CommitRange
	opts Options

	fw    formatWriter
	state lifecycleState

	hasChanges bool
	stats      *filter.SpatialStats
	warnings   []string

	// emittedWCKeys tracks working-copy-edit keys per dataset for the
	// pk-collision warning pass.
	emittedWCKeys map[string][]string
}

// New builds a diff writer for the resolved commit range.
func New(repo *object.Repo, rng *CommitRange, opts Options) (*DiffWriter, error) {
	if !opts.Format.Valid() {
		return nil, errors.NewUsageError(errors.CodeBadCommitSpec,
			fmt.Sprintf("unknown diff output format %q", opts.Format))
	}
	if opts.Spatial == nil {
		opts.Spatial = filter.MatchAllSpatial
	}
	w := &DiffWriter{
		repo:          repo,
		odb:           repo.ODB(),
		rng:           rng,
		opts:          opts,
		emittedWCKeys: map[string][]string{},
	}
	if opts.RecordSpatialStats {
		w.stats = filter.NewSpatialStats()
	}
	switch opts.Format {
	case FormatText:
		w.fw = &textWriter{b: w}
	case FormatJSON:
		w.fw = &jsonWriter{b: w}
	case FormatJSONLines:
		w.fw = &jsonLinesWriter{b: w}
	case FormatGeoJSON:
		w.fw = &geoJSONWriter{b: w}
	case FormatHTML:
		w.fw = &htmlWriter{b: w}
	case FormatQuiet:
		w.fw = &quietWriter{}
	}
	return w, nil
}

// WriteDiff runs the whole request. It is terminal: a second call fails.
func (w *DiffWriter) WriteDiff(ctx context.Context) error {
	if w.state != stateConstructed {
		return errors.NewInternalError("diff writer reused after write", nil)
	}

	rd, err := diff.GetRepoDiff(ctx, w.odb, w.rng.BaseTree, w.rng.TargetTree, diff.Options{
		KeyFilter:     w.opts.KeyFilter,
		WorkingCopy:   w.rng.WorkingCopy,
		IncludeWCDiff: w.rng.IncludeWC,
	})
	if err != nil {
		return err
	}

	if err := w.fw.writeHeader(ctx, rd); err != nil {
		return err
	}
	w.state = stateHeaderWritten

	for _, dsPath := range rd.Paths() {
		dd, _ := rd.Get(dsPath)
		features, err := w.filteredFeatures(ctx, dsPath, dd)
		if err != nil {
			return err
		}
		if len(features) > 0 || dd.ItemDiff(types.ItemTypeMeta).Len() > 0 {
			w.hasChanges = true
		}
		if err := w.fw.writeDatasetDiff(ctx, dsPath, dd, features); err != nil {
			return err
		}
	}
	w.state = stateBodyWritten

	if err := w.fw.writeFooter(ctx); err != nil {
		return err
	}
	w.collectWarnings()
	w.writeWarningsFooter()
	w.state = stateFooterWritten
	return nil
}

// HasChanges reports whether the written diff contained any delta. Calling
// it before WriteDiff has completed is a programming error.
func (w *DiffWriter) HasChanges() (bool, error) {
	if w.state != stateFooterWritten {
		return false, errors.New(errors.ErrCategoryInternal, errors.CodeNotWritten,
			"HasChanges queried before the diff was written")
	}
	return w.hasChanges, nil
}

// ExitCode is 0 for an empty diff, 1 otherwise.
func (w *DiffWriter) ExitCode() (int, error) {
	changed, err := w.HasChanges()
	if err != nil {
		return 0, err
	}
	if changed {
		return 1, nil
	}
	return 0, nil
}

// filteredFeatures applies the spatial filter to a dataset's feature
// deltas and returns the survivors in emission order: deltas decidable
// from local content first, then deltas whose values needed the one
// batched promised-object fetch. Within each group the order is by key.
func (w *DiffWriter) filteredFeatures(ctx context.Context, dsPath string, dd *diff.DatasetDiff) ([]*diff.Delta, error) {
	all := dd.ItemDiff(types.ItemTypeFeature).SortedItems()
	dsf, err := w.datasetSpatialFilter(ctx, dsPath)
	if err != nil {
		return nil, err
	}
	if dsf.IsMatchAll() && w.stats == nil {
		if err := w.fetchPromised(ctx, all); err != nil {
			return nil, err
		}
		return all, nil
	}

	var out []*diff.Delta
	var deferred []*diff.Delta
	var wanted []types.OID
	for _, d := range all {
		emit, missing, err := w.decideDelta(ctx, dsPath, dsf, d)
		if err != nil {
			return nil, err
		}
		if len(missing) > 0 {
			deferred = append(deferred, d)
			wanted = append(wanted, missing...)
			continue
		}
		if emit {
			out = append(out, d)
			w.noteEmitted(dsPath, d)
		}
	}

	if len(deferred) > 0 {
		if w.opts.Promisor == nil {
			return nil, errors.NewNotFound(errors.CodeObjectNotFound,
				fmt.Sprintf("%d objects in %s are promised but no remote is configured", len(wanted), dsPath))
		}
		if err := w.opts.Promisor.FetchBatch(ctx, w.odb, wanted); err != nil {
			return nil, err
		}
		for _, d := range deferred {
			emit, missing, err := w.decideDelta(ctx, dsPath, dsf, d)
			if err != nil {
				return nil, err
			}
			if len(missing) > 0 {
				return nil, errors.NewNotFound(errors.CodeObjectNotFound,
					fmt.Sprintf("promised object still missing after fetch in %s", dsPath))
			}
			if emit {
				out = append(out, d)
				w.noteEmitted(dsPath, d)
			}
		}
	}
	return out, nil
}

// decideDelta evaluates the spatial filter for one delta. missing lists
// promised blob ids that must be fetched before the delta can be decided;
// when non-empty the emit result is meaningless.
func (w *DiffWriter) decideDelta(ctx context.Context, dsPath string, dsf *filter.DatasetSpatialFilter, d *diff.Delta) (emit bool, missing []types.OID, err error) {
	// Defer without loading when a side is a known promised object. Deltas
	// that pass the filter unconditionally still need their values local
	// before rendering.
	if missing = w.promisedSides(d); len(missing) > 0 {
		return false, missing, nil
	}

	// Working-copy edits always pass the filter, but their sides are
	// still tested when stats recording is on.
	if d.WorkingCopyEdit && w.stats == nil {
		return true, nil, nil
	}
	if dsf.IsMatchAll() && w.stats == nil {
		return true, nil, nil
	}

	oldOutcome, err := w.sideOutcome(ctx, dsf, d.OldValue())
	if err != nil {
		if p := errors.AsPromisedValueNotReady(err); p != nil {
			return false, []types.OID{p.ID}, nil
		}
		return false, nil, err
	}
	newOutcome, err := w.sideOutcome(ctx, dsf, d.NewValue())
	if err != nil {
		if p := errors.AsPromisedValueNotReady(err); p != nil {
			return false, []types.OID{p.ID}, nil
		}
		return false, nil, err
	}

	if w.stats != nil {
		w.stats.Record(dsPath, d.Key(), oldOutcome, newOutcome)
	}
	emit = d.WorkingCopyEdit ||
		oldOutcome == filter.OutcomeMatched || newOutcome == filter.OutcomeMatched
	return emit, nil, nil
}

// promisedSides lists a delta's value ids that are registered promises and
// not yet local. Nil promisor means nothing can be promised.
func (w *DiffWriter) promisedSides(d *diff.Delta) []types.OID {
	if w.opts.Promisor == nil {
		return nil
	}
	var missing []types.OID
	for _, v := range []*diff.Value{d.OldValue(), d.NewValue()} {
		if v != nil && !v.Loaded() && w.opts.Promisor.IsPromised(v.ID) {
			missing = append(missing, v.ID)
		}
	}
	return missing
}

// fetchPromised resolves every promised side of the given deltas in one
// batched fetch, so rendering never reaches a value that is still remote.
func (w *DiffWriter) fetchPromised(ctx context.Context, deltas []*diff.Delta) error {
	var wanted []types.OID
	for _, d := range deltas {
		wanted = append(wanted, w.promisedSides(d)...)
	}
	if len(wanted) == 0 {
		return nil
	}
	return w.opts.Promisor.FetchBatch(ctx, w.odb, wanted)
}

func (w *DiffWriter) sideOutcome(ctx context.Context, dsf *filter.DatasetSpatialFilter, v *diff.Value) (filter.MatchOutcome, error) {
	if v == nil {
		return filter.OutcomeUnknown, nil
	}
	row, err := v.Row(ctx)
	if err != nil {
		return filter.OutcomeUnknown, err
	}
	matched, known := dsf.MatchesRow(row)
	if !known {
		return filter.OutcomeUnknown, nil
	}
	if matched {
		return filter.OutcomeMatched, nil
	}
	return filter.OutcomeNotMatched, nil
}

// datasetSpatialFilter resolves the request filter against one dataset's
// schema and CRS, preferring the target side and falling back to base for
// removed datasets.
func (w *DiffWriter) datasetSpatialFilter(ctx context.Context, dsPath string) (*filter.DatasetSpatialFilter, error) {
	for _, root := range []*object.Tree{w.rng.TargetTree, w.rng.BaseTree} {
		ds, err := dataset.Open(ctx, w.odb, root, dsPath)
		if err != nil {
			return nil, err
		}
		if ds == nil {
			continue
		}
		s, err := ds.Schema(ctx)
		if err != nil {
			return nil, err
		}
		crs, err := ds.CRS(ctx)
		if err != nil {
			return nil, err
		}
		return w.opts.Spatial.TransformForDataset(dsPath, s, crs)
	}
	// Dataset on neither side: vacuously match-all.
	return w.opts.Spatial.TransformForDataset(dsPath, nil, "")
}

func (w *DiffWriter) noteEmitted(dsPath string, d *diff.Delta) {
	if d.WorkingCopyEdit && w.stats != nil {
		w.emittedWCKeys[dsPath] = append(w.emittedWCKeys[dsPath], d.Key())
	}
}

// collectWarnings finds working-copy edits whose primary key collides with
// a feature that lies outside the spatial filter.
func (w *DiffWriter) collectWarnings() {
	if w.stats == nil {
		return
	}
	paths := make([]string, 0, len(w.emittedWCKeys))
	for p := range w.emittedWCKeys {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, dsPath := range paths {
		for _, key := range w.emittedWCKeys[dsPath] {
			if w.stats.KeyOutsideFilter(dsPath, key) {
				w.warnings = append(w.warnings,
					fmt.Sprintf("%s: primary key %s collides with a feature outside the spatial filter", dsPath, key))
			}
		}
	}
}

// writeWarningsFooter emits accumulated warnings to ErrOut after the diff
// body, keeping primary output machine-parseable.
func (w *DiffWriter) writeWarningsFooter() {
	if len(w.warnings) == 0 || w.opts.ErrOut == nil {
		return
	}
	for _, msg := range w.warnings {
		fmt.Fprintf(w.opts.ErrOut, "warning: %s\n", msg)
	}
}
