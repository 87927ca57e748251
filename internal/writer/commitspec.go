package writer

import (
	"context"
	"fmt"
	"strings"

	"github.com/tablevc/tablevc/internal/diff"
	"github.com/tablevc/tablevc/internal/errors"
	"github.com/tablevc/tablevc/internal/object"
	"github.com/tablevc/tablevc/pkg/types"
)

// CommitRange is a resolved commit-spec: the two trees to diff, plus
// whether a working-copy stage follows the target.
type CommitRange struct {
	BaseTree   *object.Tree
	TargetTree *object.Tree

	// IncludeWC appends the working-copy stage on top of TargetTree.
	IncludeWC bool
	// WorkingCopy is set whenever IncludeWC is.
	WorkingCopy diff.WorkingCopySource

	// Spec is the original user input, kept for messages.
	Spec string
}

// WorkingCopyChecker is the subset of the working copy the parser needs:
// rendering edits as a tree, and verifying the copy tracks a given tree.
type WorkingCopyChecker interface {
	diff.WorkingCopySource
	RequireMatchesTree(ctx context.Context, treeID types.OID) error
}

// ParseCommitSpec resolves a diff commit-spec against a repo.
//
//	""        head against the working copy
//	"A...B"   the two endpoints, diffed directly
//	"A..B"    merge-base(A, B) against B
//	"A"       A against HEAD, with the working-copy stage appended
//
// The single-endpoint and empty forms require a working copy that matches
// HEAD's tree.
func ParseCommitSpec(ctx context.Context, repo *object.Repo, wc WorkingCopyChecker, spec string) (*CommitRange, error) {
	switch {
	case spec == "":
		return headWithWC(ctx, repo, wc, spec)

	case strings.Contains(spec, "..."):
		left, right, err := splitSpec(spec, "...")
		if err != nil {
			return nil, err
		}
		baseTree, err := resolveTree(ctx, repo, left)
		if err != nil {
			return nil, err
		}
		targetTree, err := resolveTree(ctx, repo, right)
		if err != nil {
			return nil, err
		}
		return &CommitRange{BaseTree: baseTree, TargetTree: targetTree, Spec: spec}, nil

	case strings.Contains(spec, ".."):
		left, right, err := splitSpec(spec, "..")
		if err != nil {
			return nil, err
		}
		// Both sides must resolve to commits so the ancestor walk is
		// possible; a bare tree id is a usage error here.
		leftCommit, err := repo.RevParse(ctx, left)
		if err != nil {
			return nil, errors.NewUsageError(errors.CodeBadCommitSpec,
				fmt.Sprintf("%q in %q is not a commit", left, spec)).
				WithHint("the .. operator needs commits on both sides; try ... for raw endpoints")
		}
		rightCommit, err := repo.RevParse(ctx, right)
		if err != nil {
			return nil, errors.NewUsageError(errors.CodeBadCommitSpec,
				fmt.Sprintf("%q in %q is not a commit", right, spec)).
				WithHint("the .. operator needs commits on both sides; try ... for raw endpoints")
		}
		ancestor, err := repo.MergeBase(ctx, leftCommit, rightCommit)
		if err != nil {
			return nil, err
		}
		baseTree, err := repo.TreeOf(ctx, ancestor)
		if err != nil {
			return nil, err
		}
		targetTree, err := repo.TreeOf(ctx, rightCommit)
		if err != nil {
			return nil, err
		}
		return &CommitRange{BaseTree: baseTree, TargetTree: targetTree, Spec: spec}, nil

	default:
		return singleEndpoint(ctx, repo, wc, spec)
	}
}

func headWithWC(ctx context.Context, repo *object.Repo, wc WorkingCopyChecker, spec string) (*CommitRange, error) {
	head, err := repo.RevParse(ctx, "HEAD")
	if err != nil {
		return nil, err
	}
	headTree, err := repo.TreeOf(ctx, head)
	if err != nil {
		return nil, err
	}
	if wc == nil {
		return nil, errors.NewInvalidOperation(errors.CodeWorkingCopyStale,
			"no working copy; nothing to diff against HEAD").
			WithHint("specify a commit range like A...B")
	}
	if err := wc.RequireMatchesTree(ctx, headTree.ID()); err != nil {
		return nil, err
	}
	return &CommitRange{
		BaseTree:    headTree,
		TargetTree:  headTree,
		IncludeWC:   true,
		WorkingCopy: wc,
		Spec:        spec,
	}, nil
}

func singleEndpoint(ctx context.Context, repo *object.Repo, wc WorkingCopyChecker, spec string) (*CommitRange, error) {
	baseTree, err := resolveTree(ctx, repo, spec)
	if err != nil {
		return nil, err
	}
	head, err := repo.RevParse(ctx, "HEAD")
	if err != nil {
		return nil, err
	}
	headTree, err := repo.TreeOf(ctx, head)
	if err != nil {
		return nil, err
	}
	if wc == nil {
		return nil, errors.NewInvalidOperation(errors.CodeWorkingCopyStale,
			fmt.Sprintf("diffing %q against the working copy needs a working copy", spec)).
			WithHint("specify a commit range like A...B")
	}
	if err := wc.RequireMatchesTree(ctx, headTree.ID()); err != nil {
		return nil, err
	}
	return &CommitRange{
		BaseTree:    baseTree,
		TargetTree:  headTree,
		IncludeWC:   true,
		WorkingCopy: wc,
		Spec:        spec,
	}, nil
}

// resolveTree accepts a commit ref/id and returns its root tree.
func resolveTree(ctx context.Context, repo *object.Repo, rev string) (*object.Tree, error) {
	c, err := repo.RevParse(ctx, rev)
	if err != nil {
		return nil, err
	}
	return repo.TreeOf(ctx, c)
}

func splitSpec(spec, op string) (left, right string, err error) {
	parts := strings.SplitN(spec, op, 2)
	left, right = parts[0], parts[1]
	if left == "" || right == "" || strings.Contains(right, "..") {
		return "", "", errors.NewUsageError(errors.CodeBadCommitSpec,
			fmt.Sprintf("malformed commit range %q", spec)).
			WithHint("expected REV" + op + "REV")
	}
	return left, right, nil
}
