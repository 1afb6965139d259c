package moduledriver

import (
	"bytes"
	"fmt"

	"github.com/sergi/go-diff/diffmatchpatch"
	"golang.org/x/mod/semver"

	"github.com/tswasm/lower/errs"
)

// supportedProposalSet is the floor version of this backend's own GC +
// function-references + typed-tables feature set: a caller asking for
// validation against a newer set than this
// backend was built against gets a clear error instead of a silently
// under-featured module.
const supportedProposalSet = "v1.2.0"

// validate runs the emit-then-reparse validation pass WithValidation
// gates on. This backend has no dependency on an external WebAssembly
// parser/validator (the pack carries none for the GC + function-
// references + typed-tables surface this module targets), so "reparse"
// here means: re-encode, and if a baseline was supplied, diff against
// it byte-for-byte, rendering any mismatch as a human-readable report.
func (d *Driver) validate() error {
	if !semver.IsValid(d.opts.proposalSet) {
		return fmt.Errorf("moduledriver: invalid proposal set version %q", d.opts.proposalSet)
	}
	if semver.Compare(d.opts.proposalSet, supportedProposalSet) > 0 {
		return &errs.ValidationFailure{
			Detail: fmt.Sprintf("proposal set %q is newer than this backend's supported floor %q",
				d.opts.proposalSet, supportedProposalSet),
			Text: d.mod.Text(),
		}
	}

	if d.opts.baseline == nil {
		return nil
	}
	encoded := d.mod.Encode()
	if bytes.Equal(encoded, d.opts.baseline) {
		return nil
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(string(d.opts.baseline), string(encoded), false)
	return &errs.ValidationFailure{
		Detail: "compiled module differs from supplied baseline",
		Text:   d.mod.Text() + "\n--- diff against baseline ---\n" + dmp.DiffPrettyText(diffs),
	}
}
