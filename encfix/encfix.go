// Package encfix normalizes font encodings before tagging. Documents
// produced by older TeX toolchains carry Type3 or unembedded fonts
// whose text cannot be mapped back to Unicode; a Ghostscript rewrite
// re-embeds everything with usable ToUnicode maps.
package encfix

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Normalizer rewrites in into out and reports whether it ran. A
// normalizer that is not available returns (false, nil) so the
// pipeline can continue on the original file.
type Normalizer interface {
	Normalize(ctx context.Context, in, out string) (bool, error)
}

// Noop never rewrites.
func Noop() Normalizer { return noop{} }

type noop struct{}

func (noop) Normalize(context.Context, string, string) (bool, error) { return false, nil }

// Ghostscript rewrites through gs with prepress settings, full font
// embedding, and no subsetting. A missing gs binary degrades to a
// no-op; a gs that starts and fails is a real error.
func Ghostscript(timeout time.Duration) Normalizer {
	return &ghostscript{binary: "gs", timeout: timeout}
}

type ghostscript struct {
	binary  string
	timeout time.Duration
}

func (g *ghostscript) Normalize(ctx context.Context, in, out string) (bool, error) {
	path, err := exec.LookPath(g.binary)
	if err != nil {
		return false, nil
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, path,
		"-dBATCH", "-dNOPAUSE", "-dQUIET",
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=1.7",
		"-dPDFSETTINGS=/prepress",
		"-dSubsetFonts=false",
		"-dEmbedAllFonts=true",
		"-sOutputFile="+out,
		in,
	)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return false, fmt.Errorf("encfix: ghostscript timed out after %s", g.timeout)
		}
		return false, fmt.Errorf("encfix: ghostscript: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}
	return true, nil
}
