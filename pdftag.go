// Package pdftag retrofits a logical structure tree into a rendered
// PDF, driven by an outline tree of the same document. The pipeline
// normalizes encodings, partitions page content into marked runs,
// links runs to outline leaves by fuzzy text overlap, and writes the
// tagged document atomically.
package pdftag

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/wudi/pdftag/encfix"
	"github.com/wudi/pdftag/match"
	"github.com/wudi/pdftag/mathspeech"
	"github.com/wudi/pdftag/metadata"
	"github.com/wudi/pdftag/observability"
	"github.com/wudi/pdftag/outline"
	"github.com/wudi/pdftag/pdf"
	"github.com/wudi/pdftag/structure"
	"github.com/wudi/pdftag/tagger"
)

// Options configures a tagging run. The zero value is usable: English,
// no title override, raw-LaTeX formula alt text, no encoding fix, one
// worker per CPU.
type Options struct {
	Language    string // BCP 47; default "en"
	Title       string // overrides the Info title when non-empty
	MathSpeech  mathspeech.Converter
	EncodingFix encfix.Normalizer

	// EmbedAlt requests an embedded plain-text alternate rendition.
	// Generating it is an external tool's job; the run records the
	// request as a delegated stage in the summary.
	EmbedAlt bool

	Workers int
	Logger  observability.Logger
}

func (o *Options) withDefaults() Options {
	opts := *o
	if opts.Language == "" {
		opts.Language = "en"
	}
	if opts.MathSpeech == nil {
		opts.MathSpeech = mathspeech.None()
	}
	if opts.EncodingFix == nil {
		opts.EncodingFix = encfix.Noop()
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger{}
	}
	return opts
}

// Summary reports what a run produced and every shortfall it accepted.
type Summary struct {
	Pages    int            `json:"pages"`
	Elements map[string]int `json:"elements"`

	LinkedLeaves   int `json:"linked_leaves"`
	UnlinkedLeaves int `json:"unlinked_leaves"`

	ContentRuns  int `json:"content_runs"`
	ArtifactRuns int `json:"artifact_runs"`
	UnlinkedRuns int `json:"unlinked_runs"`

	ParentTreeFallbacks int `json:"parent_tree_fallbacks"`

	AnnotationsLinked    int `json:"annotations_linked"`
	AnnotationsUnmatched int `json:"annotations_unmatched"`
	LinksWithoutTarget   int `json:"links_without_target"`

	DecodePlaceholders int `json:"decode_placeholders"`
	PrunedHeadings     int `json:"pruned_headings"`
	UnlinkableLeaves   int `json:"unlinkable_leaves"`
	HeadingGaps        int `json:"heading_gaps"`

	EncodingFixApplied bool `json:"encoding_fix_applied"`
	EmbedAltDelegated  bool `json:"embed_alt_delegated"`
	MathSpeechFailures int  `json:"math_speech_failures"`

	Elapsed time.Duration `json:"elapsed_ns"`
}

// Run tags the document at inPath against the outline and writes the
// result to outPath. The input file is never modified; outPath appears
// atomically or not at all.
func Run(ctx context.Context, root *outline.Node, inPath, outPath string, o Options) (*Summary, error) {
	start := time.Now()
	opts := o.withDefaults()
	log := opts.Logger

	lang, err := metadata.ValidateLanguage(opts.Language)
	if err != nil {
		return nil, err
	}
	if err := root.Validate(); err != nil {
		return nil, err
	}

	summary := &Summary{HeadingGaps: len(root.HeadingGaps())}
	if opts.EmbedAlt {
		// the alternate rendition is produced by a separate generator
		summary.EmbedAltDelegated = true
		log.Info("alt document embedding delegated to the external generator")
	}

	// encoding normalization rewrites into a scratch file next to the
	// output, so the input stays untouched
	readPath := inPath
	scratch := filepath.Join(filepath.Dir(outPath), ".pdftag-encfix-"+filepath.Base(outPath))
	ran, err := opts.EncodingFix.Normalize(ctx, inPath, scratch)
	if err != nil {
		// a failed normalizer may have left a partial scratch behind
		os.Remove(scratch)
		log.Warn("encoding fix failed, continuing on original", observability.Error("err", err))
	} else if ran {
		readPath = scratch
		summary.EncodingFixApplied = true
		defer os.Remove(scratch)
	}

	doc, err := pdf.ReadFile(readPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", readPath, err)
	}
	pages, err := doc.Pages()
	if err != nil {
		return nil, err
	}
	summary.Pages = len(pages)
	log.Info("document opened", observability.Int("pages", len(pages)))

	tree, err := structure.Build(root)
	if err != nil {
		return nil, err
	}
	summary.PrunedHeadings = tree.Pruned
	summary.UnlinkableLeaves = tree.Unlinkable

	summary.MathSpeechFailures = speakFormulas(ctx, tree, opts.MathSpeech, log)

	runs, err := tagPages(ctx, doc, pages, opts.Workers, summary, log)
	if err != nil {
		return nil, err
	}

	leaves := tree.Leaves()
	linkRes := match.Link(leaves, runs)
	summary.LinkedLeaves = len(linkRes.Assignments)
	summary.UnlinkedLeaves = len(linkRes.UnlinkedLeaves)
	summary.UnlinkedRuns = linkRes.UnlinkedRuns
	log.Info("content linked",
		observability.Int("linked", summary.LinkedLeaves),
		observability.Int("unlinked_leaves", summary.UnlinkedLeaves),
		observability.Int("unlinked_runs", summary.UnlinkedRuns))

	annotRes := match.LinkAnnotations(doc, pages, tree.LinkLeaves())
	summary.AnnotationsLinked = annotRes.Matched
	summary.AnnotationsUnmatched = annotRes.Unmatched
	summary.LinksWithoutTarget = annotRes.Dangling

	mcidCounts := make([]int, len(pages))
	for _, run := range runs {
		if run.MCID >= 0 {
			mcidCounts[run.Page]++
		}
	}
	parentTree := tree.ParentTree(mcidCounts)
	summary.ParentTreeFallbacks = tree.Fallbacks(parentTree)

	rootRef, err := tree.Serialize(doc, pages, parentTree)
	if err != nil {
		return nil, err
	}
	if err := metadata.Apply(doc, rootRef, pages, metadata.Options{
		Language: lang,
		Title:    opts.Title,
	}); err != nil {
		return nil, err
	}
	summary.Elements = tree.Counts()

	if err := doc.Save(outPath); err != nil {
		return nil, err
	}
	summary.Elapsed = time.Since(start)
	log.Info("document written",
		observability.String("path", outPath),
		observability.Duration("elapsed", summary.Elapsed))
	return summary, nil
}

// speakFormulas replaces Formula alt text with the converter's spoken
// form. A conversion failure keeps the raw source; the document still
// gets tagged.
func speakFormulas(ctx context.Context, tree *structure.Tree, conv mathspeech.Converter, log observability.Logger) int {
	failures := 0
	tree.Walk(func(e *structure.Element) {
		if e.S != string(outline.TagFormula) || e.Alt == "" {
			return
		}
		spoken, err := conv.Spoken(ctx, e.Alt)
		if err != nil {
			failures++
			log.Warn("math speech failed, keeping raw source", observability.Error("err", err))
			return
		}
		e.Alt = spoken
	})
	return failures
}

// tagPages rewrites every page's content stream on a bounded worker
// pool. Tagging itself is pure; document mutation happens after the
// barrier, single threaded. Any page failure aborts the run: a
// partially marked document would claim a conformance it does not
// have.
func tagPages(ctx context.Context, doc *pdf.Document, pages []pdf.Page, workers int, summary *Summary, log observability.Logger) ([]tagger.Run, error) {
	type pageInput struct {
		content []byte
		fonts   map[string]*tagger.FontDecoder
	}
	inputs := make([]pageInput, len(pages))
	for i, page := range pages {
		content, err := doc.PageContents(page)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		inputs[i] = pageInput{content: content, fonts: tagger.DecodersForPage(doc, page)}
	}

	results := make([]tagger.Result, len(pages))
	errs := make([]error, len(pages))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i := range pages {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return nil, ctx.Err()
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i], errs[i] = tagger.Tag(i, inputs[i].content, inputs[i].fonts)
		}(i)
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	var runs []tagger.Run
	for i, page := range pages {
		doc.SetPageContents(page, results[i].Content)
		for _, run := range results[i].Runs {
			if run.Kind == tagger.Content {
				summary.ContentRuns++
			} else {
				summary.ArtifactRuns++
			}
			summary.DecodePlaceholders += run.Placeholders
		}
		runs = append(runs, results[i].Runs...)
		log.Debug("page tagged",
			observability.Int("page", i),
			observability.Int("runs", len(results[i].Runs)))
	}
	return runs, nil
}
