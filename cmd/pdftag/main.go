// Command pdftag retrofits accessibility structure into a PDF from an
// outline file (JSON tree or markdown).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/wudi/pdftag"
	"github.com/wudi/pdftag/encfix"
	"github.com/wudi/pdftag/mathspeech"
	"github.com/wudi/pdftag/observability"
	"github.com/wudi/pdftag/outline"
)

func main() {
	var (
		output        = flag.StringP("output", "o", "", "output path (default <input>.tagged.pdf)")
		lang          = flag.String("lang", "en", "document language (BCP 47)")
		title         = flag.String("title", "", "document title override")
		mathMode      = flag.String("math-speech", "none", "formula alt text engine: none, mathml, command")
		mathCmd       = flag.String("math-speech-cmd", "", "external speech engine for --math-speech=command")
		embedAlt      = flag.Bool("embed-alt", false, "request an embedded alternate text rendition (delegated to the external generator)")
		skipEncFix    = flag.Bool("skip-encoding-fix", false, "skip the ghostscript encoding rewrite")
		encFixTimeout = flag.Duration("encoding-fix-timeout", 2*time.Minute, "ghostscript timeout")
		workers       = flag.Int("workers", 0, "page tagging workers (0 = NumCPU)")
		verbose       = flag.BoolP("verbose", "v", false, "debug logging")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <outline.json|outline.md> <input.pdf>\n\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}
	outlinePath, inputPath := flag.Arg(0), flag.Arg(1)

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	root, err := loadOutline(outlinePath)
	if err != nil {
		fatal(logger, err)
	}

	opts := pdftag.Options{
		Language: *lang,
		Title:    *title,
		EmbedAlt: *embedAlt,
		Workers:  *workers,
		Logger:   observability.Slog(logger),
	}
	switch *mathMode {
	case "none":
		opts.MathSpeech = mathspeech.None()
	case "mathml":
		opts.MathSpeech = mathspeech.MathML()
	case "command":
		if *mathCmd == "" {
			fatal(logger, fmt.Errorf("--math-speech=command requires --math-speech-cmd"))
		}
		opts.MathSpeech = mathspeech.Command(*mathCmd, nil, time.Minute)
	default:
		fatal(logger, fmt.Errorf("unknown math speech engine %q", *mathMode))
	}
	if !*skipEncFix {
		opts.EncodingFix = encfix.Ghostscript(*encFixTimeout)
	}

	outPath := *output
	if outPath == "" {
		outPath = strings.TrimSuffix(inputPath, ".pdf") + ".tagged.pdf"
	}

	summary, err := pdftag.Run(context.Background(), root, inputPath, outPath, opts)
	if err != nil {
		fatal(logger, err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		fatal(logger, err)
	}
}

func loadOutline(path string) (*outline.Node, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return outline.FromMarkdown(src)
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return outline.Decode(f)
	}
}

func fatal(logger *slog.Logger, err error) {
	logger.Error(err.Error())
	os.Exit(1)
}
