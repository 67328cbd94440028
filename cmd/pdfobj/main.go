// Command pdfobj inspects the object graph of a PDF file.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/wudi/pdfgraph/document"
	"github.com/wudi/pdfgraph/ir/decoded"
	"github.com/wudi/pdfgraph/ir/raw"
	"github.com/wudi/pdfgraph/observability"
	"github.com/wudi/pdfgraph/recovery"
	"github.com/wudi/pdfgraph/scanner"
	"github.com/wudi/pdfgraph/xref"
)

type options struct {
	pdfPath    string
	configPath string
	password   string
	rebuild    bool
	strict     bool
	firstWins  bool
	verbose    bool

	list    bool
	trailer bool
	streams bool
	obj     int
	gen     int
	decode  bool
	tokens  int
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "pdfobj: %v\n", err)
		os.Exit(2)
	}
	if err := run(context.Background(), opts, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "pdfobj: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("pdfobj", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: pdfobj [flags] <pdf>\n")
		fs.PrintDefaults()
	}
	fs.StringVar(&opts.configPath, "config", "", "TOML file with recovery mode, duplicate policy and limits")
	fs.StringVar(&opts.password, "password", "", "Password to open encrypted PDFs")
	fs.BoolVar(&opts.rebuild, "rebuild", false, "Ignore the cross-reference data and rebuild it by scanning")
	fs.BoolVar(&opts.strict, "strict", false, "Fail instead of rebuilding when the cross-reference data is broken")
	fs.BoolVar(&opts.firstWins, "first-wins", false, "Keep the first of duplicate object definitions when rebuilding")
	fs.BoolVar(&opts.verbose, "v", false, "Log informational diagnostics")
	fs.BoolVar(&opts.list, "list", false, "List the cross-reference entries")
	fs.BoolVar(&opts.trailer, "trailer", false, "Print the merged trailer dictionary")
	fs.BoolVar(&opts.streams, "streams", false, "Decode every stream and report its size")
	fs.IntVar(&opts.obj, "obj", -1, "Print object number N")
	fs.IntVar(&opts.gen, "gen", 0, "Generation number for -obj")
	fs.BoolVar(&opts.decode, "decode", false, "With -obj, write the decoded stream payload to stdout")
	fs.IntVar(&opts.tokens, "tokens", 0, "Dump the first N tokens of the file")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return options{}, fmt.Errorf("missing pdf path")
	}
	opts.pdfPath = fs.Arg(0)
	if opts.decode && opts.obj < 0 {
		return options{}, fmt.Errorf("-decode needs -obj")
	}
	return opts, nil
}

func run(ctx context.Context, opts options, stdout, stderr io.Writer) error {
	if opts.tokens > 0 {
		return dumpTokens(opts.pdfPath, opts.tokens, stdout)
	}

	docOpts, err := documentOptions(opts)
	if err != nil {
		return err
	}
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelInfo
	}
	rec := observability.NewRecorder()
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	docOpts.Diagnostics = teeSink{rec, observability.NewSlogSink(logger)}

	f, err := document.Open(ctx, opts.pdfPath, docOpts)
	if err != nil {
		return fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	switch {
	case opts.obj >= 0:
		return printObject(f, raw.ObjectRef{Num: opts.obj, Gen: opts.gen}, opts.decode, stdout)
	case opts.list:
		return emitSection(stdout, "entries", entries(f.Registry()))
	case opts.trailer:
		fmt.Fprintf(stdout, "%s\n", raw.Serialize(f.Trailer().Dict))
		return nil
	case opts.streams:
		return reportStreams(ctx, f, stdout)
	}
	return emitSection(stdout, "summary", summarize(f, rec))
}

func documentOptions(opts options) (document.Options, error) {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return document.Options{}, err
	}
	if opts.strict {
		cfg.Recovery = "strict"
	}
	if opts.firstWins {
		cfg.Duplicates = recovery.FirstWins.String()
	}
	strategy, err := cfg.strategy()
	if err != nil {
		return document.Options{}, err
	}
	dups, err := cfg.duplicates()
	if err != nil {
		return document.Options{}, err
	}
	limits, err := cfg.Limits.limits()
	if err != nil {
		return document.Options{}, err
	}
	return document.Options{
		Password:     opts.password,
		Recovery:     strategy,
		Duplicates:   dups,
		ForceRebuild: opts.rebuild,
		Limits:       limits,
		WindowSize:   cfg.WindowSize,
	}, nil
}

type summary struct {
	Version      string            `json:"version"`
	HeaderOffset int64             `json:"headerOffset"`
	Encrypted    bool              `json:"encrypted"`
	Rebuilt      bool              `json:"rebuilt"`
	Linearized   bool              `json:"linearized"`
	Size         int64             `json:"size"`
	Root         string            `json:"root,omitempty"`
	Objects      int               `json:"objects"`
	Compressed   int               `json:"compressed"`
	Warnings     int               `json:"warnings"`
	Info         document.Metadata `json:"info"`
}

func summarize(f *document.File, rec *observability.Recorder) summary {
	tr := f.Trailer()
	s := summary{
		Version:      f.Version(),
		HeaderOffset: f.Header().Offset,
		Encrypted:    f.Encrypted(),
		Rebuilt:      f.Rebuilt(),
		Linearized:   f.Linearized(),
		Size:         tr.Size,
		Info:         f.Info(),
	}
	if tr.HasRoot {
		s.Root = tr.Root.R.String()
	}
	for _, e := range f.Registry().Entries() {
		switch e.Kind {
		case xref.EntryInUse:
			s.Objects++
		case xref.EntryCompressed:
			s.Objects++
			s.Compressed++
		}
	}
	s.Warnings = rec.Count(observability.LevelWarn)
	return s
}

type entrySummary struct {
	Num       int    `json:"num"`
	Gen       int    `json:"gen"`
	Kind      string `json:"kind"`
	Offset    int64  `json:"offset,omitempty"`
	Container int    `json:"container,omitempty"`
	Index     int    `json:"index,omitempty"`
}

func entries(t *xref.Table) []entrySummary {
	var out []entrySummary
	for _, e := range t.Entries() {
		es := entrySummary{Num: e.Num, Gen: e.Gen, Kind: e.Kind.String()}
		switch e.Kind {
		case xref.EntryInUse:
			es.Offset = e.Offset
		case xref.EntryCompressed:
			es.Container, es.Index = e.Container, e.Index
		}
		out = append(out, es)
	}
	return out
}

func printObject(f *document.File, ref raw.ObjectRef, decode bool, w io.Writer) error {
	obj, err := f.Object(ref)
	if err != nil {
		return fmt.Errorf("object %s: %w", ref, err)
	}
	if !decode {
		fmt.Fprintf(w, "%s\n", raw.Serialize(raw.IndirectObj{Ref: ref, Value: obj}))
		return nil
	}
	if _, ok := obj.(*raw.StreamObj); !ok {
		return fmt.Errorf("object %s is a %s, not a stream", ref, obj.Type())
	}
	streams, err := decoded.NewDecoder(nil).Decode(context.Background(), f.Registry(), []raw.ObjectRef{ref})
	if err != nil {
		return err
	}
	s := streams[ref]
	if s.Err != nil {
		return s.Err
	}
	_, err = w.Write(s.Data)
	return err
}

type streamSummary struct {
	Ref     string   `json:"ref"`
	Filters []string `json:"filters,omitempty"`
	Raw     int64    `json:"raw"`
	Decoded int      `json:"decoded"`
	Error   string   `json:"error,omitempty"`
}

func reportStreams(ctx context.Context, f *document.File, w io.Writer) error {
	refs := f.Registry().Objects()
	streams, err := decoded.NewDecoder(nil).Decode(ctx, f.Registry(), refs)
	if err != nil {
		return err
	}
	keys := make([]raw.ObjectRef, 0, len(streams))
	for ref := range streams {
		keys = append(keys, ref)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Num < keys[j].Num })

	out := make([]streamSummary, 0, len(keys))
	for _, ref := range keys {
		s := streams[ref]
		ss := streamSummary{Ref: ref.String(), Filters: s.Filters, Decoded: len(s.Data)}
		if n, ok := s.Dict.Int("Length"); ok {
			ss.Raw = n
		}
		if s.Err != nil {
			ss.Error = s.Err.Error()
		}
		out = append(out, ss)
	}
	return emitSection(w, "streams", out)
}

func dumpTokens(path string, n int, w io.Writer) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()

	s := scanner.New(file, scanner.Config{})
	for i := 0; i < n; i++ {
		tok, err := s.Next()
		if err != nil {
			fmt.Fprintf(w, "error at %d: %v\n", s.Position(), err)
			return nil
		}
		if tok.Type == scanner.TokenEOF {
			return nil
		}
		fmt.Fprintf(w, "%d\t%s\t%q\n", tok.Pos, tok.Type, tok.Raw)
	}
	return nil
}

func emitSection(w io.Writer, name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	fmt.Fprintf(w, "== %s ==\n%s\n", name, data)
	return nil
}

// teeSink fans diagnostics out to several sinks.
type teeSink []observability.Sink

func (t teeSink) Add(d observability.Diagnostic) {
	for _, s := range t {
		s.Add(d)
	}
}

func (t teeSink) Warn(msg string, fields ...observability.Field) {
	for _, s := range t {
		s.Warn(msg, fields...)
	}
}

func (t teeSink) Info(msg string, fields ...observability.Field) {
	for _, s := range t {
		s.Info(msg, fields...)
	}
}
