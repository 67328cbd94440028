// Package document opens PDF files: it finds the header, builds the object
// registry from the cross-reference data (rebuilding it by a full scan when
// that data is unusable) and installs the decryption handler.
package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/wudi/pdfgraph/ir/raw"
	"github.com/wudi/pdfgraph/observability"
	"github.com/wudi/pdfgraph/parser"
	"github.com/wudi/pdfgraph/pdferr"
	"github.com/wudi/pdfgraph/recovery"
	"github.com/wudi/pdfgraph/security"
	"github.com/wudi/pdfgraph/xref"
)

// Options controls how a file is opened. The zero value opens leniently
// with the default limits.
type Options struct {
	Password string
	// Recovery is consulted when the cross-reference data cannot be read.
	// ActionFail returns the error, anything else rebuilds the registry.
	// Nil means recovery.NewLenientStrategy().
	Recovery     recovery.Strategy
	Duplicates   recovery.DuplicatePolicy
	ForceRebuild bool
	Limits       security.Limits
	Diagnostics  observability.Sink
	Tracer       observability.Tracer
	// Locks, when set, is used to hold the path lock for the lifetime of a
	// File opened by path.
	Locks      *Locks
	WindowSize int64
}

// File is an open document. Like the registry it wraps, a File is not safe
// for concurrent use; coordinate through Locks.
type File struct {
	path string
	opts Options
	diag observability.Sink

	osFile *os.File
	src    io.ReaderAt
	size   int64
	unlock func()

	header  Header
	version string
	table   *xref.Table
	trailer *parser.Trailer
	sec     security.Handler
	closed  bool
}

// Open opens the file at path.
func Open(ctx context.Context, path string, opts Options) (*File, error) {
	f := newFile(opts)
	f.path = path
	if err := f.lock(ctx); err != nil {
		return nil, err
	}
	if err := f.openPath(); err != nil {
		f.releaseLock()
		return nil, err
	}
	if err := f.load(ctx); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// OpenReader opens a document held by r. A size of zero or less is probed
// from the reader.
func OpenReader(ctx context.Context, r io.ReaderAt, size int64, opts Options) (*File, error) {
	f := newFile(opts)
	f.src, f.size = r, size
	if err := f.load(ctx); err != nil {
		return nil, err
	}
	return f, nil
}

func newFile(opts Options) *File {
	if opts.Recovery == nil {
		opts.Recovery = recovery.NewLenientStrategy()
	}
	if opts.Tracer == nil {
		opts.Tracer = observability.NopTracer()
	}
	opts.Limits = opts.Limits.WithDefaults()
	return &File{opts: opts, diag: observability.OrNop(opts.Diagnostics)}
}

func (f *File) lock(ctx context.Context) error {
	if f.opts.Locks == nil || f.unlock != nil {
		return nil
	}
	unlock, err := f.opts.Locks.Lock(ctx, f.path)
	if err != nil {
		return fmt.Errorf("lock %s: %w", f.path, err)
	}
	f.unlock = unlock
	return nil
}

func (f *File) releaseLock() {
	if f.unlock != nil {
		f.unlock()
		f.unlock = nil
	}
}

func (f *File) openPath() error {
	osf, err := os.Open(f.path)
	if err != nil {
		return err
	}
	info, err := osf.Stat()
	if err != nil {
		osf.Close()
		return err
	}
	f.osFile, f.src, f.size = osf, osf, info.Size()
	return nil
}

func (f *File) load(ctx context.Context) (err error) {
	ctx, span := f.opts.Tracer.StartSpan(ctx, observability.SpanOpen)
	defer func() {
		if err != nil {
			span.SetError(err)
		}
		span.Finish()
	}()

	if f.size <= 0 {
		f.size = xref.ProbeSize(f.src)
	}
	hdr, err := findHeader(f.src, f.size, f.diag)
	if err != nil {
		return err
	}
	span.SetTag("version", hdr.Version)

	r, size := f.src, f.size
	if hdr.Offset > 0 {
		r = io.NewSectionReader(f.src, hdr.Offset, f.size-hdr.Offset)
		size -= hdr.Offset
	}
	table := xref.NewTable(r, xref.Config{
		Diagnostics: f.diag,
		Limits:      f.opts.Limits,
		Recovery:    f.opts.Recovery,
		Duplicates:  f.opts.Duplicates,
		Size:        size,
		WindowSize:  f.opts.WindowSize,
	})

	tr, err := f.construct(ctx, table)
	if err != nil {
		return err
	}
	table.Finalize(tr)
	span.SetTag("rebuilt", table.Rebuilt())

	f.header, f.version = hdr, hdr.Version
	f.table, f.trailer, f.sec = table, tr, nil
	if err := f.setupSecurity(); err != nil {
		return err
	}
	f.applyCatalogVersion()
	return nil
}

// construct reads the cross-reference chain and falls back to a rebuild
// when the strategy allows it.
func (f *File) construct(ctx context.Context, table *xref.Table) (*parser.Trailer, error) {
	if f.opts.ForceRebuild {
		return f.rebuild(ctx, table)
	}
	bctx, span := f.opts.Tracer.StartSpan(ctx, observability.SpanBuild)
	tr, err := table.Build(bctx)
	if err != nil {
		span.SetError(err)
	}
	span.Finish()
	if err == nil {
		return tr, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	loc := recovery.Location{ByteOffset: -1, Component: "xref"}
	var perr *pdferr.Error
	if errors.As(err, &perr) {
		loc.ByteOffset = perr.Offset
		if perr.Object != nil {
			loc.ObjectNum, loc.ObjectGen = perr.Object.Num, perr.Object.Gen
		}
	}
	if !f.opts.Recovery.OnError(ctx, err, loc).Recovers() {
		return nil, err
	}
	observability.Warnf(f.diag, "document", loc.ByteOffset, "cross-reference data unusable, rebuilding: %v", err)
	tr, rerr := f.rebuild(ctx, table)
	if rerr != nil {
		return nil, errors.Join(err, rerr)
	}
	return tr, nil
}

func (f *File) rebuild(ctx context.Context, table *xref.Table) (*parser.Trailer, error) {
	ctx, span := f.opts.Tracer.StartSpan(ctx, observability.SpanRebuild)
	defer span.Finish()
	tr, err := table.Rebuild(ctx)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	span.SetTag("objects", len(table.Entries()))
	return tr, nil
}

func (f *File) setupSecurity() error {
	if !f.trailer.Encrypted() {
		return nil
	}
	var (
		dict *raw.DictObj
		ref  *raw.ObjectRef
	)
	// The registry has no handler yet, so this fetch reads plain bytes.
	switch v := f.trailer.Encrypt.(type) {
	case *raw.DictObj:
		dict = v
	case raw.RefObj:
		obj, err := f.table.Resolve(v.R)
		if err != nil {
			return fmt.Errorf("read encryption dictionary: %w", err)
		}
		d, ok := obj.(*raw.DictObj)
		if !ok {
			return pdferr.New(pdferr.KindWrongType, "document", -1, "Encrypt %s is a %s", v.R, obj.Type())
		}
		r := v.R
		dict, ref = d, &r
	}
	h, err := (&security.HandlerBuilder{}).WithEncryptDict(dict).WithTrailer(f.trailer.Dict).Build()
	if err != nil {
		return fmt.Errorf("security setup: %w", err)
	}
	if err := h.Authenticate(f.opts.Password); err != nil {
		return fmt.Errorf("security setup: %w", err)
	}
	f.table.SetSecurity(h, ref)
	f.sec = h
	return nil
}

// applyCatalogVersion lets a catalog /Version entry raise the header version.
func (f *File) applyCatalogVersion() {
	root, err := f.Root()
	if err != nil {
		return
	}
	obj, ok := root.Get("Version")
	if !ok {
		return
	}
	name, ok := obj.(raw.NameObj)
	if !ok {
		return
	}
	if _, _, ok := parseVersion(name.Val); !ok {
		observability.Warnf(f.diag, "document", -1, "catalog names malformed version %q", name.Val)
		return
	}
	if newerVersion(name.Val, f.version) {
		f.version = name.Val
	}
}

// Trailer is the merged trailer of the newest revision.
func (f *File) Trailer() *parser.Trailer { return f.trailer }

// Version is the header version, raised by the catalog's /Version entry.
func (f *File) Version() string { return f.version }

// Header reports the located header.
func (f *File) Header() Header { return f.header }

// Root returns the document catalog.
func (f *File) Root() (*raw.DictObj, error) {
	if !f.trailer.HasRoot {
		return nil, pdferr.New(pdferr.KindMissingRequiredKey, "document", -1, "trailer has no Root")
	}
	obj, err := f.table.Resolve(f.trailer.Root.R)
	if err != nil {
		return nil, err
	}
	d, ok := obj.(*raw.DictObj)
	if !ok {
		return nil, pdferr.New(pdferr.KindWrongType, "document", -1, "Root %s is a %s", f.trailer.Root.R, obj.Type())
	}
	return d, nil
}

// Object fetches one object through the registry. Unknown objects are Null.
func (f *File) Object(ref raw.ObjectRef) (raw.Object, error) { return f.table.Fetch(ref) }

// Resolve follows obj to a direct object if it is a reference.
func (f *File) Resolve(obj raw.Object) (raw.Object, error) { return f.table.ResolveObject(obj) }

// Registry exposes the object registry.
func (f *File) Registry() *xref.Table { return f.table }

// Read reads raw bytes at an offset relative to the header.
func (f *File) Read(buf []byte, offset int64) (int, error) { return f.table.Read(buf, offset) }

func (f *File) Encrypted() bool { return f.sec != nil && f.sec.IsEncrypted() }

// Permissions reports the user access permissions. Unencrypted files grant
// everything.
func (f *File) Permissions() security.Permissions {
	if !f.Encrypted() {
		return security.NoopHandler().Permissions()
	}
	return f.sec.Permissions()
}

// Rebuilt reports whether the registry came from a full scan.
func (f *File) Rebuilt() bool { return f.table.Rebuilt() }

// Close releases the file handle and the path lock. It is safe to call
// more than once.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	var err error
	if f.osFile != nil {
		err = f.osFile.Close()
		f.osFile = nil
	}
	f.releaseLock()
	return err
}

// Reopen takes the path lock again, reopens the handle and rebuilds the
// registry from scratch. Files opened with OpenReader reload from their
// reader.
func (f *File) Reopen(ctx context.Context) error {
	if f.path != "" {
		if f.osFile != nil {
			f.osFile.Close()
			f.osFile = nil
		}
		if err := f.lock(ctx); err != nil {
			return err
		}
		if err := f.openPath(); err != nil {
			f.releaseLock()
			return err
		}
	}
	f.closed = false
	if err := f.load(ctx); err != nil {
		f.Close()
		return err
	}
	return nil
}
