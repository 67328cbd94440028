package xref

import (
	"io"
	"os"
	"sort"

	"github.com/wudi/pdfgraph/filters"
	"github.com/wudi/pdfgraph/ir/raw"
	"github.com/wudi/pdfgraph/observability"
	"github.com/wudi/pdfgraph/parser"
	"github.com/wudi/pdfgraph/pdferr"
	"github.com/wudi/pdfgraph/recovery"
	"github.com/wudi/pdfgraph/scanner"
	"github.com/wudi/pdfgraph/security"
)

type EntryKind int

const (
	EntryFree EntryKind = iota
	EntryInUse
	// EntryCompressed objects live inside an object stream.
	EntryCompressed
)

func (k EntryKind) String() string {
	switch k {
	case EntryInUse:
		return "in-use"
	case EntryCompressed:
		return "compressed"
	default:
		return "free"
	}
}

// Entry locates one object number. Offset and Gen apply to in-use entries,
// Container and Index to compressed ones.
type Entry struct {
	Num       int
	Kind      EntryKind
	Offset    int64
	Gen       int
	Container int
	Index     int
}

type record struct {
	entry      Entry
	cached     raw.Object
	registered raw.Object
	refs       int
	// placeholder marks a number referenced before its definition was found.
	placeholder bool
}

type Config struct {
	Diagnostics observability.Sink
	Limits      security.Limits
	// Recovery decides whether a broken older section in a Prev chain ends
	// the chain with a warning or fails Build. Nil fails.
	Recovery recovery.Strategy
	// Duplicates picks between repeated definitions during Rebuild.
	Duplicates recovery.DuplicatePolicy
	Filters    *filters.Pipeline
	// Size is the length of the underlying data. Zero means probe the reader.
	Size       int64
	WindowSize int64
}

// Table is the object registry of one document: the merged cross-reference
// information plus a lazily filled cache of parsed objects. It implements
// parser.Owner. A Table is not safe for concurrent use.
type Table struct {
	r       io.ReaderAt
	size    int64
	cfg     Config
	diag    observability.Sink
	limits  security.Limits
	filters *filters.Pipeline

	records map[int]*record
	trailer *parser.Trailer
	final   bool
	rebuilt bool

	// sectionFree holds the numbers the classic table being read marked
	// free; its hybrid cross-reference stream may still claim them.
	sectionFree map[int]bool
	hybrid      bool

	sec       security.Handler
	encryptID *raw.ObjectRef

	// idle is a parser free for reuse; nested fetches build their own.
	idle       parser.ObjectReader
	loading    map[int]bool
	containers map[int]*container
	objStms    []int
}

func NewTable(r io.ReaderAt, cfg Config) *Table {
	cfg.Limits = cfg.Limits.WithDefaults()
	t := &Table{
		r:          r,
		cfg:        cfg,
		diag:       observability.OrNop(cfg.Diagnostics),
		limits:     cfg.Limits,
		filters:    cfg.Filters,
		records:    make(map[int]*record),
		loading:    make(map[int]bool),
		containers: make(map[int]*container),
	}
	if t.filters == nil {
		t.filters = filters.NewDefaultPipeline(filters.Limits{
			MaxDecompressedSize: cfg.Limits.MaxDecompressedSize,
			MaxDecodeTime:       cfg.Limits.MaxDecodeTime,
		})
	}
	t.size = cfg.Size
	if t.size <= 0 {
		t.size = ProbeSize(r)
	}
	return t
}

// Size is the length of the underlying data in bytes.
func (t *Table) Size() int64 { return t.size }

// Read copies raw bytes from the underlying data.
func (t *Table) Read(buf []byte, offset int64) (int, error) { return t.r.ReadAt(buf, offset) }

func (t *Table) Trailer() *parser.Trailer { return t.trailer }

// Rebuilt reports whether the table came from a linear scan.
func (t *Table) Rebuilt() bool { return t.rebuilt }

// Finalize installs the document trailer, trims to its Size and marks the
// registry complete. From here on unknown references read as null.
func (t *Table) Finalize(tr *parser.Trailer) {
	t.trailer = tr
	for num, rec := range t.records {
		if rec.placeholder {
			delete(t.records, num)
		}
	}
	if tr != nil && tr.HasSize {
		t.Trim(tr.Size)
	}
	t.final = true
}

// Trim drops every entry whose number is at or past size.
func (t *Table) Trim(size int64) {
	dropped := 0
	for num := range t.records {
		if int64(num) >= size {
			delete(t.records, num)
			dropped++
		}
	}
	if dropped > 0 {
		t.diag.Info("trimmed entries past trailer size", observability.Int64("size", size), observability.Int("dropped", dropped))
	}
}

// Lookup returns the cross-reference entry for num.
func (t *Table) Lookup(num int) (Entry, bool) {
	rec, ok := t.records[num]
	if !ok || rec.placeholder {
		return Entry{}, false
	}
	return rec.entry, true
}

// Entries lists every entry, free ones included, ordered by number.
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, len(t.records))
	for _, rec := range t.records {
		if !rec.placeholder {
			out = append(out, rec.entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Num < out[j].Num })
	return out
}

// Objects lists the live objects, ordered by number.
func (t *Table) Objects() []raw.ObjectRef {
	var out []raw.ObjectRef
	for _, e := range t.Entries() {
		if e.Kind != EntryFree {
			out = append(out, raw.ObjectRef{Num: e.Num, Gen: e.Gen})
		}
	}
	return out
}

// GetReference returns a handle for a known, live object and counts it as
// one more live reference.
func (t *Table) GetReference(ref raw.ObjectRef) (raw.RefObj, bool) {
	rec, ok := t.records[ref.Num]
	if !ok || rec.entry.Kind == EntryFree {
		return raw.RefObj{}, false
	}
	rec.refs++
	return raw.RefObj{R: ref}, true
}

func (t *Table) HasTrailer() bool { return t.final }

// RegisterPlaceholder records ref as referenced but not yet located.
func (t *Table) RegisterPlaceholder(ref raw.ObjectRef) raw.RefObj {
	rec, ok := t.records[ref.Num]
	if !ok {
		rec = &record{entry: Entry{Num: ref.Num, Kind: EntryInUse, Gen: ref.Gen}, placeholder: true}
		t.records[ref.Num] = rec
	}
	rec.refs++
	return raw.RefObj{R: ref}
}

// Release drops one live reference to ref.
func (t *Table) Release(ref raw.ObjectRef) {
	if rec, ok := t.records[ref.Num]; ok && rec.refs > 0 {
		rec.refs--
	}
}

func (t *Table) RefCount(ref raw.ObjectRef) int {
	if rec, ok := t.records[ref.Num]; ok {
		return rec.refs
	}
	return 0
}

// Unreferenced lists live objects no parsed value currently points at.
func (t *Table) Unreferenced() []raw.ObjectRef {
	var out []raw.ObjectRef
	for _, e := range t.Entries() {
		if e.Kind != EntryFree && t.records[e.Num].refs == 0 {
			out = append(out, raw.ObjectRef{Num: e.Num, Gen: e.Gen})
		}
	}
	return out
}

// RegisterObject records that ref is defined at offset, replacing whatever
// was known about its number.
func (t *Table) RegisterObject(ref raw.ObjectRef, offset int64) {
	rec := t.record(ref.Num)
	rec.entry = Entry{Num: ref.Num, Kind: EntryInUse, Offset: offset, Gen: ref.Gen}
	rec.cached, rec.registered, rec.placeholder = nil, nil, false
}

// RegisterValue installs an in-memory value for ref. It wins over anything
// on disk.
func (t *Table) RegisterValue(ref raw.ObjectRef, obj raw.Object) {
	rec := t.record(ref.Num)
	if rec.placeholder || rec.entry.Kind == EntryFree {
		rec.entry = Entry{Num: ref.Num, Kind: EntryInUse, Gen: ref.Gen}
	}
	rec.entry.Gen = ref.Gen
	rec.registered, rec.cached, rec.placeholder = obj, nil, false
}

// Delete frees ref and bumps its generation so stale references miss.
func (t *Table) Delete(ref raw.ObjectRef) {
	rec, ok := t.records[ref.Num]
	if !ok {
		return
	}
	rec.entry = Entry{Num: ref.Num, Kind: EntryFree, Gen: rec.entry.Gen + 1}
	rec.cached, rec.registered, rec.placeholder = nil, nil, false
	delete(t.containers, ref.Num)
}

func (t *Table) record(num int) *record {
	rec, ok := t.records[num]
	if !ok {
		rec = &record{}
		t.records[num] = rec
	}
	return rec
}

// setEntry is the merge used while reading a cross-reference chain newest
// first: an entry only lands when nothing newer claimed the number.
func (t *Table) setEntry(e Entry) bool {
	if rec, ok := t.records[e.Num]; ok && !rec.placeholder {
		if !t.hybrid || e.Kind == EntryFree || !t.sectionFree[e.Num] {
			return false
		}
		delete(t.sectionFree, e.Num)
	}
	rec := t.record(e.Num)
	rec.entry = e
	rec.placeholder = false
	return true
}

// setUnlocated records num as in use at an unknown position. An older
// section may still locate it; otherwise Finalize drops it and it reads as
// null.
func (t *Table) setUnlocated(num, gen int) {
	if _, ok := t.records[num]; ok {
		return
	}
	t.records[num] = &record{entry: Entry{Num: num, Kind: EntryInUse, Gen: gen}, placeholder: true}
}

// SetSecurity switches object reading to decrypt with h. Values parsed so
// far were read as ciphertext and are dropped, except the encryption
// dictionary itself.
func (t *Table) SetSecurity(h security.Handler, encrypt *raw.ObjectRef) {
	if h == nil || !h.IsEncrypted() {
		t.sec = nil
		return
	}
	t.sec = h
	t.encryptID = encrypt
	t.idle = nil
	t.containers = make(map[int]*container)
	for num, rec := range t.records {
		if encrypt != nil && num == encrypt.Num {
			continue
		}
		rec.cached = nil
	}
	if t.rebuilt && len(t.objStms) > 0 {
		t.expandObjectStreams()
	}
}

// Security returns the installed handler, nil for plain documents.
func (t *Table) Security() security.Handler { return t.sec }

func (t *Table) scannerConfig() scanner.Config {
	return scanner.Config{
		MaxStringLength: t.limits.MaxStringLength,
		WindowSize:      t.cfg.WindowSize,
		Diagnostics:     t.diag,
	}
}

func (t *Table) newReader() parser.ObjectReader {
	s := scanner.New(t.r, t.scannerConfig())
	cfg := t.parserConfig()
	if t.sec != nil {
		return parser.NewDecrypting(s, cfg, t.sec)
	}
	return parser.New(s, cfg)
}

// plainReader never decrypts; cross-reference sections and trailers are
// stored in the clear.
func (t *Table) plainReader() *parser.Parser {
	return parser.New(scanner.New(t.r, t.scannerConfig()), t.parserConfig())
}

func (t *Table) parserConfig() parser.Config {
	return parser.Config{Owner: t, Diagnostics: t.diag, Limits: t.limits, Lenient: t.rebuilt}
}

func (t *Table) acquire() parser.ObjectReader {
	if p := t.idle; p != nil {
		t.idle = nil
		return p
	}
	return t.newReader()
}

func (t *Table) release(p parser.ObjectReader) { t.idle = p }

// Fetch returns the direct value of ref. Free, unknown and generation
// mismatched numbers read as null. Results are cached.
func (t *Table) Fetch(ref raw.ObjectRef) (raw.Object, error) {
	rec, ok := t.records[ref.Num]
	if !ok || rec.placeholder || rec.entry.Kind == EntryFree {
		return raw.NullObj{}, nil
	}
	if rec.entry.Kind == EntryInUse && rec.entry.Gen != ref.Gen {
		return raw.NullObj{}, nil
	}
	if rec.registered != nil {
		return rec.registered, nil
	}
	if rec.cached != nil {
		return rec.cached, nil
	}
	if t.loading[ref.Num] {
		return nil, pdferr.New(pdferr.KindIsCorrupt, "xref", rec.entry.Offset, "object %s refers to itself while loading", ref)
	}
	t.loading[ref.Num] = true
	defer delete(t.loading, ref.Num)

	var value raw.Object
	switch rec.entry.Kind {
	case EntryInUse:
		p := t.acquire()
		ind, err := p.ReadObjectAt(ref, rec.entry.Offset)
		t.release(p)
		if err != nil {
			return nil, err
		}
		value = ind.Value
	case EntryCompressed:
		v, err := t.fetchCompressed(ref, rec.entry)
		if err != nil {
			return nil, err
		}
		value = v
	}
	rec.cached = value
	return value, nil
}

// Resolve fetches ref and follows reference chains up to MaxIndirectDepth.
func (t *Table) Resolve(ref raw.ObjectRef) (raw.Object, error) {
	obj, err := t.Fetch(ref)
	for depth := 1; err == nil; depth++ {
		next, isRef := obj.(raw.RefObj)
		if !isRef {
			return obj, nil
		}
		if depth >= t.limits.MaxIndirectDepth {
			return nil, pdferr.New(pdferr.KindIsCorrupt, "xref", -1, "reference chain from %s deeper than %d", ref, t.limits.MaxIndirectDepth)
		}
		obj, err = t.Fetch(next.R)
	}
	return nil, err
}

// ResolveObject returns obj itself unless it is a reference.
func (t *Table) ResolveObject(obj raw.Object) (raw.Object, error) {
	if r, ok := obj.(raw.RefObj); ok {
		return t.Resolve(r.R)
	}
	if obj == nil {
		return raw.NullObj{}, nil
	}
	return obj, nil
}

// ProbeSize reports the length of r, reading it through when r offers no
// cheaper way.
func ProbeSize(r io.ReaderAt) int64 {
	switch v := r.(type) {
	case interface{ Size() int64 }:
		return v.Size()
	case *os.File:
		if fi, err := v.Stat(); err == nil {
			return fi.Size()
		}
	}
	// Walk forward in chunks until the reader stops.
	const chunk = int64(64 * 1024)
	buf := make([]byte, chunk)
	var size int64
	for {
		n, err := r.ReadAt(buf, size)
		size += int64(n)
		if err != nil || int64(n) < chunk {
			return size
		}
	}
}
