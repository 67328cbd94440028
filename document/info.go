package document

import (
	"strings"

	"github.com/wudi/pdfgraph/ir/raw"
	"github.com/wudi/pdfgraph/parser"
	"github.com/wudi/pdfgraph/scanner"
)

// Metadata holds the text entries of the document information dictionary.
type Metadata struct {
	Title    string
	Author   string
	Subject  string
	Keywords []string
	Creator  string
	Producer string
}

// Info decodes the trailer's /Info dictionary. A missing or unreadable
// dictionary yields the zero Metadata.
func (f *File) Info() Metadata {
	var md Metadata
	if !f.trailer.HasInfo {
		return md
	}
	obj, err := f.table.Resolve(f.trailer.Info.R)
	if err != nil {
		return md
	}
	dict, ok := obj.(*raw.DictObj)
	if !ok {
		return md
	}
	md.Title = f.text(dict, "Title")
	md.Author = f.text(dict, "Author")
	md.Subject = f.text(dict, "Subject")
	md.Creator = f.text(dict, "Creator")
	md.Producer = f.text(dict, "Producer")
	if kw := f.text(dict, "Keywords"); kw != "" {
		for _, k := range strings.Split(kw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				md.Keywords = append(md.Keywords, k)
			}
		}
	}
	return md
}

func (f *File) text(dict *raw.DictObj, key string) string {
	v, ok := dict.Get(key)
	if !ok {
		return ""
	}
	v, err := f.table.ResolveObject(v)
	if err != nil {
		return ""
	}
	s, ok := v.(raw.StringObj)
	if !ok {
		return ""
	}
	return s.Text()
}

// Linearized reports whether the first object in the file is a
// linearization parameter dictionary.
func (f *File) Linearized() bool {
	s := scanner.New(readerFunc(f.table.Read), scanner.Config{MaxStringLength: 4096})
	p := parser.New(s, parser.Config{Limits: f.opts.Limits})
	for i := 0; i < 64; i++ {
		tok, err := s.Next()
		if err != nil || tok.Type == scanner.TokenEOF {
			return false
		}
		if !tok.IsInteger() {
			continue
		}
		if err := p.Seek(tok.Pos); err != nil {
			return false
		}
		obj, err := p.ReadItem()
		if err != nil {
			return false
		}
		ind, ok := obj.(raw.IndirectObj)
		if !ok {
			return false
		}
		dict, ok := ind.Value.(*raw.DictObj)
		if !ok {
			return false
		}
		_, ok = dict.Get("Linearized")
		return ok
	}
	return false
}

type readerFunc func(buf []byte, offset int64) (int, error)

func (r readerFunc) ReadAt(buf []byte, offset int64) (int, error) { return r(buf, offset) }
