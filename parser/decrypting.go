package parser

import (
	"bytes"
	"io"

	"github.com/wudi/pdfgraph/filters"
	"github.com/wudi/pdfgraph/ir/raw"
	"github.com/wudi/pdfgraph/scanner"
	"github.com/wudi/pdfgraph/security"
)

// DecryptingParser reads the same grammar as Parser but hands out plaintext.
// Strings inside an object definition are decrypted as they are read, under
// the key of that object. Stream payloads stay encrypted on disk and are
// decrypted when their Source is opened.
type DecryptingParser struct {
	*Parser
}

func NewDecrypting(s scanner.Scanner, cfg Config, h security.Handler) *DecryptingParser {
	p := New(s, cfg)
	if h != nil && h.IsEncrypted() {
		p.sec = h
	}
	return &DecryptingParser{Parser: p}
}

// Handler returns the security handler the parser decrypts with, or nil
// when the document is not encrypted.
func (d *DecryptingParser) Handler() security.Handler { return d.sec }

func (p *Parser) decryptingSource(dict *raw.DictObj, ref raw.ObjectRef) raw.StreamSource {
	if t, _ := dict.Name("Type"); t == "XRef" {
		return p.source
	}
	class := security.DataClassStream
	if t, _ := dict.Name("Type"); t == "Metadata" {
		if !p.sec.EncryptMetadata() {
			return p.source
		}
		class = security.DataClassMetadataStream
	}
	filter, hasCrypt := filters.CryptFilterName(dict)
	if hasCrypt && filter == "Identity" {
		return p.source
	}
	return decryptingSource{src: p.source, h: p.sec, ref: ref, class: class, filter: filter}
}

// decryptingSource decrypts a stream payload under the key of the object
// that owns it, restoring whatever key was active before.
type decryptingSource struct {
	src    raw.StreamSource
	h      security.Handler
	ref    raw.ObjectRef
	class  security.DataClass
	filter string
}

func (d decryptingSource) Open(offset, length int64) (io.Reader, error) {
	r, err := d.src.Open(offset, length)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	saved := d.h.ActiveKey()
	d.h.SelectKey(d.ref)
	plain, err := d.h.DecryptWithFilter(data, d.class, d.filter)
	d.h.SelectKey(saved)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(plain), nil
}
