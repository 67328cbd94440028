package filters

import "github.com/wudi/pdfgraph/ir/raw"

// ExtractFilters reads Filter and DecodeParms entries from a stream dictionary.
// The params slice is aligned with the names; missing entries are nil.
func ExtractFilters(dict *raw.DictObj) ([]string, []*raw.DictObj) {
	var names []string
	var params []*raw.DictObj

	filterObj, ok := dict.Get("Filter")
	if !ok {
		return names, params
	}

	switch f := filterObj.(type) {
	case raw.NameObj:
		names = append(names, f.Value())
	case *raw.ArrayObj:
		for _, item := range f.Items {
			if n, ok := item.(raw.NameObj); ok {
				names = append(names, n.Value())
			}
		}
	}

	if len(names) > 0 {
		params = make([]*raw.DictObj, len(names))
		pObj, ok := dict.Get("DecodeParms")
		if !ok {
			pObj, ok = dict.Get("DP")
		}
		if ok {
			switch p := pObj.(type) {
			case *raw.DictObj:
				params[0] = p
			case *raw.ArrayObj:
				for i, item := range p.Items {
					if i >= len(params) {
						break
					}
					if d, ok := item.(*raw.DictObj); ok {
						params[i] = d
					}
				}
			}
		}
	}

	return names, params
}

// CryptFilterName reports whether the stream names a Crypt filter and, if so,
// which crypt filter it selects ("" for the document default).
func CryptFilterName(dict *raw.DictObj) (string, bool) {
	names, params := ExtractFilters(dict)
	for i, name := range names {
		if name != "Crypt" {
			continue
		}
		if params[i] != nil {
			if n, ok := params[i].Name("Name"); ok {
				return n, true
			}
		}
		return "", true
	}
	return "", false
}
