package decoded

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/wudi/pdfgraph/filters"
	"github.com/wudi/pdfgraph/ir/raw"
)

// Decoder runs the filter pipeline over many streams at once.
type Decoder struct {
	pipeline *filters.Pipeline
	workers  int
}

// NewDecoder returns a Decoder using p, or the default pipeline when p is nil.
func NewDecoder(p *filters.Pipeline) *Decoder {
	if p == nil {
		p = filters.NewDefaultPipeline(filters.Limits{})
	}
	workers := runtime.GOMAXPROCS(0)
	if workers < 1 {
		workers = 1
	}
	return &Decoder{pipeline: p, workers: workers}
}

type task struct {
	ref    raw.ObjectRef
	dict   *raw.DictObj
	data   []byte
	names  []string
	params []*raw.DictObj
}

// Decode fetches every ref from src and decodes the streams among them.
// Objects that are not streams are skipped. A fetch failure aborts; a
// filter failure is reported on the Stream.
//
// Fetching and reading payloads happen on the calling goroutine since
// registries and decryption handlers are not safe for concurrent use.
// Only the filter work is spread over the workers.
func (d *Decoder) Decode(ctx context.Context, src Fetcher, refs []raw.ObjectRef) (map[raw.ObjectRef]*Stream, error) {
	var tasks []task
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		obj, err := src.Fetch(ref)
		if err != nil {
			return nil, fmt.Errorf("fetch %v: %w", ref, err)
		}
		st, ok := obj.(*raw.StreamObj)
		if !ok {
			continue
		}
		data, err := st.RawData()
		if err != nil {
			return nil, fmt.Errorf("read stream %v: %w", ref, err)
		}
		names, params := filters.ExtractFilters(st.Dict)
		tasks = append(tasks, task{ref: ref, dict: st.Dict, data: data, names: names, params: params})
	}

	streams := make(map[raw.ObjectRef]*Stream, len(tasks))
	if len(tasks) == 0 {
		return streams, nil
	}

	sem := make(chan struct{}, d.workers)
	results := make(chan *Stream, len(tasks))
	var wg sync.WaitGroup
	for _, t := range tasks {
		wg.Add(1)
		go func(t task) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()
			results <- d.decode(ctx, t)
		}(t)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	for s := range results {
		streams[s.Ref] = s
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return streams, nil
}

func (d *Decoder) decode(ctx context.Context, t task) *Stream {
	s := &Stream{Ref: t.ref, Dict: t.dict, Data: t.data, Filters: t.names}
	if len(t.names) == 0 {
		return s
	}
	out, err := d.pipeline.Decode(ctx, t.data, t.names, t.params)
	if err != nil {
		s.Err = fmt.Errorf("decode filters %v for %v: %w", t.names, t.ref, err)
		return s
	}
	s.Data = out
	return s
}
