package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNopTracer(t *testing.T) {
	tracer := NopTracer()
	ctx := context.Background()
	ctx2, span := tracer.StartSpan(ctx, "test")
	if ctx2 != ctx {
		t.Fatalf("nop tracer should return same context")
	}
	span.SetTag("key", "value")
	span.SetError(nil)
	span.Finish()
}

func TestRecorderCountsByLevel(t *testing.T) {
	rec := NewRecorder()
	rec.Warn("solitary CR", Int64("offset", 10))
	rec.Info("header version", String("version", "1.7"))
	Warnf(rec, "scanner", 4, "odd %s", "thing")

	require.Len(t, rec.Diagnostics(), 3)
	assert.Equal(t, 2, rec.Count(LevelWarn))
	assert.Equal(t, 1, rec.Count(LevelInfo))
	assert.Equal(t, "[warn] scanner: odd thing (offset 4)", rec.Diagnostics()[2].String())
}

func TestSlogSinkWritesStructuredRecords(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSlogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	sink.Add(Diagnostic{Level: LevelWarn, Component: "xref", Offset: 99, Message: "rebuilding", Err: errors.New("bad startxref")})
	sink.Info("opened", Int("objects", 3))

	out := buf.String()
	assert.Contains(t, out, `"msg":"rebuilding"`)
	assert.Contains(t, out, `"component":"xref"`)
	assert.Contains(t, out, `"offset":99`)
	assert.Contains(t, out, `"objects":3`)
}

func TestOrNop(t *testing.T) {
	assert.IsType(t, NopSink{}, OrNop(nil))
	rec := NewRecorder()
	assert.Same(t, rec, OrNop(rec))
}
