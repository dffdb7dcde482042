package tracer

import (
	"context"
	"sync"
)

// NoopTracer discards every span.
type NoopTracer struct{}

func NewNoop() *NoopTracer {
	return &NoopTracer{}
}

func (t *NoopTracer) Start(ctx context.Context, _ string, _ ...Attribute) (context.Context, Span) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error)                     {}
func (noopSpan) SetAttributes(...Attribute)    {}
func (noopSpan) AddEvent(string, ...Attribute) {}

// RecordedSpan is a finished span captured by a Recorder.
type RecordedSpan struct {
	Name   string
	Attrs  map[string]any
	Events []string
	Err    error
}

// Recorder keeps finished spans in memory for assertions in tests.
type Recorder struct {
	mu    sync.Mutex
	spans []RecordedSpan
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span) {
	s := &recordedSpan{rec: r, span: RecordedSpan{Name: name, Attrs: make(map[string]any)}}
	s.SetAttributes(attrs...)
	return ctx, s
}

// Spans returns the finished spans named name, or all spans when name is
// empty.
func (r *Recorder) Spans(name string) []RecordedSpan {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []RecordedSpan
	for _, s := range r.spans {
		if name == "" || s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

type recordedSpan struct {
	rec  *Recorder
	mu   sync.Mutex
	span RecordedSpan
}

func (s *recordedSpan) End(err error) {
	s.mu.Lock()
	s.span.Err = err
	done := s.span
	s.mu.Unlock()

	s.rec.mu.Lock()
	s.rec.spans = append(s.rec.spans, done)
	s.rec.mu.Unlock()
}

func (s *recordedSpan) SetAttributes(attrs ...Attribute) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range attrs {
		s.span.Attrs[a.Key] = a.Value
	}
}

func (s *recordedSpan) AddEvent(name string, _ ...Attribute) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.span.Events = append(s.span.Events, name)
}

var (
	_ Tracer = (*NoopTracer)(nil)
	_ Tracer = (*Recorder)(nil)
	_ Tracer = (*OTelTracer)(nil)
)
