package resolver

import "log/slog"

// traceStep is one recorded solver step, modelled on chx-gps's trace.go
// named steps but emitted through the injected *slog.Logger instead of
// that repo's bespoke writer, to match the teacher's logging idiom.
// Trace keeps every step of a solve; the log is not bounded.
type traceStep struct {
	kind    string // "decide", "propagate", "backtrack"
	package_ string
	detail  string
}

// Trace records each decide/propagate/backtrack step the solver takes
// and logs it at Debug when verbose tracing is enabled.
type Trace struct {
	logger  *slog.Logger
	enabled bool
	steps   []traceStep
}

func newTrace(logger *slog.Logger, enabled bool) *Trace {
	return &Trace{logger: logger, enabled: enabled}
}

func (t *Trace) decide(name string, version string) {
	t.record(traceStep{kind: "decide", package_: name, detail: version})
}

func (t *Trace) propagate(name string, constraint string) {
	t.record(traceStep{kind: "propagate", package_: name, detail: constraint})
}

func (t *Trace) backtrack(name string, reason string) {
	t.record(traceStep{kind: "backtrack", package_: name, detail: reason})
}

func (t *Trace) record(s traceStep) {
	if t == nil {
		return
	}

	t.steps = append(t.steps, s)

	if !t.enabled || t.logger == nil {
		return
	}

	t.logger.Debug("solver step",
		slog.String("kind", s.kind),
		slog.String("package", s.package_),
		slog.String("detail", s.detail),
	)
}

// Steps returns every recorded step, in order.
func (t *Trace) Steps() []traceStep {
	if t == nil {
		return nil
	}

	return t.steps
}

// solution logs the final decision order once a solve succeeds, at
// Debug level when tracing is enabled.
func (t *Trace) solution(sol *PartialSolution) {
	if t == nil || !t.enabled || t.logger == nil || sol == nil {
		return
	}

	for _, a := range sol.Decisions() {
		t.logger.Debug("solved",
			slog.Int("level", a.Level),
			slog.String("package", string(a.Package)),
			slog.String("version", a.Version.String()),
		)
	}
}
