// Package oracletest provides a scriptable Oracle for tests.
package oracletest

import (
	"context"
	"sync"

	apperrors "github.com/rpattn/shiprecon/internal/errors"
	"github.com/rpattn/shiprecon/internal/oracle"
)

// Fake is an oracle.Oracle whose answers come from the optional funcs. An
// unset func answers with an unavailable error. Calls are counted per
// operation.
type Fake struct {
	MapHeadersFunc     func(oracle.HeaderRequest) (oracle.HeaderMapping, error)
	ClassifyStatusFunc func(oracle.StatusRequest) (oracle.StatusAnswer, error)
	AuditRecordFunc    func(oracle.AuditRequest) (oracle.AuditAnswer, error)
	JudgeRecordFunc    func(oracle.JudgeRequest) (oracle.Judgement, error)
	SuggestFieldFunc   func(oracle.SuggestRequest) (oracle.FieldSuggestion, error)

	mu    sync.Mutex
	calls map[string]int
}

var _ oracle.Oracle = (*Fake)(nil)

// Calls returns how often op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Fake) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[op]++
}

func unavailable(op string) error {
	return apperrors.NewOracleError(op, 1, apperrors.ErrOracleUnavailable)
}

// MapHeaders implements oracle.Oracle.
func (f *Fake) MapHeaders(_ context.Context, req oracle.HeaderRequest) (oracle.HeaderMapping, error) {
	f.record(oracle.OpMapHeaders)
	if f.MapHeadersFunc == nil {
		return oracle.HeaderMapping{}, unavailable(oracle.OpMapHeaders)
	}
	return f.MapHeadersFunc(req)
}

// ClassifyStatus implements oracle.Oracle.
func (f *Fake) ClassifyStatus(_ context.Context, req oracle.StatusRequest) (oracle.StatusAnswer, error) {
	f.record(oracle.OpClassifyStatus)
	if f.ClassifyStatusFunc == nil {
		return oracle.StatusAnswer{}, unavailable(oracle.OpClassifyStatus)
	}
	return f.ClassifyStatusFunc(req)
}

// AuditRecord implements oracle.Oracle.
func (f *Fake) AuditRecord(_ context.Context, req oracle.AuditRequest) (oracle.AuditAnswer, error) {
	f.record(oracle.OpAuditRecord)
	if f.AuditRecordFunc == nil {
		return oracle.AuditAnswer{}, unavailable(oracle.OpAuditRecord)
	}
	return f.AuditRecordFunc(req)
}

// JudgeRecord implements oracle.Oracle.
func (f *Fake) JudgeRecord(_ context.Context, req oracle.JudgeRequest) (oracle.Judgement, error) {
	f.record(oracle.OpJudgeRecord)
	if f.JudgeRecordFunc == nil {
		return oracle.Judgement{}, unavailable(oracle.OpJudgeRecord)
	}
	return f.JudgeRecordFunc(req)
}

// SuggestField implements oracle.Oracle.
func (f *Fake) SuggestField(_ context.Context, req oracle.SuggestRequest) (oracle.FieldSuggestion, error) {
	f.record(oracle.OpSuggestField)
	if f.SuggestFieldFunc == nil {
		return oracle.FieldSuggestion{}, unavailable(oracle.OpSuggestField)
	}
	return f.SuggestFieldFunc(req)
}
