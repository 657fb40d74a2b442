package http

import (
	"strings"
	"testing"
	"time"

	"prospector/internal/model"
)

func TestRequeueEntryMarksOperatorAction(t *testing.T) {
	url := "https://example.com"
	b := &model.Business{Status: model.StatusInvalidTechnical, WebsiteURL: &url}

	e := requeueEntry(b, time.Now().UTC())
	if e.Verdict != model.VerdictOperator {
		t.Errorf("verdict = %q, want %q", e.Verdict, model.VerdictOperator)
	}
	if e.URLEvaluated != url {
		t.Errorf("url evaluated = %q, want %q", e.URLEvaluated, url)
	}
	if !strings.Contains(e.Reasoning, string(model.StatusInvalidTechnical)) {
		t.Errorf("reasoning %q does not name the prior state", e.Reasoning)
	}

	meta := b.Metadata.AppendHistory(e)
	last := meta.LastEntry()
	if last == nil || last.Verdict != model.VerdictOperator {
		t.Fatalf("appended history entry lost the operator marker: %+v", last)
	}
}

func TestRequeueEntryFromErrorState(t *testing.T) {
	b := &model.Business{Status: model.StatusError}

	e := requeueEntry(b, time.Now().UTC())
	if e.URLEvaluated != "" {
		t.Errorf("business without a url evaluated %q", e.URLEvaluated)
	}
	if !strings.Contains(e.Reasoning, string(model.StatusError)) {
		t.Errorf("reasoning %q does not name the prior state", e.Reasoning)
	}
}
