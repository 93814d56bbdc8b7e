package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/Lllllllleong/bookintake/internal/models"
	"github.com/Lllllllleong/bookintake/internal/services"
)

func TestVersionSkipsConfig(t *testing.T) {
	t.Setenv("BOOKINTAKE_BACKEND_URL", "")
	t.Setenv("PROJECT_ID", "")

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("version returned error: %v", err)
	}
	if !strings.HasPrefix(out.String(), "bookintake dev") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestCommandsRequireConfig(t *testing.T) {
	t.Setenv("BOOKINTAKE_BACKEND_URL", "")
	t.Setenv("PROJECT_ID", "")

	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"watch", "b1"})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "backend url") {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestOverrideRequiresFlags(t *testing.T) {
	t.Setenv("BOOKINTAKE_BACKEND_URL", "http://localhost:8080")
	t.Setenv("PROJECT_ID", "books-test")
	t.Setenv("BOOKINTAKE_LOG_FORMAT", "text")
	t.Setenv("BOOKINTAKE_PDF_MODE", "images")

	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"override", "b1", "--grade", "Fair"})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "reason") {
		t.Fatalf("expected missing flag error, got %v", err)
	}
}

func TestWritePipelineResultTable(t *testing.T) {
	state := services.PipelineState{
		Phase:      services.PhaseIngested,
		Progress:   100,
		TrackingID: "b1",
		Result: &models.BookDocument{
			Title:   "Dune",
			Authors: []string{"Frank Herbert"},
			ISBN:    "9780441013593",
		},
	}
	var out bytes.Buffer
	if err := writePipelineResult(&out, false, state); err != nil {
		t.Fatalf("writePipelineResult returned error: %v", err)
	}
	for _, want := range []string{"Dune", "Frank Herbert", "100%", "ingested"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("table missing %q:\n%s", want, out.String())
		}
	}
}

func TestWritePipelineResultJSON(t *testing.T) {
	state := services.PipelineState{Phase: services.PhaseFailed, TrackingID: "b2", Reason: "Not a book"}
	var out bytes.Buffer
	if err := writePipelineResult(&out, true, state); err != nil {
		t.Fatalf("writePipelineResult returned error: %v", err)
	}
	var view pipelineView
	if err := json.Unmarshal(out.Bytes(), &view); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if view.Phase != "failed" || view.Reason != "Not a book" || view.BookID != "b2" {
		t.Fatalf("view = %+v", view)
	}
}

func TestFinishPipelineFailureExitsNonZero(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cause := errors.New("Not a book")
	err := finishPipeline(cmd, false, services.PipelineState{Phase: services.PhaseFailed, TrackingID: "b2", Err: cause})
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
	if err := finishPipeline(cmd, false, services.PipelineState{Phase: services.PhaseIngested, TrackingID: "b1"}); err != nil {
		t.Fatalf("ingested should succeed, got %v", err)
	}
}

func TestWriteAssessmentResultTable(t *testing.T) {
	state := services.AssessmentState{
		Phase:      services.AssessmentComplete,
		BookID:     "b1",
		Overridden: true,
		Result: &services.AssessmentResult{
			Grade:           "Fair",
			OverallScore:    65,
			PriceFactor:     0.45,
			ComponentScores: map[string]float64{"spine": 40, "cover": 70},
			ManualOverride:  &services.ManualOverride{Grade: "Fair", Reason: "spine cracked"},
		},
	}
	var out bytes.Buffer
	if err := writeAssessmentResult(&out, false, state); err != nil {
		t.Fatalf("writeAssessmentResult returned error: %v", err)
	}
	text := out.String()
	for _, want := range []string{"Fair", "0.45", "spine cracked", "cover", "70"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
	if strings.LastIndex(text, "cover") > strings.LastIndex(text, "spine") {
		t.Errorf("component rows should be sorted:\n%s", text)
	}
}

func TestProgressPrinterSilentWhenNotTerminal(t *testing.T) {
	var out bytes.Buffer
	p := newProgressPrinter(&out)
	p.pipeline(services.PipelineState{Phase: services.PhaseUploading, Progress: 17})
	p.done()
	if out.Len() != 0 {
		t.Fatalf("expected no output, got %q", out.String())
	}
}

func TestRenderScoresSortsComponents(t *testing.T) {
	rendered := renderScores(map[string]float64{"spine": 40, "binding": 7.5, "cover": 70})
	binding, cover, spine := strings.Index(rendered, "binding"), strings.Index(rendered, "cover"), strings.Index(rendered, "spine")
	if binding < 0 || cover < binding || spine < cover {
		t.Fatalf("components out of order:\n%s", rendered)
	}
	if !strings.Contains(rendered, "7.5") {
		t.Fatalf("missing score:\n%s", rendered)
	}
}
