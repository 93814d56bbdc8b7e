package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/Lllllllleong/bookintake/internal/services"
)

// field is one row of a key/value result table.
type field struct {
	name  string
	value string
}

func newTable(header ...interface{}) table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row(header))
	return tw
}

func renderFields(fields []field) string {
	tw := newTable("Field", "Value")
	for _, f := range fields {
		tw.AppendRow(table.Row{f.name, f.value})
	}
	return tw.Render()
}

// renderScores lists component scores by name with the scores right-aligned.
func renderScores(scores map[string]float64) string {
	tw := newTable("Component", "Score")
	for _, name := range slices.Sorted(maps.Keys(scores)) {
		tw.AppendRow(table.Row{name, formatFloat(scores[name])})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	return tw.Render()
}

type pipelineView struct {
	BookID    string   `json:"bookId,omitempty"`
	Phase     string   `json:"phase"`
	Progress  int      `json:"progress"`
	Reason    string   `json:"reason,omitempty"`
	Title     string   `json:"title,omitempty"`
	Authors   []string `json:"authors,omitempty"`
	ISBN      string   `json:"isbn,omitempty"`
	Publisher string   `json:"publisher,omitempty"`
	Year      string   `json:"publicationYear,omitempty"`
	Images    int      `json:"images,omitempty"`
}

func newPipelineView(state services.PipelineState) pipelineView {
	view := pipelineView{
		BookID:   state.TrackingID,
		Phase:    string(state.Phase),
		Progress: state.Progress,
		Reason:   state.Reason,
	}
	if doc := state.Result; doc != nil {
		view.Title = doc.Title
		view.Authors = doc.Authors
		view.ISBN = doc.ISBN
		view.Publisher = doc.Publisher
		view.Year = doc.PublicationYear
		view.Images = len(doc.ImageURLs)
	}
	return view
}

func writePipelineResult(out io.Writer, asJSON bool, state services.PipelineState) error {
	view := newPipelineView(state)
	if asJSON {
		return writeJSON(out, view)
	}
	fields := []field{
		{"Book", view.BookID},
		{"Status", view.Phase},
		{"Progress", strconv.Itoa(view.Progress) + "%"},
	}
	if view.Reason != "" {
		fields = append(fields, field{"Reason", view.Reason})
	}
	if view.Title != "" {
		fields = append(fields,
			field{"Title", view.Title},
			field{"Authors", strings.Join(view.Authors, ", ")},
			field{"ISBN", view.ISBN},
			field{"Publisher", view.Publisher},
			field{"Year", view.Year},
			field{"Images", strconv.Itoa(view.Images)},
		)
	}
	_, err := fmt.Fprintln(out, renderFields(fields))
	return err
}

type assessmentView struct {
	BookID          string             `json:"bookId"`
	Phase           string             `json:"phase"`
	Reason          string             `json:"reason,omitempty"`
	Grade           string             `json:"grade,omitempty"`
	OverallScore    float64            `json:"overallScore,omitempty"`
	Confidence      float64            `json:"confidence,omitempty"`
	PriceFactor     float64            `json:"priceFactor,omitempty"`
	ComponentScores map[string]float64 `json:"componentScores,omitempty"`
	Overridden      bool               `json:"overridden"`
	OverrideReason  string             `json:"overrideReason,omitempty"`
	SyncFailed      bool               `json:"overrideSyncFailed,omitempty"`
}

func newAssessmentView(state services.AssessmentState) assessmentView {
	view := assessmentView{
		BookID:     state.BookID,
		Phase:      string(state.Phase),
		Reason:     state.Reason,
		Overridden: state.Overridden,
		SyncFailed: state.OverrideSyncFailed,
	}
	if r := state.Result; r != nil {
		view.Grade = r.Grade
		view.OverallScore = r.OverallScore
		view.Confidence = r.Confidence
		view.PriceFactor = r.PriceFactor
		view.ComponentScores = r.ComponentScores
		if r.ManualOverride != nil {
			view.OverrideReason = r.ManualOverride.Reason
		}
	}
	return view
}

func writeAssessmentResult(out io.Writer, asJSON bool, state services.AssessmentState) error {
	view := newAssessmentView(state)
	if asJSON {
		return writeJSON(out, view)
	}
	fields := []field{
		{"Book", view.BookID},
		{"Status", view.Phase},
	}
	if view.Reason != "" {
		fields = append(fields, field{"Reason", view.Reason})
	}
	if view.Grade != "" {
		fields = append(fields,
			field{"Grade", view.Grade},
			field{"Overall score", formatFloat(view.OverallScore)},
			field{"Confidence", formatFloat(view.Confidence)},
			field{"Price factor", formatFloat(view.PriceFactor)},
		)
	}
	if view.Overridden {
		fields = append(fields, field{"Override", view.OverrideReason})
	}
	if view.SyncFailed {
		fields = append(fields, field{"Override saved", "no"})
	}
	if _, err := fmt.Fprintln(out, renderFields(fields)); err != nil {
		return err
	}
	if len(view.ComponentScores) == 0 {
		return nil
	}
	_, err := fmt.Fprintln(out, renderScores(view.ComponentScores))
	return err
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// progressPrinter redraws one status line on a terminal and stays silent
// otherwise; logs carry the same information for non-interactive runs.
type progressPrinter struct {
	out         io.Writer
	interactive bool

	mu   sync.Mutex
	last string
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	p := &progressPrinter{out: out}
	if f, ok := out.(*os.File); ok {
		p.interactive = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return p
}

func (p *progressPrinter) line(s string) {
	if !p.interactive {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if s == p.last {
		return
	}
	p.last = s
	fmt.Fprintf(p.out, "\r\033[K%s", s)
}

func (p *progressPrinter) done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.interactive && p.last != "" {
		fmt.Fprintln(p.out)
		p.last = ""
	}
}

func (p *progressPrinter) pipeline(state services.PipelineState) {
	p.line(fmt.Sprintf("%-10s %3d%%  %s", state.Phase, state.Progress, state.TrackingID))
}

func (p *progressPrinter) assessment(state services.AssessmentState) {
	p.line(fmt.Sprintf("%-10s %s", state.Phase, state.BookID))
}
