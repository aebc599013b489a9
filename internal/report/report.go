// Package report builds the submitted-assessment artifact: a ZIP bundle
// containing a human-readable summary and the raw answer set. Report-content
// templating beyond this plain rendering is out of scope; the bundle exists
// so a completed assessment has a durable, downloadable artifact.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/verdantiq/facility-assessment/internal/answer"
	"github.com/verdantiq/facility-assessment/internal/schema"
	"github.com/verdantiq/facility-assessment/internal/store"
)

// Bundle renders the merged answer set against the schema and packs
// summary.txt and answers.json into a ZIP archive.
func Bundle(wizard *schema.Wizard, rec *store.Record, merged answer.Set) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	summary, err := zw.Create("summary.txt")
	if err != nil {
		return nil, fmt.Errorf("create summary entry: %w", err)
	}
	if _, err := summary.Write([]byte(renderSummary(wizard, rec, merged))); err != nil {
		return nil, fmt.Errorf("write summary: %w", err)
	}

	answersJSON, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal answers: %w", err)
	}
	raw, err := zw.Create("answers.json")
	if err != nil {
		return nil, fmt.Errorf("create answers entry: %w", err)
	}
	if _, err := raw.Write(answersJSON); err != nil {
		return nil, fmt.Errorf("write answers: %w", err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize report bundle: %w", err)
	}
	return buf.Bytes(), nil
}

func renderSummary(wizard *schema.Wizard, rec *store.Record, merged answer.Set) string {
	var b strings.Builder

	company := "Unnamed operation"
	if v, ok := merged["company_name"]; ok && !v.IsEmpty() {
		company = v.Str()
	}
	fmt.Fprintf(&b, "Facility Assessment Report\n")
	fmt.Fprintf(&b, "==========================\n\n")
	fmt.Fprintf(&b, "Company:   %s\n", company)
	fmt.Fprintf(&b, "Record:    %s\n", rec.ID)
	fmt.Fprintf(&b, "Generated: %s\n\n", time.Now().UTC().Format(time.RFC3339))

	for _, step := range wizard.Steps {
		fmt.Fprintf(&b, "%s\n%s\n", step.Title, strings.Repeat("-", len(step.Title)))
		for _, sec := range step.Sections {
			for _, q := range sec.Questions {
				v, ok := merged[q.ID]
				if !ok || v.IsEmpty() {
					continue
				}
				fmt.Fprintf(&b, "%s: %s\n", q.Label, formatValue(v))
				if cv, ok := merged[answer.ContextKey(q.ID)]; ok && !cv.IsEmpty() {
					fmt.Fprintf(&b, "  Note: %s\n", cv.Str())
				}
			}
		}
		b.WriteString("\n")
	}

	if rooms, ok := merged[answer.RoomDetailsKey]; ok && rooms.Kind() == answer.KindRooms {
		b.WriteString("Room Details\n------------\n")
		for _, r := range rooms.Rooms() {
			fmt.Fprintf(&b, "Room %d: %.0f x %.0f ft (%.0f sq ft) - %s\n",
				r.Number, r.LengthFt, r.WidthFt, r.SquareFootage(), r.Purpose)
		}
		b.WriteString("\n")
	}

	return b.String()
}

func formatValue(v answer.Value) string {
	switch v.Kind() {
	case answer.KindString:
		return v.Str()
	case answer.KindNumber:
		return fmt.Sprintf("%g", v.Num())
	case answer.KindBool:
		if v.BoolVal() {
			return "Yes"
		}
		return "No"
	case answer.KindStringList:
		return strings.Join(v.List(), ", ")
	case answer.KindRooms:
		return fmt.Sprintf("%d rooms", len(v.Rooms()))
	}
	return ""
}
