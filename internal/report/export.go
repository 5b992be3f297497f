package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"gopkg.in/yaml.v3"
)

// WriteCSV writes the grade distribution as CSV.
func WriteCSV(w io.Writer, dist *Distribution) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"category_code", "grade", "score", "approval_rate", "total_trials", "reason"}); err != nil {
		return eris.Wrap(err, "report: write csv header")
	}
	for _, e := range dist.Entries {
		rec := []string{
			e.CategoryCode,
			string(e.Grade),
			strconv.FormatFloat(e.Score, 'f', 2, 64),
			strconv.FormatFloat(e.ApprovalRate, 'f', 1, 64),
			strconv.Itoa(e.TotalTrials),
			e.Reason,
		}
		if err := cw.Write(rec); err != nil {
			return eris.Wrap(err, "report: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "report: flush csv")
}

// WriteYAML writes the grade distribution as YAML.
func WriteYAML(w io.Writer, dist *Distribution) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	if err := enc.Encode(dist); err != nil {
		return eris.Wrap(err, "report: encode yaml")
	}
	return nil
}

// WriteXLSX writes the grade distribution workbook: a summary sheet with the
// per-grade totals and a detail sheet with one row per category.
func WriteXLSX(path string, dist *Distribution) error {
	f := xlsx.NewFile()

	summary, err := f.AddSheet("Summary")
	if err != nil {
		return eris.Wrap(err, "report: add summary sheet")
	}
	for _, pair := range [][2]string{
		{"Generated", dist.GeneratedAt.Format("2006-01-02 15:04:05")},
		{"Window (days)", strconv.Itoa(dist.WindowDays)},
		{"Categories", strconv.Itoa(dist.Total)},
		{"CORE", strconv.Itoa(dist.CoreCount)},
		{"TRY", strconv.Itoa(dist.TryCount)},
		{"RESEARCH", strconv.Itoa(dist.ResearchCount)},
		{"BLOCK", strconv.Itoa(dist.BlockCount)},
	} {
		row := summary.AddRow()
		row.AddCell().Value = pair[0]
		row.AddCell().Value = pair[1]
	}

	detail, err := f.AddSheet("Categories")
	if err != nil {
		return eris.Wrap(err, "report: add detail sheet")
	}
	header := detail.AddRow()
	for _, h := range []string{"Category", "Grade", "Score", "Approval Rate", "Trials", "Reason"} {
		header.AddCell().Value = h
	}
	for _, e := range dist.Entries {
		row := detail.AddRow()
		row.AddCell().Value = e.CategoryCode
		row.AddCell().Value = string(e.Grade)
		row.AddCell().Value = fmt.Sprintf("%.2f", e.Score)
		row.AddCell().Value = fmt.Sprintf("%.1f", e.ApprovalRate)
		row.AddCell().Value = strconv.Itoa(e.TotalTrials)
		row.AddCell().Value = e.Reason
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "report: save %s", path)
	}
	return nil
}

// WriteHeatmapCSV writes the failure heatmap as CSV.
func WriteHeatmapCSV(w io.Writer, rows []HeatmapRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"category_code", "severity", "critical", "warning", "transient", "total", "penalty_score", "top_reasons"}); err != nil {
		return eris.Wrap(err, "report: write heatmap header")
	}
	for _, r := range rows {
		rec := []string{
			r.CategoryCode,
			string(r.Severity),
			strconv.Itoa(r.CriticalCount),
			strconv.Itoa(r.WarningCount),
			strconv.Itoa(r.TransientCount),
			strconv.Itoa(r.TotalFailures),
			strconv.FormatFloat(r.PenaltyScore, 'f', 2, 64),
			joinReasons(r.TopReasons),
		}
		if err := cw.Write(rec); err != nil {
			return eris.Wrap(err, "report: write heatmap row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "report: flush heatmap csv")
}

func joinReasons(reasons []string) string {
	out := ""
	for i, r := range reasons {
		if i > 0 {
			out += "; "
		}
		out += r
	}
	return out
}
