// Package report serialises scan results for export.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

// Formats accepted by Write.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Header is the CSV column order.
var Header = []string{
	"RecommendationID",
	"ResourceID",
	"Provider",
	"Region",
	"ResourceType",
	"Category",
	"MonthlySavings",
	"Confidence",
	"Risk",
	"MonthlyCost",
	"ValidationStatus",
	"Rationale",
}

// Write serialises result in the named format.
func Write(w io.Writer, format string, result model.ScanResult) error {
	switch format {
	case "", FormatJSON:
		return WriteJSON(w, result)
	case FormatCSV:
		return WriteCSV(w, result)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// ContentType returns the MIME type for format.
func ContentType(format string) string {
	if format == FormatCSV {
		return "text/csv"
	}
	return "application/json"
}

// WriteJSON writes the full ScanResult document.
func WriteJSON(w io.Writer, result model.ScanResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// WriteCSV writes one row per recommendation in ranked order.
func WriteCSV(w io.Writer, result model.ScanResult) error {
	resources := result.ResourceIndex()
	costs := map[string]float64{}
	status := map[string]string{}
	for _, li := range result.CostLineItems {
		costs[li.ResourceID] += li.Amount
		status[li.ResourceID] = worstStatus(status[li.ResourceID], li.ValidationStatus)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, rec := range result.Recommendations {
		id := rec.PrimaryResource()
		res := resources[id]
		record := []string{
			rec.ID,
			id,
			res.Provider,
			res.Region,
			res.Type,
			rec.Category,
			fmt.Sprintf("%.2f", rec.EstimatedMonthlySavings),
			fmt.Sprintf("%.3f", rec.Confidence),
			rec.Risk,
			fmt.Sprintf("%.2f", costs[id]),
			status[id],
			rec.Rationale,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var statusRank = map[string]int{
	"":                             0,
	model.ValidationCrossValidated: 1,
	model.ValidationAPIOnly:        2,
	model.ValidationMismatch:       3,
}

// worstStatus keeps the least trustworthy status seen for a resource.
func worstStatus(a, b string) string {
	if statusRank[b] > statusRank[a] {
		return b
	}
	return a
}
