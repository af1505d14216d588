// Package export renders stored analysis results as downloadable CSV and
// JSON reports.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/quantpsych/irt-platform/internal/irt"
	"github.com/quantpsych/irt-platform/internal/types"
	"github.com/quantpsych/irt-platform/internal/version"
)

// Report timestamps read like "December 02, 2025 08:31 AM".
const timestampLayout = "January 02, 2006 03:04 PM"

// Exporter builds report documents from completed analysis results.
type Exporter struct{}

// NewExporter returns a ready Exporter.
func NewExporter() *Exporter {
	return &Exporter{}
}

// CSV renders a sectioned plain-text report: header, data summary, model
// information, fit statistics, the full item parameter table, and the test
// information function. Returns the document and its attachment filename.
func (e *Exporter) CSV(result *types.AnalysisResult) ([]byte, string, error) {
	if result == nil {
		return nil, "", fmt.Errorf("no analysis result to export")
	}

	var buf bytes.Buffer
	buf.WriteString("COMPREHENSIVE IRT ANALYSIS REPORT\n")
	buf.WriteString(strings.Repeat("=", 50) + "\n")
	fmt.Fprintf(&buf, "Session ID: %s\n", result.SessionID)
	fmt.Fprintf(&buf, "Analysis Date: %s\n", formatTimestamp(result.CreatedAt))
	fmt.Fprintf(&buf, "Analysis Type: %s\n", analysisType(result))

	if s := result.DataSummary; s != nil {
		fmt.Fprintf(&buf, "Students: %d\n", s.Respondents)
		fmt.Fprintf(&buf, "Items: %d\n", s.Items)
		fmt.Fprintf(&buf, "Response Rate: %s\n", formatValue(s.ResponseRate, 3))
	} else {
		buf.WriteString("Students: N/A\nItems: N/A\nResponse Rate: N/A\n")
	}
	buf.WriteString("\n")

	buf.WriteString("MODEL INFORMATION\n")
	if m := result.ModelInfo; m != nil {
		fmt.Fprintf(&buf, "Model Type: %s\n", m.Type)
		fmt.Fprintf(&buf, "Converged: %t\n", m.Converged)
		fmt.Fprintf(&buf, "Iterations: %d\n", m.Iterations)
		fmt.Fprintf(&buf, "Log-Likelihood: %s\n", formatValue(float64(m.LogLikelihood), 2))
	} else {
		buf.WriteString("Model Type: N/A\nConverged: N/A\nIterations: N/A\nLog-Likelihood: N/A\n")
	}
	buf.WriteString("\n")

	buf.WriteString("MODEL FIT STATISTICS\n")
	writeFitStatistics(&buf, result.ModelFit)
	buf.WriteString("\n")

	if len(result.ItemParameters) > 0 {
		buf.WriteString("ITEM PARAMETERS\n")
		if err := writeParameterTable(&buf, result.ItemParameters); err != nil {
			return nil, "", err
		}
		buf.WriteString("\n")
	}

	if t := result.TestInformation; t != nil && len(t.Theta) > 0 {
		buf.WriteString("TEST INFORMATION FUNCTION\n")
		buf.WriteString("Theta,Information\n")
		for i, theta := range t.Theta {
			info := math.NaN()
			if i < len(t.Information) {
				info = float64(t.Information[i])
			}
			fmt.Fprintf(&buf, "%s,%s\n", formatValue(theta, 4), formatValue(info, 6))
		}
		buf.WriteString("\n")
	}

	filename := fmt.Sprintf("comprehensive_irt_analysis_%s.csv", result.SessionID)
	return buf.Bytes(), filename, nil
}

// jsonReport is the complete machine-readable export document.
type jsonReport struct {
	Metadata        jsonMetadata           `json:"metadata"`
	SessionInfo     jsonSessionInfo        `json:"session_info"`
	DataSummary     *irt.Summary           `json:"data_summary"`
	ModelInfo       *types.ModelInfo       `json:"model_info"`
	ModelFit        *types.ModelFit        `json:"model_fit"`
	ItemParameters  []irt.ItemParameter    `json:"item_parameters"`
	TestInformation *types.TestInformation `json:"test_information"`
}

type jsonMetadata struct {
	ExportVersion   string `json:"export_version"`
	ExportTimestamp string `json:"export_timestamp"`
	Software        string `json:"software"`
}

type jsonSessionInfo struct {
	SessionID    string `json:"session_id"`
	AnalysisType string `json:"analysis_type"`
	CreatedAt    string `json:"created_at"`
}

// JSON renders the complete result as an indented JSON document.
func (e *Exporter) JSON(result *types.AnalysisResult) ([]byte, string, error) {
	if result == nil {
		return nil, "", fmt.Errorf("no analysis result to export")
	}

	report := jsonReport{
		Metadata: jsonMetadata{
			ExportVersion:   "1.0",
			ExportTimestamp: formatTimestamp(time.Now()),
			Software:        fmt.Sprintf("IRT Analysis Platform %s", version.Version),
		},
		SessionInfo: jsonSessionInfo{
			SessionID:    result.SessionID,
			AnalysisType: analysisType(result),
			CreatedAt:    formatTimestamp(result.CreatedAt),
		},
		DataSummary:     result.DataSummary,
		ModelInfo:       result.ModelInfo,
		ModelFit:        result.ModelFit,
		ItemParameters:  result.ItemParameters,
		TestInformation: result.TestInformation,
	}

	content, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("marshal export report: %w", err)
	}
	filename := fmt.Sprintf("complete_irt_data_%s.json", result.SessionID)
	return content, filename, nil
}

func writeFitStatistics(buf *bytes.Buffer, fit *types.ModelFit) {
	if fit == nil {
		buf.WriteString("M2: N/A\nM2 p-value: N/A\nM2 Degrees of Freedom: N/A\nTLI: N/A\nRMSEA: N/A\nReliability: N/A\nLog-Likelihood: N/A\n")
		return
	}
	fmt.Fprintf(buf, "M2: %s\n", formatValue(float64(fit.M2), 3))
	fmt.Fprintf(buf, "M2 p-value: %s\n", formatValue(float64(fit.M2P), 3))
	fmt.Fprintf(buf, "M2 Degrees of Freedom: %d\n", fit.M2DF)
	fmt.Fprintf(buf, "TLI: %s\n", formatValue(float64(fit.TLI), 3))
	fmt.Fprintf(buf, "RMSEA: %s\n", formatValue(float64(fit.RMSEA), 3))
	fmt.Fprintf(buf, "Reliability: %s\n", formatValue(float64(fit.Reliability), 3))
	fmt.Fprintf(buf, "Log-Likelihood: %s\n", formatValue(float64(fit.LogLikelihood), 1))
}

func writeParameterTable(buf *bytes.Buffer, params []irt.ItemParameter) error {
	w := csv.NewWriter(buf)
	header := []string{
		"item_id", "discrimination", "difficulty", "guessing",
		"se_discrimination", "se_difficulty", "se_guessing", "model_type",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write parameter header: %w", err)
	}
	for _, p := range params {
		row := []string{
			p.ItemID,
			formatValue(p.Discrimination, 4),
			formatValue(p.Difficulty, 4),
			formatValue(p.Guessing, 4),
			formatValue(p.SEDiscrimination, 4),
			formatValue(p.SEDifficulty, 4),
			formatValue(p.SEGuessing, 4),
			string(p.ModelType),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write parameter row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

func analysisType(result *types.AnalysisResult) string {
	if result.AnalysisType != "" {
		return result.AnalysisType
	}
	return string(irt.ModelRich)
}

func formatTimestamp(t time.Time) string {
	return t.Format(timestampLayout)
}

// formatValue renders a float with at most prec decimals, trailing zeros
// stripped; whole numbers render without decimals and non-finite values as
// "N/A".
func formatValue(v float64, prec int) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "N/A"
	}
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	s := strconv.FormatFloat(v, 'f', prec, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimRight(s, ".")
	}
	return s
}
