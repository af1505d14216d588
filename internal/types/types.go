package types

import (
	"bytes"
	"math"
	"strconv"
	"time"

	"github.com/quantpsych/irt-platform/internal/irt"
)

// Analysis task statuses as stored and reported to clients.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// JSONFloat is a float64 that serializes NaN and infinities as null.
// Standard JSON has no encoding for them and encoding/json refuses to
// marshal such values outright.
type JSONFloat float64

var nullLiteral = []byte("null")

// MarshalJSON implements json.Marshaler.
func (f JSONFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nullLiteral, nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

// UnmarshalJSON implements json.Unmarshaler. A null decodes as NaN.
func (f *JSONFloat) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, nullLiteral) {
		*f = JSONFloat(math.NaN())
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*f = JSONFloat(v)
	return nil
}

// Floats converts a plain slice for serialization.
func Floats(values []float64) []JSONFloat {
	out := make([]JSONFloat, len(values))
	for i, v := range values {
		out[i] = JSONFloat(v)
	}
	return out
}

// UploadResponse is returned when a dataset is accepted for analysis.
type UploadResponse struct {
	TaskID    string `json:"task_id"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// TaskStatus is the lifecycle record kept per session. Failures carry
// their explanation in Message.
type TaskStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ModelInfo describes which model was accepted for a session.
type ModelInfo struct {
	Type          string    `json:"type"`
	Converged     bool      `json:"converged"`
	Iterations    int       `json:"iterations"`
	LogLikelihood JSONFloat `json:"log_likelihood"`
	FellBack      bool      `json:"fell_back"`
	FallbackCause string    `json:"fallback_cause,omitempty"`
}

// ModelFit carries the auxiliary fit indices for an accepted model.
// Indices the engine could not compute serialize as null.
type ModelFit struct {
	M2            JSONFloat `json:"m2"`
	M2DF          int       `json:"m2_df"`
	M2P           JSONFloat `json:"m2_p"`
	TLI           JSONFloat `json:"tli"`
	RMSEA         JSONFloat `json:"rmsea"`
	Reliability   JSONFloat `json:"reliability"`
	LogLikelihood JSONFloat `json:"log_likelihood"`
	AIC           JSONFloat `json:"aic"`
	BIC           JSONFloat `json:"bic"`
	Converged     bool      `json:"converged"`
}

// TestInformation is the test information function with its standard
// error of measurement on the shared ability grid.
type TestInformation struct {
	Theta       []float64   `json:"theta"`
	Information []JSONFloat `json:"information"`
	SEM         []JSONFloat `json:"sem"`
}

// AnalysisResult is the complete stored outcome of one analysis run.
type AnalysisResult struct {
	SessionID       string              `json:"session_id"`
	Status          string              `json:"status"`
	AnalysisType    string              `json:"analysis_type"`
	ItemParameters  []irt.ItemParameter `json:"item_parameters,omitempty"`
	ModelInfo       *ModelInfo          `json:"model_info,omitempty"`
	ModelFit        *ModelFit           `json:"model_fit,omitempty"`
	TestInformation *TestInformation    `json:"test_information,omitempty"`
	DataSummary     *irt.Summary        `json:"data_summary,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
}

// ICCPoint is one evaluated point of an item characteristic curve.
type ICCPoint struct {
	ItemID      string    `json:"item_id"`
	Theta       float64   `json:"theta"`
	Probability JSONFloat `json:"probability"`
}

// ICCResponse carries characteristic curves as a flat point list, one
// row per (item, theta) pair.
type ICCResponse struct {
	Status    string     `json:"status"`
	ModelType string     `json:"model_type"`
	ICCData   []ICCPoint `json:"icc_data"`
}

// IIFPoint is one evaluated point of an item information function.
// Information is null for items whose curve computation failed.
type IIFPoint struct {
	ItemID      string    `json:"item_id"`
	Theta       float64   `json:"theta"`
	Information JSONFloat `json:"iif"`
}

// IIFResponse carries item information functions in flat point form.
type IIFResponse struct {
	Status  string     `json:"status"`
	IIFData []IIFPoint `json:"iif_data"`
}

// TIFResponse carries the test information function and its standard
// error of measurement as parallel arrays over the ability grid.
type TIFResponse struct {
	Status string      `json:"status"`
	Theta  []float64   `json:"theta"`
	TIF    []JSONFloat `json:"tif"`
	SEM    []JSONFloat `json:"sem"`
}
