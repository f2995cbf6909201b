package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// --- Restructurer Model Prompts ---
const restructurerSystemPrompt = "You are a data normalization tool for insurance commission statements. Your task is to restructure raw OCR table output into clean, consistent row objects. You must output your response as a valid JSON array."
const restructurerUserPrompt = `Analyze the provided raw table data extracted by OCR from a commission or renewal statement.

Follow these rules precisely:
1.  Identify the real header row. OCR output often repeats headers mid-table or splits them across lines; merge split header fragments into single header names.
2.  Produce one JSON object per data row, keyed by the cleaned header names. Drop repeated header rows, page-total rows, and empty rows.
3.  Keep cell values verbatim otherwise. Do not reformat numbers, do not convert currencies, do not invent values for empty cells (use an empty string).
4.  If multiple tables share the same headers, merge them into one.
5.  The final output MUST be a single, valid JSON array of objects:
[
  {"Policy Number": "A-1001", "Insured": "Smith", "Commission Amount": "$120.00"},
  {"Policy Number": "A-1002", "Insured": "Jones", "Commission Amount": "(15.00)"}
]
Do not include any text before or after the JSON array.`

// Restructurer cleans raw OCR table output into review-ready rows using a
// Vertex AI model. It is optional: when extraction output is already
// usable the pipeline skips this pass.
type Restructurer struct {
	model      *genai.GenerativeModel
	baseClient *genai.Client
}

// NewRestructurer creates a Restructurer for the given project and region.
func NewRestructurer(ctx context.Context, projectID, region, modelName string) (*Restructurer, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewRestructurer: projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = "gemini-1.5-pro"
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	model := baseClient.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(restructurerSystemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		// Force JSON output. This is a critical setting for this model.
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}

	return &Restructurer{model: model, baseClient: baseClient}, nil
}

// Restructure sends the raw extraction JSON through the model and returns
// the cleaned rows.
func (r *Restructurer) Restructure(ctx context.Context, rawTables []byte) ([]Row, error) {
	prompt := restructurerUserPrompt + "\n\nRaw table data:\n" + string(rawTables)
	resp, err := r.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("failed to generate restructured table: %w", err)
	}
	text, err := responseText(resp)
	if err != nil {
		return nil, err
	}

	var rows []Row
	if err := json.Unmarshal([]byte(text), &rows); err != nil {
		return nil, fmt.Errorf("model returned invalid JSON: %w", err)
	}
	return rows, nil
}

func (r *Restructurer) Close() error {
	if r.baseClient != nil {
		return r.baseClient.Close()
	}
	return nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("model returned no candidates")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String(), nil
}
