package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/vertexai/genai"

	"github.com/Lllllllleong/kycdocumentintake/internal/models"
)

// --- Classifier Model Prompts ---
const ClassifierSystemPrompt = "You are a careful document classifier for Indian KYC documents. Classify the provided image strictly as one of: passport_front, passport_back, aadhar, pan, or unknown. Return a confidence between 0 and 1."
const ClassifierUserPrompt = `Classify this document. Guidelines:
passport_front = passport biodata page with photo and MRZ (two lines of < at the bottom).
passport_back = address/family details page of a passport, typically without MRZ.
aadhar = Aadhaar card with UIDAI branding and a 12-digit number.
pan = PAN card with a 10-character alphanumeric number (ABCDE1234F) and Income Tax Department branding.`

// --- Extractor Model Prompts ---
const ExtractorSystemPrompt = "You are a precise OCR assistant. Extract only clean text for the requested fields. Use yyyy-mm-dd for dates when visible. Omit fields you cannot find. For Indian passports: 'surname' is the top-right Surname label and is the lastName; 'givenNames' is the Given Names line; set firstName to 'givenNames'."

// ExtractorUserPrompt is formatted with the human-readable document type.
const ExtractorUserPrompt = "Extract fields for %s from this image."

// ExtractionFields lists the fields the extractor model may return per
// document type. Manual-only passport_back fields (ref and the frequent
// flyer numbers) are deliberately absent.
var ExtractionFields = map[models.DocType][]string{
	models.DocTypePassportFront: {
		"passportNumber", "givenNames", "surname", "firstName", "lastName",
		"nationality", "sex", "dateOfBirth", "placeOfBirth", "placeOfIssue",
		"maritalStatus", "dateOfIssue", "dateOfExpiry",
	},
	models.DocTypePassportBack: {"fatherName", "motherName", "spouseName", "address", "email", "mobileNumber"},
	models.DocTypeAadhaar:      {"aadhaarNumber", "name", "dateOfBirth", "gender", "address"},
	models.DocTypePan:          {"panNumber", "name", "fatherName", "dateOfBirth"},
}

// VertexClient holds all pre-configured generative models for our app.
type VertexClient struct {
	ClassifierModel *genai.GenerativeModel
	ExtractorModels map[models.DocType]*genai.GenerativeModel
	baseClient      *genai.Client
}

// NewVertexClient creates a new client holding all necessary models.
func NewVertexClient(ctx context.Context, projectID, region, modelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	// --- Configure the classifier model ---
	classifierModel := baseClient.GenerativeModel(modelName)
	classifierModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(ClassifierSystemPrompt)},
	}
	classifierModel.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   classificationSchema(),
		Temperature:      genai.Ptr[float32](0.0),
	}
	classifierModel.SafetySettings = safetySettings()

	// --- Configure one extractor model per document type ---
	extractorModels := make(map[models.DocType]*genai.GenerativeModel, len(ExtractionFields))
	for docType, fields := range ExtractionFields {
		m := baseClient.GenerativeModel(modelName)
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(ExtractorSystemPrompt)},
		}
		m.GenerationConfig = genai.GenerationConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   extractionSchema(fields),
			Temperature:      genai.Ptr[float32](0.0),
		}
		m.SafetySettings = safetySettings()
		extractorModels[docType] = m
	}

	return &VertexClient{
		ClassifierModel: classifierModel,
		ExtractorModels: extractorModels,
		baseClient:      baseClient,
	}, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

func classificationSchema() *genai.Schema {
	types := make([]string, 0, len(models.DocTypes))
	for _, t := range models.DocTypes {
		types = append(types, string(t))
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"type":       {Type: genai.TypeString, Enum: types},
			"confidence": {Type: genai.TypeNumber, Description: "between 0 and 1"},
		},
		Required: []string{"type", "confidence"},
	}
}

// extractionSchema makes every field an optional string so the model can
// omit what it cannot read.
func extractionSchema(fields []string) *genai.Schema {
	props := make(map[string]*genai.Schema, len(fields))
	for _, f := range fields {
		props[f] = &genai.Schema{Type: genai.TypeString}
	}
	return &genai.Schema{Type: genai.TypeObject, Properties: props}
}

// Identity documents trip the default filters on faces and personal data.
func safetySettings() []*genai.SafetySetting {
	return []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}
}
