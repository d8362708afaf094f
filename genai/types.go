package genai

import (
	"fmt"
	"strings"
)

// VideoParams are the fixed generation parameters of a video job.
type VideoParams struct {
	Resolution     string
	AspectRatio    string
	NumberOfVideos int
}

// Operation is the state of a long-running video job.
type Operation struct {
	Name      string
	Done      bool
	VideoURIs []string
	Err       *APIError
}

// FirstVideoURI returns the download reference of the first generated video.
func (o *Operation) FirstVideoURI() string {
	if o == nil {
		return ""
	}
	for _, uri := range o.VideoURIs {
		if strings.TrimSpace(uri) != "" {
			return uri
		}
	}
	return ""
}

// InlineData is a decoded inline payload of a content response.
type InlineData struct {
	MIMEType string
	Data     []byte
}

// Blob is a downloaded file.
type Blob struct {
	ContentType string
	Data        []byte
}

// APIError is an error response from the generation service.
type APIError struct {
	HTTPStatus int
	Code       int
	Status     string
	Message    string
	Reason     string
}

// Error returns the service message verbatim when there is one.
func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Status != "" {
		return fmt.Sprintf("genai status %d: %s", e.HTTPStatus, e.Status)
	}
	return fmt.Sprintf("genai status %d", e.HTTPStatus)
}

// ExpiredKeySignature is the message the service returns for a key whose
// backing project is gone. Operation errors and plain-text bodies carry it
// without a status or reason.
const ExpiredKeySignature = "Requested entity was not found"

// CredentialExpired reports whether the key used for the call is no longer
// usable.
func (e *APIError) CredentialExpired() bool {
	switch e.Reason {
	case "API_KEY_INVALID", "API_KEY_EXPIRED":
		return true
	}
	if e.Status == "UNAUTHENTICATED" {
		return true
	}
	return strings.Contains(e.Message, ExpiredKeySignature)
}

// wire types

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type imageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type generationConfig struct {
	ImageConfig *imageConfig `json:"imageConfig,omitempty"`
}

type generateContentRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

type generateContentResponse struct {
	Candidates []candidate `json:"candidates"`
}

type videoInstance struct {
	Prompt string `json:"prompt"`
}

type videoParameters struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	Resolution  string `json:"resolution,omitempty"`
	SampleCount int    `json:"sampleCount,omitempty"`
}

type predictLongRunningRequest struct {
	Instances  []videoInstance `json:"instances"`
	Parameters videoParameters `json:"parameters"`
}

type operationError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
	Details []struct {
		Type   string `json:"@type"`
		Reason string `json:"reason"`
	} `json:"details"`
}

func (e *operationError) toAPIError(httpStatus int) *APIError {
	if e == nil {
		return nil
	}
	out := &APIError{HTTPStatus: httpStatus, Code: e.Code, Status: e.Status, Message: e.Message}
	for _, d := range e.Details {
		if d.Reason != "" {
			out.Reason = d.Reason
			break
		}
	}
	return out
}

type operationResponse struct {
	Name     string          `json:"name"`
	Done     bool            `json:"done"`
	Error    *operationError `json:"error,omitempty"`
	Response *struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI string `json:"uri"`
				} `json:"video"`
			} `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
	} `json:"response,omitempty"`
}

type errorResponse struct {
	Error operationError `json:"error"`
}
