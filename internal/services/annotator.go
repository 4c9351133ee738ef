package services

import (
	"context"
	"encoding/base64"

	"receipt-reconciliation-service/internal/models"
)

// annotateRequest is the wire form of an annotation call. The receipt
// payload travels base64-encoded inside the JSON body.
type annotateRequest struct {
	Payload   string `json:"payload"`
	MediaType string `json:"mediaType"`
}

// AnnotatorClient calls the external annotation service
type AnnotatorClient struct {
	http *httpClient
}

// NewAnnotatorClient creates a client for the annotation service
func NewAnnotatorClient(config *ClientConfig) (*AnnotatorClient, error) {
	hc, err := newHTTPClient(config, "annotator_client")
	if err != nil {
		return nil, err
	}
	return &AnnotatorClient{http: hc}, nil
}

// Analyze submits one receipt payload for annotation. A response whose
// body carries an error field still decodes successfully; deciding what
// an errored annotation means is the caller's concern.
func (c *AnnotatorClient) Analyze(ctx context.Context, payload []byte, mediaType string) (*models.AnnotationResult, error) {
	request := annotateRequest{
		Payload:   base64.StdEncoding.EncodeToString(payload),
		MediaType: mediaType,
	}

	var result models.AnnotationResult
	if err := c.http.postJSON(ctx, "/annotate", request, &result); err != nil {
		return nil, err
	}

	return &result, nil
}
