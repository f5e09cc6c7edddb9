package stubprovider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"cityfix-analyze-pipeline/models"
)

// LabelClient is a deterministic, no-network label provider intended
// for CI and local end-to-end runs. Its output exercises the full
// classification and persistence path.
type LabelClient struct{}

func NewLabelClient() *LabelClient { return &LabelClient{} }

func (c *LabelClient) SourceName() string { return "Stub" }

func (c *LabelClient) DetectLabels(_ context.Context, imageData []byte) ([]models.Label, error) {
	// Deterministic per-input so pipelines are stable in CI.
	sum := sha256.Sum256(imageData)
	variants := [][]models.Label{
		{
			{Description: "pothole", Score: 0.93},
			{Description: "asphalt", Score: 0.88},
			{Description: "road surface", Score: 0.81},
		},
		{
			{Description: "trash", Score: 0.91},
			{Description: "plastic bag", Score: 0.84},
			{Description: "street", Score: 0.77},
		},
		{
			{Description: "water", Score: 0.9},
			{Description: "drain", Score: 0.82},
			{Description: "road", Score: 0.74},
		},
	}
	return variants[int(sum[0])%len(variants)], nil
}

// TextClient is the generative-provider counterpart of LabelClient.
type TextClient struct{}

func NewTextClient() *TextClient { return &TextClient{} }

func (c *TextClient) SourceName() string { return "Stub" }

func (c *TextClient) DescribeImage(_ context.Context, imageData []byte, _ string) (string, error) {
	sum := sha256.Sum256(imageData)
	short := hex.EncodeToString(sum[:4])
	return fmt.Sprintf("Stubbed analysis %s: visible surface damage requiring municipal attention.", short), nil
}
