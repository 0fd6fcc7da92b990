package analysis

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"

	"calorielog/internal/domain"
	"calorielog/internal/nutrition"
)

// LabelDetector is the subset of the Rekognition client used here.
type LabelDetector interface {
	DetectLabels(ctx context.Context, in *rekognition.DetectLabelsInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectLabelsOutput, error)
}

// LabelStrategy recognises foods with image labels and prices them from the
// nutrition table.
type LabelStrategy struct {
	detector      LabelDetector
	table         *nutrition.Table
	maxLabels     int32
	minConfidence float32
}

// NewRekognitionDetector builds a Rekognition client for region.
func NewRekognitionDetector(ctx context.Context, region string) (*rekognition.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return rekognition.NewFromConfig(cfg), nil
}

// NewLabelStrategy creates a LabelStrategy.
func NewLabelStrategy(d LabelDetector, table *nutrition.Table, maxLabels int, minConfidence float64) *LabelStrategy {
	return &LabelStrategy{
		detector:      d,
		table:         table,
		maxLabels:     int32(maxLabels),
		minConfidence: float32(minConfidence),
	}
}

func (s *LabelStrategy) Name() string { return "labels" }

// Analyze returns one item per distinct table food among the labels.
func (s *LabelStrategy) Analyze(ctx context.Context, image []byte) (*domain.RawAnalysis, error) {
	out, err := s.detector.DetectLabels(ctx, &rekognition.DetectLabelsInput{
		Image:         &types.Image{Bytes: image},
		MaxLabels:     aws.Int32(s.maxLabels),
		MinConfidence: aws.Float32(s.minConfidence),
	})
	if err != nil {
		return nil, fmt.Errorf("detect labels: %w", err)
	}

	raw := &domain.RawAnalysis{}
	seen := make(map[string]bool)
	for _, l := range out.Labels {
		f, ok := s.table.Lookup(aws.ToString(l.Name))
		if !ok || seen[f.Key] {
			continue
		}
		seen[f.Key] = true
		raw.Items = append(raw.Items, rawFromFood(f))
	}
	if len(raw.Items) == 0 {
		return nil, errors.New("no known food among image labels")
	}
	return raw, nil
}
