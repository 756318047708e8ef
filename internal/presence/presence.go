// Package presence labels alert images with the people found in them.
package presence

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"
)

const (
	LabelPerson = "person"

	// Fallback labels carry no detection result.
	LabelUnclassified      = "unclassified"
	LabelMotionOnly        = "motion-only"
	LabelLabelsUnavailable = "labels unavailable"
)

var fallbackLabels = map[string]bool{
	LabelUnclassified:      true,
	LabelMotionOnly:        true,
	LabelLabelsUnavailable: true,
}

// Classifier returns labels for the image at imagePath. It never fails;
// problems yield a fallback label.
type Classifier interface {
	Classify(ctx context.Context, imagePath string) []string
}

// Noop is used when classification is disabled or could not be set up.
type Noop struct{}

func (Noop) Classify(context.Context, string) []string {
	return []string{LabelUnclassified}
}

// FormatCaption renders labels for an alert message, counting repeated
// labels in first-seen order: "In frame: person: 2."
func FormatCaption(labels []string) string {
	found := lo.Filter(labels, func(l string, _ int) bool { return !fallbackLabels[l] })
	if len(found) == 0 {
		return "No objects identified."
	}

	counts := lo.CountValues(found)
	parts := lo.Map(lo.Uniq(found), func(l string, _ int) string {
		return fmt.Sprintf("%s: %d", l, counts[l])
	})
	return "In frame: " + strings.Join(parts, ", ") + "."
}
