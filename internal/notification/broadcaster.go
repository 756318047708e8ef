// Package notification delivers alerts to every configured recipient.
package notification

import (
	"context"
	"time"

	"github.com/samber/lo"
)

// Kind says what, if anything, is attached to an alert.
type Kind int

const (
	KindNone Kind = iota
	KindPhoto
	KindVideo
)

func (k Kind) String() string {
	switch k {
	case KindPhoto:
		return "photo"
	case KindVideo:
		return "video"
	default:
		return "none"
	}
}

// Alert is one message for the operator. MediaPath is required for photo
// and video alerts and ignored otherwise.
type Alert struct {
	Text      string
	MediaPath string
	Kind      Kind
	At        time.Time
}

// Delivery is the outcome for a single recipient.
type Delivery struct {
	Recipient string
	Err       error
}

// Broadcaster sends an alert to all of its recipients and reports each
// outcome. A failure for one recipient never prevents the others.
type Broadcaster interface {
	Broadcast(ctx context.Context, alert Alert) []Delivery
}

// Failed returns the unsuccessful deliveries.
func Failed(ds []Delivery) []Delivery {
	return lo.Filter(ds, func(d Delivery, _ int) bool { return d.Err != nil })
}

// Multi broadcasts through every sink concurrently, so a slow sink never
// delays another. Deliveries are concatenated in sink order.
type Multi []Broadcaster

func (m Multi) Broadcast(ctx context.Context, alert Alert) []Delivery {
	results := make([][]Delivery, len(m))
	ops := make([]func(context.Context) error, len(m))
	for i, b := range m {
		ops[i] = func(ctx context.Context) error {
			results[i] = b.Broadcast(ctx, alert)
			return nil
		}
	}
	Fanout(ctx, ops)
	return lo.Flatten(results)
}
