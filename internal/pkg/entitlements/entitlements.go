package entitlements

import (
	"time"

	"github.com/viajamx/marketplace/app/models"
)

type Feature string

const (
	FeatureListings         Feature = "listings"
	FeatureFeaturedListings Feature = "featured_listings"
	FeatureAnalytics        Feature = "analytics"
	FeaturePrioritySupport  Feature = "priority_support"
)

var allFeatures = []Feature{
	FeatureListings,
	FeatureFeaturedListings,
	FeatureAnalytics,
	FeaturePrioritySupport,
}

// Set is the effective feature grant of one provider. Every known feature is
// present so API clients can rely on the keys.
type Set map[Feature]bool

func none() Set {
	s := make(Set, len(allFeatures))
	for _, f := range allFeatures {
		s[f] = false
	}
	return s
}

// ForSubscription combines the plan features stored on the subscription with
// its lifecycle. Nothing is granted without an active subscription or once its
// period has ended.
func ForSubscription(sub *models.Subscription, now time.Time) Set {
	out := none()
	if sub == nil || !sub.IsActive() {
		return out
	}
	if !sub.EndDate.IsZero() && now.After(sub.EndDate) {
		return out
	}

	for _, f := range allFeatures {
		if granted, ok := sub.Features[string(f)].(bool); ok && granted {
			out[f] = true
		}
	}

	// A failed renewal keeps the listing online but pauses the paid extras.
	if sub.PaymentStatus == models.PaymentStatusFailed {
		for _, f := range allFeatures {
			if f != FeatureListings {
				out[f] = false
			}
		}
	}
	return out
}
