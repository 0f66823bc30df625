// Package trust scores seller reliability on a 100-point scale and produces
// buyer advisories for risky listings.
package trust

import (
	"time"

	"github.com/iegorov553/price-gh-bot-sub000/models"
)

// Reliability categories, best to worst. NoData is reserved for sellers whose
// metrics never loaded; it is not a judgment.
const (
	CategoryDiamond = "Diamond"
	CategoryGold    = "Gold"
	CategorySilver  = "Silver"
	CategoryBronze  = "Bronze"
	CategoryGhost   = "Ghost"
	CategoryNoData  = "No Data"
)

var categoryDescriptions = map[string]string{
	CategoryDiamond: "top seller, active and consistently rated",
	CategoryGold:    "reliable seller with a strong track record",
	CategorySilver:  "decent seller, minor gaps in history",
	CategoryBronze:  "thin track record, buy with care",
	CategoryGhost:   "inactive or poorly rated seller",
	CategoryNoData:  "seller metrics unavailable",
}

const ghostInactiveDescription = "no listing activity for over 30 days"

// Score evaluates seller reliability: activity 0-30, rating 0-35, review
// volume 0-25, trusted badge 0-10. A seller inactive for more than 30 days is
// a Ghost regardless of the other signals, and a seller with no signals at
// all is No Data rather than a zero score.
func Score(seller *models.Seller, now time.Time) models.TrustScore {
	if seller == nil {
		return models.TrustScore{Category: CategoryNoData, Description: categoryDescriptions[CategoryNoData]}
	}
	if seller.AvgRating == 0 && seller.Reviews == 0 && !seller.TrustedBadge {
		return models.TrustScore{Category: CategoryNoData, Description: categoryDescriptions[CategoryNoData]}
	}

	lastActivity := seller.LastActivityAt
	daysInactive := int(now.Sub(lastActivity).Hours() / 24)
	if daysInactive > 30 {
		return models.TrustScore{Category: CategoryGhost, Description: ghostInactiveDescription}
	}

	var activity int
	switch {
	case daysInactive <= 2:
		activity = 30
	case daysInactive <= 7:
		activity = 24
	default:
		activity = 12
	}

	var rating int
	switch {
	case seller.AvgRating >= 4.90:
		rating = 35
	case seller.AvgRating >= 4.70:
		rating = 30
	case seller.AvgRating >= 4.50:
		rating = 24
	case seller.AvgRating >= 4.00:
		rating = 12
	}

	var volume int
	switch {
	case seller.Reviews == 0:
		volume = 0
	case seller.Reviews <= 9:
		volume = 5
	case seller.Reviews <= 49:
		volume = 15
	case seller.Reviews <= 199:
		volume = 20
	default:
		volume = 25
	}

	var badge int
	if seller.TrustedBadge {
		badge = 10
	}

	total := activity + rating + volume + badge
	category := categoryFor(total)
	return models.TrustScore{
		ActivityScore: activity,
		RatingScore:   rating,
		VolumeScore:   volume,
		BadgeScore:    badge,
		Total:         total,
		Category:      category,
		Description:   categoryDescriptions[category],
	}
}

func categoryFor(total int) string {
	switch {
	case total >= 85:
		return CategoryDiamond
	case total >= 70:
		return CategoryGold
	case total >= 55:
		return CategorySilver
	case total >= 40:
		return CategoryBronze
	default:
		return CategoryGhost
	}
}

// Advisory reasons, ordered by severity. An empty Advisory means no concern.
const (
	ReasonLowRating  = "low_rating"
	ReasonNoReviews  = "no_reviews"
	ReasonNoBuyNow   = "no_buy_now_price"
	ReasonSellerData = "seller_data_unavailable"
)

// Advisory is a single buyer-facing caution about a listing.
type Advisory struct {
	Reason  string
	Message string
}

// Evaluate returns the most severe advisory for a listing. A nil seller is a
// technical condition distinct from a seller with zero reviews: the former
// means extraction failed, the latter is a real signal about a new account.
func Evaluate(seller *models.Seller, listing *models.Listing) Advisory {
	if seller != nil {
		if seller.Reviews > 0 && seller.AvgRating <= 4.6 {
			return Advisory{Reason: ReasonLowRating, Message: "seller rating is low, check reviews before buying"}
		}
		if seller.Reviews == 0 {
			return Advisory{Reason: ReasonNoReviews, Message: "seller has no reviews yet"}
		}
	}
	if listing != nil && !listing.Buyable {
		return Advisory{Reason: ReasonNoBuyNow, Message: "listing has no buy-now price, final cost depends on the offer"}
	}
	if seller == nil {
		return Advisory{Reason: ReasonSellerData, Message: "seller data could not be analyzed, try again later"}
	}
	return Advisory{}
}
