// internal/tenant/entitlement/catalog.go
//
// Static module catalog.
//
// Context
// -------
// The platform ships a closed set of feature modules.  The catalog supplies
// each module's default enablement, display metadata, and sort order; the
// per-tenant entitlement rows seeded at create time copy these defaults and
// then evolve independently.  The catalog itself changes only with a
// deploy, so it lives in code, not in the database.
//
// Notes
// -----
// • `Key.Valid()` is the single gate for the closed enum; every write path
//   checks it and rejects unknown keys.
package entitlement

import "sort"

// Key names one optional feature area.  The set is closed.
type Key string

const (
	KeyMarketplace  Key = "marketplace"
	KeyInternet     Key = "internet"
	KeyCinema       Key = "cinema"
	KeyTelemedicine Key = "telemedicine"
	KeyGiftcards    Key = "giftcards"
	KeyInsurance    Key = "insurance"
	KeyStreaming    Key = "streaming"
	KeyReferrals    Key = "referrals"
	KeyCashback     Key = "cashback"
	KeyTelecom      Key = "telecom"
)

// Valid reports whether k is in the closed module set.
func (k Key) Valid() bool {
	_, ok := catalog[k]
	return ok
}

// CatalogEntry is the deploy-time default for one module.
type CatalogEntry struct {
	Key              Key
	DisplayName      string
	Description      string
	EnabledByDefault bool
	SortOrder        int
}

var catalog = map[Key]CatalogEntry{
	KeyMarketplace:  {KeyMarketplace, "Marketplace", "Product marketplace storefront", true, 10},
	KeyInternet:     {KeyInternet, "Internet", "Internet service plans", false, 20},
	KeyCinema:       {KeyCinema, "Cinema", "Cinema ticketing", false, 30},
	KeyTelemedicine: {KeyTelemedicine, "Telemedicine", "Remote medical consultations", false, 40},
	KeyGiftcards:    {KeyGiftcards, "Gift Cards", "Gift card issuance and redemption", false, 50},
	KeyInsurance:    {KeyInsurance, "Insurance", "Insurance product offers", false, 60},
	KeyStreaming:    {KeyStreaming, "Streaming", "Streaming service bundles", false, 70},
	KeyReferrals:    {KeyReferrals, "Referrals", "Member referral program", true, 80},
	KeyCashback:     {KeyCashback, "Cashback", "Purchase cashback program", true, 90},
	KeyTelecom:      {KeyTelecom, "Telecom", "Mobile top-up and plans", false, 100},
}

// Lookup returns the catalog entry for k.
func Lookup(k Key) (CatalogEntry, bool) {
	e, ok := catalog[k]
	return e, ok
}

// Defaults returns every catalog entry ordered by SortOrder.  Used to seed
// entitlement rows for a newly-created tenant.
func Defaults() []CatalogEntry {
	out := make([]CatalogEntry, 0, len(catalog))
	for _, e := range catalog {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out
}
