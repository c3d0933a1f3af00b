package drova

// Account is the merchant account behind an auth token.
type Account struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
}

// Session is one rental occupancy of a station. Optional vendor fields are
// pointers; nil FinishedOn means the session is still running.
type Session struct {
	ID           string  `json:"id"`
	UUID         string  `json:"uuid"`
	ServerID     string  `json:"server_id"`
	MerchantID   string  `json:"merchant_id"`
	ProductID    string  `json:"product_id"`
	CreatorIP    string  `json:"creator_ip"`
	ClientID     string  `json:"client_id"`
	CreatedOn    int64   `json:"created_on"`
	FinishedOn   *int64  `json:"finished_on"`
	Status       string  `json:"status"`
	BillingType  *string `json:"billing_type"`
	Score        *int    `json:"score"`
	ScoreReason  *string `json:"score_reason"`
	ScoreText    *string `json:"score_text"`
	AbortComment *string `json:"abort_comment"`
}

// SessionList is the envelope of the sessions resource.
type SessionList struct {
	Sessions []Session `json:"sessions"`
}

// Server is a game-hosting station. Any state outside LISTEN, HANDSHAKE and
// BUSY is considered down.
type Server struct {
	UUID       string   `json:"uuid"`
	Name       string   `json:"name"`
	State      string   `json:"state"`
	Published  bool     `json:"published"`
	CityName   string   `json:"city_name"`
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
	GroupsList []string `json:"groups_list"`
}

// Station states treated as up.
const (
	StateListen    = "LISTEN"
	StateHandshake = "HANDSHAKE"
	StateBusy      = "BUSY"
)

// Session status values referenced by report rendering.
const (
	StatusActive = "ACTIVE"
)

// BillingTrial marks free-trial sessions.
const BillingTrial = "trial"

// ServerProduct is a product configured on a specific station.
type ServerProduct struct {
	ProductID string `json:"productId"`
	Title     string `json:"title"`
	Enabled   bool   `json:"enabled"`
	Published bool   `json:"published"`
	Available bool   `json:"available"`
}

// Endpoint is a network address attached to a station.
type Endpoint struct {
	IP       string `json:"ip"`
	BasePort int    `json:"base_port"`
}

// Product is a global catalog entry.
type Product struct {
	ProductID string `json:"productId"`
	Title     string `json:"title"`
}
