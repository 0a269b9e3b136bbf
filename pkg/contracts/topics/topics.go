package topics

const (
	// Odds
	OddsUpdates = "odds_updates"

	// Redis Pub/Sub
	OddsBroadcastChannel = "odds_updates_broadcast"
	RelayBusPrefix       = "odds_relay"
)
