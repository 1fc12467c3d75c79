package store

import "fmt"

// Key layout shared with external readers of the cache. Orderbook and price
// records carry a TTL; the trade list is bounded by count, not time.

func OrderbookKey(token string) string {
	return fmt.Sprintf("orderbook:%s", token)
}

func PriceKey(token string) string {
	return fmt.Sprintf("price:%s", token)
}

func TradesKey(token string) string {
	return fmt.Sprintf("trades:%s", token)
}
