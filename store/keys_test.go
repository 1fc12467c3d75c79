package store

import "testing"

func TestKeyLayout(t *testing.T) {
	cases := []struct {
		got  string
		want string
	}{
		{OrderbookKey("tok"), "orderbook:tok"},
		{PriceKey("tok"), "price:tok"},
		{TradesKey("tok"), "trades:tok"},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("unexpected key: got %q, want %q", c.got, c.want)
		}
	}
}
