package broker

import "testing"

func TestContractKeyStructural(t *testing.T) {
	a := Stock("AAPL", "SMART", "USD")
	b := Stock("AAPL", "SMART", "USD")
	if a.Key() != b.Key() {
		t.Fatalf("identical descriptors must hash equal")
	}
	c := Stock("MSFT", "SMART", "USD")
	if a.Key() == c.Key() {
		t.Fatalf("different symbols must hash differently")
	}
}

func TestContractKeyCaseInsensitiveSymbol(t *testing.T) {
	a := Stock("aapl", "SMART", "USD")
	b := Stock("AAPL", "SMART", "USD")
	if a.Key() != b.Key() {
		t.Fatalf("symbol case must not change the key")
	}
}

func TestContractKeyConIDWins(t *testing.T) {
	a := Contract{ConID: 265598, Exchange: "SMART", Symbol: "AAPL"}
	b := Contract{ConID: 265598, Exchange: "SMART", Symbol: "renamed"}
	if a.Key() != b.Key() {
		t.Fatalf("conId plus exchange must determine the key")
	}
	c := Contract{ConID: 265598, Exchange: "ISLAND"}
	if a.Key() == c.Key() {
		t.Fatalf("same conId on a different exchange is a different key")
	}
}

func TestForex(t *testing.T) {
	c := Forex("EURUSD")
	if c.Symbol != "EUR" || c.Currency != "USD" || c.SecType != "CASH" || c.Exchange != "IDEALPRO" {
		t.Fatalf("unexpected pair contract: %+v", c)
	}
}
