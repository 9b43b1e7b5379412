package app

import (
	"testing"

	"brokersync/internal/session"
)

func TestFetchFlags(t *testing.T) {
	cases := []struct {
		names []string
		want  session.FetchFlag
	}{
		{nil, session.FetchNone},
		{[]string{"openOrders"}, session.FetchOpenOrders},
		{[]string{"openOrders", "executions"}, session.FetchOpenOrders | session.FetchExecutions},
		{[]string{"subAccountUpdates"}, session.FetchSubAccountUpdates},
		{
			[]string{"openOrders", "completedOrders", "accountUpdates", "subAccountUpdates", "accountSummary", "executions"},
			session.FetchAll,
		},
		{[]string{"bogus"}, session.FetchNone},
		{[]string{"openOrders", "openOrders"}, session.FetchOpenOrders},
	}
	for _, tc := range cases {
		if got := fetchFlags(tc.names); got != tc.want {
			t.Fatalf("fetchFlags(%v) = %v, want %v", tc.names, got, tc.want)
		}
	}
}
