package alerts

import (
	"fmt"

	"brokersync/internal/broker"
)

// FillMessage formats an execution report for a notification channel.
func FillMessage(f broker.Fill) string {
	msg := fmt.Sprintf("%s %s %v @ %v (%s)",
		f.Execution.Side, f.Contract.Symbol, f.Execution.Shares, f.Execution.Price, f.Execution.Account)
	if f.Commission.Commission != 0 {
		msg += fmt.Sprintf(" fee %v %s", f.Commission.Commission, f.Commission.Currency)
	}
	return msg
}

// ErrorMessage formats a broker-reported instrument error.
func ErrorMessage(symbol string, code int64, text string) string {
	return fmt.Sprintf("error %d on %s: %s", code, symbol, text)
}
