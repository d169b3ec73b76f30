package payment

import "strings"

// Method is how a payment was settled.
type Method string

const (
	MethodCard           Method = "CARD"
	MethodTransfer       Method = "TRANSFER"
	MethodVirtualAccount Method = "VIRTUAL_ACCOUNT"
	MethodDirectDeposit  Method = "DIRECT_DEPOSIT"
	MethodEasyPay        Method = "EASY_PAY"
)

var methodAliases = map[string]Method{
	"CARD":            MethodCard,
	"카드":              MethodCard,
	"TRANSFER":        MethodTransfer,
	"계좌이체":            MethodTransfer,
	"VIRTUAL_ACCOUNT": MethodVirtualAccount,
	"가상계좌":            MethodVirtualAccount,
	"DIRECT_DEPOSIT":  MethodDirectDeposit,
	"무통장입금":           MethodDirectDeposit,
	"EASY_PAY":        MethodEasyPay,
	"간편결제":            MethodEasyPay,
}

// ParseMethod accepts both the local enum and the gateway's Korean method
// names. The second result is false for anything else.
func ParseMethod(s string) (Method, bool) {
	m, ok := methodAliases[strings.ToUpper(strings.TrimSpace(s))]
	return m, ok
}

// SettledByGateway reports whether refunds must go through the gateway
// cancel API.
func (m Method) SettledByGateway() bool {
	return m != MethodDirectDeposit
}
