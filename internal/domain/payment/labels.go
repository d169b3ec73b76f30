package payment

var statusLabels = map[Status]string{
	StatusReady:                   "결제대기",
	StatusWaitingForDeposit:       "입금대기",
	StatusWaitingForDirectDeposit: "무통장입금대기",
	StatusDone:                    "결제완료",
	StatusPartialCanceled:         "부분환불",
	StatusCanceled:                "환불됨",
	StatusFailed:                  "실패",
}

var orderStatusLabels = map[OrderStatus]string{
	OrderPending:         "대기",
	OrderPaid:            "결제완료",
	OrderPartialRefunded: "부분환불",
	OrderRefunded:        "환불됨",
	OrderCanceled:        "취소됨",
	OrderFailed:          "실패",
}

var methodLabels = map[Method]string{
	MethodCard:           "카드",
	MethodTransfer:       "계좌이체",
	MethodVirtualAccount: "가상계좌",
	MethodDirectDeposit:  "무통장입금",
	MethodEasyPay:        "간편결제",
}

// Label returns the Korean report label, or the raw code when unknown.
func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// Label returns the Korean report label, or the raw code when unknown.
func (s OrderStatus) Label() string {
	if l, ok := orderStatusLabels[s]; ok {
		return l
	}
	return string(s)
}

// Label returns the Korean report label, or the raw code when unknown.
func (m Method) Label() string {
	if l, ok := methodLabels[m]; ok {
		return l
	}
	return string(m)
}
