package tx

// DepositFunds records currency entering the ledger after the payment
// gateway confirmed the external transfer.
type DepositFunds struct {
	Meta
	Amount int64
}

func (t *DepositFunds) TxType() TxType { return TxTypeDepositFunds }

// WithdrawFunds moves currency out of the ledger to the gateway.
type WithdrawFunds struct {
	Meta
	Amount int64
}

func (t *WithdrawFunds) TxType() TxType { return TxTypeWithdrawFunds }
