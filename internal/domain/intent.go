package domain

import (
	"time"

	"github.com/holiman/uint256"
)

// TradeIntent is the payload bound by a commitment and revealed later.
type TradeIntent struct {
	Outcome        int          `json:"outcome"`
	Amount         *uint256.Int `json:"amount"`
	MaxSlippageBps uint64       `json:"maxSlippageBps"`
	IsBuy          bool         `json:"isBuy"`
	MinTime        time.Time    `json:"minTime"`
	MaxTime        time.Time    `json:"maxTime"`
	Nonce          *uint256.Int `json:"nonce"`
}
