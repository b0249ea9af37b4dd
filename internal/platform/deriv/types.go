package deriv

import "encoding/json"

// APIError is the error object embedded in Deriv API responses.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// envelope is the outer shape shared by every Deriv response. ReqID is the
// correlation key for the request/response call model.
type envelope struct {
	ReqID   int64     `json:"req_id"`
	MsgType string    `json:"msg_type"`
	Error   *APIError `json:"error"`
}

// --------------------------------------------------------------------------
// Requests
// --------------------------------------------------------------------------

type authorizeRequest struct {
	Authorize string `json:"authorize"`
	ReqID     int64  `json:"req_id"`
}

type ticksHistoryRequest struct {
	TicksHistory string `json:"ticks_history"`
	Style        string `json:"style"`
	Granularity  int    `json:"granularity"`
	Count        int    `json:"count"`
	End          string `json:"end"`
	ReqID        int64  `json:"req_id"`
}

type limitOrder struct {
	TakeProfit float64 `json:"take_profit,omitempty"`
	StopLoss   float64 `json:"stop_loss,omitempty"`
}

type proposalRequest struct {
	Proposal     int         `json:"proposal"`
	Amount       float64     `json:"amount"`
	Basis        string      `json:"basis"`
	ContractType string      `json:"contract_type"`
	Currency     string      `json:"currency"`
	Multiplier   int         `json:"multiplier"`
	Symbol       string      `json:"symbol"`
	LimitOrder   *limitOrder `json:"limit_order,omitempty"`
	ReqID        int64       `json:"req_id"`
}

type buyRequest struct {
	Buy   string  `json:"buy"`
	Price float64 `json:"price"`
	ReqID int64   `json:"req_id"`
}

type openContractRequest struct {
	ProposalOpenContract int    `json:"proposal_open_contract"`
	ContractID           int64  `json:"contract_id"`
	ReqID                int64  `json:"req_id"`
}

type sellRequest struct {
	Sell  int64   `json:"sell"`
	Price float64 `json:"price"`
	ReqID int64   `json:"req_id"`
}

type portfolioRequest struct {
	Portfolio int   `json:"portfolio"`
	ReqID     int64 `json:"req_id"`
}

// --------------------------------------------------------------------------
// Responses
// --------------------------------------------------------------------------

type authorizeResponse struct {
	Authorize struct {
		LoginID  string `json:"loginid"`
		Currency string `json:"currency"`
	} `json:"authorize"`
}

type candle struct {
	Epoch int64   `json:"epoch"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

type ticksHistoryResponse struct {
	Candles []candle `json:"candles"`
}

type proposalResponse struct {
	Proposal struct {
		ID       string  `json:"id"`
		AskPrice float64 `json:"ask_price"`
		Spot     float64 `json:"spot"`
	} `json:"proposal"`
}

type buyResponse struct {
	Buy struct {
		ContractID  int64   `json:"contract_id"`
		BuyPrice    float64 `json:"buy_price"`
		LongCode    string  `json:"longcode"`
		PurchaseAt  int64   `json:"purchase_time"`
		StartSpot   float64 `json:"start_spot"`
		TransID     int64   `json:"transaction_id"`
		BalanceLeft float64 `json:"balance_after"`
	} `json:"buy"`
}

type openContractResponse struct {
	ProposalOpenContract struct {
		ContractID  int64           `json:"contract_id"`
		EntrySpot   float64         `json:"entry_spot"`
		CurrentSpot float64         `json:"current_spot"`
		Profit      float64         `json:"profit"`
		IsSold      json.Number     `json:"is_sold"`
		Status      string          `json:"status"`
		SellPrice   float64         `json:"sell_price"`
		ExitTick    json.RawMessage `json:"exit_tick"`
	} `json:"proposal_open_contract"`
}

type sellResponse struct {
	Sell struct {
		ContractID int64   `json:"contract_id"`
		SoldFor    float64 `json:"sold_for"`
	} `json:"sell"`
}

type portfolioResponse struct {
	Portfolio struct {
		Contracts []struct {
			ContractID   int64   `json:"contract_id"`
			Symbol       string  `json:"symbol"`
			ContractType string  `json:"contract_type"`
			BuyPrice     float64 `json:"buy_price"`
			LongCode     string  `json:"longcode"`
			DateStart    int64   `json:"date_start"`
		} `json:"contracts"`
	} `json:"portfolio"`
}
