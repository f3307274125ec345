package hyperliquid

import (
	"encoding/json"

	"github.com/winder87-stack/SuperSignal-sub000/internal/crypto"
)

// Actions are msgpack-hashed for signing, so field order and tags must
// match the exchange's canonical encoding exactly.

type orderAction struct {
	Type     string      `json:"type" msgpack:"type"`
	Orders   []orderWire `json:"orders" msgpack:"orders"`
	Grouping string      `json:"grouping" msgpack:"grouping"`
}

type orderWire struct {
	Asset      int           `json:"a" msgpack:"a"`
	IsBuy      bool          `json:"b" msgpack:"b"`
	LimitPx    string        `json:"p" msgpack:"p"`
	Size       string        `json:"s" msgpack:"s"`
	ReduceOnly bool          `json:"r" msgpack:"r"`
	OrderType  orderTypeWire `json:"t" msgpack:"t"`
	Cloid      string        `json:"c,omitempty" msgpack:"c,omitempty"`
}

type orderTypeWire struct {
	Limit   *limitWire   `json:"limit,omitempty" msgpack:"limit,omitempty"`
	Trigger *triggerWire `json:"trigger,omitempty" msgpack:"trigger,omitempty"`
}

type limitWire struct {
	Tif string `json:"tif" msgpack:"tif"`
}

type triggerWire struct {
	IsMarket  bool   `json:"isMarket" msgpack:"isMarket"`
	TriggerPx string `json:"triggerPx" msgpack:"triggerPx"`
	Tpsl      string `json:"tpsl" msgpack:"tpsl"`
}

type cancelAction struct {
	Type    string       `json:"type" msgpack:"type"`
	Cancels []cancelWire `json:"cancels" msgpack:"cancels"`
}

type cancelWire struct {
	Asset int   `json:"a" msgpack:"a"`
	Oid   int64 `json:"o" msgpack:"o"`
}

type cancelByCloidAction struct {
	Type    string            `json:"type" msgpack:"type"`
	Cancels []cancelCloidWire `json:"cancels" msgpack:"cancels"`
}

type cancelCloidWire struct {
	Asset int    `json:"asset" msgpack:"asset"`
	Cloid string `json:"cloid" msgpack:"cloid"`
}

type exchangeRequest struct {
	Action       any              `json:"action"`
	Nonce        int64            `json:"nonce"`
	Signature    crypto.Signature `json:"signature"`
	VaultAddress *string          `json:"vaultAddress"`
}

// exchangeResponse is {"status":"ok","response":{...}} on success and
// {"status":"err","response":"message"} on rejection.
type exchangeResponse struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type responseBody struct {
	Type string `json:"type"`
	Data struct {
		Statuses []json.RawMessage `json:"statuses"`
	} `json:"data"`
}

type orderStatusWire struct {
	Resting *struct {
		Oid int64 `json:"oid"`
	} `json:"resting"`
	Filled *struct {
		TotalSz string `json:"totalSz"`
		AvgPx   string `json:"avgPx"`
		Oid     int64  `json:"oid"`
	} `json:"filled"`
	Error string `json:"error"`
}

// Info endpoint payloads.

type metaResponse struct {
	Universe []assetInfo `json:"universe"`
}

type assetInfo struct {
	Name        string `json:"name"`
	SzDecimals  int    `json:"szDecimals"`
	MaxLeverage int    `json:"maxLeverage"`
	IsDelisted  bool   `json:"isDelisted"`
}

type openOrderWire struct {
	Coin       string  `json:"coin"`
	Side       string  `json:"side"`
	LimitPx    string  `json:"limitPx"`
	Sz         string  `json:"sz"`
	Oid        int64   `json:"oid"`
	Timestamp  int64   `json:"timestamp"`
	IsTrigger  bool    `json:"isTrigger"`
	TriggerPx  string  `json:"triggerPx"`
	ReduceOnly bool    `json:"reduceOnly"`
	OrderType  string  `json:"orderType"`
	Cloid      *string `json:"cloid"`
}

type clearinghouseState struct {
	AssetPositions []struct {
		Position positionWire `json:"position"`
	} `json:"assetPositions"`
	MarginSummary struct {
		AccountValue    string `json:"accountValue"`
		TotalMarginUsed string `json:"totalMarginUsed"`
	} `json:"marginSummary"`
	Withdrawable string `json:"withdrawable"`
	Time         int64  `json:"time"`
}

type positionWire struct {
	Coin          string  `json:"coin"`
	Szi           string  `json:"szi"`
	EntryPx       *string `json:"entryPx"`
	UnrealizedPnl string  `json:"unrealizedPnl"`
	Leverage      struct {
		Type  string  `json:"type"`
		Value float64 `json:"value"`
	} `json:"leverage"`
	LiquidationPx *string `json:"liquidationPx"`
}

type candleWire struct {
	OpenTime  int64  `json:"t"`
	CloseTime int64  `json:"T"`
	Coin      string `json:"s"`
	Interval  string `json:"i"`
	Open      string `json:"o"`
	Close     string `json:"c"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Volume    string `json:"v"`
	Trades    int    `json:"n"`
}
