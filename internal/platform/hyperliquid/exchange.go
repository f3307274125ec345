package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
)

// PlaceOrders submits orders as one signed action. A business rejection is
// returned as an OrderResult with Status "err"; only transport and
// encoding failures return an error.
func (c *Client) PlaceOrders(ctx context.Context, orders []domain.OrderIntent, grouping domain.Grouping) (domain.OrderResult, error) {
	if len(orders) == 0 {
		return domain.OrderResult{}, fmt.Errorf("hyperliquid: place orders: %w: empty batch", domain.ErrInvalidOrder)
	}
	if grouping == "" {
		grouping = domain.GroupingNone
	}
	action := orderAction{Type: "order", Grouping: string(grouping)}
	for _, o := range orders {
		a, err := c.asset(ctx, o.Instrument)
		if err != nil {
			return domain.OrderResult{}, err
		}
		w, err := toOrderWire(o, a.index, a.info)
		if err != nil {
			return domain.OrderResult{}, err
		}
		action.Orders = append(action.Orders, w)
	}

	resp, err := c.exchange(ctx, action)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("hyperliquid: place orders: %w", err)
	}
	return parseOrderResponse(resp)
}

// CancelOrders cancels by exchange id where known and by client id
// otherwise. Statuses follow the order of refs.
func (c *Client) CancelOrders(ctx context.Context, refs []domain.CancelRef) (domain.CancelResult, error) {
	var (
		byOid   cancelAction
		byCloid cancelByCloidAction
		order   []bool // true: by oid
	)
	byOid.Type = "cancel"
	byCloid.Type = "cancelByCloid"
	for _, r := range refs {
		a, err := c.asset(ctx, r.Instrument)
		if err != nil {
			return domain.CancelResult{}, err
		}
		switch {
		case r.Ref.HasOrderID():
			byOid.Cancels = append(byOid.Cancels, cancelWire{Asset: a.index, Oid: r.Ref.OrderID})
			order = append(order, true)
		case r.Ref.ClientID != "":
			byCloid.Cancels = append(byCloid.Cancels, cancelCloidWire{Asset: a.index, Cloid: r.Ref.ClientID})
			order = append(order, false)
		default:
			return domain.CancelResult{}, fmt.Errorf("hyperliquid: cancel %s: %w: empty reference", r.Instrument, domain.ErrInvalidOrder)
		}
	}

	var oidStatuses, cloidStatuses []string
	result := domain.CancelResult{Status: "ok"}
	if len(byOid.Cancels) > 0 {
		res, err := c.cancel(ctx, byOid)
		if err != nil {
			return domain.CancelResult{}, err
		}
		if res.Status != "ok" {
			return res, nil
		}
		oidStatuses = res.Statuses
	}
	if len(byCloid.Cancels) > 0 {
		res, err := c.cancel(ctx, byCloid)
		if err != nil {
			return domain.CancelResult{}, err
		}
		if res.Status != "ok" {
			return res, nil
		}
		cloidStatuses = res.Statuses
	}
	for _, isOid := range order {
		var s string
		if isOid && len(oidStatuses) > 0 {
			s, oidStatuses = oidStatuses[0], oidStatuses[1:]
		} else if !isOid && len(cloidStatuses) > 0 {
			s, cloidStatuses = cloidStatuses[0], cloidStatuses[1:]
		}
		result.Statuses = append(result.Statuses, s)
	}
	return result, nil
}

func (c *Client) cancel(ctx context.Context, action any) (domain.CancelResult, error) {
	resp, err := c.exchange(ctx, action)
	if err != nil {
		return domain.CancelResult{}, fmt.Errorf("hyperliquid: cancel: %w", err)
	}
	if resp.Status != "ok" {
		return domain.CancelResult{Status: resp.Status, Message: rejectionMessage(resp.Response)}, nil
	}
	var body responseBody
	if err := json.Unmarshal(resp.Response, &body); err != nil {
		return domain.CancelResult{}, fmt.Errorf("hyperliquid: decode cancel response: %w", err)
	}
	out := domain.CancelResult{Status: "ok"}
	for _, raw := range body.Data.Statuses {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			out.Statuses = append(out.Statuses, s)
			continue
		}
		var e struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(raw, &e); err != nil {
			return domain.CancelResult{}, fmt.Errorf("hyperliquid: decode cancel status: %w", err)
		}
		out.Statuses = append(out.Statuses, e.Error)
	}
	return out, nil
}

func parseOrderResponse(resp exchangeResponse) (domain.OrderResult, error) {
	if resp.Status != "ok" {
		return domain.OrderResult{Status: resp.Status, Message: rejectionMessage(resp.Response)}, nil
	}
	var body responseBody
	if err := json.Unmarshal(resp.Response, &body); err != nil {
		return domain.OrderResult{}, fmt.Errorf("hyperliquid: decode order response: %w", err)
	}
	out := domain.OrderResult{Status: "ok"}
	for _, raw := range body.Data.Statuses {
		var w orderStatusWire
		if err := json.Unmarshal(raw, &w); err != nil {
			// Market orders sometimes answer with a bare string status.
			var s string
			if json.Unmarshal(raw, &s) == nil {
				out.Statuses = append(out.Statuses, domain.OrderStatus{Resting: s == "waitingForTrigger" || s == "waitingForFill"})
				continue
			}
			return domain.OrderResult{}, fmt.Errorf("hyperliquid: decode order status: %w", err)
		}
		var st domain.OrderStatus
		switch {
		case w.Filled != nil:
			st = domain.OrderStatus{Filled: true, OrderID: w.Filled.Oid, FilledSize: num(w.Filled.TotalSz), AvgPrice: num(w.Filled.AvgPx)}
		case w.Resting != nil:
			st = domain.OrderStatus{Resting: true, OrderID: w.Resting.Oid}
		default:
			st = domain.OrderStatus{Error: w.Error}
		}
		out.Statuses = append(out.Statuses, st)
	}
	return out, nil
}

// rejectionMessage extracts the message from an "err" response, which is
// usually a bare JSON string.
func rejectionMessage(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}
