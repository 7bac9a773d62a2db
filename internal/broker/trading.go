package broker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"TradeSentinel/internal/model"
)

const (
	pathOrderCash = "/uapi/domestic-stock/v1/trading/order-cash"
	pathBalance   = "/uapi/domestic-stock/v1/trading/inquire-balance"
)

// Balance returns the account's cash and valuation.
func (c *Client) Balance(ctx context.Context) (model.AccountBalance, error) {
	cano, product := c.account()
	res, err := c.call(ctx, request{
		method: http.MethodGet,
		path:   pathBalance,
		trID:   c.trID("VTTC8434R", "TTTC8434R"),
		query: url.Values{
			"CANO":                  {cano},
			"ACNT_PRDT_CD":          {product},
			"AFHR_FLPR_YN":          {"N"},
			"OFL_YN":                {""},
			"INQR_DVSN":             {"02"},
			"UNPR_DVSN":             {"01"},
			"FUND_STTL_ICLD_YN":     {"N"},
			"FNCG_AMT_AUTO_RDPT_YN": {"N"},
			"PRCS_DVSN":             {"01"},
			"CTX_AREA_FK100":        {""},
			"CTX_AREA_NK100":        {""},
		},
		timeout: c.cfg.QuoteTimeout,
	})
	if err != nil {
		return model.AccountBalance{}, fmt.Errorf("balance: %w", err)
	}
	summary := res.Get("output2.0")
	bal := model.AccountBalance{
		Cash:      summary.Get("prvs_rcdl_excc_amt").Float(),
		NetAsset:  summary.Get("nass_amt").Float(),
		TotalEval: summary.Get("tot_evlu_amt").Float(),
	}
	if bal.Cash == 0 {
		bal.Cash = summary.Get("dnca_tot_amt").Float()
	}
	return bal, nil
}

// PlaceOrder submits a market order. Orders are sent once: a failure is never retried here.
func (c *Client) PlaceOrder(ctx context.Context, order model.Order) (model.OrderResult, error) {
	if order.Quantity < 1 {
		return model.OrderResult{}, fmt.Errorf("order %s %s: quantity %d", order.Side, order.Code, order.Quantity)
	}
	tr := c.trID("VTTC0802U", "TTTC0802U")
	if order.Side == model.Sell {
		tr = c.trID("VTTC0801U", "TTTC0801U")
	}
	cano, product := c.account()
	res, err := c.call(ctx, request{
		method: http.MethodPost,
		path:   pathOrderCash,
		trID:   tr,
		body: map[string]string{
			"CANO":         cano,
			"ACNT_PRDT_CD": product,
			"PDNO":         order.Code,
			"ORD_DVSN":     "01",
			"ORD_QTY":      strconv.FormatInt(order.Quantity, 10),
			"ORD_UNPR":     "0",
		},
		timeout:  c.cfg.QuoteTimeout,
		attempts: 1,
	})
	if err != nil {
		return model.OrderResult{}, fmt.Errorf("order %s %s x%d: %w", order.Side, order.Code, order.Quantity, err)
	}
	return model.OrderResult{
		OrderNo:  res.Get("output.ODNO").String(),
		Code:     order.Code,
		Side:     order.Side,
		Quantity: order.Quantity,
	}, nil
}
