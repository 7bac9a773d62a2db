package broker

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sort"
	"time"

	"TradeSentinel/internal/model"

	"github.com/tidwall/gjson"
)

const (
	pathInquirePrice  = "/uapi/domestic-stock/v1/quotations/inquire-price"
	pathDailyChart    = "/uapi/domestic-stock/v1/quotations/inquire-daily-itemchartprice"
	pathVolumeRank    = "/uapi/domestic-stock/v1/quotations/volume-rank"
	pathFluctuation   = "/uapi/domestic-stock/v1/ranking/fluctuation"
	pathInvestorTrend = "/uapi/domestic-stock/v1/quotations/inquire-investor"

	trQuote       = "FHKST01010100"
	trDailyChart  = "FHKST03010100"
	trVolumeRank  = "FHPST01710000"
	trFluctuation = "FHPST01700000"
	trInvestor    = "FHKST01010900"
)

const (
	// The daily chart endpoint returns at most 100 rows; 140 calendar days covers that.
	historyPageSpan = 140
	maxHistoryPages = 4
)

// Quote returns the current price snapshot. An empty payload yields a Quote with zero price.
func (c *Client) Quote(ctx context.Context, code string) (model.Quote, error) {
	res, err := c.call(ctx, request{
		method:  http.MethodGet,
		path:    pathInquirePrice,
		trID:    trQuote,
		query:   url.Values{"FID_COND_MRKT_DIV_CODE": {"J"}, "FID_INPUT_ISCD": {code}},
		timeout: c.cfg.QuoteTimeout,
	})
	if err != nil {
		return model.Quote{}, fmt.Errorf("quote %s: %w", code, err)
	}
	q := model.Quote{Code: code}
	out := res.Get("output")
	if !out.IsObject() {
		return q, nil
	}
	q.Name = out.Get("hts_kor_isnm").String()
	q.Price = out.Get("stck_prpr").Float()
	q.ChangeRate = out.Get("prdy_ctrt").Float()
	q.Volume = out.Get("acml_vol").Float()
	return q, nil
}

// History returns up to days daily bars ending today, oldest first.
// It pages backwards through the chart endpoint; an empty payload yields an empty slice.
func (c *Client) History(ctx context.Context, code string, days int) ([]model.PriceBar, error) {
	end := c.now().In(KST)
	var bars []model.PriceBar
	for page := 0; page < maxHistoryPages && len(bars) < days; page++ {
		start := end.AddDate(0, 0, -historyPageSpan)
		res, err := c.call(ctx, request{
			method: http.MethodGet,
			path:   pathDailyChart,
			trID:   trDailyChart,
			query: url.Values{
				"FID_COND_MRKT_DIV_CODE": {"J"},
				"FID_INPUT_ISCD":         {code},
				"FID_INPUT_DATE_1":       {start.Format("20060102")},
				"FID_INPUT_DATE_2":       {end.Format("20060102")},
				"FID_PERIOD_DIV_CODE":    {"D"},
				"FID_ORG_ADJ_PRC":        {"0"},
			},
			timeout: c.cfg.HistoryTimeout,
		})
		if err != nil {
			if page == 0 {
				return nil, fmt.Errorf("history %s: %w", code, err)
			}
			log.Printf("[WARN] history %s: page %d failed, keeping %d bars: %v", code, page+1, len(bars), err)
			break
		}
		rows := parseBars(res.Get("output2"))
		if len(rows) == 0 {
			break
		}
		bars = append(rows, bars...)
		end = rows[0].Date.AddDate(0, 0, -1)
	}
	if len(bars) > days {
		bars = bars[len(bars)-days:]
	}
	return bars, nil
}

// parseBars decodes chart rows, skipping blank ones, and sorts them chronologically.
func parseBars(rows gjson.Result) []model.PriceBar {
	var bars []model.PriceBar
	rows.ForEach(func(_, row gjson.Result) bool {
		date, err := time.ParseInLocation("20060102", row.Get("stck_bsop_date").String(), KST)
		if err != nil {
			return true
		}
		bar := model.PriceBar{
			Date:   date,
			Open:   row.Get("stck_oprc").Float(),
			High:   row.Get("stck_hgpr").Float(),
			Low:    row.Get("stck_lwpr").Float(),
			Close:  row.Get("stck_clpr").Float(),
			Volume: row.Get("acml_vol").Float(),
		}
		if bar.Close > 0 {
			bars = append(bars, bar)
		}
		return true
	})
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars
}

// Ranking returns one of the market-wide ranking lists as quotes.
func (c *Client) Ranking(ctx context.Context, kind model.RankKind) ([]model.Quote, error) {
	req := request{method: http.MethodGet, timeout: c.cfg.HistoryTimeout}
	switch kind {
	case model.RankChange:
		req.path, req.trID = pathFluctuation, trFluctuation
		req.query = url.Values{
			"fid_cond_mrkt_div_code": {"J"},
			"fid_cond_scr_div_code":  {"20170"},
			"fid_input_iscd":         {"0000"},
			"fid_rank_sort_cls_code": {"0"},
			"fid_input_cnt_1":        {"0"},
			"fid_prc_cls_code":       {"0"},
			"fid_input_price_1":      {""},
			"fid_input_price_2":      {""},
			"fid_vol_cnt":            {""},
			"fid_trgt_cls_code":      {"0"},
			"fid_trgt_exls_cls_code": {"0"},
			"fid_div_cls_code":       {"0"},
			"fid_rsfl_rate1":         {""},
			"fid_rsfl_rate2":         {""},
		}
	default:
		req.path, req.trID = pathVolumeRank, trVolumeRank
		req.query = url.Values{
			"FID_COND_MRKT_DIV_CODE": {"J"},
			"FID_COND_SCR_DIV_CODE":  {"20171"},
			"FID_INPUT_ISCD":         {"0000"},
			"FID_DIV_CLS_CODE":       {"0"},
			"FID_BLNG_CLS_CODE":      {"0"},
			"FID_TRGT_CLS_CODE":      {"111111111"},
			"FID_TRGT_EXLS_CLS_CODE": {"000000"},
			"FID_INPUT_PRICE_1":      {""},
			"FID_INPUT_PRICE_2":      {""},
			"FID_VOL_CNT":            {""},
			"FID_INPUT_DATE_1":       {""},
		}
	}
	res, err := c.call(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s ranking: %w", kind, err)
	}
	var out []model.Quote
	res.Get("output").ForEach(func(_, item gjson.Result) bool {
		code := item.Get("mksc_shrn_iscd").String()
		if code == "" {
			code = item.Get("stck_shrn_iscd").String()
		}
		if code == "" {
			return true
		}
		out = append(out, model.Quote{
			Code:       code,
			Name:       item.Get("hts_kor_isnm").String(),
			Price:      item.Get("stck_prpr").Float(),
			ChangeRate: item.Get("prdy_ctrt").Float(),
			Volume:     item.Get("acml_vol").Float(),
		})
		return true
	})
	return out, nil
}

// InvestorFlow sums foreign and institutional net buy quantities over the latest days rows.
// Known is false when the payload had no rows.
func (c *Client) InvestorFlow(ctx context.Context, code string, days int) (model.InvestorFlow, error) {
	res, err := c.call(ctx, request{
		method:  http.MethodGet,
		path:    pathInvestorTrend,
		trID:    trInvestor,
		query:   url.Values{"FID_COND_MRKT_DIV_CODE": {"J"}, "FID_INPUT_ISCD": {code}},
		timeout: c.cfg.QuoteTimeout,
	})
	if err != nil {
		return model.InvestorFlow{Code: code}, fmt.Errorf("investor flow %s: %w", code, err)
	}
	flow := model.InvestorFlow{Code: code}
	res.Get("output").ForEach(func(_, row gjson.Result) bool {
		if flow.Days >= days {
			return false
		}
		flow.ForeignNet += row.Get("frgn_ntby_qty").Float()
		flow.InstitutionNet += row.Get("orgn_ntby_qty").Float()
		flow.Days++
		return true
	})
	flow.Known = flow.Days > 0
	return flow, nil
}
