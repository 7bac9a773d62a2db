package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"TradeSentinel/internal/auth"
	"TradeSentinel/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTokens struct {
	mu          sync.Mutex
	token       string
	err         error
	invalidated int
}

func (s *staticTokens) Token(context.Context) (string, error) { return s.token, s.err }

func (s *staticTokens) Invalidate() {
	s.mu.Lock()
	s.invalidated++
	s.mu.Unlock()
}

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *staticTokens) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	tokens := &staticTokens{token: "tok"}
	c := NewClient(Config{
		BaseURL:   srv.URL,
		AppKey:    "key",
		AppSecret: "secret",
		AccountNo: "50012345-01",
		Paper:     true,
		RetryBase: time.Millisecond,
	}, tokens)
	return c, tokens
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestQuote_ParsesOutputAndSetsHeaders(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathInquirePrice, r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("authorization"))
		assert.Equal(t, "key", r.Header.Get("appkey"))
		assert.Equal(t, "secret", r.Header.Get("appsecret"))
		assert.Equal(t, trQuote, r.Header.Get("tr_id"))
		assert.Equal(t, "P", r.Header.Get("custtype"))
		assert.Equal(t, "005930", r.URL.Query().Get("FID_INPUT_ISCD"))
		writeJSON(w, http.StatusOK, `{"rt_cd":"0","output":{"hts_kor_isnm":"삼성전자","stck_prpr":"71200","prdy_ctrt":"-1.25","acml_vol":"12345678"}}`)
	})

	q, err := c.Quote(context.Background(), "005930")
	require.NoError(t, err)
	assert.Equal(t, model.Quote{Code: "005930", Name: "삼성전자", Price: 71200, ChangeRate: -1.25, Volume: 12345678}, q)
}

func TestQuote_EmptyPayloadIsNoData(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"rt_cd":"0","output":[]}`)
	})

	q, err := c.Quote(context.Background(), "000000")
	require.NoError(t, err)
	assert.True(t, q.Empty())
}

func TestCall_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			writeJSON(w, http.StatusBadGateway, `upstream down`)
			return
		}
		writeJSON(w, http.StatusOK, `{"rt_cd":"0","output":{"stck_prpr":"1000"}}`)
	})

	q, err := c.Quote(context.Background(), "000660")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, q.Price)
	assert.Equal(t, int32(3), hits.Load())
}

func TestCall_GivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusInternalServerError, `{}`)
	})

	_, err := c.Quote(context.Background(), "000660")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, int32(3), hits.Load())
}

func TestCall_RejectionIsTypedAndNotRetried(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusOK, `{"rt_cd":"1","msg_cd":"APBK0919","msg1":"invalid stock code"}`)
	})

	_, err := c.Quote(context.Background(), "999999")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "APBK0919", apiErr.MsgCode)
	assert.Equal(t, int32(1), hits.Load())
}

func TestCall_NoCredentialFailsFast(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	c, tokens := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	})
	tokens.err = auth.ErrRateLimited

	_, err := c.Quote(context.Background(), "005930")
	assert.ErrorIs(t, err, ErrNoCredential)
	assert.ErrorIs(t, err, auth.ErrRateLimited)
	assert.Equal(t, int32(0), hits.Load())
}

func TestCall_ExpiredTokenInvalidates(t *testing.T) {
	t.Parallel()

	c, tokens := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, `{"rt_cd":"1","msg_cd":"EGW00123","msg1":"token expired"}`)
	})

	_, err := c.Quote(context.Background(), "005930")
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, 1, tokens.invalidated)
}

// chartHandler serves up to 100 weekday rows, newest first, inside the requested date range.
func chartHandler(t *testing.T, pages *atomic.Int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pages.Add(1)
		from, err := time.ParseInLocation("20060102", r.URL.Query().Get("FID_INPUT_DATE_1"), KST)
		require.NoError(t, err)
		to, err := time.ParseInLocation("20060102", r.URL.Query().Get("FID_INPUT_DATE_2"), KST)
		require.NoError(t, err)

		var rows []string
		for d := to; !d.Before(from) && len(rows) < 100; d = d.AddDate(0, 0, -1) {
			if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
				continue
			}
			rows = append(rows, fmt.Sprintf(`{"stck_bsop_date":"%s","stck_oprc":"100","stck_hgpr":"110","stck_lwpr":"90","stck_clpr":"105","acml_vol":"1000"}`, d.Format("20060102")))
		}
		writeJSON(w, http.StatusOK, `{"rt_cd":"0","output2":[`+strings.Join(rows, ",")+`]}`)
	}
}

func TestHistory_PagesBackwardsChronological(t *testing.T) {
	t.Parallel()

	var pages atomic.Int32
	c, _ := newTestClient(t, chartHandler(t, &pages))
	c.now = func() time.Time { return time.Date(2025, 6, 13, 12, 0, 0, 0, KST) }

	bars, err := c.History(context.Background(), "005930", 150)
	require.NoError(t, err)
	require.Len(t, bars, 150)
	assert.Equal(t, int32(2), pages.Load())
	for i := 1; i < len(bars); i++ {
		require.True(t, bars[i-1].Date.Before(bars[i].Date), "bars out of order at %d", i)
	}
	assert.Equal(t, "20250613", bars[len(bars)-1].Date.Format("20060102"))
	assert.Equal(t, 105.0, bars[0].Close)
}

func TestHistory_EmptyPayload(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"rt_cd":"0","output2":[{}]}`)
	})

	bars, err := c.History(context.Background(), "005930", 120)
	require.NoError(t, err)
	assert.Empty(t, bars)
}

func TestRanking(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("tr_id") {
		case trVolumeRank:
			writeJSON(w, http.StatusOK, `{"rt_cd":"0","output":[{"mksc_shrn_iscd":"005930","hts_kor_isnm":"A","stck_prpr":"70000","prdy_ctrt":"1.5","acml_vol":"900000"},{"hts_kor_isnm":"no code"}]}`)
		case trFluctuation:
			assert.Equal(t, "20170", r.URL.Query().Get("fid_cond_scr_div_code"))
			writeJSON(w, http.StatusOK, `{"rt_cd":"0","output":[{"stck_shrn_iscd":"035720","hts_kor_isnm":"B","stck_prpr":"50000","prdy_ctrt":"12.1","acml_vol":"300000"}]}`)
		default:
			t.Errorf("unexpected tr_id %q", r.Header.Get("tr_id"))
		}
	})

	vol, err := c.Ranking(context.Background(), model.RankVolume)
	require.NoError(t, err)
	require.Len(t, vol, 1)
	assert.Equal(t, "005930", vol[0].Code)

	chg, err := c.Ranking(context.Background(), model.RankChange)
	require.NoError(t, err)
	require.Len(t, chg, 1)
	assert.Equal(t, model.Quote{Code: "035720", Name: "B", Price: 50000, ChangeRate: 12.1, Volume: 300000}, chg[0])
}

func TestInvestorFlow_SumsTrailingDays(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var rows []string
		for i := 0; i < 7; i++ {
			rows = append(rows, fmt.Sprintf(`{"frgn_ntby_qty":"%d","orgn_ntby_qty":"-1"}`, 10*(i+1)))
		}
		writeJSON(w, http.StatusOK, `{"rt_cd":"0","output":[`+strings.Join(rows, ",")+`]}`)
	})

	flow, err := c.InvestorFlow(context.Background(), "005930", 5)
	require.NoError(t, err)
	assert.True(t, flow.Known)
	assert.Equal(t, 5, flow.Days)
	assert.Equal(t, 150.0, flow.ForeignNet)
	assert.Equal(t, -5.0, flow.InstitutionNet)
	assert.Equal(t, 145.0, flow.SmartMoney())
}

func TestPlaceOrder_PaperBuyIsSentOnce(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "VTTC0802U", r.Header.Get("tr_id"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]string{
			"CANO": "50012345", "ACNT_PRDT_CD": "01", "PDNO": "005930",
			"ORD_DVSN": "01", "ORD_QTY": "7", "ORD_UNPR": "0",
		}, body)
		writeJSON(w, http.StatusServiceUnavailable, `{}`)
	})

	_, err := c.PlaceOrder(context.Background(), model.Order{Side: model.Buy, Code: "005930", Quantity: 7})
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, int32(1), hits.Load())
}

func TestPlaceOrder_Sell(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "VTTC0801U", r.Header.Get("tr_id"))
		writeJSON(w, http.StatusOK, `{"rt_cd":"0","output":{"ODNO":"0000117057"}}`)
	})

	res, err := c.PlaceOrder(context.Background(), model.Order{Side: model.Sell, Code: "005930", Quantity: 3})
	require.NoError(t, err)
	assert.Equal(t, "0000117057", res.OrderNo)
	assert.Equal(t, int64(3), res.Quantity)
}

func TestBalance(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "VTTC8434R", r.Header.Get("tr_id"))
		assert.Equal(t, "50012345", r.URL.Query().Get("CANO"))
		writeJSON(w, http.StatusOK, `{"rt_cd":"0","output1":[],"output2":[{"dnca_tot_amt":"10000000","prvs_rcdl_excc_amt":"9500000","nass_amt":"10200000","tot_evlu_amt":"10300000"}]}`)
	})

	bal, err := c.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.AccountBalance{Cash: 9500000, NetAsset: 10200000, TotalEval: 10300000}, bal)
}

func TestTokenIssuer(t *testing.T) {
	t.Parallel()

	var rateLimited atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathToken, r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "client_credentials", body["grant_type"])
		if rateLimited.Load() {
			writeJSON(w, http.StatusForbidden, `{"error_description":"접근토큰 발급 잠시 후 다시 시도하세요(1분당 1회)","error_code":"EGW00133"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"access_token":"abc","token_type":"Bearer","expires_in":86400}`)
	}))
	t.Cleanup(srv.Close)

	issuer := NewTokenIssuer(Config{BaseURL: srv.URL, AppKey: "k", AppSecret: "s"})
	now := time.Date(2025, 6, 13, 8, 0, 0, 0, KST)
	issuer.now = func() time.Time { return now }

	cred, err := issuer.Issue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", cred.Token)
	assert.Equal(t, now.Add(24*time.Hour), cred.ExpiresAt)

	rateLimited.Store(true)
	_, err = issuer.Issue(context.Background())
	assert.ErrorIs(t, err, auth.ErrRateLimited)
}
