package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uqoin-network/uqoin-node/appdata"
	"github.com/uqoin-network/uqoin-node/chain"
	"github.com/uqoin-network/uqoin-node/common"
	"github.com/uqoin-network/uqoin-node/config"
)

// mintCoin grants wallet ownership of a brand-new order-0 coin by rolling
// up a synthetic Fee transaction directly on the state, bypassing block
// assembly and signature checks (Fee's forward application sets ownership
// to the block's miner regardless of who signed it).
func mintCoin(a *appdata.AppData, wallet, coin common.U256) {
	block := chain.Block{Miner: wallet, Hash: common.FromHex("11")}
	tx := chain.Transaction{Type: chain.Fee, Coin: coin}
	bix := a.State.GetLastBlockInfo().Bix + 1
	a.State.RollUp(bix, block, []chain.Transaction{tx}, []common.U256{common.Zero})
}

func newTestServer(t *testing.T, cfg config.Config) (*Server, *appdata.AppData) {
	t.Helper()
	if cfg.DataPath == "" {
		cfg.DataPath = t.TempDir()
	}
	a, err := appdata.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return New(a, "test"), a
}

func TestHandleVersion(t *testing.T) {
	s, _ := newTestServer(t, config.Config{})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "test", body["version"])
}

func TestHandleBlockInfoGenesis(t *testing.T) {
	s, _ := newTestServer(t, config.Config{})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/blockchain/block-info", nil)
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	var info chain.BlockInfo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &info))
	assert.Equal(t, chain.Genesis(), info)
}

func TestHandleClientSendRejectsSyncing(t *testing.T) {
	priv := common.FromHex("07")
	s, a := newTestServer(t, config.Config{PrivateKey: priv})
	a.SetSyncing(true)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/client/send", bytes.NewReader([]byte("[]")))
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "Syncing")
}

func TestHandleClientSendRejectsLiteMode(t *testing.T) {
	s, a := newTestServer(t, config.Config{})
	wallet := a.Schema.PublicKey(common.FromHex("09"))
	coin := common.FromHex("c01")
	mintCoin(a, wallet, coin)

	tx := chain.Transaction{Type: chain.Transfer, Coin: coin, To: common.FromHex("02")}
	tx.Sig = a.Schema.Sign(common.FromHex("09"), tx.Hash(a.Schema))
	body, _ := json.Marshal([]chain.Transaction{tx})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/client/send", bytes.NewReader(body))
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "LiteMode")
}

func TestHandleClientSendAdmitsValidTransfer(t *testing.T) {
	minerPriv := common.FromHex("07")
	s, a := newTestServer(t, config.Config{PrivateKey: minerPriv})

	senderPriv := common.FromHex("09")
	wallet := a.Schema.PublicKey(senderPriv)
	coin := common.FromHex("c01")
	mintCoin(a, wallet, coin)

	to := common.FromHex("dead")
	tx := chain.Transaction{Type: chain.Transfer, Coin: coin, To: to}
	tx.Sig = a.Schema.Sign(senderPriv, tx.Hash(a.Schema))
	body, _ := json.Marshal([]chain.Transaction{tx})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/client/send", bytes.NewReader(body))
	s.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, 1, a.Pool.Len())
}

func TestHandleClientCoinsAndOwner(t *testing.T) {
	s, a := newTestServer(t, config.Config{})
	wallet := a.Schema.PublicKey(common.FromHex("09"))
	coin := common.FromHex("c02")
	mintCoin(a, wallet, coin)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/client/coins?wallet="+wallet.Hex(), nil)
	s.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	var byOrder map[string][]common.U256
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &byOrder))
	assert.Contains(t, byOrder["0"], coin)

	rr2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/coin/owner?coin="+coin.Hex(), nil)
	s.Handler().ServeHTTP(rr2, req2)
	require.Equal(t, http.StatusOK, rr2.Code)
	var ownerResp map[string]common.U256
	require.NoError(t, json.Unmarshal(rr2.Body.Bytes(), &ownerResp))
	assert.Equal(t, wallet, ownerResp["owner"])
}

func TestHandleCoinOwnerUnknown(t *testing.T) {
	s, _ := newTestServer(t, config.Config{})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/coin/owner?coin=ff", nil)
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "CoinUnknown")
}

func TestHandleNodeInfoLiteMode(t *testing.T) {
	s, _ := newTestServer(t, config.Config{FeeMin: 3})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/node/info", nil)
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, true, body["lite_mode"])
	assert.Equal(t, true, body["free_split"])
	assert.Equal(t, float64(3), body["fee"])
}
