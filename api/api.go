// Package api implements the HTTP surface named interface of spec.md §6:
// the client/blockchain/coin/node endpoints the rest of the node treats as
// an external collaborator. Routing is done with
// github.com/julienschmidt/httprouter, matching the teacher's transport
// dependency stack (networks/rpc carries the same router in its go.mod),
// wrapped in github.com/rs/cors for permissive browser-wallet access.
// Errors surface uniformly as HTTP 400 {"detail": "..."} (spec.md §6, and
// original_source/src/error.rs's api_check! macro, reproduced here as the
// apiCheck helper).
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/hashicorp/go-uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/uqoin-network/uqoin-node/appdata"
	"github.com/uqoin-network/uqoin-node/chain"
	"github.com/uqoin-network/uqoin-node/common"
	"github.com/uqoin-network/uqoin-node/internal/errs"
	internallog "github.com/uqoin-network/uqoin-node/internal/log"
	"github.com/uqoin-network/uqoin-node/validate"
)

var logger = internallog.NewModuleLogger(internallog.API)

// FreeSplit is always true: Split transactions are exempt from the
// configured minimum fee, a fixed rule rather than an operator-tunable
// setting (chain.Split's doc comment). Reported verbatim by GET /node/info.
const FreeSplit = true

// Server wires the HTTP surface to a live AppData.
type Server struct {
	app     *appdata.AppData
	version string
}

func New(app *appdata.AppData, version string) *Server {
	return &Server{app: app, version: version}
}

// Handler builds the routed, CORS-wrapped http.Handler. Grounded on the
// teacher's pattern of assembling one handler per subsystem at startup and
// handing it to the HTTP listener (node/service.go's service registration),
// generalized from JSON-RPC dispatch to a plain REST surface.
func (s *Server) Handler() http.Handler {
	r := httprouter.New()

	r.GET("/version", s.handleVersion)

	r.GET("/blockchain/block-info", s.handleBlockInfo)
	r.GET("/blockchain/block-data", s.handleBlockData)
	r.GET("/blockchain/block-many", s.handleBlockMany)
	r.GET("/blockchain/block-raw", s.handleBlockRaw)
	r.GET("/blockchain/transaction-raw", s.handleTransactionRaw)
	r.GET("/blockchain/transaction", s.handleTransaction)

	r.GET("/client/coins", s.handleClientCoins)
	r.GET("/client/coins/hash", s.handleClientCoinsHash)
	r.POST("/client/send", s.handleClientSend)

	r.GET("/coin/info", s.handleCoinInfo)
	r.GET("/coin/owner", s.handleCoinOwner)

	r.GET("/node/list", s.handleNodeList)
	r.GET("/node/info", s.handleNodeInfo)

	r.GET("/validator/list", s.handleValidatorList)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	})
	return c.Handler(withRequestID(r))
}

// withRequestID tags every request with a UUID for log correlation, the
// same ambient request-tracing concern the teacher's RPC layer covers with
// a per-call id (networks/rpc/json.go's request id field), generalized
// here to the REST transport.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.GenerateUUID()
		if err != nil {
			id = "unknown"
		}
		w.Header().Set("X-Request-Id", id)
		logger.Debug("request", "id", id, "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// apiCheck reproduces original_source/src/error.rs's api_check! macro: if
// cond is false, the caller's request is rejected with a short client-input
// tag (spec.md §6/§7: "Syncing", "LiteMode", "Fee", or a validator message).
func apiCheck(cond bool, tag string) error {
	if cond {
		return nil
	}
	return errs.ClientInput(tag)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "err", err)
	}
}

// writeErr always answers with HTTP 400 {detail: "..."} per spec.md §6,
// using a Tagged error's short Tag when present and the plain error message
// otherwise.
func writeErr(w http.ResponseWriter, err error) {
	detail := err.Error()
	if tagged, ok := err.(*errs.Tagged); ok && tagged.Tag != "" {
		detail = tagged.Tag
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

func queryU256(r *http.Request, name string) common.U256 {
	return common.FromHex(r.URL.Query().Get(name))
}

func queryUint64(r *http.Request, name string) (uint64, bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, false, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false, errs.ClientInput("BadParam")
	}
	return n, true, nil
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, map[string]string{"version": s.version})
}

func (s *Server) handleBlockInfo(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	bix, present, err := queryUint64(r, "bix")
	if err != nil {
		writeErr(w, err)
		return
	}
	if !present {
		writeJSON(w, s.app.Blockchain.LastBlockInfo())
		return
	}
	if bix == 0 {
		writeJSON(w, chain.Genesis())
		return
	}
	s.app.BlockchainMu.RLock()
	info, err := s.app.Blockchain.GetBlockInfo(bix)
	s.app.BlockchainMu.RUnlock()
	if err != nil {
		writeErr(w, errs.ClientInput("BixUnknown"))
		return
	}
	writeJSON(w, info)
}

func (s *Server) handleBlockData(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	bix, present, err := queryUint64(r, "bix")
	if err != nil {
		writeErr(w, err)
		return
	}
	if !present {
		bix = s.app.Blockchain.LastBlockInfo().Bix
	}
	// Boundary behavior (spec.md §8): bix=0 is the virtual genesis block and
	// has no block data to return.
	if err := apiCheck(bix != 0, "GenesisHasNoBlockData"); err != nil {
		writeErr(w, err)
		return
	}
	s.app.BlockchainMu.RLock()
	data, err := s.app.Blockchain.GetBlockData(bix)
	s.app.BlockchainMu.RUnlock()
	if err != nil {
		writeErr(w, errs.ClientInput("BixUnknown"))
		return
	}
	writeJSON(w, data)
}

func (s *Server) handleBlockMany(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	bix, _, err := queryUint64(r, "bix")
	if err != nil {
		writeErr(w, err)
		return
	}
	count, _, err := queryUint64(r, "count")
	if err != nil {
		writeErr(w, err)
		return
	}

	s.app.BlockchainMu.RLock()
	head := s.app.Blockchain.LastBlockInfo().Bix
	s.app.BlockchainMu.RUnlock()

	// spec.md §6: "server caps count at node_sync_block_count and at
	// head - bix + 1".
	cap1 := uint64(s.app.Config.NodeSyncBlockCount)
	if count == 0 || count > cap1 {
		count = cap1
	}
	if bix > head {
		writeJSON(w, []chain.BlockData{})
		return
	}
	if remaining := head - bix + 1; count > remaining {
		count = remaining
	}

	s.app.BlockchainMu.RLock()
	batch, err := s.app.Blockchain.GetBlockMany(bix, int(count))
	s.app.BlockchainMu.RUnlock()
	if err != nil {
		writeErr(w, errs.ClientInput("BixUnknown"))
		return
	}
	writeJSON(w, batch)
}

func (s *Server) handleBlockRaw(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	offset, _, errO := queryUint64(r, "offset")
	count, _, errC := queryUint64(r, "count")
	if errO != nil || errC != nil {
		writeErr(w, errs.ClientInput("BadParam"))
		return
	}
	s.app.BlockchainMu.RLock()
	defer s.app.BlockchainMu.RUnlock()
	if !s.app.Blockchain.Contains(offset, count) {
		writeErr(w, errs.ClientInput("RangeOutOfBounds"))
		return
	}
	raw, err := s.app.Blockchain.GetBlockRaw(offset, count)
	if err != nil {
		writeErr(w, errs.ClientInput("RangeOutOfBounds"))
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(raw)
}

func (s *Server) handleTransactionRaw(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	offset, _, errO := queryUint64(r, "offset")
	count, _, errC := queryUint64(r, "count")
	if errO != nil || errC != nil {
		writeErr(w, errs.ClientInput("BadParam"))
		return
	}
	s.app.BlockchainMu.RLock()
	defer s.app.BlockchainMu.RUnlock()
	if !s.app.Blockchain.ContainsTransaction(offset, count) {
		writeErr(w, errs.ClientInput("RangeOutOfBounds"))
		return
	}
	raw, err := s.app.Blockchain.GetTransactionRaw(offset, count)
	if err != nil {
		writeErr(w, errs.ClientInput("RangeOutOfBounds"))
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(raw)
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	tix, present, err := queryUint64(r, "tix")
	if err != nil || !present {
		writeErr(w, errs.ClientInput("BadParam"))
		return
	}
	s.app.BlockchainMu.RLock()
	tx, err := s.app.Blockchain.GetTransaction(tix)
	s.app.BlockchainMu.RUnlock()
	if err != nil {
		writeErr(w, errs.ClientInput("TixUnknown"))
		return
	}
	writeJSON(w, tx)
}

func (s *Server) handleClientCoins(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := apiCheck(!s.app.IsSyncing(), "Syncing"); err != nil {
		writeErr(w, err)
		return
	}
	wallet := queryU256(r, "wallet")
	order, hasOrder, err := queryUint64(r, "order")
	if err != nil {
		writeErr(w, err)
		return
	}

	s.app.StateMu.RLock()
	byOrder := s.app.State.GetCoins(wallet)
	s.app.StateMu.RUnlock()

	if hasOrder {
		writeJSON(w, byOrder[order])
		return
	}
	if byOrder == nil {
		byOrder = map[uint64][]common.U256{}
	}
	writeJSON(w, byOrder)
}

func (s *Server) handleClientCoinsHash(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := apiCheck(!s.app.IsSyncing(), "Syncing"); err != nil {
		writeErr(w, err)
		return
	}
	wallet := queryU256(r, "wallet")
	order, hasOrder, err := queryUint64(r, "order")
	if err != nil {
		writeErr(w, err)
		return
	}

	s.app.StateMu.RLock()
	defer s.app.StateMu.RUnlock()

	if hasOrder {
		hash, _ := s.app.State.CalcCoinsHash(wallet, order)
		writeJSON(w, hash)
		return
	}
	byOrder := s.app.State.GetCoins(wallet)
	out := make(map[uint64]common.U256, len(byOrder))
	for ord := range byOrder {
		hash, ok := s.app.State.CalcCoinsHash(wallet, ord)
		if ok {
			out[ord] = hash
		}
	}
	writeJSON(w, out)
}

func (s *Server) handleClientSend(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := apiCheck(!s.app.IsSyncing(), "Syncing"); err != nil {
		writeErr(w, err)
		return
	}

	var txs []chain.Transaction
	if err := json.NewDecoder(r.Body).Decode(&txs); err != nil {
		writeErr(w, errs.ClientInput("BadBody"))
		return
	}

	senders, err := chain.CalcSenders(s.app.Schema, txs)
	if err != nil {
		writeErr(w, errs.ClientInput("BadSignature"))
		return
	}
	group, err := chain.NewGroup(txs, senders)
	if err != nil {
		writeErr(w, errs.ClientInput("GroupShape"))
		return
	}

	if err := apiCheck(!s.app.Config.PrivateKey.IsZero(), "LiteMode"); err != nil {
		writeErr(w, err)
		return
	}

	s.app.StateMu.RLock()
	defer s.app.StateMu.RUnlock()

	if s.app.Config.FeeMin > 0 && group.GetType() != chain.Split {
		fee := group.GetFee()
		if err := apiCheck(fee != nil, "Fee"); err != nil {
			writeErr(w, err)
			return
		}
		info, _ := s.app.State.GetCoinInfo(fee.Coin)
		if err := apiCheck(info.Order >= s.app.Config.FeeMin, "Fee"); err != nil {
			writeErr(w, err)
			return
		}
	}

	if err := validate.Group(group, s.app.State); err != nil {
		writeErr(w, errs.ClientInput(err.Error()))
		return
	}

	s.app.PoolMu.Lock()
	s.app.Pool.Add(group, group.Sender())
	s.app.PoolMu.Unlock()

	writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) handleCoinInfo(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	coin := queryU256(r, "coin")
	s.app.StateMu.RLock()
	info, ok := s.app.State.GetCoinInfo(coin)
	s.app.StateMu.RUnlock()
	if !ok {
		writeErr(w, errs.ClientInput("CoinUnknown"))
		return
	}
	writeJSON(w, info)
}

func (s *Server) handleCoinOwner(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	coin := queryU256(r, "coin")
	s.app.StateMu.RLock()
	owner, ok := s.app.State.GetOwner(coin)
	s.app.StateMu.RUnlock()
	if !ok {
		writeErr(w, errs.ClientInput("CoinUnknown"))
		return
	}
	writeJSON(w, map[string]common.U256{"owner": owner})
}

func (s *Server) handleNodeList(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, map[string][]string{"peers": s.app.Peers()})
}

func (s *Server) handleNodeInfo(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var wallet common.U256
	liteMode := s.app.Config.PrivateKey.IsZero()
	if !liteMode {
		wallet = s.app.Schema.PublicKey(s.app.Config.PrivateKey)
	}
	writeJSON(w, map[string]interface{}{
		"wallet":     wallet,
		"fee":        s.app.Config.FeeMin,
		"free_split": FreeSplit,
		"lite_mode":  liteMode,
	})
}

func (s *Server) handleValidatorList(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, map[string][]common.U256{"validators": s.app.Validators()})
}
