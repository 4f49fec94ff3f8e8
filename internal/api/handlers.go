package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/utxoledger/indexd/internal/chain"
	"github.com/utxoledger/indexd/pkg/ledger"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeChainError maps an engine error to an HTTP response: validation
// rejections surface as 400 with the error text, store failures as 500.
// A bad block id additionally carries the expected digest, the received
// id, and the hash input for debugging.
func (s *Server) writeChainError(w http.ResponseWriter, err error) {
	var badID *chain.BlockIDError
	if errors.As(err, &badID) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":     badID.Error(),
			"expected":  badID.Expected,
			"received":  badID.Received,
			"hashInput": badID.HashInput,
		})
		return
	}
	if chain.IsValidationError(err) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.logger.Error().Err(err).Msg("store failure")
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal store error"})
}

func (s *Server) handleWelcome(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"welcome": "in blockchain"})
}

func (s *Server) handleSubmitBlock(w http.ResponseWriter, r *http.Request) {
	var blk ledger.Block
	body := http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(body).Decode(&blk); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid block payload: " + err.Error()})
		return
	}

	if err := s.chain.SubmitBlock(&blk); err != nil {
		s.writeChainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "Block accepted",
		"height": blk.Height,
	})
}

func (s *Server) handleListBlocks(w http.ResponseWriter, _ *http.Request) {
	blocks, height := s.chain.ListBlocks()
	if blocks == nil {
		blocks = []chain.BlockSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"blocks":        blocks,
		"count":         len(blocks),
		"currentHeight": height,
	})
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.ParseUint(r.PathValue("height"), 10, 64)
	if err != nil || height < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid height"})
		return
	}
	blk, ok := s.chain.GetBlockByHeight(height)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "block not found"})
		return
	}
	writeJSON(w, http.StatusOK, blk)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	writeJSON(w, http.StatusOK, map[string]any{
		"address": address,
		"balance": s.chain.Balance(address),
	})
}

func (s *Server) handleUTXOs(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	utxos := s.chain.UTXOsByAddress(address)
	if utxos == nil {
		utxos = []chain.AddressUTXO{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": address,
		"utxos":   utxos,
		"count":   len(utxos),
	})
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	loc, err := s.chain.GetTransaction(id)
	if err != nil {
		s.writeChainError(w, err)
		return
	}
	if loc == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "transaction not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transaction": loc.Tx,
		"blockId":     loc.BlockID,
		"height":      loc.Height,
	})
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("height")
	height, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || height < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": chain.ErrInvalidHeightParam.Error(),
		})
		return
	}

	if err := s.chain.Rollback(height); err != nil {
		s.writeChainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "Rollback successful",
		"height": height,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	if err := s.chain.Reset(); err != nil {
		s.writeChainError(w, err)
		return
	}
	blocks, utxos, balances := s.chain.Counts()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "Reset successful",
		"currentHeight": s.chain.Height(),
		"blocksCount":   blocks,
		"utxosCount":    utxos,
		"balancesCount": balances,
	})
}
