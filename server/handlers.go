package server

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ochenane/simple-auction/auction"
	"github.com/ochenane/simple-auction/auctionerrors"
	"github.com/ochenane/simple-auction/logger"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

type handler struct {
	coord *auction.Coordinator
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	status, err := h.coord.Status(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"endTime":    status.EndTime,
		"ended":      status.Ended,
		"highestBid": status.HighestBid,
	})
}

func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	history, err := h.coord.History(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if history == nil {
		history = []auction.BidInfo{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"history": history,
	})
}

func (h *handler) prepareBid(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var body struct {
		Value string `json:"value"` // wei, decimal string
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid input")
		return
	}
	amount, valid := new(big.Int).SetString(body.Value, 10)
	if !valid {
		writeError(w, http.StatusBadRequest, "value should be a decimal wei amount")
		return
	}

	tx, err := h.coord.PrepareBid(r.Context(), id, amount)
	if err != nil {
		respondError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"tx":      tx,
	})
}

func (h *handler) submitBid(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	claims, ok := claimsFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Missing credentials")
		return
	}

	var body struct {
		Tx string `json:"tx"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Tx == "" {
		writeError(w, http.StatusBadRequest, "Invalid input")
		return
	}

	bid, err := h.coord.SubmitBid(r.Context(), id, claims.UserID, body.Tx)
	if err != nil {
		respondError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"bidId":   bid.ID,
	})
}

func (h *handler) prepareWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	bidID, ok := pathID(w, r, "bidId")
	if !ok {
		return
	}

	tx, err := h.coord.PrepareWithdrawal(r.Context(), id, bidID)
	if err != nil {
		respondError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"tx":      tx,
	})
}

func (h *handler) submitWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	bidID, ok := pathID(w, r, "bidId")
	if !ok {
		return
	}
	claims, ok := claimsFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Missing credentials")
		return
	}

	var body struct {
		Tx string `json:"tx"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Tx == "" {
		writeError(w, http.StatusBadRequest, "Invalid input")
		return
	}

	returned, err := h.coord.SubmitWithdrawal(r.Context(), id, bidID, claims.UserID, body.Tx)
	if err != nil {
		respondError(w, err)
		return
	}

	// A false outcome means the contract had nothing to pay back; the
	// mirror is untouched and the caller learns it from the flag.
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": returned,
	})
}

func (h *handler) deploy(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Time int64 `json:"time"` // bidding duration in seconds
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Time <= 0 {
		writeError(w, http.StatusBadRequest, "time should be a positive number of seconds")
		return
	}

	id, err := h.coord.Deploy(r.Context(), time.Duration(body.Time)*time.Second)
	if err != nil {
		respondError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"id":      id,
	})
}

func (h *handler) end(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID uint64 `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ID == 0 {
		writeError(w, http.StatusBadRequest, "id should be a number")
		return
	}

	hash, err := h.coord.End(r.Context(), body.ID)
	if err != nil {
		respondError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"hash":    hash.Hex(),
	})
}

func (h *handler) reconcile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	report, err := h.coord.Reconcile(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"report":  report,
	})
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)[name], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, name+" should be a number")
		return 0, false
	}

	return id, true
}

// respondError maps the error taxonomy onto HTTP statuses, keeping
// ledger-originated failures distinguishable from local rejections.
func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auctionerrors.ErrNotFound):
		writeError(w, http.StatusNotFound, auctionerrors.ErrNotFound.Error())
	case errors.Is(err, auctionerrors.ErrInvalidFormat):
		writeError(w, http.StatusBadRequest, auctionerrors.ErrInvalidFormat.Error())
	case errors.Is(err, auctionerrors.ErrForbidden):
		writeError(w, http.StatusForbidden, auctionerrors.ErrForbidden.Error())
	case errors.Is(err, auctionerrors.ErrAlreadyReturned):
		writeError(w, http.StatusConflict, auctionerrors.ErrAlreadyReturned.Error())
	case errors.Is(err, auctionerrors.ErrValueTooLow):
		writeError(w, http.StatusUnprocessableEntity, auctionerrors.ErrValueTooLow.Error())
	case errors.Is(err, auctionerrors.ErrNotYetEndable):
		writeError(w, http.StatusUnprocessableEntity, auctionerrors.ErrNotYetEndable.Error())
	case errors.Is(err, auctionerrors.ErrAlreadyEnded):
		writeError(w, http.StatusUnprocessableEntity, auctionerrors.ErrAlreadyEnded.Error())
	case errors.Is(err, auctionerrors.ErrReverted):
		writeError(w, http.StatusBadGateway, auctionerrors.ErrReverted.Error())
	case errors.Is(err, auctionerrors.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, auctionerrors.ErrTimeout.Error())
	case errors.Is(err, auctionerrors.ErrUnreachable):
		writeError(w, http.StatusBadGateway, auctionerrors.ErrUnreachable.Error())
	default:
		logger.Error("Unhandled error in request: %s", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"message": message,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response: %s", err)
	}
}
