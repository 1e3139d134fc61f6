package teller

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type balanceJSONResp struct {
	Balance decimal.Decimal `json:"balance"`
}

// NewHTTPHandler adapts the service to HTTP. The `email` header stands
// in for the transport-layer authentication collaborator: it carries
// the already-verified principal.
func NewHTTPHandler(svc Service, log *zerolog.Logger) http.Handler {
	hndlr := &httpHandler{
		Svc: svc,
		Log: log,
	}
	mux := chi.NewMux()
	mux.NotFound(HTTPNotFound)
	mux.Route("/transactions", func(r chi.Router) {
		r.Post("/deposit", hndlr.Deposit)
		r.Post("/withdraw", hndlr.Withdraw)
		r.Post("/transfer", hndlr.Transfer)
		r.Get("/history", hndlr.History)
	})
	mux.Route("/accounts", func(r chi.Router) {
		r.Get("/balance", hndlr.Balance)
		r.Get("/statement", hndlr.Statement)
	})

	return mux
}

type httpHandler struct {
	Svc Service
	Log *zerolog.Logger
}

func (h *httpHandler) principal(w http.ResponseWriter, r *http.Request, method string) (string, bool) {
	email := r.Header.Get("email")
	if email == "" {
		h.Log.Error().Str("method", method).Msg("missing/invalid email")
		WriteHTTPError(w, ErrBadRequest{Fields: map[string]string{"email": "missing or invalid"}})
		return "", false
	}
	return email, true
}

func (h *httpHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	email, ok := h.principal(w, r, "deposit")
	if !ok {
		return
	}
	buf, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		h.Log.Err(err).Str("method", "deposit").Msg("error reading HTTP request")
		WriteHTTPError(w, ErrInternalServer)
		return
	}
	var req ChargeReq
	if err = json.Unmarshal(buf, &req); err != nil {
		h.Log.Err(err).Str("method", "deposit").Msg("error unmarshalling JSON")
		WriteHTTPError(w, ErrBadRequest{Fields: map[string]string{"request body": "malformed JSON"}})
		return
	}
	req.Principal = email
	txn, err := h.Svc.Deposit(r.Context(), req)
	if err != nil {
		WriteHTTPError(w, err)
		return
	}
	writeJSON(w, txn)
}

func (h *httpHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	email, ok := h.principal(w, r, "withdraw")
	if !ok {
		return
	}
	buf, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		h.Log.Err(err).Str("method", "withdraw").Msg("error reading HTTP request")
		WriteHTTPError(w, ErrInternalServer)
		return
	}
	var req ChargeReq
	if err = json.Unmarshal(buf, &req); err != nil {
		h.Log.Err(err).Str("method", "withdraw").Msg("error unmarshalling JSON")
		WriteHTTPError(w, ErrBadRequest{Fields: map[string]string{"request body": "malformed JSON"}})
		return
	}
	req.Principal = email
	txn, err := h.Svc.Withdraw(r.Context(), req)
	if err != nil {
		WriteHTTPError(w, err)
		return
	}
	writeJSON(w, txn)
}

func (h *httpHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	email, ok := h.principal(w, r, "transfer")
	if !ok {
		return
	}
	buf, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		h.Log.Err(err).Str("method", "transfer").Msg("error reading HTTP request")
		WriteHTTPError(w, ErrInternalServer)
		return
	}
	var req TransferReq
	if err = json.Unmarshal(buf, &req); err != nil {
		h.Log.Err(err).Str("method", "transfer").Msg("error unmarshalling JSON")
		WriteHTTPError(w, ErrBadRequest{Fields: map[string]string{"request body": "malformed JSON"}})
		return
	}
	req.Principal = email
	req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	txn, err := h.Svc.Transfer(r.Context(), req)
	if err != nil {
		WriteHTTPError(w, err)
		return
	}
	writeJSON(w, txn)
}

func (h *httpHandler) History(w http.ResponseWriter, r *http.Request) {
	email, ok := h.principal(w, r, "history")
	if !ok {
		return
	}
	req := HistoryReq{Principal: email}
	if p := r.URL.Query().Get("page"); p != "" {
		page, err := strconv.Atoi(p)
		if err != nil {
			WriteHTTPError(w, ErrBadRequest{Fields: map[string]string{"page": "invalid format"}})
			return
		}
		req.Page = page
	}
	if s := r.URL.Query().Get("size"); s != "" {
		size, err := strconv.Atoi(s)
		if err != nil {
			WriteHTTPError(w, ErrBadRequest{Fields: map[string]string{"size": "invalid format"}})
			return
		}
		req.PageSize = size
	}
	page, err := h.Svc.History(r.Context(), req)
	if err != nil {
		WriteHTTPError(w, err)
		return
	}
	writeJSON(w, page)
}

func (h *httpHandler) Balance(w http.ResponseWriter, r *http.Request) {
	email, ok := h.principal(w, r, "balance")
	if !ok {
		return
	}
	bal, err := h.Svc.Balance(r.Context(), BalanceReq{Principal: email})
	if err != nil {
		WriteHTTPError(w, err)
		return
	}
	writeJSON(w, balanceJSONResp{Balance: *bal})
}

func (h *httpHandler) Statement(w http.ResponseWriter, r *http.Request) {
	email, ok := h.principal(w, r, "statement")
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := h.Svc.Statement(r.Context(), &buf, StatementReq{Principal: email}); err != nil {
		WriteHTTPError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	if _, err := io.Copy(w, &buf); err != nil {
		h.Log.Err(err).Str("method", "statement").Msg("error writing PDF response")
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		WriteHTTPError(w, err)
	}
}

func WriteHTTPError(w http.ResponseWriter, err error) {
	var ne error
	defer func() {
		if ne != nil {
			log.Error().
				Err(ne).
				Msg("error response encoding failed")
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	errnf := &ErrNotFound{}
	errbr := &ErrBadRequest{}
	errif := &ErrInsufficientFunds{}
	errfb := &ErrForbidden{}
	if errors.As(err, errnf) {
		w.WriteHeader(http.StatusNotFound)
		ne = json.NewEncoder(w).Encode(errnf)
	} else if errors.As(err, errbr) {
		w.WriteHeader(http.StatusBadRequest)
		ne = json.NewEncoder(w).Encode(errbr)
	} else if errors.As(err, errfb) {
		w.WriteHeader(http.StatusForbidden)
		ne = json.NewEncoder(w).Encode(errfb)
	} else if errors.As(err, errif) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		ne = json.NewEncoder(w).Encode(errif)
	} else {
		w.WriteHeader(http.StatusInternalServerError)
		resp := map[string]string{
			"message": "server error",
		}
		ne = json.NewEncoder(w).Encode(resp)
	}
}

func HTTPNotFound(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNotFound)
	w.Header().Set("Content-Type", "application/json")
	resp := map[string]string{
		"path": r.URL.Path,
	}
	json.NewEncoder(w).Encode(resp)
}
