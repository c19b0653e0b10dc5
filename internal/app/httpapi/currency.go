package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/Centace/centace/internal/httputil"
)

func (h *handler) currencyRates(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.app.Currency.Rates(r.Context()))
}

func (h *handler) currencyConvert(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amount, err := strconv.ParseFloat(strings.TrimSpace(q.Get("amount")), 64)
	if err != nil {
		httputil.BadRequest(w, "amount must be a number")
		return
	}
	from := q.Get("from")
	if from == "" {
		from = h.app.Currency.Base()
	}
	to := q.Get("to")
	if to == "" {
		httputil.BadRequest(w, "to is required")
		return
	}

	conv, err := h.app.Currency.Convert(r.Context(), amount, from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, conv)
}
