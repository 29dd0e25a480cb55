// Package accounting serves the chart of accounts and the general ledger.
package accounting

import (
	"net/http"

	"millops/internal/audit"
	"millops/internal/database"
	"millops/internal/handlers/common"
	"millops/internal/ledger"
	"millops/internal/response"
)

type Handler struct {
	common.Base
}

// ListAccounts returns the chart of accounts. ?all=true includes inactive
// accounts.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	items, err := ledger.ListAccounts(r.Context(), h.DB, r.URL.Query().Get("all") == "true")
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, items)
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var in ledger.AccountInput
	if !common.Decode(w, r, &in) {
		return
	}
	a, err := ledger.CreateAccount(r.Context(), h.DB, in)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionCreate, "accounts", a.Code, "Created account "+a.Code+" "+a.Name)
	response.Created(w, a)
}

func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	code := common.Param(r, "code")
	var in ledger.AccountInput
	if !common.Decode(w, r, &in) {
		return
	}
	a, err := ledger.UpdateAccount(r.Context(), h.DB, code, in)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionUpdate, "accounts", code, "Updated account "+code)
	response.JSON(w, a)
}

// ListEntries returns journal entries filtered by ?from, ?to, ?account,
// ?source and ?source_id, paged.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, limit, offset := response.Paging(r, 50, 500)
	items, total, err := ledger.ListEntries(r.Context(), h.DB, ledger.EntryFilter{
		From: q.Get("from"), To: q.Get("to"), AccountCode: q.Get("account"),
		SourceModule: q.Get("source"), SourceID: q.Get("source_id"),
		Limit: limit, Offset: offset,
	})
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSONMeta(w, items, total, page, limit)
}

func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	e, err := ledger.GetEntry(r.Context(), h.DB, common.Param(r, "id"))
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, e)
}

// PostEntry posts a manual journal entry.
func (h *Handler) PostEntry(w http.ResponseWriter, r *http.Request) {
	var e ledger.Entry
	if !common.Decode(w, r, &e) {
		return
	}
	e.SourceModule = ledger.SourceManual
	e.SourceID = ""
	e.PostedBy = common.Identity(r).Username
	if e.Date == "" {
		e.Date = database.Today()
	}
	posted, err := ledger.PostEntry(r.Context(), h.DB, e)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionPost, "journal", posted.ID, "Posted manual entry: "+posted.Memo)
	response.Created(w, posted)
}

type reverseRequest struct {
	Date string `json:"date"`
	Memo string `json:"memo"`
}

// ReverseEntry posts the mirror image of an entry.
func (h *Handler) ReverseEntry(w http.ResponseWriter, r *http.Request) {
	id := common.Param(r, "id")
	var req reverseRequest
	if r.ContentLength != 0 && !common.Decode(w, r, &req) {
		return
	}
	if req.Date == "" {
		req.Date = database.Today()
	}
	rev, err := ledger.Reverse(r.Context(), h.DB, id, common.Identity(r).Username, req.Date, req.Memo)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionReverse, "journal", id, "Reversed by "+rev.ID)
	response.Created(w, rev)
}

// TrialBalance returns balances as of ?as_of (default today).
func (h *Handler) TrialBalance(w http.ResponseWriter, r *http.Request) {
	asOf, ok := common.Date(w, r, "as_of", database.Today())
	if !ok {
		return
	}
	tb, err := ledger.TrialBalance(r.Context(), h.DB, asOf)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, tb)
}

// AccountLedger returns one account's lines between ?from and ?to with
// running balances, optionally for one ?party.
func (h *Handler) AccountLedger(w http.ResponseWriter, r *http.Request) {
	from, ok := common.Date(w, r, "from", "")
	if !ok {
		return
	}
	to, ok := common.Date(w, r, "to", "")
	if !ok {
		return
	}
	l, err := ledger.AccountLedger(r.Context(), h.DB, common.Param(r, "code"), from, to, r.URL.Query().Get("party"))
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, l)
}

// AccountBalance returns one account's balance as of ?as_of.
func (h *Handler) AccountBalance(w http.ResponseWriter, r *http.Request) {
	code := common.Param(r, "code")
	asOf, ok := common.Date(w, r, "as_of", database.Today())
	if !ok {
		return
	}
	if _, err := ledger.GetAccount(r.Context(), h.DB, code); err != nil {
		response.Fail(w, r, err)
		return
	}
	bal, err := ledger.AccountBalance(r.Context(), h.DB, code, asOf)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, map[string]string{"code": code, "as_of": asOf, "balance": bal.StringFixed(2)})
}
