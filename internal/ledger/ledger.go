// Package ledger implements double-entry bookkeeping: a chart of accounts,
// journal entries made of debit and credit lines, and the reports derived
// from them. Every posting path in millops goes through Post so that the
// balancing rules hold for purchases, invoices and fleet costs alike.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"millops/internal/apperr"
	"millops/internal/database"
	"millops/internal/models"
	"millops/internal/validation"
)

// Default chart of accounts.
const (
	AccountCash               = "1000"
	AccountBank               = "1010"
	AccountReceivable         = "1100"
	AccountInventory          = "1200"
	AccountVATReceivable      = "1300"
	AccountPayable            = "2000"
	AccountVATPayable         = "2100"
	AccountEquity             = "3000"
	AccountSales              = "4000"
	AccountFreightIncome      = "4100"
	AccountCOGS               = "5000"
	AccountPurchasesExpense   = "5100"
	AccountFuel               = "5200"
	AccountVehicleMaintenance = "5300"
)

// SourceManual marks entries keyed in through the journal API.
const SourceManual = "manual"

var (
	ErrUnbalanced      = apperr.New(apperr.ErrInvalid, "journal entry does not balance")
	ErrAlreadyReversed = apperr.New(apperr.ErrConflict, "journal entry has already been reversed")
	ErrReversalEntry   = apperr.New(apperr.ErrConflict, "a reversing entry cannot itself be reversed")
	ErrNotManual       = apperr.New(apperr.ErrConflict, "entry was posted by another module; void the source document instead")
	ErrAccountInUse    = apperr.New(apperr.ErrConflict, "account has a non-zero balance")
)

// Line is one side of a journal entry. Exactly one of Debit and Credit is
// positive.
type Line struct {
	AccountCode string          `json:"account_code"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	PartyID     string          `json:"party_id"`
	Description string          `json:"description"`
}

// Entry is a journal entry ready to post.
type Entry struct {
	Date         string `json:"entry_date"`
	Memo         string `json:"memo"`
	SourceModule string `json:"source_module"`
	SourceID     string `json:"source_id"`
	PostedBy     string `json:"-"`
	ReversalOf   string `json:"-"`
	Lines        []Line `json:"lines"`
}

// Debit is shorthand for a debit line.
func Debit(account string, amount decimal.Decimal, party, desc string) Line {
	return Line{AccountCode: account, Debit: amount, Credit: decimal.Zero, PartyID: party, Description: desc}
}

// Credit is shorthand for a credit line.
func Credit(account string, amount decimal.Decimal, party, desc string) Line {
	return Line{AccountCode: account, Debit: decimal.Zero, Credit: amount, PartyID: party, Description: desc}
}

// Validate checks the structural rules of an entry without touching the
// database: a valid date, at least two lines, each line one-sided with a
// positive two-place amount, and debits equal to credits.
func Validate(e Entry) error {
	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "entry_date", e.Date)
	validation.ValidateDate(ve, "entry_date", e.Date)
	validation.ValidateMaxLength(ve, "memo", e.Memo, 500)
	if len(e.Lines) < 2 {
		ve.Add("lines", "at least two lines are required")
	}

	totalDebit, totalCredit := decimal.Zero, decimal.Zero
	for i, l := range e.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		if strings.TrimSpace(l.AccountCode) == "" {
			ve.Add(field+".account_code", "is required")
		}
		if l.Debit.IsNegative() || l.Credit.IsNegative() {
			ve.Add(field, "amounts must be non-negative")
			continue
		}
		if l.Debit.IsPositive() == l.Credit.IsPositive() {
			ve.Add(field, "exactly one of debit or credit must be set")
			continue
		}
		validation.ValidateAmount(ve, field+".debit", l.Debit)
		validation.ValidateAmount(ve, field+".credit", l.Credit)
		totalDebit = totalDebit.Add(l.Debit)
		totalCredit = totalCredit.Add(l.Credit)
	}
	if ve.HasErrors() {
		return ve
	}
	if !totalDebit.Equal(totalCredit) || !totalDebit.IsPositive() {
		return fmt.Errorf("%w: debits %s, credits %s", ErrUnbalanced, totalDebit.StringFixed(2), totalCredit.StringFixed(2))
	}
	return nil
}

// Post validates e and writes it through q, returning the new entry id.
// Callers that post alongside other writes pass their transaction so the
// whole operation commits or rolls back together.
func Post(ctx context.Context, q database.DBTX, e Entry) (string, error) {
	if e.SourceModule == "" {
		e.SourceModule = SourceManual
	}
	if e.PostedBy == "" {
		e.PostedBy = "system"
	}
	if err := Validate(e); err != nil {
		return "", err
	}

	seen := map[string]bool{}
	ve := &validation.ValidationErrors{}
	for i, l := range e.Lines {
		if seen[l.AccountCode] {
			continue
		}
		seen[l.AccountCode] = true
		var active int
		err := q.QueryRowContext(ctx, "SELECT active FROM accounts WHERE code = ?", l.AccountCode).Scan(&active)
		if errors.Is(err, sql.ErrNoRows) {
			ve.Add(fmt.Sprintf("lines[%d].account_code", i), "unknown account "+l.AccountCode)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("look up account %s: %w", l.AccountCode, err)
		}
		if active == 0 {
			ve.Add(fmt.Sprintf("lines[%d].account_code", i), "account "+l.AccountCode+" is inactive")
		}
	}
	if ve.HasErrors() {
		return "", ve
	}

	id, err := database.NextID(ctx, q, "JE", 5)
	if err != nil {
		return "", err
	}
	var reversalOf any
	if e.ReversalOf != "" {
		reversalOf = e.ReversalOf
	}
	_, err = q.ExecContext(ctx, `INSERT INTO journal_entries (id, entry_date, memo, source_module, source_id, posted_by, reversal_of, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, e.Date, e.Memo, e.SourceModule, e.SourceID, e.PostedBy, reversalOf, database.Now())
	if err != nil {
		return "", fmt.Errorf("insert journal entry: %w", err)
	}
	for _, l := range e.Lines {
		_, err := q.ExecContext(ctx, `INSERT INTO transaction_lines (entry_id, account_code, debit, credit, party_id, description)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, l.AccountCode, l.Debit.String(), l.Credit.String(), l.PartyID, l.Description)
		if err != nil {
			return "", fmt.Errorf("insert transaction line: %w", err)
		}
	}
	return id, nil
}

// PostEntry posts a manual journal entry in its own transaction.
func PostEntry(ctx context.Context, db *sql.DB, e Entry) (models.JournalEntry, error) {
	e.SourceModule = SourceManual
	e.ReversalOf = ""
	var id string
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		var err error
		id, err = Post(ctx, tx, e)
		return err
	})
	if err != nil {
		return models.JournalEntry{}, err
	}
	return GetEntry(ctx, db, id)
}

// GetEntry returns an entry with its lines.
func GetEntry(ctx context.Context, q database.DBTX, id string) (models.JournalEntry, error) {
	var je models.JournalEntry
	var reversalOf, reversedBy sql.NullString
	err := q.QueryRowContext(ctx, `SELECT je.id, je.entry_date, je.memo, je.source_module, je.source_id, je.posted_by, je.reversal_of, je.created_at,
		(SELECT r.id FROM journal_entries r WHERE r.reversal_of = je.id)
		FROM journal_entries je WHERE je.id = ?`, id).
		Scan(&je.ID, &je.EntryDate, &je.Memo, &je.SourceModule, &je.SourceID, &je.PostedBy, &reversalOf, &je.CreatedAt, &reversedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return je, apperr.NotFound("journal entry " + id)
	}
	if err != nil {
		return je, err
	}
	je.ReversalOf = database.SP(reversalOf)
	je.ReversedBy = database.SP(reversedBy)

	lines, err := entryLines(ctx, q, []string{id})
	if err != nil {
		return je, err
	}
	je.Lines = lines[id]
	if je.Lines == nil {
		je.Lines = []models.TransactionLine{}
	}
	return je, nil
}

func entryLines(ctx context.Context, q database.DBTX, ids []string) (map[string][]models.TransactionLine, error) {
	out := map[string][]models.TransactionLine{}
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := q.QueryContext(ctx, `SELECT id, entry_id, account_code, debit, credit, party_id, description
		FROM transaction_lines WHERE entry_id IN (`+database.Placeholders(len(ids))+`) ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("load transaction lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l models.TransactionLine
		if err := rows.Scan(&l.ID, &l.EntryID, &l.AccountCode, &l.Debit, &l.Credit, &l.PartyID, &l.Description); err != nil {
			return nil, err
		}
		out[l.EntryID] = append(out[l.EntryID], l)
	}
	return out, rows.Err()
}

// EntryFilter narrows ListEntries.
type EntryFilter struct {
	From         string
	To           string
	SourceModule string
	SourceID     string
	AccountCode  string
	Limit        int
	Offset       int
}

// ListEntries returns entries newest first with their lines, plus the total
// number matching the filter.
func ListEntries(ctx context.Context, db *sql.DB, f EntryFilter) ([]models.JournalEntry, int, error) {
	where := " WHERE 1=1"
	var args []any
	if f.From != "" {
		where += " AND je.entry_date >= ?"
		args = append(args, f.From)
	}
	if f.To != "" {
		where += " AND je.entry_date <= ?"
		args = append(args, f.To)
	}
	if f.SourceModule != "" {
		where += " AND je.source_module = ?"
		args = append(args, f.SourceModule)
	}
	if f.SourceID != "" {
		where += " AND je.source_id = ?"
		args = append(args, f.SourceID)
	}
	if f.AccountCode != "" {
		where += " AND EXISTS (SELECT 1 FROM transaction_lines tl WHERE tl.entry_id = je.id AND tl.account_code = ?)"
		args = append(args, f.AccountCode)
	}

	var total int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM journal_entries je"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count journal entries: %w", err)
	}

	if f.Limit <= 0 {
		f.Limit = 50
	}
	rows, err := db.QueryContext(ctx, `SELECT je.id, je.entry_date, je.memo, je.source_module, je.source_id, je.posted_by, je.reversal_of, je.created_at
		FROM journal_entries je`+where+` ORDER BY je.entry_date DESC, je.id DESC LIMIT ? OFFSET ?`,
		append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list journal entries: %w", err)
	}
	var items []models.JournalEntry
	var ids []string
	for rows.Next() {
		var je models.JournalEntry
		var reversalOf sql.NullString
		if err := rows.Scan(&je.ID, &je.EntryDate, &je.Memo, &je.SourceModule, &je.SourceID, &je.PostedBy, &reversalOf, &je.CreatedAt); err != nil {
			rows.Close()
			return nil, 0, err
		}
		je.ReversalOf = database.SP(reversalOf)
		items = append(items, je)
		ids = append(ids, je.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	lines, err := entryLines(ctx, db, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range items {
		items[i].Lines = lines[items[i].ID]
		if items[i].Lines == nil {
			items[i].Lines = []models.TransactionLine{}
		}
	}
	if items == nil {
		items = []models.JournalEntry{}
	}
	return items, total, nil
}

// ReverseTx posts the mirror image of entry id through q: every debit
// becomes a credit and vice versa. An entry can be reversed once.
func ReverseTx(ctx context.Context, q database.DBTX, id, postedBy, date, memo string) (string, error) {
	orig, err := GetEntry(ctx, q, id)
	if err != nil {
		return "", err
	}
	if orig.ReversalOf != nil {
		return "", ErrReversalEntry
	}
	if orig.ReversedBy != nil {
		return "", ErrAlreadyReversed
	}
	if date == "" {
		date = database.Today()
	}
	if memo == "" {
		memo = "Reversal of " + orig.ID
	}
	mirror := Entry{
		Date:         date,
		Memo:         memo,
		SourceModule: orig.SourceModule,
		SourceID:     orig.SourceID,
		PostedBy:     postedBy,
		ReversalOf:   orig.ID,
	}
	for _, l := range orig.Lines {
		mirror.Lines = append(mirror.Lines, Line{
			AccountCode: l.AccountCode,
			Debit:       l.Credit,
			Credit:      l.Debit,
			PartyID:     l.PartyID,
			Description: l.Description,
		})
	}
	return Post(ctx, q, mirror)
}

// Reverse reverses a manual entry in its own transaction. Entries posted by
// other modules are reversed by voiding their source document.
func Reverse(ctx context.Context, db *sql.DB, id, postedBy, date, memo string) (models.JournalEntry, error) {
	var newID string
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		var source string
		err := tx.QueryRowContext(ctx, "SELECT source_module FROM journal_entries WHERE id = ?", id).Scan(&source)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("journal entry " + id)
		}
		if err != nil {
			return err
		}
		if source != SourceManual {
			return ErrNotManual
		}
		newID, err = ReverseTx(ctx, tx, id, postedBy, date, memo)
		return err
	})
	if err != nil {
		return models.JournalEntry{}, err
	}
	return GetEntry(ctx, db, newID)
}

// DebitNormal reports whether accounts of the given type carry a debit balance.
func DebitNormal(accountType string) bool {
	return accountType == "asset" || accountType == "expense"
}

// signed returns debit-credit for debit-normal accounts and credit-debit
// otherwise.
func signed(accountType string, debit, credit decimal.Decimal) decimal.Decimal {
	if DebitNormal(accountType) {
		return debit.Sub(credit)
	}
	return credit.Sub(debit)
}

// sumLines adds the lines matched by where/args, scoped to one account.
func sumLines(ctx context.Context, q database.DBTX, where string, args ...any) (debit, credit decimal.Decimal, err error) {
	rows, err := q.QueryContext(ctx, `SELECT tl.debit, tl.credit FROM transaction_lines tl
		JOIN journal_entries je ON je.id = tl.entry_id WHERE `+where, args...)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	defer rows.Close()
	debit, credit = decimal.Zero, decimal.Zero
	for rows.Next() {
		var d, c decimal.Decimal
		if err := rows.Scan(&d, &c); err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		debit = debit.Add(d)
		credit = credit.Add(c)
	}
	return debit, credit, rows.Err()
}

// PartyBalance returns the balance party carries on account, in the
// account's normal direction. For Accounts Receivable this is what the
// customer owes; for Accounts Payable what is owed to the supplier.
func PartyBalance(ctx context.Context, q database.DBTX, accountCode, partyID string) (decimal.Decimal, error) {
	acct, err := GetAccount(ctx, q, accountCode)
	if err != nil {
		return decimal.Zero, err
	}
	d, c, err := sumLines(ctx, q, "tl.account_code = ? AND tl.party_id = ?", accountCode, partyID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("party balance: %w", err)
	}
	return signed(acct.Type, d, c), nil
}

// AccountBalance returns the balance of account as of date (inclusive; blank
// means all time).
func AccountBalance(ctx context.Context, q database.DBTX, accountCode, asOf string) (decimal.Decimal, error) {
	acct, err := GetAccount(ctx, q, accountCode)
	if err != nil {
		return decimal.Zero, err
	}
	where, args := "tl.account_code = ?", []any{accountCode}
	if asOf != "" {
		where += " AND je.entry_date <= ?"
		args = append(args, asOf)
	}
	d, c, err := sumLines(ctx, q, where, args...)
	if err != nil {
		return decimal.Zero, fmt.Errorf("account balance: %w", err)
	}
	return signed(acct.Type, d, c), nil
}

// AccountLedger lists the lines posted to an account between from and to
// (inclusive, either may be blank) with a running balance in the account's
// normal direction. A non-empty party restricts it to that party's lines.
func AccountLedger(ctx context.Context, q database.DBTX, accountCode, from, to, party string) (models.AccountLedger, error) {
	acct, err := GetAccount(ctx, q, accountCode)
	if err != nil {
		return models.AccountLedger{}, err
	}
	out := models.AccountLedger{Account: acct, From: from, To: to, OpeningBalance: decimal.Zero}

	partyWhere := ""
	var partyArgs []any
	if party != "" {
		partyWhere = " AND tl.party_id = ?"
		partyArgs = []any{party}
	}

	if from != "" {
		d, c, err := sumLines(ctx, q, "tl.account_code = ? AND je.entry_date < ?"+partyWhere,
			append([]any{accountCode, from}, partyArgs...)...)
		if err != nil {
			return out, fmt.Errorf("opening balance: %w", err)
		}
		out.OpeningBalance = signed(acct.Type, d, c)
	}

	where := "tl.account_code = ?"
	args := []any{accountCode}
	if from != "" {
		where += " AND je.entry_date >= ?"
		args = append(args, from)
	}
	if to != "" {
		where += " AND je.entry_date <= ?"
		args = append(args, to)
	}
	where += partyWhere
	args = append(args, partyArgs...)

	rows, err := q.QueryContext(ctx, `SELECT je.id, je.entry_date, je.memo, je.source_module || CASE WHEN je.source_id != '' THEN ':' || je.source_id ELSE '' END,
		tl.party_id, tl.description, tl.debit, tl.credit
		FROM transaction_lines tl JOIN journal_entries je ON je.id = tl.entry_id
		WHERE `+where+` ORDER BY je.entry_date, je.created_at, je.id, tl.id`, args...)
	if err != nil {
		return out, fmt.Errorf("account ledger: %w", err)
	}
	defer rows.Close()

	balance := out.OpeningBalance
	out.Lines = []models.LedgerLine{}
	for rows.Next() {
		var l models.LedgerLine
		if err := rows.Scan(&l.EntryID, &l.EntryDate, &l.Memo, &l.Source, &l.PartyID, &l.Description, &l.Debit, &l.Credit); err != nil {
			return out, err
		}
		balance = balance.Add(signed(acct.Type, l.Debit, l.Credit))
		l.Balance = balance
		out.Lines = append(out.Lines, l)
	}
	out.ClosingBalance = balance
	return out, rows.Err()
}

// TrialBalance lists the net balance of every account with activity up to
// asOf (inclusive; blank means today), on its debit or credit side.
func TrialBalance(ctx context.Context, db *sql.DB, asOf string) (models.TrialBalance, error) {
	if asOf == "" {
		asOf = database.Today()
	}
	tb := models.TrialBalance{AsOf: asOf, TotalDebit: decimal.Zero, TotalCredit: decimal.Zero}

	rows, err := db.QueryContext(ctx, `SELECT tl.account_code, tl.debit, tl.credit FROM transaction_lines tl
		JOIN journal_entries je ON je.id = tl.entry_id WHERE je.entry_date <= ?`, asOf)
	if err != nil {
		return tb, fmt.Errorf("trial balance: %w", err)
	}
	net := map[string]decimal.Decimal{}
	for rows.Next() {
		var code string
		var d, c decimal.Decimal
		if err := rows.Scan(&code, &d, &c); err != nil {
			rows.Close()
			return tb, err
		}
		net[code] = net[code].Add(d).Sub(c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return tb, err
	}

	accounts, err := ListAccounts(ctx, db, true)
	if err != nil {
		return tb, err
	}
	byCode := map[string]models.Account{}
	for _, a := range accounts {
		byCode[a.Code] = a
	}

	codes := make([]string, 0, len(net))
	for code := range net {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	tb.Rows = []models.TrialBalanceRow{}
	for _, code := range codes {
		n := net[code]
		if n.IsZero() {
			continue
		}
		a := byCode[code]
		row := models.TrialBalanceRow{AccountCode: code, AccountName: a.Name, Type: a.Type, Debit: decimal.Zero, Credit: decimal.Zero}
		if n.IsPositive() {
			row.Debit = n
		} else {
			row.Credit = n.Neg()
		}
		tb.TotalDebit = tb.TotalDebit.Add(row.Debit)
		tb.TotalCredit = tb.TotalCredit.Add(row.Credit)
		tb.Rows = append(tb.Rows, row)
	}
	tb.Balanced = tb.TotalDebit.Equal(tb.TotalCredit)
	return tb, nil
}
