// Package ofx parses OFX/QFX statement files. OFX carries machine-readable
// transactions already, so these statements need no parsing rule and no
// model pass: the whole file becomes one fully confident extraction unit.
package ofx

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/aclindsa/ofxgo"

	"github.com/rumor-ml/bankstmt/internal/domain"
)

// CanParse checks the filename extension and header markers for both the v1
// SGML and v2 XML OFX formats.
func CanParse(filename string, header []byte) bool {
	ext := strings.ToLower(filename)
	if !strings.HasSuffix(ext, ".ofx") && !strings.HasSuffix(ext, ".qfx") {
		return false
	}
	headerUpper := strings.ToUpper(string(header))
	return strings.Contains(headerUpper, "OFXHEADER") ||
		strings.Contains(headerUpper, "<?OFX") ||
		strings.Contains(headerUpper, "<OFX>")
}

// Parse converts an OFX/QFX file into a single extraction unit. Bank and
// credit card statements are supported; the parse is exact, so confidence
// is 1.0 and warnings only report skipped malformed entries.
func Parse(content []byte) (*domain.PageResult, error) {
	resp, err := ofxgo.ParseResponse(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file (%d bytes): %w", len(content), err)
	}

	if len(resp.Bank) > 0 {
		stmt, ok := resp.Bank[0].(*ofxgo.StatementResponse)
		if !ok {
			return nil, fmt.Errorf("unexpected bank statement type %T", resp.Bank[0])
		}
		if stmt.BankTranList == nil {
			return nil, fmt.Errorf("missing transaction list in bank statement")
		}
		result := fromTransactionList(stmt.BankTranList)
		// LEDGERBAL is mandatory in OFX statement responses.
		bal, _ := stmt.BalAmt.Float64()
		result.ClosingBalance = &bal
		return result, nil
	}

	if len(resp.CreditCard) > 0 {
		stmt, ok := resp.CreditCard[0].(*ofxgo.CCStatementResponse)
		if !ok {
			return nil, fmt.Errorf("unexpected credit card statement type %T", resp.CreditCard[0])
		}
		if stmt.BankTranList == nil {
			return nil, fmt.Errorf("missing transaction list in credit card statement")
		}
		result := fromTransactionList(stmt.BankTranList)
		// LEDGERBAL is mandatory in OFX statement responses.
		bal, _ := stmt.BalAmt.Float64()
		result.ClosingBalance = &bal
		return result, nil
	}

	return nil, fmt.Errorf("no supported statement type in OFX file (bank: %d, creditcard: %d)",
		len(resp.Bank), len(resp.CreditCard))
}

func fromTransactionList(list *ofxgo.TransactionList) *domain.PageResult {
	result := &domain.PageResult{
		Page:        1,
		Confidence:  1.0,
		PeriodStart: list.DtStart.Time.Format("2006-01-02"),
		PeriodEnd:   list.DtEnd.Time.Format("2006-01-02"),
	}

	for i, txn := range list.Transactions {
		converted, err := convert(txn)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("OFX entry %d skipped: %v", i, err))
			continue
		}
		result.Transactions = append(result.Transactions, *converted)
	}
	return result
}

// convert maps one OFX transaction to the pipeline's shape: non-negative
// magnitude with the sign folded into the type.
func convert(txn ofxgo.Transaction) (*domain.Transaction, error) {
	date := txn.DtPosted.Time
	if date.IsZero() {
		date = txn.DtUser.Time
	}
	if date.IsZero() {
		return nil, fmt.Errorf("missing both posted date and user date")
	}

	description := strings.TrimSpace(txn.Name.String())
	if description == "" {
		description = strings.TrimSpace(txn.Memo.String())
	}
	if description == "" {
		return nil, fmt.Errorf("missing both name and memo")
	}

	amount, _ := txn.TrnAmt.Float64()
	if amount == 0 {
		return nil, fmt.Errorf("zero amount")
	}

	txnType := domain.TypeCredit
	if amount < 0 {
		txnType = domain.TypeDebit
		amount = -amount
	}

	return &domain.Transaction{
		Date:        date.Format("2006-01-02"),
		Description: description,
		Amount:      amount,
		Type:        txnType,
		Reference:   txn.FiTID.String(),
		Confidence:  1.0,
	}, nil
}
