package ofx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/bankstmt/internal/domain"
)

const bankStatement = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<DTSERVER>20240201120000
<LANGUAGE>ENG
<FI>
<ORG>Test Bank
<FID>1234
</FI>
</SONRS>
</SIGNONMSGSRSV1>
<BANKMSGSRSV1>
<STMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<STMTRS>
<CURDEF>GBP
<BANKACCTFROM>
<BANKID>123456789
<ACCTID>987654321
<ACCTTYPE>CHECKING
</BANKACCTFROM>
<BANKTRANLIST>
<DTSTART>20240101
<DTEND>20240131
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240105
<TRNAMT>-4.50
<FITID>txn-1
<NAME>Coffee Shop
</STMTTRN>
<STMTTRN>
<TRNTYPE>CREDIT
<DTPOSTED>20240106
<TRNAMT>2000.00
<FITID>txn-2
<NAME>Salary
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>1995.50
<DTASOF>20240131
</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>
`

func TestParseBankStatement(t *testing.T) {
	result, err := Parse([]byte(bankStatement))
	require.NoError(t, err)

	assert.Equal(t, 1, result.Page)
	assert.Equal(t, 1.0, result.Confidence)
	assert.Equal(t, "2024-01-01", result.PeriodStart)
	assert.Equal(t, "2024-01-31", result.PeriodEnd)
	require.NotNil(t, result.ClosingBalance)
	assert.Equal(t, 1995.50, *result.ClosingBalance)

	require.Len(t, result.Transactions, 2)
	assert.Empty(t, result.Warnings)

	coffee := result.Transactions[0]
	assert.Equal(t, "2024-01-05", coffee.Date)
	assert.Equal(t, "Coffee Shop", coffee.Description)
	assert.Equal(t, 4.50, coffee.Amount)
	assert.Equal(t, domain.TypeDebit, coffee.Type)
	assert.Equal(t, "txn-1", coffee.Reference)

	salary := result.Transactions[1]
	assert.Equal(t, 2000.00, salary.Amount)
	assert.Equal(t, domain.TypeCredit, salary.Type)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte("not an ofx file"))
	assert.Error(t, err)
}

func TestCanParse(t *testing.T) {
	header := []byte("OFXHEADER:100\nDATA:OFXSGML")
	assert.True(t, CanParse("statement.ofx", header))
	assert.True(t, CanParse("statement.QFX", []byte("<OFX>")))
	assert.False(t, CanParse("statement.csv", header))
	assert.False(t, CanParse("statement.ofx", []byte("plain text")))
}
