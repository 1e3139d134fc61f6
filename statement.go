package teller

import (
	"io"

	"github.com/go-pdf/fpdf"
)

// writeStatementPDF renders an account statement, newest transaction
// first, matching History ordering.
func writeStatementPDF(w io.Writer, acct *Account, txns []Transaction) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 14)
	pdf.Cell(0, 10, "Account Statement")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 10)
	pdf.Cellf(0, 6, "Account: %s", acct.AcctID.String())
	pdf.Ln(6)
	pdf.Cellf(0, 6, "Type: %s", string(acct.Type))
	pdf.Ln(6)
	pdf.Cellf(0, 6, "Balance: %s", acct.Balance.StringFixed(2))
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "B", 9)
	pdf.CellFormat(60, 7, "Time", "1", 0, "L", false, 0, "")
	pdf.CellFormat(40, 7, "Kind", "1", 0, "L", false, 0, "")
	pdf.CellFormat(30, 7, "Amount", "1", 0, "R", false, 0, "")
	pdf.CellFormat(60, 7, "Transaction", "1", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 8)
	for _, txn := range txns {
		pdf.CellFormat(60, 6, txn.Time.Format("2006-01-02 15:04:05"), "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 6, string(txn.Kind), "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, txn.Amount.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.CellFormat(60, 6, txn.ID.String(), "1", 1, "L", false, 0, "")
	}

	return pdf.Output(w)
}
