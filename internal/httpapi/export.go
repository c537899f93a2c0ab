package httpapi

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"pharmaledger/internal/domain"
)

func financialReportToCSV(report domain.FinancialReport) string {
	lines := []string{
		"key,value",
		fmt.Sprintf("period,%s", report.Period),
		fmt.Sprintf("since,%s", report.Since.Format(time.RFC3339)),
		fmt.Sprintf("revenue,%s", report.Revenue.StringFixed(2)),
		fmt.Sprintf("cash_in,%s", report.CashIn.StringFixed(2)),
		fmt.Sprintf("cash_collected,%s", report.CashCollected.StringFixed(2)),
		fmt.Sprintf("purchases,%s", report.Purchases.StringFixed(2)),
		fmt.Sprintf("expenses,%s", report.Expenses.StringFixed(2)),
		fmt.Sprintf("paper_profit,%s", report.PaperProfit.StringFixed(2)),
		fmt.Sprintf("net_cash_flow,%s", report.NetCashFlow.StringFixed(2)),
		fmt.Sprintf("net_cash_collected,%s", report.NetCashCollected.StringFixed(2)),
		fmt.Sprintf("outstanding_debt,%s", report.OutstandingDebt.StringFixed(2)),
	}
	return strings.Join(lines, "\n") + "\n"
}

var financialReportHTMLTmpl = template.Must(template.New("financial-report").Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <title>Financial Report {{.Period}}</title>
  <style>
    body { font-family: sans-serif; margin: 24px; }
    table { border-collapse: collapse; margin-top: 8px; }
    th, td { border: 1px solid #ddd; padding: 6px; font-size: 13px; }
    td.num { text-align: right; }
  </style>
</head>
<body>
  <h2>Financial Report ({{.Period}})</h2>
  <p>Since {{.Since.Format "2006-01-02 15:04 MST"}}</p>
  <table>
    <tbody>
      <tr><th>Revenue</th><td class="num">{{.Revenue.StringFixed 2}}</td></tr>
      <tr><th>Cash in</th><td class="num">{{.CashIn.StringFixed 2}}</td></tr>
      <tr><th>Cash collected</th><td class="num">{{.CashCollected.StringFixed 2}}</td></tr>
      <tr><th>Purchases</th><td class="num">{{.Purchases.StringFixed 2}}</td></tr>
      <tr><th>Expenses</th><td class="num">{{.Expenses.StringFixed 2}}</td></tr>
      <tr><th>Paper profit</th><td class="num">{{.PaperProfit.StringFixed 2}}</td></tr>
      <tr><th>Net cash flow</th><td class="num">{{.NetCashFlow.StringFixed 2}}</td></tr>
      <tr><th>Net cash collected</th><td class="num">{{.NetCashCollected.StringFixed 2}}</td></tr>
      <tr><th>Outstanding debt</th><td class="num">{{.OutstandingDebt.StringFixed 2}}</td></tr>
    </tbody>
  </table>
</body>
</html>
`))

func financialReportToPrintableHTML(report domain.FinancialReport) string {
	var buf bytes.Buffer
	if err := financialReportHTMLTmpl.Execute(&buf, report); err != nil {
		return "<!doctype html><html><body><p>Report rendering error.</p></body></html>"
	}
	return buf.String()
}
