package executor

// Named extraction functions an evaluate step may refer to by name.
const (
	ScriptExtractSalesTable  = "extract_sales_table"
	ScriptScanExistingDrafts = "scan_existing_drafts"
)

// extractSalesTableJS reads the sales invoice list. Rows with fewer than six
// cells are layout rows and are skipped. envoice_id is "" when a row has no link.
const extractSalesTableJS = `() => {
	const rows = [];
	for (const row of document.querySelectorAll('table tbody tr')) {
		const cells = row.querySelectorAll('td');
		if (cells.length < 6) continue;
		const text = (i) => (cells[i] ? cells[i].textContent.trim() : '');
		let envoiceId = '';
		for (const link of row.querySelectorAll('a[href*="/desktop/sale/"]')) {
			const m = link.getAttribute('href').match(/\/desktop\/sale\/(?:view|edit)\/(\d+)/);
			if (m) { envoiceId = m[1]; break; }
		}
		rows.push({
			envoice_id: envoiceId,
			invoice_date: text(1),
			customer: text(3),
			invoice_number: text(4),
			total: text(5),
			status: text(9),
		});
	}
	return rows;
}`

// scanExistingDraftsJS lists (customer, date) pairs of the visible invoices so
// a caller can skip creating duplicates. Rows without both are ignored.
const scanExistingDraftsJS = `() => {
	const drafts = [];
	for (const row of document.querySelectorAll('table tbody tr')) {
		const cells = row.querySelectorAll('td');
		if (cells.length < 6) continue;
		const customer = (cells[3] ? cells[3].textContent.trim() : '').toLowerCase();
		const m = row.innerText.match(/\d{2}\.\d{2}\.\d{4}/);
		if (!customer || !m) continue;
		drafts.push({ customer: customer, date: m[0] });
	}
	return drafts;
}`

var namedScripts = map[string]string{
	ScriptExtractSalesTable:  extractSalesTableJS,
	ScriptScanExistingDrafts: scanExistingDraftsJS,
}

// scriptFor returns the registered function for name, or wraps the value as
// the body of an anonymous function.
func scriptFor(value string) (string, bool) {
	if fn, ok := namedScripts[value]; ok {
		return fn, true
	}
	return "() => { " + value + " }", false
}
