package xbrl

// TargetFacts lists the concepts the ratio formulas read. Names without a
// namespace are looked up in us-gaap first, then dei.
var TargetFacts = []string{
	"Assets",
	"AssetsCurrent",
	"Liabilities",
	"LiabilitiesCurrent",
	"StockholdersEquity",
	"Revenues",
	"RevenueFromContractWithCustomerExcludingAssessedTax",
	"CostOfRevenue",
	"CostOfGoodsAndServicesSold",
	"GrossProfit",
	"OperatingIncomeLoss",
	"NetIncomeLoss",
	"EarningsPerShareBasic",
	"InventoryNet",
	"LongTermDebt",
	"LongTermDebtNoncurrent",
	"LongTermDebtCurrent",
	"ShortTermBorrowings",
	"DebtCurrent",
	"NetCashProvidedByUsedInOperatingActivities",
	"PaymentsToAcquirePropertyPlantAndEquipment",
	"CommonStockSharesOutstanding",
	"EntityCommonStockSharesOutstanding",
	"WeightedAverageNumberOfSharesOutstandingBasic",
}

// PeriodicForms are the filing forms that produce ratio rows.
var PeriodicForms = map[string]bool{
	"10-Q":   true,
	"10-Q/A": true,
	"10-K":   true,
	"10-K/A": true,
}
