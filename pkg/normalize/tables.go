package normalize

// NEPSEKeys is the canonical key dictionary for nepalstock.com payloads.
var NEPSEKeys = map[string]string{
	"activeStatus": "actSts", "addedDate": "addDt", "agenda": "agnd", "agm": "agm", "agmDate": "agmDt",
	"agmNo": "agmNo", "agmNotice": "agmNtc", "agmType": "agmTyp", "application": "app",
	"applicationStatus": "appSts", "applicationType": "appTyp", "asOf": "asOf",
	"baseYearMarketCapitalization": "baseYrMktCap", "bonusShare": "bonus", "bookCloseDate": "bkClsDt",
	"bookCloseNotice": "bkClsNtc", "capitalGainBaseDate": "capGainDt", "capitalRangeMin": "capMin",
	"cashDividend": "divCash", "cdsStockRefId": "cdsRef", "change": "chg", "close": "cls",
	"closingPrice": "clsPrc", "code": "code", "companies": "comp", "companyContactPerson": "contact",
	"companyEmail": "email", "companyId": "compId", "companyName": "compNm", "companyNews": "news",
	"companyRegistrationNumber": "regNo", "companyShortName": "shortNm", "companyWebsite": "web",
	"currentValue": "curVal", "data": "d", "description": "desc", "detail": "dtl", "divisor": "div",
	"documentType": "docTyp", "epsValue": "eps", "expiryDate": "expDt", "faceValue": "faceVal",
	"fiftyTwoWeekHigh": "w52Hi", "fiftyTwoWeekLow": "w52Lo", "filePath": "file",
	"financialYear": "fy", "fromYear": "fromYr", "fyName": "fyNm", "fyNameNepali": "fyNmNp",
	"high": "hi", "id": "id", "index": "idx", "indexCode": "idxCd", "indexName": "idxNm",
	"instrumentType": "instTyp", "isDefault": "isDef", "isOpen": "isOpen", "isPromoter": "isProm",
	"isin": "isin", "keyIndexFlag": "keyIdx", "lastTradedPrice": "ltp", "listingDate": "listDt",
	"low": "lo", "marketStatus": "mktSts", "marketSummary": "mktSum", "meInstanceNumber": "meInst",
	"modifiedDate": "modDt", "name": "nm", "nepseIndex": "npsIdx", "netWorthPerShare": "nwps",
	"networthBasePrice": "nwBase", "newsBody": "body", "newsHeadline": "headline",
	"newsSource": "src", "newsType": "newsTyp", "paidUpCapital": "paidUp", "peValue": "pe",
	"percentageChange": "pctChg", "perChange": "perChg", "permittedToTrade": "canTrade",
	"pointChange": "ptChg", "previousClose": "prevCls", "profitAmount": "profit",
	"publishToWebsite": "pubWeb", "quarterMaster": "qtr", "quarterName": "qtrNm",
	"recordType": "recTyp", "regulatoryBody": "regBody", "report": "rpt", "reportName": "rptNm",
	"reportTypeMaster": "rptTyp", "rightBookCloseDate": "rtBkClsDt", "rightShare": "rtShare",
	"sectorDescription": "secDesc", "sectorMaster": "sector", "sectorName": "secNm",
	"security": "sec", "securityId": "secId", "securityName": "secNm", "securityTradeCycle": "tradeCyc",
	"shareGroupId": "shrGrp", "shareTraded": "shrTrd", "status": "sts", "subIndices": "subIdx",
	"subIndicesData": "subIdxData", "submittedDate": "subDt", "symbol": "sym", "tickSize": "tick",
	"toYear": "toYr", "topGainers": "gainers", "topLosers": "losers", "topTransactions": "txns",
	"topVolume": "volume", "totalTrades": "totTrd",
	"tradingStartDate": "trdStartDt", "turnover": "to", "updatedAt": "updAt", "value": "val",
	"venue": "venue", "versionId": "ver", "website": "web", "fiscalReport": "fiscal",
}

// MarketRules normalizes market, company-list and security payloads.
var MarketRules = Rules{
	Rename: NEPSEKeys,
	Drop: Set(
		"modifiedBy", "modifiedDate", "activeStatus", "reportTypeMaster",
		"versionId", "isDefault",
	),
	DropEmptyString: true,
}

// ReportRules normalizes per-company report and dividend payloads.
var ReportRules = Rules{
	Rename: NEPSEKeys,
	Drop: Set(
		"modifiedBy", "applicationDocumentDetailsList", "modifiedDate",
		"activeStatus", "versionId", "isDefault",
	),
	DropEmptyString: true,
}

// FundKeys is the key dictionary for the sharesansar mutual-fund NAV listing.
var FundKeys = map[string]string{
	"companyid":         "id",
	"companyname":       "name",
	"fund_size":         "fundSize",
	"maturity_date":     "maturityDate",
	"maturity_period":   "maturityPeriod",
	"daily_nav_price":   "dailyNav",
	"daily_date":        "dailyNavDate",
	"weekly_nav_price":  "weeklyNav",
	"weekly_date":       "weeklyNavDate",
	"monthly_nav_price": "monthlyNav",
	"monthly_date":      "monthlyNavDate",
	"close":             "marketPrice",
	"published_date":    "publishedDate",
	"prem_dis":          "premiumDiscount",
	"refund_nav":        "redemptionNav",
	"fetched_at":        "updatedAt",
	"records_total":     "total",
}

// FundRules normalizes mutual-fund NAV rows.
var FundRules = Rules{
	Rename: FundKeys,
	Drop:   Set("DT_Row_Index", "type", "modifiedBy"),
}
