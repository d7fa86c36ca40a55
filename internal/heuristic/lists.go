package heuristic

// knownDomains are high-value brands commonly targeted by typosquatting
var knownDomains = []string{
	"paypal.com", "microsoft.com", "office.com", "outlook.com", "live.com",
	"google.com", "gmail.com", "apple.com", "icloud.com", "amazon.com",
	"netflix.com", "facebook.com", "instagram.com", "linkedin.com", "twitter.com",
	"dropbox.com", "docusign.com", "adobe.com", "salesforce.com", "zoom.us",
	"slack.com", "github.com", "chase.com", "wellsfargo.com", "bankofamerica.com",
	"citibank.com", "americanexpress.com", "dhl.com", "fedex.com", "ups.com",
	"usps.com", "coinbase.com", "binance.com", "stripe.com", "intuit.com",
}

var shortenerHosts = map[string]struct{}{
	"bit.ly": {}, "tinyurl.com": {}, "goo.gl": {}, "t.co": {}, "ow.ly": {},
	"is.gd": {}, "buff.ly": {}, "rebrand.ly": {}, "cutt.ly": {}, "shorturl.at": {},
	"tiny.cc": {}, "rb.gy": {}, "bl.ink": {}, "s.id": {}, "t.ly": {},
	"v.gd": {}, "lnkd.in": {}, "tr.im": {}, "short.io": {}, "shorte.st": {},
}

var suspiciousTLDs = []string{
	".xyz", ".top", ".club", ".online", ".site", ".tk", ".ml", ".ga", ".cf", ".gq",
	".buzz", ".icu", ".work", ".click", ".link", ".rest", ".zip", ".mov", ".country",
	".loan", ".win", ".bid", ".kim", ".review", ".party", ".cam", ".monster", ".sbs",
}

var urgencyKeywords = []string{
	"urgent", "immediately", "right away", "asap", "as soon as possible",
	"within 24 hours", "within 48 hours", "act now", "final notice", "expires today",
	"last warning", "time sensitive", "deadline", "suspended",
}

var phishingKeywords = []string{
	"verify your account", "confirm your identity", "verify your identity",
	"update your payment", "log in to your account", "login to your account",
	"reset your password", "password expired", "password will expire",
	"unusual sign-in activity", "unusual activity", "account will be suspended",
	"click here to verify", "validate your account", "confirm your password",
	"security alert", "account locked", "re-activate your account",
}

var financialKeywords = []string{
	"wire transfer", "bank transfer", "gift card", "gift cards", "payment overdue",
	"change of bank details", "new bank account", "updated bank details",
	"outstanding invoice", "overdue invoice", "purchase order", "remittance",
	"routing number", "iban", "bitcoin", "payroll",
}

// substitutions maps a letter to the characters commonly used to imitate it
var substitutions = map[rune][]rune{
	'a': {'4', '@'},
	'b': {'8'},
	'e': {'3'},
	'g': {'9', 'q'},
	'i': {'1', 'l'},
	'l': {'1', 'i'},
	'o': {'0'},
	's': {'5', '$'},
	't': {'7'},
	'z': {'2'},
}

// lureWords are the tokens attached to a brand name in lookalike domains
var lureWords = map[string]struct{}{
	"security": {}, "secure": {}, "it": {}, "support": {}, "login": {}, "signin": {},
	"verify": {}, "verification": {}, "account": {}, "accounts": {}, "helpdesk": {},
	"help": {}, "service": {}, "services": {}, "update": {}, "online": {}, "alert": {},
	"alerts": {}, "team": {}, "billing": {}, "auth": {}, "portal": {}, "mail": {},
	"my": {}, "id": {}, "notice": {}, "access": {},
}

var dangerousExtensions = map[string]struct{}{
	".exe": {}, ".scr": {}, ".bat": {}, ".cmd": {}, ".com": {}, ".pif": {},
	".vbs": {}, ".vbe": {}, ".js": {}, ".jse": {}, ".jar": {}, ".msi": {},
	".ps1": {}, ".hta": {}, ".lnk": {}, ".iso": {}, ".img": {}, ".wsf": {},
	".docm": {}, ".xlsm": {}, ".pptm": {},
}

// decoyExtensions are the harmless-looking extensions used to hide a dangerous one
var decoyExtensions = map[string]struct{}{
	".pdf": {}, ".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {},
	".txt": {}, ".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".zip": {},
	".rtf": {}, ".csv": {}, ".htm": {}, ".html": {},
}

var freemailDomains = map[string]struct{}{
	"gmail.com": {}, "googlemail.com": {}, "yahoo.com": {}, "hotmail.com": {},
	"outlook.com": {}, "live.com": {}, "aol.com": {}, "icloud.com": {},
	"protonmail.com": {}, "proton.me": {}, "gmx.com": {}, "mail.com": {},
	"yandex.com": {}, "zoho.com": {},
}

var executiveTitles = []string{
	"ceo", "cfo", "coo", "cto", "president", "chief", "director", "vp", "vice president",
	"managing partner", "chairman",
}

var bulkMailers = []string{
	"phpmailer", "sendblaster", "atomic mail sender", "mass mailer", "bulk mailer",
	"turbo-mailer", "the bat!",
}
