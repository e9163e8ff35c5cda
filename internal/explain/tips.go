package explain

import (
	"github.com/mehrguard/mehrguard/internal/engine"
	"github.com/mehrguard/mehrguard/internal/reason"
)

// categoryTips is consulted in catalog category order.
var categoryTips = []struct {
	category reason.Category
	tip      string
}{
	{reason.CategoryInput, "Only open links and scan QR codes from sources you trust."},
	{reason.CategoryBrand, "When a message claims to come from a well-known company, open its app or type its address yourself instead of using the link."},
	{reason.CategoryScript, "Look-alike letters can make a fake address read like a real one; compare the domain character by character."},
	{reason.CategoryCredential, "Never enter passwords, codes or card numbers on a page you reached through a link you did not expect."},
	{reason.CategoryHost, "Check the domain name just before the first single slash; legitimate services rarely use raw IP addresses or long chains of subdomains."},
	{reason.CategoryShortener, "Preview shortened links with an expander to see where they lead before opening them."},
	{reason.CategoryFile, "Do not open downloads you were not expecting, especially programs and scripts."},
	{reason.CategoryObfuscation, "Be wary of links that hide their contents with heavy encoding or invisible characters."},
	{reason.CategoryRedirect, "A link that carries another address may forward you somewhere else; check where you land."},
	{reason.CategoryFragment, "Content smuggled after the # in a link is a sign of tampering."},
	{reason.CategoryTransport, "Do not type anything sensitive on pages that are not served over HTTPS."},
	{reason.CategoryTLD, "Be extra careful with domain endings that are cheap or free to register."},
}

var (
	safeTips = []string{
		"Even trusted-looking links can lead to scams; stay alert for unexpected requests for personal information.",
		"Keep your browser and operating system up to date so known attacks are blocked.",
	}
	riskyTips = []string{
		"If in doubt, contact the sender through a channel you already trust before opening the link.",
		"Report suspicious links to the organisation being impersonated or to your IT team.",
	}
)

// tipsFor picks advice for the fired categories, topped up with general
// advice for the verdict. The result holds between MinTips and maxTips
// entries and depends only on its inputs.
func tipsFor(v engine.Verdict, findings []Finding) []string {
	fired := make(map[reason.Category]bool, len(findings))
	for _, f := range findings {
		fired[f.Category] = true
	}

	tips := make([]string, 0, maxTips)
	for _, ct := range categoryTips {
		if fired[ct.category] && len(tips) < maxTips-1 {
			tips = append(tips, ct.tip)
		}
	}
	general := riskyTips
	if v == engine.VerdictSafe {
		general = safeTips
	}
	tips = append(tips, general[0])
	for _, t := range general[1:] {
		if len(tips) >= MinTips {
			break
		}
		tips = append(tips, t)
	}
	return tips
}
