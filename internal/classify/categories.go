package classify

import (
	"sort"
	"strings"
)

// All is the sentinel accepted by the search client meaning "every category".
const All = "all"

// Uncategorized is the label given to text that matches no category.
const Uncategorized = "uncategorized"

// names is the closed category set in canonical order.
var names = []string{
	"labor",
	"environment",
	"privacy",
	"governance",
	"diversity",
	"human rights",
	"consumer safety",
	"animal welfare",
}

// Multi-word keywords are kept quoted so they can be sent to the search
// provider as exact phrases.
var categoryKeywords = map[string][]string{
	"labor": {
		"strike", "union", "layoff", "worker", "warehouse", "wage", "employee",
		`"minimum wage"`, "furlough", `"labor dispute"`, "overtime", `"gig economy"`,
		"walkout", "organize", "unionize", "picket", `"labor rights"`, `"working conditions"`,
		`"pay gap"`, "hourly", `"employment practices"`, "misclassification",
	},
	"environment": {
		"pollution", "emissions", "carbon", "climate", "greenhouse", "sustainability",
		"deforestation", `"oil spill"`, `"toxic waste"`, "renewable", "plastic", "recycling",
		`"environmental impact"`, `"water use"`, "biodiversity", "wildlife", `"fossil fuel"`,
		`"ecological damage"`, "greenwashing", "e-waste", `"carbon footprint"`, `"air quality"`,
	},
	"privacy": {
		`"data breach"`, "GDPR", "surveillance", "privacy", "leak", "hack",
		"cyberattack", `"unauthorized access"`, `"security incident"`, `"personal data"`,
		"PII", `"identity theft"`, "ransomware", "phishing", `"data misuse"`, "exposure",
		"tracking", "spying", `"facial recognition"`, `"location data"`, "spyware",
		"encryption", "cybersecurity", `"security flaw"`, `"third-party data"`,
	},
	"governance": {
		"fraud", "bribery", "lawsuit", "corruption", "SEC", "whistleblower",
		"indictment", `"insider trading"`, "settlement", "probe", "fine", "penalty",
		`"board conflict"`, "misconduct", `"conflict of interest"`, "embezzlement",
		"audit", `"compliance failure"`, "negligence", "scandal", `"tax evasion"`,
		`"shell company"`, `"money laundering"`, `"breach of fiduciary duty"`,
	},
	"diversity": {
		"discrimination", "diversity", "gender", "race", "inclusion", "harassment",
		"sexism", "racism", "ageism", "homophobia", "ableism", "equality", "DEI",
		`"pay equity"`, `"diversity training"`, `"hate speech"`, "bias", "underrepresentation",
		"minority", `"inclusive workplace"`, `"affirmative action"`, `"workplace culture"`,
	},
	"human rights": {
		`"child labor"`, `"forced labor"`, "sweatshop", "exploitation", `"modern slavery"`,
		`"human trafficking"`, "inhumane", `"labor camp"`, "repression", "torture",
		"detention", `"ethnic cleansing"`, "genocide", "authoritarian", `"military abuse"`,
		`"prison abuse"`, `"freedom of speech"`, `"surveillance state"`, "censorship",
	},
	"consumer safety": {
		"recall", `"unsafe product"`, "toxicity", `"product defect"`, `"consumer warning"`,
		"FDA", "poison", "allergy", `"foodborne illness"`, "malfunction", `"side effect"`,
		`"labeling error"`, "contamination", `"adverse event"`, `"false advertising"`,
	},
	"animal welfare": {
		`"animal testing"`, "cruelty", `"factory farming"`, "vivisection", "fur",
		`"animal abuse"`, "captive", "zoo", `"wildlife trafficking"`, `"endangered species"`,
		`"animal rights"`, "vivarium", `"lab animal"`, "culling", `"ethical treatment of animals"`,
	},
}

// Names returns the closed category set in canonical order.
func Names() []string {
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// Valid reports whether name is a member of the closed category set.
// The "all" sentinel is not a category.
func Valid(name string) bool {
	_, ok := categoryKeywords[name]
	return ok
}

// Normalize lowercases and trims a user-supplied category name.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Keywords returns the provider-ready keyword list for a category, or the
// union of every list for the "all" sentinel. The second result is false for
// unknown names.
func Keywords(name string) ([]string, bool) {
	if name == All {
		var out []string
		for _, n := range names {
			out = append(out, categoryKeywords[n]...)
		}
		return out, true
	}
	kws, ok := categoryKeywords[name]
	if !ok {
		return nil, false
	}
	out := make([]string, len(kws))
	copy(out, kws)
	return out, true
}

// Sort orders labels canonically in place, with uncategorized and unknown
// labels after the closed set.
func Sort(labels []string) {
	rank := func(l string) int {
		for i, n := range names {
			if n == l {
				return i
			}
		}
		return len(names)
	}
	sort.SliceStable(labels, func(i, j int) bool {
		ri, rj := rank(labels[i]), rank(labels[j])
		if ri != rj {
			return ri < rj
		}
		return labels[i] < labels[j]
	})
}

// WithCategory adds category to labels, dropping uncategorized once a real
// category is present. The result is in canonical order.
func WithCategory(labels []string, category string) []string {
	if !Valid(category) {
		return labels
	}
	out := make([]string, 0, len(labels)+1)
	for _, l := range labels {
		if l == Uncategorized || l == category {
			continue
		}
		out = append(out, l)
	}
	out = append(out, category)
	Sort(out)
	return out
}
