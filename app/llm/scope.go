package llm

import "strings"

// Scope selects the body of law a question is answered against.
type Scope string

const (
	ScopeMassLaws Scope = "mass_laws"
	ScopeHB44     Scope = "hb44"
	ScopeHB130    Scope = "hb130"
	ScopeHB133    Scope = "hb133"
)

var scopeTitles = map[Scope]string{
	ScopeMassLaws: "Massachusetts weights and measures laws and regulations",
	ScopeHB44:     "NIST Handbook 44, Specifications, Tolerances, and Other Technical Requirements for Weighing and Measuring Devices",
	ScopeHB130:    "NIST Handbook 130, Uniform Laws and Regulations in the Areas of Legal Metrology and Fuel Quality",
	ScopeHB133:    "NIST Handbook 133, Checking the Net Contents of Packaged Goods",
}

// ParseScope defaults an empty value to mass_laws.
func ParseScope(s string) (Scope, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ScopeMassLaws, true
	}
	sc := Scope(s)
	_, ok := scopeTitles[sc]
	return sc, ok
}

func (s Scope) Title() string {
	if t, ok := scopeTitles[s]; ok {
		return t
	}
	return string(s)
}
