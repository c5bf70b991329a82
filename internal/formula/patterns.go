package formula

import "regexp"

// Identifier and literal patterns of the formula document. Callers that already
// validated against these expressions rely on them byte for byte.
var (
	maloIDPattern        = regexp.MustCompile(`^\d{11}$`)
	meloIDPattern        = regexp.MustCompile(`^DE\d{11}[A-Z0-9]{20}$`)
	neloIDPattern        = regexp.MustCompile(`^E[A-Z0-9]{9}\d$`)
	transactionIDPattern = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	percentValuePattern  = regexp.MustCompile(`^(0(\.\d+)?|1(\.0+)?)$`)
	constValuePattern    = regexp.MustCompile(`^-?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)
	formulaVarPattern    = regexp.MustCompile(`^[a-zA-Z]`)
)

// ValidMaloID reports whether id is a market location id (11 digits).
func ValidMaloID(id string) bool { return maloIDPattern.MatchString(id) }

// ValidMeloID reports whether id is a meter location id
// ("DE" + 11 digits + 20 upper-case alphanumerics).
func ValidMeloID(id string) bool { return meloIDPattern.MatchString(id) }

// ValidNeloID reports whether id is a network location id
// ("E" + 9 alphanumerics + 1 digit).
func ValidNeloID(id string) bool { return neloIDPattern.MatchString(id) }

// ValidTransactionID reports whether id is a textual RFC 4122 UUID.
func ValidTransactionID(id string) bool { return transactionIDPattern.MatchString(id) }

// ValidPercent reports whether p lies in [0, 1].
func ValidPercent(p float64) bool { return p >= 0.0 && p <= 1.0 }

// ValidPercentString reports whether s spells a decimal in [0, 1].
func ValidPercentString(s string) bool { return percentValuePattern.MatchString(s) }

// ValidConst reports whether s is a signed real number literal.
func ValidConst(s string) bool { return constValuePattern.MatchString(s) }

// ValidFormulaVar reports whether s starts with a letter.
func ValidFormulaVar(s string) bool { return formulaVarPattern.MatchString(s) }
