package tables

import "strings"

// PostalCodeWidth is the width US ZIP codes are padded to before matching.
const PostalCodeWidth = 5

// PadPostalCode left-pads a trimmed ZIP code with zeros to PostalCodeWidth.
// Spreadsheet exports store ZIPs as numbers and drop the leading zero
// ("2134" for 02134). Values already PostalCodeWidth or longer are returned
// unchanged, so a short base before a ZIP+4 suffix is not repaired.
func PadPostalCode(s string) string {
	s = strings.TrimSpace(s)
	if len(s) < PostalCodeWidth {
		return strings.Repeat("0", PostalCodeWidth-len(s)) + s
	}
	return s
}
