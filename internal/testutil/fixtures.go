// Package testutil provides fixtures and in-memory collaborators shared by
// package tests.
package testutil

import (
	"encoding/csv"
	"slices"
	"strings"
)

// FraudHeader is the header of a well-formed card-transaction file.
var FraudHeader = []string{
	"trans_date_trans_time", "cc_num", "merchant", "category", "amt",
	"first", "last", "gender", "street", "city", "state", "zip",
	"lat", "long", "city_pop", "job", "dob", "trans_num", "unix_time",
	"merch_lat", "merch_long", "is_fraud",
}

// FraudRow returns one valid transaction row as a column-name map.
// Callers override individual cells before rendering with FraudCSV.
func FraudRow() map[string]string {
	return map[string]string{
		"trans_date_trans_time": "2019-01-01 00:00:18",
		"cc_num":                "2703186189652095",
		"merchant":              "fraud_Rippin, Kub and Mann",
		"category":              "misc_net",
		"amt":                   "4.97",
		"first":                 "Jennifer",
		"last":                  "Banks",
		"gender":                "F",
		"street":                "561 Perry Cove",
		"city":                  "Moravian Falls",
		"state":                 "NC",
		"zip":                   "28654",
		"lat":                   "36.0788",
		"long":                  "-81.1781",
		"city_pop":              "3495",
		"job":                   "Psychologist, counselling",
		"dob":                   "1988-03-09",
		"trans_num":             "0b242abb623afc578575680df30655b9",
		"unix_time":             "1325376018",
		"merch_lat":             "36.011293",
		"merch_long":            "-82.048315",
		"is_fraud":              "0",
	}
}

// FraudCSV renders rows under header as CSV text. A nil header means FraudHeader.
// Cells missing from a row map are written empty.
func FraudCSV(header []string, rows ...map[string]string) string {
	if header == nil {
		header = FraudHeader
	}

	var b strings.Builder
	w := csv.NewWriter(&b)
	_ = w.Write(header)
	for _, row := range rows {
		record := make([]string, len(header))
		for i, name := range header {
			record[i] = row[name]
		}
		_ = w.Write(record)
	}
	w.Flush()
	return b.String()
}

// FraudRows returns n valid rows whose trans_num and amt differ per row.
func FraudRows(n int) []map[string]string {
	rows := make([]map[string]string, n)
	for i := range rows {
		row := FraudRow()
		row["trans_num"] = strings.Repeat("a", 31) + string(rune('a'+i%26))
		row["amt"] = []string{"4.97", "107.23", "220.11", "45.00", "41.96"}[i%5]
		rows[i] = row
	}
	return rows
}

// Without returns header minus the named columns.
func Without(header []string, drop ...string) []string {
	out := make([]string, 0, len(header))
	for _, h := range header {
		if !slices.Contains(drop, h) {
			out = append(out, h)
		}
	}
	return out
}
