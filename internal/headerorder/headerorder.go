// Package headerorder sorts request headers into the order browsers send them.
package headerorder

import (
	"sort"
	"strings"

	"github.com/Aslarex/go-curl2/internal/request"
)

// priority ranks well-known request headers; lower ranks are emitted first.
var priority = map[string]int{
	"host":                      0,
	"connection":                1,
	"content-length":            2,
	"cache-control":             3,
	"pragma":                    4,
	"sec-ch-ua":                 5,
	"sec-ch-ua-mobile":          6,
	"sec-ch-ua-platform":        7,
	"upgrade-insecure-requests": 8,
	"user-agent":                9,
	"content-type":              10,
	"accept":                    11,
	"origin":                    12,
	"sec-fetch-site":            13,
	"sec-fetch-mode":            14,
	"sec-fetch-user":            15,
	"sec-fetch-dest":            16,
	"referer":                   17,
	"accept-encoding":           18,
	"accept-language":           19,
	"cookie":                    20,
	"priority":                  21,
}

// Sort returns a copy of headers ordered by the priority table, with unranked
// names following alphabetically. Pairs with equal names keep their relative order.
func Sort(headers []request.Header) []request.Header {
	out := append([]request.Header(nil), headers...)
	sort.SliceStable(out, func(i, j int) bool {
		ni, nj := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		ri, iRanked := priority[ni]
		rj, jRanked := priority[nj]
		switch {
		case iRanked && jRanked:
			return ri < rj
		case iRanked:
			return true
		case jRanked:
			return false
		default:
			return ni < nj
		}
	})
	return out
}
