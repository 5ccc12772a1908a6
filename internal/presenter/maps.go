// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package presenter

import (
	"github.com/vorlif/spreak/localize"

	"github.com/wneessen/geotrack/internal/enrich"
)

var i18nVars = map[string]localize.MsgID{
	"Position":                      "Position",
	"Address":                       "Address",
	"Postal code":                   "Postal code",
	"Unavailable":                   "Unavailable",
	"Status":                        "Status",
	"tracking":                      "tracking",
	"subscribed":                    "subscribed",
	"unsubscribed":                  "unsubscribed",
	"epoch":                         "epoch",
	"connection(s)":                 "connection(s)",
	"last fix":                      "last fix",
	enrich.ReasonAddressUnavailable: "address unavailable",
	enrich.ReasonAddressNotFound:    "address not found",
	enrich.ReasonPostalUnavailable:  "postal code unavailable",
	enrich.NeighbourhoodNotFound:    "neighbourhood not found",
	enrich.CityNotFound:             "city not found",
}
