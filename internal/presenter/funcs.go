// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package presenter

import (
	"math"
	"strconv"
	"text/template"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/vorlif/humanize"
)

func (p *Presenter) templateFuncMap() template.FuncMap {
	return template.FuncMap{
		"since":         p.since,
		"localizedTime": p.localizedTime,
		"floatFormat":   p.floatFormat,
		"label":         p.label,
		"loc":           p.loc,
	}
}

// loc translates the fixed strings of the console output. Anything else is returned unchanged.
func (p *Presenter) loc(val string) string {
	if raw, ok := i18nVars[val]; ok {
		return p.localizer.Get(raw)
	}
	return val
}

func (p *Presenter) label(icon, name string) string {
	return pad(icon + " " + p.loc(name))
}

// since renders the age of a timestamp, e.g. "5 minutes ago".
func (p *Presenter) since(val time.Time) string {
	return p.humanizer.NaturalTime(val)
}

func (p *Presenter) localizedTime(val time.Time) string {
	return p.humanizer.FormatTime(val, humanize.TimeFormat)
}

// floatFormat cuts val to precision decimals. Coordinates are truncated, never rounded up into a
// neighbouring cell.
func (p *Presenter) floatFormat(val float64, precision int) string {
	pow := math.Pow(10, float64(precision))
	return strconv.FormatFloat(math.Trunc(val*pow)/pow, 'f', precision, 64)
}

// pad fills the label up to labelWidth terminal columns. Emoji take up two columns.
func pad(label string) string {
	return runewidth.FillRight(label, labelWidth)
}
