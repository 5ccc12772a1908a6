// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package presenter

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"text/template"
	"time"

	"github.com/vorlif/humanize"
	"github.com/vorlif/spreak"
	"golang.org/x/text/language"

	"github.com/wneessen/geotrack/internal/enrich"
	"github.com/wneessen/geotrack/internal/position"
)

// labelWidth is the terminal column width the line labels are padded to.
const labelWidth = 16

const (
	positionTpl = `{{label "📍" "Position"}}{{floatFormat .Sample.Lat 6}}, {{floatFormat .Sample.Lon 6}}` +
		`{{with .Accuracy}} ±{{.}} m{{end}} ({{.Sample.Source}}, {{since .Sample.Timestamp}})`
	addressTpl     = `{{label "🏠" "Address"}}{{.Text}}`
	postalTpl      = `{{label "📮" "Postal code"}}{{.Code}}`
	unavailableTpl = `{{label "⚠️" "Unavailable"}}{{.}}`
	statusTpl      = `{{label "📡" "Status"}}{{loc "tracking"}} {{loc .State}}, {{loc "epoch"}} {{.Epoch}}, ` +
		`{{.Connections}} {{loc "connection(s)"}}{{if not .LastFix.IsZero}}, {{loc "last fix"}} ` +
		`{{since .LastFix}} ({{localizedTime .LastFix}}){{end}}`
)

// PositionView is the data the position line is rendered from.
type PositionView struct {
	Sample   position.Sample
	Accuracy string
}

// TextView is the data of a lookup result line.
type TextView struct {
	Text string
	Code string
}

// StatusView is the data of the periodic status line.
type StatusView struct {
	State       string
	Epoch       uint64
	Connections int
	LastFix     time.Time
}

// Presenter renders the console output lines. Labels and placeholders are translated by the
// localizer, times are humanized in the configured language.
type Presenter struct {
	humanizer *humanize.Humanizer
	localizer *spreak.Localizer
	templates map[string]*template.Template
}

func New(lang language.Tag, localizer *spreak.Localizer) (*Presenter, error) {
	if localizer == nil {
		return nil, errors.New("presenter: localizer is required")
	}
	collection, err := humanize.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create humanizer collection: %w", err)
	}
	p := &Presenter{
		humanizer: collection.CreateHumanizer(lang),
		localizer: localizer,
		templates: make(map[string]*template.Template),
	}
	for name, text := range map[string]string{
		"position":    positionTpl,
		"address":     addressTpl,
		"postal":      postalTpl,
		"unavailable": unavailableTpl,
		"status":      statusTpl,
	} {
		tpl, err := template.New(name).Funcs(p.templateFuncMap()).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", name, err)
		}
		p.templates[name] = tpl
	}
	return p, nil
}

// Position renders a position sample.
func (p *Presenter) Position(s position.Sample) (string, error) {
	view := PositionView{Sample: s}
	if acc, ok := s.Accuracy.Get(); ok {
		view.Accuracy = strconv.FormatFloat(acc, 'f', -1, 64)
	}
	return p.render("position", view)
}

// Address renders the address lookup result, or its failure reason.
func (p *Presenter) Address(r enrich.AddressResult) (string, error) {
	view := TextView{Text: r.String()}
	switch {
	case r.Failed != nil:
		view.Text = p.loc(r.Failed.Reason)
	case r.Address.AddressFound:
		view.Text = enrich.FormatLocalizedAddress(r.Address, p.loc)
	}
	return p.render("address", view)
}

// PostalCode renders the postal code lookup result, or its failure reason.
func (p *Presenter) PostalCode(r enrich.PostalResult) (string, error) {
	view := TextView{Code: r.String()}
	if r.Failed != nil {
		view.Code = p.loc(r.Failed.Reason)
	}
	return p.render("postal", view)
}

// Unavailable renders a position source failure.
func (p *Presenter) Unavailable(err error) (string, error) {
	return p.render("unavailable", err.Error())
}

func (p *Presenter) Status(view StatusView) (string, error) {
	return p.render("status", view)
}

func (p *Presenter) render(name string, data any) (string, error) {
	buf := bytes.NewBuffer(nil)
	if err := p.templates[name].Execute(buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s line: %w", name, err)
	}
	return buf.String(), nil
}
