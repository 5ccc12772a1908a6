// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package presenter

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mattn/go-runewidth"
	"golang.org/x/text/language"

	"github.com/wneessen/geotrack/internal/enrich"
	"github.com/wneessen/geotrack/internal/geocode"
	"github.com/wneessen/geotrack/internal/i18n"
	"github.com/wneessen/geotrack/internal/position"
)

func TestNew(t *testing.T) {
	t.Run("templates are parsed", func(t *testing.T) {
		p := testPresenter(t)
		for _, name := range []string{"position", "address", "postal", "unavailable", "status"} {
			if _, ok := p.templates[name]; !ok {
				t.Errorf("expected %s template to be parsed", name)
			}
		}
	})
	t.Run("new presenter without localizer fails", func(t *testing.T) {
		if _, err := New(language.English, nil); err == nil {
			t.Fatal("expected presenter creation to fail without localizer")
		}
	})
}

func TestPresenter_Position(t *testing.T) {
	p := testPresenter(t)
	t.Run("sample with accuracy", func(t *testing.T) {
		acc := 4.5
		s := position.NewSample(-23.5502104, -46.6331219, time.Now().Add(-time.Minute), &acc, "gpsd")
		line, err := p.Position(s)
		if err != nil {
			t.Fatalf("failed to render position: %s", err)
		}
		for _, want := range []string{"-23.550210, -46.633121", "±4.5 m", "(gpsd, "} {
			if !strings.Contains(line, want) {
				t.Errorf("expected %q to contain %q", line, want)
			}
		}
		assertLabelWidth(t, line, "📍 Position")
	})
	t.Run("sample without accuracy", func(t *testing.T) {
		s := position.NewSample(1.5, 2.5, time.Now(), nil, "geoip")
		line, err := p.Position(s)
		if err != nil {
			t.Fatalf("failed to render position: %s", err)
		}
		if strings.Contains(line, "±") {
			t.Errorf("expected no accuracy in %q", line)
		}
	})
}

func TestPresenter_Address(t *testing.T) {
	p := testPresenter(t)
	tests := []struct {
		name   string
		result enrich.AddressResult
		want   string
	}{
		{"resolved", enrich.AddressResult{Text: "Sé, São Paulo"}, "Sé, São Paulo"},
		{"failed", enrich.AddressResult{Failed: &enrich.LookupFailed{Reason: enrich.ReasonAddressUnavailable}},
			enrich.ReasonAddressUnavailable},
		{"resolved address with placeholder", enrich.AddressResult{
			Text:    "neighbourhood not found, São Paulo",
			Address: geocode.Address{AddressFound: true, City: "São Paulo"},
		}, "neighbourhood not found, São Paulo"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			line, err := p.Address(tc.result)
			if err != nil {
				t.Fatalf("failed to render address: %s", err)
			}
			if !strings.HasSuffix(line, tc.want) {
				t.Errorf("expected %q to end with %q", line, tc.want)
			}
			assertLabelWidth(t, line, "🏠 Address")
		})
	}
}

func TestPresenter_PostalCode(t *testing.T) {
	p := testPresenter(t)
	tests := []struct {
		name   string
		result enrich.PostalResult
		want   string
	}{
		{"resolved", enrich.PostalResult{Code: "01002-000"}, "01002-000"},
		{"failed", enrich.PostalResult{Failed: &enrich.LookupFailed{Reason: enrich.ReasonPostalUnavailable}},
			enrich.ReasonPostalUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			line, err := p.PostalCode(tc.result)
			if err != nil {
				t.Fatalf("failed to render postal code: %s", err)
			}
			if !strings.HasSuffix(line, tc.want) {
				t.Errorf("expected %q to end with %q", line, tc.want)
			}
		})
	}
}

func TestPresenter_Unavailable(t *testing.T) {
	p := testPresenter(t)
	line, err := p.Unavailable(errors.New("gpsd connection lost"))
	if err != nil {
		t.Fatalf("failed to render failure: %s", err)
	}
	if !strings.HasSuffix(line, "gpsd connection lost") {
		t.Errorf("unexpected failure line: %q", line)
	}
}

func TestPresenter_Status(t *testing.T) {
	p := testPresenter(t)
	t.Run("status before the first fix", func(t *testing.T) {
		line, err := p.Status(StatusView{State: "subscribed", Epoch: 3, Connections: 1})
		if err != nil {
			t.Fatalf("failed to render status: %s", err)
		}
		if !strings.HasSuffix(line, "tracking subscribed, epoch 3, 1 connection(s)") {
			t.Errorf("unexpected status line: %q", line)
		}
	})
	t.Run("status with last fix", func(t *testing.T) {
		line, err := p.Status(StatusView{State: "unsubscribed", Epoch: 4, LastFix: time.Now().Add(-time.Hour)})
		if err != nil {
			t.Fatalf("failed to render status: %s", err)
		}
		if !strings.Contains(line, ", last fix ") {
			t.Errorf("expected last fix in status line: %q", line)
		}
	})
}

func TestPresenter_localized(t *testing.T) {
	p := testLocalizedPresenter(t, "pt-BR")
	t.Run("address placeholders are translated", func(t *testing.T) {
		line, err := p.Address(enrich.AddressResult{
			Text:    "neighbourhood not found, city not found",
			Address: geocode.Address{AddressFound: true},
		})
		if err != nil {
			t.Fatalf("failed to render address: %s", err)
		}
		if want := "Bairro não encontrado, Cidade não encontrada"; !strings.HasSuffix(line, want) {
			t.Errorf("expected %q to end with %q", line, want)
		}
		assertLabelWidth(t, line, "🏠 Endereço")
	})
	t.Run("resolved address parts are kept", func(t *testing.T) {
		line, err := p.Address(enrich.AddressResult{
			Text:    "Sé, city not found",
			Address: geocode.Address{AddressFound: true, Suburb: "Sé"},
		})
		if err != nil {
			t.Fatalf("failed to render address: %s", err)
		}
		if want := "Sé, Cidade não encontrada"; !strings.HasSuffix(line, want) {
			t.Errorf("expected %q to end with %q", line, want)
		}
	})
	t.Run("failure reasons are translated", func(t *testing.T) {
		tests := []struct {
			reason string
			want   string
		}{
			{enrich.ReasonAddressUnavailable, "Endereço indisponível"},
			{enrich.ReasonAddressNotFound, "Endereço não encontrado"},
		}
		for _, tc := range tests {
			line, err := p.Address(enrich.AddressResult{Failed: &enrich.LookupFailed{Reason: tc.reason}})
			if err != nil {
				t.Fatalf("failed to render address: %s", err)
			}
			if !strings.HasSuffix(line, tc.want) {
				t.Errorf("expected %q to end with %q", line, tc.want)
			}
		}
		line, err := p.PostalCode(enrich.PostalResult{Failed: &enrich.LookupFailed{Reason: enrich.ReasonPostalUnavailable}})
		if err != nil {
			t.Fatalf("failed to render postal code: %s", err)
		}
		if want := "CEP não encontrado"; !strings.HasSuffix(line, want) {
			t.Errorf("expected %q to end with %q", line, want)
		}
		assertLabelWidth(t, line, "📮 CEP")
	})
	t.Run("lookup results are not translated", func(t *testing.T) {
		line, err := p.PostalCode(enrich.PostalResult{Code: "01002-000"})
		if err != nil {
			t.Fatalf("failed to render postal code: %s", err)
		}
		if !strings.HasSuffix(line, "01002-000") {
			t.Errorf("expected %q to end with the postal code", line)
		}
	})
	t.Run("status line is translated", func(t *testing.T) {
		line, err := p.Status(StatusView{State: "subscribed", Epoch: 3, Connections: 1})
		if err != nil {
			t.Fatalf("failed to render status: %s", err)
		}
		if want := "rastreamento ativo, época 3, 1 conexão(ões)"; !strings.HasSuffix(line, want) {
			t.Errorf("expected %q to end with %q", line, want)
		}
	})
}

func TestPresenter_templateFuncs(t *testing.T) {
	p := testPresenter(t)
	t.Run("floatFormat truncates", func(t *testing.T) {
		if got := p.floatFormat(1.23456789, 4); got != "1.2345" {
			t.Errorf("expected 1.2345, got %s", got)
		}
		if got := p.floatFormat(-46.6331219, 6); got != "-46.633121" {
			t.Errorf("expected -46.633121, got %s", got)
		}
	})
	t.Run("since and localizedTime are not empty", func(t *testing.T) {
		ts := time.Now().Add(-time.Minute * 5)
		if p.since(ts) == "" {
			t.Error("expected humanized duration")
		}
		if p.localizedTime(ts) == "" {
			t.Error("expected localized time")
		}
	})
	t.Run("loc returns unknown values unchanged", func(t *testing.T) {
		if got := p.loc("invalid-unknown"); got != "invalid-unknown" {
			t.Errorf("expected invalid-unknown, got %s", got)
		}
	})
	t.Run("pad fills up to the label width", func(t *testing.T) {
		for _, label := range []string{"Status", "📍 Position", "⚠️ Unavailable"} {
			if w := runewidth.StringWidth(pad(label)); w < labelWidth {
				t.Errorf("expected %q to be padded to %d columns, got %d", label, labelWidth, w)
			}
		}
	})
}

func assertLabelWidth(t *testing.T, line, label string) {
	t.Helper()
	if !strings.HasPrefix(line, label) {
		t.Fatalf("expected %q to start with %q", line, label)
	}
	if w := runewidth.StringWidth(pad(label)); w != labelWidth {
		t.Errorf("expected label to be %d columns wide, got %d", labelWidth, w)
	}
}

func testPresenter(t *testing.T) *Presenter {
	t.Helper()
	return testLocalizedPresenter(t, "en")
}

func testLocalizedPresenter(t *testing.T, loc string) *Presenter {
	t.Helper()
	localizer, err := i18n.New(loc)
	if err != nil {
		t.Fatalf("failed to create localizer: %s", err)
	}
	p, err := New(language.Make(loc), localizer)
	if err != nil {
		t.Fatalf("failed to create presenter: %s", err)
	}
	return p
}
