// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package locale

import (
	"strings"
	"testing"
)

func TestPick_Matching(t *testing.T) {
	tests := []struct {
		name   string
		locale string
		want   Catalog
	}{
		{"exact english", "en", english},
		{"exact russian", "ru", russian},
		{"regional english", "en-US", english},
		{"regional russian", "ru-RU", russian},
		{"unknown falls back", "de", english},
		{"garbage falls back", "not-a-locale!!", english},
		{"empty falls back", "", english},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Pick(tt.locale)
			if got.WaitForReply != tt.want.WaitForReply {
				t.Errorf("Pick(%q) selected wrong catalogue", tt.locale)
			}
		})
	}
}

func TestServerErrorf_IncludesStatus(t *testing.T) {
	msg := Pick("en").ServerErrorf(502)
	if !strings.Contains(msg, "502") {
		t.Errorf("ServerErrorf(502) = %q, want status in message", msg)
	}
}

func TestCatalogs_NoEmptyStrings(t *testing.T) {
	for name, c := range map[string]Catalog{"en": english, "ru": russian} {
		for _, s := range []string{
			c.WaitForReply, c.RateLimited, c.ServerError, c.TransportError,
			c.CaptchaPrompt, c.CaptchaWrongAnswer, c.CaptchaPlaceholder, c.CaptchaReverify,
			c.AgreementsTitle, c.AgreementsContinue, c.AgreementsIncomplete, c.AgreementsPlaceholder,
			c.InputPlaceholder, c.BusyPlaceholder, c.HistoryCleared,
		} {
			if s == "" {
				t.Errorf("catalogue %s has an empty string", name)
			}
		}
	}
}
