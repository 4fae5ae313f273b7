// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package locale holds the user-facing copy for the chat widget.
//
// The widget ships English and Russian catalogues (the original
// deployments were Russian-first). Embedders select a locale in the
// configuration; unknown locales fall back to English via language
// matching rather than exact string comparison, so "en-US" and
// "ru-RU" resolve sensibly.
package locale

import (
	"fmt"

	"golang.org/x/text/language"
)

// Catalog is the set of localized widget strings.
type Catalog struct {
	// Inline notices rendered in place of an assistant turn.
	WaitForReply   string
	RateLimited    string
	ServerError    string // takes the HTTP status code
	TransportError string

	// Gate copy.
	CaptchaPrompt         string
	CaptchaWrongAnswer    string
	CaptchaPlaceholder    string
	CaptchaReverify       string
	AgreementsTitle       string
	AgreementsContinue    string
	AgreementsIncomplete  string
	AgreementsPlaceholder string

	// Shell copy.
	InputPlaceholder string
	BusyPlaceholder  string
	HistoryCleared   string
}

// ServerErrorf formats the generic HTTP-error notice with the status.
func (c Catalog) ServerErrorf(status int) string {
	return fmt.Sprintf(c.ServerError, status)
}

var english = Catalog{
	WaitForReply:   "Please wait for the previous response.",
	RateLimited:    "Message limit exceeded. Please try again later.",
	ServerError:    "Server error: %d. Please try again.",
	TransportError: "Connection error. Please check your network and try again.",

	CaptchaPrompt:         "Please enter the characters from the image to continue.",
	CaptchaWrongAnswer:    "Incorrect answer. A new challenge has been loaded.",
	CaptchaPlaceholder:    "Complete the verification to continue",
	CaptchaReverify:       "Verification expired. Please complete the check again.",
	AgreementsTitle:       "Before we continue, please review and accept:",
	AgreementsContinue:    "Continue",
	AgreementsIncomplete:  "Please accept all agreements to continue.",
	AgreementsPlaceholder: "Accept the agreements to continue",

	InputPlaceholder: "Type your message...",
	BusyPlaceholder:  "Waiting for a response...",
	HistoryCleared:   "History cleared.",
}

var russian = Catalog{
	WaitForReply:   "Пожалуйста, подождите ответа на предыдущий вопрос.",
	RateLimited:    "Лимит сообщений исчерпан. Попробуйте позже.",
	ServerError:    "Ошибка сервера: %d. Попробуйте ещё раз.",
	TransportError: "Ошибка соединения. Проверьте сеть и попробуйте ещё раз.",

	CaptchaPrompt:         "Введите символы с картинки, чтобы продолжить.",
	CaptchaWrongAnswer:    "Неверный ответ. Загружена новая проверка.",
	CaptchaPlaceholder:    "Пройдите проверку, чтобы продолжить",
	CaptchaReverify:       "Проверка устарела. Пожалуйста, пройдите её снова.",
	AgreementsTitle:       "Прежде чем продолжить, примите условия:",
	AgreementsContinue:    "Продолжить",
	AgreementsIncomplete:  "Для продолжения примите все соглашения.",
	AgreementsPlaceholder: "Примите соглашения, чтобы продолжить",

	InputPlaceholder: "Введите сообщение...",
	BusyPlaceholder:  "Ожидание ответа...",
	HistoryCleared:   "История очищена.",
}

// supported lists catalogues in matcher priority order; the first entry
// is the fallback.
var (
	supported = []language.Tag{language.English, language.Russian}
	catalogs  = map[language.Tag]Catalog{
		language.English: english,
		language.Russian: russian,
	}
	matcher = language.NewMatcher(supported)
)

// Pick resolves a configured locale string ("en", "ru-RU", ...) to the
// closest shipped catalogue, defaulting to English.
func Pick(locale string) Catalog {
	tag, err := language.Parse(locale)
	if err != nil {
		return english
	}
	_, index, _ := matcher.Match(tag)
	return catalogs[supported[index]]
}
