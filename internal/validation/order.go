// Package validation содержит проверки входных данных заказа.
package validation

import (
	"net/url"
	"strings"
)

const (
	// MinQuantity — минимальное количество в одном заказе.
	MinQuantity = 1
	// MaxQuantity — максимальное количество в одном заказе.
	MaxQuantity = 1_000_000
)

// IsValidLink проверяет, что ссылка заказа — абсолютный http(s)-URL с хостом.
func IsValidLink(link string) bool {
	link = strings.TrimSpace(link)
	if link == "" {
		return false
	}

	u, err := url.Parse(link)
	if err != nil {
		return false
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	return u.Host != ""
}

// IsValidQuantity проверяет, что количество укладывается в допустимые границы.
func IsValidQuantity(quantity int) bool {
	return quantity >= MinQuantity && quantity <= MaxQuantity
}
